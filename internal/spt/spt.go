// Package spt computes all-pairs equal-cost shortest paths over an
// internal/graph.Graph, excluding fake-route edges, and keeps a
// "fibbed" view that the solver's consumers read next-hops from.
//
// The default view is recomputed from scratch by Build; Update adds a
// single new destination to an already-built view without rerunning
// Dijkstra for every source, mirroring the original's incremental
// add_dest_to_graph / _update_paths_towards path.
package spt

import (
	"container/heap"
	"math"

	"github.com/fibbingctl/fibbingd/internal/graph"
)

// ShortestPath holds, for every source router, the distance to and
// the set of ECMP next-hops towards every other node — restricted to
// real (non-fake) edges, matching the original's "default" view.
type ShortestPath struct {
	g *graph.Graph

	// dist[src][dst] is the shortest real-route cost.
	dist map[string]map[string]int
	// nextHops[src][dst] is the set of first-hop neighbors of src
	// that lie on some shortest path to dst.
	nextHops map[string]map[string]map[string]bool

	// fibbed aliases the default view unless a caller has computed a
	// distinct fibbed topology (spec.md notes the original's fibbed
	// SPT computation was never completed and fell back to the
	// default view; Fibbed() below preserves that behavior exactly).
	fibbed *ShortestPath
}

// Build computes the default (non-fake) all-pairs ECMP shortest paths
// over g. The returned ShortestPath's Fibbed() aliases itself until
// SetFibbed is called with a distinct view.
func Build(g *graph.Graph) *ShortestPath {
	sp := &ShortestPath{
		g:        g,
		dist:     make(map[string]map[string]int),
		nextHops: make(map[string]map[string]map[string]bool),
	}
	for _, n := range g.Routers() {
		sp.dist[n.ID], sp.nextHops[n.ID] = dijkstraFrom(g, n.ID)
	}
	sp.fibbed = sp
	return sp
}

// Fibbed returns the view solver output should be checked against for
// "what routers will actually compute." Absent an explicit override it
// is identical to the default view, matching the original's stubbed
// __fibbed_spt_for_src.
func (sp *ShortestPath) Fibbed() *ShortestPath {
	return sp.fibbed
}

// SetFibbed overrides the fibbed view with a distinct computation; nil
// resets it to alias the default view again.
func (sp *ShortestPath) SetFibbed(fibbed *ShortestPath) {
	if fibbed == nil {
		sp.fibbed = sp
		return
	}
	sp.fibbed = fibbed
}

// DefaultCost returns the shortest real-route cost from src to dst,
// and false if dst is unreachable from src — the original's
// default_cost never raises, it returns an explicit not-found signal
// instead.
func (sp *ShortestPath) DefaultCost(src, dst string) (int, bool) {
	if src == dst {
		return 0, true
	}
	m, ok := sp.dist[src]
	if !ok {
		return 0, false
	}
	c, ok := m[dst]
	return c, ok
}

// NextHops returns the ECMP set of first-hop neighbors of src on some
// shortest path to dst.
func (sp *ShortestPath) NextHops(src, dst string) []string {
	if src == dst {
		return nil
	}
	set, ok := sp.nextHops[src][dst]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(set))
	for nh := range set {
		out = append(out, nh)
	}
	return out
}

// DefaultPaths enumerates every distinct ECMP shortest path from src
// to dst, each as the ordered list of node IDs from src to dst
// inclusive. Dijkstra shortest-path trees towards a fixed destination
// are acyclic, so the recursive expansion below always terminates.
// Used by the solver's bound-initialization and merge-eligibility
// checks, which need to inspect whole paths rather than just first
// hops.
func (sp *ShortestPath) DefaultPaths(src, dst string) [][]string {
	if src == dst {
		return [][]string{{src}}
	}
	nhs := sp.NextHops(src, dst)
	if len(nhs) == 0 {
		return nil
	}
	var out [][]string
	for _, nh := range nhs {
		for _, rest := range sp.DefaultPaths(nh, dst) {
			path := append([]string{src}, rest...)
			out = append(out, path)
		}
	}
	return out
}

type heapItem struct {
	dist int
	node string
	// seq breaks cost ties deterministically (oldest-inserted first),
	// matching the original's monotonic tie-break counter on its
	// heapq entries.
	seq int
}

type pq []heapItem

func (p pq) Len() int { return len(p) }
func (p pq) Less(i, j int) bool {
	if p[i].dist != p[j].dist {
		return p[i].dist < p[j].dist
	}
	return p[i].seq < p[j].seq
}
func (p pq) Swap(i, j int)       { p[i], p[j] = p[j], p[i] }
func (p *pq) Push(x interface{}) { *p = append(*p, x.(heapItem)) }
func (p *pq) Pop() interface{} {
	old := *p
	n := len(old)
	item := old[n-1]
	*p = old[:n-1]
	return item
}

// dijkstraFrom computes single-source ECMP shortest paths from src
// over real (non-fake) edges only, returning the distance map and,
// for every reachable node, the set of first-hop neighbors of src that
// lie on some shortest path to it.
func dijkstraFrom(g *graph.Graph, src string) (map[string]int, map[string]map[string]bool) {
	dist := map[string]int{src: 0}
	nh := map[string]map[string]bool{src: {}}
	seen := map[string]int{src: 0}

	h := &pq{{dist: 0, node: src, seq: 0}}
	heap.Init(h)
	seq := 1

	for h.Len() > 0 {
		cur := heap.Pop(h).(heapItem)
		if _, done := dist[cur.node]; done && cur.node != src {
			continue
		}
		dist[cur.node] = cur.dist

		for _, w := range realSuccessors(g, cur.node) {
			metric, ok := realMetric(g, cur.node, w)
			if !ok {
				continue
			}
			vw := cur.dist + metric
			sw, known := seen[w]
			switch {
			case !known || vw < sw:
				seen[w] = vw
				heap.Push(h, heapItem{dist: vw, node: w, seq: seq})
				seq++
				if cur.node == src {
					nh[w] = map[string]bool{w: true}
				} else {
					nh[w] = copySet(nh[cur.node])
				}
			case vw == sw:
				if nh[w] == nil {
					nh[w] = map[string]bool{}
				}
				var add map[string]bool
				if cur.node == src {
					add = map[string]bool{w: true}
				} else {
					add = nh[cur.node]
				}
				for k := range add {
					nh[w][k] = true
				}
			}
		}
	}
	delete(nh, src)
	return dist, nh
}

func copySet(m map[string]bool) map[string]bool {
	out := make(map[string]bool, len(m))
	for k := range m {
		out[k] = true
	}
	return out
}

func realSuccessors(g *graph.Graph, id string) []string {
	var out []string
	for _, dst := range g.Successors(id) {
		if g.IsRealRoute(id, dst) {
			out = append(out, dst)
		}
	}
	return out
}

func realMetric(g *graph.Graph, src, dst string) (int, bool) {
	best := math.MaxInt32
	found := false
	for _, e := range g.EdgesBetween(src, dst) {
		if e.Kind.IsFake() {
			continue
		}
		found = true
		if e.Metric < best {
			best = e.Metric
		}
	}
	return best, found
}

// Update adds dest to sp's distance and next-hop tables in place,
// without rerunning Dijkstra for every source; it does not touch the
// graph, so the caller adds dest and its edges there itself. edgeSrcs
// names the nodes that have an edge of the given metric to dest —
// mirroring add_dest_to_graph / _update_paths_towards in the original.
func (sp *ShortestPath) Update(dest string, edgeSrcs []string, metric int) {
	sp.dist[dest] = map[string]int{dest: 0}
	sp.nextHops[dest] = map[string]map[string]bool{}

	for _, n := range sp.g.Routers() {
		if n.ID == dest {
			continue
		}
		best := math.MaxInt32
		var bestNH map[string]bool
		for _, s := range edgeSrcs {
			c, ok := sp.DefaultCost(n.ID, s)
			if !ok {
				continue
			}
			total := c + metric
			switch {
			case total < best:
				best = total
				if n.ID == s {
					// n is itself one of the new edge sources: the path to
					// dest is the direct synthesized edge, so dest is its own
					// first hop.
					bestNH = map[string]bool{dest: true}
				} else {
					bestNH = copySet(sp.nextHops[n.ID][s])
				}
			case total == best:
				var add map[string]bool
				if n.ID == s {
					add = map[string]bool{dest: true}
				} else {
					add = sp.nextHops[n.ID][s]
				}
				for k := range add {
					bestNH[k] = true
				}
			}
		}
		if bestNH != nil {
			if sp.dist[n.ID] == nil {
				sp.dist[n.ID] = map[string]int{}
			}
			sp.dist[n.ID][dest] = best
			sp.nextHops[n.ID][dest] = bestNH
		}
	}
}
