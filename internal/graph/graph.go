// Package graph implements the IGP graph: the directed multigraph of
// routers, prefixes, and controller instances that the LSDB rebuilds
// from the current LSA set and that the solver reads its topology
// from.
//
// A node is either a router (identified by its OSPF router ID), a
// prefix (identified by its CIDR string), or a controller instance
// (identified by the controller's router ID, before contraction merges
// all controller instances that share a configured base network into
// a single logical node). An edge is a router-link (between two
// routers, from an OSPF RouterLSA link), a real-route (router to
// prefix, from an AS-external LSA route not sourced by a controller
// instance), or a fake-route (a lie injected by the solver, tagged
// global or local).
package graph

import "net"

// NodeKind distinguishes the three kinds of node the graph carries.
type NodeKind int

const (
	// Router is an OSPF router, keyed by router ID.
	Router NodeKind = iota
	// Prefix is a reachable destination, keyed by CIDR string.
	Prefix
	// Controller is a fibbing controller instance, keyed by router ID
	// until contraction folds same-base-network instances together.
	Controller
)

func (k NodeKind) String() string {
	switch k {
	case Router:
		return "router"
	case Prefix:
		return "prefix"
	case Controller:
		return "controller"
	default:
		return "unknown"
	}
}

// EdgeKind distinguishes router-links, real routes, and the two
// flavors of fake route the solver can emit.
type EdgeKind int

const (
	// RouterLink is a point-to-point or transit adjacency between
	// two routers, carried by a RouterLSA link.
	RouterLink EdgeKind = iota
	// RealRoute is a genuine router-to-prefix reachability edge.
	RealRoute
	// FakeRouteGlobal is a lie visible network-wide (a global fake
	// node's route to a destination).
	FakeRouteGlobal
	// FakeRouteLocal is a lie visible only to one router (a local
	// lie advertised directly on a link).
	FakeRouteLocal
)

func (k EdgeKind) String() string {
	switch k {
	case RouterLink:
		return "router-link"
	case RealRoute:
		return "real-route"
	case FakeRouteGlobal:
		return "fake-route-global"
	case FakeRouteLocal:
		return "fake-route-local"
	default:
		return "unknown"
	}
}

// IsFake reports whether the edge kind was injected by the solver
// rather than observed from a real LSA.
func (k EdgeKind) IsFake() bool {
	return k == FakeRouteGlobal || k == FakeRouteLocal
}

// Node is a single vertex of the IGP graph.
type Node struct {
	Kind NodeKind
	ID   string
	// PrefixNet is populated when Kind == Prefix.
	PrefixNet *net.IPNet
	// RouterID is populated when Kind == Router or Kind == Controller.
	RouterID net.IP
}

// Edge is a directed connection between two nodes, carrying the
// metric OSPF would use for SPF computation.
type Edge struct {
	Src, Dst string
	Kind     EdgeKind
	Metric   int
	// SrcAddress is the advertising router's interface address on
	// this link, carried over from the originating RouterLSA link so
	// that forwarding-address lookups have a stable public address to
	// report. Nil when the edge carries no such annotation (fake and
	// real-route edges).
	SrcAddress net.IP
	// DstAddress is dst's own interface address on this link, resolved
	// from the private-address store once dst's side of the
	// adjacency is known. This is the address forwarding_address_of
	// reports when asked for the hop actually used to reach dst, as
	// opposed to SrcAddress which names the advertising router itself.
	// Nil until annotated.
	DstAddress net.IP
}

// Graph is a directed multigraph keyed by node ID string. It is not
// safe for concurrent use without external synchronization — callers
// (the LSDB rebuild path) own a single writer at a time.
type Graph struct {
	nodes map[string]*Node
	// out[src][dst] holds every parallel edge from src to dst; OSPF
	// graphs rarely have true parallels but contraction can produce
	// them when two controller instances share a neighbor.
	out map[string]map[string][]*Edge
	in  map[string]map[string][]*Edge
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		nodes: make(map[string]*Node),
		out:   make(map[string]map[string][]*Edge),
		in:    make(map[string]map[string][]*Edge),
	}
}

// AddRouter inserts a router node if absent; it is a no-op if the
// router ID is already present, matching the original's idempotent
// add_node semantics.
func (g *Graph) AddRouter(id net.IP) {
	g.addNode(&Node{Kind: Router, ID: id.String(), RouterID: id})
}

// AddController inserts a controller-instance node.
func (g *Graph) AddController(id net.IP) {
	g.addNode(&Node{Kind: Controller, ID: id.String(), RouterID: id})
}

// AddPrefix inserts a prefix node.
func (g *Graph) AddPrefix(n *net.IPNet) {
	g.addNode(&Node{Kind: Prefix, ID: n.String(), PrefixNet: n})
}

// AddSynthesizedPrefix inserts a placeholder prefix node keyed by id
// with no backing CIDR, used by the solver to wire in a requirement
// destination that is not yet reachable through any real LSA (spec.md
// §4.4 Stage 1's "destination absent from G" boundary case).
func (g *Graph) AddSynthesizedPrefix(id string) {
	g.addNode(&Node{Kind: Prefix, ID: id})
}

func (g *Graph) addNode(n *Node) {
	if _, ok := g.nodes[n.ID]; ok {
		return
	}
	g.nodes[n.ID] = n
	g.out[n.ID] = make(map[string][]*Edge)
	g.in[n.ID] = make(map[string][]*Edge)
}

// Node returns the node with the given ID, or nil if absent.
func (g *Graph) Node(id string) *Node {
	return g.nodes[id]
}

// Nodes returns every node currently in the graph, in no particular
// order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, n)
	}
	return out
}

// Routers returns every router node, matching the original's
// `graph.routers` property.
func (g *Graph) Routers() []*Node {
	var out []*Node
	for _, n := range g.nodes {
		if n.Kind == Router {
			out = append(out, n)
		}
	}
	return out
}

// AddEdge adds a directed edge of the given kind between two existing
// nodes. The caller must have already added src and dst.
func (g *Graph) AddEdge(src, dst string, kind EdgeKind, metric int) {
	g.addEdge(&Edge{Src: src, Dst: dst, Kind: kind, Metric: metric})
}

// AddRouterLinkEdge adds a router-link edge annotated with the
// advertising router's interface address, used by
// ForwardingAddressOf to report a stable public address.
func (g *Graph) AddRouterLinkEdge(src, dst string, metric int, srcAddress net.IP) {
	g.addEdge(&Edge{Src: src, Dst: dst, Kind: RouterLink, Metric: metric, SrcAddress: srcAddress})
}

func (g *Graph) addEdge(e *Edge) {
	g.out[e.Src][e.Dst] = append(g.out[e.Src][e.Dst], e)
	g.in[e.Dst][e.Src] = append(g.in[e.Dst][e.Src], e)
}

// RemoveEdgesBetween drops every edge from src to dst, regardless of
// kind. Used when an LSA withdrawal removes a link wholesale.
func (g *Graph) RemoveEdgesBetween(src, dst string) {
	delete(g.out[src], dst)
	delete(g.in[dst], src)
}

// RemoveNode drops a node and every edge touching it.
func (g *Graph) RemoveNode(id string) {
	for dst := range g.out[id] {
		delete(g.in[dst], id)
	}
	for src := range g.in[id] {
		delete(g.out[src], id)
	}
	delete(g.out, id)
	delete(g.in, id)
	delete(g.nodes, id)
}

// Successors returns the IDs reachable by a single edge from id.
func (g *Graph) Successors(id string) []string {
	var out []string
	for dst := range g.out[id] {
		out = append(out, dst)
	}
	return out
}

// Predecessors returns the IDs with a single edge reaching id.
func (g *Graph) Predecessors(id string) []string {
	var out []string
	for src := range g.in[id] {
		out = append(out, src)
	}
	return out
}

// EdgesBetween returns every parallel edge from src to dst.
func (g *Graph) EdgesBetween(src, dst string) []*Edge {
	return g.out[src][dst]
}

// RealNeighbors returns the successors of id reachable via a
// non-fake edge, matching the original's `real_neighbors`.
func (g *Graph) RealNeighbors(id string) []string {
	var out []string
	for dst, edges := range g.out[id] {
		for _, e := range edges {
			if !e.Kind.IsFake() {
				out = append(out, dst)
				break
			}
		}
	}
	return out
}

// IsRealRoute reports whether there is at least one non-fake edge
// from src to dst.
func (g *Graph) IsRealRoute(src, dst string) bool {
	for _, e := range g.out[src][dst] {
		if !e.Kind.IsFake() {
			return true
		}
	}
	return false
}

// Metric returns the lowest metric among src->dst edges and whether
// any edge exists at all.
func (g *Graph) Metric(src, dst string) (int, bool) {
	edges := g.out[src][dst]
	if len(edges) == 0 {
		return 0, false
	}
	best := edges[0].Metric
	for _, e := range edges[1:] {
		if e.Metric < best {
			best = e.Metric
		}
	}
	return best, true
}

// OutDegree returns the number of distinct successors of id.
func (g *Graph) OutDegree(id string) int {
	return len(g.out[id])
}

// InDegree returns the number of distinct predecessors of id.
func (g *Graph) InDegree(id string) int {
	return len(g.in[id])
}

// ExportEdges returns a flat copy of every edge in the graph, matching
// the original's `export_edges` used to hand a stable snapshot to the
// diff routine.
func (g *Graph) ExportEdges() []*Edge {
	var out []*Edge
	for _, dsts := range g.out {
		for _, edges := range dsts {
			out = append(out, edges...)
		}
	}
	return out
}

// Contract merges every node in group into target: edges touching any
// member of group are re-pointed at target (self-loops dropped), and
// every other member of group is removed. If target is not yet in the
// graph, it is first added as a copy of the first member's node record
// under the new ID. Used to fold multiple controller-instance nodes
// sharing a base network into one logical controller node before
// handing the graph to the solver.
func (g *Graph) Contract(target string, group []string) {
	if g.nodes[target] == nil && len(group) > 0 && g.nodes[group[0]] != nil {
		n := *g.nodes[group[0]]
		n.ID = target
		g.addNode(&n)
	}
	for _, member := range group {
		if member == target {
			continue
		}
		for dst, edges := range g.out[member] {
			if dst == target {
				continue
			}
			for _, e := range edges {
				g.AddEdge(target, dst, e.Kind, e.Metric)
			}
		}
		for src, edges := range g.in[member] {
			if src == target {
				continue
			}
			for _, e := range edges {
				g.AddEdge(src, target, e.Kind, e.Metric)
			}
		}
		g.RemoveNode(member)
	}
}

// Difference returns the edges present in a but absent from b, keyed
// by (src, dst, kind) — used by the LSDB to compute add/remove sets
// between the previous and rebuilt graph.
func Difference(a, b *Graph) []*Edge {
	seen := make(map[[3]string]bool)
	for _, dsts := range b.out {
		for _, edges := range dsts {
			for _, e := range edges {
				seen[[3]string{e.Src, e.Dst, e.Kind.String()}] = true
			}
		}
	}
	var out []*Edge
	for _, dsts := range a.out {
		for _, edges := range dsts {
			for _, e := range edges {
				if !seen[[3]string{e.Src, e.Dst, e.Kind.String()}] {
					out = append(out, e)
				}
			}
		}
	}
	return out
}

// Copy returns a deep-enough copy of g suitable for diffing against
// future rebuilds without aliasing the original's slices.
func (g *Graph) Copy() *Graph {
	cp := New()
	for _, n := range g.nodes {
		nc := *n
		cp.nodes[n.ID] = &nc
		cp.out[n.ID] = make(map[string][]*Edge)
		cp.in[n.ID] = make(map[string][]*Edge)
	}
	for src, dsts := range g.out {
		for dst, edges := range dsts {
			for _, e := range edges {
				ec := *e
				cp.out[src][dst] = append(cp.out[src][dst], &ec)
				cp.in[dst][src] = append(cp.in[dst][src], &ec)
			}
		}
	}
	return cp
}
