// Package merger implements the solver core: given the current IGP
// graph/default-SPT view and a set of per-destination forwarding
// requirements (DAGs), it computes the minimal set of fake LSAs whose
// injection makes every unmodified router's real OSPF computation
// match its required next-hops.
//
// The algorithm follows the original's eight-stage shape: synthesize
// the destination into the graph if it isn't there yet and complete
// the requirement DAG against the default SPT, place candidate fake
// nodes according to the configured Policy, seed next-hop/ECMP
// dependency bookkeeping, compute initial lower/upper cost bounds per
// node, propagate those bounds outward from the destination in
// dynamic highest-delta-first order with loop detection (downgrading
// a node to a local lie rather than failing outright when a bound
// cannot widen), merge adjacent global fakes along the DAG with an
// undo log, drop any fake left redundant by the merge, and finally
// emit one LSA per surviving fake.
package merger

import (
	"container/heap"
	"math"
	"sort"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/fibbingctl/fibbingd/internal/graph"
	"github.com/fibbingctl/fibbingd/internal/igpview"
)

// Policy selects how aggressively the solver places candidate fake
// nodes, matching the original's three concrete Merger subclasses.
type Policy int

const (
	// PolicyFull considers every multi-egress router in the
	// requirement DAG a candidate for a fake node, even ones whose
	// default next-hops already satisfy the requirement (FullMerger).
	PolicyFull Policy = iota
	// PolicyPartial only places a fake where the required next-hop
	// set differs from the default one (PartialMerger).
	PolicyPartial
	// PolicyPartialECMP additionally forces a fake whenever the
	// requirement still names more than one next hop, since a real
	// OSPF ECMP tie can't be pruned down to a single survivor without
	// a lie even if the required set is a subset of the default one
	// (PartialECMPMerger).
	PolicyPartialECMP
)

// newEdgeMetric is the cost advertised for a synthesized edge from one
// of dagSourcesFor's source nodes towards a requirement destination
// not yet present in the graph (spec.md §4.4 Stage 1, "destination
// absent from G").
const newEdgeMetric = 100000

// LSA is one fake advertisement the solver wants injected: a global
// lie is a ghost router reachable at Cost hops from Node advertising
// reachability to Dest via NH; a local lie overrides Node's own
// computation directly and carries a negative Cost whose absolute
// value is the private-address index the southbound side should use
// (matching the original's LocalLie/GlobalLie constructors).
type LSA struct {
	Node string
	NH   string
	Cost int
	Dest string
}

// GlobalLie builds the LSA a ghost router at cost Cost from Node would
// advertise for Dest via next hop NH.
func GlobalLie(dest string, cost int, nh, node string) LSA {
	return LSA{Node: node, NH: nh, Cost: cost, Dest: dest}
}

// LocalLie builds the LSA that overrides edgeSrc's own computation for
// prefix, routing it via edgeDst, using ipIndex as the private-address
// selector the southbound side resolves.
func LocalLie(prefix, edgeSrc, edgeDst string, ipIndex int) LSA {
	return LSA{Node: edgeSrc, NH: edgeDst, Cost: -ipIndex, Dest: prefix}
}

// Requirement is one destination's forwarding DAG: for every router
// present as a key, Successors names the next hops that router's
// traffic toward Dest must take. Routers absent from Successors are
// unconstrained and keep their default next hop.
type Requirement struct {
	Dest       string
	Successors map[string][]string
}

// solveNode is the per-router working state for one destination's
// solve pass.
type solveNode struct {
	id string

	defaultNH map[string]bool // original_nhs: default-view ECMP ties towards dest
	dagSucc   map[string]bool // the completed DAG's successor set, fixed once prepare() returns
	required  map[string]bool // forced_nhs: shrunk by placement/merge as fakes get folded away

	needsFake bool
	local     bool // downgraded from global to a local lie
	lb, ub    int
}

func setEqual(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}

func toSet(ss []string) map[string]bool {
	m := make(map[string]bool, len(ss))
	for _, s := range ss {
		m[s] = true
	}
	return m
}

func copySet(m map[string]bool) map[string]bool {
	out := make(map[string]bool, len(m))
	for k := range m {
		out[k] = true
	}
	return out
}

// Solve runs the eight-stage pipeline for every requirement and
// returns the union of fake LSAs needed to satisfy all of them. A
// requirement whose DAG cannot be embedded in the graph (an edge the
// DAG names is absent from view.Graph) is logged and skipped rather
// than aborting the whole solve, matching spec.md's "unsolvable
// requirement" error kind.
func Solve(view *igpview.View, policy Policy, reqs []Requirement, log *logrus.Entry) []LSA {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	allDests := make(map[string]bool, len(reqs))
	for _, r := range reqs {
		allDests[r.Dest] = true
	}

	var out []LSA
	for _, req := range reqs {
		lsas, err := solveOne(view, policy, req, allDests, log)
		if err != nil {
			log.WithError(err).WithField("dest", req.Dest).Warn("merger: skipping unsolvable requirement")
			continue
		}
		out = append(out, lsas...)
	}
	return out
}

// solver bundles the per-destination state the original threads
// through Merger's instance attributes (self.g, self._p, self.dag,
// self.ecmp, self.nodes) so the stage methods below read naturally as
// a single object instead of five parallel maps passed everywhere.
type solver struct {
	view     *igpview.View
	dest     string
	allDests map[string]bool
	log      *logrus.Entry

	nodes   map[string]*solveNode
	dagPred map[string][]string    // DAG predecessors, built from dagSucc
	ecmp    map[string]map[string]bool // ecmp[n] = set of nodes whose bound must move in lockstep with n's
}

func solveOne(view *igpview.View, policy Policy, req Requirement, allDests map[string]bool, log *logrus.Entry) ([]LSA, error) {
	s := &solver{
		view:     view,
		dest:     req.Dest,
		allDests: allDests,
		log:      log,
		ecmp:     make(map[string]map[string]bool),
	}
	if err := s.prepare(req); err != nil {
		return nil, err
	}
	if !solvable(view.Graph, req) {
		return nil, errors.Errorf("merger: DAG for %s is not embeddable in the graph", req.Dest)
	}

	s.placeFakeNodes(policy)
	s.initializeFakeNodes()
	s.propagateLB(increaseLB, s.downgradeToLocal, nil)
	s.mergeFakeNodes()
	s.removeRedundant()

	return s.emit(), nil
}

// prepare (stage 1) synthesizes the destination into the graph and
// default SPT if it isn't already present, builds one solveNode per
// router, and completes the requirement's DAG with the default SPT for
// every router the requirement left unconstrained.
func (s *solver) prepare(req Requirement) error {
	if s.view.Graph.Node(req.Dest) == nil {
		s.synthesizeDestination(req)
	}

	s.nodes = make(map[string]*solveNode)
	for _, r := range s.view.Graph.Routers() {
		if r.ID == req.Dest {
			continue
		}
		sn := &solveNode{id: r.ID}
		defaultNH := toSet(s.view.SPT.NextHops(r.ID, req.Dest))
		sn.defaultNH = defaultNH
		if req.Successors != nil {
			if succ, ok := req.Successors[r.ID]; ok {
				sn.dagSucc = toSet(succ)
				sn.required = toSet(succ)
			}
		}
		if sn.dagSucc == nil {
			sn.dagSucc = copySet(defaultNH)
			sn.required = copySet(defaultNH)
		}
		s.nodes[r.ID] = sn
	}

	s.dagPred = buildDAGPredecessors(s.nodes)
	return nil
}

// synthesizeDestination handles spec.md §8's "destination absent from
// G" boundary case: it adds dest as a placeholder prefix node, wires a
// synthesized fake-route-global edge at newEdgeMetric from every
// source that should reach it, and folds dest into the default SPT via
// Update — mirroring the original's add_dest_to_graph/
// _update_paths_towards, called once on the real graph with the
// requirement DAG's own predecessors of dest as edge sources.
func (s *solver) synthesizeDestination(req Requirement) {
	srcs := dagSourcesFor(req)
	if len(srcs) == 0 {
		return
	}

	s.view.Graph.AddSynthesizedPrefix(req.Dest)
	for _, src := range srcs {
		s.view.Graph.AddEdge(src, req.Dest, graph.FakeRouteGlobal, newEdgeMetric)
	}
	s.view.SPT.Update(req.Dest, srcs, newEdgeMetric)
}

// dagSourcesFor returns the routers that should get a synthesized edge
// towards a not-yet-present dest: the requirement's raw (pre-
// completion) predecessors of dest if any already name it directly,
// otherwise the raw DAG's own sinks — the nodes with nowhere further
// to go within the requirement, whose traffic must be heading out
// through dest. This mirrors the original's two-step
// add_dest_to_graph: dest is first wired into the DAG itself off the
// DAG's sinks, and those same nodes are then reused as the edge
// sources when wiring dest into the real graph.
func dagSourcesFor(req Requirement) []string {
	var direct []string
	for src, succs := range req.Successors {
		for _, dst := range succs {
			if dst == req.Dest {
				direct = append(direct, src)
				break
			}
		}
	}
	if len(direct) > 0 {
		sort.Strings(direct)
		return direct
	}

	hasOut := map[string]bool{}
	allNodes := map[string]bool{}
	for src, succs := range req.Successors {
		allNodes[src] = true
		if len(succs) > 0 {
			hasOut[src] = true
		}
		for _, dst := range succs {
			allNodes[dst] = true
		}
	}
	var sinks []string
	for n := range allNodes {
		if !hasOut[n] {
			sinks = append(sinks, n)
		}
	}
	sort.Strings(sinks)
	return sinks
}

// buildDAGPredecessors indexes the completed DAG's successor sets by
// target, so fixedNodesFor/removeRedundant/computeInitialLB-style
// upward walks don't need to scan every node each time.
func buildDAGPredecessors(nodes map[string]*solveNode) map[string][]string {
	pred := make(map[string][]string)
	for id, sn := range nodes {
		for nh := range sn.dagSucc {
			pred[nh] = append(pred[nh], id)
		}
	}
	return pred
}

// solvable checks that every edge the requirement names actually
// exists in the graph, matching the original's DAG-embeddability
// check.
func solvable(g *graph.Graph, req Requirement) bool {
	for src, succs := range req.Successors {
		for _, dst := range succs {
			if len(g.EdgesBetween(src, dst)) == 0 {
				return false
			}
		}
	}
	return true
}

// placeFakeNodes (stage 2) decides which routers need a fake
// placement at all, per the configured Policy. Routers with at most
// one outgoing graph edge are never candidates (a single-egress router
// can't be made to pick a different next hop by a lie cheaper than
// that one edge). PolicyFull additionally pre-seeds the penultimate
// nodes (the DAG's direct predecessors of dest) with a tight [lb, lb+2)
// range, matching FullMerger's place_fake_nodes.
func (s *solver) placeFakeNodes(policy Policy) {
	penultimate := map[string]bool{}
	for _, p := range s.dagPred[s.dest] {
		penultimate[p] = true
	}

	for id, sn := range s.nodes {
		if s.view.Graph.OutDegree(id) <= 1 {
			continue
		}
		switch policy {
		case PolicyFull:
			sn.needsFake = true
			if penultimate[id] {
				if c, ok := s.view.SPT.DefaultCost(id, s.dest); ok {
					sn.lb = c - 1
					sn.ub = sn.lb + 2
				}
			}
		case PolicyPartialECMP:
			sn.needsFake = !setEqual(sn.required, sn.defaultNH) || len(sn.required) > 1
			if !sn.needsFake {
				sn.required = map[string]bool{}
			}
		default: // PolicyPartial
			sn.needsFake = !setEqual(sn.required, sn.defaultNH)
			if !sn.needsFake {
				sn.required = map[string]bool{}
			}
		}
	}
}

// initializeFakeNodes (stages 3-4) seeds ECMP dependency bookkeeping
// and each fake-needing node's initial [lb, ub) range.
func (s *solver) initializeFakeNodes() {
	s.initializeECMPDeps()
	s.computeInitialLB()
	s.computeInitialUB()
}

// initializeECMPDeps (stage 3) walks every node whose completed DAG
// still names more than one required next hop. A node that already
// carries its own fake self-registers (its own lb alone governs every
// one of its ties). Otherwise it inspects every default ECMP path
// towards dest: if only some of those paths pass through a fake
// further out, this node can't stay ECMP-free and is forced to get its
// own fake; if all of them do, the first fake node encountered on each
// path is registered as an ECMP dependency of every other such node, so
// widening one later in propagateLB widens them all in lockstep.
func (s *solver) initializeECMPDeps() {
	for n, sn := range s.nodes {
		if len(sn.dagSucc) <= 1 {
			continue
		}
		if sn.needsFake {
			s.ensureECMP(n)
			s.ecmp[n][n] = true
			continue
		}

		paths := s.view.SPT.DefaultPaths(n, s.dest)
		var firstFakePerPath []string
		for _, p := range paths {
			for _, hop := range p[:len(p)-1] {
				hn := s.nodes[hop]
				if hn != nil && hn.needsFake {
					firstFakePerPath = append(firstFakePerPath, hop)
					break
				}
			}
		}
		switch {
		case len(firstFakePerPath) == 0:
			// no downstream fake on any path: nothing to depend on
		case len(firstFakePerPath) < len(paths):
			s.log.WithField("node", n).Debug("merger: ECMP node has a fake on only some paths, forcing its own fake")
			sn.needsFake = true
		default:
			for _, fake := range firstFakePerPath {
				s.ensureECMP(fake)
				for _, other := range firstFakePerPath {
					s.ecmp[fake][other] = true
				}
			}
		}
	}
}

func (s *solver) ensureECMP(id string) {
	if s.ecmp[id] == nil {
		s.ecmp[id] = map[string]bool{}
	}
}

// computeInitialLB (stage 4a) walks upward from dest's direct graph
// predecessors; the first global-fake-holding node found on each
// branch gets its lb computed by initialLBOf, and the walk does not
// continue past it.
func (s *solver) computeInitialLB() {
	visited := map[string]bool{}
	toVisit := map[string]bool{}
	for _, p := range s.view.Graph.Predecessors(s.dest) {
		toVisit[p] = true
	}
	for len(toVisit) > 0 {
		var n string
		for k := range toVisit {
			n = k
			break
		}
		delete(toVisit, n)
		if visited[n] {
			continue
		}
		visited[n] = true

		sn := s.nodes[n]
		if sn == nil {
			continue
		}
		if sn.needsFake {
			if sn.lb == 0 {
				sn.lb = s.initialLBOf(n)
			}
			continue
		}
		for _, p := range s.view.Graph.Predecessors(n) {
			toVisit[p] = true
		}
	}
}

// initialLBOf computes node's initial lower bound from its physical
// neighbors' default paths towards dest: among neighbors that are not
// themselves a requirement destination, don't carry a fake of their
// own, and aren't already pointed at node by the DAG, it looks for one
// whose shortest path to dest never passes back through node and never
// routes via another fake before reaching dest ("a pure path"), and
// takes the largest resulting (cost(nei,dest) - cost(nei,node)) across
// all such neighbors, minus one when node's own fake would be
// redundant with that neighbor's (dag_include_spt(node, nei)).
func (s *solver) initialLBOf(node string) int {
	lb := 0
	for _, nei := range s.view.Graph.Successors(node) {
		if s.allDests[nei] {
			continue
		}
		neiNode := s.nodes[nei]
		if neiNode == nil || neiNode.needsFake {
			continue
		}
		if neiNode.dagSucc[node] {
			continue
		}

		paths := s.view.SPT.DefaultPaths(nei, s.dest)
		if len(paths) == 0 {
			continue
		}
		hasPurePath := false
		nodeInSPT := false
		for _, p := range paths {
			isPure := true
			for _, hop := range p[:len(p)-1] {
				if hop == node {
					nodeInSPT = true
					break
				}
				hn := s.nodes[hop]
				if hn != nil && hn.needsFake {
					isPure = false
					break
				}
			}
			if nodeInSPT {
				break
			}
			if isPure {
				hasPurePath = true
			}
		}
		if nodeInSPT || !hasPurePath {
			continue
		}

		costToDest, okA := s.view.SPT.DefaultCost(nei, s.dest)
		costToNode, okB := s.view.SPT.DefaultCost(nei, node)
		if !okA || !okB {
			continue
		}
		neiLB := costToDest - costToNode
		if node != nei && s.dagIncludeSPT(node, nei) {
			neiLB--
		}
		if neiLB > lb {
			lb = neiLB
		}
	}
	return lb
}

// computeInitialUB (stage 4b) gives every fake-needing node still at
// its zero-value ub the cost of its own unmodified default path to
// dest, the widest a lie from that node could ever need to claim.
func (s *solver) computeInitialUB() {
	for id, sn := range s.nodes {
		if !sn.needsFake || sn.ub != 0 {
			continue
		}
		if c, ok := s.view.SPT.DefaultCost(id, s.dest); ok {
			sn.ub = c
		}
	}
}

// dagIncludeSPT reports whether every default shortest path from n to
// dst is itself already present in the completed DAG — i.e. whether
// the DAG and the unmodified SPT agree all the way from n to dst.
func (s *solver) dagIncludeSPT(n, dst string) bool {
	for _, p := range s.view.SPT.DefaultPaths(n, dst) {
		for i := 0; i+1 < len(p); i++ {
			u, v := p[i], p[i+1]
			un := s.nodes[u]
			if un == nil || !un.dagSucc[v] {
				return false
			}
			if v == dst {
				break
			}
		}
	}
	return true
}

// fakeNeighbors walks id's real (non-fake) physical neighbors,
// expanding through any that don't themselves carry a fake, and
// returns the first fake-holding node found along each such branch.
func (s *solver) fakeNeighbors(id string) []string {
	visited := map[string]bool{id: true}
	var out []string
	queue := append([]string{}, s.view.Graph.RealNeighbors(id)...)
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if visited[n] {
			continue
		}
		visited[n] = true
		sn := s.nodes[n]
		if sn != nil && sn.needsFake {
			out = append(out, n)
			continue
		}
		queue = append(queue, s.view.Graph.RealNeighbors(n)...)
	}
	return out
}

// validRange reports whether [lb, ub) still leaves room for a fake
// cost strictly inside it, with one extra unit of slack when s's
// completed-DAG successors are exactly its unconstrained default next
// hops (so a fake cost equal to ub would merely reproduce the default
// path, not actually change anything).
func (s *solver) validRange(id string, lb, ub int) bool {
	pad := 0
	sn := s.nodes[id]
	if sn != nil && setEqual(sn.dagSucc, sn.defaultNH) {
		pad = 1
	}
	return lb+1 < ub+pad
}

// getDelta (the dynamic propagation-order key) is a node's current
// lb minus the cheapest default cost to any of its fake neighbors — the
// original's get_delta. The node with the largest delta is the one
// most likely to force a further widening downstream, so propagateLB
// always processes it next rather than walking a fixed BFS order.
func (s *solver) getDelta(n string) int {
	neighbors := s.fakeNeighbors(n)
	if len(neighbors) == 0 {
		return math.MinInt32
	}
	best := math.MaxInt32
	for _, nb := range neighbors {
		if c, ok := s.view.SPT.DefaultCost(n, nb); ok && c < best {
			best = c
		}
	}
	if best == math.MaxInt32 {
		return math.MinInt32
	}
	return s.nodes[n].lb - best
}

// fixedNodesFor walks the DAG upward from n collecting every node that
// has no fake of its own and whose presence on the path to n is only
// explained by relying on n's fake — stopping a branch as soon as it
// reaches a node whose own required set already names the child it
// came from (that node's route through the child is explicit DAG
// structure, not a side effect of n's fake).
func (s *solver) fixedNodesFor(n string) map[string]bool {
	fixed := map[string]bool{}
	type pair struct{ u, v string }
	var stack []pair
	for _, p := range s.dagPred[n] {
		stack = append(stack, pair{p, n})
	}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		u, v := top.u, top.v

		un := s.nodes[u]
		if un != nil && un.required[v] {
			continue
		}
		if fixed[u] {
			continue
		}
		fixed[u] = true
		for _, p := range s.dagPred[u] {
			stack = append(stack, pair{p, u})
		}
	}
	return fixed
}

// inheritLB computes the lower bound node should inherit from
// fromNode's widened lb, maximizing over fromNode itself and every
// node fixed to depend on it: fromNode.lb plus the largest
// (default_cost(fromNode, n) - default_cost(n, node)), plus one more
// when the DAG doesn't already include the default path from n to
// node (so node's own fake would otherwise collide with n's).
func (s *solver) inheritLB(node, fromNode string, fixedNeighbors map[string]bool) int {
	best := math.MinInt32
	consider := func(n string) {
		a, okA := s.view.SPT.DefaultCost(fromNode, n)
		b, okB := s.view.SPT.DefaultCost(n, node)
		if !okA || !okB {
			return
		}
		c := a - b
		if !s.dagIncludeSPT(n, node) {
			c++
		}
		if c > best {
			best = c
		}
	}
	consider(fromNode)
	for n := range fixedNeighbors {
		consider(n)
	}
	if best == math.MinInt32 {
		best = 0
	}
	return s.nodes[fromNode].lb + best
}

type propagateEntry struct {
	delta int
	id    string
}

type maxHeap []propagateEntry

func (h maxHeap) Len() int            { return len(h) }
func (h maxHeap) Less(i, j int) bool  { return h[i].delta > h[j].delta }
func (h maxHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *maxHeap) Push(x interface{}) { *h = append(*h, x.(propagateEntry)) }
func (h *maxHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

func increaseLB(n *solveNode, delta int) { n.lb += delta }

func (s *solver) downgradeToLocal(n *solveNode) bool {
	s.log.WithField("node", n.id).Debug("merger: bound cannot widen, downgrading to a local lie")
	n.local = true
	return false
}

// propagateLB (stage 5) repeatedly pops the node with the largest
// current delta and tries to widen every fake neighbor downstream of
// it (and, transitively, every one of that neighbor's ECMP
// dependents) just enough to keep it distinguishable. assign applies a
// successful widening; fail is invoked — and, if it reports true,
// propagation stops entirely — when a widening would either loop back
// on itself or exceed a node's ub. initialNodes overrides the default
// seed set (every fake-needing node) for apply_merge's reduced
// re-propagation after a merge.
func (s *solver) propagateLB(assign func(*solveNode, int), fail func(*solveNode) bool, initialNodes []string) {
	ids := initialNodes
	if ids == nil {
		for id, sn := range s.nodes {
			if sn.needsFake {
				ids = append(ids, id)
			}
		}
	}

	h := &maxHeap{}
	heap.Init(h)
	for _, id := range ids {
		heap.Push(h, propagateEntry{delta: s.getDelta(id), id: id})
	}

	updates := map[[2]string]bool{}
	for h.Len() > 0 {
		e := heap.Pop(h).(propagateEntry)
		if e.delta < s.getDelta(e.id) {
			continue // stale entry: node's delta already moved since this was pushed
		}
		node := e.id
		fixedNeighbors := s.fixedNodesFor(node)

		for _, n := range s.fakeNeighbors(node) {
			nei := s.nodes[n]
			lbDiff := s.inheritLB(n, node, fixedNeighbors) - nei.lb
			if lbDiff <= 0 {
				continue
			}

			key := [2]string{node, n}
			failed := false
			if updates[key] {
				failed = true
			} else {
				updates[key] = true
				if nei.lb+lbDiff+1 < nei.ub {
					assign(nei, lbDiff)
					heap.Push(h, propagateEntry{delta: s.getDelta(n), id: n})
					for dep := range s.ecmp[n] {
						if dep == n {
							continue
						}
						depNode := s.nodes[dep]
						if depNode == nil {
							continue
						}
						if s.validRange(dep, depNode.lb+lbDiff, depNode.ub) {
							assign(depNode, lbDiff)
							heap.Push(h, propagateEntry{delta: s.getDelta(dep), id: dep})
						} else {
							failed = true
							break
						}
					}
				} else {
					failed = true
				}
			}

			if failed {
				if fail(nei) {
					return
				}
			}
		}
	}
}

// mergeFakeNodes (stage 6) walks every fake-needing node's completed
// DAG successors, following through any pass-through (non-fake) hops
// to find the next fake node actually along the path, and attempts to
// merge the two whenever both still carry a global fake.
func (s *solver) mergeFakeNodes() {
	ids := make([]string, 0, len(s.nodes))
	for id := range s.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		sn := s.nodes[id]
		if !sn.needsFake || sn.local {
			continue
		}
		nhs := make([]string, 0, len(sn.dagSucc))
		for nh := range sn.dagSucc {
			nhs = append(nhs, nh)
		}
		sort.Strings(nhs)
		for _, nh := range nhs {
			succ := s.nextFakeAlong(nh)
			if succ == "" || succ == id {
				continue
			}
			target := s.nodes[succ]
			if target == nil || !target.needsFake || target.local {
				continue
			}
			s.merge(id, succ)
		}
	}
}

// nextFakeAlong walks the completed DAG forward from n until it either
// finds a node still carrying a fake (returned) or reaches dest with
// none found (returns "").
func (s *solver) nextFakeAlong(n string) string {
	visited := map[string]bool{}
	cur := n
	for {
		if cur == s.dest {
			return ""
		}
		sn := s.nodes[cur]
		if sn == nil || visited[cur] {
			return ""
		}
		if sn.needsFake {
			return cur
		}
		visited[cur] = true
		var next string
		for nh := range sn.dagSucc {
			next = nh
			break
		}
		if next == "" {
			return ""
		}
		cur = next
	}
}

// merge attempts to fold n's fake into succ's: it only proceeds if the
// DAG already agrees with the default SPT all the way from n to succ,
// and only if the combined [lb, ub) range the two nodes would have to
// share still leaves room for a distinguishing cost.
func (s *solver) merge(n, succ string) {
	if !s.dagIncludeSPT(n, succ) {
		return
	}
	node, target := s.nodes[n], s.nodes[succ]
	cost, ok := s.view.SPT.DefaultCost(n, succ)
	if !ok {
		return
	}
	newLB := node.lb - cost
	if target.lb > newLB {
		newLB = target.lb
	}
	newUB := node.ub - cost
	if target.ub < newUB {
		newUB = target.ub
	}
	if !s.validRange(succ, newLB, newUB) {
		return
	}
	s.applyMerge(n, succ, newLB, newUB, cost)
}

// applyMerge folds n's requirement on succ away: succ absorbs the
// combined [lb, ub) range, n drops succ from its own required set (and
// loses its fake entirely if that was its only one), and every node
// ECMP-dependent on n's fake gets re-pointed at succ and widened by the
// resulting path-cost increase. Any failure along the way — a
// conflicting ECMP tie, a dependent's range going invalid, or the
// re-propagation seeded from the affected dependents failing — unwinds
// every mutation this call made via the recorded undo log, leaving the
// merge attempt with no effect at all.
func (s *solver) applyMerge(n, succ string, lb, ub, cost int) {
	node, target := s.nodes[n], s.nodes[succ]

	var undo []func()
	record := func(f func()) { undo = append(undo, f) }
	rollback := func() {
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
	}

	delete(node.required, succ)
	record(func() { node.required[succ] = true })

	pathCostIncrease := cost + target.lb - node.lb
	prevLB, prevUB := target.lb, target.ub
	record(func() { target.lb, target.ub = prevLB, prevUB })
	target.lb, target.ub = lb, ub

	nDeps := s.ecmp[n]
	if nDeps[succ] {
		rollback()
		return
	}

	removeN := len(node.required) == 0
	if removeN {
		record(func() { node.needsFake = true })
		node.needsFake = false
	}

	deps := make([]string, 0, len(nDeps))
	for e := range nDeps {
		deps = append(deps, e)
	}
	sort.Strings(deps)

	for _, e := range deps {
		e := e
		eNode := s.nodes[e]
		if eNode == nil {
			continue
		}
		if removeN {
			if s.ecmp[e][n] {
				delete(s.ecmp[e], n)
				record(func() { s.ensureECMP(e); s.ecmp[e][n] = true })
			}
			if e == n {
				continue
			}
		}

		s.ensureECMP(succ)
		if !s.ecmp[succ][e] {
			s.ecmp[succ][e] = true
			record(func() { delete(s.ecmp[succ], e) })
		}
		s.ensureECMP(e)
		if !s.ecmp[e][succ] {
			s.ecmp[e][succ] = true
			record(func() { delete(s.ecmp[e], succ) })
		}

		newELB := eNode.lb + pathCostIncrease
		if !s.validRange(e, newELB, eNode.ub) {
			rollback()
			return
		}
		prevELB := eNode.lb
		en := eNode
		record(func() { en.lb = prevELB })
		en.lb = newELB
	}

	initial := append(append([]string{}, deps...), succ)

	failed := false
	assign := func(sn *solveNode, delta int) {
		prev := sn.lb
		record(func() { sn.lb = prev })
		sn.lb += delta
	}
	fail := func(*solveNode) bool {
		failed = true
		return true
	}
	s.propagateLB(assign, fail, initial)
	if failed {
		rollback()
	}
}

// removeRedundant (stage 7) walks the DAG upward from dest's direct
// predecessors; a global-fake node whose bound exactly reproduces what
// its own default path would already have given it (and whose
// requirement hasn't actually changed its next-hop set) needs no lie
// at all. The walk stops at any fake-carrying node regardless of the
// outcome — what lies beyond it is no longer this destination's
// concern once a fake sits between it and dest.
func (s *solver) removeRedundant() {
	visited := map[string]bool{}
	toVisit := map[string]bool{}
	for _, p := range s.dagPred[s.dest] {
		toVisit[p] = true
	}
	for len(toVisit) > 0 {
		var n string
		for k := range toVisit {
			n = k
			break
		}
		delete(toVisit, n)
		if visited[n] {
			continue
		}
		visited[n] = true

		sn := s.nodes[n]
		if sn == nil {
			continue
		}
		if sn.needsFake && !sn.local {
			if s.isRedundant(n, sn) {
				sn.needsFake = false
			}
			continue
		}
		for _, p := range s.dagPred[n] {
			toVisit[p] = true
		}
	}
}

func (s *solver) isRedundant(n string, sn *solveNode) bool {
	if len(sn.required) == 0 || !setEqual(sn.required, sn.defaultNH) {
		return false
	}
	for nh := range sn.required {
		succCost, okA := s.view.SPT.DefaultCost(nh, s.dest)
		hopCost, okB := s.view.SPT.DefaultCost(n, nh)
		if !okA || !okB || sn.lb+1 != succCost+hopCost {
			return false
		}
	}
	return true
}

// emit (stage 8) turns every surviving fake-needing node into an LSA:
// a local lie if it was downgraded during propagation, otherwise a
// global lie advertised at its fixed cost (lb + 1, the cheapest cost
// still strictly inside its final range).
func (s *solver) emit() []LSA {
	ids := make([]string, 0, len(s.nodes))
	for id := range s.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []LSA
	for _, id := range ids {
		sn := s.nodes[id]
		if !sn.needsFake {
			continue
		}
		nhs := make([]string, 0, len(sn.required))
		for nh := range sn.required {
			nhs = append(nhs, nh)
		}
		sort.Strings(nhs)
		for _, nh := range nhs {
			if nh == s.dest {
				s.log.WithField("node", id).Warn("merger: requirement's next hop is dest itself, skipping")
				continue
			}
			if sn.local {
				out = append(out, LocalLie(s.dest, id, nh, 1))
			} else {
				out = append(out, GlobalLie(s.dest, sn.lb+1, nh, id))
			}
		}
	}
	return out
}
