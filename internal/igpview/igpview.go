// Package igpview ties the LSDB's rebuilt graph to the shortest-path
// engine, producing the canonical (graph, SPT) pair the solver reads
// its topology from. It owns no state of its own: a View is built on
// demand from the LSDB's current graph, once per solve or query.
package igpview

import (
	"net"

	"github.com/fibbingctl/fibbingd/internal/graph"
	"github.com/fibbingctl/fibbingd/internal/ribindex"
	"github.com/fibbingctl/fibbingd/internal/spt"
)

// GraphSource is the subset of *lsdb.LSDB that igpview depends on,
// kept as an interface so tests can supply a bare graph without
// constructing a full LSDB.
type GraphSource interface {
	Graph() *graph.Graph
}

// View is a consistent (graph, default-SPT) snapshot handed to the
// solver for one solve pass. It also indexes every reachable prefix
// into a longest-prefix-match trie, used to answer "who originates the
// network that covers this destination" queries cheaply.
type View struct {
	Graph  *graph.Graph
	SPT    *spt.ShortestPath
	routes *ribindex.Trie
}

// Build takes a copy of the current graph out of src, so that changes
// the solver makes to View.Graph never reach src, computes its
// default-view shortest paths, and indexes its prefix nodes.
func Build(src GraphSource) *View {
	g := src.Graph().Copy()
	v := &View{Graph: g, SPT: spt.Build(g), routes: ribindex.New()}
	for _, n := range g.Nodes() {
		if n.Kind != graph.Prefix {
			continue
		}
		for _, origin := range g.Predecessors(n.ID) {
			v.routes.Insert(*n.PrefixNet, origin)
		}
	}
	return v
}

// LookupPrefix returns the most specific advertised network that
// covers dest and the router IDs that originate it.
func (v *View) LookupPrefix(dest net.IP) (net.IPNet, []string, error) {
	return v.routes.Lookup(dest)
}
