// Package xopt implements the cross-optimizer: it groups the solver's
// per-destination fake LSAs by (node, next-hop) pair so that a single
// ghost router can advertise reachability to several destinations at
// once instead of the northbound controller emitting one LSA per
// destination per node.
package xopt

import (
	"sort"

	"github.com/fibbingctl/fibbingd/internal/merger"
)

// Route is one destination this extended LSA carries, at the cost the
// originating solver entry computed.
type Route struct {
	Dest string
	Cost int
}

// ExtendedLSA is the emission unit handed to the northbound
// controller: a single (node, next-hop) ghost router advertising
// reachability to every Route it was asked to cover.
type ExtendedLSA struct {
	Node   string
	NH     string
	Routes []Route
}

// Solve groups lsas by (Node, NH); within a group, routes are ordered
// by destination so that output is deterministic across calls with
// the same input (needed for the idempotence property: solving the
// same requirement set twice must produce LSA-set-equal output).
func Solve(lsas []merger.LSA) []ExtendedLSA {
	type key struct{ node, nh string }
	groups := make(map[key][]Route)
	var order []key
	for _, l := range lsas {
		k := key{l.Node, l.NH}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], Route{Dest: l.Dest, Cost: l.Cost})
	}
	sort.Slice(order, func(i, j int) bool {
		if order[i].node != order[j].node {
			return order[i].node < order[j].node
		}
		return order[i].nh < order[j].nh
	})
	out := make([]ExtendedLSA, 0, len(order))
	for _, k := range order {
		routes := groups[k]
		sort.Slice(routes, func(i, j int) bool { return routes[i].Dest < routes[j].Dest })
		out = append(out, ExtendedLSA{Node: k.node, NH: k.nh, Routes: routes})
	}
	return out
}
