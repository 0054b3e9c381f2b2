package spt

import (
	"net"
	"sort"
	"testing"

	"github.com/fibbingctl/fibbingd/internal/graph"
)

func router(g *graph.Graph, id string) {
	g.AddRouter(net.ParseIP(id))
}

// Diamond: A-B-D and A-C-D, equal cost, should produce ECMP next hops
// B and C from A towards D.
func TestBuildDiamondECMP(t *testing.T) {
	g := graph.New()
	for _, id := range []string{"1.1.1.1", "1.1.1.2", "1.1.1.3", "1.1.1.4"} {
		router(g, id)
	}
	g.AddEdge("1.1.1.1", "1.1.1.2", graph.RouterLink, 1)
	g.AddEdge("1.1.1.1", "1.1.1.3", graph.RouterLink, 1)
	g.AddEdge("1.1.1.2", "1.1.1.4", graph.RouterLink, 1)
	g.AddEdge("1.1.1.3", "1.1.1.4", graph.RouterLink, 1)

	sp := Build(g)
	cost, ok := sp.DefaultCost("1.1.1.1", "1.1.1.4")
	if !ok || cost != 2 {
		t.Fatalf("cost = %d, %v, want 2, true", cost, ok)
	}
	nh := sp.NextHops("1.1.1.1", "1.1.1.4")
	sort.Strings(nh)
	want := []string{"1.1.1.2", "1.1.1.3"}
	if len(nh) != 2 || nh[0] != want[0] || nh[1] != want[1] {
		t.Fatalf("NextHops = %v, want %v", nh, want)
	}
}

func TestBuildExcludesFakeRoutes(t *testing.T) {
	g := graph.New()
	router(g, "1.1.1.1")
	router(g, "1.1.1.2")
	router(g, "1.1.1.3")
	g.AddEdge("1.1.1.1", "1.1.1.2", graph.RouterLink, 10)
	g.AddEdge("1.1.1.1", "1.1.1.3", graph.FakeRouteGlobal, 1)

	sp := Build(g)
	if _, ok := sp.DefaultCost("1.1.1.1", "1.1.1.3"); ok {
		t.Fatalf("fake route should not be reachable in the default view")
	}
	if sp.Fibbed() != sp {
		t.Fatalf("Fibbed() should alias the default view absent an override")
	}
}
