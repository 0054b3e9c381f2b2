package igpview

import (
	"net"
	"testing"

	"github.com/fibbingctl/fibbingd/internal/graph"
)

type fixedGraph struct{ g *graph.Graph }

func (f fixedGraph) Graph() *graph.Graph { return f.g }

func TestBuildIndexesPrefixesByOriginatingRouter(t *testing.T) {
	g := graph.New()
	g.AddRouter(net.ParseIP("1.1.1.1"))
	_, prefixNet, err := net.ParseCIDR("10.0.0.0/24")
	if err != nil {
		t.Fatal(err)
	}
	g.AddPrefix(prefixNet)
	g.AddEdge("1.1.1.1", prefixNet.String(), graph.RealRoute, 10)

	view := Build(fixedGraph{g})
	network, origins, err := view.LookupPrefix(net.ParseIP("10.0.0.5"))
	if err != nil {
		t.Fatal(err)
	}
	if network.String() != "10.0.0.0/24" {
		t.Fatalf("unexpected network: %s", network.String())
	}
	if len(origins) != 1 || origins[0] != "1.1.1.1" {
		t.Fatalf("unexpected origins: %+v", origins)
	}
}
