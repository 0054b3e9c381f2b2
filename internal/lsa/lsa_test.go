package lsa

import (
	"net"
	"testing"

	"github.com/fibbingctl/fibbingd/internal/graph"
)

func TestParseRouterLSA(t *testing.T) {
	line := "rid:1.1.1.1;lsa_type:1;age:10;seq_num:5 " +
		"link_id:2.2.2.2;link_data:10.0.0.1;link_type:1;link_metric:10"
	got, err := Parse(line)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	r, ok := got.(*RouterLSA)
	if !ok {
		t.Fatalf("got %T, want *RouterLSA", got)
	}
	if r.Key() != "1.1.1.1" {
		t.Fatalf("Key() = %q, want 1.1.1.1", r.Key())
	}
	if len(r.Links) != 1 || r.Links[0].OtherRouterID != "2.2.2.2" {
		t.Fatalf("Links = %+v", r.Links)
	}
}

func TestRouterLSAApplyAddsEdge(t *testing.T) {
	line := "rid:1.1.1.1;lsa_type:1;age:0;seq_num:1 " +
		"link_id:2.2.2.2;link_data:10.0.0.1;link_type:1;link_metric:7"
	l, err := Parse(line)
	if err != nil {
		t.Fatal(err)
	}
	g := graph.New()
	l.Apply(g, func(string) (*NetworkLSA, bool) { return nil, false }, nil)
	edges := g.EdgesBetween("1.1.1.1", "2.2.2.2")
	if len(edges) != 1 || edges[0].Metric != 7 {
		t.Fatalf("edges = %+v", edges)
	}
}

func TestIsNewerSeqnum(t *testing.T) {
	if !IsNewerSeqnum(5, 4) {
		t.Fatal("5 should be newer than 4")
	}
	if IsNewerSeqnum(4, 5) {
		t.Fatal("4 should not be newer than 5")
	}
}

func TestIsExpired(t *testing.T) {
	if IsExpired(3599) {
		t.Fatal("3599 should not be expired")
	}
	if !IsExpired(3600) {
		t.Fatal("3600 should be expired")
	}
}

type stubResolver struct {
	controllers map[string]bool
	targets     map[string][]net.IP
}

func (s stubResolver) IsControllerInstance(id net.IP) bool { return s.controllers[id.String()] }
func (s stubResolver) TargetsFor(ip net.IP) ([]net.IP, bool) {
	t, ok := s.targets[ip.String()]
	return t, ok
}

func TestASExternalLSAClassifiesLocalVsGlobalLie(t *testing.T) {
	line := "rid:9.9.9.1;lsa_type:5;age:0;seq_num:1;link_id:192.168.1.0;link_mask:255.255.255.0 " +
		"link_metric:1;fwd_addr:10.0.0.5"
	l, err := Parse(line)
	if err != nil {
		t.Fatal(err)
	}
	g := graph.New()
	resolver := stubResolver{
		controllers: map[string]bool{"9.9.9.1": true},
		targets:     map[string][]net.IP{"10.0.0.5": {net.ParseIP("1.1.1.1")}},
	}
	l.Apply(g, nil, resolver)
	edges := g.EdgesBetween("10.0.0.5", "192.168.1.0/24")
	if len(edges) != 1 || edges[0].Kind != graph.FakeRouteLocal {
		t.Fatalf("edges = %+v, want one FakeRouteLocal", edges)
	}
}
