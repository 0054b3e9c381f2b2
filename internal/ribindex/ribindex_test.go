package ribindex

import (
	"net"
	"testing"
)

func mustCIDR(s string) net.IPNet {
	_, n, err := net.ParseCIDR(s)
	if err != nil {
		panic(err)
	}
	return *n
}

func TestLookupReturnsMostSpecificMatch(t *testing.T) {
	tr := New()
	tr.Insert(mustCIDR("10.0.0.0/8"), "router-wide")
	tr.Insert(mustCIDR("10.1.2.0/24"), "router-narrow")

	n, owners, err := tr.Lookup(net.ParseIP("10.1.2.5"))
	if err != nil {
		t.Fatal(err)
	}
	if n.String() != "10.1.2.0/24" {
		t.Fatalf("expected the /24 to win, got %s", n.String())
	}
	if len(owners) != 1 || owners[0] != "router-narrow" {
		t.Fatalf("unexpected owners: %+v", owners)
	}
}

func TestLookupFallsBackToWiderNetwork(t *testing.T) {
	tr := New()
	tr.Insert(mustCIDR("10.0.0.0/8"), "router-wide")

	n, owners, err := tr.Lookup(net.ParseIP("10.9.9.9"))
	if err != nil {
		t.Fatal(err)
	}
	if n.String() != "10.0.0.0/8" || owners[0] != "router-wide" {
		t.Fatalf("unexpected result: %s %+v", n.String(), owners)
	}
}

func TestLookupMissReturnsErrNotFound(t *testing.T) {
	tr := New()
	tr.Insert(mustCIDR("10.0.0.0/8"), "router-wide")

	if _, _, err := tr.Lookup(net.ParseIP("192.168.1.1")); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestInsertSameNetworkMergesOwners(t *testing.T) {
	tr := New()
	tr.Insert(mustCIDR("10.1.2.0/24"), "a")
	tr.Insert(mustCIDR("10.1.2.0/24"), "b")

	_, owners, err := tr.Lookup(net.ParseIP("10.1.2.5"))
	if err != nil {
		t.Fatal(err)
	}
	if len(owners) != 2 {
		t.Fatalf("expected both owners to be recorded, got %+v", owners)
	}
}
