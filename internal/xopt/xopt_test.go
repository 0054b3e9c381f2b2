package xopt

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/fibbingctl/fibbingd/internal/merger"
)

func TestSolveGroupsByNodeAndNextHop(t *testing.T) {
	lsas := []merger.LSA{
		{Node: "1.1.1.1", NH: "1.1.1.2", Cost: 5, Dest: "10.0.0.0/24"},
		{Node: "1.1.1.1", NH: "1.1.1.2", Cost: 5, Dest: "10.0.1.0/24"},
		{Node: "1.1.1.1", NH: "1.1.1.3", Cost: 5, Dest: "10.0.2.0/24"},
	}
	got := Solve(lsas)
	if len(got) != 2 {
		t.Fatalf("got %d groups, want 2", len(got))
	}
	if got[0].Node != "1.1.1.1" || got[0].NH != "1.1.1.2" || len(got[0].Routes) != 2 {
		t.Fatalf("group 0 = %+v", got[0])
	}
	if got[1].NH != "1.1.1.3" || len(got[1].Routes) != 1 {
		t.Fatalf("group 1 = %+v", got[1])
	}
}

func TestSolveIsDeterministic(t *testing.T) {
	lsas := []merger.LSA{
		{Node: "1.1.1.2", NH: "1.1.1.9", Cost: 1, Dest: "a"},
		{Node: "1.1.1.1", NH: "1.1.1.9", Cost: 1, Dest: "b"},
	}
	a := Solve(lsas)
	b := Solve(lsas)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Fatalf("Solve should be deterministic across calls (-first +second):\n%s", diff)
	}
}
