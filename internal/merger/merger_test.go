package merger

import (
	"fmt"
	"net"
	"testing"

	"github.com/fibbingctl/fibbingd/internal/graph"
	"github.com/fibbingctl/fibbingd/internal/igpview"
)

func newRouter(g *graph.Graph, id string) {
	g.AddRouter(net.ParseIP(id))
}

type fixedGraphSource struct{ g *graph.Graph }

func (f fixedGraphSource) Graph() *graph.Graph { return f.g }

// gadget builds a router-link topology from a list of node names and
// an edge list (bidirectional, matching the original test gadgets'
// _add_edge helper), translating each name to a synthetic router IP
// since graph.AddRouter is keyed by net.IP. It returns the graph and
// the name -> translated-ID map every requirement below is built
// against.
type edge struct {
	a, b   string
	metric int
}

func gadget(names []string, edges []edge) (*graph.Graph, map[string]string) {
	g := graph.New()
	ids := make(map[string]string, len(names))
	for i, name := range names {
		id := fmt.Sprintf("10.0.%d.%d", i/250, i%250+1)
		ids[name] = id
		newRouter(g, id)
	}
	for _, e := range edges {
		a, b := ids[e.a], ids[e.b]
		g.AddEdge(a, b, graph.RouterLink, e.metric)
		g.AddEdge(b, a, graph.RouterLink, e.metric)
	}
	return g, ids
}

// dagSuccessors translates an ordered (src, dst) edge list — written
// the same way the original scenarios spell out their requirement DAG
// — into a Requirement.Successors map, translating node names via ids.
// dst names absent from ids (the synthesized destination itself) pass
// through unchanged.
func dagSuccessors(ids map[string]string, pairs [][2]string) map[string][]string {
	out := make(map[string][]string)
	translate := func(n string) string {
		if t, ok := ids[n]; ok {
			return t
		}
		return n
	}
	for _, p := range pairs {
		src, dst := translate(p[0]), translate(p[1])
		out[src] = append(out[src], dst)
	}
	return out
}

func solveCount(t *testing.T, g *graph.Graph, policy Policy, reqs []Requirement) []LSA {
	t.Helper()
	view := igpview.Build(fixedGraphSource{g})
	return Solve(view, policy, reqs, nil)
}

// Diamond: A has two equal-cost paths to D, through B and through C.
// A requirement pinning A to B alone must produce a fake LSA.
func TestSolveDiamondPinsSingleNextHop(t *testing.T) {
	g := graph.New()
	for _, id := range []string{"1.1.1.1", "1.1.1.2", "1.1.1.3", "1.1.1.4"} {
		newRouter(g, id)
	}
	g.AddEdge("1.1.1.1", "1.1.1.2", graph.RouterLink, 1)
	g.AddEdge("1.1.1.1", "1.1.1.3", graph.RouterLink, 1)
	g.AddEdge("1.1.1.2", "1.1.1.4", graph.RouterLink, 1)
	g.AddEdge("1.1.1.3", "1.1.1.4", graph.RouterLink, 1)

	view := igpview.Build(fixedGraphSource{g})

	req := Requirement{
		Dest: "1.1.1.4",
		Successors: map[string][]string{
			"1.1.1.1": {"1.1.1.2"},
		},
	}

	lsas := Solve(view, PolicyPartial, []Requirement{req}, nil)
	if len(lsas) == 0 {
		t.Fatalf("expected at least one fake LSA pinning A to B")
	}
	found := false
	for _, l := range lsas {
		if l.Node == "1.1.1.1" && l.NH == "1.1.1.2" && l.Dest == "1.1.1.4" {
			found = true
		}
	}
	if !found {
		t.Fatalf("lsas = %+v, want an entry pinning 1.1.1.1 -> 1.1.1.2", lsas)
	}
}

func TestSolveNoRequirementsYieldsNoLSAs(t *testing.T) {
	g := graph.New()
	newRouter(g, "1.1.1.1")
	newRouter(g, "1.1.1.2")
	g.AddEdge("1.1.1.1", "1.1.1.2", graph.RouterLink, 1)

	view := igpview.Build(fixedGraphSource{g})
	lsas := Solve(view, PolicyPartial, nil, nil)
	if len(lsas) != 0 {
		t.Fatalf("lsas = %+v, want none", lsas)
	}
}

// Named acceptance scenarios, pinned against the original's
// MergerTestCase gadgets and their expected LSA counts under
// PolicyPartialECMP (and PolicyFull where the original names a
// distinct FullMerger count).

func trapezoidGadget() (*graph.Graph, map[string]string) {
	//  R1 -- 100 -- E1 -- 10 -+
	//   |                     |
	//  100                    D
	//   |                     |
	//  R2 -- 10  -- E2 -- 10 -+
	return gadget(
		[]string{"R1", "R2", "E1", "E2", "D"},
		[]edge{
			{"R1", "E1", 100},
			{"R1", "R2", 100},
			{"R2", "E2", 10},
			{"E1", "D", 10},
			{"E2", "D", 10},
		},
	)
}

func TestSolveTrapezoid(t *testing.T) {
	g, ids := trapezoidGadget()
	req := Requirement{
		Dest: "1_8",
		Successors: dagSuccessors(ids, [][2]string{
			{"R1", "R2"}, {"R2", "E2"}, {"E2", "D"},
		}),
	}
	lsas := solveCount(t, g, PolicyPartialECMP, []Requirement{req})
	if len(lsas) != 1 {
		t.Fatalf("trapezoid: lsas = %+v, want exactly 1", lsas)
	}
}

func TestSolveTrapezoidWithECMP(t *testing.T) {
	g, ids := trapezoidGadget()
	req := Requirement{
		Dest: "2_8",
		Successors: dagSuccessors(ids, [][2]string{
			{"R1", "R2"}, {"R2", "E2"}, {"E2", "D"},
			// ECMP on E1
			{"E1", "D"}, {"E1", "R1"},
		}),
	}
	lsas := solveCount(t, g, PolicyPartialECMP, []Requirement{req})
	if len(lsas) != 3 {
		t.Fatalf("trapezoid+ecmp: lsas = %+v, want exactly 3", lsas)
	}
}

func diamondGadget() (*graph.Graph, map[string]string) {
	//  A  ---5---  Y1
	//  | \         |
	//  | 10        10
	//  |  \        |
	//  |  Y2 -15-- X ---50--- D
	//  |           |          |
	//  25 +--30----+          |
	//  | /                    |
	//  O -------- 10 ---------+
	return gadget(
		[]string{"A", "Y1", "Y2", "X", "D", "O"},
		[]edge{
			{"A", "Y1", 5},
			{"Y1", "X", 10},
			{"A", "Y2", 10},
			{"Y2", "X", 15},
			{"X", "D", 50},
			{"A", "O", 25},
			{"X", "O", 30},
			{"D", "O", 10},
		},
	)
}

func TestSolveDiamond(t *testing.T) {
	g, ids := diamondGadget()
	req := Requirement{
		Dest: "3_8",
		Successors: dagSuccessors(ids, [][2]string{
			{"A", "Y1"}, {"A", "Y2"}, {"Y2", "X"}, {"Y1", "X"},
			{"X", "D"}, {"O", "D"},
		}),
	}
	lsas := solveCount(t, g, PolicyPartialECMP, []Requirement{req})
	if len(lsas) != 2 {
		t.Fatalf("diamond: lsas = %+v, want exactly 2", lsas)
	}
}

func squareGadget() (*graph.Graph, map[string]string) {
	// T1  --10--  T2
	//  |    \       |
	//  10     5    100
	//  |        \   |
	//  B1  --3--   B2  --100--D1
	//  |
	// 100
	//  |
	//  D2
	return gadget(
		[]string{"B1", "B2", "T1", "T2", "D1", "D2"},
		[]edge{
			{"B1", "B2", 3},
			{"T1", "B1", 10},
			{"T2", "T1", 10},
			{"B2", "T1", 5},
			{"T2", "B2", 100},
			{"D1", "B2", 100},
			{"D2", "B1", 100},
		},
	)
}

func TestSolveSquareWithThreeConsecutiveChanges(t *testing.T) {
	g, ids := squareGadget()
	req := Requirement{
		Dest: "3_8",
		Successors: dagSuccessors(ids, [][2]string{
			{"D2", "B1"}, {"B1", "T1"}, {"T1", "T2"}, {"T2", "B2"}, {"B2", "D1"},
		}),
	}
	lsas := solveCount(t, g, PolicyPartialECMP, []Requirement{req})
	if len(lsas) != 3 {
		t.Fatalf("square: lsas = %+v, want exactly 3", lsas)
	}
}

func TestSolveSquareWithThreeConsecutiveChangesAndReverseCompanion(t *testing.T) {
	g, ids := squareGadget()
	forward := dagSuccessors(ids, [][2]string{
		{"D2", "B1"}, {"B1", "T1"}, {"T1", "T2"}, {"T2", "B2"}, {"B2", "D1"},
	})
	reverse := dagSuccessors(ids, [][2]string{
		{"B1", "D2"}, {"T1", "B1"}, {"T2", "T1"}, {"B2", "T2"}, {"D1", "B2"},
	})
	reqs := []Requirement{
		{Dest: "3_8", Successors: forward},
		{Dest: "8_3", Successors: reverse},
	}
	lsas := solveCount(t, g, PolicyPartialECMP, reqs)
	if len(lsas) != 5 {
		t.Fatalf("square+reverse: lsas = %+v, want exactly 5", lsas)
	}
}

func paperGadget() (*graph.Graph, map[string]string) {
	// H1 -- 19 -- A1 ---------+
	//  |                      |
	//  +-- 10 ----+           2
	//             |           |
	//  H2 -- 2 -- X -- 100 -- Y
	//  |         / \          |
	//  6  H3 -- 2   \         |
	//  |   |        8         |
	//  |   6----+  /         17
	//  |        | /           |
	//  +--------A2------------+
	return gadget(
		[]string{"H1", "A1", "X", "Y", "H2", "H3", "A2"},
		[]edge{
			{"H1", "A1", 19},
			{"H1", "X", 10},
			{"A1", "Y", 2},
			{"X", "Y", 100},
			{"X", "H2", 2},
			{"X", "H3", 2},
			{"X", "A2", 8},
			{"H3", "A2", 6},
			{"H2", "A2", 6},
			{"Y", "A2", 17},
		},
	)
}

func TestSolvePaperGadget(t *testing.T) {
	g, ids := paperGadget()
	req := Requirement{
		Dest: "3_8",
		Successors: dagSuccessors(ids, [][2]string{
			{"H1", "X"}, {"H2", "X"}, {"H3", "X"},
			{"X", "Y"}, {"A1", "Y"}, {"A2", "Y"},
		}),
	}
	lsas := solveCount(t, g, PolicyPartialECMP, []Requirement{req})
	if len(lsas) != 1 {
		t.Fatalf("paper gadget: lsas = %+v, want exactly 1", lsas)
	}
}

func parallelTracksGadget() (*graph.Graph, map[string]string) {
	//    A2--B2--C2--D2
	//   /|   |   |   |
	//  D-A1--B1--C1--D1
	return gadget(
		[]string{"D", "A1", "A2", "B1", "B2", "C1", "C2", "D1", "D2"},
		[]edge{
			{"D", "A1", 2},
			{"D", "A2", 2},
			{"B2", "A2", 2},
			{"B1", "A1", 2},
			{"B1", "C1", 2},
			{"B2", "C2", 2},
			{"C2", "D2", 2},
			{"C1", "D1", 2},
			{"D2", "D1", 2},
			{"C2", "C1", 2},
			{"B2", "B1", 2},
			{"A2", "A1", 2},
		},
	)
}

func parallelTracksRequirement(ids map[string]string) Requirement {
	return Requirement{
		Dest: "3_8",
		Successors: dagSuccessors(ids, [][2]string{
			{"A2", "B2"}, {"B2", "C2"}, {"C2", "D2"}, {"D2", "D1"},
			{"D1", "C1"}, {"C1", "B1"}, {"B1", "A1"}, {"A1", "D"},
		}),
	}
}

func TestSolveParallelTracksPartialECMP(t *testing.T) {
	g, ids := parallelTracksGadget()
	lsas := solveCount(t, g, PolicyPartialECMP, []Requirement{parallelTracksRequirement(ids)})
	if len(lsas) != 4 {
		t.Fatalf("parallel tracks (partial-ecmp): lsas = %+v, want exactly 4", lsas)
	}
}

func TestSolveParallelTracksFull(t *testing.T) {
	g, ids := parallelTracksGadget()
	lsas := solveCount(t, g, PolicyFull, []Requirement{parallelTracksRequirement(ids)})
	if len(lsas) != 6 {
		t.Fatalf("parallel tracks (full): lsas = %+v, want exactly 6", lsas)
	}
}

func doubleDiamondGadget() (*graph.Graph, map[string]string) {
	//  + --------19--------- +
	//  |                     |
	//  H1 ---10--- Y1        |
	//    \         |         |
	//    15        5         |
	//     \        |         |
	//     Y2 -10-  X --100-- D
	//              |         |
	//     H2---2---+         |
	//     /                  |
	//    6                   |
	//   /                    |
	//  A -------- 17 --------+
	return gadget(
		[]string{"H1", "Y1", "Y2", "X", "H2", "A", "D"},
		[]edge{
			{"H1", "D", 19},
			{"H1", "Y1", 10},
			{"Y1", "X", 5},
			{"H1", "Y2", 15},
			{"Y2", "X", 10},
			{"A", "H2", 6},
			{"H2", "X", 2},
			{"A", "D", 17},
			{"X", "D", 100},
		},
	)
}

func TestSolveDoubleDiamond(t *testing.T) {
	g, ids := doubleDiamondGadget()
	req := Requirement{
		Dest: "1_8",
		Successors: dagSuccessors(ids, [][2]string{
			{"H1", "Y1"}, {"H1", "Y2"}, {"Y1", "X"}, {"Y2", "X"},
			{"H2", "X"}, {"X", "D"},
		}),
	}
	lsas := solveCount(t, g, PolicyPartialECMP, []Requirement{req})
	if len(lsas) != 3 {
		t.Fatalf("double diamond: lsas = %+v, want exactly 3", lsas)
	}
}
