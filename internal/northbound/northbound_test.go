package northbound

import (
	"context"
	"net"
	"testing"

	"github.com/fibbingctl/fibbingd/internal/graph"
	"github.com/fibbingctl/fibbingd/internal/igpview"
	"github.com/fibbingctl/fibbingd/internal/merger"
	"github.com/fibbingctl/fibbingd/internal/southbound"
)

type fixedViews struct{ v *igpview.View }

func (f fixedViews) View() *igpview.View { return f.v }

type fixedReqs struct{ r []merger.Requirement }

func (f fixedReqs) Requirements() []merger.Requirement { return f.r }

type recordingAdvertiser struct {
	added   [][]southbound.Point
	removed [][]southbound.RemovePoint
}

func (a *recordingAdvertiser) Add(points []southbound.Point) error {
	a.added = append(a.added, points)
	return nil
}

func (a *recordingAdvertiser) Remove(points []southbound.RemovePoint) error {
	a.removed = append(a.removed, points)
	return nil
}

func buildDiamond() *igpview.View {
	g := graph.New()
	for _, id := range []string{"1.1.1.1", "1.1.1.2", "1.1.1.3", "1.1.1.4"} {
		g.AddRouter(net.ParseIP(id))
	}
	g.AddEdge("1.1.1.1", "1.1.1.2", graph.RouterLink, 1)
	g.AddEdge("1.1.1.1", "1.1.1.3", graph.RouterLink, 1)
	g.AddEdge("1.1.1.2", "1.1.1.4", graph.RouterLink, 1)
	g.AddEdge("1.1.1.3", "1.1.1.4", graph.RouterLink, 1)
	return igpview.Build(graphSourceFunc(func() *graph.Graph { return g }))
}

type graphSourceFunc func() *graph.Graph

func (f graphSourceFunc) Graph() *graph.Graph { return f() }

func TestTriggerAdvertisesOnlyTheDelta(t *testing.T) {
	view := buildDiamond()
	req := merger.Requirement{
		Dest: "1.1.1.4",
		Successors: map[string][]string{
			"1.1.1.1": {"1.1.1.2"},
		},
	}
	adv := &recordingAdvertiser{}
	c := New(fixedViews{view}, fixedReqs{[]merger.Requirement{req}}, adv, merger.PolicyPartial, nil, nil)

	if err := c.Trigger(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(adv.added) != 1 || len(adv.added[0]) == 0 {
		t.Fatalf("expected the first trigger to add at least one point, got %+v", adv.added)
	}

	// Triggering again with the same requirement must not re-add
	// anything: the advertised set already matches what's wanted.
	if err := c.Trigger(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(adv.added) != 1 {
		t.Fatalf("second trigger should not add again, added calls = %d", len(adv.added))
	}
}
