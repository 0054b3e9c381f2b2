// Package northbound implements the refresh loop: it diffs the
// solver's latest output against what is currently advertised
// southbound, issues only the add/remove calls needed to reconcile
// the two, and coalesces concurrent graph-changed notifications so
// that at most one solve runs at a time.
package northbound

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/fibbingctl/fibbingd/internal/igpview"
	"github.com/fibbingctl/fibbingd/internal/merger"
	"github.com/fibbingctl/fibbingd/internal/metrics"
	"github.com/fibbingctl/fibbingd/internal/southbound"
	"github.com/fibbingctl/fibbingd/internal/xopt"
)

// ViewSource supplies the current (graph, default-SPT) snapshot the
// solver should run against.
type ViewSource interface {
	View() *igpview.View
}

// RequirementSource supplies the currently configured per-destination
// forwarding requirements.
type RequirementSource interface {
	Requirements() []merger.Requirement
}

// Advertiser is the subset of *southbound.Client the controller needs.
type Advertiser interface {
	Add(points []southbound.Point) error
	Remove(points []southbound.RemovePoint) error
}

type advertisedKey struct{ source, forwarding, prefix string }

// Controller runs the refresh loop: Trigger schedules a solve (or
// coalesces onto one already running), comparing its output against
// what was last pushed southbound and sending only the delta.
type Controller struct {
	views ViewSource
	reqs  RequirementSource
	adv   Advertiser
	policy merger.Policy

	metrics *metrics.Metrics
	log     *logrus.Entry

	mu         sync.Mutex
	advertised map[advertisedKey]southbound.Point

	sf singleflight.Group
}

// New constructs a refresh-loop controller. metrics may be nil if the
// caller does not want Prometheus observations.
func New(views ViewSource, reqs RequirementSource, adv Advertiser, policy merger.Policy, m *metrics.Metrics, log *logrus.Entry) *Controller {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Controller{
		views:      views,
		reqs:       reqs,
		adv:        adv,
		policy:     policy,
		metrics:    m,
		log:        log,
		advertised: make(map[advertisedKey]southbound.Point),
	}
}

// Trigger runs one solve pass through singleflight. If the pass was
// shared with another caller (this call arrived while a solve was in
// flight, or another arrived during its own), Trigger calls Do once
// more, so a change that arrived mid-solve is seen by a follow-up
// solve. The callers of one burst coalesce onto that follow-up
// instead of each running a solve of their own.
func (c *Controller) Trigger(ctx context.Context) error {
	solve := func() (interface{}, error) {
		return nil, c.solveAndReconcile(ctx)
	}
	_, err, shared := c.sf.Do("solve", solve)
	if shared {
		_, err, _ = c.sf.Do("solve", solve)
	}
	return err
}

func (c *Controller) solveAndReconcile(ctx context.Context) error {
	var timer *prometheus.Timer
	if c.metrics != nil {
		c.metrics.SolvesTotal.Inc()
		timer = prometheus.NewTimer(c.metrics.SolveDuration)
		defer timer.ObserveDuration()
	}

	view := c.views.View()
	requirements := c.reqs.Requirements()
	lsas := merger.Solve(view, c.policy, requirements, c.log)
	groups := xopt.Solve(lsas)

	wanted := make(map[advertisedKey]southbound.Point)
	for _, g := range groups {
		for _, route := range g.Routes {
			k := advertisedKey{source: g.Node, forwarding: g.NH, prefix: route.Dest}
			wanted[k] = southbound.Point{
				Source:     g.Node,
				Forwarding: g.NH,
				Metric:     route.Cost,
				Prefix:     route.Dest,
			}
		}
	}

	c.mu.Lock()
	previous := c.advertised
	var toAdd []southbound.Point
	var toRemove []southbound.RemovePoint
	for k, p := range wanted {
		if prev, ok := previous[k]; !ok || prev.Metric != p.Metric {
			toAdd = append(toAdd, p)
		}
	}
	for k := range previous {
		if _, ok := wanted[k]; !ok {
			toRemove = append(toRemove, southbound.RemovePoint{Source: k.source, Forwarding: k.forwarding, Prefix: k.prefix})
		}
	}
	c.mu.Unlock()

	// advertised is only committed once both southbound calls succeed,
	// so a failed call truly leaves the previously advertised LSAs
	// unchanged rather than just logging that it did.
	if len(toRemove) > 0 {
		if err := c.adv.Remove(toRemove); err != nil {
			c.log.WithError(err).Warn("northbound: remove call failed, keeping previously advertised LSAs")
			return err
		}
	}
	if len(toAdd) > 0 {
		if err := c.adv.Add(toAdd); err != nil {
			c.log.WithError(err).Warn("northbound: add call failed, keeping previously advertised LSAs")
			return err
		}
	}

	c.mu.Lock()
	c.advertised = wanted
	if c.metrics != nil {
		c.metrics.AdvertisedLSAs.Set(float64(len(wanted)))
	}
	c.mu.Unlock()
	return nil
}
