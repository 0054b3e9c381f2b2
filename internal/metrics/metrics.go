// Package metrics registers the Prometheus collectors the daemon
// exposes. The refresh loop updates solve counts/durations and the
// advertised LSA count; IngestLinesTotal, RebuildsTotal and
// UnsolvableTotal are registered but nothing increments them.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles every collector this daemon exposes. Callers create
// one with New and register it with a prometheus.Registerer of their
// choosing (normally prometheus.DefaultRegisterer via MustRegister).
type Metrics struct {
	SolvesTotal       prometheus.Counter
	SolveDuration     prometheus.Histogram
	AdvertisedLSAs    prometheus.Gauge
	IngestLinesTotal  prometheus.Counter
	RebuildsTotal     prometheus.Counter
	UnsolvableTotal   prometheus.Counter
}

// New constructs the metric set with the "fibbingd" namespace.
func New() *Metrics {
	return &Metrics{
		SolvesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fibbingd",
			Name:      "solves_total",
			Help:      "Number of solver passes run by the refresh loop.",
		}),
		SolveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "fibbingd",
			Name:      "solve_duration_seconds",
			Help:      "Time spent in one solver pass.",
			Buckets:   prometheus.DefBuckets,
		}),
		AdvertisedLSAs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fibbingd",
			Name:      "advertised_lsas",
			Help:      "Number of fake LSAs currently advertised southbound.",
		}),
		IngestLinesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fibbingd",
			Name:      "ingest_lines_total",
			Help:      "Number of LSA protocol lines ingested.",
		}),
		RebuildsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fibbingd",
			Name:      "lsdb_rebuilds_total",
			Help:      "Number of times the LSDB rebuilt the IGP graph.",
		}),
		UnsolvableTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fibbingd",
			Name:      "unsolvable_requirements_total",
			Help:      "Number of requirements skipped as unsolvable.",
		}),
	}
}

// MustRegister registers every collector with reg.
func (m *Metrics) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		m.SolvesTotal,
		m.SolveDuration,
		m.AdvertisedLSAs,
		m.IngestLinesTotal,
		m.RebuildsTotal,
		m.UnsolvableTotal,
	)
}
