package metric

import "github.com/prometheus/client_golang/prometheus"

// StateFuncs sample live gateway state at scrape time.
type StateFuncs struct {
	// Connected reports whether a mesh session is currently live.
	Connected func() bool

	// PairedSessions returns the number of active pairings.
	PairedSessions func() int

	// PendingSecrets returns the number of unexpired pending secrets.
	PendingSecrets func() int
}

// Collector exposes live gateway state as gauges without the gateway
// pushing updates. Nil sample funcs are skipped.
type Collector struct {
	funcs StateFuncs

	connectedDesc *prometheus.Desc
	pairedDesc    *prometheus.Desc
	pendingDesc   *prometheus.Desc
}

// NewCollector creates a collector over the given sample funcs.
func NewCollector(funcs StateFuncs) *Collector {
	return &Collector{
		funcs: funcs,
		connectedDesc: prometheus.NewDesc(
			namespace+"_mesh_connected",
			"Whether a mesh device session is currently established.",
			nil, nil),
		pairedDesc: prometheus.NewDesc(
			namespace+"_pairing_sessions",
			"Number of active paired sessions.",
			nil, nil),
		pendingDesc: prometheus.NewDesc(
			namespace+"_pairing_pending_secrets",
			"Number of pending unexpired pairing secrets.",
			nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.connectedDesc
	ch <- c.pairedDesc
	ch <- c.pendingDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.funcs.Connected != nil {
		v := 0.0
		if c.funcs.Connected() {
			v = 1.0
		}
		ch <- prometheus.MustNewConstMetric(c.connectedDesc, prometheus.GaugeValue, v)
	}
	if c.funcs.PairedSessions != nil {
		ch <- prometheus.MustNewConstMetric(c.pairedDesc, prometheus.GaugeValue,
			float64(c.funcs.PairedSessions()))
	}
	if c.funcs.PendingSecrets != nil {
		ch <- prometheus.MustNewConstMetric(c.pendingDesc, prometheus.GaugeValue,
			float64(c.funcs.PendingSecrets()))
	}
}
