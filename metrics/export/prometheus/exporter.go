package prometheus

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrEthical07/careauth"
	"github.com/MrEthical07/careauth/metrics/export/internaldefs"
)

// Source is satisfied by *careauth.Engine.
type Source interface {
	MetricsSnapshot() careauth.MetricsSnapshot
}

type Exporter struct {
	source     Source
	counters   []*prometheus.Desc
	histograms []*prometheus.Desc
	audit      []*prometheus.Desc
}

var _ prometheus.Collector = (*Exporter)(nil)

func NewExporter(source Source) *Exporter {
	e := &Exporter{source: source}
	for _, def := range internaldefs.CounterDefs {
		e.counters = append(e.counters, prometheus.NewDesc(def.Name, def.Help, nil, nil))
	}
	for _, def := range internaldefs.HistogramDefs {
		e.histograms = append(e.histograms, prometheus.NewDesc(def.Name, def.Help, nil, nil))
	}
	for _, def := range internaldefs.AuditDefs {
		e.audit = append(e.audit, prometheus.NewDesc(def.Name, def.Help, nil, nil))
	}
	return e
}

func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	for _, group := range [][]*prometheus.Desc{e.counters, e.histograms, e.audit} {
		for _, d := range group {
			ch <- d
		}
	}
}

// Collect emits nothing while the Engine runs with metrics disabled.
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	if e.source == nil {
		return
	}
	snap := e.source.MetricsSnapshot()

	if len(snap.Counters) > 0 {
		for i, def := range internaldefs.CounterDefs {
			ch <- prometheus.MustNewConstMetric(e.counters[i], prometheus.CounterValue, float64(snap.Counters[def.ID]))
		}
	}

	for i, def := range internaldefs.HistogramDefs {
		raw, ok := snap.Histograms[def.ID]
		if !ok {
			continue
		}
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
		buckets := make(map[float64]uint64, len(internaldefs.UpperBounds))
		for j, bound := range internaldefs.UpperBounds {
			buckets[bound] = cumulative[j]
		}
		count := cumulative[len(cumulative)-1]
		ch <- prometheus.MustNewConstHistogram(e.histograms[i], count, snap.LatencySum.Seconds(), buckets)
	}

	for i, def := range internaldefs.AuditDefs {
		ch <- prometheus.MustNewConstMetric(e.audit[i], prometheus.CounterValue, float64(def.Value(snap.Audit)))
	}
}

// Handler serves the exporter from a private registry.
func (e *Exporter) Handler() http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(e)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
