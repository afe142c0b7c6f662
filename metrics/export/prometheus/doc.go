// Package prometheus publishes careauth counters through client_golang.
//
// [Exporter] is a prometheus.Collector that reads one Engine snapshot per
// scrape. Register it on a registry the host owns, or use [Exporter.Handler]
// for a private registry.
package prometheus
