// Package metrics provides Prometheus metrics collection and exposition for
// edgesched: queue depth and task outcomes from the Scheduler, container
// lifecycle counts from the Container Manager, per-strategy selection
// counts from the Load Balancer, and a health/readiness surface for the
// HTTP API. Counters and histograms are updated inline by their owning
// components; gauge-style snapshots are refreshed periodically by a
// Collector. All metrics are exposed via Handler for scraping.
package metrics
