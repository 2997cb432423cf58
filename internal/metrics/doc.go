// Package metrics defines the daemon's Prometheus instruments. The control
// socket serves them at /metrics for local scraping.
package metrics
