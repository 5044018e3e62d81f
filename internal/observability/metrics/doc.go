// Package metrics exposes job, reconciliation and HTTP metrics in Prometheus format.
package metrics
