// Package metrics defines Prometheus metrics for lease claims, covering record
// initialization, acquisition, renewal, loss, conflicts and transient store
// errors.
package metrics
