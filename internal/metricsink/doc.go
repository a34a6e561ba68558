// Package metricsink provides the concrete llm.MetricsSink implementation:
// gorm persistence of the rolling adapter metrics plus a Prometheus mirror,
// both submitted through a bounded worker pool so a slow or unavailable
// store never blocks the request path that triggered the update.
package metricsink
