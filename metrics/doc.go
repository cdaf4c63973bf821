// Package metrics exports container pool events as Prometheus metrics.
//
// Collector implements sandbox.Recorder and registers its collectors on a
// private registry, exposed by Handler under /metrics.
package metrics
