// Package sinks bundles the built-in progress consumers: a structured-log
// sink for development, a Prometheus sink exporting run metrics, and a store
// sink persisting terminal issue outcomes.
package sinks
