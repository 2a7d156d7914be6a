// Package sinks implements progress consumers: structured logging, Prometheus
// metrics, and an in-memory tracker of recent runs for the admin API.
package sinks
