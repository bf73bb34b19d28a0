// Package server exposes the process over HTTP: Prometheus metrics on
// /metrics, a liveness probe on /health and the monitor heartbeats as JSON
// on /status.
//
// FetchHeartbeats is the matching client used by `queuewatch status
// --server`.
package server
