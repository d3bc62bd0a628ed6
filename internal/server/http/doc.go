// Package httpserver is the broker's HTTP surface built on chi: the
// WebSocket endpoint clients connect to, a health probe, a status summary and
// Prometheus metrics.
//
//	GET /v1/ws       upgrade to a framed WebSocket served by the broker
//	GET /v1/healthz  {"status":"ok"} or 503
//	GET /v1/status   collection name and next id
//	GET /metrics     Prometheus text format
package httpserver
