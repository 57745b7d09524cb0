// Package monitoring provides Prometheus metrics for the control channel:
// connection and frame counters at the transport layer, dispatch counters
// and latencies at the RPC layer, and download state transitions.
package monitoring
