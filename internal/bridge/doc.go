// Package bridge owns the resilient duplex session to the backend.
//
// Ownership boundary:
// - connection lifecycle, keepalive, bounded reconnect
// - single-dispatcher inbound routing
// - channel fan-out multiplexing
// - request/response correlation with deadlines
// - named-bridge registry
//
// One mutex per bridge guards every shared table; the transport receive
// goroutine is the sole dispatcher, and timer callbacks take the same
// mutex before touching state.
package bridge
