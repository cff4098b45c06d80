// Package transport owns the duplex frame boundary under the bridge.
//
// Ownership boundary:
// - abstract Transport/Dialer contracts
// - websocket implementation (gorilla)
//
// TLS, compression and proxying belong to the dialer configuration, not
// to the bridge above this boundary.
package transport
