// Package protocol owns the bridge wire contract.
//
// Ownership boundary:
// - envelope shape and message-type taxonomy
// - JSON encode/decode with forward-compatible decoding
// - binary sub-channel framing
package protocol
