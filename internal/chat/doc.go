// Package chat owns the session state machine above the bridge.
//
// Ownership boundary:
// - chat session and message tables
// - streaming reassembly from per-session channel events
// - session CRUD through correlated requests
// - optimistic send with rollback on request failure
//
// Sessions are mutated only here; callers work with snapshots and
// per-session message notification streams.
package chat
