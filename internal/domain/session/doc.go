// Package session tracks the live interception sessions known to the host.
//
// The Registry is the single source of truth for which interceptors are
// attached. Sessions are keyed by their opaque id and stored in a sync.Map of
// per-entry mutex cells, so mutations of distinct sessions never contend.
// The most-recently-active pointer is a single cell behind its own mutex and
// always names either nothing or a session still present in the map.
//
// Components:
//   - Registry: insert, remove, scoped mutation, snapshot reads
//   - Sweep: evicts sessions idle for longer than the TTL, sleeping until
//     the soonest expiry instead of polling on a fixed tick
//   - Removal hooks: let dispatch and completion drop per-session state
//
// Lock order is recent pointer first, then entry. No callback runs while
// either lock is held.
//
// Example Usage:
//
//	reg := session.NewRegistry(clock.Real(), logger, session.Options{})
//	reg.Insert(id, session.Session{Sender: sender})
//	go reg.Run(ctx)
//	found := reg.WithMut(id, func(s *session.Session) { s.Buffer = buf })
package session
