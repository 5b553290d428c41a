// Package session keeps per-session conversation transcripts in memory with
// a sliding TTL.
//
// Invariants:
// - Get never errors: expired and unknown sessions are both "absent".
// - Put replaces the transcript wholesale and resets the expiry clock.
// - Expired entries are reclaimed by a best-effort sweep; until then they
//   are invisible to Get.
//
// Usage:
//
//	store := session.New(session.Config{TTL: 24 * time.Hour})
//	store.Put("session:1", transcript)
//	transcript, ok := store.Get("session:1")
//	_ = ok
package session
