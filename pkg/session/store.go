package session

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ashwin/sia/internal/observability"
	"github.com/ashwin/sia/pkg/agent"
)

// DefaultTTL is the idle lifetime of a session.
const DefaultTTL = 24 * time.Hour

type entry struct {
	transcript []agent.Message
	expiresAt  time.Time
}

// Store is an in-memory transcript store keyed by session ID.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	ttl     time.Duration
	now     func() time.Time
	logger  zerolog.Logger
}

// Config configures a Store. TTL defaults to DefaultTTL, Now to time.Now;
// Now is injectable so expiry is testable without sleeping.
type Config struct {
	TTL    time.Duration
	Now    func() time.Time
	Logger zerolog.Logger
}

// New creates a Store.
func New(cfg Config) *Store {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		entries: make(map[string]*entry),
		ttl:     ttl,
		now:     now,
		logger:  cfg.Logger.With().Str("component", "session").Logger(),
	}
}

// Get returns a copy of the session's transcript. Unknown and expired
// sessions both return false; Get never errors and does not extend the TTL.
func (s *Store) Get(id string) ([]agent.Message, bool) {
	start := time.Now()
	defer func() { observability.RecordSessionLoad(time.Since(start)) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok || !s.now().Before(e.expiresAt) {
		return nil, false
	}

	transcript := make([]agent.Message, len(e.transcript))
	copy(transcript, e.transcript)
	return transcript, true
}

// Put replaces the session's transcript wholesale and resets its expiry from
// the moment of the write.
//
// Concurrent turns on the same session are last-write-wins: each Put stores
// a complete transcript under the lock, so entries never interleave, but an
// overlapping turn's result can be replaced entirely.
func (s *Store) Put(id string, transcript []agent.Message) {
	start := time.Now()
	defer func() { observability.RecordSessionSave(time.Since(start)) }()

	stored := make([]agent.Message, len(transcript))
	copy(stored, transcript)

	s.mu.Lock()
	s.entries[id] = &entry{
		transcript: stored,
		expiresAt:  s.now().Add(s.ttl),
	}
	size := len(s.entries)
	s.mu.Unlock()

	observability.SetActiveSessions(size)
	s.logger.Debug().
		Str("session_id", id).
		Int("messages", len(stored)).
		Msg("Session stored")
}

// Delete removes a session.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	delete(s.entries, id)
	size := len(s.entries)
	s.mu.Unlock()

	observability.SetActiveSessions(size)
}

// Sweep removes expired entries and returns how many were reclaimed. It is
// best-effort housekeeping: correctness of Get does not depend on it.
func (s *Store) Sweep() int {
	s.mu.Lock()
	now := s.now()
	removed := 0
	for id, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, id)
			removed++
		}
	}
	size := len(s.entries)
	s.mu.Unlock()

	observability.SetActiveSessions(size)
	if removed > 0 {
		observability.RecordSessionSweep(removed)
		s.logger.Info().
			Int("removed", removed).
			Int("remaining", size).
			Msg("Swept expired sessions")
	}
	return removed
}

// Len returns the number of stored entries, expired ones included.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Keys returns the IDs of all stored entries.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.entries))
	for id := range s.entries {
		keys = append(keys, id)
	}
	return keys
}
