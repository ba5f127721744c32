// Package session keeps short-lived, in-memory conversation history keyed by
// session id. Nothing is persisted; a restart drops every session.
package session

import (
	"sync"
	"time"

	"shop-assistant/internal/domain"
)

const (
	DefaultMaxTurns = 10
	DefaultTTL      = time.Hour
)

type Option func(*Store)

func WithMaxTurns(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxTurns = n
		}
	}
}

func WithTTL(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// Store is safe for concurrent use. Sessions expire a fixed TTL after they
// were created, regardless of later activity.
type Store struct {
	maxTurns int
	ttl      time.Duration

	mu       sync.RWMutex
	sessions map[string]*domain.Session

	locks keyedMutex
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		maxTurns: DefaultMaxTurns,
		ttl:      DefaultTTL,
		sessions: make(map[string]*domain.Session),
		locks:    keyedMutex{entries: make(map[string]*lockEntry)},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AppendTurn adds turn to the session, creating it at now when absent, and
// drops the oldest turns beyond the cap.
func (s *Store) AppendTurn(id string, turn domain.Turn, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		sess = &domain.Session{ID: id, CreatedAt: now}
		s.sessions[id] = sess
	}
	sess.Turns = append(sess.Turns, turn)
	if over := len(sess.Turns) - s.maxTurns; over > 0 {
		kept := make([]domain.Turn, s.maxTurns)
		copy(kept, sess.Turns[over:])
		sess.Turns = kept
	}
}

// History returns a copy of the retained turns, oldest first. Unknown ids
// yield an empty slice.
func (s *Store) History(id string) []domain.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return []domain.Turn{}
	}
	out := make([]domain.Turn, len(sess.Turns))
	copy(out, sess.Turns)
	return out
}

// SweepExpired removes every session older than the TTL and reports how many
// were removed. Sessions held through Lock are left for a later sweep so a
// reply in progress never loses its customer turn.
func (s *Store) SweepExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, sess := range s.sessions {
		if now.Sub(sess.CreatedAt) > s.ttl && !s.locks.held(id) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Lock serializes work on one session. Distinct ids do not contend. The
// returned func releases the lock; calls after the first are no-ops.
func (s *Store) Lock(id string) (unlock func()) {
	return s.locks.lock(id)
}
