// Package session keeps the last turn seen per conversation so a follow-up
// flow (for example after out-of-band account linking) can resume it.
package session

import (
	"context"
	"sync"
	"time"

	"relaybot/internal/domain"
)

// Options tunes a store. Zero TTL means entries never expire; zero
// MaxEntries means the memory store is unbounded.
type Options struct {
	TTL        time.Duration
	MaxEntries int
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

func (o Options) clock() func() time.Time {
	if o.Now != nil {
		return o.Now
	}
	return time.Now
}

type memoryEntry struct {
	session   domain.Session
	expiresAt time.Time // zero = never
}

// MemoryStore is a process-local SessionStore guarded by a RWMutex.
type MemoryStore struct {
	mu         sync.RWMutex
	entries    map[string]*memoryEntry
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

func NewMemoryStore(opts Options) *MemoryStore {
	return &MemoryStore{
		entries:    make(map[string]*memoryEntry),
		ttl:        opts.TTL,
		maxEntries: opts.MaxEntries,
		now:        opts.clock(),
	}
}

func (s *MemoryStore) Put(_ context.Context, conversationID string, turn domain.Turn) error {
	now := s.now()
	entry := &memoryEntry{
		session: domain.Session{ConversationID: conversationID, Turn: turn, UpdatedAt: now},
	}
	if s.ttl > 0 {
		entry.expiresAt = now.Add(s.ttl)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[conversationID]; !exists && s.maxEntries > 0 && len(s.entries) >= s.maxEntries {
		s.evictOldestLocked(now)
	}
	s.entries[conversationID] = entry
	return nil
}

// evictOldestLocked drops expired entries, then the least recently updated
// one if the store is still full.
func (s *MemoryStore) evictOldestLocked(now time.Time) {
	s.sweepLocked(now)
	if len(s.entries) < s.maxEntries {
		return
	}
	var (
		oldestID string
		oldestAt time.Time
	)
	for id, e := range s.entries {
		if oldestID == "" || e.session.UpdatedAt.Before(oldestAt) {
			oldestID, oldestAt = id, e.session.UpdatedAt
		}
	}
	delete(s.entries, oldestID)
}

func (s *MemoryStore) Get(_ context.Context, conversationID string) (*domain.Session, bool, error) {
	s.mu.RLock()
	entry, ok := s.entries[conversationID]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if entry.expired(s.now()) {
		s.mu.Lock()
		// re-check: a concurrent Put may have replaced the entry
		if cur, ok := s.entries[conversationID]; ok && cur == entry {
			delete(s.entries, conversationID)
		}
		s.mu.Unlock()
		return nil, false, nil
	}
	sess := entry.session
	return &sess, true, nil
}

func (s *MemoryStore) Clear(_ context.Context, conversationID string) error {
	s.mu.Lock()
	delete(s.entries, conversationID)
	s.mu.Unlock()
	return nil
}

// Sweep removes expired entries and reports how many were dropped.
func (s *MemoryStore) Sweep(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked(s.now()), nil
}

func (s *MemoryStore) sweepLocked(now time.Time) int {
	n := 0
	for id, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, id)
			n++
		}
	}
	return n
}

// Count returns the number of stored entries, expired ones included until
// the next sweep.
func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries), nil
}

func (s *MemoryStore) Close() error { return nil }

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}
