package prefs

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"
)

// Compile-time assertion that MemStore satisfies the Store interface.
var _ Store = (*MemStore)(nil)

// MemStore is an in-memory [Store]. It is used when no database is
// configured and in tests. The zero value is ready to use.
type MemStore struct {
	mu     sync.RWMutex
	prefs  map[string]Preferences
	queues map[string][]QueuedTrack
	now    func() time.Time
}

// NewMemStore returns an empty [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{
		prefs:  make(map[string]Preferences),
		queues: make(map[string][]QueuedTrack),
	}
}

// Load implements [Store.Load].
func (s *MemStore) Load(_ context.Context, guildID string) (Preferences, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prefs[guildID]
	if !ok {
		return Preferences{}, ErrNotFound
	}
	return p, nil
}

// Save implements [Store.Save].
func (s *MemStore) Save(_ context.Context, p Preferences) error {
	if p.GuildID == "" {
		return errors.New("prefs: save: empty guild id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.prefs == nil {
		s.prefs = make(map[string]Preferences)
	}
	now := time.Now
	if s.now != nil {
		now = s.now
	}
	p.UpdatedAt = now().UTC()
	s.prefs[p.GuildID] = p
	return nil
}

// LoadQueue implements [Store.LoadQueue].
func (s *MemStore) LoadQueue(_ context.Context, guildID string) ([]QueuedTrack, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.queues[guildID]), nil
}

// SaveQueue implements [Store.SaveQueue].
func (s *MemStore) SaveQueue(_ context.Context, guildID string, tracks []QueuedTrack) error {
	if guildID == "" {
		return errors.New("prefs: save queue: empty guild id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(tracks) == 0 {
		delete(s.queues, guildID)
		return nil
	}
	if s.queues == nil {
		s.queues = make(map[string][]QueuedTrack)
	}
	s.queues[guildID] = slices.Clone(tracks)
	return nil
}

// Close implements [Store.Close]. It is a no-op.
func (s *MemStore) Close() {}
