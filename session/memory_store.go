package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/snehaltandel/process-map-agent/coach"
)

type memoryEntry struct {
	data      []byte
	createdAt time.Time
	expiresAt *time.Time
}

// MemoryStore keeps sessions in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	opts    options
	closed  bool
}

// NewMemoryStore creates an in-memory store
func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		opts:    buildOptions(opts),
	}
}

// Load implements Store
func (s *MemoryStore) Load(ctx context.Context, id string) (*coach.State, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	entry, ok := s.entries[id]
	if !ok || s.opts.expired(entry.expiresAt) {
		return nil, ErrNotFound
	}
	return decodeState(entry.data)
}

// Save implements Store
func (s *MemoryStore) Save(ctx context.Context, id string, state *coach.State) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	// 序列化后保存，调用方之后的修改不影响已存内容
	data, err := encodeState(state)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	now := s.opts.now()
	created := now
	if prev, ok := s.entries[id]; ok && !s.opts.expired(prev.expiresAt) {
		created = prev.createdAt
	}
	s.entries[id] = memoryEntry{data: data, createdAt: created, expiresAt: s.opts.expiry(now)}
	return nil
}

// Delete implements Store
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	entry, ok := s.entries[id]
	if !ok {
		return ErrNotFound
	}
	delete(s.entries, id)
	if s.opts.expired(entry.expiresAt) {
		return ErrNotFound
	}
	return nil
}

// List implements Store; expired entries are purged on the way.
func (s *MemoryStore) List(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	ids := make([]string, 0, len(s.entries))
	for id, entry := range s.entries {
		if s.opts.expired(entry.expiresAt) {
			delete(s.entries, id)
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Ping implements Store
func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Close implements Store
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.entries = make(map[string]memoryEntry)
	return nil
}
