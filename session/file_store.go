package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/snehaltandel/process-map-agent/coach"
)

const fileExt = ".json"

// FileStore writes one JSON document per session under a directory.
type FileStore struct {
	dir    string
	opts   options
	mu     sync.RWMutex
	closed bool
}

// NewFileStore creates the directory if needed
func NewFileStore(dir string, opts ...Option) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("session: file store requires a directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}
	return &FileStore{dir: dir, opts: buildOptions(opts)}, nil
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, id+fileExt)
}

func (s *FileStore) read(id string) (*record, error) {
	data, err := os.ReadFile(s.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &rec, nil
}

// Load implements Store
func (s *FileStore) Load(ctx context.Context, id string) (*coach.State, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	rec, err := s.read(id)
	if err != nil {
		return nil, err
	}
	if s.opts.expired(rec.ExpiresAt) {
		return nil, ErrNotFound
	}
	return decodeState(rec.State)
}

// Save implements Store. Writes go to a temp file and are renamed into place.
func (s *FileStore) Save(ctx context.Context, id string, state *coach.State) error {
	if err := ValidateID(id); err != nil {
		return err
	}
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
	rec := record{ID: id, State: data, CreatedAt: now, UpdatedAt: now, ExpiresAt: s.opts.expiry(now)}
	if prev, err := s.read(id); err == nil && !s.opts.expired(prev.ExpiresAt) {
		rec.CreatedAt = prev.CreatedAt
	}

	out, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session %s: %w", id, err)
	}
	tmp, err := os.CreateTemp(s.dir, "."+id+"-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(out); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path(id))
}

// Delete implements Store
func (s *FileStore) Delete(ctx context.Context, id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	rec, err := s.read(id)
	if err != nil {
		return err
	}
	if err := os.Remove(s.path(id)); err != nil {
		return err
	}
	if s.opts.expired(rec.ExpiresAt) {
		return ErrNotFound
	}
	return nil
}

// List implements Store
func (s *FileStore) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, fileExt) {
			continue
		}
		id := strings.TrimSuffix(name, fileExt)
		rec, err := s.read(id)
		if err != nil || s.opts.expired(rec.ExpiresAt) {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Ping implements Store
func (s *FileStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	_, err := os.Stat(s.dir)
	return err
}

// Close implements Store
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
