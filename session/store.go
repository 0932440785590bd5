// Package session persists coach sessions by ID.
//
// Supported backends:
//   - memory: development and tests (default)
//   - file: one JSON document per session, single node
//   - redis: shared cache with native expiry
//   - database: gorm over postgres, mysql or sqlite
//   - mongo: one document per session
//
// Every backend stores the state in its map form (coach.State JSON), so a
// session written by one backend can be read by any other.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/snehaltandel/process-map-agent/coach"
)

// Common errors
var (
	ErrNotFound    = errors.New("session not found")
	ErrStoreClosed = errors.New("session store is closed")
	ErrInvalidID   = errors.New("invalid session id")
)

// Type is the storage backend type
type Type string

const (
	TypeMemory   Type = "memory"
	TypeFile     Type = "file"
	TypeRedis    Type = "redis"
	TypeDatabase Type = "database"
	TypeMongo    Type = "mongo"
)

// Store persists coach state by session ID. It satisfies coach.StateStore.
type Store interface {
	// Load returns ErrNotFound for missing or expired sessions.
	Load(ctx context.Context, id string) (*coach.State, error)
	// Save creates or replaces the session and refreshes its expiry.
	Save(ctx context.Context, id string, state *coach.State) error
	// Delete returns ErrNotFound when nothing was removed.
	Delete(ctx context.Context, id string) error
	// List returns live session IDs in ascending order.
	List(ctx context.Context) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}

var _ coach.StateStore = Store(nil)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

// ValidateID rejects IDs that are empty, too long, or unsafe as file names.
func ValidateID(id string) error {
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// options shared by all backends
type options struct {
	ttl time.Duration
	now func() time.Time
}

// Option configures a store
type Option func(*options)

// WithTTL expires sessions ttl after their last save; 0 keeps them forever.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) { o.ttl = ttl }
}

// WithClock overrides time.Now for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) expiry(from time.Time) *time.Time {
	if o.ttl <= 0 {
		return nil
	}
	t := from.Add(o.ttl)
	return &t
}

func (o options) expired(expiresAt *time.Time) bool {
	return expiresAt != nil && !o.now().Before(*expiresAt)
}

// record is the serialized form shared by the file, redis and mongo backends.
type record struct {
	ID        string          `json:"id"`
	State     json.RawMessage `json:"state"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
}

func encodeState(state *coach.State) ([]byte, error) {
	if state == nil {
		state = coach.NewState()
	}
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("encode session state: %w", err)
	}
	return data, nil
}

func decodeState(data []byte) (*coach.State, error) {
	state := coach.NewState()
	if err := json.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("decode session state: %w", err)
	}
	return state, nil
}
