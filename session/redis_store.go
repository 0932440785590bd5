package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/snehaltandel/process-map-agent/coach"
	"github.com/snehaltandel/process-map-agent/config"
	"github.com/snehaltandel/process-map-agent/internal/tlsutil"
)

// DefaultKeyPrefix is used when no prefix is configured
const DefaultKeyPrefix = "cicoach:session:"

// RedisStore keeps each session under its own key with native expiry and a
// set index for listing.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
	opts      options
	ownClient bool
}

// NewRedisStore wraps an existing client; Close leaves the client open.
func NewRedisStore(client redis.UniversalClient, keyPrefix string, opts ...Option) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix, opts: buildOptions(opts)}
}

// DialRedis connects using the redis config section and verifies the connection.
func DialRedis(ctx context.Context, cfg config.RedisConfig, keyPrefix string, opts ...Option) (*RedisStore, error) {
	redisOpts := &redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	}
	if cfg.TLS {
		host, _, err := net.SplitHostPort(cfg.Addr)
		if err != nil {
			host = cfg.Addr
		}
		redisOpts.TLSConfig = tlsutil.ClientTLSConfig(host)
	}
	client := redis.NewClient(redisOpts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	store := NewRedisStore(client, keyPrefix, opts...)
	store.ownClient = true
	return store, nil
}

func (s *RedisStore) dataKey(id string) string { return s.keyPrefix + "data:" + id }
func (s *RedisStore) indexKey() string         { return s.keyPrefix + "index" }

// Load implements Store
func (s *RedisStore) Load(ctx context.Context, id string) (*coach.State, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	data, err := s.client.Get(ctx, s.dataKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return decodeState(rec.State)
}

// Save implements Store
func (s *RedisStore) Save(ctx context.Context, id string, state *coach.State) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	data, err := encodeState(state)
	if err != nil {
		return err
	}

	now := s.opts.now()
	rec := record{ID: id, State: data, CreatedAt: now, UpdatedAt: now, ExpiresAt: s.opts.expiry(now)}
	if prev, err := s.client.Get(ctx, s.dataKey(id)).Bytes(); err == nil {
		var old record
		if json.Unmarshal(prev, &old) == nil && !old.CreatedAt.IsZero() {
			rec.CreatedAt = old.CreatedAt
		}
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", id, err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.dataKey(id), payload, s.opts.ttl)
	pipe.SAdd(ctx, s.indexKey(), id)
	_, err = pipe.Exec(ctx)
	return err
}

// Delete implements Store
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, s.dataKey(id))
	pipe.SRem(ctx, s.indexKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	if del.Val() == 0 {
		return ErrNotFound
	}
	return nil
}

// List implements Store; index members whose key has expired are pruned.
func (s *RedisStore) List(ctx context.Context) ([]string, error) {
	members, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(members))
	var stale []any
	for _, id := range members {
		n, err := s.client.Exists(ctx, s.dataKey(id)).Result()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			stale = append(stale, id)
			continue
		}
		ids = append(ids, id)
	}
	if len(stale) > 0 {
		s.client.SRem(ctx, s.indexKey(), stale...)
	}
	sort.Strings(ids)
	return ids, nil
}

// Ping implements Store
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close implements Store
func (s *RedisStore) Close() error {
	if s.ownClient {
		return s.client.Close()
	}
	return nil
}
