package session

import (
	"context"
	"fmt"

	"github.com/snehaltandel/process-map-agent/config"
	"github.com/snehaltandel/process-map-agent/internal/database"
	"go.uber.org/zap"
)

// New creates the store selected by cfg.Session.Store.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []Option{WithTTL(cfg.Session.TTL)}

	switch Type(cfg.Session.Store) {
	case TypeMemory, "":
		return NewMemoryStore(opts...), nil
	case TypeFile:
		return NewFileStore(cfg.Session.Dir, opts...)
	case TypeRedis:
		return DialRedis(ctx, cfg.Redis, cfg.Session.KeyPrefix, opts...)
	case TypeDatabase:
		pool, err := database.Open(cfg.Database, logger)
		if err != nil {
			return nil, err
		}
		store, err := NewSQLStore(pool.DB(), cfg.Database.AutoMigrate, opts, WithCloser(pool.Close))
		if err != nil {
			pool.Close()
			return nil, err
		}
		return store, nil
	case TypeMongo:
		return DialMongo(ctx, cfg.Mongo, opts...)
	default:
		return nil, fmt.Errorf("unsupported session store type: %s", cfg.Session.Store)
	}
}
