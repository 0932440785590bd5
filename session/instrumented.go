package session

import (
	"context"
	"errors"
	"time"

	"github.com/snehaltandel/process-map-agent/coach"
	"go.uber.org/zap"
)

// Recorder receives one observation per store operation.
type Recorder interface {
	RecordSessionOperation(backend, operation, status string, duration time.Duration)
}

// instrumented decorates a Store with metrics and debug logging.
type instrumented struct {
	Store
	backend  string
	recorder Recorder
	logger   *zap.Logger
}

// Instrument wraps store so each operation is recorded. status is one of
// success, not_found or error.
func Instrument(store Store, backend Type, recorder Recorder, logger *zap.Logger) Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &instrumented{
		Store:    store,
		backend:  string(backend),
		recorder: recorder,
		logger:   logger.With(zap.String("component", "session_store"), zap.String("backend", string(backend))),
	}
}

func (s *instrumented) observe(op, id string, start time.Time, err error) {
	status := "success"
	switch {
	case errors.Is(err, ErrNotFound):
		status = "not_found"
	case err != nil:
		status = "error"
	}
	d := time.Since(start)
	if s.recorder != nil {
		s.recorder.RecordSessionOperation(s.backend, op, status, d)
	}
	if status == "error" {
		s.logger.Warn("session operation failed", zap.String("op", op), zap.String("session_id", id), zap.Error(err))
		return
	}
	s.logger.Debug("session operation", zap.String("op", op), zap.String("session_id", id),
		zap.String("status", status), zap.Duration("duration", d))
}

func (s *instrumented) Load(ctx context.Context, id string) (*coach.State, error) {
	start := time.Now()
	state, err := s.Store.Load(ctx, id)
	s.observe("load", id, start, err)
	return state, err
}

func (s *instrumented) Save(ctx context.Context, id string, state *coach.State) error {
	start := time.Now()
	err := s.Store.Save(ctx, id, state)
	s.observe("save", id, start, err)
	return err
}

func (s *instrumented) Delete(ctx context.Context, id string) error {
	start := time.Now()
	err := s.Store.Delete(ctx, id)
	s.observe("delete", id, start, err)
	return err
}

func (s *instrumented) List(ctx context.Context) ([]string, error) {
	start := time.Now()
	ids, err := s.Store.List(ctx)
	s.observe("list", "", start, err)
	return ids, err
}
