package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/snehaltandel/process-map-agent/coach"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type recordedOp struct {
	backend, operation, status string
}

type fakeRecorder struct {
	mu  sync.Mutex
	ops []recordedOp
}

func (r *fakeRecorder) RecordSessionOperation(backend, operation, status string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, recordedOp{backend, operation, status})
}

func TestInstrument_RecordsOperations(t *testing.T) {
	ctx := context.Background()
	rec := &fakeRecorder{}
	core, logs := observer.New(zap.DebugLevel)
	store := Instrument(NewMemoryStore(), TypeMemory, rec, zap.New(core))

	require.NoError(t, store.Save(ctx, "a", coach.NewState()))
	_, err := store.Load(ctx, "a")
	require.NoError(t, err)
	_, err = store.Load(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.List(ctx)
	require.NoError(t, err)
	assert.ErrorIs(t, store.Delete(ctx, "bad/id"), ErrInvalidID)

	assert.Equal(t, []recordedOp{
		{"memory", "save", "success"},
		{"memory", "load", "success"},
		{"memory", "load", "not_found"},
		{"memory", "list", "success"},
		{"memory", "delete", "error"},
	}, rec.ops)

	warns := logs.FilterLevelExact(zap.WarnLevel).All()
	require.Len(t, warns, 1)
	assert.Equal(t, "session operation failed", warns[0].Message)
}

func TestInstrument_NilRecorderAndLogger(t *testing.T) {
	store := Instrument(NewMemoryStore(), TypeMemory, nil, nil)
	require.NoError(t, store.Save(context.Background(), "a", nil))
	require.NoError(t, store.Ping(context.Background()))
	require.NoError(t, store.Close())
}
