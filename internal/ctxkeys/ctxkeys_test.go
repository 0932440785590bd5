package ctxkeys

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeys(t *testing.T) {
	ctx := context.Background()

	_, ok := RequestID(ctx)
	assert.False(t, ok)

	ctx = WithRequestID(ctx, "req-1")
	ctx = WithSessionID(ctx, "sess-1")
	ctx = WithSubject(ctx, "alice")

	id, ok := RequestID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "req-1", id)

	sid, ok := SessionID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "sess-1", sid)

	sub, ok := Subject(ctx)
	assert.True(t, ok)
	assert.Equal(t, "alice", sub)
}

func TestEmptyValueIsAbsent(t *testing.T) {
	ctx := WithSessionID(context.Background(), "")
	_, ok := SessionID(ctx)
	assert.False(t, ok)
}
