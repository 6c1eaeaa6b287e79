package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCache_LocalWhenNoRedis(t *testing.T) {
	c, err := NewCache(CacheConfig{})
	require.NoError(t, err)

	ctx := context.Background()
	_, err = c.Get(ctx, "missing")
	assert.True(t, IsNotFound(err))
	assert.False(t, IsNotFound(errors.New("boom")))

	n, err := c.Incr(ctx, "audit:seq:20261014", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestNewPubSub_LocalRelay(t *testing.T) {
	ps, err := NewPubSub(CacheConfig{LocalPubSubBuf: 8})
	require.NoError(t, err)

	ctx := context.Background()
	ch, cancel, err := ps.Subscribe(ctx, "audit:events")
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, ps.Publish(ctx, "audit:events", "payload"))
	select {
	case m := <-ch:
		assert.Equal(t, "payload", m.Payload)
	case <-time.After(time.Second):
		t.Fatal("no message relayed")
	}
}
