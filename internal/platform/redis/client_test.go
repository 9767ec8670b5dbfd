package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	mr := miniredis.RunT(t)

	c, err := New(context.Background(), "redis://"+mr.Addr()+"/0", WithPoolSize(4), WithTimeouts(time.Second, time.Second, time.Second))
	require.NoError(t, err)
	defer c.Close()

	assert.NoError(t, c.Health(context.Background()))
	assert.Equal(t, 4, c.Options().PoolSize)
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New(context.Background(), "")
	assert.Error(t, err)

	_, err = New(context.Background(), "mysql://nope")
	assert.ErrorContains(t, err, "parse redis URL")
}

func TestNewFailsWhenUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := New(context.Background(), "redis://"+addr, WithTimeouts(200*time.Millisecond, 200*time.Millisecond, 200*time.Millisecond))
	assert.ErrorContains(t, err, "redis ping failed")
}
