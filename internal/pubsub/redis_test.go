package pubsub

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/desertthunder/themeroom/internal/shared"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisBroker(t *testing.T) (*RedisBroker, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	b := NewRedisBroker(rdb, shared.NewLogger(io.Discard))
	t.Cleanup(func() { _ = b.Close() })
	return b, mr
}

func TestRedisBroker(t *testing.T) {
	ctx := context.Background()

	t.Run("round trip", func(t *testing.T) {
		b, _ := newRedisBroker(t)

		sub, err := b.Subscribe(ctx, PresenceTopic("p1"))
		require.NoError(t, err)
		defer sub.Close()

		msg, err := NewMessage(PresenceTopic("p1"), "heartbeat", "u1", map[string]string{"userId": "u1"})
		require.NoError(t, err)
		require.NoError(t, b.Publish(ctx, msg))

		got := receive(t, sub)
		assert.Equal(t, PresenceTopic("p1"), got.Topic)
		assert.Equal(t, "heartbeat", got.Type)
		assert.JSONEq(t, `{"userId":"u1"}`, string(got.Payload))
	})

	t.Run("malformed payloads are skipped", func(t *testing.T) {
		b, mr := newRedisBroker(t)

		sub, err := b.Subscribe(ctx, "t")
		require.NoError(t, err)
		defer sub.Close()

		mr.Publish("t", "not json")
		require.NoError(t, b.Publish(ctx, Message{Topic: "t", Type: "ok"}))

		got := receive(t, sub)
		assert.Equal(t, "ok", got.Type)
	})

	t.Run("close ends the channel", func(t *testing.T) {
		b, _ := newRedisBroker(t)

		sub, err := b.Subscribe(ctx, "t")
		require.NoError(t, err)
		require.NoError(t, sub.Close())

		for range sub.C() {
		}
	})

	t.Run("publish after close is a channel error", func(t *testing.T) {
		b, _ := newRedisBroker(t)
		require.NoError(t, b.Close())

		err := b.Publish(ctx, Message{Topic: "t"})
		assert.True(t, errors.Is(err, shared.ErrChannel))
	})

	t.Run("DialRedis", func(t *testing.T) {
		mr, err := miniredis.Run()
		require.NoError(t, err)
		defer mr.Close()

		rdb, err := DialRedis(ctx, shared.BrokerConfig{RedisAddr: mr.Addr()})
		require.NoError(t, err)
		require.NoError(t, rdb.Close())

		mr.Close()
		_, err = DialRedis(ctx, shared.BrokerConfig{RedisAddr: mr.Addr()})
		assert.True(t, errors.Is(err, shared.ErrServiceUnavailable))
	})
}
