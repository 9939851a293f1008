package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/themeroom/internal/shared"
	"github.com/redis/go-redis/v9"
)

// RedisBroker carries messages as JSON over Redis PUBLISH/SUBSCRIBE so sessions in
// different processes share a room.
type RedisBroker struct {
	rdb    *redis.Client
	logger *log.Logger
}

// DialRedis connects to the configured Redis and verifies it answers.
func DialRedis(ctx context.Context, cfg shared.BrokerConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("%w: redis at %s: %v", shared.ErrServiceUnavailable, cfg.RedisAddr, err)
	}
	return rdb, nil
}

func NewRedisBroker(rdb *redis.Client, logger *log.Logger) *RedisBroker {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &RedisBroker{rdb: rdb, logger: logger}
}

type redisSub struct {
	ps   *redis.PubSub
	out  chan Message
	done chan struct{}
	once sync.Once
}

func (s *redisSub) C() <-chan Message { return s.out }

func (s *redisSub) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}

// Subscribe waits for Redis to confirm the subscription before returning.
func (b *RedisBroker) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	ps := b.rdb.Subscribe(ctx, topic)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, channelErr("subscribe", topic, err)
	}

	sub := &redisSub{ps: ps, out: make(chan Message, defaultBuffer), done: make(chan struct{})}
	go b.pump(sub, topic)
	return sub, nil
}

func (b *RedisBroker) pump(sub *redisSub, topic string) {
	defer close(sub.out)

	for raw := range sub.ps.Channel() {
		var msg Message
		if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
			b.logger.Warn("dropping malformed message", "topic", topic, "err", err)
			continue
		}
		if msg.Topic == "" {
			msg.Topic = raw.Channel
		}

		select {
		case sub.out <- msg:
		case <-sub.done:
			return
		}
	}
}

func (b *RedisBroker) Publish(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	if err := b.rdb.Publish(ctx, msg.Topic, data).Err(); err != nil {
		return channelErr("publish", msg.Topic, err)
	}
	return nil
}

func (b *RedisBroker) Close() error {
	return b.rdb.Close()
}
