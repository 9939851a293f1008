package changes

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/themeroom/internal/models"
	"github.com/desertthunder/themeroom/internal/pubsub"
	"github.com/desertthunder/themeroom/internal/shared"
	"golang.org/x/time/rate"
)

type FeedEventKind int

const (
	FeedRecord FeedEventKind = iota
	FeedDown
	FeedRestored
)

// FeedEvent is either a record or a channel status change. Records missed while the
// channel was down are not replayed; a restored feed means the subscriber should re-read.
type FeedEvent struct {
	Kind   FeedEventKind
	Record models.ChangeRecord
	Err    error
}

const seenWindow = 256

// Feed delivers decoded change records for one playlist in arrival order, skipping ids it has
// already delivered. It resubscribes on its own when the broker ends the subscription.
type Feed struct {
	broker pubsub.Broker
	topic  string
	logger *log.Logger
	retry  *rate.Limiter

	out    chan FeedEvent
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once

	mu   sync.Mutex
	sub  pubsub.Subscription
	seen map[string]struct{}
	ring *shared.RingBuffer[string]
}

func openFeed(ctx context.Context, broker pubsub.Broker, playlistID string, logger *log.Logger) (*Feed, error) {
	topic := pubsub.ChangesTopic(playlistID)
	sub, err := broker.Subscribe(ctx, topic)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	f := &Feed{
		broker: broker,
		topic:  topic,
		logger: shared.WithLogger(logger, "playlist", playlistID),
		retry:  rate.NewLimiter(rate.Every(time.Second), 1),
		out:    make(chan FeedEvent, 64),
		cancel: cancel,
		sub:    sub,
		seen:   make(map[string]struct{}),
		ring:   shared.NewRingBuffer[string](seenWindow),
	}
	f.wg.Add(1)
	go f.run(runCtx, sub)
	return f, nil
}

// C returns the event stream. It is closed by [Feed.Close].
func (f *Feed) C() <-chan FeedEvent { return f.out }

// Close stops the feed and releases its subscription. It is safe to call more than once.
func (f *Feed) Close() error {
	var err error
	f.once.Do(func() {
		f.cancel()
		f.wg.Wait()

		f.mu.Lock()
		sub := f.sub
		f.sub = nil
		f.mu.Unlock()
		if sub != nil {
			err = sub.Close()
		}
		close(f.out)
	})
	return err
}

func (f *Feed) run(ctx context.Context, sub pubsub.Subscription) {
	defer f.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.C():
			if !ok {
				if sub = f.reconnect(ctx); sub == nil {
					return
				}
				continue
			}
			if msg.Type != MessageType {
				continue
			}
			var rec models.ChangeRecord
			if err := msg.Decode(&rec); err != nil || rec.ID == "" {
				f.logger.Warn("dropping change message", "err", err)
				continue
			}
			if !f.markSeen(rec.ID) {
				continue
			}
			if !f.emit(ctx, FeedEvent{Kind: FeedRecord, Record: rec}) {
				return
			}
		}
	}
}

func (f *Feed) reconnect(ctx context.Context) pubsub.Subscription {
	down := fmt.Errorf("%w: change subscription ended", shared.ErrChannel)
	if !f.emit(ctx, FeedEvent{Kind: FeedDown, Err: down}) {
		return nil
	}
	for {
		if err := f.retry.Wait(ctx); err != nil {
			return nil
		}
		sub, err := f.broker.Subscribe(ctx, f.topic)
		if err != nil {
			f.logger.Warn("change resubscribe failed", "err", err)
			continue
		}
		f.mu.Lock()
		f.sub = sub
		f.mu.Unlock()

		f.emit(ctx, FeedEvent{Kind: FeedRestored})
		return sub
	}
}

// markSeen reports whether id is new within the recent window.
func (f *Feed) markSeen(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, dup := f.seen[id]; dup {
		return false
	}
	f.seen[id] = struct{}{}
	if old, ok := f.ring.Push(id); ok {
		delete(f.seen, old)
	}
	return true
}

func (f *Feed) emit(ctx context.Context, ev FeedEvent) bool {
	select {
	case f.out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
