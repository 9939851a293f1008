package presence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/themeroom/internal/models"
	"github.com/desertthunder/themeroom/internal/pubsub"
	"github.com/desertthunder/themeroom/internal/shared"
	"golang.org/x/time/rate"
)

// EventKind classifies a roster notification.
type EventKind string

const (
	EventSync            EventKind = "sync"
	EventJoined          EventKind = "joined"
	EventLeft            EventKind = "left"
	EventChannelDown     EventKind = "channel_down"
	EventChannelRestored EventKind = "channel_restored"
)

// Event is delivered to subscribers. Sync events carry the full roster; joined and left carry
// the entry that changed.
type Event struct {
	Kind   EventKind
	Entry  models.PresenceEntry
	Roster []models.PresenceEntry
	Err    error
}

const (
	MsgJoin      = "presence.join"
	MsgHeartbeat = "presence.heartbeat"
	MsgLeave     = "presence.leave"
)

// TrackerOpts configures a [Tracker]. Broker, PlaylistID and Self.UserID are required.
type TrackerOpts struct {
	Broker     pubsub.Broker
	PlaylistID string
	Self       models.PresenceEntry
	Heartbeat  time.Duration // default 30s
	Grace      time.Duration // default 2.5x heartbeat, never below 2x
	Now        func() time.Time
	Logger     *log.Logger
}

// Tracker announces the local user in a playlist room and maintains the room's roster.
// The heartbeat timer and subscription are held between Join and Leave only.
type Tracker struct {
	broker    pubsub.Broker
	topic     string
	heartbeat time.Duration
	grace     time.Duration
	now       func() time.Time
	logger    *log.Logger

	resubscribe *rate.Limiter
	reannounce  *rate.Limiter

	mu        sync.Mutex
	self      models.PresenceEntry
	roster    *Roster
	sub       pubsub.Subscription
	cancel    context.CancelFunc
	joined    bool
	listeners map[chan Event]struct{}
	wg        sync.WaitGroup
}

func NewTracker(opts TrackerOpts) *Tracker {
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 30 * time.Second
	}
	if opts.Grace < 2*opts.Heartbeat {
		opts.Grace = 2*opts.Heartbeat + opts.Heartbeat/2
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}

	return &Tracker{
		broker:      opts.Broker,
		topic:       pubsub.PresenceTopic(opts.PlaylistID),
		heartbeat:   opts.Heartbeat,
		grace:       opts.Grace,
		now:         opts.Now,
		logger:      shared.WithLogger(opts.Logger, "playlist", opts.PlaylistID, "user", opts.Self.UserID),
		resubscribe: rate.NewLimiter(rate.Every(time.Second), 1),
		reannounce:  rate.NewLimiter(rate.Every(time.Second), 3),
		self:        opts.Self,
		roster:      NewRoster(),
		listeners:   make(map[chan Event]struct{}),
	}
}

// Join subscribes to the room and announces the local user. On failure nothing stays held.
func (t *Tracker) Join(ctx context.Context) error {
	t.mu.Lock()
	if t.joined {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	sub, err := t.broker.Subscribe(ctx, t.topic)
	if err != nil {
		return err
	}
	if err := t.announce(ctx, MsgJoin); err != nil {
		_ = sub.Close()
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	t.mu.Lock()
	t.sub, t.cancel, t.joined = sub, cancel, true
	t.mu.Unlock()

	t.wg.Add(1)
	go t.run(runCtx, sub)
	t.logger.Debug("joined room")
	return nil
}

// Leave stops the heartbeat, sends a best-effort leave, and releases the subscription.
// Resources are released even when the leave notification fails.
func (t *Tracker) Leave(ctx context.Context) error {
	t.mu.Lock()
	if !t.joined {
		t.mu.Unlock()
		return nil
	}
	t.joined = false
	cancel := t.cancel
	t.mu.Unlock()

	cancel()
	t.wg.Wait()

	t.mu.Lock()
	sub := t.sub
	t.sub = nil
	t.roster.Reset()
	t.mu.Unlock()

	var errs []error
	if err := t.announce(ctx, MsgLeave); err != nil {
		errs = append(errs, err)
	}
	if sub != nil {
		if err := sub.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close presence subscription: %w", err))
		}
	}
	t.logger.Debug("left room")
	return errors.Join(errs...)
}

// SetCursor updates the local user's position hint and announces it immediately.
func (t *Tracker) SetCursor(ctx context.Context, cursor string) error {
	t.mu.Lock()
	t.self.Cursor = cursor
	joined := t.joined
	t.mu.Unlock()

	if !joined {
		return nil
	}
	return t.announce(ctx, MsgHeartbeat)
}

// Roster returns the present users.
func (t *Tracker) Roster() []models.PresenceEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.roster.Snapshot()
}

// Subscribe returns roster events. Slow readers miss events; the func unsubscribes.
func (t *Tracker) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 32)
	t.mu.Lock()
	t.listeners[ch] = struct{}{}
	t.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.listeners, ch)
			t.mu.Unlock()
			close(ch)
		})
	}
}

// Sweep drops peers silent for longer than the grace period.
func (t *Tracker) Sweep(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	gone := t.roster.Expire(now, t.grace, t.self.UserID)
	for _, e := range gone {
		t.logger.Debug("peer timed out", "peer", e.UserID)
		t.emitLocked(Event{Kind: EventLeft, Entry: e})
	}
	if len(gone) > 0 {
		t.emitLocked(Event{Kind: EventSync, Roster: t.roster.Snapshot()})
	}
}

func (t *Tracker) run(ctx context.Context, sub pubsub.Subscription) {
	defer t.wg.Done()
	ticker := time.NewTicker(t.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := t.announce(ctx, MsgHeartbeat); err != nil {
				t.logger.Warn("heartbeat failed", "err", err)
			}
			t.Sweep(t.now())
		case msg, ok := <-sub.C():
			if !ok {
				if sub = t.reconnect(ctx); sub == nil {
					return
				}
				continue
			}
			t.handle(ctx, msg)
		}
	}
}

// reconnect resubscribes after the broker ended the subscription. It returns nil once ctx is done.
func (t *Tracker) reconnect(ctx context.Context) pubsub.Subscription {
	t.notify(Event{Kind: EventChannelDown, Err: fmt.Errorf("%w: presence subscription ended", shared.ErrChannel)})
	for {
		if err := t.resubscribe.Wait(ctx); err != nil {
			return nil
		}
		sub, err := t.broker.Subscribe(ctx, t.topic)
		if err != nil {
			t.logger.Warn("presence resubscribe failed", "err", err)
			continue
		}

		t.mu.Lock()
		t.sub = sub
		t.mu.Unlock()

		if err := t.announce(ctx, MsgJoin); err != nil {
			t.logger.Warn("re-announce failed", "err", err)
		}
		t.notify(Event{Kind: EventChannelRestored})
		return sub
	}
}

func (t *Tracker) handle(ctx context.Context, msg pubsub.Message) {
	var entry models.PresenceEntry
	if err := msg.Decode(&entry); err != nil || entry.UserID == "" {
		t.logger.Warn("dropping presence message", "type", msg.Type, "err", err)
		return
	}

	t.mu.Lock()
	switch msg.Type {
	case MsgJoin, MsgHeartbeat:
		entry.LastSeen = t.now()
		if t.roster.Upsert(entry) {
			t.emitLocked(Event{Kind: EventJoined, Entry: entry})
			t.emitLocked(Event{Kind: EventSync, Roster: t.roster.Snapshot()})
		}
	case MsgLeave:
		if t.roster.Remove(entry.UserID) {
			t.emitLocked(Event{Kind: EventLeft, Entry: entry})
			t.emitLocked(Event{Kind: EventSync, Roster: t.roster.Snapshot()})
		}
	}
	newcomer := msg.Type == MsgJoin && entry.UserID != t.self.UserID
	t.mu.Unlock()

	// Answer a newcomer so it learns the roster without waiting a full interval.
	if newcomer && t.reannounce.Allow() {
		if err := t.announce(ctx, MsgHeartbeat); err != nil {
			t.logger.Warn("re-announce failed", "err", err)
		}
	}
}

func (t *Tracker) announce(ctx context.Context, typ string) error {
	t.mu.Lock()
	self := t.self
	t.mu.Unlock()

	self.LastSeen = t.now().UTC()
	msg, err := pubsub.NewMessage(t.topic, typ, self.UserID, self)
	if err != nil {
		return err
	}
	return t.broker.Publish(ctx, msg)
}

func (t *Tracker) notify(ev Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.emitLocked(ev)
}

func (t *Tracker) emitLocked(ev Event) {
	for ch := range t.listeners {
		select {
		case ch <- ev:
		default:
		}
	}
}
