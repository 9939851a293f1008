package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/themeroom/internal/changes"
	"github.com/desertthunder/themeroom/internal/collab"
	"github.com/desertthunder/themeroom/internal/identity"
	"github.com/desertthunder/themeroom/internal/models"
	"github.com/desertthunder/themeroom/internal/presence"
	"github.com/desertthunder/themeroom/internal/pubsub"
	"github.com/desertthunder/themeroom/internal/shared"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// Middleware wraps an http.Handler and returns a new http.Handler with additional behavior.
type Middleware func(http.Handler) http.Handler

// Handler is an http.Handler that knows the paths it serves.
type Handler interface {
	http.Handler
	Routes() []string
}

// CallbackRouter mounts h on every route it declares.
func CallbackRouter(h Handler, middlewares ...Middleware) chi.Router {
	r := chi.NewRouter()
	for _, mw := range middlewares {
		r.Use(mw)
	}
	for _, route := range h.Routes() {
		r.Handle(route, h)
	}
	return r
}

type RelayOpts struct {
	Store          collab.Store
	Broker         pubsub.Broker
	Signer         *identity.Signer
	AllowedOrigins []string
	Logger         *log.Logger
	Now            func() time.Time
}

// Relay bridges browser peers to the broker. Each playlist with at least one connected socket
// has a room: a [Hub] plus subscriptions on the playlist's presence and change topics.
type Relay struct {
	store    collab.Store
	broker   pubsub.Broker
	signer   *identity.Signer
	workflow *collab.Workflow
	origins  []string
	logger   *log.Logger
	now      func() time.Time
	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	rooms map[string]*room
	wg    sync.WaitGroup
}

type room struct {
	hub     *Hub
	members int
	cancel  context.CancelFunc
}

func NewRelay(opts RelayOpts) *Relay {
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Relay{
		store:  opts.Store,
		broker: opts.Broker,
		signer: opts.Signer,
		workflow: collab.NewWorkflow(collab.WorkflowOpts{
			Store:    opts.Store,
			Identity: identity.Context{},
			Logger:   opts.Logger,
			Now:      opts.Now,
		}),
		origins: opts.AllowedOrigins,
		logger:  shared.WithLogger(opts.Logger, "component", "relay"),
		now:     opts.Now,
		ctx:     ctx,
		cancel:  cancel,
		rooms:   make(map[string]*room),
	}
	r.upgrader = websocket.Upgrader{CheckOrigin: r.checkOrigin}
	return r
}

// checkOrigin allows configured origins ("*" allows any), requests without an Origin header,
// and same-host origins.
func (r *Relay) checkOrigin(req *http.Request) bool {
	origin := req.Header.Get("Origin")
	if origin == "" || slices.Contains(r.origins, "*") || slices.Contains(r.origins, origin) {
		return true
	}
	u, err := url.Parse(origin)
	return err == nil && strings.EqualFold(u.Host, req.Host)
}

// Rooms reports how many playlist rooms are open.
func (r *Relay) Rooms() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// Close drops every socket and releases every subscription.
func (r *Relay) Close() error {
	r.cancel()
	r.wg.Wait()
	r.mu.Lock()
	clear(r.rooms)
	r.mu.Unlock()
	return nil
}

// acquire joins the room for playlistID, opening it on first use.
func (r *Relay) acquire(playlistID string) (*Hub, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: relay closed", shared.ErrServiceUnavailable)
	}
	if rm, ok := r.rooms[playlistID]; ok {
		rm.members++
		return rm.hub, nil
	}

	ctx, cancel := context.WithCancel(r.ctx)
	var subs []pubsub.Subscription
	for _, topic := range []string{pubsub.PresenceTopic(playlistID), pubsub.ChangesTopic(playlistID)} {
		sub, err := r.broker.Subscribe(ctx, topic)
		if err != nil {
			cancel()
			for _, s := range subs {
				_ = s.Close()
			}
			return nil, err
		}
		subs = append(subs, sub)
	}

	hub := NewHub(playlistID, shared.WithLogger(r.logger, "playlist", playlistID))
	r.wg.Add(1 + len(subs))
	go func() {
		defer r.wg.Done()
		hub.Run(ctx)
	}()
	for _, sub := range subs {
		go func() {
			defer r.wg.Done()
			r.bridge(ctx, sub, hub)
		}()
	}

	r.rooms[playlistID] = &room{hub: hub, members: 1, cancel: cancel}
	r.logger.Info("room opened", "playlist", playlistID)
	return hub, nil
}

// release leaves the room and closes it when the last member is gone.
func (r *Relay) release(playlistID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[playlistID]
	if !ok {
		return
	}
	rm.members--
	if rm.members > 0 {
		return
	}
	rm.cancel()
	delete(r.rooms, playlistID)
	r.logger.Info("room closed", "playlist", playlistID)
}

// bridge forwards one topic to the hub, resubscribing when the broker drops the subscription.
func (r *Relay) bridge(ctx context.Context, sub pubsub.Subscription, hub *Hub) {
	limiter := rate.NewLimiter(rate.Every(time.Second), 1)
	topic := ""
	defer func() { _ = sub.Close() }()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.C():
			if ok {
				topic = msg.Topic
				data, err := json.Marshal(msg)
				if err != nil {
					continue
				}
				hub.Broadcast(data)
				continue
			}
		}

		if topic == "" {
			topic = pubsub.ChangesTopic(hub.playlistID)
		}
		r.logger.Warn("relay subscription lost", "topic", topic)
		next, err := r.resubscribe(ctx, limiter, topic)
		if err != nil {
			return
		}
		sub = next
	}
}

func (r *Relay) resubscribe(ctx context.Context, limiter *rate.Limiter, topic string) (pubsub.Subscription, error) {
	for {
		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}
		sub, err := r.broker.Subscribe(ctx, topic)
		if err == nil {
			return sub, nil
		}
		r.logger.Warn("relay resubscribe failed", "topic", topic, "err", err)
	}
}

// envelope is what sockets send. Payload is checked against the socket's identity before it
// is published.
type envelope struct {
	Topic   string          `json:"topic"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type errorFrame struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// inbound publishes a socket frame on the broker. Presence frames are stamped with the socket's
// user. Change frames may only re-announce a stored record written by that user.
func (r *Relay) inbound(c *Client, data []byte) {
	if err := r.publishFrame(c, data); err != nil {
		r.logger.Debug("rejected frame", "playlist", c.hub.playlistID, "user", c.userID, "err", err)
		if b, mErr := json.Marshal(errorFrame{Type: "error", Error: err.Error()}); mErr == nil {
			c.reply(b)
		}
	}
}

func (r *Relay) publishFrame(c *Client, data []byte) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("%w: malformed frame", shared.ErrInvalidInput)
	}

	ctx, cancel := context.WithTimeout(identity.NewContext(r.ctx, c.userID), 5*time.Second)
	defer cancel()
	playlistID := c.hub.playlistID

	switch env.Topic {
	case pubsub.PresenceTopic(playlistID):
		if env.Type != presence.MsgJoin && env.Type != presence.MsgHeartbeat && env.Type != presence.MsgLeave {
			return fmt.Errorf("%w: presence type %q", shared.ErrInvalidInput, env.Type)
		}
		var entry models.PresenceEntry
		if len(env.Payload) > 0 {
			_ = json.Unmarshal(env.Payload, &entry)
		}
		entry.UserID = c.userID
		if entry.DisplayName == "" {
			entry.DisplayName = c.name
		}
		entry.LastSeen = r.now().UTC()
		msg, err := pubsub.NewMessage(env.Topic, env.Type, c.userID, entry)
		if err != nil {
			return err
		}
		c.present = env.Type != presence.MsgLeave
		return r.broker.Publish(ctx, msg)

	case pubsub.ChangesTopic(playlistID):
		var rec models.ChangeRecord
		if err := json.Unmarshal(env.Payload, &rec); err != nil || rec.ID == "" {
			return fmt.Errorf("%w: change frame needs a record", shared.ErrInvalidInput)
		}
		if rec.UserID != c.userID || rec.PlaylistID != playlistID {
			return fmt.Errorf("%w: record belongs to someone else", shared.ErrUnauthorized)
		}
		stored, err := r.storedChange(ctx, playlistID, rec.ID)
		if err != nil {
			return err
		}
		msg, err := pubsub.NewMessage(env.Topic, changes.MessageType, c.userID, stored)
		if err != nil {
			return err
		}
		return r.broker.Publish(ctx, msg)
	}
	return fmt.Errorf("%w: topic %q is not part of this room", shared.ErrUnauthorized, env.Topic)
}

func (r *Relay) storedChange(ctx context.Context, playlistID, id string) (*models.ChangeRecord, error) {
	recent, err := r.store.RecentChanges(ctx, playlistID, 100)
	if err != nil {
		return nil, err
	}
	for i := range recent {
		if recent[i].ID == id {
			return &recent[i], nil
		}
	}
	return nil, fmt.Errorf("%w: change %s", shared.ErrNotFound, id)
}

// goodbye announces a leave for sockets that dropped while present.
func (r *Relay) goodbye(c *Client) {
	if !c.present {
		return
	}
	msg, err := pubsub.NewMessage(pubsub.PresenceTopic(c.hub.playlistID), presence.MsgLeave, c.userID, models.PresenceEntry{UserID: c.userID})
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.broker.Publish(ctx, msg); err != nil && !errors.Is(err, context.Canceled) {
		r.logger.Debug("leave not published", "user", c.userID, "err", err)
	}
}
