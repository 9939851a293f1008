package collab

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/themeroom/internal/changes"
	"github.com/desertthunder/themeroom/internal/models"
	"github.com/desertthunder/themeroom/internal/playback"
	"github.com/desertthunder/themeroom/internal/presence"
	"github.com/desertthunder/themeroom/internal/pubsub"
	"github.com/desertthunder/themeroom/internal/shared"
)

// EventKind names a session notification.
type EventKind string

const (
	EventChangeApplied   EventKind = "change_applied"
	EventPresenceChanged EventKind = "presence_changed"
	EventMetadataChanged EventKind = "metadata_changed"
	EventChannelDown     EventKind = "channel_down"
	EventChannelRestored EventKind = "channel_restored"
)

// Event is published on the session's bus. Only the fields relevant to Kind are set.
type Event struct {
	Kind     EventKind
	Change   *models.ChangeRecord
	Scope    changes.Scope
	Entry    *presence.Event
	Roster   []models.PresenceEntry
	Playlist *models.Playlist
	Err      error
}

type SessionOpts struct {
	PlaylistID  string
	DisplayName string

	Workflow    *Workflow
	Store       Store
	Broker      pubsub.Broker
	Broadcaster *changes.Broadcaster
	Transport   *playback.Transport

	Heartbeat   time.Duration
	Grace       time.Duration
	RecentLimit int
	Logger      *log.Logger
	Now         func() time.Time
}

// Session is one user's live view of a shared playlist. It owns a presence tracker, a change
// feed and an event bus, all acquired by Start and released by Stop.
type Session struct {
	opts   SessionOpts
	logger *log.Logger

	mu        sync.Mutex
	started   bool
	stopped   bool
	user      string
	playlist  models.Playlist
	tracker   *presence.Tracker
	feed      *changes.Feed
	activity  *shared.RingBuffer[models.ChangeRecord]
	listeners map[chan Event]struct{}
	cleanup   []func()
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func NewSession(opts SessionOpts) *Session {
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.RecentLimit <= 0 {
		opts.RecentLimit = 50
	}
	return &Session{
		opts:      opts,
		logger:    shared.WithLogger(opts.Logger, "playlist", opts.PlaylistID),
		activity:  shared.NewRingBuffer[models.ChangeRecord](opts.RecentLimit),
		listeners: make(map[chan Event]struct{}),
	}
}

// Start loads the canonical order into the transport, joins the presence room and subscribes
// to changes. On failure everything acquired so far is released.
func (s *Session) Start(ctx context.Context) (err error) {
	s.mu.Lock()
	switch {
	case s.stopped:
		s.mu.Unlock()
		return shared.ErrSessionClosed
	case s.started:
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	user, err := s.opts.Workflow.currentUser(ctx)
	if err != nil {
		return err
	}
	p, err := s.opts.Store.GetPlaylist(ctx, s.opts.PlaylistID)
	if err != nil {
		return err
	}
	if ok, err := s.opts.Workflow.CanView(ctx, p, user); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("%w: %s has no access to %s", shared.ErrUnauthorized, user, p.ID)
	}

	tracks, err := s.opts.Store.PlaylistTracks(ctx, p.ID)
	if err != nil {
		return err
	}
	if err := s.opts.Transport.SetQueue(tracks); err != nil {
		return err
	}

	recent, err := s.opts.Store.RecentChanges(ctx, p.ID, s.opts.RecentLimit)
	if err != nil {
		return err
	}
	for _, rec := range slices.Backward(recent) {
		s.activity.Push(rec)
	}

	var cleanup []func()
	defer func() {
		if err != nil {
			for _, fn := range slices.Backward(cleanup) {
				fn()
			}
		}
	}()

	tracker := presence.NewTracker(presence.TrackerOpts{
		Broker:     s.opts.Broker,
		PlaylistID: p.ID,
		Self:       models.PresenceEntry{UserID: user, DisplayName: s.opts.DisplayName},
		Heartbeat:  s.opts.Heartbeat,
		Grace:      s.opts.Grace,
		Now:        s.opts.Now,
		Logger:     s.opts.Logger,
	})
	presenceEvents, unsubPresence := tracker.Subscribe()
	cleanup = append(cleanup, unsubPresence)
	if err = tracker.Join(ctx); err != nil {
		return err
	}
	cleanup = append(cleanup, func() { _ = tracker.Leave(context.Background()) })

	feed, err := s.opts.Broadcaster.Subscribe(ctx, p.ID)
	if err != nil {
		return err
	}
	cleanup = append(cleanup, func() { _ = feed.Close() })

	snapshots, unsubTransport := s.opts.Transport.Subscribe()
	runCtx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.user, s.playlist = user, *p
	s.tracker, s.feed = tracker, feed
	s.cleanup = []func(){unsubTransport, unsubPresence}
	s.cancel, s.started = cancel, true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(runCtx, feed, presenceEvents, snapshots)
	s.logger.Info("session started", "user", user, "tracks", len(tracks))
	return nil
}

// Stop leaves the room and releases the change subscription. It is safe to call on every
// exit path, including after a failed Start.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.stopped = true
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	cancel, tracker, feed, cleanup := s.cancel, s.tracker, s.feed, s.cleanup
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	for _, fn := range cleanup {
		fn()
	}

	var errs []error
	if err := feed.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := tracker.Leave(ctx); err != nil {
		errs = append(errs, err)
	}

	s.mu.Lock()
	for ch := range s.listeners {
		delete(s.listeners, ch)
		close(ch)
	}
	s.mu.Unlock()

	s.logger.Info("session stopped")
	return errors.Join(errs...)
}

// Events subscribes to the session bus. Slow readers miss events. The channel is closed by
// the returned func or by Stop.
func (s *Session) Events() (<-chan Event, func()) {
	ch := make(chan Event, 64)
	s.mu.Lock()
	s.listeners[ch] = struct{}{}
	s.mu.Unlock()

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.listeners[ch]; ok {
			delete(s.listeners, ch)
			close(ch)
		}
	}
}

func (s *Session) emit(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.listeners {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (s *Session) run(ctx context.Context, feed *changes.Feed, presenceEvents <-chan presence.Event, snapshots <-chan playback.Snapshot) {
	defer s.wg.Done()
	cursor := ""
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-feed.C():
			if !ok {
				return
			}
			s.onFeed(ctx, ev)
		case pe, ok := <-presenceEvents:
			if !ok {
				presenceEvents = nil
				continue
			}
			s.onPresence(pe)
		case snap, ok := <-snapshots:
			if !ok {
				snapshots = nil
				continue
			}
			if snap.HasTrack && snap.Track.ID != cursor {
				cursor = snap.Track.ID
				if err := s.tracker.SetCursor(ctx, cursor); err != nil {
					s.logger.Debug("cursor announce failed", "err", err)
				}
			}
		}
	}
}

func (s *Session) onFeed(ctx context.Context, ev changes.FeedEvent) {
	switch ev.Kind {
	case changes.FeedRecord:
		rec := ev.Record
		s.activity.Push(rec)
		scope := changes.ScopeFor(rec.Action)
		s.refetch(ctx, scope)
		s.emit(Event{Kind: EventChangeApplied, Change: &rec, Scope: scope})
	case changes.FeedDown:
		s.logger.Warn("change channel down", "err", ev.Err)
		s.emit(Event{Kind: EventChannelDown, Err: ev.Err})
	case changes.FeedRestored:
		s.refetch(ctx, changes.RefetchTracks)
		s.refetch(ctx, changes.RefetchMetadata)
		s.emit(Event{Kind: EventChannelRestored})
	}
}

func (s *Session) onPresence(ev presence.Event) {
	switch ev.Kind {
	case presence.EventSync:
		s.emit(Event{Kind: EventPresenceChanged, Roster: ev.Roster})
	case presence.EventJoined, presence.EventLeft:
		s.emit(Event{Kind: EventPresenceChanged, Entry: &ev, Roster: s.Roster()})
	case presence.EventChannelDown:
		s.emit(Event{Kind: EventChannelDown, Err: ev.Err})
	case presence.EventChannelRestored:
		s.emit(Event{Kind: EventChannelRestored})
	}
}

// refetch re-reads the part of the playlist a change touched. An order change reads only the
// ids and permutes the local queue; the transport keeps its current track by identity.
func (s *Session) refetch(ctx context.Context, scope changes.Scope) {
	switch scope {
	case changes.RefetchOrder:
		order, err := s.opts.Store.TrackOrder(ctx, s.opts.PlaylistID)
		if err != nil {
			s.logger.Warn("order refetch failed", "err", err)
			return
		}
		tracks, ok := permute(s.opts.Transport.Queue(), order)
		if !ok {
			s.logger.Debug("local queue out of step with order, reading tracks")
			s.refetch(ctx, changes.RefetchTracks)
			return
		}
		if err := s.opts.Transport.SetQueue(tracks); err != nil {
			s.logger.Warn("queue update failed", "err", err)
		}
	case changes.RefetchTracks:
		tracks, err := s.opts.Store.PlaylistTracks(ctx, s.opts.PlaylistID)
		if err != nil {
			s.logger.Warn("track refetch failed", "scope", scope, "err", err)
			return
		}
		if err := s.opts.Transport.SetQueue(tracks); err != nil {
			s.logger.Warn("queue update failed", "err", err)
		}
	case changes.RefetchMetadata:
		p, err := s.opts.Store.GetPlaylist(ctx, s.opts.PlaylistID)
		if err != nil {
			s.logger.Warn("metadata refetch failed", "err", err)
			return
		}
		s.mu.Lock()
		s.playlist = *p
		s.mu.Unlock()
		s.emit(Event{Kind: EventMetadataChanged, Playlist: p})
	}
}

// permute arranges tracks by order. It reports false unless order names every track exactly once.
func permute(tracks []models.Track, order []string) ([]models.Track, bool) {
	if len(tracks) != len(order) {
		return nil, false
	}
	byID := make(map[string]models.Track, len(tracks))
	for _, t := range tracks {
		byID[t.ID] = t
	}
	out := make([]models.Track, 0, len(order))
	for i, id := range order {
		t, ok := byID[id]
		if !ok {
			return nil, false
		}
		delete(byID, id)
		t.Position = i
		out = append(out, t)
	}
	return out, true
}

func (s *Session) active() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started || s.stopped {
		return shared.ErrSessionClosed
	}
	return nil
}

// AddTrack adds a theme and applies it locally without waiting for the broadcast.
func (s *Session) AddTrack(ctx context.Context, t models.Track) (*models.Track, error) {
	if err := s.active(); err != nil {
		return nil, err
	}
	added, _, err := s.opts.Workflow.AddTrack(ctx, s.opts.PlaylistID, t)
	if err != nil {
		return nil, err
	}
	s.refetch(ctx, changes.RefetchTracks)
	return added, nil
}

func (s *Session) RemoveTrack(ctx context.Context, trackID string) error {
	if err := s.active(); err != nil {
		return err
	}
	if _, err := s.opts.Workflow.RemoveTrack(ctx, s.opts.PlaylistID, trackID); err != nil {
		return err
	}
	s.refetch(ctx, changes.RefetchTracks)
	return nil
}

// Reorder submits a new order and applies it locally; the current track keeps playing at its
// new index.
func (s *Session) Reorder(ctx context.Context, order []string) error {
	if err := s.active(); err != nil {
		return err
	}
	if _, err := s.opts.Workflow.Reorder(ctx, s.opts.PlaylistID, order); err != nil {
		return err
	}
	s.refetch(ctx, changes.RefetchOrder)
	return nil
}

func (s *Session) UpdateMetadata(ctx context.Context, patch MetadataPatch) (*models.Playlist, error) {
	if err := s.active(); err != nil {
		return nil, err
	}
	p, _, err := s.opts.Workflow.UpdateMetadata(ctx, s.opts.PlaylistID, patch)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.playlist = *p
	s.mu.Unlock()
	return p, nil
}

// Collaborators lists the playlist's collaborator rows.
func (s *Session) Collaborators(ctx context.Context) ([]models.Collaborator, error) {
	return s.opts.Workflow.Collaborators(ctx, s.opts.PlaylistID)
}

// RecentChanges reads the change log from storage, newest first.
func (s *Session) RecentChanges(ctx context.Context) ([]models.ChangeRecord, error) {
	return s.opts.Workflow.RecentChanges(ctx, s.opts.PlaylistID, s.opts.RecentLimit)
}

// Activity returns the records seen by this session, newest first.
func (s *Session) Activity() []models.ChangeRecord {
	recs := s.activity.Snapshot()
	slices.Reverse(recs)
	return recs
}

func (s *Session) Roster() []models.PresenceEntry {
	s.mu.Lock()
	tracker := s.tracker
	s.mu.Unlock()
	if tracker == nil {
		return nil
	}
	return tracker.Roster()
}

func (s *Session) Playlist() models.Playlist {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playlist
}

func (s *Session) User() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

func (s *Session) Transport() *playback.Transport { return s.opts.Transport }
