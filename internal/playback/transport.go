package playback

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/themeroom/internal/models"
	"github.com/desertthunder/themeroom/internal/shared"
)

// Status is the transport state.
type Status string

const (
	StatusLoading Status = "loading"
	StatusReady   Status = "ready"
	StatusPlaying Status = "playing"
	StatusPaused  Status = "paused"
	StatusError   Status = "error"
)

// Snapshot is the observable transport state.
type Snapshot struct {
	Status       Status
	CurrentIndex int // -1 when the queue is empty
	Track        models.Track
	HasTrack     bool
	QueueLen     int
	CurrentTime  time.Duration
	Duration     time.Duration
	Volume       float64
	Shuffle      bool
	Repeat       RepeatMode
	IsPlaying    bool  // play intent; false after pause, stop, or failure
	Err          error // last failure, cleared by the next successful load or stop
}

// TransportOpts configures a [Transport]. Device is required.
type TransportOpts struct {
	Device  Device
	Rand    Rand
	Logger  *log.Logger
	Volume  float64
	Shuffle bool
	Repeat  RepeatMode
}

// loadAttempt is the future for one SetSource call. done is closed exactly once.
type loadAttempt struct {
	gen      uint64
	load     LoadID
	trackID  string
	src      string
	done     chan struct{}
	resolved bool
	err      error
}

// Transport is the playback state machine for one session. All methods are safe for
// concurrent use; device events must be fed through [Transport.Run] or [Transport.HandleEvent].
type Transport struct {
	mu     sync.Mutex
	dev    Device
	rnd    Rand
	logger *log.Logger

	queue   *Queue
	current int
	visited map[string]struct{}
	order   []int

	status   Status
	playing  bool
	lastErr  error
	position time.Duration
	duration time.Duration
	volume   float64
	shuffle  bool
	repeat   RepeatMode

	gen     uint64
	attempt *loadAttempt

	subs map[chan Snapshot]struct{}
}

func NewTransport(opts TransportOpts) *Transport {
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x7e11))
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Repeat == "" {
		opts.Repeat = RepeatOff
	}

	t := &Transport{
		dev:     opts.Device,
		rnd:     opts.Rand,
		logger:  opts.Logger,
		queue:   &Queue{},
		current: -1,
		visited: make(map[string]struct{}),
		status:  StatusLoading,
		volume:  clampUnit(opts.Volume),
		repeat:  opts.Repeat,
		subs:    make(map[chan Snapshot]struct{}),
	}
	t.dev.SetVolume(t.volume)
	if opts.Shuffle {
		t.ToggleShuffle()
	}
	return t
}

// Run feeds device events into the state machine until ctx is done or the device closes.
func (t *Transport) Run(ctx context.Context) error {
	events := t.dev.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			t.HandleEvent(ctx, ev)
		}
	}
}

// HandleEvent applies one device event. Events from any load other than the current attempt
// are stale and ignored, even when they name the same source.
func (t *Transport) HandleEvent(ctx context.Context, ev DeviceEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	a := t.attempt
	if a == nil || ev.Load != a.load {
		t.logger.Debug("ignoring stale device event", "event", ev.Kind, "load", ev.Load, "source", ev.Source)
		return
	}

	switch ev.Kind {
	case EventLoadedData, EventDurationChange:
		t.duration = t.dev.Duration()
	case EventCanPlay:
		if a.resolved {
			return
		}
		t.duration = t.dev.Duration()
		t.status = StatusReady
		t.lastErr = nil
		a.resolve(nil)
		t.startIfReadyLocked(ctx)
	case EventTimeUpdate:
		t.position = ev.Time
	case EventEnded:
		t.onEndedLocked(ctx)
	case EventError:
		err := &LoadError{Reason: ReasonFor(ev.Code)}
		t.logger.Warn("device error", "track", a.trackID, "reason", err.Reason)
		t.failLocked(err)
	}
	t.notifyLocked()
}

// SetQueue replaces the queue, keeping the current index on the same track identity. When the
// current track is gone the index clamps to the last valid position and that track is loaded.
func (t *Transport) SetQueue(tracks []models.Track) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	q, idx, err := t.queue.Apply(tracks, t.current)
	if err != nil {
		return err
	}
	prevLen := t.queue.Len()
	t.queue = q

	for id := range t.visited {
		if q.IndexOf(id) < 0 {
			delete(t.visited, id)
		}
	}
	if t.shuffle && q.Len() != prevLen {
		t.order = NewShuffleOrder(q.Len(), t.rnd)
	}

	switch {
	case q.Len() == 0:
		t.supersedeLocked()
		t.attempt = nil
		_ = t.dev.Pause()
		t.current, t.status, t.playing = -1, StatusLoading, false
	case idx >= 0:
		t.setCurrentLocked(idx)
	case t.current < 0:
		t.setCurrentLocked(0)
	default:
		t.setCurrentLocked(min(t.current, q.Len()-1))
		if t.attempt != nil {
			tr, _ := q.At(t.current)
			_, _ = t.loadLocked(tr)
		}
	}

	t.notifyLocked()
	return nil
}

// LoadTrack makes track current and waits for the device to report it can play.
// It withdraws any play intent; the transport ends in ready or error.
func (t *Transport) LoadTrack(ctx context.Context, track models.Track) error {
	t.mu.Lock()
	if !track.Playable() {
		_, err := t.loadLocked(track)
		t.notifyLocked()
		t.mu.Unlock()
		return err
	}
	idx := t.queue.IndexOf(track.ID)
	if idx < 0 {
		t.mu.Unlock()
		return fmt.Errorf("%w: track %s is not queued", shared.ErrInvalidIndex, track.ID)
	}
	t.setCurrentLocked(idx)
	t.playing = false
	a, err := t.loadLocked(track)
	t.notifyLocked()
	t.mu.Unlock()

	if err != nil {
		return err
	}
	return t.await(ctx, a)
}

// Play starts the current track, loading it first when the device does not have it ready.
func (t *Transport) Play(ctx context.Context) error {
	t.mu.Lock()
	track, ok := t.queue.At(t.current)
	if !ok {
		if t.queue.Len() == 0 {
			t.mu.Unlock()
			return shared.ErrEmptyQueue
		}
		t.setCurrentLocked(0)
		track, _ = t.queue.At(0)
	}
	if t.status == StatusPlaying {
		t.mu.Unlock()
		return nil
	}

	t.playing = true
	a := t.attempt
	if a == nil || a.trackID != track.ID || (a.resolved && a.err != nil) || t.status == StatusError {
		var err error
		if a, err = t.loadLocked(track); err != nil {
			t.notifyLocked()
			t.mu.Unlock()
			return err
		}
	}
	t.notifyLocked()
	t.mu.Unlock()

	if err := t.await(ctx, a); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.attempt != a {
		return shared.ErrLoadSuperseded
	}
	t.startIfReadyLocked(ctx)
	t.notifyLocked()
	if t.status == StatusError {
		return t.lastErr
	}
	return nil
}

// Pause pauses playback. While a load is pending it withdraws the play intent instead.
func (t *Transport) Pause() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.playing = false
	if t.status == StatusPlaying {
		if err := t.dev.Pause(); err != nil {
			t.failLocked(asLoadError(err))
			t.notifyLocked()
			return err
		}
		t.position = t.dev.CurrentTime()
		t.status = StatusPaused
	}
	t.notifyLocked()
	return nil
}

// Stop pauses, rewinds to 0, and abandons any pending load.
func (t *Transport) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.playing = false
	if t.queue.Len() == 0 {
		t.notifyLocked()
		return nil
	}

	_ = t.dev.Pause()
	if t.attempt != nil && !t.attempt.resolved {
		t.supersedeLocked()
		t.attempt = nil
	}
	if t.loadedLocked() {
		_ = t.dev.SetCurrentTime(0)
	}
	t.position = 0
	t.status = StatusPaused
	t.lastErr = nil
	t.notifyLocked()
	return nil
}

// Seek moves the play position, clamped to [0, duration].
func (t *Transport) Seek(d time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.loadedLocked() {
		return shared.ErrNoTrackLoaded
	}
	d = max(0, min(d, t.duration))
	if err := t.dev.SetCurrentTime(d); err != nil {
		return fmt.Errorf("failed to seek: %w", err)
	}
	t.position = d
	t.notifyLocked()
	return nil
}

// SetVolume clamps v to [0,1]. NaN is ignored.
func (t *Transport) SetVolume(v float64) {
	if math.IsNaN(v) {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.volume = clampUnit(v)
	t.dev.SetVolume(t.volume)
	t.notifyLocked()
}

// Next advances by the selector, continuing playback if it was playing.
func (t *Transport) Next(ctx context.Context) error {
	return t.step(ctx, Next)
}

// Previous steps back by the selector, continuing playback if it was playing.
func (t *Transport) Previous(ctx context.Context) error {
	return t.step(ctx, Previous)
}

func (t *Transport) step(ctx context.Context, sel func(Selection, Rand) (int, History)) error {
	t.mu.Lock()
	if t.queue.Len() == 0 {
		t.mu.Unlock()
		return shared.ErrEmptyQueue
	}
	idx, h := sel(t.selectionLocked(), t.rnd)
	t.applyHistoryLocked(h)
	autoplay := t.playing
	t.mu.Unlock()

	return t.switchTo(ctx, idx, autoplay)
}

// SelectTrack makes index current and plays it.
func (t *Transport) SelectTrack(ctx context.Context, index int) error {
	t.mu.Lock()
	n := t.queue.Len()
	t.mu.Unlock()
	if index < 0 || index >= n {
		return fmt.Errorf("%w: %d not in [0,%d)", shared.ErrInvalidIndex, index, n)
	}
	return t.switchTo(ctx, index, true)
}

func (t *Transport) switchTo(ctx context.Context, index int, autoplay bool) error {
	t.mu.Lock()
	track, ok := t.queue.At(index)
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("%w: %d", shared.ErrInvalidIndex, index)
	}
	t.setCurrentLocked(index)
	t.playing = autoplay
	a, err := t.loadLocked(track)
	t.notifyLocked()
	t.mu.Unlock()

	if err != nil {
		return err
	}
	if err := t.await(ctx, a); err != nil {
		return err
	}
	if autoplay {
		return t.Play(ctx)
	}
	return nil
}

// ToggleShuffle flips shuffle. Turning it on draws a new order and clears the history.
func (t *Transport) ToggleShuffle() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.shuffle = !t.shuffle
	if t.shuffle {
		t.order = NewShuffleOrder(t.queue.Len(), t.rnd)
		clear(t.visited)
	} else {
		t.order = nil
	}
	t.notifyLocked()
	return t.shuffle
}

// ToggleRepeat cycles the repeat mode and returns the new one.
func (t *Transport) ToggleRepeat() RepeatMode {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.repeat = t.repeat.Next()
	t.notifyLocked()
	return t.repeat
}

// ShuffleOrder returns the session's shuffle permutation, nil when shuffle is off.
func (t *Transport) ShuffleOrder() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]int(nil), t.order...)
}

// Queue returns the queued tracks in order.
func (t *Transport) Queue() []models.Track {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.queue.Tracks()
}

// Snapshot returns the observable state.
func (t *Transport) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// Subscribe returns a channel of snapshots taken after every state change. Slow readers miss
// intermediate snapshots. The returned func unsubscribes and closes the channel.
func (t *Transport) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 16)
	t.mu.Lock()
	t.subs[ch] = struct{}{}
	t.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.subs, ch)
			t.mu.Unlock()
			close(ch)
		})
	}
}

func (t *Transport) snapshotLocked() Snapshot {
	s := Snapshot{
		Status:       t.status,
		CurrentIndex: t.current,
		QueueLen:     t.queue.Len(),
		CurrentTime:  t.position,
		Duration:     t.duration,
		Volume:       t.volume,
		Shuffle:      t.shuffle,
		Repeat:       t.repeat,
		IsPlaying:    t.playing,
		Err:          t.lastErr,
	}
	s.Track, s.HasTrack = t.queue.At(t.current)
	return s
}

func (t *Transport) notifyLocked() {
	if len(t.subs) == 0 {
		return
	}
	s := t.snapshotLocked()
	for ch := range t.subs {
		select {
		case ch <- s:
		default:
		}
	}
}

// loadLocked starts a new load attempt for track, superseding any pending one.
func (t *Transport) loadLocked(track models.Track) (*loadAttempt, error) {
	t.supersedeLocked()
	t.gen++

	if !track.Playable() {
		t.attempt = nil
		err := fmt.Errorf("%w: %s", shared.ErrNoMedia, track.Label())
		t.status, t.playing, t.lastErr = StatusError, false, err
		t.logger.Warn("track unavailable", "track", track.ID)
		return nil, err
	}

	a := &loadAttempt{gen: t.gen, trackID: track.ID, src: track.MediaURL, done: make(chan struct{})}
	t.attempt = a
	t.status, t.lastErr = StatusLoading, nil
	t.position, t.duration = 0, 0

	t.logger.Debug("loading track", "track", track.ID, "gen", a.gen)
	load, err := t.dev.SetSource(track.MediaURL)
	if err != nil {
		le := asLoadError(err)
		t.failLocked(le)
		return a, le
	}
	a.load = load
	return a, nil
}

func (t *Transport) await(ctx context.Context, a *loadAttempt) error {
	select {
	case <-a.done:
		return a.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *loadAttempt) resolve(err error) {
	if a.resolved {
		return
	}
	a.resolved, a.err = true, err
	close(a.done)
}

func (t *Transport) supersedeLocked() {
	if t.attempt != nil {
		t.attempt.resolve(shared.ErrLoadSuperseded)
	}
}

// failLocked moves to error and clears the play intent. Errors are never retried here.
func (t *Transport) failLocked(err error) {
	t.status, t.playing, t.lastErr = StatusError, false, err
	if t.attempt != nil {
		t.attempt.resolve(err)
	}
}

func (t *Transport) loadedLocked() bool {
	a := t.attempt
	return a != nil && a.resolved && a.err == nil && t.status != StatusError
}

func (t *Transport) startIfReadyLocked(ctx context.Context) {
	if !t.playing || !t.loadedLocked() {
		return
	}
	if t.status != StatusReady && t.status != StatusPaused {
		return
	}
	if err := t.dev.Play(ctx); err != nil {
		t.failLocked(asLoadError(err))
		return
	}
	t.status = StatusPlaying
}

func (t *Transport) onEndedLocked(ctx context.Context) {
	if t.queue.Len() == 0 {
		return
	}

	if t.repeat == RepeatTrack {
		_ = t.dev.SetCurrentTime(0)
		t.position = 0
		t.status, t.playing = StatusReady, true
		t.startIfReadyLocked(ctx)
		return
	}

	idx, h := Next(t.selectionLocked(), t.rnd)
	t.applyHistoryLocked(h)
	t.setCurrentLocked(idx)
	t.playing = true
	track, _ := t.queue.At(idx)
	if _, err := t.loadLocked(track); err != nil {
		t.logger.Warn("auto-advance failed", "track", track.ID, "err", err)
	}
}

// setCurrentLocked changes the current index and marks its track visited.
func (t *Transport) setCurrentLocked(idx int) {
	t.current = idx
	if tr, ok := t.queue.At(idx); ok {
		t.visited[tr.ID] = struct{}{}
	}
}

func (t *Transport) selectionLocked() Selection {
	h := make(History, len(t.visited))
	for id := range t.visited {
		if i := t.queue.IndexOf(id); i >= 0 {
			h[i] = struct{}{}
		}
	}
	return Selection{N: t.queue.Len(), Current: t.current, Shuffle: t.shuffle, History: h}
}

// applyHistoryLocked stores a selector history by track identity.
func (t *Transport) applyHistoryLocked(h History) {
	clear(t.visited)
	for i := range h {
		if tr, ok := t.queue.At(i); ok {
			t.visited[tr.ID] = struct{}{}
		}
	}
}

func clampUnit(v float64) float64 {
	return max(0, min(v, 1))
}

// IsUnavailable reports whether err means the track cannot be played at all.
func IsUnavailable(err error) bool {
	return errors.Is(err, shared.ErrNoMedia)
}
