package playback_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/desertthunder/themeroom/internal/models"
	"github.com/desertthunder/themeroom/internal/playback"
	"github.com/desertthunder/themeroom/internal/shared"
	tu "github.com/desertthunder/themeroom/internal/testing"
)

func newTransport(t *testing.T, dev *tu.FakeDevice, tracks []models.Track, r playback.Rand) *playback.Transport {
	t.Helper()
	tr := playback.NewTransport(playback.TransportOpts{
		Device: dev,
		Rand:   r,
		Logger: shared.NewLogger(io.Discard),
		Volume: 0.5,
	})
	if err := tr.SetQueue(tracks); err != nil {
		t.Fatalf("SetQueue() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = tr.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return tr
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestTransportInitialState(t *testing.T) {
	tr := newTransport(t, tu.NewFakeDevice(true), tu.Themes("A", "B"), nil)
	s := tr.Snapshot()
	if s.Status != playback.StatusLoading || s.IsPlaying {
		t.Errorf("initial snapshot = %+v, want loading and not playing", s)
	}
	if s.CurrentIndex != 0 || s.QueueLen != 2 {
		t.Errorf("initial index/len = %d/%d", s.CurrentIndex, s.QueueLen)
	}
	if s.Volume != 0.5 || s.Repeat != playback.RepeatOff {
		t.Errorf("initial volume/repeat = %v/%s", s.Volume, s.Repeat)
	}
}

func TestTransportNoMedia(t *testing.T) {
	themes := tu.Themes("A", "B")
	themes[1].MediaURL = ""
	dev := tu.NewFakeDevice(true)
	tr := newTransport(t, dev, themes, nil)
	ctx := testCtx(t)

	for name, run := range map[string]func() error{
		"SelectTrack": func() error { return tr.SelectTrack(ctx, 1) },
		"LoadTrack":   func() error { return tr.LoadTrack(ctx, themes[1]) },
		"LoadTrack unqueued": func() error {
			return tr.LoadTrack(ctx, models.Track{ID: "x", Title: "Not queued"})
		},
		"Play":        func() error { return tr.Play(ctx) },
	} {
		t.Run(name, func(t *testing.T) {
			if err := tr.SelectTrack(ctx, 1); !errors.Is(err, shared.ErrNoMedia) {
				t.Fatalf("setup SelectTrack() = %v", err)
			}
			if err := run(); !errors.Is(err, shared.ErrNoMedia) {
				t.Fatalf("%s() error = %v, want ErrNoMedia", name, err)
			}
			s := tr.Snapshot()
			if s.Status != playback.StatusError || s.IsPlaying {
				t.Errorf("snapshot = %+v, want error and not playing", s)
			}
			if !playback.IsUnavailable(s.Err) {
				t.Errorf("snapshot error = %v, want unavailable", s.Err)
			}
		})
	}

	if dev.PlayCalls() != 0 {
		t.Errorf("device Play called %d times for an unplayable track", dev.PlayCalls())
	}
}

func TestTransportLoadPlayPauseStop(t *testing.T) {
	themes := tu.Themes("A", "B")
	dev := tu.NewFakeDevice(true)
	tr := newTransport(t, dev, themes, nil)
	ctx := testCtx(t)

	if err := tr.LoadTrack(ctx, themes[0]); err != nil {
		t.Fatalf("LoadTrack() error = %v", err)
	}
	if s := tr.Snapshot(); s.Status != playback.StatusReady || s.Duration != 90*time.Second {
		t.Fatalf("after load: %+v", s)
	}

	if err := tr.Play(ctx); err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	if s := tr.Snapshot(); s.Status != playback.StatusPlaying || !s.IsPlaying || !dev.IsPlaying() {
		t.Fatalf("after play: %+v", s)
	}

	if err := tr.Pause(); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	if s := tr.Snapshot(); s.Status != playback.StatusPaused || s.IsPlaying || dev.IsPlaying() {
		t.Fatalf("after pause: %+v", s)
	}

	if err := tr.Play(ctx); err != nil {
		t.Fatalf("resume Play() error = %v", err)
	}
	if got := len(dev.Sources()); got != 1 {
		t.Errorf("resume reloaded the source: %d loads", got)
	}

	if err := tr.Seek(30 * time.Second); err != nil {
		t.Fatalf("Seek() error = %v", err)
	}
	if err := tr.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	s := tr.Snapshot()
	if s.Status != playback.StatusPaused || s.IsPlaying || s.CurrentTime != 0 || dev.CurrentTime() != 0 {
		t.Errorf("after stop: %+v (device at %v)", s, dev.CurrentTime())
	}
}

func TestTransportPlayFromInitialLoadsFirst(t *testing.T) {
	dev := tu.NewFakeDevice(true)
	tr := newTransport(t, dev, tu.Themes("A", "B"), nil)

	if err := tr.Play(testCtx(t)); err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	if got := dev.Source(); got != "https://media.example/A.webm" {
		t.Errorf("device source = %q", got)
	}
	if s := tr.Snapshot(); s.Status != playback.StatusPlaying {
		t.Errorf("status = %s", s.Status)
	}
}

func TestTransportSeekAndVolumeClamp(t *testing.T) {
	themes := tu.Themes("A")
	dev := tu.NewFakeDevice(true)
	tr := newTransport(t, dev, themes, nil)

	if err := tr.Seek(time.Second); !errors.Is(err, shared.ErrNoTrackLoaded) {
		t.Fatalf("Seek() before load = %v, want ErrNoTrackLoaded", err)
	}
	if err := tr.LoadTrack(testCtx(t), themes[0]); err != nil {
		t.Fatalf("LoadTrack() error = %v", err)
	}

	tc := []struct {
		name string
		in   time.Duration
		want time.Duration
	}{
		{name: "negative", in: -5 * time.Second, want: 0},
		{name: "inside", in: 42 * time.Second, want: 42 * time.Second},
		{name: "past end", in: 5 * time.Minute, want: 90 * time.Second},
	}
	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			if err := tr.Seek(tt.in); err != nil {
				t.Fatalf("Seek() error = %v", err)
			}
			if got := tr.Snapshot().CurrentTime; got != tt.want {
				t.Errorf("CurrentTime = %v, want %v", got, tt.want)
			}
		})
	}

	for in, want := range map[float64]float64{-1: 0, 0.25: 0.25, 3: 1} {
		tr.SetVolume(in)
		if got := tr.Snapshot().Volume; got != want || dev.Volume() != want {
			t.Errorf("SetVolume(%v) = %v (device %v), want %v", in, got, dev.Volume(), want)
		}
	}
}

func TestTransportEndedAdvancesAndWraps(t *testing.T) {
	dev := tu.NewFakeDevice(true)
	tr := newTransport(t, dev, tu.Themes("A", "B", "C"), nil)

	if err := tr.SelectTrack(testCtx(t), 2); err != nil {
		t.Fatalf("SelectTrack() error = %v", err)
	}
	dev.Emit(playback.DeviceEvent{Kind: playback.EventEnded, Source: dev.Source()})

	tu.Eventually(t, func() bool {
		s := tr.Snapshot()
		return s.CurrentIndex == 0 && s.Status == playback.StatusPlaying
	}, "playback continues on A after C ends")

	if got := dev.Source(); got != "https://media.example/A.webm" {
		t.Errorf("device source = %q", got)
	}
}

func TestTransportRepeatTrack(t *testing.T) {
	dev := tu.NewFakeDevice(true)
	tr := newTransport(t, dev, tu.Themes("A", "B"), nil)
	tr.ToggleRepeat()
	if mode := tr.ToggleRepeat(); mode != playback.RepeatTrack {
		t.Fatalf("ToggleRepeat() = %s, want track", mode)
	}

	if err := tr.Play(testCtx(t)); err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	_ = dev.SetCurrentTime(90 * time.Second)
	calls := dev.PlayCalls()

	dev.Emit(playback.DeviceEvent{Kind: playback.EventEnded, Source: dev.Source()})
	tu.Eventually(t, func() bool { return dev.PlayCalls() > calls }, "track restarts")

	s := tr.Snapshot()
	if s.CurrentIndex != 0 || s.Status != playback.StatusPlaying || dev.CurrentTime() != 0 {
		t.Errorf("after repeat: %+v (device at %v)", s, dev.CurrentTime())
	}
	if got := len(dev.Sources()); got != 1 {
		t.Errorf("repeat reloaded the source: %d loads", got)
	}
}

func TestTransportLoadFailure(t *testing.T) {
	dev := tu.NewFakeDevice(false)
	tr := newTransport(t, dev, tu.Themes("A"), nil)
	ctx := testCtx(t)

	errCh := make(chan error, 1)
	go func() { errCh <- tr.Play(ctx) }()

	tu.Eventually(t, func() bool { return dev.Source() != "" }, "source assigned")
	dev.Emit(playback.DeviceEvent{Kind: playback.EventError, Source: dev.Source(), Code: playback.MediaErrNetwork})

	err := <-errCh
	var le *playback.LoadError
	if !errors.As(err, &le) || le.Reason != playback.ReasonNetwork {
		t.Fatalf("Play() error = %v, want network LoadError", err)
	}
	if !errors.Is(err, shared.ErrLoadFailure) {
		t.Errorf("error should match ErrLoadFailure")
	}
	if s := tr.Snapshot(); s.Status != playback.StatusError || s.IsPlaying {
		t.Errorf("after failure: %+v", s)
	}
	if dev.PlayCalls() != 0 {
		t.Error("failed load must not start the device")
	}

	dev.AutoReady = true
	if err := tr.Play(ctx); err != nil {
		t.Fatalf("retry Play() error = %v", err)
	}
	if got := len(dev.Sources()); got != 2 {
		t.Errorf("retry should reload, got %d loads", got)
	}
}

func TestTransportStaleLoadIgnored(t *testing.T) {
	themes := tu.Themes("A", "B")
	dev := tu.NewFakeDevice(false)
	tr := newTransport(t, dev, themes, nil)
	ctx := testCtx(t)

	first := make(chan error, 1)
	go func() { first <- tr.LoadTrack(ctx, themes[0]) }()
	tu.Eventually(t, func() bool { return len(dev.Sources()) == 1 }, "A assigned")
	stale := dev.Load()

	second := make(chan error, 1)
	go func() { second <- tr.SelectTrack(ctx, 1) }()
	tu.Eventually(t, func() bool { return len(dev.Sources()) == 2 }, "B assigned")

	if err := <-first; !errors.Is(err, shared.ErrLoadSuperseded) {
		t.Fatalf("first load = %v, want ErrLoadSuperseded", err)
	}

	dev.Emit(playback.DeviceEvent{Kind: playback.EventCanPlay, Load: stale, Source: themes[0].MediaURL})
	dev.Emit(playback.DeviceEvent{Kind: playback.EventError, Load: stale, Source: themes[0].MediaURL, Code: playback.MediaErrAborted})
	dev.Emit(playback.DeviceEvent{Kind: playback.EventCanPlay, Source: themes[1].MediaURL})

	if err := <-second; err != nil {
		t.Fatalf("second select = %v", err)
	}
	s := tr.Snapshot()
	if s.CurrentIndex != 1 || s.Status != playback.StatusPlaying || s.Err != nil {
		t.Errorf("after stale events: %+v", s)
	}
}

func TestTransportSharedSourceStaleLoad(t *testing.T) {
	themes := tu.Themes("A", "B")
	themes[1].MediaURL = themes[0].MediaURL
	dev := tu.NewFakeDevice(false)
	tr := newTransport(t, dev, themes, nil)
	ctx := testCtx(t)

	first := make(chan error, 1)
	go func() { first <- tr.LoadTrack(ctx, themes[0]) }()
	tu.Eventually(t, func() bool { return len(dev.Sources()) == 1 }, "A assigned")
	stale := dev.Load()

	second := make(chan error, 1)
	go func() { second <- tr.SelectTrack(ctx, 1) }()
	tu.Eventually(t, func() bool { return len(dev.Sources()) == 2 }, "B assigned")
	if err := <-first; !errors.Is(err, shared.ErrLoadSuperseded) {
		t.Fatalf("first load = %v, want ErrLoadSuperseded", err)
	}

	dev.Emit(playback.DeviceEvent{Kind: playback.EventError, Load: stale, Source: themes[0].MediaURL, Code: playback.MediaErrAborted})
	dev.Emit(playback.DeviceEvent{Kind: playback.EventCanPlay, Source: themes[1].MediaURL})

	if err := <-second; err != nil {
		t.Fatalf("second select = %v", err)
	}
	s := tr.Snapshot()
	if s.CurrentIndex != 1 || s.Status != playback.StatusPlaying || s.Err != nil {
		t.Errorf("a leftover event from A reached B: %+v", s)
	}
}

func TestTransportRetryIgnoresEarlierAttempt(t *testing.T) {
	dev := tu.NewFakeDevice(false)
	tr := newTransport(t, dev, tu.Themes("A"), nil)
	ctx := testCtx(t)

	errCh := make(chan error, 1)
	go func() { errCh <- tr.Play(ctx) }()
	tu.Eventually(t, func() bool { return len(dev.Sources()) == 1 }, "first attempt assigned")
	failed := dev.Load()
	dev.Emit(playback.DeviceEvent{Kind: playback.EventError, Code: playback.MediaErrNetwork})
	if err := <-errCh; !errors.Is(err, shared.ErrLoadFailure) {
		t.Fatalf("first Play() = %v, want ErrLoadFailure", err)
	}

	go func() { errCh <- tr.Play(ctx) }()
	tu.Eventually(t, func() bool { return len(dev.Sources()) == 2 }, "retry assigned")
	dev.Emit(playback.DeviceEvent{Kind: playback.EventError, Load: failed, Code: playback.MediaErrNetwork})
	dev.Emit(playback.DeviceEvent{Kind: playback.EventCanPlay})

	if err := <-errCh; err != nil {
		t.Fatalf("retry Play() = %v", err)
	}
	if s := tr.Snapshot(); s.Status != playback.StatusPlaying || s.Err != nil {
		t.Errorf("after retry: %+v", s)
	}
}

func TestTransportPauseWhileLoading(t *testing.T) {
	dev := tu.NewFakeDevice(false)
	tr := newTransport(t, dev, tu.Themes("A"), nil)

	errCh := make(chan error, 1)
	go func() { errCh <- tr.Play(testCtx(t)) }()
	tu.Eventually(t, func() bool { return dev.Source() != "" }, "source assigned")

	if err := tr.Pause(); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	dev.Emit(playback.DeviceEvent{Kind: playback.EventCanPlay, Source: dev.Source()})

	if err := <-errCh; err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	if s := tr.Snapshot(); s.Status != playback.StatusReady || s.IsPlaying || dev.IsPlaying() {
		t.Errorf("pause during load should leave the track ready: %+v", s)
	}
}

func TestTransportSetQueue(t *testing.T) {
	t.Run("reorder keeps the current track", func(t *testing.T) {
		themes := tu.Themes("A", "B", "C")
		tr := newTransport(t, tu.NewFakeDevice(true), themes, nil)
		if err := tr.SelectTrack(testCtx(t), 0); err != nil {
			t.Fatalf("SelectTrack() error = %v", err)
		}

		reordered := []models.Track{themes[2], themes[0], themes[1]}
		if err := tr.SetQueue(reordered); err != nil {
			t.Fatalf("SetQueue() error = %v", err)
		}
		s := tr.Snapshot()
		if s.CurrentIndex != 1 || s.Track.ID != "A" || s.Status != playback.StatusPlaying {
			t.Errorf("after reorder: index=%d track=%s status=%s", s.CurrentIndex, s.Track.ID, s.Status)
		}
	})

	t.Run("removing the current track clamps the index", func(t *testing.T) {
		themes := tu.Themes("A", "B", "C")
		dev := tu.NewFakeDevice(true)
		tr := newTransport(t, dev, themes, nil)
		if err := tr.SelectTrack(testCtx(t), 2); err != nil {
			t.Fatalf("SelectTrack() error = %v", err)
		}

		if err := tr.SetQueue(themes[:2]); err != nil {
			t.Fatalf("SetQueue() error = %v", err)
		}
		tu.Eventually(t, func() bool {
			s := tr.Snapshot()
			return s.CurrentIndex == 1 && s.Track.ID == "B" && s.Status == playback.StatusPlaying
		}, "index clamps to B and playback continues")
	})

	t.Run("empty queue", func(t *testing.T) {
		tr := newTransport(t, tu.NewFakeDevice(true), tu.Themes("A"), nil)
		if err := tr.SetQueue(nil); err != nil {
			t.Fatalf("SetQueue() error = %v", err)
		}
		if s := tr.Snapshot(); s.CurrentIndex != -1 || s.HasTrack {
			t.Errorf("empty queue snapshot = %+v", s)
		}
		if err := tr.Play(testCtx(t)); !errors.Is(err, shared.ErrEmptyQueue) {
			t.Errorf("Play() on empty queue = %v", err)
		}
		if err := tr.Next(testCtx(t)); !errors.Is(err, shared.ErrEmptyQueue) {
			t.Errorf("Next() on empty queue = %v", err)
		}
	})

	t.Run("duplicates rejected", func(t *testing.T) {
		tr := newTransport(t, tu.NewFakeDevice(true), tu.Themes("A"), nil)
		if err := tr.SetQueue(tu.Themes("A", "A")); !errors.Is(err, shared.ErrDuplicateTrack) {
			t.Errorf("SetQueue() = %v, want ErrDuplicateTrack", err)
		}
	})
}

func TestTransportShuffleTwoTracks(t *testing.T) {
	tr := newTransport(t, tu.NewFakeDevice(true), tu.Themes("A", "B"), tu.NewSeqRand(0, 0, 0))
	if !tr.ToggleShuffle() {
		t.Fatal("ToggleShuffle() should enable shuffle")
	}
	if order := tr.ShuffleOrder(); len(order) != 2 {
		t.Errorf("ShuffleOrder() = %v", order)
	}
	ctx := testCtx(t)

	if err := tr.Next(ctx); err != nil {
		t.Fatalf("first Next() error = %v", err)
	}
	if got := tr.Snapshot().CurrentIndex; got != 1 {
		t.Fatalf("first Next() index = %d, want 1", got)
	}
	if err := tr.Next(ctx); err != nil {
		t.Fatalf("second Next() error = %v", err)
	}
	if got := tr.Snapshot().CurrentIndex; got != 0 {
		t.Fatalf("second Next() index = %d, want 0", got)
	}

	if tr.ToggleShuffle() || tr.ShuffleOrder() != nil {
		t.Error("ToggleShuffle() should disable shuffle and drop the order")
	}
}

func TestTransportShuffleCountsFirstTrack(t *testing.T) {
	tr := newTransport(t, tu.NewFakeDevice(true), tu.Themes("A", "B", "C"), tu.NewSeqRand())
	tr.ToggleShuffle()
	ctx := testCtx(t)

	seen := []int{tr.Snapshot().CurrentIndex}
	for range 3 {
		if err := tr.Next(ctx); err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		seen = append(seen, tr.Snapshot().CurrentIndex)
	}

	want := []int{0, 1, 2, 0}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("shuffle visits = %v, want %v", seen, want)
		}
	}
}

func TestTransportNextKeepsPlayIntent(t *testing.T) {
	dev := tu.NewFakeDevice(true)
	tr := newTransport(t, dev, tu.Themes("A", "B", "C"), nil)
	ctx := testCtx(t)

	if err := tr.Next(ctx); err != nil {
		t.Fatalf("Next() while idle error = %v", err)
	}
	if s := tr.Snapshot(); s.CurrentIndex != 1 || s.Status != playback.StatusReady {
		t.Errorf("idle Next() should load without playing: %+v", s)
	}

	if err := tr.Play(ctx); err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	if err := tr.Previous(ctx); err != nil {
		t.Fatalf("Previous() error = %v", err)
	}
	if s := tr.Snapshot(); s.CurrentIndex != 0 || s.Status != playback.StatusPlaying {
		t.Errorf("Previous() while playing should keep playing: %+v", s)
	}
}

func TestTransportSubscribe(t *testing.T) {
	tr := newTransport(t, tu.NewFakeDevice(true), tu.Themes("A"), nil)
	ch, cancel := tr.Subscribe()
	defer cancel()

	tr.SetVolume(0.1)
	select {
	case s := <-ch:
		if s.Volume != 0.1 {
			t.Errorf("snapshot volume = %v", s.Volume)
		}
	case <-time.After(time.Second):
		t.Fatal("no snapshot delivered")
	}

	cancel()
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after cancel")
	}
}
