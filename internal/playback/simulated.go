package playback

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
)

// SimulatedOptions tunes a [SimulatedDevice].
type SimulatedOptions struct {
	Duration time.Duration // length reported for every source; default 1m30s
	Latency  time.Duration // delay before canplay; default 150ms
	Tick     time.Duration // timeupdate cadence; default 250ms
	Speed    float64       // playback rate multiplier; default 1
}

// SimulatedDevice is a [Device] without audio output. It validates locators, advances a clock
// while playing, and reports the same events a media element would.
type SimulatedDevice struct {
	opts   SimulatedOptions
	events chan DeviceEvent

	mu       sync.Mutex
	load     LoadID
	src      string
	ready    bool
	position time.Duration
	volume   float64
	cancel   context.CancelFunc
	closed   bool
	wg       sync.WaitGroup
}

func NewSimulatedDevice(opts SimulatedOptions) *SimulatedDevice {
	if opts.Duration <= 0 {
		opts.Duration = 90 * time.Second
	}
	if opts.Latency <= 0 {
		opts.Latency = 150 * time.Millisecond
	}
	if opts.Tick <= 0 {
		opts.Tick = 250 * time.Millisecond
	}
	if opts.Speed <= 0 {
		opts.Speed = 1
	}
	return &SimulatedDevice{
		opts:   opts,
		events: make(chan DeviceEvent, 64),
		volume: 1,
	}
}

func (d *SimulatedDevice) Events() <-chan DeviceEvent { return d.events }

// SetSource stops any playback and begins loading src in the background.
func (d *SimulatedDevice) SetSource(src string) (LoadID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, &LoadError{Reason: ReasonAborted, Err: fmt.Errorf("device closed")}
	}

	d.stopLocked()
	d.load++
	d.src, d.ready, d.position = src, false, 0

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.wg.Add(1)
	go d.prepare(ctx, d.load, src)
	return d.load, nil
}

func (d *SimulatedDevice) prepare(ctx context.Context, id LoadID, src string) {
	defer d.wg.Done()

	select {
	case <-ctx.Done():
		return
	case <-time.After(d.opts.Latency):
	}

	if code := checkSource(src); code != 0 {
		d.emit(ctx, DeviceEvent{Kind: EventError, Load: id, Source: src, Code: code})
		return
	}

	d.mu.Lock()
	if d.load != id {
		d.mu.Unlock()
		return
	}
	d.ready = true
	d.mu.Unlock()

	d.emit(ctx, DeviceEvent{Kind: EventLoadedData, Load: id, Source: src})
	d.emit(ctx, DeviceEvent{Kind: EventDurationChange, Load: id, Source: src, Time: d.opts.Duration})
	d.emit(ctx, DeviceEvent{Kind: EventCanPlay, Load: id, Source: src})
}

// checkSource returns a media error code for locators the device cannot open.
func checkSource(src string) MediaErrorCode {
	u, err := url.Parse(src)
	if err != nil {
		return MediaErrUnsupported
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		if u.Host == "" {
			return MediaErrNetwork
		}
		return 0
	case "file":
		if _, err := os.Stat(u.Path); err != nil {
			return MediaErrNetwork
		}
		return 0
	}
	return MediaErrUnsupported
}

// Play starts the clock from the current position.
func (d *SimulatedDevice) Play(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.ready {
		return &LoadError{Reason: ReasonAborted, Err: fmt.Errorf("no source ready")}
	}

	d.stopLocked()
	if d.position >= d.opts.Duration {
		d.position = 0
	}

	runCtx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.wg.Add(1)
	go d.run(runCtx, d.load, d.src)
	return nil
}

func (d *SimulatedDevice) run(ctx context.Context, id LoadID, src string) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.opts.Tick)
	defer ticker.Stop()

	step := time.Duration(float64(d.opts.Tick) * d.opts.Speed)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		d.mu.Lock()
		d.position = min(d.position+step, d.opts.Duration)
		pos := d.position
		d.mu.Unlock()

		d.emit(ctx, DeviceEvent{Kind: EventTimeUpdate, Load: id, Source: src, Time: pos})
		if pos >= d.opts.Duration {
			d.emit(ctx, DeviceEvent{Kind: EventEnded, Load: id, Source: src, Time: pos})
			return
		}
	}
}

func (d *SimulatedDevice) emit(ctx context.Context, ev DeviceEvent) {
	select {
	case d.events <- ev:
	case <-ctx.Done():
	}
}

// Pause stops the clock, keeping the position.
func (d *SimulatedDevice) Pause() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ready {
		d.stopLocked()
	}
	return nil
}

// stopLocked cancels the background goroutine without waiting for it; it exits on its own.
func (d *SimulatedDevice) stopLocked() {
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
}

func (d *SimulatedDevice) CurrentTime() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.position
}

func (d *SimulatedDevice) SetCurrentTime(t time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.position = max(0, min(t, d.opts.Duration))
	return nil
}

func (d *SimulatedDevice) Duration() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.ready {
		return 0
	}
	return d.opts.Duration
}

func (d *SimulatedDevice) Volume() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.volume
}

func (d *SimulatedDevice) SetVolume(v float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.volume = v
}

// Close stops background work and closes the event channel.
func (d *SimulatedDevice) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.stopLocked()
	d.mu.Unlock()

	d.wg.Wait()
	close(d.events)
	return nil
}
