// package testing contains shared testing utilities
package testing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/themeroom/internal/models"
	"github.com/desertthunder/themeroom/internal/playback"
)

// FakeDevice is a scriptable [playback.Device]. With AutoReady set, SetSource queues
// loadeddata and canplay events for the new source.
type FakeDevice struct {
	mu        sync.Mutex
	load      playback.LoadID
	src       string
	sources   []string
	playing   bool
	playCalls int
	position  time.Duration
	length    time.Duration
	volume    float64
	events    chan playback.DeviceEvent

	AutoReady    bool
	SetSourceErr error
	PlayErr      error
}

func NewFakeDevice(autoReady bool) *FakeDevice {
	return &FakeDevice{
		AutoReady: autoReady,
		length:    90 * time.Second,
		volume:    1,
		events:    make(chan playback.DeviceEvent, 64),
	}
}

func (d *FakeDevice) SetSource(src string) (playback.LoadID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.SetSourceErr != nil {
		return 0, d.SetSourceErr
	}
	d.load++
	d.src, d.playing, d.position = src, false, 0
	d.sources = append(d.sources, src)
	if d.AutoReady {
		d.push(playback.DeviceEvent{Kind: playback.EventLoadedData, Load: d.load, Source: src})
		d.push(playback.DeviceEvent{Kind: playback.EventCanPlay, Load: d.load, Source: src})
	}
	return d.load, nil
}

func (d *FakeDevice) push(ev playback.DeviceEvent) {
	select {
	case d.events <- ev:
	default:
	}
}

// Emit queues an event as if the device produced it. An event without a Load is stamped
// with the current load.
func (d *FakeDevice) Emit(ev playback.DeviceEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ev.Load == 0 {
		ev.Load = d.load
	}
	d.push(ev)
}

func (d *FakeDevice) Play(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.playCalls++
	if d.PlayErr != nil {
		return d.PlayErr
	}
	d.playing = true
	return nil
}

func (d *FakeDevice) Pause() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.playing = false
	return nil
}

func (d *FakeDevice) CurrentTime() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.position
}

func (d *FakeDevice) SetCurrentTime(t time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.position = t
	return nil
}

func (d *FakeDevice) Duration() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.length
}

func (d *FakeDevice) Volume() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.volume
}

func (d *FakeDevice) SetVolume(v float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.volume = v
}

func (d *FakeDevice) Events() <-chan playback.DeviceEvent { return d.events }

func (d *FakeDevice) Close() error { return nil }

// Source returns the last assigned source.
func (d *FakeDevice) Source() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.src
}

// Load returns the id of the last SetSource call.
func (d *FakeDevice) Load() playback.LoadID {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.load
}

// Sources returns every source assigned so far.
func (d *FakeDevice) Sources() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.sources...)
}

func (d *FakeDevice) IsPlaying() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.playing
}

func (d *FakeDevice) PlayCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.playCalls
}

// SeqRand returns the queued values in turn (modulo n), then zeros.
type SeqRand struct {
	mu     sync.Mutex
	values []int
}

func NewSeqRand(values ...int) *SeqRand { return &SeqRand{values: values} }

func (r *SeqRand) IntN(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.values) == 0 {
		return 0
	}
	v := r.values[0]
	r.values = r.values[1:]
	return v % n
}

// Themes builds playable tracks with ids equal to the given names.
func Themes(names ...string) []models.Track {
	tracks := make([]models.Track, len(names))
	for i, name := range names {
		tracks[i] = models.Track{
			ID:       name,
			Title:    "Theme " + name,
			Show:     "Show " + name,
			Kind:     models.KindOpening,
			MediaURL: fmt.Sprintf("https://media.example/%s.webm", name),
			Position: i,
		}
	}
	return tracks
}

// Eventually polls cond until it holds or two seconds pass.
func Eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met: %s", msg)
}

// FWriter always returns an error on Write
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

// LimitedWriter fails after a certain number of writes
type LimitedWriter struct {
	maxWrites int
	written   int
	target    io.Writer
}

func (l *LimitedWriter) Write(p []byte) (n int, err error) {
	if l.written >= l.maxWrites {
		return 0, errors.New("write limit exceeded")
	}
	l.written++
	return l.target.Write(p)
}

func NewLimitedWriter(maxWrites, written int, target io.Writer) LimitedWriter {
	return LimitedWriter{maxWrites: maxWrites, written: written, target: target}
}

// MockRoundTripper allows custom HTTP responses for testing
type MockRoundTripper struct {
	response *http.Response
	err      error
}

func NewMockRoundTripper(r *http.Response, e error) *MockRoundTripper {
	return &MockRoundTripper{response: r, err: e}
}

func (m *MockRoundTripper) RoundTrip(*http.Request) (*http.Response, error) {
	return m.response, m.err
}

// FCloser simulates a failure when reading response body
type FCloser struct{}

func (f *FCloser) Read(p []byte) (n int, err error) {
	return 0, errors.New("read failed")
}

func (f *FCloser) Close() error {
	return nil
}

func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("File does not exist: %s", path)
	}
}

func MustReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(content)
}
