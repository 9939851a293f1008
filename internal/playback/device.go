package playback

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/themeroom/internal/shared"
)

// EventKind enumerates what a [Device] reports back to the transport.
type EventKind int

const (
	EventCanPlay EventKind = iota
	EventLoadedData
	EventDurationChange
	EventTimeUpdate
	EventEnded
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventCanPlay:
		return "canplay"
	case EventLoadedData:
		return "loadeddata"
	case EventDurationChange:
		return "durationchange"
	case EventTimeUpdate:
		return "timeupdate"
	case EventEnded:
		return "ended"
	case EventError:
		return "error"
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// MediaErrorCode mirrors the media element error codes.
type MediaErrorCode int

const (
	MediaErrAborted     MediaErrorCode = 1
	MediaErrNetwork     MediaErrorCode = 2
	MediaErrDecode      MediaErrorCode = 3
	MediaErrUnsupported MediaErrorCode = 4
)

// LoadID identifies one [Device.SetSource] call. Zero is never issued.
type LoadID uint64

// DeviceEvent is one notification from a [Device]. Load names the SetSource call the event
// belongs to; Source is informational, since two loads may share a locator.
type DeviceEvent struct {
	Kind   EventKind
	Load   LoadID
	Source string
	Time   time.Duration
	Code   MediaErrorCode
}

// Device is an audio output. Methods must not block on event delivery: events are consumed by
// [Transport.Run], which may be waiting on the transport's lock while a method runs.
type Device interface {
	// SetSource assigns a locator and begins loading it. Readiness arrives as [EventCanPlay].
	// Every event caused by this load, including a later ended, carries the returned id.
	SetSource(src string) (LoadID, error)
	Play(ctx context.Context) error
	Pause() error
	CurrentTime() time.Duration
	SetCurrentTime(d time.Duration) error
	Duration() time.Duration
	Volume() float64
	SetVolume(v float64)
	Events() <-chan DeviceEvent
	Close() error
}

// LoadReason classifies why a source could not be prepared.
type LoadReason string

const (
	ReasonAborted     LoadReason = "aborted"
	ReasonNetwork     LoadReason = "network"
	ReasonDecode      LoadReason = "decode"
	ReasonUnsupported LoadReason = "unsupported"
	ReasonUnknown     LoadReason = "unknown"
)

// ReasonFor maps a media error code to a [LoadReason].
func ReasonFor(code MediaErrorCode) LoadReason {
	switch code {
	case MediaErrAborted:
		return ReasonAborted
	case MediaErrNetwork:
		return ReasonNetwork
	case MediaErrDecode:
		return ReasonDecode
	case MediaErrUnsupported:
		return ReasonUnsupported
	}
	return ReasonUnknown
}

// LoadError is a device-level failure. It matches [shared.ErrLoadFailure] with errors.Is.
type LoadError struct {
	Reason LoadReason
	Err    error
}

func (e *LoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%v: %s: %v", shared.ErrLoadFailure, e.Reason, e.Err)
	}
	return fmt.Sprintf("%v: %s", shared.ErrLoadFailure, e.Reason)
}

func (e *LoadError) Unwrap() []error {
	if e.Err != nil {
		return []error{shared.ErrLoadFailure, e.Err}
	}
	return []error{shared.ErrLoadFailure}
}

// asLoadError keeps an existing [LoadError] and wraps anything else as unknown.
func asLoadError(err error) *LoadError {
	var le *LoadError
	if errors.As(err, &le) {
		return le
	}
	return &LoadError{Reason: ReasonUnknown, Err: err}
}
