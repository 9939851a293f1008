// Package playback drives a single audio output device through a queue of theme tracks.
//
// A [Queue] is the ordered, de-duplicated list of tracks a session plays through. [Next] and
// [Previous] are the pure selection rules for shuffle and repeat. [Transport] is the state
// machine over {loading, ready, playing, paused, error}: it owns the queue, consumes [DeviceEvent]s
// from a [Device], and guards every load attempt with a generation so a slow load that resolves
// after the user moved on never clobbers the newer selection.
package playback
