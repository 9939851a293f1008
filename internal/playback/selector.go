package playback

import (
	"fmt"
	"maps"
	"strings"

	"github.com/desertthunder/themeroom/internal/shared"
)

// RepeatMode controls what happens when a track ends.
type RepeatMode string

const (
	RepeatOff      RepeatMode = "off"
	RepeatPlaylist RepeatMode = "playlist"
	RepeatTrack    RepeatMode = "track"
)

// ParseRepeatMode parses a config or flag value; empty means [RepeatOff].
func ParseRepeatMode(s string) (RepeatMode, error) {
	switch m := RepeatMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return RepeatOff, nil
	case RepeatOff, RepeatPlaylist, RepeatTrack:
		return m, nil
	}
	return "", fmt.Errorf("%w: unknown repeat mode %q", shared.ErrInvalidInput, s)
}

// Next cycles off -> playlist -> track -> off.
func (m RepeatMode) Next() RepeatMode {
	switch m {
	case RepeatOff:
		return RepeatPlaylist
	case RepeatPlaylist:
		return RepeatTrack
	default:
		return RepeatOff
	}
}

// Rand is the source of randomness for shuffle. *math/rand/v2.Rand satisfies it.
type Rand interface {
	IntN(n int) int
}

// History is the set of indices played since shuffle was activated or the last cycle reset.
type History map[int]struct{}

// NewHistory builds a history from indices.
func NewHistory(indices ...int) History {
	h := make(History, len(indices))
	for _, i := range indices {
		h[i] = struct{}{}
	}
	return h
}

func (h History) Has(i int) bool {
	_, ok := h[i]
	return ok
}

// Selection is the input to [Next] and [Previous]. Current is -1 when nothing is selected.
type Selection struct {
	N       int
	Current int
	Shuffle bool
	History History
}

// Next returns the index to play after s.Current and the updated history.
//
// Without shuffle the index wraps to 0 after the last track. With shuffle, indices not yet in
// the history are preferred; once every other index has been played the history resets to
// {current} and the pick is made from all other indices.
func Next(s Selection, r Rand) (int, History) {
	if !s.Shuffle {
		if s.N <= 0 {
			return -1, s.History
		}
		if s.Current < 0 {
			return 0, s.History
		}
		return (s.Current + 1) % s.N, s.History
	}
	return shufflePick(s, r)
}

// Previous returns the index before s.Current. With shuffle it applies the same
// anti-repetition pick as [Next].
func Previous(s Selection, r Rand) (int, History) {
	if !s.Shuffle {
		if s.N <= 0 {
			return -1, s.History
		}
		if s.Current < 0 {
			return s.N - 1, s.History
		}
		return (s.Current - 1 + s.N) % s.N, s.History
	}
	return shufflePick(s, r)
}

func shufflePick(s Selection, r Rand) (int, History) {
	switch {
	case s.N <= 0:
		return -1, s.History
	case s.N == 1:
		return 0, NewHistory(0)
	}

	h := maps.Clone(s.History)
	if h == nil {
		h = make(History)
	}

	candidates := make([]int, 0, s.N)
	for i := 0; i < s.N; i++ {
		if i != s.Current && !h.Has(i) {
			candidates = append(candidates, i)
		}
	}

	if len(candidates) == 0 {
		h = NewHistory(s.Current)
		for i := 0; i < s.N; i++ {
			if i != s.Current {
				candidates = append(candidates, i)
			}
		}
	}

	pick := candidates[r.IntN(len(candidates))]
	if s.Current >= 0 {
		h[s.Current] = struct{}{}
	}
	h[pick] = struct{}{}
	return pick, h
}

// NewShuffleOrder returns a uniformly random permutation of [0, n).
func NewShuffleOrder(n int, r Rand) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	for i := n - 1; i > 0; i-- {
		j := r.IntN(i + 1)
		order[i], order[j] = order[j], order[i]
	}
	return order
}
