package playback

import (
	"fmt"
	"slices"

	"github.com/desertthunder/themeroom/internal/models"
	"github.com/desertthunder/themeroom/internal/shared"
)

// Queue is an ordered sequence of tracks with unique ids. The zero value is an empty queue.
type Queue struct {
	tracks []models.Track
	index  map[string]int
}

// NewQueue copies tracks into a queue, rejecting duplicate ids.
func NewQueue(tracks []models.Track) (*Queue, error) {
	q := &Queue{
		tracks: slices.Clone(tracks),
		index:  make(map[string]int, len(tracks)),
	}
	for i, t := range q.tracks {
		if _, dup := q.index[t.ID]; dup {
			return nil, fmt.Errorf("%w: %s", shared.ErrDuplicateTrack, t.ID)
		}
		q.index[t.ID] = i
	}
	return q, nil
}

func (q *Queue) Len() int {
	if q == nil {
		return 0
	}
	return len(q.tracks)
}

// At returns the track at i.
func (q *Queue) At(i int) (models.Track, bool) {
	if i < 0 || i >= q.Len() {
		return models.Track{}, false
	}
	return q.tracks[i], true
}

// IndexOf returns the position of the track with id, or -1.
func (q *Queue) IndexOf(id string) int {
	if q == nil {
		return -1
	}
	if i, ok := q.index[id]; ok {
		return i
	}
	return -1
}

// Tracks returns a copy of the queue's tracks in order.
func (q *Queue) Tracks() []models.Track {
	if q == nil {
		return nil
	}
	return slices.Clone(q.tracks)
}

// IDs returns the track ids in order.
func (q *Queue) IDs() []string {
	ids := make([]string, q.Len())
	for i := range ids {
		ids[i] = q.tracks[i].ID
	}
	return ids
}

// Reorder returns a new queue in the order given by ids, which must be a permutation of
// the current ids. Track identity is preserved; positions are rewritten.
func (q *Queue) Reorder(ids []string) (*Queue, error) {
	if err := q.CheckOrder(ids); err != nil {
		return nil, err
	}

	tracks := make([]models.Track, len(ids))
	for pos, id := range ids {
		t := q.tracks[q.index[id]]
		t.Position = pos
		tracks[pos] = t
	}
	return NewQueue(tracks)
}

// CheckOrder reports whether ids is a permutation of the queue's ids.
func (q *Queue) CheckOrder(ids []string) error {
	if len(ids) != q.Len() {
		return fmt.Errorf("%w: got %d ids for %d tracks", shared.ErrInvalidOrder, len(ids), q.Len())
	}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if q.IndexOf(id) < 0 {
			return fmt.Errorf("%w: unknown track %s", shared.ErrInvalidOrder, id)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: track %s listed twice", shared.ErrInvalidOrder, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// Apply builds the queue that replaces q with tracks, typically after a storage refetch, and
// reports where the track at current now sits (-1 when it is gone or nothing was current).
func (q *Queue) Apply(tracks []models.Track, current int) (*Queue, int, error) {
	next, err := NewQueue(tracks)
	if err != nil {
		return nil, -1, err
	}
	prev, ok := q.At(current)
	if !ok {
		return next, -1, nil
	}
	return next, next.IndexOf(prev.ID), nil
}
