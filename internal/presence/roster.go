// Package presence keeps the live roster of a playlist room.
//
// Liveness is heartbeat-only: peers re-announce themselves every interval and are dropped once
// they have been silent longer than the grace period. An explicit leave is honored but never
// relied on.
package presence

import (
	"sort"
	"time"

	"github.com/desertthunder/themeroom/internal/models"
)

// Roster is the set of present users. It is not safe for concurrent use; [Tracker] guards it.
// Every operation is idempotent.
type Roster struct {
	entries map[string]models.PresenceEntry
}

func NewRoster() *Roster {
	return &Roster{entries: make(map[string]models.PresenceEntry)}
}

// Upsert records e and reports whether the user was absent before.
func (r *Roster) Upsert(e models.PresenceEntry) bool {
	_, existed := r.entries[e.UserID]
	r.entries[e.UserID] = e
	return !existed
}

// Remove reports whether the user was present.
func (r *Roster) Remove(userID string) bool {
	_, ok := r.entries[userID]
	delete(r.entries, userID)
	return ok
}

func (r *Roster) Has(userID string) bool {
	_, ok := r.entries[userID]
	return ok
}

func (r *Roster) Len() int { return len(r.entries) }

// Expire removes and returns entries last seen more than grace before now, sparing keep.
func (r *Roster) Expire(now time.Time, grace time.Duration, keep string) []models.PresenceEntry {
	var gone []models.PresenceEntry
	for id, e := range r.entries {
		if id != keep && now.Sub(e.LastSeen) > grace {
			gone = append(gone, e)
			delete(r.entries, id)
		}
	}
	sortEntries(gone)
	return gone
}

// Snapshot returns the entries ordered by display name, then user id.
func (r *Roster) Snapshot() []models.PresenceEntry {
	out := make([]models.PresenceEntry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sortEntries(out)
	return out
}

// Reset empties the roster.
func (r *Roster) Reset() {
	clear(r.entries)
}

func sortEntries(es []models.PresenceEntry) {
	sort.Slice(es, func(i, j int) bool {
		if es[i].DisplayName != es[j].DisplayName {
			return es[i].DisplayName < es[j].DisplayName
		}
		return es[i].UserID < es[j].UserID
	})
}
