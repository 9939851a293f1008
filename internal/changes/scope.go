package changes

import "github.com/desertthunder/themeroom/internal/models"

// Scope names the part of a playlist a subscriber must re-read after a change.
type Scope int

const (
	RefetchTracks Scope = iota
	RefetchOrder
	RefetchMetadata
)

func (s Scope) String() string {
	switch s {
	case RefetchOrder:
		return "order"
	case RefetchMetadata:
		return "metadata"
	default:
		return "tracks"
	}
}

// ScopeFor maps an action to the refetch it requires. Unknown actions refetch the tracks.
func ScopeFor(kind models.ActionKind) Scope {
	switch kind {
	case models.ActionReorderThemes:
		return RefetchOrder
	case models.ActionUpdateMetadata:
		return RefetchMetadata
	default:
		return RefetchTracks
	}
}
