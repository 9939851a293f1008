package tasks

import (
	"fmt"
)

// ProgressUpdate represents a progress event during a long-running operation.
//
// Used to send real-time updates to the CLI or UI layer for display.
type ProgressUpdate struct {
	Phase   Phase  // Operation phase
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data for advanced UIs
}

// Operation phase enumeration
type Phase int

const (
	ResolveThemes Phase = iota
	AddThemes
	FetchPlaylist
	ExportPlaylist
)

func (p Phase) String() string {
	switch p {
	case ResolveThemes:
		return "resolve_themes"
	case AddThemes:
		return "add_themes"
	case FetchPlaylist:
		return "fetch_playlist"
	case ExportPlaylist:
		return "export_playlist"
	default:
		return ""
	}
}

func resolveStartUpdate(total int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ResolveThemes,
		Step:    0,
		Total:   total,
		Message: fmt.Sprintf("Resolving %d themes from the catalog...", total),
	}
}

func resolvedUpdate(step, total int, res RefResult) ProgressUpdate {
	if res.Error != nil {
		return ProgressUpdate{
			Phase:   ResolveThemes,
			Step:    step,
			Total:   total,
			Message: fmt.Sprintf("[%d/%d] ✗ %s: %v", step, total, res.Ref, res.Error),
			Data:    res,
		}
	}
	return ProgressUpdate{
		Phase:   ResolveThemes,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] %s → %s", step, total, res.Ref, res.Track.Label()),
		Data:    res,
	}
}

func addedUpdate(step, total int, res RefResult) ProgressUpdate {
	if res.Error != nil {
		return ProgressUpdate{
			Phase:   AddThemes,
			Step:    step,
			Total:   total,
			Message: fmt.Sprintf("[%d/%d] ✗ %s: %v", step, total, res.Ref, res.Error),
			Data:    res,
		}
	}
	return ProgressUpdate{
		Phase:   AddThemes,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] ✓ %s", step, total, res.Track.Label()),
		Data:    res,
	}
}

func fetchingPlaylistUpdate(step, total int, id string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   FetchPlaylist,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] Fetching %s...", step, total, id),
	}
}

func exportCompletedUpdate(step, total int, name string, filesCount int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ExportPlaylist,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] ✓ %s (%d files)", step, total, name, filesCount),
	}
}

func exportFailedUpdate(step, total int, name string, err error) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ExportPlaylist,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] ✗ %s: %v", step, total, name, err),
	}
}
