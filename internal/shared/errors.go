package shared

import "errors"

var (
	// Configuration errors
	ErrConfigNotFound = errors.New("configuration not found")
	ErrInvalidConfig  = errors.New("invalid configuration")

	// Playback errors
	ErrNoMedia        = errors.New("track has no playable media")
	ErrLoadFailure    = errors.New("media load failed")
	ErrLoadSuperseded = errors.New("load superseded by a newer selection")
	ErrNoTrackLoaded  = errors.New("no track loaded")
	ErrEmptyQueue     = errors.New("queue is empty")
	ErrInvalidIndex   = errors.New("index out of range")
	ErrDuplicateTrack = errors.New("duplicate track in queue")
	ErrInvalidOrder   = errors.New("order is not a permutation of the queue")

	// Identity and collaboration errors
	ErrNotAuthenticated    = errors.New("not authenticated")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrNotFound            = errors.New("not found")
	ErrUserNotFound        = errors.New("user not found")
	ErrAlreadyInvited      = errors.New("user already has a pending invitation")
	ErrAlreadyCollaborator = errors.New("user is already a collaborator")

	// Channel and service errors
	ErrChannel            = errors.New("channel error")
	ErrSessionClosed      = errors.New("session closed")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrAPIRequest         = errors.New("API request failed")

	// Input validation errors
	ErrInvalidInput    = errors.New("invalid input")
	ErrMissingArgument = errors.New("missing required argument")
)
