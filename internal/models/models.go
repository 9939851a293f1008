// package models defines the data model for collaborative theme playlists
package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/desertthunder/themeroom/internal/shared"
)

var errInvalid = shared.ErrInvalidInput

// ThemeKind tags a theme song by where it appears in a show.
type ThemeKind string

const (
	KindOpening ThemeKind = "opening"
	KindEnding  ThemeKind = "ending"
	KindInsert  ThemeKind = "insert"
)

// ParseThemeKind accepts the long names and the catalog's OP/ED/IN shorthand.
func ParseThemeKind(s string) (ThemeKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "opening", "op":
		return KindOpening, nil
	case "ending", "ed":
		return KindEnding, nil
	case "insert", "in":
		return KindInsert, nil
	}
	return "", fmt.Errorf("%w: unknown theme kind %q", errInvalid, s)
}

// Short returns the OP/ED/IN label.
func (k ThemeKind) Short() string {
	switch k {
	case KindOpening:
		return "OP"
	case KindEnding:
		return "ED"
	case KindInsert:
		return "IN"
	}
	return "??"
}

// Track is one entry of a playlist. ID is the membership identity and is stable across
// reorders; SongID is the catalog identity and may repeat across playlists.
type Track struct {
	ID         string    `json:"id"`
	PlaylistID string    `json:"playlistId"`
	SongID     string    `json:"songId,omitempty"`
	Title      string    `json:"title"`
	Show       string    `json:"show"`
	Kind       ThemeKind `json:"kind"`
	MediaURL   string    `json:"mediaUrl,omitempty"`
	Position   int       `json:"position"`
	AddedBy    string    `json:"addedBy,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Playable reports whether the track has a media locator. Tracks without one are never
// selectable by the transport.
func (t Track) Playable() bool {
	return strings.TrimSpace(t.MediaURL) != ""
}

// Label renders "Show OP - Title" for lists and logs.
func (t Track) Label() string {
	if t.Show == "" {
		return t.Title
	}
	return fmt.Sprintf("%s %s - %s", t.Show, t.Kind.Short(), t.Title)
}

func (t Track) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("%w: track id is required", errInvalid)
	}
	if strings.TrimSpace(t.Title) == "" {
		return fmt.Errorf("%w: track title is required", errInvalid)
	}
	if _, err := ParseThemeKind(string(t.Kind)); err != nil {
		return err
	}
	return nil
}

// Playlist is playlist metadata. The owner is implicit and never appears as a [Collaborator].
type Playlist struct {
	ID          string     `json:"id"`
	OwnerID     string     `json:"ownerId"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	IsPublic    bool       `json:"isPublic"`
	Revision    int64      `json:"revision"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	DeletedAt   *time.Time `json:"deletedAt,omitempty"`
}

func (p Playlist) Validate() error {
	if p.ID == "" || p.OwnerID == "" {
		return fmt.Errorf("%w: playlist id and owner are required", errInvalid)
	}
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: playlist name is required", errInvalid)
	}
	return nil
}

type User struct {
	ID          string    `json:"id"`
	Email       string    `json:"email,omitempty"`
	DisplayName string    `json:"displayName"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Name returns the display name, falling back to the email and then the id.
func (u User) Name() string {
	switch {
	case u.DisplayName != "":
		return u.DisplayName
	case u.Email != "":
		return u.Email
	}
	return u.ID
}

// Role is a playlist access level.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

// ParseInviteRole accepts only the roles an invitation may grant.
func ParseInviteRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleEditor, RoleViewer:
		return r, nil
	}
	return "", fmt.Errorf("%w: invitations grant editor or viewer, not %q", errInvalid, s)
}

// InviteStatus is a collaborator's invitation state.
type InviteStatus string

const (
	StatusPending  InviteStatus = "pending"
	StatusAccepted InviteStatus = "accepted"
	StatusDeclined InviteStatus = "declined"
)

// ResponseAction answers a pending invitation.
type ResponseAction string

const (
	Accept  ResponseAction = "accept"
	Decline ResponseAction = "decline"
)

func ParseResponseAction(s string) (ResponseAction, error) {
	switch a := ResponseAction(strings.ToLower(strings.TrimSpace(s))); a {
	case Accept, Decline:
		return a, nil
	}
	return "", fmt.Errorf("%w: response must be accept or decline, not %q", errInvalid, s)
}

// Collaborator is a non-owner member of a playlist. A user has at most one row per playlist.
type Collaborator struct {
	ID          string       `json:"id"`
	PlaylistID  string       `json:"playlistId"`
	UserID      string       `json:"userId"`
	DisplayName string       `json:"displayName,omitempty"`
	Role        Role         `json:"role"`
	Status      InviteStatus `json:"status"`
	InvitedBy   string       `json:"invitedBy"`
	InvitedAt   time.Time    `json:"invitedAt"`
	AcceptedAt  *time.Time   `json:"acceptedAt,omitempty"`
}

// CanEdit reports whether the row grants mutation rights.
func (c Collaborator) CanEdit() bool {
	return c.Role == RoleEditor && c.Status == StatusAccepted
}

// Invitation is a collaborator row seen from the invitee's side.
type Invitation struct {
	Collaborator
	PlaylistName string `json:"playlistName"`
	OwnerID      string `json:"ownerId"`
}

// ActionKind classifies a [ChangeRecord].
type ActionKind string

const (
	ActionAddTheme       ActionKind = "add_theme"
	ActionRemoveTheme    ActionKind = "remove_theme"
	ActionReorderThemes  ActionKind = "reorder_themes"
	ActionUpdateMetadata ActionKind = "update_metadata"
)

func (a ActionKind) Valid() bool {
	switch a {
	case ActionAddTheme, ActionRemoveTheme, ActionReorderThemes, ActionUpdateMetadata:
		return true
	}
	return false
}

// ChangeRecord is one accepted mutation. Records are append-only; Seq is the commit order
// assigned by storage and breaks createdAt ties.
type ChangeRecord struct {
	ID         string          `json:"id"`
	Seq        int64           `json:"seq"`
	PlaylistID string          `json:"playlistId"`
	UserID     string          `json:"userId"`
	Action     ActionKind      `json:"action"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// PresenceEntry is a live viewer of a playlist.
type PresenceEntry struct {
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	LastSeen    time.Time `json:"lastSeen"`
	Cursor      string    `json:"cursor,omitempty"`
}

// PlaylistExport is a playlist with its ordered tracks and collaborators, as written by exports.
type PlaylistExport struct {
	Playlist      Playlist       `json:"playlist"`
	Tracks        []Track        `json:"tracks"`
	Collaborators []Collaborator `json:"collaborators,omitempty"`
}
