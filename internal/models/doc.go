// Package models defines the domain entities shared by the playback and collaboration packages.
//
// Playlist content:
//   - [Track] : a playable catalog entry within a playlist, identified by its membership id
//   - [Playlist] : playlist metadata, including the owner and a revision counter for its order
//
// Collaboration:
//   - [User] : an account known to this instance
//   - [Collaborator] : a non-owner member with a role and an invitation status
//   - [ChangeRecord] : an immutable entry in a playlist's change log
//   - [PresenceEntry] : a live viewer of a playlist
//
// Enumerations ([ThemeKind], [Role], [InviteStatus], [ActionKind], [ResponseAction]) are string
// types so they serialize verbatim to storage and the wire.
package models
