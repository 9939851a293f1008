// Package ui implements an interactive terminal interface using bubbletea's Elm architecture.
//
// The TUI has three views:
//  1. [PlaylistListView] : Browse the playlists you own or collaborate on
//  2. [InvitationsView] : Accept or decline pending invitations
//  3. [SessionView] : Play a shared playlist, watch who is listening and what changed
//
// The (view) [Model] implements bubbletea/Elm's standard Init/Update/View pattern, receiving messages via the Msg union type.
// Session events and transport snapshots flow in through channels, each drained by a command that re-arms itself.
//
// Keyboard navigation uses vim-style bindings (j/k, enter, esc, q) with contextual help displayed via charmbracelet/bubbles/help.
package ui
