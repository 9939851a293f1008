// Package collab implements shared playlists: the invitation workflow, permission-checked
// mutations, and the per-playlist [Session] that keeps a local player in step with everyone
// else viewing the same playlist.
//
// A Session is explicitly constructed and owns its presence heartbeat, change subscription
// and event bus. Nothing in this package is global; Stop releases everything Start acquired.
package collab
