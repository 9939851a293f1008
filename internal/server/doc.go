// Package server hosts the relay that browser peers connect to and the one-shot OAuth callback
// used by `auth login`.
//
// # Relay
//
// [Relay] serves a chi router. Every route except /healthz requires a relay token issued by
// [identity.Signer], passed as a Bearer header or a token query parameter.
//
//	GET /healthz                              liveness and open room count
//	GET /playlists/{playlistID}/changes       recent change records, newest first
//	GET /playlists/{playlistID}/collaborators collaborator list
//	GET /ws/{playlistID}                      WebSocket room
//
// A room is opened when its first socket connects and closed with its last one. While open it
// subscribes to the playlist's presence and change topics and writes every broker message to
// each socket as JSON. Sockets may publish presence frames, which are stamped with their own
// user, and may re-announce change records they wrote. A socket that drops after announcing
// presence gets a leave published on its behalf.
//
// # OAuth Callback Handler
//
// [OAuthHandler] validates the state parameter, exchanges the authorization code and sends the
// result through a channel. It only processes one callback.
package server
