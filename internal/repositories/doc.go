// Package repositories implements SQLite persistence for users, playlists, their tracks,
// collaborators and the change log.
//
// Repositories run against a [DBTX], so the same code serves a plain connection and a
// transaction. [Store] composes them and performs every playlist mutation together with its
// change record in one transaction, bumping the playlist's revision.
//
// Key Implementations:
//   - [UserRepository] : users known to this instance, looked up by id or email
//   - [PlaylistRepository] : playlist metadata with soft deletes
//   - [TrackRepository] : ordered playlist membership with dense positions
//   - [CollaboratorRepository] : invitations and their status
//   - [ChangeRepository] : the append-only change log
//
// Package postgres provides the same [Store] surface over pgx.
package repositories
