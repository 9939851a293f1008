// Package tasks runs bulk playlist jobs with real-time progress reporting.
//
// # Import
//
// [ImportEngine.Import] resolves "anime/OP1" references against the theme catalog with a
// bounded worker pool under a shared rate limit, then adds the resolved themes to a playlist
// in the order they were given. Each reference gets its own [RefResult]; one bad reference
// never aborts the rest, but losing edit rights does.
//
// # Export
//
// [ExportEngine.BulkExport] writes several playlists concurrently in one of the
// formatter's formats and finishes with a manifest listing every file written.
//
// # Progress Reporting
//
// Both operations send [ProgressUpdate] values on an optional channel. Sends never block:
// a full or absent channel drops the update.
package tasks
