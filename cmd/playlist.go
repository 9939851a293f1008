package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/desertthunder/themeroom/internal/catalog"
	"github.com/desertthunder/themeroom/internal/collab"
	"github.com/desertthunder/themeroom/internal/formatter"
	"github.com/desertthunder/themeroom/internal/models"
	"github.com/desertthunder/themeroom/internal/shared"
	"github.com/desertthunder/themeroom/internal/tasks"
	"github.com/urfave/cli/v3"
)

// PlaylistCreate creates a playlist owned by the current user.
func (r *Runner) PlaylistCreate(ctx context.Context, cmd *cli.Command) error {
	a, err := args(cmd, 1, "<name>")
	if err != nil {
		return err
	}
	w, err := r.workflow(ctx)
	if err != nil {
		return err
	}

	p, err := w.CreatePlaylist(ctx, strings.Join(a, " "), cmd.String("description"), cmd.Bool("public"))
	if err != nil {
		return err
	}
	if cmd.Bool("json") {
		return r.writeJSON(p, cmd.Bool("pretty"))
	}
	return r.writePlain("✓ Created %q (%s)\n", p.Name, p.ID)
}

// PlaylistList lists the current user's playlists.
func (r *Runner) PlaylistList(ctx context.Context, cmd *cli.Command) error {
	w, err := r.workflow(ctx)
	if err != nil {
		return err
	}
	playlists, err := w.Playlists(ctx)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(playlists, cmd.Bool("pretty"))
	}
	if len(playlists) == 0 {
		return r.writePlain("No playlists yet. Create one with 'themeroom playlist create <name>'.\n")
	}
	for _, p := range playlists {
		r.writePlain("%s  %-30s  %-7s  rev %d\n", p.ID, p.Name, formatter.Visibility(p.IsPublic), p.Revision)
	}
	return nil
}

// PlaylistShow renders one playlist in the requested format.
func (r *Runner) PlaylistShow(ctx context.Context, cmd *cli.Command) error {
	a, err := args(cmd, 1, "<playlist-id>")
	if err != nil {
		return err
	}
	export, err := r.fetchVisible(ctx, a[0])
	if err != nil {
		return err
	}

	var out []byte
	switch formatter.ParseFormat(cmd.String("format")) {
	case formatter.FormatCSV:
		out, err = formatter.ExportToCSV(export)
	case formatter.FormatMarkdown:
		out, err = formatter.ExportToMarkdown(export)
	case formatter.FormatText:
		out, err = formatter.ExportToText(export)
	default:
		out, err = formatter.MarshalJSON(export, true)
		out = append(out, '\n')
	}
	if err != nil {
		return err
	}
	_, err = r.output.Write(out)
	return err
}

// fetchVisible loads a playlist export after checking the current user may see it.
func (r *Runner) fetchVisible(ctx context.Context, playlistID string) (*models.PlaylistExport, error) {
	w, err := r.workflow(ctx)
	if err != nil {
		return nil, err
	}
	store, _ := r.openStore(ctx)

	p, err := store.GetPlaylist(ctx, playlistID)
	if err != nil {
		return nil, err
	}
	user, err := r.provider().CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	ok, err := w.CanView(ctx, p, user)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s is not shared with %s", shared.ErrUnauthorized, playlistID, user)
	}
	return tasks.NewExportEngine(store, r.logger).Fetch(ctx, playlistID)
}

// PlaylistAdd adds one theme, resolved from the catalog when a reference is given.
func (r *Runner) PlaylistAdd(ctx context.Context, cmd *cli.Command) error {
	a, err := args(cmd, 1, "<playlist-id> [anime/OP1]")
	if err != nil {
		return err
	}
	w, err := r.workflow(ctx)
	if err != nil {
		return err
	}

	var track models.Track
	if len(a) > 1 {
		ref, err := catalog.ParseRef(a[1])
		if err != nil {
			return err
		}
		resolved, err := r.catalog().Lookup(ctx, ref)
		if err != nil {
			return err
		}
		track = *resolved
	} else {
		kind, err := models.ParseThemeKind(cmd.String("kind"))
		if err != nil {
			return err
		}
		track = models.Track{
			Title:    cmd.String("title"),
			Show:     cmd.String("show"),
			Kind:     kind,
			MediaURL: cmd.String("media"),
		}
		if track.Title == "" {
			return fmt.Errorf("%w: --title or a catalog reference is required", shared.ErrMissingArgument)
		}
	}

	added, rec, err := w.AddTrack(ctx, a[0], track)
	if err != nil {
		return err
	}
	if cmd.Bool("json") {
		return r.writeJSON(added, cmd.Bool("pretty"))
	}
	r.writePlain("✓ Added %s (%s)\n", added.Label(), added.ID)
	if !added.Playable() {
		r.writePlain("⚠ No media locator; playback will skip this theme\n")
	}
	r.logger.Debug("change recorded", "seq", rec.Seq, "id", rec.ID)
	return nil
}

func (r *Runner) catalog() *catalog.Client {
	return catalog.NewClient(catalog.ClientOpts{
		BaseURL:    r.config.Catalog.BaseURL,
		RateLimit:  r.config.Catalog.RateLimit,
		HTTPClient: r.httpClient,
	})
}

// PlaylistRemove removes one theme.
func (r *Runner) PlaylistRemove(ctx context.Context, cmd *cli.Command) error {
	a, err := args(cmd, 2, "<playlist-id> <track-id>")
	if err != nil {
		return err
	}
	w, err := r.workflow(ctx)
	if err != nil {
		return err
	}
	if _, err := w.RemoveTrack(ctx, a[0], a[1]); err != nil {
		return err
	}
	return r.writePlain("✓ Removed %s\n", a[1])
}

// PlaylistReorder replaces the queue order.
func (r *Runner) PlaylistReorder(ctx context.Context, cmd *cli.Command) error {
	a, err := args(cmd, 2, "<playlist-id> <track-id>...")
	if err != nil {
		return err
	}
	w, err := r.workflow(ctx)
	if err != nil {
		return err
	}
	if _, err := w.Reorder(ctx, a[0], a[1:]); err != nil {
		return err
	}
	return r.writePlain("✓ Reordered %d themes\n", len(a)-1)
}

// PlaylistRename patches name, description or visibility.
func (r *Runner) PlaylistRename(ctx context.Context, cmd *cli.Command) error {
	a, err := args(cmd, 1, "<playlist-id> [name]")
	if err != nil {
		return err
	}

	var patch collab.MetadataPatch
	if len(a) > 1 {
		name := strings.Join(a[1:], " ")
		patch.Name = &name
	}
	if cmd.IsSet("description") {
		desc := cmd.String("description")
		patch.Description = &desc
	}
	if cmd.IsSet("visibility") {
		var public bool
		switch strings.ToLower(cmd.String("visibility")) {
		case "public":
			public = true
		case "private":
		default:
			return fmt.Errorf("%w: visibility must be public or private", shared.ErrInvalidInput)
		}
		patch.IsPublic = &public
	}

	w, err := r.workflow(ctx)
	if err != nil {
		return err
	}
	p, _, err := w.UpdateMetadata(ctx, a[0], patch)
	if err != nil {
		return err
	}
	return r.writePlain("✓ %s is now %q (%s)\n", p.ID, p.Name, formatter.Visibility(p.IsPublic))
}

// PlaylistExport writes playlists to disk with a manifest.
func (r *Runner) PlaylistExport(ctx context.Context, cmd *cli.Command) error {
	ids, err := args(cmd, 1, "<playlist-id>...")
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, err := r.fetchVisible(ctx, id); err != nil {
			return err
		}
	}
	store, err := r.openStore(ctx)
	if err != nil {
		return err
	}

	outputDir := cmd.String("output")
	if outputDir == "" {
		outputDir = fmt.Sprintf("themeroom_export_%d", time.Now().Unix())
	}
	opts := tasks.BulkExportOpts{
		Format:     formatter.ParseFormat(cmd.String("format")),
		OutputDir:  outputDir,
		NumWorkers: int(cmd.Int("workers")),
	}

	progress := make(chan tasks.ProgressUpdate, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for update := range progress {
			r.writePlain("   %s\n", update.Message)
		}
	}()

	result, err := tasks.NewExportEngine(store, r.logger).BulkExport(ctx, progress, ids, opts)
	close(progress)
	<-done
	if err != nil {
		return err
	}

	r.writePlainHeader("Export Complete")
	r.writePlain("Exported: %d/%d\n", result.SuccessfulExports, result.TotalPlaylists)
	r.writePlain("Directory: %s\n", result.OutputDirectory)
	r.writePlain("Manifest: %s\n", filepath.Base(result.ManifestPath))
	for _, res := range result.Results {
		if !res.Success {
			r.writePlain("  ✗ %s: %s\n", res.PlaylistID, res.ErrorMessage)
		}
	}
	return nil
}
