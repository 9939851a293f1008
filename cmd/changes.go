package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/desertthunder/themeroom/internal/formatter"
	"github.com/desertthunder/themeroom/internal/models"
	"github.com/urfave/cli/v3"
)

func (r *Runner) recentChanges(ctx context.Context, cmd *cli.Command) ([]models.ChangeRecord, error) {
	a, err := args(cmd, 1, "<playlist-id>")
	if err != nil {
		return nil, err
	}
	if _, err := r.fetchVisible(ctx, a[0]); err != nil {
		return nil, err
	}
	w, err := r.workflow(ctx)
	if err != nil {
		return nil, err
	}
	return w.RecentChanges(ctx, a[0], int(cmd.Int("limit")))
}

// ChangesList prints recent changes, newest first.
func (r *Runner) ChangesList(ctx context.Context, cmd *cli.Command) error {
	records, err := r.recentChanges(ctx, cmd)
	if err != nil {
		return err
	}
	out, err := formatter.RenderChanges(records, formatter.ParseFormat(cmd.String("format")))
	if err != nil {
		return err
	}
	_, err = r.output.Write(out)
	return err
}

// ChangesExport writes recent changes to --output.
func (r *Runner) ChangesExport(ctx context.Context, cmd *cli.Command) error {
	records, err := r.recentChanges(ctx, cmd)
	if err != nil {
		return err
	}
	out, err := formatter.RenderChanges(records, formatter.ParseFormat(cmd.String("format")))
	if err != nil {
		return err
	}

	path := cmd.String("output")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.WriteFile(path, out, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return r.writePlain("✓ Wrote %d changes to %s\n", len(records), path)
}
