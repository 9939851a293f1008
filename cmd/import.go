package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/desertthunder/themeroom/internal/shared"
	"github.com/desertthunder/themeroom/internal/tasks"
	"github.com/urfave/cli/v3"
)

// Import resolves catalog references and adds them to a playlist in order.
func (r *Runner) Import(ctx context.Context, cmd *cli.Command) error {
	a, err := args(cmd, 1, "<playlist-id> [anime/OP1]...")
	if err != nil {
		return err
	}
	playlistID, refs := a[0], a[1:]

	if path := cmd.String("file"); path != "" {
		fromFile, err := readRefs(path)
		if err != nil {
			return err
		}
		refs = append(refs, fromFile...)
	}
	if len(refs) == 0 {
		return fmt.Errorf("%w: no references given", shared.ErrMissingArgument)
	}

	w, err := r.workflow(ctx)
	if err != nil {
		return err
	}
	engine := tasks.NewImportEngine(tasks.ImportOpts{
		Resolver:   r.catalog(),
		Adder:      w,
		Logger:     r.logger,
		NumWorkers: int(cmd.Int("workers")),
		RateLimit:  r.config.Catalog.RateLimit,
	})

	progress := make(chan tasks.ProgressUpdate, 50)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for update := range progress {
			switch update.Phase {
			case tasks.ResolveThemes:
				if update.Step == 0 {
					r.writePlain("🔍 %s\n", update.Message)
				} else {
					r.writePlain("   %s\n", update.Message)
				}
			case tasks.AddThemes:
				r.writePlain("📝 %s\n", update.Message)
			}
		}
	}()

	result, err := engine.Import(ctx, progress, playlistID, refs)
	close(progress)
	<-done
	if result == nil {
		return err
	}

	r.writePlain("\n")
	r.writePlainHeader("Import Complete")
	r.writePlain("Added: %d/%d\n", result.Added, len(result.Results))
	if result.Failed > 0 {
		r.writePlain("\nFailed %d references:\n", result.Failed)
		for _, res := range result.Results {
			if res.Error != nil {
				r.writePlain("  - %s: %v\n", res.Ref, res.Error)
			}
		}
	}
	return err
}

// readRefs reads one reference per line, skipping blanks and # comments.
func readRefs(path string) ([]string, error) {
	f, err := os.Open(shared.ExpandHome(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	var refs []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		refs = append(refs, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return refs, nil
}
