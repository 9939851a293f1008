package main

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/themeroom/internal/shared"
	"github.com/desertthunder/themeroom/internal/ui"
	"github.com/urfave/cli/v3"
)

// TUI launches the interactive player.
func (r *Runner) TUI(ctx context.Context, cmd *cli.Command) error {
	// Redirect logs to file to avoid interfering with TUI rendering
	path := r.config.Logging.File
	if path == "" {
		path = "./tmp/themeroom-tui.log"
	}
	fileLogger, f, err := shared.NewFileLogger(shared.ExpandHome(path))
	if err != nil {
		return fmt.Errorf("failed to create file logger: %w", err)
	}
	defer f.Close()
	shared.SetLogLevel(fileLogger, r.logger.GetLevel())
	r.SetLogger(fileLogger)

	w, err := r.workflow(ctx)
	if err != nil {
		return err
	}
	if _, err := r.provider().CurrentUser(ctx); err != nil {
		return err
	}

	model := ui.NewModel(ctx, w, r.newSession)
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running TUI: %w", err)
	}

	return nil
}
