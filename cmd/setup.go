package main

import (
	"context"
	"fmt"
	"os"

	"github.com/desertthunder/themeroom/internal/repositories/postgres"
	"github.com/desertthunder/themeroom/internal/shared"
	"github.com/urfave/cli/v3"
)

// SetupConfig writes the example configuration to the --config path.
func (r *Runner) SetupConfig(ctx context.Context, cmd *cli.Command) error {
	path := shared.ExpandHome(r.configPath)
	if path == "" {
		path = shared.DefaultConfigPath()
	}

	if cmd.Bool("force") {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove existing config: %w", err)
		}
	}

	if err := shared.CreateConfigFile(path); err != nil {
		return err
	}
	r.logger.Info("config file created", "path", path)

	r.writePlain("✓ Config written to %s\n", path)
	r.writePlainln("Next steps:")
	r.writePlain("1. Set identity.user_id and identity.display_name\n")
	r.writePlain("2. Run 'themeroom setup database'\n")
	return nil
}

// SetupDatabase initializes the database and runs migrations.
func (r *Runner) SetupDatabase(ctx context.Context, cmd *cli.Command) error {
	cfg := r.config.Database

	if cfg.Driver == "postgres" {
		r.logger.Info("initializing database", "driver", "postgres")
		pool, err := postgres.Open(ctx, cfg)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := postgres.Migrate(ctx, pool); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		return r.writePlain("✓ PostgreSQL schema is up to date\n")
	}

	path := shared.ExpandHome(cfg.Path)
	r.logger.Info("initializing database", "path", path)

	db, err := shared.NewDatabase(path)
	if err != nil {
		return fmt.Errorf("failed to create database: %w", err)
	}
	defer db.Close()

	shared.ConfigureDatabase(db, cfg.MaxOpenConns, cfg.MaxIdleConns)

	r.logger.Info("running database migrations")
	if err := shared.RunMigrationsContext(ctx, db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	statuses, err := shared.Migrations(db)
	if err != nil {
		return err
	}
	for _, m := range statuses {
		mark := "✗"
		if m.Applied {
			mark = "✓"
		}
		r.writePlain("%s %03d %s\n", mark, m.Version, m.Name)
	}
	r.logger.Infof("setup complete for database: %v", path)
	return nil
}
