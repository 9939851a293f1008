package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/themeroom/internal/changes"
	"github.com/desertthunder/themeroom/internal/collab"
	"github.com/desertthunder/themeroom/internal/identity"
	"github.com/desertthunder/themeroom/internal/models"
	"github.com/desertthunder/themeroom/internal/pubsub"
	"github.com/desertthunder/themeroom/internal/repositories"
	"github.com/desertthunder/themeroom/internal/repositories/postgres"
	"github.com/desertthunder/themeroom/internal/shared"
	"github.com/urfave/cli/v3"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
//
// The store and broker are opened on first use and released by Close.
type Runner struct {
	config     *shared.Config
	configPath string
	httpClient *http.Client
	logger     *log.Logger
	output     io.Writer

	identity identity.Provider
	store    collab.Store
	broker   pubsub.Broker

	mu      sync.Mutex
	closers []func() error
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config     *shared.Config
	ConfigPath string
	HTTPClient *http.Client
	Logger     *log.Logger
	Output     io.Writer
	Identity   identity.Provider
	Store      collab.Store
	Broker     pubsub.Broker
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}

	return &Runner{
		config:     opts.Config,
		configPath: opts.ConfigPath,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
		output:     opts.Output,
		identity:   opts.Identity,
		store:      opts.Store,
		broker:     opts.Broker,
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, authCommand, playlistCommand, inviteCommand, changesCommand,
		importCommand, sessionCommand, tuiCommand, serveCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// SetLogger replaces the runner's logger, e.g. with a file logger while the TUI owns the terminal.
func (r *Runner) SetLogger(l *log.Logger) {
	r.logger = l
}

// loadConfig reads the config file named by --config. A missing file means defaults.
func (r *Runner) loadConfig(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	path := cmd.String("config")
	r.configPath = path

	config, err := shared.LoadConfig(path)
	switch {
	case errors.Is(err, shared.ErrConfigNotFound):
		r.logger.Debug("config file not found, using defaults", "path", path)
		config = shared.DefaultConfig()
	case err != nil:
		return ctx, err
	}
	if err := config.Validate(); err != nil {
		return ctx, err
	}
	r.config = config

	level := shared.ParseLogLevel(config.Logging.Level)
	if cmd.Bool("verbose") {
		level = log.DebugLevel
	}
	shared.SetLogLevel(r.logger, level)

	if user := cmd.String("user"); user != "" {
		r.identity = identity.Static{UserID: user}
	}
	return ctx, nil
}

// addCloser registers fn to run on Close, in reverse order.
func (r *Runner) addCloser(fn func() error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closers = append(r.closers, fn)
}

// Close releases everything the runner opened.
func (r *Runner) Close() error {
	r.mu.Lock()
	closers := r.closers
	r.closers = nil
	r.mu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		errs = append(errs, closers[i]())
	}
	return errors.Join(errs...)
}

// provider resolves who is running the command: an explicit --user, then stored OAuth
// credentials, then the configured user id.
func (r *Runner) provider() identity.Provider {
	if r.identity != nil {
		return r.identity
	}
	chain := identity.Chain{}
	if path := r.config.Identity.TokenFile; path != "" {
		chain = append(chain, identity.NewTokenFile(path, identity.OAuthConfig(r.config.OAuth)))
	}
	if id := r.config.Identity.UserID; id != "" {
		chain = append(chain, identity.Static{UserID: id})
	}
	return chain
}

// openStore opens the configured store and runs its migrations.
func (r *Runner) openStore(ctx context.Context) (collab.Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.store != nil {
		return r.store, nil
	}

	cfg := r.config.Database
	switch cfg.Driver {
	case "postgres":
		pool, err := postgres.Open(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if err := postgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		r.closers = append(r.closers, func() error { pool.Close(); return nil })
		r.store = postgres.New(pool)
	default:
		db, err := shared.NewDatabase(shared.ExpandHome(cfg.Path))
		if err != nil {
			return nil, err
		}
		shared.ConfigureDatabase(db, cfg.MaxOpenConns, cfg.MaxIdleConns)
		if err := shared.RunMigrationsContext(ctx, db); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		r.closers = append(r.closers, db.Close)
		r.store = repositories.NewStore(db)
	}
	r.logger.Debug("store ready", "driver", cfg.Driver)
	return r.store, nil
}

// openBroker connects to the configured broker.
func (r *Runner) openBroker(ctx context.Context) (pubsub.Broker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.broker != nil {
		return r.broker, nil
	}

	switch r.config.Broker.Kind {
	case "redis":
		rdb, err := pubsub.DialRedis(ctx, r.config.Broker)
		if err != nil {
			return nil, err
		}
		r.broker = pubsub.NewRedisBroker(rdb, r.logger)
	default:
		r.broker = pubsub.NewMemoryBroker()
	}
	b := r.broker
	r.closers = append(r.closers, b.Close)
	return r.broker, nil
}

// broadcaster wires the store's change log to the broker.
func (r *Runner) broadcaster(ctx context.Context) (*changes.Broadcaster, error) {
	store, err := r.openStore(ctx)
	if err != nil {
		return nil, err
	}
	broker, err := r.openBroker(ctx)
	if err != nil {
		return nil, err
	}
	return changes.NewBroadcaster(changes.BroadcasterOpts{Log: store, Broker: broker, Logger: r.logger}), nil
}

// workflow builds a Workflow for the current user and makes sure the user has a row.
func (r *Runner) workflow(ctx context.Context) (*collab.Workflow, error) {
	b, err := r.broadcaster(ctx)
	if err != nil {
		return nil, err
	}
	store, _ := r.openStore(ctx)
	provider := r.provider()

	if user, err := provider.CurrentUser(ctx); err == nil {
		u := &models.User{ID: user}
		if user == r.config.Identity.UserID {
			u.DisplayName = r.config.Identity.DisplayName
		}
		if err := store.EnsureUser(ctx, u); err != nil {
			return nil, err
		}
	}

	return collab.NewWorkflow(collab.WorkflowOpts{
		Store:       store,
		Identity:    provider,
		Broadcaster: b,
		Logger:      r.logger,
	}), nil
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainHeader(title string) {
	r.writePlain("═══════════════════════════════════════\n")
	r.writePlain("%v\n", title)
	r.writePlain("═══════════════════════════════════════\n")
}

// args returns the command's positional arguments, failing when fewer than n were given.
func args(cmd *cli.Command, n int, usage string) ([]string, error) {
	a := cmd.Args().Slice()
	if len(a) < n {
		return nil, fmt.Errorf("%w: usage: %s %s", shared.ErrMissingArgument, cmd.Name, usage)
	}
	for i := range a {
		a[i] = strings.TrimSpace(a[i])
	}
	return a, nil
}
