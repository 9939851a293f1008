package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/desertthunder/themeroom/internal/identity"
	"github.com/desertthunder/themeroom/internal/server"
	"github.com/urfave/cli/v3"
)

// Serve runs the relay until the context is cancelled.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	signer, err := identity.NewSigner(r.config.Identity.JWTSecret)
	if err != nil {
		return err
	}
	store, err := r.openStore(ctx)
	if err != nil {
		return err
	}
	broker, err := r.openBroker(ctx)
	if err != nil {
		return err
	}

	relay := server.NewRelay(server.RelayOpts{
		Store:          store,
		Broker:         broker,
		Signer:         signer,
		AllowedOrigins: r.config.Server.AllowedOrigins,
		Logger:         r.logger,
	})
	defer relay.Close()

	addr := cmd.String("addr")
	if addr == "" {
		addr = r.config.Server.Addr
	}
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           relay.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		r.logger.Info("relay listening", "addr", addr, "broker", r.config.Broker.Kind)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
		close(serverErrors)
	}()

	select {
	case err := <-serverErrors:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	r.logger.Info("shutting down relay")
	relay.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
