package main

import (
	"context"
	"errors"
	"time"

	"github.com/desertthunder/themeroom/internal/collab"
	"github.com/desertthunder/themeroom/internal/formatter"
	"github.com/desertthunder/themeroom/internal/playback"
	"github.com/desertthunder/themeroom/internal/shared"
	"github.com/urfave/cli/v3"
)

// newSession builds an unstarted session for playlistID backed by a simulated device. The
// device and its transport loop are released by Close.
func (r *Runner) newSession(ctx context.Context, playlistID string) (*collab.Session, error) {
	w, err := r.workflow(ctx)
	if err != nil {
		return nil, err
	}
	b, err := r.broadcaster(ctx)
	if err != nil {
		return nil, err
	}
	store, _ := r.openStore(ctx)
	broker, _ := r.openBroker(ctx)

	user, err := r.provider().CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	name := user
	if user == r.config.Identity.UserID && r.config.Identity.DisplayName != "" {
		name = r.config.Identity.DisplayName
	}

	cfg := r.config.Playback
	repeat, err := playback.ParseRepeatMode(cfg.Repeat)
	if err != nil {
		return nil, err
	}
	logger := shared.WithLogger(r.logger, "playlist", playlistID)
	dev := playback.NewSimulatedDevice(playback.SimulatedOptions{Duration: cfg.Duration()})
	tr := playback.NewTransport(playback.TransportOpts{
		Device:  dev,
		Logger:  logger,
		Volume:  cfg.Volume,
		Shuffle: cfg.Shuffle,
		Repeat:  repeat,
	})

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	go func() {
		if err := tr.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("transport stopped", "err", err)
		}
	}()
	r.addCloser(func() error {
		cancel()
		return dev.Close()
	})

	return collab.NewSession(collab.SessionOpts{
		PlaylistID:  playlistID,
		DisplayName: name,
		Workflow:    w,
		Store:       store,
		Broker:      broker,
		Broadcaster: b,
		Transport:   tr,
		Heartbeat:   r.config.Presence.Heartbeat(),
		Grace:       r.config.Presence.Grace(),
		RecentLimit: r.config.Changes.RecentLimit,
		Logger:      logger,
	}), nil
}

// Session joins a playlist without a UI and logs what happens until interrupted.
func (r *Runner) Session(ctx context.Context, cmd *cli.Command) error {
	a, err := args(cmd, 1, "<playlist-id>")
	if err != nil {
		return err
	}
	s, err := r.newSession(ctx, a[0])
	if err != nil {
		return err
	}
	if err := s.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Stop(stopCtx); err != nil {
			r.logger.Warn("session did not stop cleanly", "err", err)
		}
	}()

	events, unsubscribe := s.Events()
	defer unsubscribe()
	tr := s.Transport()
	snapshots, stopSnapshots := tr.Subscribe()
	defer stopSnapshots()

	r.writePlainHeader(s.Playlist().Name)
	r.output.Write(formatter.QueueToText(tr.Queue(), tr.Snapshot().CurrentIndex))

	if cmd.Bool("play") && tr.Snapshot().QueueLen > 0 {
		if err := tr.Play(ctx); err != nil {
			r.logger.Warn("could not start playback", "err", err)
		}
	}

	var deadline <-chan time.Time
	if d := cmd.Duration("for"); d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		deadline = timer.C
	}

	current := ""
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-deadline:
			return nil
		case snap := <-snapshots:
			if snap.HasTrack && snap.Track.ID != current && snap.IsPlaying {
				current = snap.Track.ID
				r.writePlain("▶ %s\n", snap.Track.Label())
			}
			if snap.Err != nil && snap.Status == playback.StatusError {
				r.logger.Warn("playback error", "track", snap.Track.ID, "err", snap.Err)
			}
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			r.logEvent(s, ev)
		}
	}
}

func (r *Runner) logEvent(s *collab.Session, ev collab.Event) {
	switch ev.Kind {
	case collab.EventChangeApplied:
		if ev.Change != nil {
			r.writePlain("✎ %s\n", formatter.DescribeChange(*ev.Change))
		}
	case collab.EventMetadataChanged:
		if ev.Playlist != nil {
			r.writePlain("✎ playlist is now %q\n", ev.Playlist.Name)
		}
	case collab.EventPresenceChanged:
		if ev.Entry != nil {
			r.writePlain("• %s %s\n", ev.Entry.Entry.DisplayName, ev.Entry.Kind)
		}
		r.output.Write(formatter.RosterToText(ev.Roster, s.Transport().Queue()))
	case collab.EventChannelDown:
		r.logger.Warn("realtime channel down, reconnecting", "err", ev.Err)
	case collab.EventChannelRestored:
		r.logger.Info("realtime channel restored")
	default:
		r.logger.Debug("session event", "kind", ev.Kind)
	}
}
