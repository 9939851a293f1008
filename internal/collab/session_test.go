package collab

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/desertthunder/themeroom/internal/models"
	"github.com/desertthunder/themeroom/internal/playback"
	"github.com/desertthunder/themeroom/internal/pubsub"
	"github.com/desertthunder/themeroom/internal/repositories"
	"github.com/desertthunder/themeroom/internal/shared"
	tu "github.com/desertthunder/themeroom/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *fixture) session(t *testing.T, user string) (*Session, *playback.Transport) {
	t.Helper()
	return f.sessionWith(t, user, f.store)
}

func (f *fixture) sessionWith(t *testing.T, user string, store Store) (*Session, *playback.Transport) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	tr := playback.NewTransport(playback.TransportOpts{Device: tu.NewFakeDevice(true)})
	go tr.Run(ctx)

	s := NewSession(SessionOpts{
		PlaylistID:  f.playlist.ID,
		DisplayName: user,
		Workflow:    f.as(user),
		Store:       store,
		Broker:      f.broker,
		Broadcaster: f.broadcaster,
		Transport:   tr,
		Heartbeat:   time.Hour,
	})
	return s, tr
}

func wait(t *testing.T, events <-chan Event, kind EventKind) Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			require.True(t, ok, "event bus closed while waiting for %s", kind)
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("no %s event", kind)
		}
	}
}

func TestSessionLifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("start and stop release every subscription", func(t *testing.T) {
		f := newFixture(t)
		f.addThemes(t, "A", "B")
		s, tr := f.session(t, "alice")

		require.NoError(t, s.Start(ctx))
		assert.Len(t, tr.Queue(), 2)
		assert.Equal(t, 1, f.broker.Subscribers(pubsub.ChangesTopic(f.playlist.ID)))
		assert.Equal(t, 1, f.broker.Subscribers(pubsub.PresenceTopic(f.playlist.ID)))
		assert.Len(t, s.Activity(), 2)

		require.NoError(t, s.Stop(ctx))
		assert.Equal(t, 0, f.broker.Subscribers(pubsub.ChangesTopic(f.playlist.ID)))
		assert.Equal(t, 0, f.broker.Subscribers(pubsub.PresenceTopic(f.playlist.ID)))

		assert.NoError(t, s.Stop(ctx))
		assert.ErrorIs(t, s.Start(ctx), shared.ErrSessionClosed)
	})

	t.Run("unauthorized start holds nothing", func(t *testing.T) {
		f := newFixture(t)
		s, _ := f.session(t, "carol")

		assert.ErrorIs(t, s.Start(ctx), shared.ErrUnauthorized)
		assert.Equal(t, 0, f.broker.Subscribers(pubsub.ChangesTopic(f.playlist.ID)))
		assert.Equal(t, 0, f.broker.Subscribers(pubsub.PresenceTopic(f.playlist.ID)))
		assert.NoError(t, s.Stop(ctx))
	})

	t.Run("anonymous start", func(t *testing.T) {
		f := newFixture(t)
		s, _ := f.session(t, "")
		assert.ErrorIs(t, s.Start(ctx), shared.ErrNotAuthenticated)
	})

	t.Run("mutations need a started session", func(t *testing.T) {
		f := newFixture(t)
		s, _ := f.session(t, "alice")
		assert.ErrorIs(t, s.Reorder(ctx, nil), shared.ErrSessionClosed)
	})

	t.Run("stop closes the event bus", func(t *testing.T) {
		f := newFixture(t)
		s, _ := f.session(t, "alice")
		events, _ := s.Events()
		require.NoError(t, s.Start(ctx))
		require.NoError(t, s.Stop(ctx))
		tu.Eventually(t, func() bool {
			select {
			case _, ok := <-events:
				return !ok
			default:
				return false
			}
		}, "event bus closed")
	})
}

// countingStore records full track reads.
type countingStore struct {
	*repositories.Store
	trackReads atomic.Int32
}

func (c *countingStore) PlaylistTracks(ctx context.Context, playlistID string) ([]models.Track, error) {
	c.trackReads.Add(1)
	return c.Store.PlaylistTracks(ctx, playlistID)
}

func TestSessionRemoteReorderKeepsCurrentTrack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.join(t, "bob", models.RoleEditor)
	tracks := f.addThemes(t, "A", "B", "C")
	a, b, c := tracks[0].ID, tracks[1].ID, tracks[2].ID

	store := &countingStore{Store: f.store}
	s, tr := f.sessionWith(t, "alice", store)
	require.NoError(t, s.Start(ctx))
	reads := store.trackReads.Load()
	defer s.Stop(ctx)
	events, unsubscribe := s.Events()
	defer unsubscribe()

	require.NoError(t, tr.SelectTrack(ctx, 1))
	require.Equal(t, b, tr.Snapshot().Track.ID)

	_, err := f.as("bob").Reorder(ctx, f.playlist.ID, []string{c, a, b})
	require.NoError(t, err)

	ev := wait(t, events, EventChangeApplied)
	assert.Equal(t, models.ActionReorderThemes, ev.Change.Action)
	assert.Equal(t, "bob", ev.Change.UserID)

	snap := tr.Snapshot()
	assert.Equal(t, 2, snap.CurrentIndex)
	assert.Equal(t, b, snap.Track.ID)
	assert.Equal(t, reads, store.trackReads.Load(), "a reorder should not re-read track rows")

	queued := tr.Queue()
	require.Len(t, queued, 3)
	for i, id := range []string{c, a, b} {
		assert.Equal(t, id, queued[i].ID)
		assert.Equal(t, i, queued[i].Position)
		assert.NotEmpty(t, queued[i].Title)
	}

	stored, err := f.store.PlaylistTracks(ctx, f.playlist.ID)
	require.NoError(t, err)
	got := make([]string, len(stored))
	for i, st := range stored {
		got[i] = st.ID
	}
	assert.Equal(t, []string{c, a, b}, got)
}

func TestSessionRemoteChanges(t *testing.T) {
	ctx := context.Background()

	t.Run("added track reaches the queue", func(t *testing.T) {
		f := newFixture(t)
		f.join(t, "bob", models.RoleEditor)
		f.addThemes(t, "A")

		s, tr := f.session(t, "alice")
		require.NoError(t, s.Start(ctx))
		defer s.Stop(ctx)
		events, unsubscribe := s.Events()
		defer unsubscribe()

		_, _, err := f.as("bob").AddTrack(ctx, f.playlist.ID, models.Track{Title: "B", Show: "Show B", MediaURL: "https://media.example/B.webm"})
		require.NoError(t, err)

		wait(t, events, EventChangeApplied)
		assert.Len(t, tr.Queue(), 2)
		assert.Equal(t, models.ActionAddTheme, s.Activity()[0].Action)
	})

	t.Run("metadata change", func(t *testing.T) {
		f := newFixture(t)
		f.join(t, "bob", models.RoleEditor)

		s, _ := f.session(t, "alice")
		require.NoError(t, s.Start(ctx))
		defer s.Stop(ctx)
		events, unsubscribe := s.Events()
		defer unsubscribe()

		name := "Endings"
		_, _, err := f.as("bob").UpdateMetadata(ctx, f.playlist.ID, MetadataPatch{Name: &name})
		require.NoError(t, err)

		ev := wait(t, events, EventMetadataChanged)
		assert.Equal(t, "Endings", ev.Playlist.Name)
		assert.Equal(t, "Endings", s.Playlist().Name)
	})

	t.Run("local mutation applies without the broadcast", func(t *testing.T) {
		f := newFixture(t)
		tracks := f.addThemes(t, "A", "B")

		s, tr := f.session(t, "alice")
		require.NoError(t, s.Start(ctx))
		defer s.Stop(ctx)

		require.NoError(t, s.Reorder(ctx, []string{tracks[1].ID, tracks[0].ID}))
		assert.Equal(t, tracks[1].ID, tr.Queue()[0].ID)

		require.NoError(t, s.RemoveTrack(ctx, tracks[0].ID))
		assert.Len(t, tr.Queue(), 1)
	})

	t.Run("interrupted channel goes down and comes back", func(t *testing.T) {
		f := newFixture(t)
		s, _ := f.session(t, "alice")
		require.NoError(t, s.Start(ctx))
		defer s.Stop(ctx)
		events, unsubscribe := s.Events()
		defer unsubscribe()

		f.broker.Interrupt(pubsub.ChangesTopic(f.playlist.ID))

		down := wait(t, events, EventChannelDown)
		assert.ErrorIs(t, down.Err, shared.ErrChannel)
		wait(t, events, EventChannelRestored)
		tu.Eventually(t, func() bool {
			return f.broker.Subscribers(pubsub.ChangesTopic(f.playlist.ID)) == 1
		}, "change channel resubscribed")
	})
}

func TestSessionPresence(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.join(t, "bob", models.RoleViewer)

	alice, _ := f.session(t, "alice")
	require.NoError(t, alice.Start(ctx))
	defer alice.Stop(ctx)
	events, unsubscribe := alice.Events()
	defer unsubscribe()

	bob, _ := f.session(t, "bob")
	require.NoError(t, bob.Start(ctx))

	wait(t, events, EventPresenceChanged)
	tu.Eventually(t, func() bool { return len(alice.Roster()) == 2 }, "bob in alice's roster")

	require.NoError(t, bob.Stop(ctx))
	tu.Eventually(t, func() bool { return len(alice.Roster()) == 1 }, "bob left alice's roster")
}

func TestPermute(t *testing.T) {
	tracks := []models.Track{{ID: "a", Title: "A"}, {ID: "b", Title: "B", Position: 1}}

	got, ok := permute(tracks, []string{"b", "a"})
	require.True(t, ok)
	assert.Equal(t, []models.Track{{ID: "b", Title: "B"}, {ID: "a", Title: "A", Position: 1}}, got)

	for name, order := range map[string][]string{
		"short":     {"a"},
		"unknown":   {"a", "z"},
		"duplicate": {"a", "a"},
	} {
		t.Run(name, func(t *testing.T) {
			_, ok := permute(tracks, order)
			assert.False(t, ok)
		})
	}
}
