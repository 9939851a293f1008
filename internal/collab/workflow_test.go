package collab

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/desertthunder/themeroom/internal/changes"
	"github.com/desertthunder/themeroom/internal/identity"
	"github.com/desertthunder/themeroom/internal/models"
	"github.com/desertthunder/themeroom/internal/pubsub"
	"github.com/desertthunder/themeroom/internal/repositories"
	"github.com/desertthunder/themeroom/internal/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store       *repositories.Store
	broker      *pubsub.MemoryBroker
	broadcaster *changes.Broadcaster
	playlist    *models.Playlist
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := shared.NewDatabase(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, shared.RunMigrations(db))

	store := repositories.NewStore(db)
	ctx := context.Background()
	for _, u := range []models.User{
		{ID: "alice", Email: "alice@example.com", DisplayName: "Alice"},
		{ID: "bob", Email: "bob@example.com", DisplayName: "Bob"},
		{ID: "carol", Email: "carol@example.com", DisplayName: "Carol"},
	} {
		require.NoError(t, store.EnsureUser(ctx, &u))
	}

	broker := pubsub.NewMemoryBroker()
	t.Cleanup(func() { broker.Close() })

	f := &fixture{
		store:       store,
		broker:      broker,
		broadcaster: changes.NewBroadcaster(changes.BroadcasterOpts{Log: store, Broker: broker}),
	}
	p, err := f.as("alice").CreatePlaylist(ctx, "Openings", "", false)
	require.NoError(t, err)
	f.playlist = p
	return f
}

func (f *fixture) as(user string) *Workflow {
	return NewWorkflow(WorkflowOpts{Store: f.store, Identity: identity.Static{UserID: user}, Broadcaster: f.broadcaster})
}

// at is as with a fixed clock.
func (f *fixture) at(user string, now func() time.Time) *Workflow {
	return NewWorkflow(WorkflowOpts{Store: f.store, Identity: identity.Static{UserID: user}, Broadcaster: f.broadcaster, Now: now})
}

// join invites user with role and accepts on their behalf.
func (f *fixture) join(t *testing.T, user string, role models.Role) {
	t.Helper()
	ctx := context.Background()
	c, err := f.as("alice").Invite(ctx, f.playlist.ID, user, role)
	require.NoError(t, err)
	_, err = f.as(user).Respond(ctx, c.ID, models.Accept)
	require.NoError(t, err)
}

func (f *fixture) addThemes(t *testing.T, titles ...string) []models.Track {
	t.Helper()
	var out []models.Track
	for _, title := range titles {
		tr, _, err := f.as("alice").AddTrack(context.Background(), f.playlist.ID, models.Track{
			Title: title, Show: "Show " + title, MediaURL: "https://media.example/" + title + ".webm",
		})
		require.NoError(t, err)
		out = append(out, *tr)
	}
	return out
}

func TestInvite(t *testing.T) {
	ctx := context.Background()

	t.Run("creates a pending row", func(t *testing.T) {
		f := newFixture(t)
		c, err := f.as("alice").Invite(ctx, f.playlist.ID, "bob@example.com", models.RoleEditor)
		require.NoError(t, err)
		assert.Equal(t, "bob", c.UserID)
		assert.Equal(t, models.StatusPending, c.Status)

		pending, err := f.as("bob").PendingFor(ctx)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, "Openings", pending[0].PlaylistName)
		assert.Equal(t, "alice", pending[0].OwnerID)
	})

	t.Run("errors", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.as("alice").Invite(ctx, f.playlist.ID, "bob", models.RoleEditor)
		require.NoError(t, err)
		f.join(t, "carol", models.RoleViewer)

		tc := []struct {
			name    string
			caller  string
			invitee string
			role    models.Role
			want    error
		}{
			{"anonymous", "", "bob", models.RoleEditor, shared.ErrNotAuthenticated},
			{"not owner", "bob", "carol", models.RoleEditor, shared.ErrUnauthorized},
			{"unknown user", "alice", "dave@example.com", models.RoleEditor, shared.ErrUserNotFound},
			{"owner role", "alice", "bob", models.RoleOwner, shared.ErrInvalidInput},
			{"self", "alice", "alice", models.RoleEditor, shared.ErrInvalidInput},
			{"pending", "alice", "bob", models.RoleEditor, shared.ErrAlreadyInvited},
			{"accepted", "alice", "carol", models.RoleEditor, shared.ErrAlreadyCollaborator},
		}
		for _, tt := range tc {
			t.Run(tt.name, func(t *testing.T) {
				_, err := f.as(tt.caller).Invite(ctx, f.playlist.ID, tt.invitee, tt.role)
				assert.ErrorIs(t, err, tt.want)
			})
		}
	})

	t.Run("reopens a declined invitation", func(t *testing.T) {
		f := newFixture(t)
		now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		clock := func() time.Time { return now }

		first, err := f.at("alice", clock).Invite(ctx, f.playlist.ID, "bob", models.RoleViewer)
		require.NoError(t, err)
		_, err = f.at("bob", clock).Respond(ctx, first.ID, models.Decline)
		require.NoError(t, err)

		now = now.Add(time.Hour)
		again, err := f.at("alice", clock).Invite(ctx, f.playlist.ID, "bob", models.RoleEditor)
		require.NoError(t, err)
		assert.Equal(t, first.ID, again.ID)

		stored, err := f.store.GetCollaborator(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusPending, stored.Status)
		assert.Equal(t, models.RoleEditor, stored.Role)
		assert.True(t, stored.InvitedAt.After(first.InvitedAt), "invitedAt %v should be after %v", stored.InvitedAt, first.InvitedAt)
		assert.Nil(t, stored.AcceptedAt)

		rows, err := f.store.ListCollaborators(ctx, f.playlist.ID)
		require.NoError(t, err)
		var bobs int
		for _, c := range rows {
			if c.UserID == "bob" {
				bobs++
			}
		}
		assert.Equal(t, 1, bobs, "re-invite must not add a second row")
	})
}

func TestRespond(t *testing.T) {
	ctx := context.Background()

	t.Run("accept writes an audit record", func(t *testing.T) {
		f := newFixture(t)
		c, err := f.as("alice").Invite(ctx, f.playlist.ID, "bob", models.RoleEditor)
		require.NoError(t, err)

		got, err := f.as("bob").Respond(ctx, c.ID, models.Accept)
		require.NoError(t, err)
		assert.Equal(t, models.StatusAccepted, got.Status)
		assert.NotNil(t, got.AcceptedAt)

		recent, err := f.store.RecentChanges(ctx, f.playlist.ID, 10)
		require.NoError(t, err)
		require.NotEmpty(t, recent)
		assert.Equal(t, models.ActionUpdateMetadata, recent[0].Action)

		var payload map[string]any
		require.NoError(t, json.Unmarshal(recent[0].Payload, &payload))
		assert.Equal(t, EventCollaborationAccepted, payload["event"])
		assert.Equal(t, "bob", payload["userId"])
	})

	t.Run("decline", func(t *testing.T) {
		f := newFixture(t)
		c, err := f.as("alice").Invite(ctx, f.playlist.ID, "bob", models.RoleEditor)
		require.NoError(t, err)
		got, err := f.as("bob").Respond(ctx, c.ID, models.Decline)
		require.NoError(t, err)
		assert.Equal(t, models.StatusDeclined, got.Status)

		ok, err := f.as("bob").CanEdit(ctx, f.playlist.ID, "bob")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("someone else's invitation is not found", func(t *testing.T) {
		f := newFixture(t)
		c, err := f.as("alice").Invite(ctx, f.playlist.ID, "bob", models.RoleEditor)
		require.NoError(t, err)
		_, err = f.as("carol").Respond(ctx, c.ID, models.Accept)
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})

	t.Run("answered invitation is not found", func(t *testing.T) {
		f := newFixture(t)
		c, err := f.as("alice").Invite(ctx, f.playlist.ID, "bob", models.RoleEditor)
		require.NoError(t, err)
		_, err = f.as("bob").Respond(ctx, c.ID, models.Accept)
		require.NoError(t, err)
		_, err = f.as("bob").Respond(ctx, c.ID, models.Decline)
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})
}

func TestPermissions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.join(t, "bob", models.RoleEditor)
	f.join(t, "carol", models.RoleViewer)

	tc := []struct {
		user     string
		canEdit  bool
		canView  bool
	}{
		{"alice", true, true},
		{"bob", true, true},
		{"carol", false, true},
		{"dave", false, false},
		{"", false, false},
	}
	for _, tt := range tc {
		t.Run("user "+tt.user, func(t *testing.T) {
			edit, err := f.as("alice").CanEdit(ctx, f.playlist.ID, tt.user)
			require.NoError(t, err)
			assert.Equal(t, tt.canEdit, edit)

			view, err := f.as("alice").CanView(ctx, f.playlist, tt.user)
			require.NoError(t, err)
			assert.Equal(t, tt.canView, view)
		})
	}

	t.Run("public playlists are viewable by anyone", func(t *testing.T) {
		p := *f.playlist
		p.IsPublic = true
		view, err := f.as("alice").CanView(ctx, &p, "dave")
		require.NoError(t, err)
		assert.True(t, view)
	})
}

func TestMutations(t *testing.T) {
	ctx := context.Background()

	t.Run("viewer cannot mutate", func(t *testing.T) {
		f := newFixture(t)
		f.join(t, "carol", models.RoleViewer)
		_, _, err := f.as("carol").AddTrack(ctx, f.playlist.ID, models.Track{Title: "Gurenge", Show: "Demon Slayer"})
		assert.ErrorIs(t, err, shared.ErrUnauthorized)

		tracks, err := f.store.PlaylistTracks(ctx, f.playlist.ID)
		require.NoError(t, err)
		assert.Empty(t, tracks)
	})

	t.Run("each mutation records its base revision", func(t *testing.T) {
		f := newFixture(t)
		f.join(t, "bob", models.RoleEditor)
		tracks := f.addThemes(t, "A", "B")

		rec, err := f.as("bob").Reorder(ctx, f.playlist.ID, []string{tracks[1].ID, tracks[0].ID})
		require.NoError(t, err)

		var payload struct {
			Order        []string `json:"order"`
			BaseRevision int64    `json:"baseRevision"`
		}
		require.NoError(t, json.Unmarshal(rec.Payload, &payload))
		assert.Equal(t, int64(2), payload.BaseRevision)
		assert.Equal(t, []string{tracks[1].ID, tracks[0].ID}, payload.Order)

		p, err := f.store.GetPlaylist(ctx, f.playlist.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(3), p.Revision)
	})

	t.Run("announces committed records", func(t *testing.T) {
		f := newFixture(t)
		feed, err := f.broadcaster.Subscribe(ctx, f.playlist.ID)
		require.NoError(t, err)
		defer feed.Close()

		tr := f.addThemes(t, "A")[0]
		select {
		case ev := <-feed.C():
			assert.Equal(t, changes.FeedRecord, ev.Kind)
			assert.Equal(t, models.ActionAddTheme, ev.Record.Action)
			assert.Equal(t, "alice", ev.Record.UserID)
			assert.Contains(t, string(ev.Record.Payload), tr.ID)
		case <-time.After(2 * time.Second):
			t.Fatal("no change announced")
		}
	})

	t.Run("metadata patch", func(t *testing.T) {
		f := newFixture(t)
		name, public := "  Endings  ", true
		p, _, err := f.as("alice").UpdateMetadata(ctx, f.playlist.ID, MetadataPatch{Name: &name, IsPublic: &public})
		require.NoError(t, err)
		assert.Equal(t, "Endings", p.Name)
		assert.True(t, p.IsPublic)

		_, _, err = f.as("alice").UpdateMetadata(ctx, f.playlist.ID, MetadataPatch{})
		assert.ErrorIs(t, err, shared.ErrMissingArgument)
	})

	t.Run("remove missing track", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.as("alice").RemoveTrack(ctx, f.playlist.ID, "nope")
		assert.ErrorIs(t, err, shared.ErrNotFound)

		recent, err := f.store.RecentChanges(ctx, f.playlist.ID, 10)
		require.NoError(t, err)
		assert.Empty(t, recent)
	})
}
