package changes

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/themeroom/internal/models"
	"github.com/desertthunder/themeroom/internal/pubsub"
	"github.com/desertthunder/themeroom/internal/shared"
)

// MessageType is the pubsub message type carrying a [models.ChangeRecord].
const MessageType = "change"

// Log is the durable, append-only change log.
type Log interface {
	// AppendChange persists rec and assigns its Seq.
	AppendChange(ctx context.Context, rec *models.ChangeRecord) error
	// RecentChanges returns up to limit records for a playlist, newest first.
	RecentChanges(ctx context.Context, playlistID string, limit int) ([]models.ChangeRecord, error)
}

type BroadcasterOpts struct {
	Log    Log
	Broker pubsub.Broker
	Logger *log.Logger
	Now    func() time.Time
}

// Broadcaster writes change records to the log and announces them on the playlist's
// change channel.
type Broadcaster struct {
	log    Log
	broker pubsub.Broker
	logger *log.Logger
	now    func() time.Time
}

func NewBroadcaster(opts BroadcasterOpts) *Broadcaster {
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Broadcaster{log: opts.Log, broker: opts.Broker, logger: opts.Logger, now: opts.Now}
}

// NewRecord builds an unsaved record with a fresh id. A nil payload becomes an empty object.
func NewRecord(playlistID, userID string, kind models.ActionKind, payload any, now time.Time) (models.ChangeRecord, error) {
	if !kind.Valid() {
		return models.ChangeRecord{}, fmt.Errorf("%w: unknown action %q", shared.ErrInvalidInput, kind)
	}
	if playlistID == "" || userID == "" {
		return models.ChangeRecord{}, fmt.Errorf("%w: playlist and user are required", shared.ErrInvalidInput)
	}

	raw, err := encodePayload(payload)
	if err != nil {
		return models.ChangeRecord{}, err
	}
	return models.ChangeRecord{
		ID:         shared.GenerateID(),
		PlaylistID: playlistID,
		UserID:     userID,
		Action:     kind,
		Payload:    raw,
		CreatedAt:  now.UTC(),
	}, nil
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return json.RawMessage("{}"), nil
	case json.RawMessage:
		if len(p) == 0 {
			return json.RawMessage("{}"), nil
		}
		return p, nil
	default:
		raw, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("%w: encode change payload: %v", shared.ErrInvalidInput, err)
		}
		return raw, nil
	}
}

// Record appends a change to the log, then announces it. When only the announcement fails
// the stored record is returned along with an error wrapping [shared.ErrChannel]; the
// mutation itself stands.
func (b *Broadcaster) Record(ctx context.Context, playlistID, userID string, kind models.ActionKind, payload any) (*models.ChangeRecord, error) {
	rec, err := NewRecord(playlistID, userID, kind, payload, b.now())
	if err != nil {
		return nil, err
	}
	if err := b.log.AppendChange(ctx, &rec); err != nil {
		return nil, fmt.Errorf("failed to append change: %w", err)
	}
	if err := b.Announce(ctx, rec); err != nil {
		return &rec, err
	}
	return &rec, nil
}

// Announce publishes a record that is already in the log.
func (b *Broadcaster) Announce(ctx context.Context, rec models.ChangeRecord) error {
	msg, err := pubsub.NewMessage(pubsub.ChangesTopic(rec.PlaylistID), MessageType, rec.UserID, rec)
	if err != nil {
		return err
	}
	if err := b.broker.Publish(ctx, msg); err != nil {
		b.logger.Warn("change announcement failed", "playlist", rec.PlaylistID, "change", rec.ID, "err", err)
		return err
	}
	b.logger.Debug("change announced", "playlist", rec.PlaylistID, "action", rec.Action, "seq", rec.Seq)
	return nil
}

// Recent returns up to limit stored records, newest first.
func (b *Broadcaster) Recent(ctx context.Context, playlistID string, limit int) ([]models.ChangeRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	return b.log.RecentChanges(ctx, playlistID, limit)
}

// Subscribe opens a live feed of the playlist's changes.
func (b *Broadcaster) Subscribe(ctx context.Context, playlistID string) (*Feed, error) {
	return openFeed(ctx, b.broker, playlistID, b.logger)
}
