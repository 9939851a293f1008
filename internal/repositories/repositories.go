package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/desertthunder/themeroom/internal/models"
	"github.com/desertthunder/themeroom/internal/shared"
)

// DBTX is satisfied by both [*sql.DB] and [*sql.Tx].
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// expectOne fails with err when a write touched no rows.
func expectOne(res sql.Result, err error) error {
	rows, rerr := res.RowsAffected()
	if rerr != nil {
		return fmt.Errorf("failed to get affected rows: %w", rerr)
	}
	if rows == 0 {
		return err
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// invitationConflict reports why an existing row could not be reopened.
func invitationConflict(status models.InviteStatus, userID string) error {
	if status == models.StatusAccepted {
		return fmt.Errorf("%w: %s", shared.ErrAlreadyCollaborator, userID)
	}
	return fmt.Errorf("%w: %s", shared.ErrAlreadyInvited, userID)
}
