package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/desertthunder/themeroom/internal/models"
	"github.com/desertthunder/themeroom/internal/shared"
)

// UserRepository persists [models.User] rows.
type UserRepository struct {
	db DBTX
}

// NewUserRepository creates a new [UserRepository] with the given connection or transaction
func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

// Ensure inserts the user or refreshes its email and display name when the id exists.
func (r *UserRepository) Ensure(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		return fmt.Errorf("%w: user id is required", shared.ErrInvalidInput)
	}

	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	query := `
		INSERT INTO users (id, email, display_name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			email = COALESCE(excluded.email, users.email),
			display_name = CASE WHEN excluded.display_name = '' THEN users.display_name ELSE excluded.display_name END,
			updated_at = excluded.updated_at
	`
	_, err := r.db.ExecContext(ctx, query, user.ID, nullString(strings.ToLower(user.Email)), user.DisplayName, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

// Get retrieves a user by id.
func (r *UserRepository) Get(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT id, email, display_name, created_at, updated_at FROM users WHERE id = ?`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id), id)
}

// Find resolves ref as a user id first and as an email second.
func (r *UserRepository) Find(ctx context.Context, ref string) (*models.User, error) {
	ref = strings.TrimSpace(ref)
	query := `
		SELECT id, email, display_name, created_at, updated_at
		FROM users
		WHERE id = ? OR email = ?
		ORDER BY CASE WHEN id = ? THEN 0 ELSE 1 END
		LIMIT 1
	`
	return r.scanOne(r.db.QueryRowContext(ctx, query, ref, strings.ToLower(ref), ref), ref)
}

// List returns every known user ordered by display name.
func (r *UserRepository) List(ctx context.Context) ([]models.User, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, email, display_name, created_at, updated_at FROM users ORDER BY display_name, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var (
			u     models.User
			email sql.NullString
		)
		if err := rows.Scan(&u.ID, &email, &u.DisplayName, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		u.Email = email.String
		users = append(users, u)
	}
	return users, rows.Err()
}

func (r *UserRepository) scanOne(row *sql.Row, ref string) (*models.User, error) {
	var (
		u     models.User
		email sql.NullString
	)
	err := row.Scan(&u.ID, &email, &u.DisplayName, &u.CreatedAt, &u.UpdatedAt)
	if isNoRows(err) {
		return nil, fmt.Errorf("%w: %s", shared.ErrUserNotFound, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	u.Email = email.String
	return &u, nil
}
