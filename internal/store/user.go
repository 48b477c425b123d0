package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/pavelanni/examgrader/internal/model"
)

const userColumns = `id, username, display_name, email, password_hash, role, active, created_at`

// CreateUser inserts a new user and returns its ID. An empty u.ID is generated.
func (s *Store) CreateUser(ctx context.Context, u model.User) (string, error) {
	if u.ID == "" {
		u.ID = newID()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, display_name, email, password_hash, role, active, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		u.ID, u.Username, u.DisplayName, u.Email, u.PasswordHash, string(u.Role), u.Active, toMillis(time.Now()),
	)
	if err != nil {
		slog.Error("failed to create user", "username", u.Username, "error", err)
		return "", fmt.Errorf("create user %s: %w", u.Username, err)
	}
	slog.Info("created user", "id", u.ID, "username", u.Username, "role", u.Role)
	return u.ID, nil
}

func scanUser(row interface{ Scan(...any) error }) (*model.User, error) {
	var u model.User
	var role string
	var created int64
	if err := row.Scan(&u.ID, &u.Username, &u.DisplayName, &u.Email, &u.PasswordHash, &role, &u.Active, &created); err != nil {
		return nil, err
	}
	u.Role = model.UserRole(role)
	u.CreatedAt = fromMillis(created)
	return &u, nil
}

// GetUserByUsername returns a user by username, or nil if none exists.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = $1`, username))
	if isNoRows(err) {
		return nil, nil
	}
	return u, err
}

// GetUserByID returns a user by ID, or nil if none exists.
func (s *Store) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if isNoRows(err) {
		return nil, nil
	}
	return u, err
}

// ListUsers returns all users ordered by username.
func (s *Store) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// SetUserActive enables or disables a user.
func (s *Store) SetUserActive(ctx context.Context, id string, active bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET active = $1 WHERE id = $2`, active, id)
	return err
}

// UserCount returns the total number of users.
func (s *Store) UserCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	return count, err
}

// LinkParent authorises a parent over a student. Linking twice is a no-op.
func (s *Store) LinkParent(ctx context.Context, parentID, studentID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO parent_links (parent_id, student_id) VALUES ($1, $2)
		 ON CONFLICT (parent_id, student_id) DO NOTHING`, parentID, studentID)
	if err != nil {
		return fmt.Errorf("link parent %s to %s: %w", parentID, studentID, err)
	}
	return nil
}

// IsParentOf reports whether parentID is linked to studentID.
func (s *Store) IsParentOf(ctx context.Context, parentID, studentID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM parent_links WHERE parent_id = $1 AND student_id = $2`,
		parentID, studentID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
