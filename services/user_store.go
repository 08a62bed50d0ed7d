package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"fivelines/models"

	"github.com/google/uuid"
)

var ErrUserNotFound = errors.New("user not found")

const selectUserSQL = `SELECT id, clerk_id, email, name, created_at FROM users`

func scanUser(row interface{ Scan(...any) error }) (models.User, error) {
	var (
		u       models.User
		clerkID sql.NullString
	)
	if err := row.Scan(&u.ID, &clerkID, &u.Email, &u.Name, &u.CreatedAt); err != nil {
		return models.User{}, err
	}
	u.ClerkID = clerkID.String
	u.CreatedAt = u.CreatedAt.UTC()
	return u, nil
}

func (s *SQLStore) ListUsers(ctx context.Context, limit int) ([]models.User, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, selectUserSQL+` ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	users := make([]models.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *SQLStore) GetUser(ctx context.Context, id string) (models.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, selectUserSQL+` WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	if err != nil {
		return models.User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *SQLStore) GetUserByClerkID(ctx context.Context, clerkID string) (models.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, selectUserSQL+` WHERE clerk_id = $1`, clerkID))
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	if err != nil {
		return models.User{}, fmt.Errorf("get user by clerk id: %w", err)
	}
	return u, nil
}

// CreateUser inserts u with a fresh ID. A user already linked to the same
// Clerk ID is returned unchanged instead.
func (s *SQLStore) CreateUser(ctx context.Context, u models.User) (models.User, error) {
	if u.ClerkID != "" {
		existing, err := s.GetUserByClerkID(ctx, u.ClerkID)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, ErrUserNotFound) {
			return models.User{}, err
		}
	}

	u.ID = uuid.New().String()
	u.CreatedAt = s.now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, clerk_id, email, name, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		u.ID, nullIfEmpty(u.ClerkID), u.Email, u.Name, u.CreatedAt,
	)
	if err != nil {
		return models.User{}, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}
