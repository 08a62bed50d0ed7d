package services

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// SQLStore persists user limits, usage events, users and (optionally)
// conversations. Queries stick to the SQL subset shared by PostgreSQL and
// SQLite so the same store runs against both.
type SQLStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenDB opens and pings a database. driver is "postgres" or "sqlite".
func OpenDB(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	switch driver {
	case "postgres":
		dsn = withDefaultSSLMode(dsn)
	case "sqlite":
		if !strings.Contains(dsn, "_time_format=") {
			if strings.Contains(dsn, "?") {
				dsn += "&_time_format=sqlite"
			} else {
				dsn += "?_time_format=sqlite"
			}
		}
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", driver, err)
	}
	if driver == "sqlite" {
		// one writer; an in-memory database is also per-connection
		db.SetMaxOpenConns(1)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", driver, err)
	}
	return db, nil
}

// withDefaultSSLMode disables TLS unless the DSN says otherwise. Handles both
// URL and key=value DSNs.
func withDefaultSSLMode(dsn string) string {
	if strings.Contains(dsn, "sslmode=") {
		return dsn
	}
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		if strings.Contains(dsn, "?") {
			return dsn + "&sslmode=disable"
		}
		return dsn + "?sslmode=disable"
	}
	return strings.TrimSpace(dsn + " sslmode=disable")
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, now: time.Now}
}

func (s *SQLStore) DB() *sql.DB {
	return s.db
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id         TEXT PRIMARY KEY,
		clerk_id   TEXT UNIQUE,
		email      TEXT NOT NULL DEFAULT '',
		name       TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS user_limits (
		user_id                 TEXT PRIMARY KEY,
		plan_type               TEXT NOT NULL,
		monthly_story_limit     INTEGER NOT NULL DEFAULT 0,
		tokens_limit_monthly    BIGINT NOT NULL DEFAULT 0,
		stories_used_this_month INTEGER NOT NULL DEFAULT 0,
		tokens_used_this_month  BIGINT NOT NULL DEFAULT 0,
		limit_reset_date        TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS usage_events (
		id              TEXT PRIMARY KEY,
		user_id         TEXT NOT NULL,
		prompt_type     TEXT NOT NULL,
		model           TEXT NOT NULL DEFAULT '',
		tokens_used     INTEGER NOT NULL,
		input_tokens    INTEGER NOT NULL,
		output_tokens   INTEGER NOT NULL,
		cost_usd        DOUBLE PRECISION NOT NULL,
		conversation_id TEXT,
		created_at      TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS usage_events_user_created_idx ON usage_events (user_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS conversations (
		id            TEXT PRIMARY KEY,
		user_id       TEXT NOT NULL,
		user_input    TEXT NOT NULL,
		ai_response   TEXT NOT NULL,
		prompt_type   TEXT NOT NULL,
		tokens_used   INTEGER NOT NULL,
		input_tokens  INTEGER NOT NULL,
		output_tokens INTEGER NOT NULL,
		created_at    TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS conversations_user_created_idx ON conversations (user_id, created_at)`,
}

// EnsureSchema creates missing tables and indexes. It never alters existing ones.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
