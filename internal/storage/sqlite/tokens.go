package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/flashpay/pos-terminald/pkg/logger"
)

const terminalTokenKey = "terminal_token"

// TokenStorage persists the terminal's bearer token across restarts
type TokenStorage struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewTokenStorage creates a new SQLite token storage
func NewTokenStorage(db *sql.DB, log *logger.Logger) (*TokenStorage, error) {
	storage := &TokenStorage{
		db:     db,
		logger: log.Named("sqlite-tokens"),
	}

	if err := storage.initDB(); err != nil {
		return nil, err
	}

	return storage, nil
}

// initDB initializes the database tables
func (s *TokenStorage) initDB() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS credentials (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create credentials table: %w", err)
	}
	return nil
}

// Token returns the stored terminal token, or "" when the terminal has not
// been provisioned yet.
func (s *TokenStorage) Token(ctx context.Context) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM credentials WHERE key = ?`, terminalTokenKey,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read terminal token: %w", err)
	}
	return strings.TrimSpace(value), nil
}

// SetToken stores the terminal token, replacing any previous value. Empty
// tokens are rejected; use Clear to de-provision.
func (s *TokenStorage) SetToken(ctx context.Context, token string) error {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return fmt.Errorf("terminal token must not be empty")
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO credentials (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		terminalTokenKey, trimmed, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to store terminal token: %w", err)
	}

	s.logger.Info("Terminal token stored")
	return nil
}

// Clear removes the stored terminal token
func (s *TokenStorage) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM credentials WHERE key = ?`, terminalTokenKey,
	)
	if err != nil {
		return fmt.Errorf("failed to clear terminal token: %w", err)
	}

	s.logger.Info("Terminal token cleared")
	return nil
}
