// Package store persists credentials and the customer profile in a local
// sqlite database. It is the process-wide credential store: token writes are
// atomic rows, so readers never observe a half-written pair.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/pollub/guardlink/internal/customer"
)

// ErrNotFound is returned when a requested key has never been stored.
var ErrNotFound = errors.New("not found")

const (
	keyProfile      = "profile"
	keyAccessToken  = "access_token"
	keyRefreshToken = "refresh_token"
	keyDeviceID     = "device_id"
)

// Store is a key-value credential store backed by sqlite.
type Store struct {
	db *sql.DB
}

// Open creates or opens the credential database under dir.
func Open(ctx context.Context, dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	path := filepath.Join(dir, "credentials.db")
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS credentials (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate credentials: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil && !errors.Is(err, os.ErrNotExist) {
		_ = db.Close()
		return nil, fmt.Errorf("chmod db path: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO credentials(key, value) VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET value=excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("store %s: %w", key, err)
	}
	return nil
}

func (s *Store) get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM credentials WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("load %s: %w", key, err)
	}
	return value, nil
}

// SaveProfile persists the customer profile.
func (s *Store) SaveProfile(ctx context.Context, info customer.Info) error {
	raw, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	return s.set(ctx, keyProfile, string(raw))
}

// Profile returns the stored customer profile, or ErrNotFound when no user
// is logged in.
func (s *Store) Profile(ctx context.Context) (customer.Info, error) {
	raw, err := s.get(ctx, keyProfile)
	if err != nil {
		return customer.Info{}, err
	}
	var info customer.Info
	if err := json.Unmarshal([]byte(raw), &info); err != nil {
		return customer.Info{}, fmt.Errorf("decode profile: %w", err)
	}
	return info, nil
}

// SaveAccessToken persists the short-lived access token.
func (s *Store) SaveAccessToken(ctx context.Context, token string) error {
	return s.set(ctx, keyAccessToken, token)
}

// AccessToken returns the stored access token.
func (s *Store) AccessToken(ctx context.Context) (string, error) {
	return s.get(ctx, keyAccessToken)
}

// SaveRefreshToken persists the long-lived refresh token.
func (s *Store) SaveRefreshToken(ctx context.Context, token string) error {
	return s.set(ctx, keyRefreshToken, token)
}

// RefreshToken returns the stored refresh token.
func (s *Store) RefreshToken(ctx context.Context) (string, error) {
	return s.get(ctx, keyRefreshToken)
}

// DeviceID returns a stable installation identifier, generating and
// persisting one on first use.
func (s *Store) DeviceID(ctx context.Context) (string, error) {
	id, err := s.get(ctx, keyDeviceID)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return "", err
	}
	id = uuid.NewString()
	if err := s.set(ctx, keyDeviceID, id); err != nil {
		return "", err
	}
	return id, nil
}

// Clear wipes all credentials and the profile. The device identifier
// survives so reinstall-free logouts keep a stable identity.
func (s *Store) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM credentials WHERE key != ?`, keyDeviceID)
	if err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	return nil
}
