// Package token owns Catalog OAuth tokens: a sqlite-backed per-user store and
// a manager that refreshes tokens before they expire.
package token

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/oauth2"
)

// ErrNoToken means the user has never completed the auth flow.
var ErrNoToken = errors.New("no stored token for user")

const schema = `
CREATE TABLE IF NOT EXISTS tokens (
	user_id       TEXT PRIMARY KEY,
	access_token  TEXT NOT NULL,
	refresh_token TEXT NOT NULL,
	token_type    TEXT NOT NULL,
	expiry        TIMESTAMP NOT NULL,
	updated_at    TIMESTAMP NOT NULL
);`

// Store persists oauth2 tokens per user id.
type Store struct {
	db *sql.DB
}

func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open token store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init token store: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Save upserts a user's token. The write replaces the whole row so a refresh
// is atomic from the reader's point of view.
func (s *Store) Save(userID string, token *oauth2.Token) error {
	_, err := s.db.Exec(`
		INSERT INTO tokens (user_id, access_token, refresh_token, token_type, expiry, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			token_type = excluded.token_type,
			expiry = excluded.expiry,
			updated_at = excluded.updated_at`,
		userID, token.AccessToken, token.RefreshToken, token.TokenType, token.Expiry.UTC(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save token for %s: %w", userID, err)
	}
	return nil
}

// Load returns the stored token, or ErrNoToken.
func (s *Store) Load(userID string) (*oauth2.Token, error) {
	row := s.db.QueryRow(`
		SELECT access_token, refresh_token, token_type, expiry
		FROM tokens WHERE user_id = ?`, userID)

	var token oauth2.Token
	err := row.Scan(&token.AccessToken, &token.RefreshToken, &token.TokenType, &token.Expiry)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNoToken, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("load token for %s: %w", userID, err)
	}
	return &token, nil
}

// Delete removes a user's token, for logout.
func (s *Store) Delete(userID string) error {
	if _, err := s.db.Exec(`DELETE FROM tokens WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("delete token for %s: %w", userID, err)
	}
	return nil
}
