package token

import (
	"context"
	"fmt"
	"sync"
	"time"

	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"moodlist/internal/core"
)

// Manager implements core.TokenSource: it hands out access tokens and
// refreshes them through the Catalog OAuth endpoint before they expire.
type Manager struct {
	store  *Store
	config core.TokenConfig
	auth   *spotifyauth.Authenticator
	logger *zap.Logger

	// refresh is swapped out in tests.
	refresh func(ctx context.Context, token *oauth2.Token) (*oauth2.Token, error)

	mu sync.Mutex
}

func NewManager(store *Store, config core.TokenConfig, logger *zap.Logger) *Manager {
	auth := spotifyauth.New(
		spotifyauth.WithClientID(config.ClientID),
		spotifyauth.WithClientSecret(config.ClientSecret),
		spotifyauth.WithScopes(
			spotifyauth.ScopeUserTopRead,
			spotifyauth.ScopePlaylistModifyPublic,
			spotifyauth.ScopePlaylistModifyPrivate,
			spotifyauth.ScopeImageUpload,
		),
	)

	m := &Manager{
		store:  store,
		config: config,
		auth:   auth,
		logger: logger.Named("token"),
	}
	m.refresh = m.refreshUpstream
	return m
}

// Valid reports whether the token is still usable with the configured skew:
// a token is treated as expired ExpirySkew before its actual expiry.
func (m *Manager) Valid(token *oauth2.Token) bool {
	if token == nil || token.AccessToken == "" {
		return false
	}
	if token.Expiry.IsZero() {
		return true
	}
	return time.Now().Before(token.Expiry.Add(-m.config.ExpirySkew))
}

// EnsureValidToken returns a usable access token for the user, refreshing and
// persisting it when the stored one is about to expire. Refresh failures
// surface as AuthError so the caller can route the user back through login.
func (m *Manager) EnsureValidToken(ctx context.Context, userID string) (string, error) {
	// One refresh at a time; concurrent stages share the result through the
	// store.
	m.mu.Lock()
	defer m.mu.Unlock()

	token, err := m.store.Load(userID)
	if err != nil {
		return "", &core.AuthError{Message: err.Error(), RequiresReauth: true}
	}
	if m.Valid(token) {
		return token.AccessToken, nil
	}

	if token.RefreshToken == "" {
		return "", &core.AuthError{Message: "token expired and no refresh token stored", RequiresReauth: true}
	}

	refreshed, err := m.refresh(ctx, token)
	if err != nil {
		return "", &core.AuthError{Message: fmt.Sprintf("token refresh failed: %v", err), RequiresReauth: true}
	}
	// Some providers omit the refresh token on refresh responses; keep the
	// old one.
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = token.RefreshToken
	}

	if err := m.store.Save(userID, refreshed); err != nil {
		m.logger.Warn("refreshed token not persisted", zap.String("user_id", userID), zap.Error(err))
	}
	m.logger.Info("access token refreshed",
		zap.String("user_id", userID), zap.Time("expiry", refreshed.Expiry))
	return refreshed.AccessToken, nil
}

func (m *Manager) refreshUpstream(ctx context.Context, token *oauth2.Token) (*oauth2.Token, error) {
	conf := &oauth2.Config{
		ClientID:     m.config.ClientID,
		ClientSecret: m.config.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  spotifyauth.AuthURL,
			TokenURL: spotifyauth.TokenURL,
		},
	}
	return conf.TokenSource(ctx, token).Token()
}

// AuthURL starts the login flow for a user session.
func (m *Manager) AuthURL(state string) string {
	return m.auth.AuthURL(state)
}

// CompleteAuth exchanges the authorization code and persists the token.
func (m *Manager) CompleteAuth(ctx context.Context, userID, code string) error {
	token, err := m.auth.Exchange(ctx, code)
	if err != nil {
		return &core.AuthError{Message: fmt.Sprintf("code exchange failed: %v", err), RequiresReauth: true}
	}
	if err := m.store.Save(userID, token); err != nil {
		return err
	}
	m.logger.Info("user authenticated", zap.String("user_id", userID))
	return nil
}
