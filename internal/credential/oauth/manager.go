package oauth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// refreshBuffer is how long before actual expiry the manager proactively
// refreshes, so a request in flight never races a token that expires
// mid-call.
const refreshBuffer = 2 * time.Minute

// EndpointConfig is the subset of provider OAuth configuration the manager
// needs to perform a refresh-token grant.
type EndpointConfig struct {
	ClientID string
	AuthURL  string
	TokenURL string
	Scopes   []string
}

// Manager serves valid access tokens for a single provider, transparently
// refreshing via the stored refresh token when the cached access token is
// near expiry. Concurrent callers during a refresh share one in-flight
// request rather than each issuing their own (single-flight), because the
// whole AccessToken call is serialized behind m.mu.
type Manager struct {
	store    *Store
	provider string
	endpoint EndpointConfig

	mu    sync.Mutex
	cache Record
	// OnHardFail, if set, is invoked when a refresh fails and no cached
	// access token remains usable; the caller decides whether that's fatal
	// for the in-flight request or merely logged and retried later.
	OnHardFail func(err error)
}

// NewManager creates a Manager for provider, loading any existing
// credential record from store.
func NewManager(store *Store, provider string, endpoint EndpointConfig) (*Manager, error) {
	m := &Manager{store: store, provider: provider, endpoint: endpoint}

	rec, ok, err := store.Load(provider)
	if err != nil {
		return nil, err
	}
	if ok {
		m.cache = rec
	}
	return m, nil
}

// AccessToken returns a valid access token, refreshing first if the cached
// token is within refreshBuffer of expiry or already expired.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cache.AccessToken != "" && time.Now().Before(m.cache.ExpiresAt.Add(-refreshBuffer)) {
		return m.cache.AccessToken, nil
	}

	if m.cache.RefreshToken == "" {
		return "", fmt.Errorf("oauth manager %s: no refresh token on file; run the login flow first", m.provider)
	}

	rec, err := m.refreshLocked(ctx)
	if err != nil {
		// Soft-fail: serve the stale token if it's still technically valid
		// (not yet past hard expiry), so a transient refresh outage doesn't
		// immediately break in-flight traffic.
		if m.cache.AccessToken != "" && !m.cache.Expired() {
			return m.cache.AccessToken, nil
		}
		if m.OnHardFail != nil {
			m.OnHardFail(err)
		}
		return "", err
	}

	return rec.AccessToken, nil
}

// refreshLocked performs the refresh-token grant. Callers must hold m.mu.
func (m *Manager) refreshLocked(ctx context.Context) (Record, error) {
	cfg := &oauth2.Config{
		ClientID: m.endpoint.ClientID,
		Endpoint: oauth2.Endpoint{
			AuthURL:  m.endpoint.AuthURL,
			TokenURL: m.endpoint.TokenURL,
		},
		Scopes: m.endpoint.Scopes,
	}

	src := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: m.cache.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		return Record{}, fmt.Errorf("oauth manager %s: refresh failed: %w", m.provider, err)
	}

	rec := Record{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
		AccountID:    m.cache.AccountID,
	}
	if rec.RefreshToken == "" {
		// Some providers don't rotate the refresh token on every grant;
		// keep using the one we already have.
		rec.RefreshToken = m.cache.RefreshToken
	}

	if err := m.store.Save(m.provider, rec); err != nil {
		return Record{}, fmt.Errorf("oauth manager %s: persist refreshed token: %w", m.provider, err)
	}

	m.cache = rec
	return rec, nil
}

// SetRecord installs rec as the manager's current credential (used by the
// PKCE login flow once the initial code exchange completes) and persists
// it.
func (m *Manager) SetRecord(rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.Save(m.provider, rec); err != nil {
		return err
	}
	m.cache = rec
	return nil
}
