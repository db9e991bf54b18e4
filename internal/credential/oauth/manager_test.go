package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func tokenServer(t *testing.T, accessToken, refreshToken string, expiresIn int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  accessToken,
			"refresh_token": refreshToken,
			"token_type":    "Bearer",
			"expires_in":    expiresIn,
		})
	}))
}

func TestAccessToken_ReturnsCachedWhenFresh(t *testing.T) {
	store, err := NewStore(t.TempDir(), nil)
	require.NoError(t, err)

	mgr, err := NewManager(store, "openai", EndpointConfig{})
	require.NoError(t, err)
	require.NoError(t, mgr.SetRecord(Record{
		AccessToken:  "still-fresh",
		RefreshToken: "rt",
		ExpiresAt:    time.Now().Add(time.Hour),
	}))

	tok, err := mgr.AccessToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, "still-fresh", tok)
}

func TestAccessToken_NoRefreshTokenErrors(t *testing.T) {
	store, err := NewStore(t.TempDir(), nil)
	require.NoError(t, err)

	mgr, err := NewManager(store, "openai", EndpointConfig{})
	require.NoError(t, err)

	_, err = mgr.AccessToken(context.Background())
	require.Error(t, err)
}

// TestAccessToken_RefreshesNearExpiry pins spec P3: a token within
// refreshBuffer of expiry (or already expired) must trigger a refresh-token
// grant rather than being served stale.
func TestAccessToken_RefreshesNearExpiry(t *testing.T) {
	srv := tokenServer(t, "new-access-token", "new-refresh-token", 3600)
	defer srv.Close()

	store, err := NewStore(t.TempDir(), nil)
	require.NoError(t, err)

	mgr, err := NewManager(store, "openai", EndpointConfig{TokenURL: srv.URL})
	require.NoError(t, err)
	require.NoError(t, mgr.SetRecord(Record{
		AccessToken:  "about-to-expire",
		RefreshToken: "rt-1",
		ExpiresAt:    time.Now().Add(30 * time.Second),
	}))

	tok, err := mgr.AccessToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, "new-access-token", tok)

	rec, ok, err := store.Load("openai")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "new-access-token", rec.AccessToken)
	require.Equal(t, "new-refresh-token", rec.RefreshToken)
}

// TestAccessToken_SoftFailServesStaleToken pins the manager's soft-fail path:
// a refresh error must not break an in-flight caller if the cached token,
// though past refreshBuffer, has not yet hard-expired.
func TestAccessToken_SoftFailServesStaleToken(t *testing.T) {
	badSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer badSrv.Close()

	store, err := NewStore(t.TempDir(), nil)
	require.NoError(t, err)

	var hardFailErr error
	mgr, err := NewManager(store, "openai", EndpointConfig{TokenURL: badSrv.URL})
	require.NoError(t, err)
	mgr.OnHardFail = func(err error) { hardFailErr = err }

	require.NoError(t, mgr.SetRecord(Record{
		AccessToken:  "still-technically-valid",
		RefreshToken: "rt-1",
		ExpiresAt:    time.Now().Add(30 * time.Second), // within refreshBuffer, not yet expired
	}))

	tok, err := mgr.AccessToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, "still-technically-valid", tok)
	require.Nil(t, hardFailErr, "soft-fail path should not invoke OnHardFail")
}

func TestAccessToken_HardFailWhenNoStaleTokenRemains(t *testing.T) {
	badSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer badSrv.Close()

	store, err := NewStore(t.TempDir(), nil)
	require.NoError(t, err)

	var hardFailErr error
	mgr, err := NewManager(store, "openai", EndpointConfig{TokenURL: badSrv.URL})
	require.NoError(t, err)
	mgr.OnHardFail = func(err error) { hardFailErr = err }

	require.NoError(t, mgr.SetRecord(Record{
		AccessToken:  "already-expired",
		RefreshToken: "rt-1",
		ExpiresAt:    time.Now().Add(-time.Hour),
	}))

	_, err = mgr.AccessToken(context.Background())
	require.Error(t, err)
	require.NotNil(t, hardFailErr)
}

func TestSetRecord_PersistsToStore(t *testing.T) {
	store, err := NewStore(t.TempDir(), nil)
	require.NoError(t, err)

	mgr, err := NewManager(store, "openai", EndpointConfig{})
	require.NoError(t, err)

	require.NoError(t, mgr.SetRecord(Record{AccessToken: "at", RefreshToken: "rt"}))

	rec, ok, err := store.Load("openai")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "at", rec.AccessToken)
}
