package oauth

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStore_SaveLoadRoundTrip_NoEncryption(t *testing.T) {
	store, err := NewStore(t.TempDir(), nil)
	require.NoError(t, err)

	rec := Record{AccessToken: "at-1", RefreshToken: "rt-1", ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, store.Save("openai", rec))

	got, ok, err := store.Load("openai")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, rec.AccessToken, got.AccessToken)
	require.Equal(t, rec.RefreshToken, got.RefreshToken)
}

func TestStore_Load_MissingRecordIsNotAnError(t *testing.T) {
	store, err := NewStore(t.TempDir(), nil)
	require.NoError(t, err)

	_, ok, err := store.Load("never-saved")
	require.NoError(t, err)
	require.False(t, ok)
}

// TestStore_EncryptionAtRest pins spec P4: with an encryption key configured,
// the on-disk bytes must never contain the plaintext token, while Load still
// returns the plaintext to callers.
func TestStore_EncryptionAtRest(t *testing.T) {
	root := t.TempDir()
	key := []byte("01234567890123456789012345678901")[:32]

	store, err := NewStore(root, key)
	require.NoError(t, err)

	rec := Record{AccessToken: "super-secret-access-token", RefreshToken: "super-secret-refresh-token"}
	require.NoError(t, store.Save("anthropic", rec))

	raw, err := os.ReadFile(filepath.Join(root, "anthropic", "auth.json"))
	require.NoError(t, err)
	require.NotContains(t, string(raw), "super-secret-access-token")
	require.NotContains(t, string(raw), "super-secret-refresh-token")

	got, ok, err := store.Load("anthropic")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, rec.AccessToken, got.AccessToken)
	require.Equal(t, rec.RefreshToken, got.RefreshToken)
}

func TestStore_EncryptedFileRejectsWrongKey(t *testing.T) {
	root := t.TempDir()
	key1 := []byte("01234567890123456789012345678901")[:32]
	key2 := []byte("abcdefghijabcdefghijabcdefghijab")[:32]

	store1, err := NewStore(root, key1)
	require.NoError(t, err)
	require.NoError(t, store1.Save("p", Record{AccessToken: "at", RefreshToken: "rt"}))

	store2, err := NewStore(root, key2)
	require.NoError(t, err)
	_, _, err = store2.Load("p")
	require.Error(t, err)
}

func TestStore_FilePermissions(t *testing.T) {
	root := t.TempDir()
	store, err := NewStore(root, nil)
	require.NoError(t, err)
	require.NoError(t, store.Save("p", Record{AccessToken: "at"}))

	info, err := os.Stat(filepath.Join(root, "p", "auth.json"))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestRecord_Expired(t *testing.T) {
	require.False(t, Record{}.Expired(), "zero ExpiresAt means never expires")
	require.True(t, Record{ExpiresAt: time.Now().Add(-time.Minute)}.Expired())
	require.False(t, Record{ExpiresAt: time.Now().Add(time.Minute)}.Expired())
}
