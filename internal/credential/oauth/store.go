// Package oauth implements the OAuth2 credential lifecycle: a filesystem
// store for refresh/access token pairs, and a manager that serves valid
// access tokens to callers, refreshing single-flight when they expire.
package oauth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/elifarley/vandamme-proxy/internal/crypto"
)

// Record is the persisted state for one provider's OAuth credential.
type Record struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	AccountID    string    `json:"account_id,omitempty"`
}

// Expired reports whether the access token has passed its expiry.
func (r Record) Expired() bool {
	return !r.ExpiresAt.IsZero() && time.Now().After(r.ExpiresAt)
}

// Store persists Records to <root>/<provider>/auth.json with owner-only
// permissions and atomic (write-temp, rename) updates, so a crash mid-write
// never leaves a half-written credential file on disk. When encKey is set,
// AccessToken and RefreshToken are additionally sealed with AES-256-GCM
// before they touch disk (internal/crypto, grounded on the teacher's
// at-rest encryption of stored provider secrets) — file permissions alone
// protect against other local users, encryption also protects a stray
// backup or misconfigured bind-mount of the credential directory.
type Store struct {
	root   string
	encKey []byte
}

// NewStore creates a Store rooted at root. The directory is created with
// 0700 permissions if missing. encKey may be nil to disable at-rest
// encryption (file permissions still apply).
func NewStore(root string, encKey []byte) (*Store, error) {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("oauth store: create root %s: %w", root, err)
	}
	return &Store{root: root, encKey: encKey}, nil
}

func (s *Store) path(provider string) string {
	return filepath.Join(s.root, provider, "auth.json")
}

// Load reads the credential record for provider. Returns (Record{}, false,
// nil) if no record has been saved yet.
func (s *Store) Load(provider string) (Record, bool, error) {
	data, err := os.ReadFile(s.path(provider))
	if err != nil {
		if os.IsNotExist(err) {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("oauth store: read %s: %w", provider, err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, false, fmt.Errorf("oauth store: decode %s: %w", provider, err)
	}

	if s.encKey != nil {
		if rec.AccessToken, err = crypto.Decrypt(rec.AccessToken, s.encKey); err != nil {
			return Record{}, false, fmt.Errorf("oauth store: decrypt %s access token: %w", provider, err)
		}
		if rec.RefreshToken, err = crypto.Decrypt(rec.RefreshToken, s.encKey); err != nil {
			return Record{}, false, fmt.Errorf("oauth store: decrypt %s refresh token: %w", provider, err)
		}
	}
	return rec, true, nil
}

// Save atomically writes rec for provider: the file is written to a
// temporary sibling with 0600 permissions, then renamed into place, so
// concurrent readers never observe a partially-written file.
func (s *Store) Save(provider string, rec Record) error {
	dir := filepath.Join(s.root, provider)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("oauth store: create dir %s: %w", provider, err)
	}

	onDisk := rec
	if s.encKey != nil {
		var err error
		if onDisk.AccessToken, err = crypto.Encrypt(rec.AccessToken, s.encKey); err != nil {
			return fmt.Errorf("oauth store: encrypt %s access token: %w", provider, err)
		}
		if onDisk.RefreshToken, err = crypto.Encrypt(rec.RefreshToken, s.encKey); err != nil {
			return fmt.Errorf("oauth store: encrypt %s refresh token: %w", provider, err)
		}
	}

	data, err := json.MarshalIndent(onDisk, "", "  ")
	if err != nil {
		return fmt.Errorf("oauth store: encode %s: %w", provider, err)
	}

	tmp, err := os.CreateTemp(dir, "auth-*.json.tmp")
	if err != nil {
		return fmt.Errorf("oauth store: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("oauth store: write temp file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("oauth store: chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("oauth store: close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path(provider)); err != nil {
		return fmt.Errorf("oauth store: rename into place: %w", err)
	}
	return nil
}
