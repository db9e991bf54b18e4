// Package pkce runs an interactive authorization-code-with-PKCE login: it
// generates the code verifier/challenge pair, opens a local loopback
// callback server, and exchanges the returned authorization code for
// tokens once the user completes the provider's consent page.
package pkce

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// EndpointConfig describes the provider's OAuth2 authorization endpoint.
type EndpointConfig struct {
	ClientID     string
	AuthURL      string
	TokenURL     string
	Scopes       []string
	RedirectPort int
}

// Result is the token response from a completed login.
type Result struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// verifier generates a cryptographically random code_verifier and its
// S256 code_challenge, per RFC 7636.
func verifier() (verifier, challenge string, err error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("pkce: generate verifier: %w", err)
	}
	verifier = base64.RawURLEncoding.EncodeToString(raw)

	sum := sha256.Sum256([]byte(verifier))
	challenge = base64.RawURLEncoding.EncodeToString(sum[:])
	return verifier, challenge, nil
}

// randomState generates the CSRF-protection "state" query parameter.
func randomState() (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("pkce: generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Login runs the full flow: it prints/returns the authorization URL via
// openURL (the caller decides how to surface it — print, browser launch,
// etc.), starts a one-shot loopback HTTP server to catch the redirect,
// waits up to timeout for the user to complete consent, and exchanges the
// resulting code for tokens.
func Login(ctx context.Context, cfg EndpointConfig, timeout time.Duration, openURL func(url string)) (Result, error) {
	codeVerifier, challenge, err := verifier()
	if err != nil {
		return Result{}, err
	}
	state, err := randomState()
	if err != nil {
		return Result{}, err
	}

	redirectURL := fmt.Sprintf("http://127.0.0.1:%d/callback", cfg.RedirectPort)

	oauthCfg := &oauth2.Config{
		ClientID:    cfg.ClientID,
		Endpoint:    oauth2.Endpoint{AuthURL: cfg.AuthURL, TokenURL: cfg.TokenURL},
		Scopes:      cfg.Scopes,
		RedirectURL: redirectURL,
	}

	authURL := oauthCfg.AuthCodeURL(state,
		oauth2.SetAuthURLParam("code_challenge", challenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)

	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)

	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", cfg.RedirectPort))
	if err != nil {
		return Result{}, fmt.Errorf("pkce: listen on redirect port: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if errParam := q.Get("error"); errParam != "" {
			errCh <- fmt.Errorf("pkce: authorization denied: %s", errParam)
			fmt.Fprintln(w, "Authorization denied. You may close this window.")
			return
		}
		if q.Get("state") != state {
			errCh <- fmt.Errorf("pkce: state mismatch on callback")
			http.Error(w, "state mismatch", http.StatusBadRequest)
			return
		}
		code := q.Get("code")
		if code == "" {
			errCh <- fmt.Errorf("pkce: callback missing code parameter")
			http.Error(w, "missing code", http.StatusBadRequest)
			return
		}
		codeCh <- code
		fmt.Fprintln(w, "Authorization complete. You may close this window.")
	})

	srv := &http.Server{Handler: mux}
	go srv.Serve(ln)
	defer srv.Close()

	if openURL != nil {
		openURL(authURL)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var code string
	select {
	case code = <-codeCh:
	case err := <-errCh:
		return Result{}, err
	case <-ctx.Done():
		return Result{}, fmt.Errorf("pkce: login timed out waiting for callback: %w", ctx.Err())
	}

	tok, err := oauthCfg.Exchange(ctx, code,
		oauth2.SetAuthURLParam("code_verifier", codeVerifier),
	)
	if err != nil {
		return Result{}, fmt.Errorf("pkce: token exchange failed: %w", err)
	}

	return Result{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}, nil
}
