// Package config loads the proxy's configuration from a YAML file with
// environment variable overrides, in the teacher's "cfg" tag style.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration document.
type Config struct {
	LogLevel string `cfg:"log_level" yaml:"log_level"`

	Server     Server                    `cfg:"server" yaml:"server"`
	Gateway    Gateway                   `cfg:"gateway" yaml:"gateway"`
	Credential Credential                `cfg:"credential" yaml:"credential"`
	Providers  map[string]ProviderConfig `cfg:"providers" yaml:"providers"`

	// DefaultProvider names the provider bare (unprefixed) model strings
	// resolve against. If empty or not present in Providers, the registry
	// falls back to the lexicographically first configured provider.
	DefaultProvider string `cfg:"default_provider" yaml:"default_provider"`
}

// Server configures the HTTP listener.
type Server struct {
	Host     string `cfg:"host" yaml:"host"`
	Port     string `cfg:"port" yaml:"port" default:"8090"`
	BasePath string `cfg:"base_path" yaml:"base_path"`
}

// Gateway configures client-facing authentication for the proxy's own
// /v1/messages endpoint (as opposed to credentials used to reach upstreams).
type Gateway struct {
	// AuthTokens is a list of bearer tokens clients may present. If empty,
	// the proxy accepts unauthenticated requests.
	AuthTokens []string `cfg:"auth_tokens" yaml:"auth_tokens" log:"-"`

	// ConstantTimeAuth enables constant-time comparison of client bearer
	// tokens, at the cost of scanning the full token list on every request.
	ConstantTimeAuth bool `cfg:"constant_time_auth" yaml:"constant_time_auth"`
}

// Credential configures where OAuth credential records are persisted.
type Credential struct {
	// StorageDir is the root directory for OAuth credential files, one per
	// provider at <StorageDir>/<provider>/auth.json. Created with 0700 if
	// missing.
	StorageDir string `cfg:"storage_dir" yaml:"storage_dir" default:"./credentials"`

	// EncryptionKey, if set, enables AES-256-GCM encryption of access and
	// refresh tokens at rest (internal/crypto), on top of the 0600/0700
	// file permissions applied unconditionally. Any non-empty string is
	// accepted and passed through crypto.DeriveKey.
	EncryptionKey string `cfg:"encryption_key" yaml:"encryption_key" log:"-"`
}

// AuthKind discriminates a provider's credential mechanism. Exactly one of
// the corresponding fields on ProviderAuth is populated per kind.
type AuthKind string

const (
	AuthKindStaticKeys AuthKind = "static_keys"
	AuthKindOAuth      AuthKind = "oauth"
	AuthKindNone       AuthKind = "none"
)

// ProviderAuth describes how the client factory authenticates to a single
// provider. Exactly one of StaticKeys (non-empty) or OAuth (non-nil) must
// be set when Kind requires it.
type ProviderAuth struct {
	Kind AuthKind `cfg:"kind" yaml:"kind"`

	// StaticKeys is the set of API keys rotated round-robin by the key
	// rotator. Required and non-empty when Kind == AuthKindStaticKeys.
	StaticKeys []string `cfg:"static_keys" yaml:"static_keys" log:"-"`

	// OAuth configures the PKCE login flow and token refresh used when
	// Kind == AuthKindOAuth.
	OAuth *ProviderOAuth `cfg:"oauth" yaml:"oauth"`
}

// ProviderOAuth configures an authorization-code+PKCE OAuth2 client for one
// provider.
type ProviderOAuth struct {
	ClientID     string   `cfg:"client_id" yaml:"client_id"`
	AuthURL      string   `cfg:"auth_url" yaml:"auth_url"`
	TokenURL     string   `cfg:"token_url" yaml:"token_url"`
	Scopes       []string `cfg:"scopes" yaml:"scopes"`
	RedirectPort int      `cfg:"redirect_port" yaml:"redirect_port" default:"8765"`
}

// APIFormat is the wire format the provider's upstream endpoint speaks.
type APIFormat string

const (
	APIFormatAnthropic   APIFormat = "anthropic-wire"
	APIFormatOpenAI      APIFormat = "openai-wire"
	APIFormatPassthrough APIFormat = "passthrough"
)

// Timeouts holds a provider's connect, request and stream-read timeouts.
// They are copied onto the registry descriptor; the client factory does not
// pass them to the upstream clients, so they do not bound any request.
type Timeouts struct {
	Connect    time.Duration `cfg:"connect" yaml:"connect" default:"10s"`
	Request    time.Duration `cfg:"request" yaml:"request" default:"60s"`
	StreamRead time.Duration `cfg:"stream_read" yaml:"stream_read" default:"10m"`
}

// ProviderConfig describes a single upstream provider.
type ProviderConfig struct {
	APIFormat APIFormat `cfg:"api_format" yaml:"api_format"`
	BaseURL   string    `cfg:"base_url" yaml:"base_url"`
	Model     string    `cfg:"model" yaml:"model"`
	Models    []string  `cfg:"models" yaml:"models"`

	Auth ProviderAuth `cfg:"auth" yaml:"auth"`

	ExtraHeaders map[string]string `cfg:"extra_headers" yaml:"extra_headers"`

	Proxy              string `cfg:"proxy" yaml:"proxy"`
	InsecureSkipVerify bool   `cfg:"insecure_skip_verify" yaml:"insecure_skip_verify"`

	Timeouts Timeouts `cfg:"timeouts" yaml:"timeouts"`
	Retries  int      `cfg:"retries" yaml:"retries" default:"2"`

	// MaxTokensCap, if non-zero, clamps any client-requested max_tokens to
	// this ceiling before the request reaches the translator.
	MaxTokensCap int `cfg:"max_tokens_cap" yaml:"max_tokens_cap"`
}

// Load reads the YAML document at path and overlays environment variables
// prefixed "VDP_", using the same "<SECTION>_<FIELD>" convention as the cfg
// tags (e.g. VDP_SERVER_PORT overrides server.port).
func Load(path string) (*Config, error) {
	cfg := &Config{
		Server:     Server{Port: "8090"},
		Credential: Credential{StorageDir: "./credentials"},
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	return cfg, nil
}

// applyEnvOverrides overlays a small, explicit set of environment variables
// onto the loaded config. Unlike a reflective loader, this only covers the
// handful of values operators actually need to override without editing
// the file (port, log level, gateway tokens) — the rest of the surface
// (providers, OAuth endpoints) belongs in the YAML file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VDP_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("VDP_SERVER_PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("VDP_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("VDP_GATEWAY_AUTH_TOKENS"); v != "" {
		cfg.Gateway.AuthTokens = strings.Split(v, ",")
	}
	if v := os.Getenv("VDP_GATEWAY_CONSTANT_TIME_AUTH"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Gateway.ConstantTimeAuth = b
		}
	}
	if v := os.Getenv("VDP_CREDENTIAL_STORAGE_DIR"); v != "" {
		cfg.Credential.StorageDir = v
	}
	if v := os.Getenv("VDP_CREDENTIAL_ENCRYPTION_KEY"); v != "" {
		cfg.Credential.EncryptionKey = v
	}
	if v := os.Getenv("VDP_DEFAULT_PROVIDER"); v != "" {
		cfg.DefaultProvider = v
	}
}
