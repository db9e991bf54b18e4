// Package clientfactory builds upstream llmtypes.Client instances from
// registry descriptors, wiring in the right credential source (static-key
// rotation or OAuth access tokens) for each provider. Callers type-assert
// the returned Client to llmtypes.StreamClient or
// llmtypes.PassthroughStreamClient depending on the provider's api_format.
package clientfactory

import (
	"context"
	"fmt"
	"sync"

	"github.com/elifarley/vandamme-proxy/internal/config"
	"github.com/elifarley/vandamme-proxy/internal/credential"
	"github.com/elifarley/vandamme-proxy/internal/credential/oauth"
	"github.com/elifarley/vandamme-proxy/internal/credential/rotator"
	"github.com/elifarley/vandamme-proxy/internal/llmtypes"
	"github.com/elifarley/vandamme-proxy/internal/registry"
	anthropicupstream "github.com/elifarley/vandamme-proxy/internal/upstream/anthropic"
	openaiupstream "github.com/elifarley/vandamme-proxy/internal/upstream/openai"
)

// Factory caches one Client per provider name — a provider's credential
// source (rotator or OAuth manager) is itself stateful and long-lived, so
// clients are built once and reused across requests.
type Factory struct {
	mu          sync.Mutex
	clients     map[string]llmtypes.Client
	credentials map[string]credential.Source
	registry    *registry.Registry
	oauthStore  *oauth.Store
}

// New creates a Factory backed by reg. credentialStorageDir is the root
// directory OAuth token records are persisted under. encKey, when non-nil,
// is passed to the OAuth store to encrypt token material at rest.
func New(reg *registry.Registry, credentialStorageDir string, encKey []byte) (*Factory, error) {
	store, err := oauth.NewStore(credentialStorageDir, encKey)
	if err != nil {
		return nil, fmt.Errorf("clientfactory: %w", err)
	}
	return &Factory{
		clients:     make(map[string]llmtypes.Client),
		credentials: make(map[string]credential.Source),
		registry:    reg,
		oauthStore:  store,
	}, nil
}

// Client returns the cached (or newly built) Client for provider. The
// concrete type implements llmtypes.StreamClient when desc.APIFormat is
// openai-wire, or llmtypes.PassthroughStreamClient when it is
// anthropic-wire; callers type-assert accordingly.
func (f *Factory) Client(provider string) (llmtypes.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if c, ok := f.clients[provider]; ok {
		return c, nil
	}

	desc, ok := f.registry.Lookup(provider)
	if !ok {
		return nil, fmt.Errorf("clientfactory: unknown provider %q", provider)
	}

	source, err := f.credentialSourceLocked(provider, desc)
	if err != nil {
		return nil, err
	}

	var client llmtypes.Client
	switch desc.APIFormat {
	case config.APIFormatAnthropic, config.APIFormatPassthrough:
		client, err = anthropicupstream.New(desc.BaseURL, desc.Proxy, desc.InsecureSkipVerify, source, desc.Model)
	case config.APIFormatOpenAI:
		client, err = openaiupstream.New(desc.BaseURL, desc.Proxy, desc.InsecureSkipVerify, desc.ExtraHeaders, source, desc.Model)
	default:
		return nil, fmt.Errorf("clientfactory: provider %q has unsupported api format %q", provider, desc.APIFormat)
	}
	if err != nil {
		return nil, fmt.Errorf("clientfactory: build client for %q: %w", provider, err)
	}

	f.clients[provider] = client
	return client, nil
}

// credentialSourceLocked builds (once) and returns the credential.Source
// for provider. Callers must hold f.mu.
func (f *Factory) credentialSourceLocked(provider string, desc registry.Descriptor) (credential.Source, error) {
	if src, ok := f.credentials[provider]; ok {
		return src, nil
	}

	var src credential.Source
	switch desc.Auth.Kind {
	case config.AuthKindStaticKeys:
		r := rotator.New(desc.Auth.StaticKeys)
		src = credential.StaticRotator(r.Next)

	case config.AuthKindOAuth:
		if desc.Auth.OAuth == nil {
			return nil, fmt.Errorf("clientfactory: provider %q configured for oauth but has no oauth config", provider)
		}
		mgr, err := oauth.NewManager(f.oauthStore, provider, oauth.EndpointConfig{
			ClientID: desc.Auth.OAuth.ClientID,
			AuthURL:  desc.Auth.OAuth.AuthURL,
			TokenURL: desc.Auth.OAuth.TokenURL,
			Scopes:   desc.Auth.OAuth.Scopes,
		})
		if err != nil {
			return nil, fmt.Errorf("clientfactory: provider %q: %w", provider, err)
		}
		src = mgr.AccessToken

	case config.AuthKindNone, "":
		src = func(ctx context.Context) (string, error) { return "", nil }

	default:
		return nil, fmt.Errorf("clientfactory: provider %q has unknown auth kind %q", provider, desc.Auth.Kind)
	}

	f.credentials[provider] = src
	return src, nil
}
