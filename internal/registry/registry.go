// Package registry holds the set of configured upstream providers, built
// once at startup and looked up by name (or by the "<provider>:<model>"
// form clients send as the model string) on every request thereafter.
package registry

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/elifarley/vandamme-proxy/internal/config"
)

// Descriptor is the resolved, immutable view of a single configured
// provider that the rest of the pipeline consults.
type Descriptor struct {
	Name      string
	APIFormat config.APIFormat
	BaseURL   string
	Model     string
	Models    []string

	Auth config.ProviderAuth

	ExtraHeaders map[string]string

	Proxy              string
	InsecureSkipVerify bool

	Timeouts config.Timeouts
	Retries  int

	MaxTokensCap int
}

// HasModel reports whether model is in the descriptor's advertised model
// list. An empty Models list means no restriction is enforced.
func (d Descriptor) HasModel(model string) bool {
	if len(d.Models) == 0 {
		return true
	}
	for _, m := range d.Models {
		if m == model {
			return true
		}
	}
	return false
}

// Registry is the immutable-after-construction set of configured
// providers.
type Registry struct {
	descriptors     map[string]Descriptor
	order           []string
	defaultKey      string
	defaultSource   string // "configured" or "fallback"
}

// New builds a Registry from configuration. defaultProvider, if non-empty
// and present in providers, becomes the registry's default and Default()
// reports "configured"; otherwise the lexicographically smallest provider
// key is used as a deterministic fallback and Default() reports "fallback"
// (spec P1).
func New(providers map[string]config.ProviderConfig, defaultProvider string) (*Registry, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("registry: no providers configured")
	}

	r := &Registry{descriptors: make(map[string]Descriptor, len(providers))}

	for name, cfg := range providers {
		if err := validateAuth(cfg.Auth); err != nil {
			slog.Error("registry: skipping invalid provider", "provider", name, "error", err)
			continue
		}

		r.descriptors[name] = Descriptor{
			Name:               name,
			APIFormat:          cfg.APIFormat,
			BaseURL:            cfg.BaseURL,
			Model:              cfg.Model,
			Models:             cfg.Models,
			Auth:               cfg.Auth,
			ExtraHeaders:       cfg.ExtraHeaders,
			Proxy:              cfg.Proxy,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
			Timeouts:           cfg.Timeouts,
			Retries:            cfg.Retries,
			MaxTokensCap:       cfg.MaxTokensCap,
		}
		r.order = append(r.order, name)
	}

	if len(r.descriptors) == 0 {
		return nil, fmt.Errorf("registry: no valid providers configured")
	}

	if defaultProvider != "" {
		if _, ok := r.descriptors[defaultProvider]; ok {
			r.defaultKey = defaultProvider
			r.defaultSource = "configured"
		}
	}

	if r.defaultKey == "" {
		// A stable default (rather than map iteration order) so restarts
		// are deterministic: pick the lexicographically smallest key.
		for _, name := range r.order {
			if r.defaultKey == "" || name < r.defaultKey {
				r.defaultKey = name
			}
		}
		r.defaultSource = "fallback"
	}

	return r, nil
}

// validateAuth enforces that exactly one credential mechanism is
// configured per the auth kind.
func validateAuth(auth config.ProviderAuth) error {
	switch auth.Kind {
	case config.AuthKindStaticKeys:
		if len(auth.StaticKeys) == 0 {
			return fmt.Errorf("auth.kind=static_keys requires a non-empty static_keys list")
		}
	case config.AuthKindOAuth:
		if auth.OAuth == nil {
			return fmt.Errorf("auth.kind=oauth requires an oauth block")
		}
	case config.AuthKindNone, "":
		// No credentials required (e.g. a local passthrough upstream).
	default:
		return fmt.Errorf("unknown auth.kind %q", auth.Kind)
	}
	return nil
}

// Lookup returns the descriptor for name.
func (r *Registry) Lookup(name string) (Descriptor, bool) {
	d, ok := r.descriptors[name]
	return d, ok
}

// List returns all configured descriptors in a stable, sorted-by-name
// order.
func (r *Registry) List() []Descriptor {
	out := make([]Descriptor, 0, len(r.order))
	names := append([]string(nil), r.order...)
	// order is append order (map iteration); sort for deterministic output.
	for i := 1; i < len(names); i++ {
		for j := i; j > 0 && names[j] < names[j-1]; j-- {
			names[j], names[j-1] = names[j-1], names[j]
		}
	}
	for _, n := range names {
		out = append(out, r.descriptors[n])
	}
	return out
}

// Default returns the default provider and whether it was explicitly
// configured ("configured") or chosen as a fallback ("fallback"). Since
// every Registry requires at least one provider, Default never reports
// an empty registry.
func (r *Registry) Default() (Descriptor, string) {
	return r.descriptors[r.defaultKey], r.defaultSource
}

// ParseModelID splits a client-supplied model string of the form
// "<provider>:<model>" into its provider key and model name. If no ":"
// separator is present, the whole string is treated as the model name
// against the registry's default provider.
func ParseModelID(registry *Registry, model string) (providerKey, actualModel string, err error) {
	if idx := strings.IndexByte(model, ':'); idx >= 0 {
		providerKey, actualModel = model[:idx], model[idx+1:]
		if actualModel == "" {
			return "", "", fmt.Errorf("model %q: empty model name after provider prefix", model)
		}
		return providerKey, actualModel, nil
	}

	d, _ := registry.Default()
	return d.Name, model, nil
}
