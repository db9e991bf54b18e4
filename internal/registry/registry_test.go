package registry

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/elifarley/vandamme-proxy/internal/config"
)

func staticProvider() config.ProviderConfig {
	return config.ProviderConfig{
		APIFormat: config.APIFormatOpenAI,
		BaseURL:   "https://example.invalid/v1",
		Model:     "default-model",
		Auth: config.ProviderAuth{
			Kind:       config.AuthKindStaticKeys,
			StaticKeys: []string{"k1"},
		},
	}
}

func TestNew_NoProviders(t *testing.T) {
	_, err := New(nil, "")
	require.Error(t, err)
}

func TestNew_ConfiguredDefault(t *testing.T) {
	providers := map[string]config.ProviderConfig{
		"zebra": staticProvider(),
		"alpha": staticProvider(),
	}

	reg, err := New(providers, "zebra")
	require.NoError(t, err)

	d, source := reg.Default()
	require.Equal(t, "zebra", d.Name)
	require.Equal(t, "configured", source)
}

// TestNew_FallbackDefaultIsDeterministic pins spec P1: with no configured
// default_provider, the registry must always pick the same provider across
// restarts regardless of map iteration order, not whichever key the runtime
// happens to iterate first.
func TestNew_FallbackDefaultIsDeterministic(t *testing.T) {
	providers := map[string]config.ProviderConfig{
		"zebra": staticProvider(),
		"alpha": staticProvider(),
		"mike":  staticProvider(),
	}

	for i := 0; i < 5; i++ {
		reg, err := New(providers, "")
		require.NoError(t, err)

		d, source := reg.Default()
		require.Equal(t, "alpha", d.Name)
		require.Equal(t, "fallback", source)
	}
}

func TestNew_UnknownDefaultProviderFallsBack(t *testing.T) {
	providers := map[string]config.ProviderConfig{
		"zebra": staticProvider(),
		"alpha": staticProvider(),
	}

	reg, err := New(providers, "does-not-exist")
	require.NoError(t, err)

	d, source := reg.Default()
	require.Equal(t, "alpha", d.Name)
	require.Equal(t, "fallback", source)
}

func TestNew_InvalidAuthRejected(t *testing.T) {
	bad := staticProvider()
	bad.Auth = config.ProviderAuth{Kind: config.AuthKindStaticKeys, StaticKeys: nil}

	_, err := New(map[string]config.ProviderConfig{"p": bad}, "")
	require.Error(t, err)

	bad = staticProvider()
	bad.Auth = config.ProviderAuth{Kind: config.AuthKindOAuth, OAuth: nil}
	_, err = New(map[string]config.ProviderConfig{"p": bad}, "")
	require.Error(t, err)

	bad = staticProvider()
	bad.Auth = config.ProviderAuth{Kind: "bogus"}
	_, err = New(map[string]config.ProviderConfig{"p": bad}, "")
	require.Error(t, err)
}

// TestNew_SkipsInvalidProviderButLoadsGoodOnes pins spec P1: a provider set
// with at least one valid descriptor must still initialize successfully,
// with the invalid one simply absent from the registry.
func TestNew_SkipsInvalidProviderButLoadsGoodOnes(t *testing.T) {
	bad := staticProvider()
	bad.Auth = config.ProviderAuth{Kind: config.AuthKindStaticKeys, StaticKeys: nil}

	providers := map[string]config.ProviderConfig{
		"good": staticProvider(),
		"bad":  bad,
	}

	reg, err := New(providers, "")
	require.NoError(t, err)

	_, ok := reg.Lookup("bad")
	require.False(t, ok)

	d, ok := reg.Lookup("good")
	require.True(t, ok)
	require.Equal(t, "good", d.Name)
}

func TestList_SortedByName(t *testing.T) {
	providers := map[string]config.ProviderConfig{
		"zebra": staticProvider(),
		"alpha": staticProvider(),
		"mike":  staticProvider(),
	}

	reg, err := New(providers, "")
	require.NoError(t, err)

	list := reg.List()
	require.Len(t, list, 3)
	require.Equal(t, []string{"alpha", "mike", "zebra"}, []string{list[0].Name, list[1].Name, list[2].Name})
}

func TestDescriptor_HasModel(t *testing.T) {
	unrestricted := Descriptor{}
	require.True(t, unrestricted.HasModel("anything"))

	restricted := Descriptor{Models: []string{"gpt-4o", "gpt-4o-mini"}}
	require.True(t, restricted.HasModel("gpt-4o"))
	require.False(t, restricted.HasModel("gpt-3.5-turbo"))
}

func TestParseModelID_WithProviderPrefix(t *testing.T) {
	reg, err := New(map[string]config.ProviderConfig{"alpha": staticProvider()}, "")
	require.NoError(t, err)

	provider, model, err := ParseModelID(reg, "openai:gpt-4o")
	require.NoError(t, err)
	require.Equal(t, "openai", provider)
	require.Equal(t, "gpt-4o", model)
}

func TestParseModelID_EmptyModelAfterPrefixErrors(t *testing.T) {
	reg, err := New(map[string]config.ProviderConfig{"alpha": staticProvider()}, "")
	require.NoError(t, err)

	_, _, err = ParseModelID(reg, "openai:")
	require.Error(t, err)
}

func TestParseModelID_BarePrefixUsesDefault(t *testing.T) {
	reg, err := New(map[string]config.ProviderConfig{"alpha": staticProvider()}, "alpha")
	require.NoError(t, err)

	provider, model, err := ParseModelID(reg, "claude-sonnet-4")
	require.NoError(t, err)
	require.Equal(t, "alpha", provider)
	require.Equal(t, "claude-sonnet-4", model)
}
