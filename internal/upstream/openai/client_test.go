package openai

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/elifarley/vandamme-proxy/internal/llmtypes"
)

func TestModel_PrefersRequestModel(t *testing.T) {
	c := &Client{Model: "gpt-4o-mini"}

	require.Equal(t, "gpt-4o", c.model(llmtypes.Request{Model: "gpt-4o"}))
	require.Equal(t, "gpt-4o-mini", c.model(llmtypes.Request{}))
}
