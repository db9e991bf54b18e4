package middleware

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/elifarley/vandamme-proxy/internal/llmtypes"
	"github.com/elifarley/vandamme-proxy/internal/thoughtcache"
)

func TestIsGeminiModel(t *testing.T) {
	require.True(t, isGeminiModel("gemini-2.0-flash"))
	require.True(t, isGeminiModel("GEMINI-1.5-Pro"))
	require.False(t, isGeminiModel("gpt-4o"))
	require.False(t, isGeminiModel(""))
}

func TestThoughtSignatureMiddleware_BeforeRequest_NonGeminiModelIsNoop(t *testing.T) {
	cache := thoughtcache.New(time.Hour, 100)
	m := NewThoughtSignatureMiddleware(cache)

	ctx := WithModel(context.Background(), "gpt-4o")
	req := &llmtypes.Request{
		Messages: []llmtypes.Message{
			{Role: "assistant", Content: []llmtypes.ContentBlock{{Type: "tool_use", ID: "call_1"}}},
		},
	}

	_, err := m.BeforeRequest(ctx, req)
	require.NoError(t, err)

	blocks := req.Messages[0].Content.([]llmtypes.ContentBlock)
	require.Equal(t, "", blocks[0].ThoughtSignature)
}

func TestThoughtSignatureMiddleware_RoundTrip_UnaryResponse(t *testing.T) {
	cache := thoughtcache.New(time.Hour, 100)
	m := NewThoughtSignatureMiddleware(cache)

	ctx := WithConversationID(WithModel(context.Background(), "gemini-2.0-flash"), "conv-1")

	resp := &llmtypes.Response{
		ToolCalls: []llmtypes.ToolCall{
			{ID: "call_1", Name: "get_weather", ThoughtSignature: "opaque-sig"},
		},
	}
	require.NoError(t, m.AfterResponse(ctx, resp))

	req := &llmtypes.Request{
		Messages: []llmtypes.Message{
			{Role: "assistant", Content: []llmtypes.ContentBlock{{Type: "tool_use", ID: "call_1"}}},
		},
	}
	_, err := m.BeforeRequest(ctx, req)
	require.NoError(t, err)

	blocks := req.Messages[0].Content.([]llmtypes.ContentBlock)
	require.Equal(t, "opaque-sig", blocks[0].ThoughtSignature)
}

func TestThoughtSignatureMiddleware_StreamAccumulationCommitsOnComplete(t *testing.T) {
	cache := thoughtcache.New(time.Hour, 100)
	m := NewThoughtSignatureMiddleware(cache)

	acc := &StreamAccumulator{Model: "gemini-2.0-flash", ConversationID: "conv-2"}
	chunk := &llmtypes.StreamChunk{
		ToolCallDeltas: []llmtypes.ToolCallDelta{
			{Index: 0, ID: "call_9", ThoughtSignature: "streamed-sig"},
		},
	}
	require.NoError(t, m.OnStreamChunk(context.Background(), chunk, acc))
	m.OnStreamComplete(context.Background(), acc)

	got, ok := cache.Retrieve([]string{"call_9"}, "conv-2")
	require.True(t, ok)
	require.Equal(t, "streamed-sig", got["call_9"])
}

func TestThoughtSignatureMiddleware_StreamAccumulation_NonGeminiSkipsCommit(t *testing.T) {
	cache := thoughtcache.New(time.Hour, 100)
	m := NewThoughtSignatureMiddleware(cache)

	acc := &StreamAccumulator{Model: "gpt-4o"}
	chunk := &llmtypes.StreamChunk{
		ToolCallDeltas: []llmtypes.ToolCallDelta{{Index: 0, ID: "call_1", ThoughtSignature: "sig"}},
	}
	require.NoError(t, m.OnStreamChunk(context.Background(), chunk, acc))
	m.OnStreamComplete(context.Background(), acc)

	_, ok := cache.Retrieve([]string{"call_1"}, "")
	require.False(t, ok)
}
