package wire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/elifarley/vandamme-proxy/internal/llmtypes"
)

func TestToRequest_PlainStringSystem(t *testing.T) {
	ar := AnthropicRequest{
		Model:     "claude-sonnet-4",
		System:    json.RawMessage(`"you are terse"`),
		MaxTokens: 100,
		Messages: []WireMessage{
			{Role: "user", Content: json.RawMessage(`"hello"`)},
		},
	}

	req, err := ar.ToRequest()
	require.NoError(t, err)
	require.Equal(t, "you are terse", req.System)
	require.Equal(t, "hello", req.Messages[0].Content)
}

func TestToRequest_SystemAsContentBlocks(t *testing.T) {
	ar := AnthropicRequest{
		Model:  "claude-sonnet-4",
		System: json.RawMessage(`[{"type":"text","text":"part one. "},{"type":"text","text":"part two."}]`),
		Messages: []WireMessage{
			{Role: "user", Content: json.RawMessage(`"hi"`)},
		},
	}

	req, err := ar.ToRequest()
	require.NoError(t, err)
	require.Equal(t, "part one. part two.", req.System)
}

func TestToRequest_ContentBlockMessage(t *testing.T) {
	ar := AnthropicRequest{
		Model: "claude-sonnet-4",
		Messages: []WireMessage{
			{Role: "user", Content: json.RawMessage(`[
				{"type":"text","text":"look at this"},
				{"type":"tool_result","tool_use_id":"call_1","content":"42"}
			]`)},
		},
	}

	req, err := ar.ToRequest()
	require.NoError(t, err)

	blocks, ok := req.Messages[0].Content.([]llmtypes.ContentBlock)
	require.True(t, ok)
	require.Len(t, blocks, 2)
	require.Equal(t, "text", blocks[0].Type)
	require.Equal(t, "tool_result", blocks[1].Type)
	require.Equal(t, "42", blocks[1].Content)
	require.Equal(t, "call_1", blocks[1].ToolUseID)
}

func TestToRequest_ToolsAndToolChoice(t *testing.T) {
	ar := AnthropicRequest{
		Model: "claude-sonnet-4",
		Tools: []WireTool{
			{Name: "get_weather", Description: "fetch weather", InputSchema: map[string]any{"type": "object"}},
		},
		ToolChoice: &WireToolChoice{Type: "tool", Name: "get_weather"},
		Messages:   []WireMessage{{Role: "user", Content: json.RawMessage(`"hi"`)}},
	}

	req, err := ar.ToRequest()
	require.NoError(t, err)
	require.Len(t, req.Tools, 1)
	require.Equal(t, "get_weather", req.Tools[0].Name)
	require.NotNil(t, req.ToolChoice)
	require.Equal(t, "tool", req.ToolChoice.Type)
	require.Equal(t, "get_weather", req.ToolChoice.Name)
}

func TestConversationID(t *testing.T) {
	withMeta := AnthropicRequest{Metadata: &WireMetadata{UserID: "conv-42"}}
	require.Equal(t, "conv-42", withMeta.ConversationID())

	noMeta := AnthropicRequest{}
	require.Equal(t, "", noMeta.ConversationID())
}

func TestResponseFromLLM_TextAndToolUse(t *testing.T) {
	resp := &llmtypes.Response{
		Content:    "the weather is nice",
		StopReason: "tool_use",
		Usage:      llmtypes.Usage{PromptTokens: 12, CompletionTokens: 8},
		ToolCalls: []llmtypes.ToolCall{
			{ID: "call_1", Name: "get_weather", Arguments: map[string]any{"city": "nyc"}},
		},
	}

	out := ResponseFromLLM("msg_1", "claude-sonnet-4", resp)

	require.Equal(t, "msg_1", out.ID)
	require.Equal(t, "message", out.Type)
	require.Equal(t, "tool_use", out.StopReason)
	require.Len(t, out.Content, 2)
	require.Equal(t, "text", out.Content[0]["type"])
	require.Equal(t, "tool_use", out.Content[1]["type"])
	require.Equal(t, 12, out.Usage["input_tokens"])
	require.Equal(t, 8, out.Usage["output_tokens"])
}

func TestResponseFromLLM_EmptyContentIsEmptyArrayNotNull(t *testing.T) {
	resp := &llmtypes.Response{StopReason: "end_turn"}
	out := ResponseFromLLM("msg_1", "claude-sonnet-4", resp)

	require.NotNil(t, out.Content)
	require.Empty(t, out.Content)
}
