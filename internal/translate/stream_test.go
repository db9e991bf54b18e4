package translate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/elifarley/vandamme-proxy/internal/llmtypes"
)

func eventNames(events []Event) []string {
	names := make([]string, len(events))
	for i, e := range events {
		names[i] = e.Name
	}
	return names
}

func TestStreamTranslator_TextOnly(t *testing.T) {
	tr := NewStreamTranslator("gpt-4o")

	start := tr.Start("msg_1", 10)
	require.Equal(t, "message_start", start.Name)

	events := tr.Feed(llmtypes.StreamChunk{TextDelta: "hello"})
	require.Equal(t, []string{"content_block_start", "content_block_delta"}, eventNames(events))

	events = tr.Feed(llmtypes.StreamChunk{TextDelta: " world"})
	require.Equal(t, []string{"content_block_delta"}, eventNames(events), "continuing text should not reopen the block")

	events = tr.Feed(llmtypes.StreamChunk{StopReason: "stop"})
	require.Empty(t, events)

	final := tr.Close()
	require.Equal(t, []string{"content_block_stop", "message_delta", "message_stop"}, eventNames(final))
}

// TestStreamTranslator_TextThenToolUse pins spec S3: a text block followed
// by a tool call must close the text block before opening the tool_use
// block, never interleaving deltas of two open blocks.
func TestStreamTranslator_TextThenToolUse(t *testing.T) {
	tr := NewStreamTranslator("gpt-4o")
	tr.Start("msg_1", 0)

	tr.Feed(llmtypes.StreamChunk{TextDelta: "let me check"})

	events := tr.Feed(llmtypes.StreamChunk{ToolCallDeltas: []llmtypes.ToolCallDelta{
		{Index: 0, ID: "call_1", Name: "get_weather"},
	}})
	require.Equal(t, []string{"content_block_stop", "content_block_start"}, eventNames(events))

	events = tr.Feed(llmtypes.StreamChunk{ToolCallDeltas: []llmtypes.ToolCallDelta{
		{Index: 0, ArgumentsDelta: `{"city":`},
	}})
	require.Equal(t, []string{"content_block_delta"}, eventNames(events))

	final := tr.Close()
	require.Equal(t, []string{"content_block_stop", "message_delta", "message_stop"}, eventNames(final))
}

func TestStreamTranslator_MultipleToolCallIndices(t *testing.T) {
	tr := NewStreamTranslator("gpt-4o")
	tr.Start("msg_1", 0)

	tr.Feed(llmtypes.StreamChunk{ToolCallDeltas: []llmtypes.ToolCallDelta{{Index: 0, ID: "call_1", Name: "f1"}}})
	events := tr.Feed(llmtypes.StreamChunk{ToolCallDeltas: []llmtypes.ToolCallDelta{{Index: 1, ID: "call_2", Name: "f2"}}})

	require.Equal(t, []string{"content_block_stop", "content_block_start"}, eventNames(events))

	final := tr.Close()
	require.Contains(t, eventNames(final), "content_block_stop")
}

func TestStreamTranslator_CloseWithNoStopReasonDefaultsEndTurn(t *testing.T) {
	tr := NewStreamTranslator("gpt-4o")
	tr.Start("msg_1", 0)

	final := tr.Close()
	var delta map[string]any
	for _, e := range final {
		if e.Name == "message_delta" {
			delta = e.Payload.(map[string]any)
		}
	}
	require.NotNil(t, delta)
	innerDelta := delta["delta"].(map[string]any)
	require.Equal(t, "end_turn", innerDelta["stop_reason"])
}

func TestStreamTranslator_Usage_AbsentStaysZero(t *testing.T) {
	tr := NewStreamTranslator("gpt-4o")
	tr.Start("msg_1", 0)
	tr.Feed(llmtypes.StreamChunk{TextDelta: "hi"})

	u := tr.Usage()
	require.Zero(t, u.PromptTokens)
	require.Zero(t, u.CompletionTokens)
}

func TestStreamTranslator_Usage_UpdatedFromChunk(t *testing.T) {
	tr := NewStreamTranslator("gpt-4o")
	tr.Start("msg_1", 0)
	tr.Feed(llmtypes.StreamChunk{TextDelta: "hi", Usage: &llmtypes.Usage{PromptTokens: 7, CompletionTokens: 3}})

	u := tr.Usage()
	require.Equal(t, 7, u.PromptTokens)
	require.Equal(t, 3, u.CompletionTokens)
	require.Equal(t, 10, u.TotalTokens)
}
