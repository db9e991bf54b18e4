package translate

import (
	"github.com/elifarley/vandamme-proxy/internal/llmtypes"
)

// Event is one synthesized Anthropic streaming event, ready to hand to
// sse.Writer.WriteEvent(ev.Name, ev.Payload).
type Event struct {
	Name    string
	Payload any
}

type blockKind int

const (
	blockNone blockKind = iota
	blockText
	blockToolUse
)

// StreamTranslator reconstructs the Anthropic content-block event sequence
// (message_start / content_block_start / content_block_delta /
// content_block_stop / message_delta / message_stop, per spec §4.6.4) from
// the raw, format-neutral llmtypes.StreamChunk values an OpenAI-wire
// upstream client emits. Exactly one content block is open at a time;
// OpenAI's delta stream is read in order and a block is closed as soon as
// a delta of a different kind (or a different tool index) arrives.
//
// A StreamTranslator is not safe for concurrent use; one is created per
// request.
type StreamTranslator struct {
	model string

	nextIndex         int
	currentKind       blockKind
	currentIndex      int
	openaiToAnthropic map[int]int

	stopReason   string
	inputTokens  int
	outputTokens int
}

// NewStreamTranslator starts tracking a new response for model.
func NewStreamTranslator(model string) *StreamTranslator {
	return &StreamTranslator{
		model:             model,
		currentKind:       blockNone,
		openaiToAnthropic: make(map[int]int),
	}
}

// Start returns the message_start event that must be written before any
// chunk is fed. messageID is the id reported on the synthesized message;
// inputTokens may be 0 if not yet known. A later Usage chunk fed through
// Feed updates the value Usage reports, but the message_start already
// returned is not revised, and Close's message_delta carries only
// output_tokens.
func (t *StreamTranslator) Start(messageID string, inputTokens int) Event {
	t.inputTokens = inputTokens
	return Event{Name: "message_start", Payload: map[string]any{
		"type": "message_start",
		"message": map[string]any{
			"id":            messageID,
			"type":          "message",
			"role":          "assistant",
			"model":         t.model,
			"content":       []any{},
			"stop_reason":   nil,
			"stop_sequence": nil,
			"usage": map[string]any{
				"input_tokens":  inputTokens,
				"output_tokens": 0,
			},
		},
	}}
}

// Feed converts one upstream chunk into zero or more Anthropic events.
func (t *StreamTranslator) Feed(chunk llmtypes.StreamChunk) []Event {
	var events []Event

	if chunk.TextDelta != "" {
		if t.currentKind != blockText {
			events = append(events, t.closeCurrent()...)
			idx := t.openBlock(blockText)
			events = append(events, Event{Name: "content_block_start", Payload: map[string]any{
				"type":  "content_block_start",
				"index": idx,
				"content_block": map[string]any{
					"type": "text",
					"text": "",
				},
			}})
		}
		events = append(events, Event{Name: "content_block_delta", Payload: map[string]any{
			"type":  "content_block_delta",
			"index": t.currentIndex,
			"delta": map[string]any{
				"type": "text_delta",
				"text": chunk.TextDelta,
			},
		}})
	}

	for _, td := range chunk.ToolCallDeltas {
		anthropicIdx, seen := t.openaiToAnthropic[td.Index]
		if !seen {
			events = append(events, t.closeCurrent()...)
			anthropicIdx = t.openBlock(blockToolUse)
			t.openaiToAnthropic[td.Index] = anthropicIdx
			events = append(events, Event{Name: "content_block_start", Payload: map[string]any{
				"type":  "content_block_start",
				"index": anthropicIdx,
				"content_block": map[string]any{
					"type":  "tool_use",
					"id":    td.ID,
					"name":  td.Name,
					"input": map[string]any{},
				},
			}})
		} else if anthropicIdx != t.currentIndex {
			// A delta arrived for an already-opened but not currently
			// active block. The upstream is not supposed to interleave
			// tool indices this way; treat it as closing whatever is open
			// and resuming the named block without re-emitting its start.
			events = append(events, t.closeCurrent()...)
			t.currentKind = blockToolUse
			t.currentIndex = anthropicIdx
		}

		if td.ArgumentsDelta != "" {
			events = append(events, Event{Name: "content_block_delta", Payload: map[string]any{
				"type":  "content_block_delta",
				"index": anthropicIdx,
				"delta": map[string]any{
					"type":         "input_json_delta",
					"partial_json": td.ArgumentsDelta,
				},
			}})
		}
	}

	if chunk.StopReason != "" {
		t.stopReason = chunk.StopReason
	}
	if chunk.Usage != nil {
		t.inputTokens = chunk.Usage.PromptTokens
		t.outputTokens = chunk.Usage.CompletionTokens
	}

	return events
}

// Close flushes any open content block and returns the terminal
// message_delta and message_stop events.
func (t *StreamTranslator) Close() []Event {
	events := t.closeCurrent()

	stopReason := t.stopReason
	if stopReason == "" {
		stopReason = "end_turn"
	}

	events = append(events,
		Event{Name: "message_delta", Payload: map[string]any{
			"type": "message_delta",
			"delta": map[string]any{
				"stop_reason":   stopReason,
				"stop_sequence": nil,
			},
			"usage": map[string]any{
				"output_tokens": t.outputTokens,
			},
		}},
		Event{Name: "message_stop", Payload: map[string]any{
			"type": "message_stop",
		}},
	)
	return events
}

// Usage returns the most recently observed token accounting. Absence of a
// usage chunk anywhere in the stream leaves both fields at zero, which
// callers treat as "zero usage", not an error (spec Open Question #3).
func (t *StreamTranslator) Usage() llmtypes.Usage {
	return llmtypes.Usage{
		PromptTokens:     t.inputTokens,
		CompletionTokens: t.outputTokens,
		TotalTokens:      t.inputTokens + t.outputTokens,
	}
}

func (t *StreamTranslator) openBlock(kind blockKind) int {
	idx := t.nextIndex
	t.nextIndex++
	t.currentKind = kind
	t.currentIndex = idx
	return idx
}

func (t *StreamTranslator) closeCurrent() []Event {
	if t.currentKind == blockNone {
		return nil
	}
	idx := t.currentIndex
	t.currentKind = blockNone
	return []Event{{Name: "content_block_stop", Payload: map[string]any{
		"type":  "content_block_stop",
		"index": idx,
	}}}
}
