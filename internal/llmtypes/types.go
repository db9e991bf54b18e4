// Package llmtypes holds the provider-neutral message and response shapes
// that the translator, middleware chain, and orchestrator pass between
// each other. Anthropic-wire and OpenAI-wire request/response bodies are
// converted to and from these types at the edges; nothing in the core
// pipeline touches wire JSON directly.
package llmtypes

import (
	"context"
	"net/http"
)

// Message is a single turn in a conversation. Content is either a plain
// string or a []ContentBlock, mirroring the Anthropic Messages content
// union.
type Message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// ContentBlock is one block of a multi-part message: text, an image/
// document/audio/video source, a tool invocation, or a tool result.
type ContentBlock struct {
	Type      string         `json:"type"`
	Text      string         `json:"text,omitempty"`
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	Content   string         `json:"content,omitempty"`
	Source    *MediaSource   `json:"source,omitempty"`

	// ThoughtSignature is an opaque reasoning token some upstream models
	// emit on tool_use blocks. It must be echoed back unchanged on the
	// matching tool_use block of a later turn or the model loses its
	// reasoning continuity. Populated by the thought-signature middleware
	// from its cache before a request reaches the translator.
	ThoughtSignature string `json:"thought_signature,omitempty"`
}

// MediaSource is the source of a non-text content block.
type MediaSource struct {
	Type      string `json:"type"` // "base64" or "url"
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// Tool is a single callable tool definition, independent of wire format.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

// ToolChoice mirrors the Anthropic tool_choice shape: Type is "auto", "any",
// "tool", or "none"; Name is set only when Type == "tool".
type ToolChoice struct {
	Type string
	Name string
}

// Usage carries token accounting from an upstream response.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ToolCall is a single, fully-assembled tool invocation: either the result
// of a unary response decode, or the product of concatenating every
// ToolCallDelta fragment for one index and parsing the result as JSON.
type ToolCall struct {
	ID               string
	Name             string
	Arguments        map[string]any
	ThoughtSignature string
}

// ToolCallDelta is one fragment of a tool call arriving mid-stream. ID and
// Name are only populated on the delta that first introduces the index;
// ArgumentsDelta is a fragment of the JSON-encoded arguments string that
// must be concatenated (never re-parsed in isolation) across every delta
// sharing the same Index, and parsed as a whole only once the block closes.
type ToolCallDelta struct {
	Index            int
	ID               string
	Name             string
	ArgumentsDelta   string
	ThoughtSignature string
}

// InlineImage is a base64-encoded image embedded directly in a response.
type InlineImage struct {
	MimeType string
	Data     string
}

// Response is the fully-collected result of a non-streaming upstream call.
type Response struct {
	Content      string
	InlineImages []InlineImage
	ToolCalls    []ToolCall
	// StopReason is already mapped to the Anthropic vocabulary
	// ("end_turn", "tool_use", "max_tokens", "stop_sequence") by the
	// client/translator that produced this Response.
	StopReason string
	Usage      Usage
	Header     http.Header
}

// StreamChunk is one increment of a streaming OpenAI-wire upstream
// response, in a shape close to the wire so the C6 streaming state machine
// can reconstruct Anthropic content-block boundaries from it. Anthropic-wire
// (passthrough) upstreams do not stream StreamChunk values directly; each
// one rides inside a RawEvent as a best-effort parse — see RawEvent.
type StreamChunk struct {
	// TextDelta is a fragment of assistant text, already Anthropic-final
	// (no further translation needed for the text itself).
	TextDelta string

	InlineImages []InlineImage

	// ToolCallDeltas holds zero or more tool-call fragments present on this
	// chunk, each identified by Index.
	ToolCallDeltas []ToolCallDelta

	// StopReason is set on the chunk that carries finish_reason, already
	// mapped to the Anthropic vocabulary.
	StopReason string

	// Usage, when non-nil, carries token accounting. Its position in the
	// chunk stream (attached to the last content chunk, or delivered as a
	// separate usage-only chunk) is provider-specific; callers must not
	// assume either shape. Absence anywhere in the stream is treated as
	// zero usage, not an error.
	Usage *Usage

	Error error
}

// RawEvent is one record of an Anthropic-wire (passthrough) SSE stream.
// Raw carries the exact bytes of the upstream record (sans trailing blank
// line) for verbatim forwarding; Chunk is a best-effort parse of the same
// record for middleware observation, nil when the record could not be
// parsed (it is still forwarded via Raw, just not routed to middleware).
type RawEvent struct {
	Raw   []byte
	Chunk *StreamChunk
	Err   error
}

// Request is the provider-neutral request built by the translator from an
// inbound AnthropicRequest and handed to an upstream client.
type Request struct {
	Model         string
	System        string
	Messages      []Message
	Tools         []Tool
	ToolChoice    *ToolChoice
	MaxTokens     int
	StopSequences []string
	Temperature   *float64
	TopP          *float64
}

// Client is implemented by every upstream provider client, regardless of
// wire format (Anthropic-native or OpenAI Chat Completions).
type Client interface {
	Send(ctx context.Context, req Request) (*Response, error)
}

// StreamClient is implemented by OpenAI-wire clients: the channel carries
// raw, format-neutral deltas that the C6 streaming state machine turns into
// Anthropic content-block events.
type StreamClient interface {
	Client
	Stream(ctx context.Context, req Request) (<-chan StreamChunk, http.Header, error)
}

// PassthroughStreamClient is implemented by Anthropic-wire clients. Frames
// are forwarded to the caller verbatim (per spec §4.6.5); the orchestrator
// still best-effort-parses each one (via RawEvent.Chunk) so middleware can
// observe the stream without altering it.
type PassthroughStreamClient interface {
	Client
	StreamPassthrough(ctx context.Context, req Request) (<-chan RawEvent, http.Header, error)
}
