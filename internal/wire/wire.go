// Package wire decodes and encodes the client-facing Anthropic Messages
// JSON shape, converting it to and from llmtypes.Request/Response at the
// edge of the proxy. Nothing past this package touches Anthropic wire
// JSON directly.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/elifarley/vandamme-proxy/internal/llmtypes"
)

// AnthropicRequest is the inbound POST /v1/messages body.
type AnthropicRequest struct {
	Model         string          `json:"model"`
	Messages      []WireMessage   `json:"messages"`
	System        json.RawMessage `json:"system,omitempty"`
	MaxTokens     int             `json:"max_tokens"`
	Tools         []WireTool      `json:"tools,omitempty"`
	ToolChoice    *WireToolChoice `json:"tool_choice,omitempty"`
	StopSequences []string        `json:"stop_sequences,omitempty"`
	Temperature   *float64        `json:"temperature,omitempty"`
	TopP          *float64        `json:"top_p,omitempty"`
	Stream        bool            `json:"stream,omitempty"`

	// Metadata.UserID doubles as the conversation id the thought-signature
	// middleware scopes its cache lookups by, per the proxy's decision to
	// treat it as the closest Anthropic-wire analogue of a conversation
	// identifier (no dedicated field exists on the wire request).
	Metadata *WireMetadata `json:"metadata,omitempty"`
}

type WireMetadata struct {
	UserID string `json:"user_id,omitempty"`
}

// WireMessage mirrors llmtypes.Message at the JSON boundary; Content is
// decoded lazily since it is either a plain string or a content-block
// array.
type WireMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type WireTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// WireToolChoice accepts either {"type":"auto"} or
// {"type":"tool","name":"..."}.
type WireToolChoice struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

type wireContentBlock struct {
	Type             string              `json:"type"`
	Text             string              `json:"text,omitempty"`
	ID               string              `json:"id,omitempty"`
	Name             string              `json:"name,omitempty"`
	Input            map[string]any      `json:"input,omitempty"`
	ToolUseID        string              `json:"tool_use_id,omitempty"`
	Content          json.RawMessage     `json:"content,omitempty"`
	Source           *llmtypes.MediaSource `json:"source,omitempty"`
	ThoughtSignature string              `json:"thought_signature,omitempty"`
}

// ToRequest converts a decoded AnthropicRequest into the provider-neutral
// llmtypes.Request. The conversation id is not part of the result; it is
// read separately via ConversationID, since the orchestrator threads it
// through context rather than the request value.
func (r AnthropicRequest) ToRequest() (llmtypes.Request, error) {
	req := llmtypes.Request{
		Model:         r.Model,
		MaxTokens:     r.MaxTokens,
		StopSequences: r.StopSequences,
		Temperature:   r.Temperature,
		TopP:          r.TopP,
	}

	if len(r.System) > 0 {
		sys, err := decodeSystem(r.System)
		if err != nil {
			return req, fmt.Errorf("wire: decode system: %w", err)
		}
		req.System = sys
	}

	for _, t := range r.Tools {
		req.Tools = append(req.Tools, llmtypes.Tool{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}

	if r.ToolChoice != nil {
		req.ToolChoice = &llmtypes.ToolChoice{Type: r.ToolChoice.Type, Name: r.ToolChoice.Name}
	}

	for _, m := range r.Messages {
		msg, err := decodeMessage(m)
		if err != nil {
			return req, fmt.Errorf("wire: decode message: %w", err)
		}
		req.Messages = append(req.Messages, msg)
	}

	return req, nil
}

// ConversationID returns the id the thought-signature middleware scopes its
// cache by, or "" if the client did not supply one.
func (r AnthropicRequest) ConversationID() string {
	if r.Metadata == nil {
		return ""
	}
	return r.Metadata.UserID
}

// decodeSystem accepts either a plain JSON string or an array of text
// content blocks (the Anthropic API allows both for the system field) and
// concatenates either form into a single string.
func decodeSystem(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}

	var blocks []struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return "", err
	}
	var out string
	for _, b := range blocks {
		out += b.Text
	}
	return out, nil
}

func decodeMessage(m WireMessage) (llmtypes.Message, error) {
	out := llmtypes.Message{Role: m.Role}

	var asString string
	if err := json.Unmarshal(m.Content, &asString); err == nil {
		out.Content = asString
		return out, nil
	}

	var rawBlocks []wireContentBlock
	if err := json.Unmarshal(m.Content, &rawBlocks); err != nil {
		return out, err
	}

	blocks := make([]llmtypes.ContentBlock, len(rawBlocks))
	for i, b := range rawBlocks {
		blocks[i] = llmtypes.ContentBlock{
			Type:             b.Type,
			Text:             b.Text,
			ID:               b.ID,
			Name:             b.Name,
			Input:            b.Input,
			ToolUseID:        b.ToolUseID,
			Source:           b.Source,
			ThoughtSignature: b.ThoughtSignature,
		}
		if len(b.Content) > 0 {
			var asStr string
			if err := json.Unmarshal(b.Content, &asStr); err == nil {
				blocks[i].Content = asStr
			} else {
				blocks[i].Content = string(b.Content)
			}
		}
	}
	out.Content = blocks
	return out, nil
}

// AnthropicResponse is the outbound POST /v1/messages body for a
// non-streaming request.
type AnthropicResponse struct {
	ID           string           `json:"id"`
	Type         string           `json:"type"`
	Role         string           `json:"role"`
	Model        string           `json:"model"`
	Content      []map[string]any `json:"content"`
	StopReason   string           `json:"stop_reason"`
	StopSequence *string          `json:"stop_sequence"`
	Usage        map[string]int   `json:"usage"`
}

// ResponseFromLLM converts a provider-neutral Response into the
// client-facing Anthropic response shape.
func ResponseFromLLM(id, model string, resp *llmtypes.Response) AnthropicResponse {
	var content []map[string]any
	if resp.Content != "" {
		content = append(content, map[string]any{"type": "text", "text": resp.Content})
	}
	for _, img := range resp.InlineImages {
		content = append(content, map[string]any{
			"type":   "image",
			"source": map[string]any{"type": "base64", "media_type": img.MimeType, "data": img.Data},
		})
	}
	for _, tc := range resp.ToolCalls {
		content = append(content, map[string]any{
			"type":  "tool_use",
			"id":    tc.ID,
			"name":  tc.Name,
			"input": tc.Arguments,
		})
	}
	if content == nil {
		content = []map[string]any{}
	}

	return AnthropicResponse{
		ID:         id,
		Type:       "message",
		Role:       "assistant",
		Model:      model,
		Content:    content,
		StopReason: resp.StopReason,
		Usage: map[string]int{
			"input_tokens":  resp.Usage.PromptTokens,
			"output_tokens": resp.Usage.CompletionTokens,
		},
	}
}
