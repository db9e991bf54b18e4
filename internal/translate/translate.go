// Package translate converts between the Anthropic Messages content-block
// shape (the one llmtypes.Request/Response/StreamChunk are modeled on) and
// the OpenAI Chat Completions wire shape, for both unary and streaming
// responses. Providers that speak Anthropic natively need no translation;
// providers behind an OpenAI-compatible wire format are routed through
// here on the way out and back in.
package translate

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/elifarley/vandamme-proxy/internal/llmtypes"
)

// OpenAIMessage is one entry of an OpenAI Chat Completions "messages" array.
type OpenAIMessage struct {
	Role       string           `json:"role"`
	Content    any              `json:"content,omitempty"`
	Name       string           `json:"name,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	ToolCalls  []OpenAIToolCall `json:"tool_calls,omitempty"`
}

type OpenAIToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function OpenAIFunctionCall `json:"function"`

	// Index identifies which tool call a streaming delta belongs to; unused
	// outside the streaming shape.
	Index *int `json:"index,omitempty"`

	// ExtraBody carries the Gemini thought_signature on outbound requests,
	// in the OpenAI-compatibility convention of §4.6.2.
	ExtraBody map[string]any `json:"extra_body,omitempty"`

	// ExtraContent carries the same field back on inbound responses; kept
	// raw since its only consumer is ThoughtSignatureFromExtraContent.
	ExtraContent json.RawMessage `json:"extra_content,omitempty"`
}

// ThoughtSignatureFromExtraContent extracts
// extra_content.google.thought_signature from a decoded tool call, per
// spec §4.7. raw may be nil (no field present).
func ThoughtSignatureFromExtraContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var wrapper struct {
		Google struct {
			ThoughtSignature string `json:"thought_signature"`
		} `json:"google"`
	}
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return ""
	}
	return wrapper.Google.ThoughtSignature
}

// thoughtSignatureFromReasoningDetails is the legacy, message-level
// fallback location some OpenAI-compatible backends use instead of the
// per-tool-call extra_content field (spec §4.7).
func thoughtSignatureFromReasoningDetails(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var details []struct {
		ThoughtSignature string `json:"thought_signature"`
	}
	if err := json.Unmarshal(raw, &details); err != nil {
		return ""
	}
	for _, d := range details {
		if d.ThoughtSignature != "" {
			return d.ThoughtSignature
		}
	}
	return ""
}

type OpenAIFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openAIContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openAIImageURL `json:"image_url,omitempty"`
}

type openAIImageURL struct {
	URL string `json:"url"`
}

// RequestToOpenAI converts an llmtypes.Request (Anthropic-shaped messages,
// top-level system prompt, Anthropic tool definitions) into the OpenAI
// Chat Completions request body.
func RequestToOpenAI(req llmtypes.Request) map[string]any {
	var messages []OpenAIMessage
	if req.System != "" {
		messages = append(messages, OpenAIMessage{Role: "system", Content: req.System})
	}

	for _, msg := range req.Messages {
		messages = append(messages, messageToOpenAI(msg)...)
	}

	tools := make([]map[string]any, len(req.Tools))
	for i, t := range req.Tools {
		tools[i] = map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.InputSchema,
			},
		}
	}

	body := map[string]any{
		"model":    req.Model,
		"messages": messages,
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}
	if len(tools) > 0 {
		body["tools"] = tools
	}
	if req.ToolChoice != nil {
		body["tool_choice"] = ToolChoiceToOpenAI(*req.ToolChoice)
	}
	if len(req.StopSequences) > 0 {
		body["stop"] = req.StopSequences
	}
	if req.Temperature != nil {
		body["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		body["top_p"] = *req.TopP
	}
	return body
}

// ToolChoiceToOpenAI maps the Anthropic tool_choice shape to its OpenAI
// Chat Completions equivalent, per spec §4.6.1: auto→"auto", any→"required",
// {type:tool,name:X}→{type:function,function:{name:X}}.
func ToolChoiceToOpenAI(tc llmtypes.ToolChoice) any {
	switch tc.Type {
	case "auto":
		return "auto"
	case "any":
		return "required"
	case "none":
		return "none"
	case "tool":
		return map[string]any{
			"type":     "function",
			"function": map[string]any{"name": tc.Name},
		}
	default:
		return "auto"
	}
}

// messageToOpenAI converts one Anthropic-shaped message into the (possibly
// several) OpenAI messages it corresponds to: a message with tool_result
// blocks fans out into one "tool" role message per result, since OpenAI
// has no multi-result message shape.
func messageToOpenAI(msg llmtypes.Message) []OpenAIMessage {
	switch content := msg.Content.(type) {
	case string:
		return []OpenAIMessage{{Role: msg.Role, Content: content}}

	case []llmtypes.ContentBlock:
		var out []OpenAIMessage
		var parts []openAIContentPart
		var toolCalls []OpenAIToolCall
		var plainText strings.Builder

		flushAssistantParts := func() {
			if plainText.Len() == 0 && len(toolCalls) == 0 {
				return
			}
			m := OpenAIMessage{Role: msg.Role, ToolCalls: toolCalls}
			if plainText.Len() > 0 {
				m.Content = plainText.String()
			}
			out = append(out, m)
			toolCalls = nil
			plainText.Reset()
		}

		for _, block := range content {
			switch block.Type {
			case "text":
				if msg.Role == "user" {
					parts = append(parts, openAIContentPart{Type: "text", Text: block.Text})
				} else {
					plainText.WriteString(block.Text)
				}

			case "image":
				if block.Source != nil {
					url := block.Source.URL
					if url == "" && block.Source.Data != "" {
						url = fmt.Sprintf("data:%s;base64,%s", block.Source.MediaType, block.Source.Data)
					}
					parts = append(parts, openAIContentPart{Type: "image_url", ImageURL: &openAIImageURL{URL: url}})
				}

			case "tool_use":
				args, _ := json.Marshal(block.Input)
				tc := OpenAIToolCall{
					ID:   block.ID,
					Type: "function",
					Function: OpenAIFunctionCall{
						Name:      block.Name,
						Arguments: string(args),
					},
				}
				if block.ThoughtSignature != "" {
					tc.ExtraBody = map[string]any{
						"google": map[string]any{"thought_signature": block.ThoughtSignature},
					}
				}
				toolCalls = append(toolCalls, tc)

			case "tool_result":
				out = append(out, OpenAIMessage{
					Role:       "tool",
					ToolCallID: block.ToolUseID,
					Content:    block.Content,
				})
			}
		}

		flushAssistantParts()

		if len(parts) > 0 {
			out = append([]OpenAIMessage{{Role: msg.Role, Content: parts}}, out...)
		} else if msg.Role == "user" && len(out) == 0 {
			out = append(out, OpenAIMessage{Role: msg.Role})
		}

		return out

	default:
		return []OpenAIMessage{{Role: msg.Role, Content: content}}
	}
}

// ResponseFromOpenAI converts a decoded OpenAI chat-completion choice back
// into the provider-neutral Response shape. reasoningDetails is the
// message-level fallback thought-signature location (nil if absent).
func ResponseFromOpenAI(content string, toolCalls []OpenAIToolCall, reasoningDetails json.RawMessage, finishReason string, usage llmtypes.Usage) *llmtypes.Response {
	resp := &llmtypes.Response{
		Content:    content,
		StopReason: StopReasonFromOpenAI(finishReason),
		Usage:      usage,
	}
	fallbackSig := thoughtSignatureFromReasoningDetails(reasoningDetails)
	for _, tc := range toolCalls {
		args := map[string]any{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				slog.Debug("translate: tool call arguments are not valid JSON", "tool_call_id", tc.ID, "error", err)
				args = map[string]any{}
			}
		}
		sig := ThoughtSignatureFromExtraContent(tc.ExtraContent)
		if sig == "" {
			sig = fallbackSig
		}
		resp.ToolCalls = append(resp.ToolCalls, llmtypes.ToolCall{
			ID:               tc.ID,
			Name:             tc.Function.Name,
			Arguments:        args,
			ThoughtSignature: sig,
		})
	}
	return resp
}

// StopReasonFromOpenAI maps an OpenAI finish_reason to the Anthropic
// stop_reason vocabulary the client-facing API speaks.
func StopReasonFromOpenAI(finishReason string) string {
	switch finishReason {
	case "stop":
		return "end_turn"
	case "length":
		return "max_tokens"
	case "tool_calls", "function_call":
		return "tool_use"
	case "content_filter":
		return "stop_sequence"
	case "":
		return ""
	default:
		return "end_turn"
	}
}
