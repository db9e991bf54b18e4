// Package anthropic is the upstream client for providers that speak the
// native Anthropic Messages wire format directly (no translation needed
// on the way out — the inbound AnthropicRequest passes through almost
// unchanged, only re-homed with this provider's credentials and base URL).
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/worldline-go/klient"

	"github.com/elifarley/vandamme-proxy/internal/credential"
	"github.com/elifarley/vandamme-proxy/internal/llmtypes"
	"github.com/elifarley/vandamme-proxy/internal/sse"
)

const DefaultBaseURL = "https://api.anthropic.com"
const apiVersion = "2023-06-01"

// Client talks to an Anthropic-wire upstream. Credentials are fetched
// fresh from Source on every call rather than baked into the klient
// headers, so a single Client can serve both static-key rotation and
// OAuth access tokens.
type Client struct {
	Source credential.Source
	Model  string

	http *klient.Client
}

func New(baseURL, proxy string, insecureSkipVerify bool, source credential.Source, model string) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	opts := []klient.OptionClientFn{
		klient.WithBaseURL(baseURL),
		klient.WithLogger(slog.Default()),
		klient.WithHeaderSet(http.Header{
			"Anthropic-Version": []string{apiVersion},
			"Content-Type":      []string{"application/json"},
		}),
	}
	if proxy != "" {
		opts = append(opts, klient.WithProxy(proxy))
	}
	if insecureSkipVerify {
		opts = append(opts, klient.WithInsecureSkipVerify(true))
	}

	c, err := klient.New(opts...)
	if err != nil {
		return nil, err
	}

	return &Client{Source: source, Model: model, http: c}, nil
}

type wireResponse struct {
	ID         string      `json:"id"`
	Type       string      `json:"type"`
	Error      *wireError  `json:"error,omitempty"`
	Role       string      `json:"role"`
	Content    []wireBlock `json:"content"`
	Model      string      `json:"model"`
	StopReason string      `json:"stop_reason"`
	Usage      wireUsage   `json:"usage"`
}

type wireError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type wireBlock struct {
	Type  string         `json:"type"`
	Text  string         `json:"text"`
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

type wireUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func (c *Client) buildBody(req llmtypes.Request) map[string]any {
	tools := make([]map[string]any, len(req.Tools))
	for i, t := range req.Tools {
		tools[i] = map[string]any{
			"name":         t.Name,
			"description":  t.Description,
			"input_schema": t.InputSchema,
		}
	}

	model := req.Model
	if model == "" {
		model = c.Model
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	body := map[string]any{
		"model":      model,
		"max_tokens": maxTokens,
		"messages":   req.Messages,
	}
	if req.System != "" {
		body["system"] = req.System
	}
	if len(req.Tools) > 0 {
		body["tools"] = tools
	}
	if req.ToolChoice != nil {
		switch req.ToolChoice.Type {
		case "tool":
			body["tool_choice"] = map[string]any{"type": "tool", "name": req.ToolChoice.Name}
		default:
			body["tool_choice"] = map[string]any{"type": req.ToolChoice.Type}
		}
	}
	if len(req.StopSequences) > 0 {
		body["stop_sequences"] = req.StopSequences
	}
	if req.Temperature != nil {
		body["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		body["top_p"] = *req.TopP
	}
	return body
}

func (c *Client) authorize(ctx context.Context, httpReq *http.Request) error {
	key, err := c.Source(ctx)
	if err != nil {
		return fmt.Errorf("anthropic client: fetch credential: %w", err)
	}
	httpReq.Header.Set("X-Api-Key", key)
	return nil
}

// Send issues a blocking (non-streaming) request.
func (c *Client) Send(ctx context.Context, req llmtypes.Request) (*llmtypes.Response, error) {
	body := c.buildBody(req)
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("anthropic client: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, "/v1/messages", bytes.NewBuffer(data))
	if err != nil {
		return nil, err
	}
	if err := c.authorize(ctx, httpReq); err != nil {
		return nil, err
	}

	var result wireResponse
	var headers http.Header
	if err := c.http.Do(httpReq, func(r *http.Response) error {
		headers = r.Header
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(raw, &result); err != nil {
			return fmt.Errorf("decode response: %w (body: %s)", err, string(raw))
		}
		return nil
	}); err != nil {
		return nil, err
	}

	if result.Type == "error" && result.Error != nil {
		return nil, fmt.Errorf("anthropic upstream error: %s", result.Error.Message)
	}

	resp := &llmtypes.Response{
		StopReason: result.StopReason,
		Header:     headers,
		Usage: llmtypes.Usage{
			PromptTokens:     result.Usage.InputTokens,
			CompletionTokens: result.Usage.OutputTokens,
			TotalTokens:      result.Usage.InputTokens + result.Usage.OutputTokens,
		},
	}

	for _, block := range result.Content {
		switch block.Type {
		case "text":
			resp.Content += block.Text
		case "tool_use":
			resp.ToolCalls = append(resp.ToolCalls, llmtypes.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: block.Input,
			})
		}
	}

	return resp, nil
}

// ─── Streaming (passthrough) ───

type textDelta struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type toolInputDelta struct {
	Type        string `json:"type"`
	PartialJSON string `json:"partial_json"`
}

type messageDeltaBody struct {
	Delta struct {
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
	Usage *wireUsage `json:"usage,omitempty"`
}

type streamEventEnvelope struct {
	Type         string          `json:"type"`
	Delta        json.RawMessage `json:"delta,omitempty"`
	ContentBlock *wireBlock      `json:"content_block,omitempty"`
}

// StreamPassthrough issues a streaming request and forwards every SSE
// record to the caller unchanged (spec §4.6.5): the proxy is already
// Anthropic-shaped on this path, so no re-serialization is needed. Each
// record is also best-effort parsed into an llmtypes.StreamChunk so
// middleware can observe deltas; malformed records are still forwarded via
// Raw but carry a nil Chunk and are not routed to middleware.
func (c *Client) StreamPassthrough(ctx context.Context, req llmtypes.Request) (<-chan llmtypes.RawEvent, http.Header, error) {
	body := c.buildBody(req)
	body["stream"] = true

	data, err := json.Marshal(body)
	if err != nil {
		return nil, nil, fmt.Errorf("anthropic client: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, "/v1/messages", bytes.NewBuffer(data))
	if err != nil {
		return nil, nil, err
	}
	if err := c.authorize(ctx, httpReq); err != nil {
		return nil, nil, err
	}

	resp, err := c.http.HTTP.Do(httpReq)
	if err != nil {
		return nil, nil, fmt.Errorf("anthropic client: streaming request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(resp.Body)
		return nil, nil, fmt.Errorf("anthropic upstream returned status %d: %s", resp.StatusCode, string(raw))
	}

	ch := make(chan llmtypes.RawEvent, 64)

	go func() {
		defer close(ch)
		defer resp.Body.Close()

		var currentToolID, currentToolName string
		var toolInputBuf []byte
		var inputTokens, outputTokens int

		err := sse.ReadFrames(resp.Body, func(f sse.Frame) error {
			out := llmtypes.RawEvent{Raw: f.Raw}
			defer func() { ch <- out }()

			if f.Data == "" {
				return nil
			}

			var env streamEventEnvelope
			if err := json.Unmarshal([]byte(f.Data), &env); err != nil {
				sse.LogUnparseable("anthropic", f.Data, err)
				return nil
			}

			switch env.Type {
			case "content_block_start":
				if env.ContentBlock != nil && env.ContentBlock.Type == "tool_use" {
					currentToolID = env.ContentBlock.ID
					currentToolName = env.ContentBlock.Name
					toolInputBuf = toolInputBuf[:0]
				}
				out.Chunk = &llmtypes.StreamChunk{}

			case "content_block_delta":
				if len(env.Delta) == 0 {
					return nil
				}
				var td textDelta
				if err := json.Unmarshal(env.Delta, &td); err == nil && td.Type == "text_delta" {
					out.Chunk = &llmtypes.StreamChunk{TextDelta: td.Text}
					return nil
				}
				var tid toolInputDelta
				if err := json.Unmarshal(env.Delta, &tid); err == nil && tid.Type == "input_json_delta" {
					toolInputBuf = append(toolInputBuf, tid.PartialJSON...)
					out.Chunk = &llmtypes.StreamChunk{ToolCallDeltas: []llmtypes.ToolCallDelta{{
						ID: currentToolID, Name: currentToolName, ArgumentsDelta: tid.PartialJSON,
					}}}
				}

			case "content_block_stop":
				if currentToolID != "" {
					currentToolID, currentToolName = "", ""
					toolInputBuf = toolInputBuf[:0]
				}
				out.Chunk = &llmtypes.StreamChunk{}

			case "message_delta":
				if len(env.Delta) == 0 {
					return nil
				}
				var md messageDeltaBody
				raw := []byte(f.Data)
				if err := json.Unmarshal(raw, &md); err == nil {
					if md.Usage != nil {
						outputTokens = md.Usage.OutputTokens
					}
					out.Chunk = &llmtypes.StreamChunk{StopReason: md.Delta.StopReason}
				}

			case "message_stop":
				out.Chunk = &llmtypes.StreamChunk{Usage: &llmtypes.Usage{
					PromptTokens:     inputTokens,
					CompletionTokens: outputTokens,
					TotalTokens:      inputTokens + outputTokens,
				}}

			case "error":
				var errMsg struct {
					Error wireError `json:"error"`
				}
				if err := json.Unmarshal([]byte(f.Data), &errMsg); err == nil {
					out.Chunk = &llmtypes.StreamChunk{Error: fmt.Errorf("anthropic error: %s", errMsg.Error.Message)}
				}
			}
			return nil
		})
		if err != nil {
			ch <- llmtypes.RawEvent{Err: fmt.Errorf("stream read error: %w", err)}
		}
	}()

	return ch, resp.Header, nil
}
