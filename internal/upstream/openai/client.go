// Package openai is the upstream client for providers that speak the
// OpenAI Chat Completions wire format. Outbound requests and inbound
// responses are converted through internal/translate, since the rest of
// the proxy works in the Anthropic-shaped llmtypes model.
package openai

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
	"github.com/elifarley/vandamme-proxy/internal/translate"
)

const DefaultBaseURL = "https://api.openai.com/v1/chat/completions"

// Client talks to an OpenAI Chat Completions-compatible upstream.
type Client struct {
	Source       credential.Source
	Model        string
	BaseURL      string
	ExtraHeaders map[string]string

	http *klient.Client
}

func New(baseURL, proxy string, insecureSkipVerify bool, extraHeaders map[string]string, source credential.Source, model string) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	headers := http.Header{"Content-Type": []string{"application/json"}}
	for k, v := range extraHeaders {
		headers[k] = []string{v}
	}

	opts := []klient.OptionClientFn{
		klient.WithBaseURL(baseURL),
		klient.WithLogger(slog.Default()),
		klient.WithHeaderSet(headers),
		klient.WithDisableRetry(true),
		klient.WithDisableEnvValues(true),
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

	return &Client{Source: source, Model: model, BaseURL: baseURL, ExtraHeaders: extraHeaders, http: c}, nil
}

type wireResponse struct {
	Error   *wireError   `json:"error,omitempty"`
	Choices []wireChoice `json:"choices"`
	Usage   *wireUsage   `json:"usage,omitempty"`
}

type wireError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

type wireUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type wireChoice struct {
	Message      wireChoiceMessage `json:"message"`
	FinishReason string            `json:"finish_reason"`
}

type wireChoiceMessage struct {
	Content         string                     `json:"content"`
	ToolCalls       []translate.OpenAIToolCall `json:"tool_calls"`
	ReasoningDetail json.RawMessage            `json:"reasoning_details,omitempty"`
}

func (c *Client) model(req llmtypes.Request) string {
	if req.Model != "" {
		return req.Model
	}
	return c.Model
}

func (c *Client) authorize(ctx context.Context, httpReq *http.Request) error {
	key, err := c.Source(ctx)
	if err != nil {
		return fmt.Errorf("openai client: fetch credential: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+key)
	return nil
}

// Send issues a blocking (non-streaming) request.
func (c *Client) Send(ctx context.Context, req llmtypes.Request) (*llmtypes.Response, error) {
	req.Model = c.model(req)
	body := translate.RequestToOpenAI(req)

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("openai client: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, "", bytes.NewBuffer(data))
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

	if result.Error != nil {
		return nil, fmt.Errorf("openai upstream error: %s", result.Error.Message)
	}
	if len(result.Choices) == 0 {
		return nil, fmt.Errorf("openai client: no choices in response")
	}

	choice := result.Choices[0]
	var usage llmtypes.Usage
	if result.Usage != nil {
		usage = llmtypes.Usage{
			PromptTokens:     result.Usage.PromptTokens,
			CompletionTokens: result.Usage.CompletionTokens,
			TotalTokens:      result.Usage.TotalTokens,
		}
	}

	resp := translate.ResponseFromOpenAI(choice.Message.Content, choice.Message.ToolCalls, choice.Message.ReasoningDetail, choice.FinishReason, usage)
	resp.Header = headers
	return resp, nil
}

// ─── Streaming ───

type streamChoice struct {
	Delta        streamDelta `json:"delta"`
	FinishReason *string     `json:"finish_reason"`
}

type streamDelta struct {
	Content   string                     `json:"content,omitempty"`
	ToolCalls []translate.OpenAIToolCall `json:"tool_calls,omitempty"`
}

type streamResponse struct {
	Error   *wireError     `json:"error,omitempty"`
	Choices []streamChoice `json:"choices"`
	Usage   *wireUsage     `json:"usage,omitempty"`
}

// Stream issues a streaming request and emits raw, format-neutral
// llmtypes.StreamChunk deltas: text fragments as-is, tool-call argument
// fragments unparsed (the C6 state machine forwards each one as an
// input_json_delta; the receiver concatenates and parses them at
// content_block_stop), so no information is lost to an early, isolated
// json.Unmarshal of a partial argument string.
func (c *Client) Stream(ctx context.Context, req llmtypes.Request) (<-chan llmtypes.StreamChunk, http.Header, error) {
	req.Model = c.model(req)
	body := translate.RequestToOpenAI(req)
	body["stream"] = true
	body["stream_options"] = map[string]any{"include_usage": true}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, nil, fmt.Errorf("openai client: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewBuffer(data))
	if err != nil {
		return nil, nil, err
	}
	if err := c.authorize(ctx, httpReq); err != nil {
		return nil, nil, err
	}

	resp, err := c.http.HTTP.Do(httpReq)
	if err != nil {
		return nil, nil, fmt.Errorf("openai client: streaming request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(resp.Body)
		return nil, nil, fmt.Errorf("openai upstream returned status %d: %s", resp.StatusCode, string(raw))
	}

	ch := make(chan llmtypes.StreamChunk, 64)

	go func() {
		defer close(ch)
		defer resp.Body.Close()

		err := sse.ReadFrames(resp.Body, func(f sse.Frame) error {
			if f.Data == "" {
				return nil
			}
			if f.Data == "[DONE]" {
				return io.EOF // sentinel to stop the scan cleanly
			}

			var sr streamResponse
			if err := json.Unmarshal([]byte(f.Data), &sr); err != nil {
				sse.LogUnparseable("openai", f.Data, err)
				return nil
			}
			if sr.Error != nil {
				ch <- llmtypes.StreamChunk{Error: fmt.Errorf("openai error: %s", sr.Error.Message)}
				return io.EOF
			}

			if len(sr.Choices) == 0 {
				if sr.Usage != nil {
					ch <- llmtypes.StreamChunk{Usage: &llmtypes.Usage{
						PromptTokens:     sr.Usage.PromptTokens,
						CompletionTokens: sr.Usage.CompletionTokens,
						TotalTokens:      sr.Usage.TotalTokens,
					}}
				}
				return nil
			}

			choice := sr.Choices[0]
			chunk := llmtypes.StreamChunk{TextDelta: choice.Delta.Content}
			for _, tc := range choice.Delta.ToolCalls {
				idx := 0
				if tc.Index != nil {
					idx = *tc.Index
				}
				chunk.ToolCallDeltas = append(chunk.ToolCallDeltas, llmtypes.ToolCallDelta{
					Index:            idx,
					ID:               tc.ID,
					Name:             tc.Function.Name,
					ArgumentsDelta:   tc.Function.Arguments,
					ThoughtSignature: translate.ThoughtSignatureFromExtraContent(tc.ExtraContent),
				})
			}
			if choice.FinishReason != nil {
				chunk.StopReason = translate.StopReasonFromOpenAI(*choice.FinishReason)
			}
			if sr.Usage != nil {
				chunk.Usage = &llmtypes.Usage{
					PromptTokens:     sr.Usage.PromptTokens,
					CompletionTokens: sr.Usage.CompletionTokens,
					TotalTokens:      sr.Usage.TotalTokens,
				}
			}

			ch <- chunk
			return nil
		})
		if err != nil && err != io.EOF {
			ch <- llmtypes.StreamChunk{Error: fmt.Errorf("stream read error: %w", err)}
		}
	}()

	return ch, resp.Header, nil
}
