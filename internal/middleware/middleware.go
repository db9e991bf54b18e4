// Package middleware implements the proxy's pluggable before/after hook
// chain (spec §4.7). Concrete middlewares implement whichever hook
// interfaces apply to them and are type-asserted at call time, the same
// optional-capability idiom the teacher uses for provider features
// (`sp, ok := provider.(service.LLMStreamProvider)` in
// internal/server/gateway.go).
package middleware

import (
	"context"
	"log/slog"

	"github.com/elifarley/vandamme-proxy/internal/llmtypes"
)

// BeforeRequestHook runs once per request before dispatch. It may mutate
// req in place and return an enriched context; an error is fatal and is
// surfaced to the client without reaching the upstream.
type BeforeRequestHook interface {
	BeforeRequest(ctx context.Context, req *llmtypes.Request) (context.Context, error)
}

// AfterResponseHook runs once per unary (non-streaming) response.
type AfterResponseHook interface {
	AfterResponse(ctx context.Context, resp *llmtypes.Response) error
}

// StreamChunkHook observes (and may mutate) every translated chunk of a
// streaming response. A hook error is logged and the chunk is forwarded
// unchanged — stream integrity takes priority over a misbehaving
// middleware (spec §4.7).
type StreamChunkHook interface {
	OnStreamChunk(ctx context.Context, chunk *llmtypes.StreamChunk, acc *StreamAccumulator) error
}

// StreamCompleteHook runs exactly once per stream, after the terminal
// event or a failure, regardless of outcome.
type StreamCompleteHook interface {
	OnStreamComplete(ctx context.Context, acc *StreamAccumulator)
}

// StreamAccumulator carries the per-stream state a middleware builds up
// across OnStreamChunk calls for use at OnStreamComplete. One instance is
// created per streaming request and is only ever touched from the
// goroutine driving that stream's read loop, so it needs no locking.
type StreamAccumulator struct {
	Model          string
	ConversationID string

	// ToolCallIDs is the de-duplicated, first-seen-order list of tool call
	// ids observed on this stream.
	ToolCallIDs []string

	// Artifacts maps tool_call_id -> thought signature, accumulated from
	// streamed deltas.
	Artifacts map[string]string

	Err error
}

// AddToolCallID appends id to ToolCallIDs if not already present.
func (a *StreamAccumulator) AddToolCallID(id string) {
	if id == "" {
		return
	}
	for _, existing := range a.ToolCallIDs {
		if existing == id {
			return
		}
	}
	a.ToolCallIDs = append(a.ToolCallIDs, id)
}

// Chain runs the registered middlewares' hooks in registration order.
type Chain struct {
	middlewares []any
}

// NewChain builds a Chain from an ordered list of middlewares. Each element
// is expected to implement at least one of the Hook interfaces above.
func NewChain(middlewares ...any) *Chain {
	return &Chain{middlewares: middlewares}
}

// BeforeRequest runs every registered BeforeRequestHook in order, threading
// the context through each call. It stops and returns the first error.
func (c *Chain) BeforeRequest(ctx context.Context, req *llmtypes.Request) (context.Context, error) {
	for _, m := range c.middlewares {
		hook, ok := m.(BeforeRequestHook)
		if !ok {
			continue
		}
		var err error
		ctx, err = hook.BeforeRequest(ctx, req)
		if err != nil {
			return ctx, err
		}
	}
	return ctx, nil
}

// AfterResponse runs every registered AfterResponseHook in order, stopping
// and returning the first error.
func (c *Chain) AfterResponse(ctx context.Context, resp *llmtypes.Response) error {
	for _, m := range c.middlewares {
		hook, ok := m.(AfterResponseHook)
		if !ok {
			continue
		}
		if err := hook.AfterResponse(ctx, resp); err != nil {
			return err
		}
	}
	return nil
}

// OnStreamChunk runs every registered StreamChunkHook. A hook error is
// logged and never aborts the chunk delivery — callers get chunk back
// regardless.
func (c *Chain) OnStreamChunk(ctx context.Context, chunk *llmtypes.StreamChunk, acc *StreamAccumulator) {
	for _, m := range c.middlewares {
		hook, ok := m.(StreamChunkHook)
		if !ok {
			continue
		}
		if err := hook.OnStreamChunk(ctx, chunk, acc); err != nil {
			slog.Warn("middleware: stream chunk hook failed", "error", err)
		}
	}
}

// OnStreamComplete runs every registered StreamCompleteHook, unconditionally
// and in order.
func (c *Chain) OnStreamComplete(ctx context.Context, acc *StreamAccumulator) {
	for _, m := range c.middlewares {
		hook, ok := m.(StreamCompleteHook)
		if !ok {
			continue
		}
		hook.OnStreamComplete(ctx, acc)
	}
}

type ctxKey int

const (
	keyModel ctxKey = iota
	keyConversationID
)

// WithModel attaches the resolved model name to ctx, for middlewares that
// key their behavior off it (e.g. the Gemini-family check).
func WithModel(ctx context.Context, model string) context.Context {
	return context.WithValue(ctx, keyModel, model)
}

// ModelFromContext returns the model name attached by WithModel, or "".
func ModelFromContext(ctx context.Context) string {
	v, _ := ctx.Value(keyModel).(string)
	return v
}

// WithConversationID attaches an optional client-supplied conversation id
// to ctx, used to scope thought-signature cache lookups.
func WithConversationID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, keyConversationID, id)
}

// ConversationIDFromContext returns the conversation id attached by
// WithConversationID, or "" if none was set.
func ConversationIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(keyConversationID).(string)
	return v
}
