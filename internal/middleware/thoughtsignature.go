package middleware

import (
	"context"
	"strings"

	"github.com/elifarley/vandamme-proxy/internal/llmtypes"
	"github.com/elifarley/vandamme-proxy/internal/thoughtcache"
)

// geminiMarker is the substring that identifies a Gemini-family model name
// (spec §4.7: "the target model name contains a Gemini marker").
const geminiMarker = "gemini"

func isGeminiModel(model string) bool {
	return strings.Contains(strings.ToLower(model), geminiMarker)
}

// ThoughtSignatureMiddleware restores cached Gemini thought signatures onto
// outbound tool_use blocks and captures them again from the upstream
// response, so reasoning continuity survives a client that strips the
// field when echoing tool calls back. Grounded on the teacher's
// cacheThoughtSignatures / lookupThoughtSignature pair
// (internal/server/server.go), generalized to the dual-indexed
// thoughtcache.Cache.
type ThoughtSignatureMiddleware struct {
	cache *thoughtcache.Cache
}

func NewThoughtSignatureMiddleware(cache *thoughtcache.Cache) *ThoughtSignatureMiddleware {
	return &ThoughtSignatureMiddleware{cache: cache}
}

// BeforeRequest attaches cached thought signatures onto every tool_use
// block of every assistant message, when the resolved model is
// Gemini-family and the cache holds a match for that message's tool_call
// id set.
func (m *ThoughtSignatureMiddleware) BeforeRequest(ctx context.Context, req *llmtypes.Request) (context.Context, error) {
	if !isGeminiModel(ModelFromContext(ctx)) {
		return ctx, nil
	}

	conversationID := ConversationIDFromContext(ctx)

	for i := range req.Messages {
		msg := &req.Messages[i]
		if msg.Role != "assistant" {
			continue
		}
		blocks, ok := msg.Content.([]llmtypes.ContentBlock)
		if !ok {
			continue
		}

		var ids []string
		for _, b := range blocks {
			if b.Type == "tool_use" && b.ID != "" {
				ids = append(ids, b.ID)
			}
		}
		if len(ids) == 0 {
			continue
		}

		artifacts, found := m.cache.Retrieve(ids, conversationID)
		if !found {
			continue
		}
		for j := range blocks {
			if blocks[j].Type != "tool_use" {
				continue
			}
			if sig, ok := artifacts[blocks[j].ID]; ok {
				blocks[j].ThoughtSignature = sig
			}
		}
		msg.Content = blocks
	}

	return ctx, nil
}

// AfterResponse stores any thought signatures present on the unary
// response's tool calls.
func (m *ThoughtSignatureMiddleware) AfterResponse(ctx context.Context, resp *llmtypes.Response) error {
	if !isGeminiModel(ModelFromContext(ctx)) {
		return nil
	}

	artifacts := make(map[string]string)
	var ids []string
	for _, tc := range resp.ToolCalls {
		if tc.ThoughtSignature != "" && tc.ID != "" {
			artifacts[tc.ID] = tc.ThoughtSignature
			ids = append(ids, tc.ID)
		}
	}
	if len(ids) > 0 {
		m.cache.Store(artifacts, ids, ConversationIDFromContext(ctx))
	}
	return nil
}

// OnStreamChunk accumulates thought signatures arriving piecemeal on
// streamed tool-call deltas into acc, for a single commit at
// OnStreamComplete.
func (m *ThoughtSignatureMiddleware) OnStreamChunk(ctx context.Context, chunk *llmtypes.StreamChunk, acc *StreamAccumulator) error {
	if !isGeminiModel(acc.Model) {
		return nil
	}
	for _, td := range chunk.ToolCallDeltas {
		if td.ID == "" {
			continue
		}
		acc.AddToolCallID(td.ID)
		if td.ThoughtSignature != "" {
			if acc.Artifacts == nil {
				acc.Artifacts = make(map[string]string)
			}
			acc.Artifacts[td.ID] = td.ThoughtSignature
		}
	}
	return nil
}

// OnStreamComplete commits whatever thought signatures were accumulated
// over the stream's lifetime into the cache.
func (m *ThoughtSignatureMiddleware) OnStreamComplete(ctx context.Context, acc *StreamAccumulator) {
	if !isGeminiModel(acc.Model) || len(acc.Artifacts) == 0 {
		return
	}
	m.cache.Store(acc.Artifacts, acc.ToolCallIDs, acc.ConversationID)
}
