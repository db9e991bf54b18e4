package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/elifarley/vandamme-proxy/internal/apierror"
	"github.com/elifarley/vandamme-proxy/internal/llmtypes"
	"github.com/elifarley/vandamme-proxy/internal/sse"
	"github.com/elifarley/vandamme-proxy/internal/wire"
)

// clientKey extracts the caller-supplied credential from either the
// x-api-key header or an "Authorization: Bearer ..." header, per spec
// §6.1.
func clientKey(r *http.Request) string {
	if k := r.Header.Get("x-api-key"); k != "" {
		return k
	}
	auth := r.Header.Get("Authorization")
	return strings.TrimPrefix(auth, "Bearer ")
}

// Messages handles POST /v1/messages: the client-facing entry point for
// both unary and streaming requests (spec §4.9, §6.1).
func (s *Server) Messages(w http.ResponseWriter, r *http.Request) {
	if !s.orch.Authenticate(clientKey(r)) {
		httpResponseError(w, apierror.New(apierror.Unauthorized, "invalid or missing API key"))
		return
	}

	var anthropicReq wire.AnthropicRequest
	if err := json.NewDecoder(r.Body).Decode(&anthropicReq); err != nil {
		httpResponseError(w, apierror.Wrap(apierror.InvalidRequest, "malformed request body", err))
		return
	}
	if anthropicReq.MaxTokens <= 0 {
		httpResponseError(w, apierror.New(apierror.InvalidRequest, "max_tokens is required"))
		return
	}

	providerKey, actualModel, err := s.orch.ResolveModel(anthropicReq.Model)
	if err != nil {
		httpResponseError(w, apierror.Wrap(apierror.InvalidRequest, err.Error(), err))
		return
	}

	req, err := anthropicReq.ToRequest()
	if err != nil {
		httpResponseError(w, apierror.Wrap(apierror.InvalidRequest, "failed to decode request content", err))
		return
	}
	req.Model = actualModel

	conversationID := anthropicReq.ConversationID()

	if anthropicReq.Stream {
		s.streamMessages(w, r, providerKey, req, conversationID)
		return
	}

	resp, aerr := s.orch.Unary(r.Context(), providerKey, req, conversationID)
	if aerr != nil {
		httpResponseError(w, aerr)
		return
	}

	out := wire.ResponseFromLLM(ulid.Make().String(), anthropicReq.Model, resp)
	httpResponseJSON(w, out, http.StatusOK)
}

func (s *Server) streamMessages(w http.ResponseWriter, r *http.Request, providerKey string, req llmtypes.Request, conversationID string) {
	sw, err := sse.NewWriter(w)
	if err != nil {
		httpResponseError(w, apierror.New(apierror.Internal, "streaming not supported by this server"))
		return
	}

	if aerr := s.orch.Stream(r.Context(), providerKey, req, conversationID, sw); aerr != nil {
		// No bytes may have reached the client yet only if the failure
		// occurred before dispatch (provider resolution, before_request
		// middleware); Orchestrator.Stream reports those via the returned
		// error rather than writing an SSE frame itself, so it is still
		// safe to fall back to a JSON error envelope here.
		httpResponseError(w, aerr)
	}
}

// CountTokens handles POST /v1/messages/count_tokens: a character-based
// estimate (~4 chars/token) over the flattened message text, per spec
// §6.1. Exact tokenization is out of scope for the core (spec §1).
func (s *Server) CountTokens(w http.ResponseWriter, r *http.Request) {
	if !s.orch.Authenticate(clientKey(r)) {
		httpResponseError(w, apierror.New(apierror.Unauthorized, "invalid or missing API key"))
		return
	}

	var anthropicReq wire.AnthropicRequest
	if err := json.NewDecoder(r.Body).Decode(&anthropicReq); err != nil {
		httpResponseError(w, apierror.Wrap(apierror.InvalidRequest, "malformed request body", err))
		return
	}

	req, err := anthropicReq.ToRequest()
	if err != nil {
		httpResponseError(w, apierror.Wrap(apierror.InvalidRequest, "failed to decode request content", err))
		return
	}

	chars := len(req.System)
	for _, msg := range req.Messages {
		chars += flattenedLen(msg.Content)
	}

	tokens := chars / 4
	if tokens == 0 && chars > 0 {
		tokens = 1
	}
	httpResponseJSON(w, map[string]any{"input_tokens": tokens}, http.StatusOK)
}

func flattenedLen(content any) int {
	switch c := content.(type) {
	case string:
		return len(c)
	case []llmtypes.ContentBlock:
		n := 0
		for _, b := range c {
			n += len(b.Text) + len(b.Content)
		}
		return n
	default:
		return 0
	}
}

// ListModels handles GET /v1/models: the union of configured providers'
// static model lists (spec §6.1). The disk cache of live model catalogues
// and top-model curation the original system layers on top are out of
// scope for the core (spec §1) — this is the trivial, interface-only
// replacement.
func (s *Server) ListModels(w http.ResponseWriter, r *http.Request) {
	providerFilter := r.URL.Query().Get("provider")
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "anthropic"
	}

	type modelEntry struct {
		ID       string `json:"id"`
		Provider string `json:"owned_by"`
	}
	var models []modelEntry

	for _, desc := range s.orch.Registry.List() {
		if providerFilter != "" && providerFilter != desc.Name {
			continue
		}
		names := desc.Models
		if len(names) == 0 && desc.Model != "" {
			names = []string{desc.Model}
		}
		for _, m := range names {
			models = append(models, modelEntry{ID: desc.Name + ":" + m, Provider: desc.Name})
		}
	}
	if models == nil {
		models = []modelEntry{}
	}

	switch format {
	case "raw":
		httpResponseJSON(w, models, http.StatusOK)
	case "openai":
		type openAIModel struct {
			ID      string `json:"id"`
			Object  string `json:"object"`
			OwnedBy string `json:"owned_by"`
		}
		out := make([]openAIModel, len(models))
		for i, m := range models {
			out[i] = openAIModel{ID: m.ID, Object: "model", OwnedBy: m.Provider}
		}
		httpResponseJSON(w, map[string]any{"object": "list", "data": out}, http.StatusOK)
	default: // "anthropic"
		type anthropicModel struct {
			ID          string `json:"id"`
			Type        string `json:"type"`
			DisplayName string `json:"display_name"`
		}
		out := make([]anthropicModel, len(models))
		for i, m := range models {
			out[i] = anthropicModel{ID: m.ID, Type: "model", DisplayName: m.ID}
		}
		httpResponseJSON(w, map[string]any{"data": out}, http.StatusOK)
	}
}
