// Package orchestrator implements the per-request state machine described
// in spec §4.9: resolve provider, acquire a client, run the before_request
// middleware hooks, dispatch to the upstream (unary or streaming, openai-
// wire or anthropic-wire), and drive the response back through the
// middleware chain and the streaming state machine. It has no knowledge of
// HTTP; internal/server decodes the wire request and writes the wire
// response around a call to Unary or Stream.
package orchestrator

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/elifarley/vandamme-proxy/internal/apierror"
	"github.com/elifarley/vandamme-proxy/internal/clientfactory"
	"github.com/elifarley/vandamme-proxy/internal/config"
	"github.com/elifarley/vandamme-proxy/internal/llmtypes"
	"github.com/elifarley/vandamme-proxy/internal/middleware"
	"github.com/elifarley/vandamme-proxy/internal/registry"
	"github.com/elifarley/vandamme-proxy/internal/sse"
	"github.com/elifarley/vandamme-proxy/internal/translate"
)

// Orchestrator ties the registry, client factory, and middleware chain
// together behind the per-request pipeline.
type Orchestrator struct {
	Registry *registry.Registry
	Clients  *clientfactory.Factory
	Chain    *middleware.Chain

	ProxyKeys        []string
	ConstantTimeAuth bool
}

func New(reg *registry.Registry, clients *clientfactory.Factory, chain *middleware.Chain, gw config.Gateway) *Orchestrator {
	return &Orchestrator{
		Registry:         reg,
		Clients:          clients,
		Chain:            chain,
		ProxyKeys:        gw.AuthTokens,
		ConstantTimeAuth: gw.ConstantTimeAuth,
	}
}

// Authenticate checks a client-supplied key against the configured proxy
// keys. With no keys configured, every request is accepted (spec §4.9 step
// 2: "if a proxy-side expected key is configured ... else accept").
func (o *Orchestrator) Authenticate(key string) bool {
	if len(o.ProxyKeys) == 0 {
		return true
	}

	if o.ConstantTimeAuth {
		// Scan every configured key regardless of an early match, so the
		// number of keys compared does not leak which (if any) matched.
		var matched int
		for _, want := range o.ProxyKeys {
			if subtle.ConstantTimeCompare([]byte(key), []byte(want)) == 1 {
				matched = 1
			}
		}
		return matched == 1
	}

	for _, want := range o.ProxyKeys {
		if key == want {
			return true
		}
	}
	return false
}

// ResolveModel splits a client model string into (providerKey, model) via
// the registry's default-provider rules.
func (o *Orchestrator) ResolveModel(model string) (providerKey, actualModel string, err error) {
	return registry.ParseModelID(o.Registry, model)
}

// resolve looks up the provider descriptor and its client, mapping
// failures to the spec's closed error-kind set.
func (o *Orchestrator) resolve(providerKey string) (registry.Descriptor, llmtypes.Client, *apierror.Error) {
	desc, ok := o.Registry.Lookup(providerKey)
	if !ok {
		return registry.Descriptor{}, nil, apierror.New(apierror.NotFound, fmt.Sprintf("unknown provider %q", providerKey))
	}

	client, err := o.Clients.Client(providerKey)
	if err != nil {
		return desc, nil, apierror.Wrap(apierror.ServiceUnavailable, fmt.Sprintf("provider %q is not available", providerKey), err)
	}
	return desc, client, nil
}

// Unary runs the full pipeline for a non-streaming request.
func (o *Orchestrator) Unary(ctx context.Context, providerKey string, req llmtypes.Request, conversationID string) (*llmtypes.Response, *apierror.Error) {
	desc, client, aerr := o.resolve(providerKey)
	if aerr != nil {
		return nil, aerr
	}

	ctx = middleware.WithModel(ctx, req.Model)
	ctx = middleware.WithConversationID(ctx, conversationID)

	applyMaxTokensCap(&req, desc.MaxTokensCap)

	var err error
	ctx, err = o.Chain.BeforeRequest(ctx, &req)
	if err != nil {
		return nil, apierror.Wrap(apierror.Internal, "request preprocessing failed", err)
	}

	resp, err := client.Send(ctx, req)
	if err != nil {
		return nil, classifyDispatchError(err)
	}

	if err := o.Chain.AfterResponse(ctx, resp); err != nil {
		return nil, apierror.Wrap(apierror.Internal, "response postprocessing failed", err)
	}

	return resp, nil
}

// Stream runs the full pipeline for a streaming request, writing Anthropic
// SSE events to sw as they are produced. It never returns a partially
// written error envelope: once the first byte is flushed, failures are
// reported as an SSE error event, per spec §7.
func (o *Orchestrator) Stream(ctx context.Context, providerKey string, req llmtypes.Request, conversationID string, sw *sse.Writer) *apierror.Error {
	desc, client, aerr := o.resolve(providerKey)
	if aerr != nil {
		return aerr
	}

	ctx = middleware.WithModel(ctx, req.Model)
	ctx = middleware.WithConversationID(ctx, conversationID)

	applyMaxTokensCap(&req, desc.MaxTokensCap)

	acc := &middleware.StreamAccumulator{Model: req.Model, ConversationID: conversationID}

	var err error
	ctx, err = o.Chain.BeforeRequest(ctx, &req)
	// Deferred after BeforeRequest so completion hooks see its context, and
	// before the error check so a failed before_request is still followed
	// by exactly one OnStreamComplete.
	defer func() { o.Chain.OnStreamComplete(ctx, acc) }()
	if err != nil {
		aerr := apierror.Wrap(apierror.Internal, "request preprocessing failed", err)
		acc.Err = aerr
		return aerr
	}

	switch desc.APIFormat {
	case config.APIFormatOpenAI:
		return o.streamOpenAI(ctx, client, req, sw, acc)
	case config.APIFormatAnthropic, config.APIFormatPassthrough:
		return o.streamPassthrough(ctx, client, req, sw, acc)
	default:
		aerr := apierror.New(apierror.Internal, fmt.Sprintf("provider %q has unsupported api format %q", providerKey, desc.APIFormat))
		acc.Err = aerr
		return aerr
	}
}

func (o *Orchestrator) streamOpenAI(ctx context.Context, client llmtypes.Client, req llmtypes.Request, sw *sse.Writer, acc *middleware.StreamAccumulator) *apierror.Error {
	streamClient, ok := client.(llmtypes.StreamClient)
	if !ok {
		aerr := apierror.New(apierror.Internal, "openai-wire provider does not implement streaming")
		acc.Err = aerr
		return aerr
	}

	chunks, _, err := streamClient.Stream(ctx, req)
	if err != nil {
		aerr := classifyDispatchError(err)
		acc.Err = aerr
		return aerr
	}

	translator := translate.NewStreamTranslator(req.Model)
	startEvent := translator.Start(ulid.Make().String(), 0)
	if err := sw.WriteEvent(startEvent.Name, startEvent.Payload); err != nil {
		return apierror.Wrap(apierror.Internal, "failed to write message_start", err)
	}

	for chunk := range chunks {
		if chunk.Error != nil {
			acc.Err = chunk.Error
			_ = sw.WriteError(string(apierror.UpstreamError), chunk.Error.Error(), false)
			return nil
		}

		o.Chain.OnStreamChunk(ctx, &chunk, acc)

		for _, ev := range translator.Feed(chunk) {
			if err := sw.WriteEvent(ev.Name, ev.Payload); err != nil {
				return apierror.Wrap(apierror.Internal, "failed to write stream event", err)
			}
		}
	}

	for _, ev := range translator.Close() {
		if err := sw.WriteEvent(ev.Name, ev.Payload); err != nil {
			return apierror.Wrap(apierror.Internal, "failed to write stream event", err)
		}
	}
	return nil
}

func (o *Orchestrator) streamPassthrough(ctx context.Context, client llmtypes.Client, req llmtypes.Request, sw *sse.Writer, acc *middleware.StreamAccumulator) *apierror.Error {
	passthroughClient, ok := client.(llmtypes.PassthroughStreamClient)
	if !ok {
		aerr := apierror.New(apierror.Internal, "anthropic-wire provider does not implement passthrough streaming")
		acc.Err = aerr
		return aerr
	}

	events, _, err := passthroughClient.StreamPassthrough(ctx, req)
	if err != nil {
		aerr := classifyDispatchError(err)
		acc.Err = aerr
		return aerr
	}

	for ev := range events {
		if ev.Err != nil {
			acc.Err = ev.Err
			_ = sw.WriteError(string(apierror.UpstreamError), ev.Err.Error(), false)
			return nil
		}

		if ev.Chunk != nil {
			o.Chain.OnStreamChunk(ctx, ev.Chunk, acc)
			if ev.Chunk.Error != nil {
				acc.Err = ev.Chunk.Error
			}
		}

		if len(ev.Raw) == 0 {
			continue
		}
		if err := sw.WriteRaw(ev.Raw); err != nil {
			return apierror.Wrap(apierror.Internal, "failed to forward stream frame", err)
		}
	}
	return nil
}

// applyMaxTokensCap clamps req.MaxTokens to maxTokensCap when the cap is
// positive and lower than the client-requested value; an unset (zero)
// MaxTokens is set to the cap.
func applyMaxTokensCap(req *llmtypes.Request, maxTokensCap int) {
	if maxTokensCap > 0 && (req.MaxTokens == 0 || req.MaxTokens > maxTokensCap) {
		req.MaxTokens = maxTokensCap
	}
}

// classifyDispatchError maps an upstream client error to the closed
// client-visible error-kind set. Upstream client errors are plain wrapped
// errors rather than a typed hierarchy, so classification is done on the
// wrapped message.
func classifyDispatchError(err error) *apierror.Error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apierror.Wrap(apierror.UpstreamTimeout, "upstream request timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return apierror.Wrap(apierror.UpstreamTimeout, "request cancelled", err)
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "fetch credential"):
		return apierror.Wrap(apierror.Unauthorized, "provider credential unavailable", err)
	case strings.Contains(msg, "returned status"):
		return apierror.Wrap(apierror.UpstreamError, msg, err)
	default:
		return apierror.Wrap(apierror.UpstreamError, msg, err)
	}
}
