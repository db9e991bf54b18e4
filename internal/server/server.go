// Package server wires the HTTP transport around the orchestrator: ada
// router, its generic middleware stack, and the thin client-facing
// endpoints of spec §6.1. Everything domain-specific (translation,
// credential lifecycle, the middleware chain over translated chunks)
// lives in internal/orchestrator and its dependencies; this package only
// decodes/encodes wire JSON and dispatches to Orchestrator.Unary or
// Orchestrator.Stream.
//
// Grounded on the teacher's internal/server/server.go ada wiring
// (mux.Use, mux.Group, route registration) and gateway.go's handler shape
// (httpResponseJSON, SSE header setup, generateChatID).
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rakunlabs/ada"
	mcors "github.com/rakunlabs/ada/middleware/cors"
	mlog "github.com/rakunlabs/ada/middleware/log"
	mrecover "github.com/rakunlabs/ada/middleware/recover"
	mrequestid "github.com/rakunlabs/ada/middleware/requestid"
	mserver "github.com/rakunlabs/ada/middleware/server"
	mtelemetry "github.com/rakunlabs/ada/middleware/telemetry"

	"github.com/elifarley/vandamme-proxy/internal/clientfactory"
	"github.com/elifarley/vandamme-proxy/internal/config"
	"github.com/elifarley/vandamme-proxy/internal/crypto"
	"github.com/elifarley/vandamme-proxy/internal/middleware"
	"github.com/elifarley/vandamme-proxy/internal/orchestrator"
	"github.com/elifarley/vandamme-proxy/internal/registry"
	"github.com/elifarley/vandamme-proxy/internal/thoughtcache"
)

// serviceID is reported to ada's mserver middleware and to the /health
// response; set from main's build-time name/version.
var serviceID = "vandamme-proxy/v0.0.0"

// SetServiceID overrides the identifier the server reports, called once
// from main before New.
func SetServiceID(id string) { serviceID = id }

// Server bundles the ada router with the orchestrator it dispatches to.
type Server struct {
	cfg   config.Server
	mux   *ada.Server
	orch  *orchestrator.Orchestrator
	cache *thoughtcache.Cache
}

// New builds the full dependency graph — registry, client factory,
// thought-signature cache and middleware, orchestrator — and the HTTP
// router on top of it.
func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	reg, err := registry.New(cfg.Providers, cfg.DefaultProvider)
	if err != nil {
		return nil, err
	}

	var encKey []byte
	if cfg.Credential.EncryptionKey != "" {
		encKey, err = crypto.DeriveKey(cfg.Credential.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("server: %w", err)
		}
	}

	clients, err := clientfactory.New(reg, cfg.Credential.StorageDir, encKey)
	if err != nil {
		return nil, err
	}

	cache := thoughtcache.New(thoughtcache.DefaultTTL, thoughtcache.DefaultMaxEntries)
	go cache.StartSweeper(ctx, 10*time.Minute)

	chain := middleware.NewChain(middleware.NewThoughtSignatureMiddleware(cache))

	orch := orchestrator.New(reg, clients, chain, cfg.Gateway)

	s := &Server{cfg: cfg.Server, orch: orch, cache: cache}
	s.mux = s.buildRouter()
	return s, nil
}

func (s *Server) buildRouter() *ada.Server {
	mux := ada.New()
	mux.Use(
		mrecover.Middleware(),
		mserver.Middleware(serviceID),
		mcors.Middleware(),
		mrequestid.Middleware(),
		mlog.Middleware(),
		mtelemetry.Middleware(),
	)

	base := mux.Group(s.cfg.BasePath)

	base.GET("/health", s.Health)
	base.GET("/test-connection", s.TestConnection)

	v1 := base.Group("/v1")
	v1.POST("/messages", s.Messages)
	v1.POST("/messages/count_tokens", s.CountTokens)
	v1.GET("/models", s.ListModels)

	return mux
}

// Start runs the HTTP listener until ctx is cancelled, in the teacher's
// ada.Server.StartWithContext shape.
func (s *Server) Start(ctx context.Context) error {
	return s.mux.StartWithContext(ctx, net.JoinHostPort(s.cfg.Host, s.cfg.Port))
}

// Health handles GET /health.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	httpResponseJSON(w, map[string]any{"status": "ok", "service": serviceID}, http.StatusOK)
}

// TestConnection handles GET /test-connection, a trivial liveness probe
// distinct from /health in the client tooling that expects this exact path.
func (s *Server) TestConnection(w http.ResponseWriter, r *http.Request) {
	httpResponseJSON(w, map[string]any{"status": "ok"}, http.StatusOK)
}
