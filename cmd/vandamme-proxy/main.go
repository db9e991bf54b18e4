// Command vandamme-proxy is the process entrypoint: it loads
// configuration, builds the server, and runs it under into's
// signal-aware lifecycle, exactly as the teacher's cmd/at/main.go does
// for its own process.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/rakunlabs/into"
	"github.com/rakunlabs/logi"

	"github.com/elifarley/vandamme-proxy/internal/config"
	"github.com/elifarley/vandamme-proxy/internal/server"
)

var (
	name    = "vandamme-proxy"
	version = "v0.0.0"
)

func main() {
	into.Init(run,
		into.WithLogger(logi.InitializeLog(logi.WithCaller(false))),
		into.WithMsgf("%s [%s]", name, version),
	)
}

func run(ctx context.Context) error {
	cfgPath := os.Getenv("VDP_CONFIG_FILE")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := logi.SetLogLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level %q: %w", cfg.LogLevel, err)
	}

	server.SetServiceID(name + "/" + version)

	srv, err := server.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to build server: %w", err)
	}

	slog.Info("starting server", "host", cfg.Server.Host, "port", cfg.Server.Port)
	return srv.Start(ctx)
}
