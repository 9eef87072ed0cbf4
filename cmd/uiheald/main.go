// Command uiheald serves the element-resolution and drift-detection core
// over HTTP, and optionally over MCP stdio for agentic callers.
//
// Usage:
//
//	uiheald -addr :8086 -db uiheal.db        # HTTP API
//	uiheald -config uiheald.yaml             # full configuration from YAML
//	uiheald -mcp                             # additionally serve MCP on stdio
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/okralabs/uiheal/internal/service"
	"github.com/okralabs/uiheal/trajectory"
)

func main() {
	configPath := flag.String("config", "", "path to uiheald.yaml config file")
	addr := flag.String("addr", "", "HTTP listen address (overrides config)")
	dbPath := flag.String("db", "", "trajectory database path (overrides config)")
	mcpStdio := flag.Bool("mcp", false, "also serve MCP tools on stdio")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error")
	flag.Parse()

	cfg := &service.Config{}
	if *configPath != "" {
		loaded, err := service.LoadConfigFile(*configPath)
		if err != nil {
			slog.Error("uiheald: load config", "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	cfg.Defaults()
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, cfg, *mcpStdio); err != nil {
		logger.Error("uiheald: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, cfg *service.Config, mcpStdio bool) error {
	store, err := trajectory.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	svc := service.New(cfg.Heal, cfg.Drift, store, logger)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           svc.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("uiheald: http listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if mcpStdio {
		mcpSrv := mcp.NewServer(&mcp.Implementation{
			Name:    "uiheal",
			Version: "1.0.0",
		}, nil)
		svc.RegisterMCP(mcpSrv)
		go func() {
			logger.Info("uiheald: mcp serving on stdio")
			if err := mcpSrv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
				errCh <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
