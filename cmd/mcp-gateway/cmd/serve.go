package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mcpgateway/mcpgateway/internal/adapter/inbound/api"
	gwhttp "github.com/mcpgateway/mcpgateway/internal/adapter/inbound/http"
	"github.com/mcpgateway/mcpgateway/internal/adapter/inbound/proxy"
	"github.com/mcpgateway/mcpgateway/internal/config"
	"github.com/mcpgateway/mcpgateway/internal/domain/token"
	"github.com/mcpgateway/mcpgateway/internal/service"
	"github.com/mcpgateway/mcpgateway/internal/tracing"
)

// errInterrupted marks a shutdown triggered by SIGINT so Execute can map
// it to exit code 130. SIGTERM shutdowns exit 0.
var errInterrupted = errors.New("interrupted")

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway",
	Long: `Run the MCP gateway.

The gateway listens on a single port (default 3333) and serves:

  /s/{name}/mcp        proxied MCP wire traffic ( /servers/{name}/mcp alias)
  /.well-known/*       OAuth discovery passthrough for upstream servers
  /api/*               management REST API (bearer token)
  /health, /metrics    gateway self-health and Prometheus metrics

Upstream servers are registered at runtime through the management API
and persisted in the gateway database; nothing restarts on registry
changes.

Examples:
  # Run with defaults (port 3333, storage in ~/.mcp-gateway/captures)
  mcp-gateway serve

  # Run with a specific config file
  mcp-gateway --config /path/to/mcp-gateway.yaml serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))

	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	// First signal cancels the run context for a graceful stop; the
	// handler then unregisters so a second signal kills hard. A plain
	// channel instead of signal.NotifyContext because the exit code
	// needs to know whether the trigger was SIGINT.
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	var interrupted atomic.Bool
	go func() {
		sig := <-sigCh
		if sig == os.Interrupt {
			interrupted.Store(true)
		}
		logger.Info("shutting down", "signal", sig.String())
		signal.Stop(sigCh)
		cancel()
	}()

	if err := run(ctx, cfg, logger); err != nil {
		return err
	}

	logger.Info("mcp-gateway stopped")
	if interrupted.Load() {
		return errInterrupted
	}
	return nil
}

// run wires all components together and serves until ctx is cancelled.
// Shutdown order on return: HTTP listener (inside Start), then upstream
// connection pool, then health scheduler, capture drain, and storage.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	traceShutdown, err := tracing.Setup(ctx, "mcp-gateway", cfg.Tracing.Enabled)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		if err := traceShutdown(flushCtx); err != nil {
			logger.Warn("trace exporter shutdown", "error", err)
		}
	}()

	metrics := gwhttp.NewMetrics()

	gw, err := service.NewGateway(ctx, service.Options{
		StorageDir:     cfg.Storage.Dir,
		Logger:         logger,
		ExcludeFilter:  cfg.Capture.Exclude,
		HealthInterval: cfg.HealthInterval(),
		ProbeTimeout:   cfg.ProbeTimeout(),
		CaptureOptions: []service.CaptureOption{
			service.WithChannelSize(cfg.Capture.ChannelSize),
			service.WithDrainGrace(cfg.DrainGrace()),
		},
		HealthOptions: []service.HealthOption{
			service.WithProbeHook(metrics.HealthProbe),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to start gateway: %w", err)
	}
	defer func() {
		if err := gw.Close(); err != nil {
			logger.Warn("gateway close", "error", err)
		}
	}()

	metrics.ObserveCapture(gw.Capture())
	metrics.ObserveSessions(gw.ClientInfo())

	proxyHandler := proxy.NewHandler(gw.Registry(), gw.Capture(), gw.ClientInfo(), gw.ServerInfo(), logger)
	proxyHandler.SetObserver(metrics)
	gw.Registry().OnRemove(proxyHandler.ForgetServer)
	defer proxyHandler.Close()

	apiToken := cfg.API.Token
	if apiToken == "" {
		apiToken = token.Generate()
		fmt.Fprintf(os.Stderr, "\n  Management token (not persisted, shown once):\n\n    %s\n\n", apiToken)
	}

	apiHandler := api.NewHandler(
		api.WithRegistry(gw.Registry()),
		api.WithHealth(gw.Health()),
		api.WithHistory(gw.Storage()),
		api.WithToken(apiToken),
		api.WithLogger(logger),
	)

	checker := gwhttp.NewHealthChecker(gw.Storage(), gw.Capture(), gw.Registry(), Version)

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	transport := gwhttp.NewTransport(proxyHandler, apiHandler.Routes(),
		gwhttp.WithAddr(addr),
		gwhttp.WithLogger(logger),
		gwhttp.WithHealthChecker(checker),
		gwhttp.WithMetrics(metrics),
	)

	serverCount := 0
	if servers, err := gw.Registry().List(ctx); err == nil {
		serverCount = len(servers)
	}
	printBanner(Version, addr, cfg.Storage.Dir, serverCount)

	logger.Info("starting gateway",
		"addr", addr,
		"storage_dir", cfg.Storage.Dir,
		"servers", serverCount,
	)

	return transport.Start(ctx)
}

// printBanner prints a formatted startup banner to stderr with version,
// addresses, and registry size.
func printBanner(version, addr, storageDir string, serverCount int) {
	const (
		reset = "\033[0m"
		bold  = "\033[1m"
		cyan  = "\033[36m"
		dim   = "\033[2m"
	)

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  %s%sMCP Gateway %s%s\n", bold, cyan, version, reset)
	fmt.Fprintf(os.Stderr, "  %s─────────────────────────────────────%s\n", dim, reset)
	fmt.Fprintf(os.Stderr, "  %-10s http://%s/s/{server}/mcp\n", "Proxy:", addr)
	fmt.Fprintf(os.Stderr, "  %-10s http://%s/api\n", "API:", addr)
	fmt.Fprintf(os.Stderr, "  %-10s http://%s/health\n", "Health:", addr)
	fmt.Fprintf(os.Stderr, "  %-10s %s\n", "Storage:", storageDir)
	fmt.Fprintf(os.Stderr, "  %-10s %d registered\n", "Servers:", serverCount)
	fmt.Fprintf(os.Stderr, "  %s─────────────────────────────────────%s\n", dim, reset)
	fmt.Fprintf(os.Stderr, "\n")
}
