package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/limbodancer/limbodancer-mcp/internal/config"
	"github.com/limbodancer/limbodancer-mcp/internal/logging"
	"github.com/limbodancer/limbodancer-mcp/internal/mcpserver"
	"github.com/limbodancer/limbodancer-mcp/internal/ontology"
	"github.com/limbodancer/limbodancer-mcp/internal/orchestrator"
	"github.com/limbodancer/limbodancer-mcp/internal/registry"
	"github.com/limbodancer/limbodancer-mcp/internal/resilience"
	"github.com/limbodancer/limbodancer-mcp/internal/store"
	"github.com/limbodancer/limbodancer-mcp/internal/telemetry"
	"github.com/limbodancer/limbodancer-mcp/internal/tenancy"
	"github.com/limbodancer/limbodancer-mcp/internal/tools"
)

var (
	stdioMode bool
	tenantID  string
	packageID string
	channelID string
)

func init() {
	serveCmd.Flags().BoolVar(&stdioMode, "stdio", false, "serve line-delimited JSON-RPC on stdin/stdout")
	serveCmd.Flags().StringVar(&tenantID, "tenant", "", "tenant id for stdio mode (default from config)")
	serveCmd.Flags().StringVar(&packageID, "package", "", "package id for stdio mode (default from config)")
	serveCmd.Flags().StringVar(&channelID, "channel", "", "channel id for stdio mode (default from config)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server",
	Long: `Start the MCP server over HTTP+SSE, or with --stdio as a
line-delimited JSON-RPC child process bound to a single tenant scope.

Examples:
  # HTTP mode
  limbodancer serve --config limbodancer.yaml

  # stdio mode for a desktop MCP client
  limbodancer serve --stdio --tenant acme`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if stdioMode {
		// stdout is the wire in stdio mode; logs must go to stderr.
		cfg.Logging.Stderr = true
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	provider, err := telemetry.Setup(ctx, cfg.Observability)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn(shutdownCtx, "telemetry shutdown failed", zap.Error(err))
		}
	}()

	backends, closeBackends, err := openBackends(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeBackends()

	prefixes := ontology.NewPrefixTable(nil)
	repo := ontology.NewMemoryRepository(gatesFromConfig(cfg.Ontology))
	runtime := ontology.NewRuntime(repo, prefixes, logger)
	mapper := ontology.NewPropertyKeyMapper(prefixes, logger)

	reg, err := registry.New(tools.Registrations(tools.Deps{
		History:  backends.history,
		Vector:   backends.vector,
		Graph:    backends.graph,
		Ontology: runtime,
		Mapper:   mapper,
		Logger:   logger,
		Timeouts: cfg.Resilience.ToolTimeouts,
	})...)
	if err != nil {
		return fmt.Errorf("building tool registry: %w", err)
	}

	exec := resilience.NewExecutor(cfg.Resilience, logger, resilience.NewMetrics(logger))
	info := mcpserver.ServerInfo{Name: "limbodancer-mcp", Version: version}
	resolver := tenancy.NewResolver(cfg.Tenancy, logger.Underlying())

	logger.Info(ctx, "starting limbodancer-mcp",
		zap.String("version", version),
		zap.Bool("stdio", stdioMode),
		zap.Int("tools", reg.Count()))

	if stdioMode {
		return runStdio(ctx, reg, exec, resolver, logger, info)
	}
	return runHTTP(ctx, cfg, reg, exec, backends, runtime, resolver, logger, info)
}

// runStdio serves a single static tenant scope on stdin/stdout.
func runStdio(
	ctx context.Context,
	reg *registry.Registry,
	exec *resilience.Executor,
	resolver *tenancy.Resolver,
	logger *logging.Logger,
	info mcpserver.ServerInfo,
) error {
	scope, err := resolver.ResolveStatic(tenantID, packageID, channelID)
	if err != nil {
		return fmt.Errorf("resolving stdio scope (use --tenant or LDM_TENANCY_DEFAULT_TENANT_ID): %w", err)
	}

	var srv *mcpserver.StdioServer
	dispatcher := mcpserver.NewDispatcher(reg, exec, logger, info, func() { srv.Shutdown() })
	srv = mcpserver.NewStdioServer(dispatcher, scope, logger)

	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("stdio server: %w", err)
	}
	logger.Info(ctx, "stdio server shutdown complete")
	return nil
}

// runHTTP serves MCP, chat, and ontology endpoints until the context is
// canceled, then drains within the configured shutdown timeout.
func runHTTP(
	ctx context.Context,
	cfg *config.Config,
	reg *registry.Registry,
	exec *resilience.Executor,
	backends *serverBackends,
	runtime *ontology.Runtime,
	resolver *tenancy.Resolver,
	logger *logging.Logger,
	info mcpserver.ServerInfo,
) error {
	orch := orchestrator.New(cfg.Orchestrator, backends.history, nil, logger)
	dispatcher := mcpserver.NewDispatcher(reg, exec, logger, info, nil)

	srv := mcpserver.NewHTTPServer(*cfg, dispatcher, orch, runtime, resolver, logger, map[string]mcpserver.Pinger{
		"history": backends.history,
		"vector":  backends.vector,
		"graph":   backends.graph,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	logger.Info(ctx, "http server listening",
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port))

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	logger.Info(shutdownCtx, "http server shutdown complete")
	return nil
}

// serverBackends holds the selected store implementations.
type serverBackends struct {
	history store.HistoryStore
	vector  store.VectorIndex
	graph   store.GraphStore
}

// openBackends selects store implementations from config: postgres or
// in-memory history, qdrant or in-memory vectors, in-memory graph.
func openBackends(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*serverBackends, func(), error) {
	b := &serverBackends{graph: store.NewMemoryGraph()}
	var closers []func()
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	if cfg.History.DSN != "" {
		pg, err := store.NewPostgresHistory(ctx, cfg.History.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: postgres: %w", errDependencyUnavailable, err)
		}
		closers = append(closers, pg.Close)
		b.history = pg
		logger.Info(ctx, "history store: postgres")
	} else {
		b.history = store.NewMemoryHistory()
		logger.Info(ctx, "history store: in-memory")
	}

	if cfg.Vector.InMemory {
		b.vector = store.NewMemoryVector()
		logger.Info(ctx, "vector index: in-memory")
	} else {
		qv, err := store.NewQdrantVector(ctx, cfg.Vector, logger)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("%w: qdrant: %w", errDependencyUnavailable, err)
		}
		closers = append(closers, func() { _ = qv.Close() })
		b.vector = qv
		logger.Info(ctx, "vector index: qdrant",
			zap.String("host", cfg.Vector.Host),
			zap.Int("port", cfg.Vector.Port),
			zap.String("collection", cfg.Vector.Collection))
	}

	return b, closeAll, nil
}
