// Limbodancer is an ontology-grounded MCP server.
//
// The serve command runs the server over HTTP+SSE or, with --stdio, as a
// line-delimited JSON-RPC child process. The remaining verbs are operational:
// database migration, vector index bootstrap, graph health checks, and
// ontology validation/export.
//
// Configuration is loaded from an optional YAML file plus LDM_* environment
// variables. See internal/config for the full surface.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/limbodancer/limbodancer-mcp/internal/config"
	"github.com/limbodancer/limbodancer-mcp/internal/ontology"
)

// Version information (set via ldflags during build)
var version = "dev"

// Exit codes. Scripts depend on these, keep them stable.
const (
	exitOK              = 0
	exitGeneric         = 1
	exitDependency      = 3
	exitEndpointMissing = 4
	exitCanceled        = 130
)

// Sentinel errors that commands wrap to select an exit code.
var (
	errDependencyUnavailable = errors.New("dependency unavailable")
	errEndpointMissing       = errors.New("expected endpoint missing")
)

var (
	configPath string
	verbose    bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, context.Canceled):
		return exitCanceled
	case errors.Is(err, errDependencyUnavailable):
		return exitDependency
	case errors.Is(err, errEndpointMissing):
		return exitEndpointMissing
	default:
		return exitGeneric
	}
}

var rootCmd = &cobra.Command{
	Use:   "limbodancer",
	Short: "Ontology-grounded MCP server",
	Long: `limbodancer serves MCP tools over stdio or HTTP+SSE, backed by a
tenant-scoped history store, vector index, and knowledge graph, with a
per-scope ontology catalog grounding tool preconditions and effects.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(vectorCmd)
	rootCmd.AddCommand(kgCmd)
	rootCmd.AddCommand(ontologyCmd)
}

// loadConfig loads and validates configuration, applying the --verbose
// override.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

// signalContext returns a context canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// gatesFromConfig maps governance thresholds onto ontology gates.
func gatesFromConfig(cfg config.OntologyConfig) ontology.Gates {
	return ontology.Gates{
		PublishMinConfidence:  cfg.PublishMinConfidence,
		PublishMaxComplexity:  cfg.PublishMaxComplexity,
		PublishMaxDepth:       cfg.PublishMaxDepth,
		ProposedMinConfidence: cfg.ProposedMinConfidence,
		ProposedMaxComplexity: cfg.ProposedMaxComplexity,
		ProposedMaxDepth:      cfg.ProposedMaxDepth,
	}
}
