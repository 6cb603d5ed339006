package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/limbodancer/limbodancer-mcp/internal/logging"
	"github.com/limbodancer/limbodancer-mcp/internal/store"
)

func init() {
	vectorCmd.AddCommand(vectorInitCmd)
}

var vectorCmd = &cobra.Command{
	Use:   "vector",
	Short: "Vector index operations",
}

var vectorInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the vector collection if it does not exist",
	Long: `Ensure the configured qdrant collection exists with the configured
vector size. Idempotent.

Examples:
  limbodancer vector init --config limbodancer.yaml
  LDM_VECTOR_HOST=qdrant.internal limbodancer vector init`,
	RunE: runVectorInit,
}

func runVectorInit(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Vector.InMemory {
		fmt.Println("vector index is in-memory; nothing to initialize")
		return nil
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	qv, err := store.NewQdrantVector(ctx, cfg.Vector, logger)
	if err != nil {
		return fmt.Errorf("%w: qdrant: %w", errDependencyUnavailable, err)
	}
	defer func() {
		_ = qv.Close()
	}()

	if err := qv.EnsureIndex(ctx, cfg.Vector.VectorSize); err != nil {
		return fmt.Errorf("%w: ensuring collection %s: %w", errDependencyUnavailable, cfg.Vector.Collection, err)
	}

	fmt.Printf("collection %s ready (dim=%d)\n", cfg.Vector.Collection, cfg.Vector.VectorSize)
	return nil
}
