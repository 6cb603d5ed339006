package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/limbodancer/limbodancer-mcp/internal/fault"
	"github.com/limbodancer/limbodancer-mcp/internal/logging"
	"github.com/limbodancer/limbodancer-mcp/internal/ontology"
	"github.com/limbodancer/limbodancer-mcp/internal/tenancy"
)

var (
	ontTenant    string
	ontPackage   string
	ontChannel   string
	exportFormat string
	exportOut    string
)

func init() {
	ontologyCmd.PersistentFlags().StringVar(&ontTenant, "tenant", "local", "tenant id for the catalog scope")
	ontologyCmd.PersistentFlags().StringVar(&ontPackage, "package", "", "package id (default from config)")
	ontologyCmd.PersistentFlags().StringVar(&ontChannel, "channel", "", "channel id (default from config)")

	ontologyExportCmd.Flags().StringVar(&exportFormat, "format", "jsonld", "output format: jsonld or turtle")
	ontologyExportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output file (default stdout)")

	ontologyCmd.AddCommand(ontologyValidateCmd)
	ontologyCmd.AddCommand(ontologyExportCmd)
}

var ontologyCmd = &cobra.Command{
	Use:   "ontology",
	Short: "Ontology catalog operations",
}

var ontologyValidateCmd = &cobra.Command{
	Use:   "validate <file.jsonld>",
	Short: "Validate an ontology document",
	Long: `Import a JSON-LD ontology document and run referential validation:
property owners, relation endpoints, enum references, alias targets, and
shape subjects must all resolve.

Examples:
  limbodancer ontology validate ontology/trip.jsonld`,
	Args: cobra.ExactArgs(1),
	RunE: runOntologyValidate,
}

var ontologyExportCmd = &cobra.Command{
	Use:   "export <file.jsonld>",
	Short: "Re-export an ontology document as JSON-LD or Turtle",
	Long: `Import a JSON-LD ontology document and write it back in the
requested serialization.

Examples:
  limbodancer ontology export ontology/trip.jsonld --format turtle
  limbodancer ontology export ontology/trip.jsonld -o trip.normalized.jsonld`,
	Args: cobra.ExactArgs(1),
	RunE: runOntologyExport,
}

// loadCatalog imports the document into a fresh in-memory repository and
// loads the validated catalog for the CLI scope.
func loadCatalog(cmd *cobra.Command, path string) (*ontology.Catalog, *ontology.Runtime, error) {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	scope, err := tenancy.NewScope(ontTenant,
		firstNonEmpty(ontPackage, cfg.Tenancy.DefaultPackageID),
		firstNonEmpty(ontChannel, cfg.Tenancy.DefaultChannelID))
	if err != nil {
		return nil, nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading ontology document: %w", err)
	}

	logger := logging.NewNop()
	if verbose {
		if logger, err = logging.New(cfg.Logging); err != nil {
			return nil, nil, err
		}
	}

	repo := ontology.NewMemoryRepository(gatesFromConfig(cfg.Ontology))
	runtime := ontology.NewRuntime(repo, ontology.NewPrefixTable(nil), logger)

	if err := ontology.ImportJSONLD(ctx, repo, scope, data); err != nil {
		return nil, nil, fmt.Errorf("importing %s: %w", path, err)
	}
	if err := runtime.Load(ctx, scope); err != nil {
		return nil, nil, err
	}

	cat, err := runtime.Catalog(ctx, scope)
	if err != nil {
		return nil, nil, err
	}
	return cat, runtime, nil
}

func runOntologyValidate(cmd *cobra.Command, args []string) error {
	cat, _, err := loadCatalog(cmd, args[0])
	if err != nil {
		var ferr *fault.Error
		if errors.As(err, &ferr) && ferr.Code == fault.OntologyInvalid {
			fmt.Fprintln(os.Stderr, "ontology invalid:")
			if violations, ok := ferr.Details["errors"].([]string); ok {
				for _, v := range violations {
					fmt.Fprintf(os.Stderr, "  - %s\n", v)
				}
			}
		}
		return err
	}

	fmt.Printf("ontology valid: %d entities, %d properties, %d relations\n",
		len(cat.ListEntities()), len(cat.ListProperties()), len(cat.ListRelations()))
	return nil
}

func runOntologyExport(cmd *cobra.Command, args []string) error {
	cat, runtime, err := loadCatalog(cmd, args[0])
	if err != nil {
		return err
	}

	var out []byte
	switch exportFormat {
	case "jsonld":
		out, err = cat.ExportJSONLD(runtime.Prefixes())
	case "turtle":
		out, err = cat.ExportTurtle(runtime.Prefixes())
	default:
		return fmt.Errorf("unknown format %q (want jsonld or turtle)", exportFormat)
	}
	if err != nil {
		return fmt.Errorf("exporting catalog: %w", err)
	}

	if exportOut == "" {
		_, err = os.Stdout.Write(out)
		return err
	}
	if err := os.WriteFile(exportOut, out, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", exportOut, err)
	}
	fmt.Printf("wrote %s (%s)\n", exportOut, exportFormat)
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
