// File: cmd/convert.go
package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/ccdagraph/api/schemas"
	"github.com/xkilldash9x/ccdagraph/internal/config"
	"github.com/xkilldash9x/ccdagraph/internal/document"
	"github.com/xkilldash9x/ccdagraph/internal/export"
	"github.com/xkilldash9x/ccdagraph/internal/extraction"
	"github.com/xkilldash9x/ccdagraph/internal/identity"
	"github.com/xkilldash9x/ccdagraph/internal/mapper"
	"github.com/xkilldash9x/ccdagraph/internal/observability"
	"github.com/xkilldash9x/ccdagraph/internal/store"
)

// graphStore is the persistent side of the postgres export format.
type graphStore interface {
	schemas.GraphExporter
	EnsureSchema(ctx context.Context) error
	VerifyGraph(ctx context.Context, graph schemas.GraphReader) error
}

// storeProvider creates a graphStore. Tests inject a fake instead of a live
// database connection.
type storeProvider interface {
	// Create returns the store, a cleanup function to release resources, and
	// an error if the creation fails.
	Create(ctx context.Context, cfg config.Interface) (graphStore, func(), error)
}

// defaultStoreProvider connects to PostgreSQL through a pgx pool.
type defaultStoreProvider struct{}

// NewStoreProvider returns the production store provider.
func NewStoreProvider() storeProvider {
	return &defaultStoreProvider{}
}

// Create connects to the configured database and wraps the pool in a store.
func (p *defaultStoreProvider) Create(ctx context.Context, cfg config.Interface) (graphStore, func(), error) {
	logger := observability.GetLogger()
	if cfg.Database().URL == "" {
		return nil, nil, fmt.Errorf("database URL is not configured (CCDAGRAPH_DATABASE_URL)")
	}

	pool, err := pgxpool.New(ctx, cfg.Database().URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	storeService, err := store.New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to initialize store service: %w", err)
	}

	cleanup := func() {
		pool.Close()
		logger.Debug("Database connection pool closed.")
	}
	return storeService, cleanup, nil
}

// convertOptions carries the per-document flags of the convert command.
type convertOptions struct {
	inputPath  string
	provenance schemas.Provenance
	srcIncTime string
	format     string
	output     string
	pretty     bool
	verify     bool
}

// newConvertCmd creates and configures the `convert` command.
func newConvertCmd(provider storeProvider) *cobra.Command {
	var opts convertOptions

	convertCmd := &cobra.Command{
		Use:   "convert [file]",
		Short: "Convert a C-CDA document into a node graph",
		Long: `Parses a C-CDA document, extracts its header, encounters and problems into
a graph of canonical nodes and labeled relationships, and exports the graph as
JSON or into PostgreSQL.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}

			opts.inputPath = args[0]
			if cmd.Flags().Changed("format") {
				cfg.SetExportFormat(opts.format)
			}
			if cmd.Flags().Changed("output") {
				cfg.SetExportOutput(opts.output)
			}
			if !cmd.Flags().Changed("pretty") {
				opts.pretty = cfg.Export().Pretty
			}

			return runConvert(ctx, observability.GetLogger(), cfg, opts, provider)
		},
	}

	flags := convertCmd.Flags()
	flags.IntVar(&opts.provenance.DocID, "doc-id", 0, "Numeric id of the source document")
	flags.StringVar(&opts.provenance.DocSourceID, "doc-source-id", "", "Identifier of the document in its source system")
	flags.IntVar(&opts.provenance.EtlDGCode, "dg-code", 0, "Data governance code stamped on every node")
	flags.IntVar(&opts.provenance.EtlSrcSysID, "src-sys-id", 0, "Identifier of the source system")
	flags.StringVar(&opts.srcIncTime, "src-inc-datetime", "", "Source increment timestamp (RFC 3339, default load time)")
	flags.StringVarP(&opts.format, "format", "f", "json", "Export format: 'json' or 'postgres'")
	flags.StringVarP(&opts.output, "output", "o", "", "Output file for the json format (default stdout)")
	flags.BoolVar(&opts.pretty, "pretty", false, "Indent JSON output")
	flags.BoolVar(&opts.verify, "verify", false, "Read the stored relationships back after a postgres export")

	return convertCmd
}

// runConvert contains the core, testable logic of the convert command.
func runConvert(
	ctx context.Context,
	logger *zap.Logger,
	cfg config.Interface,
	opts convertOptions,
	provider storeProvider,
) error {
	if err := validateExport(cfg); err != nil {
		return err
	}

	prov := opts.provenance
	prov.EtlLoadDatetime = time.Now().UTC()
	// Without an increment timestamp the load time stands in for it.
	prov.EtlSrcIncDatetime = prov.EtlLoadDatetime
	if opts.srcIncTime != "" {
		t, err := time.Parse(time.RFC3339, opts.srcIncTime)
		if err != nil {
			return fmt.Errorf("invalid --src-inc-datetime: %w", err)
		}
		prov.EtlSrcIncDatetime = t.UTC()
	}
	logger = logger.With(observability.DocumentFields(prov)...)

	graph, err := buildGraph(ctx, logger, cfg, opts.inputPath, prov)
	if err != nil {
		return err
	}

	switch cfg.Export().Format {
	case export.FormatPostgres:
		return exportToStore(ctx, logger, cfg, graph, provider, opts.verify)
	default:
		return exportToFile(ctx, logger, cfg.Export().Output, opts.pretty, graph)
	}
}

// validateExport re-checks the export settings after flag overrides.
func validateExport(cfg config.Interface) error {
	switch cfg.Export().Format {
	case export.FormatJSON:
		return nil
	case export.FormatPostgres:
		if cfg.Database().URL == "" {
			return fmt.Errorf("database.url is required for the postgres export format")
		}
		return nil
	default:
		return fmt.Errorf("unsupported export format: %s", cfg.Export().Format)
	}
}

// buildGraph parses the document at path and maps it into a graph.
func buildGraph(ctx context.Context, logger *zap.Logger, cfg config.Interface, path string, prov schemas.Provenance) (schemas.GraphReader, error) {
	extractionCfg := cfg.Extraction()
	loc, err := extractionCfg.Location()
	if err != nil {
		return nil, fmt.Errorf("invalid extraction timezone: %w", err)
	}

	root, err := document.Open(path, document.Namespaces(extractionCfg.Namespaces))
	if err != nil {
		return nil, err
	}

	ids := identity.NewScheme(cfg.Identity().Namespace)
	factory := extraction.New(prov, ids, logger,
		extraction.WithDefaultCountry(extractionCfg.DefaultCountry),
		extraction.WithLocation(loc))

	graph, err := mapper.New(factory, ids, logger).MapDocument(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("failed to map document '%s': %w", path, err)
	}
	return graph, nil
}

func exportToFile(ctx context.Context, logger *zap.Logger, output string, pretty bool, graph schemas.GraphReader) error {
	exporter, err := export.NewFileExporter(output, pretty, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize exporter: %w", err)
	}
	defer func() {
		if err := exporter.Close(); err != nil {
			logger.Warn("Failed to close exporter cleanly.", zap.Error(err))
		}
	}()

	if err := exporter.ExportGraph(ctx, graph); err != nil {
		return fmt.Errorf("failed to export graph: %w", err)
	}
	return nil
}

func exportToStore(ctx context.Context, logger *zap.Logger, cfg config.Interface, graph schemas.GraphReader, provider storeProvider, verify bool) error {
	gs, cleanup, err := provider.Create(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	if cleanup != nil {
		defer cleanup()
	}

	if cfg.Database().EnsureSchema {
		if err := gs.EnsureSchema(ctx); err != nil {
			return err
		}
	}
	if err := gs.ExportGraph(ctx, graph); err != nil {
		return fmt.Errorf("failed to export graph: %w", err)
	}
	logger.Info("Graph stored")

	if verify {
		if err := gs.VerifyGraph(ctx, graph); err != nil {
			return fmt.Errorf("failed to verify stored graph: %w", err)
		}
	}
	return nil
}
