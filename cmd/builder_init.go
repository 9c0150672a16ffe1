package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/gridwise/sheetctx/internal/contextbuild"
	"github.com/gridwise/sheetctx/internal/grid"
	"github.com/gridwise/sheetctx/internal/retrieval"
	"github.com/gridwise/sheetctx/internal/store"
	"github.com/gridwise/sheetctx/pkg/anthropic"
)

// schemaRegistry is shared across all builders in the process so schema
// metadata fetched for one workbook build is reused by the next.
var schemaRegistry = contextbuild.NewSchemaRegistry()

// builderEnv holds the workbook, builder, and build log needed by the
// build/batch/serve commands.
type builderEnv struct {
	Workbook *grid.Workbook
	Builder  *contextbuild.Builder
	Store    *store.SQLiteStore
	DLP      contextbuild.DLPContext

	ownStore bool
}

// Close releases resources held by the environment.
func (e *builderEnv) Close() {
	if e.ownStore && e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore opens and migrates the build log database.
func initStore(ctx context.Context) (*store.SQLiteStore, error) {
	st, err := store.NewSQLite(cfg.Store.Path)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initBuilder opens the workbook and the build log and assembles a builder.
// Callers should defer env.Close().
func initBuilder(ctx context.Context, path string) (*builderEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	env, err := newBuilderEnv(ctx, path, st)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	env.ownStore = true
	return env, nil
}

// newBuilderEnv assembles a builder for one workbook against an already
// open build log. The returned environment does not own st.
func newBuilderEnv(ctx context.Context, path string, st *store.SQLiteStore) (*builderEnv, error) {
	wb, err := grid.OpenWorkbook(path)
	if err != nil {
		return nil, err
	}

	reader := grid.NewGatedReader(wb, wb, cfg.DLP)

	var provider contextbuild.SchemaProvider
	if len(cfg.Schema.NamedRanges)+len(cfg.Schema.Tables) > 0 {
		sp := grid.NewStaticProvider("config")
		if err := sp.Load(wb, cfg.Schema.NamedRanges, cfg.Schema.Tables); err != nil {
			return nil, eris.Wrap(err, "load schema definitions")
		}
		provider = sp
	}

	var retriever contextbuild.Retriever
	if cfg.Retrieval.Enabled {
		ix := retrieval.NewIndex()
		opts := retrieval.IndexOptions{
			RowsPerChunk: cfg.Retrieval.RowsPerChunk,
			MaxCols:      cfg.Retrieval.MaxCols,
		}
		if err := ix.IndexWorkbook(ctx, wb, reader, wb, opts); err != nil {
			return nil, eris.Wrap(err, "index workbook")
		}
		retriever = ix
	}

	var estimator contextbuild.TokenEstimator
	if cfg.Anthropic.Key != "" {
		estimator = anthropic.NewEstimator(anthropic.NewTokenCounter(cfg.Anthropic.Key), cfg.Anthropic.Model)
	}

	builder, err := contextbuild.New(contextbuild.Deps{
		Store:     wb,
		Reader:    reader,
		Schema:    provider,
		Resolver:  wb,
		Retriever: retriever,
		Estimator: estimator,
		Registry:  schemaRegistry,
		Telemetry: st.Hook(),
	}, buildOptions())
	if err != nil {
		return nil, err
	}

	return &builderEnv{
		Workbook: wb,
		Builder:  builder,
		Store:    st,
		DLP:      cfg.DLP.Context(),
	}, nil
}

// buildOptions maps the build section of the config onto builder options.
func buildOptions() contextbuild.Options {
	return contextbuild.Options{
		Mode:               contextbuild.Mode(cfg.Build.Mode),
		Model:              cfg.Build.Model,
		MaxSummarySheets:   cfg.Build.MaxSummarySheets,
		SchemaSampleRows:   cfg.Build.SchemaSampleRows,
		SchemaSampleCols:   cfg.Build.SchemaSampleCols,
		MaxBlockRows:       cfg.Build.MaxBlockRows,
		MaxBlockCols:       cfg.Build.MaxBlockCols,
		MaxBlockCells:      cfg.Build.MaxBlockCells,
		MaxRetrievedChunks: cfg.Build.MaxRetrievedChunks,
	}
}
