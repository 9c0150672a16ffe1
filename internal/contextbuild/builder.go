package contextbuild

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/gridwise/sheetctx/internal/rangeref"
)

// Options bound the work a single build may do.
type Options struct {
	Mode  Mode
	Model string
	// Overrides pin budget numbers verbatim when set.
	Overrides *BudgetOverrides
	// MaxSummarySheets caps how many sheets get a summary per build
	// (default 10, minimum 1).
	MaxSummarySheets int
	// Schema analysis window dimensions (the oversized sample).
	SchemaSampleRows int
	SchemaSampleCols int
	// Prompt sample dimensions (selection, sheet samples, retrieved blocks).
	MaxBlockRows int
	MaxBlockCols int
	// MaxBlockCells is the declared per-read cell cap.
	MaxBlockCells int
	// MaxRetrievedChunks caps how many retrieval hits turn into blocks.
	MaxRetrievedChunks int
}

func (o Options) withDefaults() Options {
	if o.Mode == "" {
		o.Mode = ModeChat
	}
	if o.MaxSummarySheets < 1 {
		o.MaxSummarySheets = 10
	}
	if o.SchemaSampleRows <= 0 {
		o.SchemaSampleRows = 100
	}
	if o.SchemaSampleCols <= 0 {
		o.SchemaSampleCols = 30
	}
	if o.MaxBlockRows <= 0 {
		o.MaxBlockRows = 20
	}
	if o.MaxBlockCols <= 0 {
		o.MaxBlockCols = 12
	}
	if o.MaxBlockCells <= 0 {
		o.MaxBlockCells = 5000
	}
	if o.MaxRetrievedChunks <= 0 {
		o.MaxRetrievedChunks = 6
	}
	return o
}

// Deps are the collaborators a builder consumes. Store and Reader are
// required; everything else is optional and degrades gracefully.
type Deps struct {
	Store     DocumentStore
	Reader    RangeReader
	Schema    SchemaProvider
	Resolver  SheetNameResolver
	Retriever Retriever
	Estimator TokenEstimator
	Packer    SectionPacker
	Registry  *SchemaRegistry
	Telemetry TelemetryHook
}

// Builder assembles workbook context payloads. The caches it owns persist
// across Build calls on the same instance; a Builder is not safe for
// concurrent Build invocations.
type Builder struct {
	store     DocumentStore
	reader    RangeReader
	provider  SchemaProvider
	resolver  SheetNameResolver
	retriever Retriever
	estimator TokenEstimator
	packer    SectionPacker
	registry  *SchemaRegistry
	telemetry TelemetryHook
	opts      Options

	schemaMeta schemaMetaCache
	summaries  *boundedCache[summaryEntry]
	blocks     *boundedCache[blockEntry]
}

// New creates a Builder. Store and Reader are required.
func New(deps Deps, opts Options) (*Builder, error) {
	if deps.Store == nil {
		return nil, eris.New("contextbuild: document store is required")
	}
	if deps.Reader == nil {
		return nil, eris.New("contextbuild: range reader is required")
	}
	if deps.Estimator == nil {
		deps.Estimator = NewHeuristicEstimator()
	}
	if deps.Packer == nil {
		deps.Packer = NewGreedyPacker()
	}
	return &Builder{
		store:     deps.Store,
		reader:    deps.Reader,
		provider:  deps.Schema,
		resolver:  deps.Resolver,
		retriever: deps.Retriever,
		estimator: deps.Estimator,
		packer:    deps.Packer,
		registry:  deps.Registry,
		telemetry: deps.Telemetry,
		opts:      opts.withDefaults(),
		summaries: newBoundedCache[summaryEntry](maxSummaryEntries),
		blocks:    newBoundedCache[blockEntry](maxBlockEntries),
	}, nil
}

// Build assembles the context payload and packed prompt for the input.
// Cancellation is checked at every phase boundary; on cancellation no
// partial payload is returned and cache writes made so far are retained
// (they are idempotent snapshots). All other collaborator failures degrade
// into the payload instead of failing the build.
func (b *Builder) Build(ctx context.Context, input BuildInput) (result *BuildResult, err error) {
	stats := BuildStats{
		BuildID:     uuid.New().String(),
		WorkbookID:  b.store.WorkbookID(),
		Mode:        b.opts.Mode,
		Model:       b.opts.Model,
		StartedAt:   time.Now().UTC(),
		BlockCounts: make(map[string]int),
	}
	totalDone := phaseTimer(&stats.TotalMS)
	defer func() {
		totalDone()
		if err != nil {
			stats.Cancelled = errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
			stats.Error = err.Error()
		}
		emitTelemetry(b.telemetry, stats)
	}()

	log := zap.L().With(
		zap.String("build_id", stats.BuildID),
		zap.String("workbook", stats.WorkbookID),
		zap.String("mode", string(b.opts.Mode)),
	)
	log.Debug("contextbuild: starting build", zap.String("active_sheet", input.ActiveSheetID))

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Phase 1: schema metadata.
	schemaDone := phaseTimer(&stats.SchemaMS)
	meta := b.resolveSchemaMetadata(&stats)
	schemaDone()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Phase 2: retrieval.
	retrievalDone := phaseTimer(&stats.RetrievalMS)
	chunks, indexStats, plan, rerr := b.runRetrieval(ctx, input.FocusQuestion, &stats)
	retrievalDone()
	if rerr != nil {
		return nil, rerr
	}
	retrievalEnabled := b.retriever != nil && input.FocusQuestion != ""

	// Phase 3: sheet selection + summaries.
	selectionSheet := ""
	if input.SelectedRange != nil {
		selectionSheet = input.SelectedRange.SheetID
	}
	var retrievedSheets []string
	if plan != nil {
		retrievedSheets = plan.sheetIDs
	}
	sheetIDs := selectSheets(
		input.ActiveSheetID,
		selectionSheet,
		retrievedSheets,
		b.store.SheetIDs(),
		retrievalEnabled,
		b.opts.MaxSummarySheets,
	)

	summariesDone := phaseTimer(&stats.SummariesMS)
	summaries := make([]SheetSummary, 0, len(sheetIDs))
	for _, sheetID := range sheetIDs {
		summary, serr := b.buildSheetSummary(ctx, sheetID, meta, input.DLP, &stats)
		if serr != nil {
			summariesDone()
			return nil, serr
		}
		summaries = append(summaries, summary)
	}
	summariesDone()

	// Phase 4: data blocks.
	blocksDone := phaseTimer(&stats.BlocksMS)
	blocks, berr := b.buildBlocks(ctx, input, plan, &stats)
	blocksDone()
	if berr != nil {
		return nil, berr
	}

	// Phase 5: deterministic ordering and payload assembly.
	sortSummaries(summaries, input.ActiveSheetID)
	sortBlocks(blocks)

	payload := &ContextPayload{
		Version:       PayloadVersion,
		WorkbookID:    b.store.WorkbookID(),
		SchemaVersion: meta.ProviderVersion,
		ActiveSheetID: input.ActiveSheetID,
		Sheets:        summaries,
		NamedRanges:   append([]NamedRange{}, meta.NamedRanges...),
		Tables:        append([]Table{}, meta.Tables...),
		Blocks:        blocks,
		Budget:        ComputeBudget(b.opts.Mode, b.opts.Model, b.opts.Overrides),
	}
	if input.SelectedRange != nil {
		payload.Selection = refString(b.resolver, input.SelectedRange.SheetID, input.SelectedRange.Rect)
	}
	if plan != nil {
		payload.Retrieval = plan.info
	}

	stats.SheetCount = len(summaries)
	for _, block := range blocks {
		stats.BlockCounts[string(block.Kind)]++
		if block.Error == nil {
			stats.CellCount += len(block.Values) * maxRowLen(block.Values)
		}
	}

	// Phase 6: prompt assembly and packing.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	packDone := phaseTimer(&stats.PackMS)
	sections := assembleSections(payload, chunks, input.Attachments, b.opts.Mode)
	packed := b.packer.Pack(sections, payload.Budget.MaxPromptContextTokens, b.estimator)
	prompt := renderPrompt(packed)
	packDone()

	for _, s := range packed {
		if s.Truncated {
			stats.TruncatedSections++
		}
	}
	stats.DroppedSections = len(sections) - len(packed)
	stats.PromptTokens = b.estimator.EstimateTextTokens(prompt)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	log.Debug("contextbuild: build complete",
		zap.Int("sheets", stats.SheetCount),
		zap.Int("blocks", len(blocks)),
		zap.Int("prompt_tokens", stats.PromptTokens),
		zap.Int("range_reads", stats.RangeReads),
	)

	return &BuildResult{
		Payload:       payload,
		PromptContext: prompt,
		Retrieved:     chunks,
		IndexStats:    indexStats,
	}, nil
}

// resolveSchemaMetadata returns the current normalized schema snapshot,
// consulting the builder-local cache, then the shared registry (versioned
// providers only), then rebuilding. A version or sheet-rename change drops
// the dependent sheet summaries wholesale: named ranges and tables are baked
// into sheet schemas.
func (b *Builder) resolveSchemaMetadata(stats *BuildStats) *SchemaMetadata {
	var version int64
	versioned := false
	if b.provider != nil {
		version, versioned = b.provider.SchemaVersion()
	}
	nameKey := sheetNameKey(b.store, b.resolver)

	if meta := b.schemaMeta.get(version, nameKey); meta != nil {
		stats.SchemaMetaHit = true
		return meta
	}

	var meta *SchemaMetadata
	if versioned && b.provider != nil {
		meta = b.registry.get(b.provider.ProviderID(), version, nameKey)
	}
	if meta == nil {
		meta = buildSchemaMetadata(b.provider, b.resolver, version, nameKey)
		if versioned && b.provider != nil {
			b.registry.put(b.provider.ProviderID(), meta)
		}
	} else {
		stats.SchemaMetaHit = true
	}

	if b.schemaMeta.meta != nil {
		b.summaries.clear()
	}
	b.schemaMeta.meta = meta
	return meta
}

// buildSheetSummary returns the sheet's structural summary, cached per
// content version. Denied or failed sample reads yield (and cache) the
// empty schema so repeated denials are not re-attempted every build.
func (b *Builder) buildSheetSummary(ctx context.Context, sheetID string, meta *SchemaMetadata, dlp DLPContext, stats *BuildStats) (SheetSummary, error) {
	version := b.sheetVersion(sheetID)
	window, hasData := b.schemaWindowOK(sheetID)

	extras := ""
	if _, versioned := b.providerVersion(); !versioned {
		extras = meta.extrasKey()
	}
	key := summaryKey(sheetID, dlp.Key(), window, meta.ProviderVersion, extras)

	if entry, ok := b.summaries.get(key); ok {
		if entry.version == version {
			stats.SummaryHits++
			return entry.summary, nil
		}
		b.summaries.delete(key)
	}
	stats.SummaryMisses++

	summary := SheetSummary{SheetID: sheetID, Schema: emptySchema()}
	if !hasData {
		// Empty sheet: named ranges and tables still apply.
		summary.Schema = extractSchema(sheetID, meta, window, nil, b.resolver)
		b.summaries.put(key, summaryEntry{summary: summary, version: version})
		return summary, nil
	}

	block, err := b.readBlock(ctx, blockSchemaSample, sheetID, window, version, dlp, stats)
	if err != nil {
		return SheetSummary{}, err
	}

	summary.AnalyzedRange = refString(b.resolver, sheetID, window)
	if block.Error != nil {
		// Placeholder values must never feed schema extraction.
		summary.Schema = emptySchema()
	} else {
		summary.Schema = extractSchema(sheetID, meta, window, block.Values, b.resolver)
	}
	b.summaries.put(key, summaryEntry{summary: summary, version: version})
	return summary, nil
}

// buildBlocks assembles the selection block, the active-sheet prompt
// sample, and retrieval-derived blocks.
func (b *Builder) buildBlocks(ctx context.Context, input BuildInput, plan *retrievalPlan, stats *BuildStats) ([]DataBlock, error) {
	var blocks []DataBlock

	if input.SelectedRange != nil && input.SelectedRange.Rect.Valid() {
		rect := input.SelectedRange.Rect.ClampTo(b.opts.MaxBlockRows, b.opts.MaxBlockCols)
		version := b.sheetVersion(input.SelectedRange.SheetID)
		block, err := b.readBlock(ctx, BlockSelection, input.SelectedRange.SheetID, rect, version, input.DLP, stats)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, block)
	}

	if input.ActiveSheetID != "" {
		if used, ok := b.store.UsedRange(input.ActiveSheetID); ok {
			rect := used.ClampTo(b.opts.MaxBlockRows, b.opts.MaxBlockCols)
			version := b.sheetVersion(input.ActiveSheetID)
			block, err := b.readBlock(ctx, BlockSheetSample, input.ActiveSheetID, rect, version, input.DLP, stats)
			if err != nil {
				return nil, err
			}
			blocks = append(blocks, block)
		}
	}

	if plan != nil {
		for _, read := range plan.reads {
			version := b.sheetVersion(read.SheetID)
			block, err := b.readBlock(ctx, BlockRetrieved, read.SheetID, read.Rect, version, input.DLP, stats)
			if err != nil {
				return nil, err
			}
			blocks = append(blocks, block)
		}
	}

	return blocks, nil
}

// sheetVersion prefers the per-sheet content counter and falls back to the
// coarser whole-document counter.
func (b *Builder) sheetVersion(sheetID string) int64 {
	if v, ok := b.store.SheetContentVersion(sheetID); ok {
		return v
	}
	return b.store.DocumentVersion()
}

func (b *Builder) providerVersion() (int64, bool) {
	if b.provider == nil {
		return 0, false
	}
	return b.provider.SchemaVersion()
}

// schemaWindow is the capped analysis window for a sheet (top-left anchored).
func (b *Builder) schemaWindow(sheetID string) rangeref.Rect {
	window, _ := b.schemaWindowOK(sheetID)
	return window
}

func (b *Builder) schemaWindowOK(sheetID string) (rangeref.Rect, bool) {
	used, ok := b.store.UsedRange(sheetID)
	if !ok {
		return rangeref.Rect{StartRow: 1, StartCol: 1, EndRow: 1, EndCol: 1}, false
	}
	return used.ClampTo(b.opts.SchemaSampleRows, b.opts.SchemaSampleCols), true
}

// sortSummaries orders sheets with the active sheet first, then
// lexicographically by id.
func sortSummaries(summaries []SheetSummary, activeSheetID string) {
	sort.SliceStable(summaries, func(i, j int) bool {
		a, b := summaries[i], summaries[j]
		if a.SheetID == activeSheetID && b.SheetID != activeSheetID {
			return true
		}
		if b.SheetID == activeSheetID && a.SheetID != activeSheetID {
			return false
		}
		return a.SheetID < b.SheetID
	})
}

// sortBlocks applies the fixed kind priority, then sheet id, then range
// reference string. The order is independent of arrival order.
func sortBlocks(blocks []DataBlock) {
	sort.SliceStable(blocks, func(i, j int) bool {
		a, b := blocks[i], blocks[j]
		if kindPriority[a.Kind] != kindPriority[b.Kind] {
			return kindPriority[a.Kind] < kindPriority[b.Kind]
		}
		if a.SheetID != b.SheetID {
			return a.SheetID < b.SheetID
		}
		return a.Range < b.Range
	})
}

func maxRowLen(values [][]string) int {
	max := 0
	for _, row := range values {
		if len(row) > max {
			max = len(row)
		}
	}
	return max
}
