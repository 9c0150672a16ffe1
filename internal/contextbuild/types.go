// Package contextbuild assembles a bounded, deterministic, privacy-safe
// textual context for a language model from a live workbook, under strict
// token budgets, with multi-layer caching and cooperative cancellation.
package contextbuild

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"

	"github.com/gridwise/sheetctx/internal/rangeref"
)

// PayloadVersion tags the serialized payload structure.
const PayloadVersion = "1"

// Mode selects the UI surface the context is built for.
type Mode string

const (
	ModeChat       Mode = "chat"
	ModeAgent      Mode = "agent"
	ModeInlineEdit Mode = "inline_edit"
)

// BlockKind tags why a data block was included.
type BlockKind string

const (
	BlockSelection   BlockKind = "selection"
	BlockSheetSample BlockKind = "sheet_sample"
	BlockRetrieved   BlockKind = "retrieved"

	// blockSchemaSample is the internal oversized sample used for schema
	// analysis; it is cached but never emitted into the payload.
	blockSchemaSample BlockKind = "schema_sample"
)

// kindPriority defines the fixed sort order of payload blocks.
var kindPriority = map[BlockKind]int{
	BlockSelection:   0,
	BlockRetrieved:   1,
	BlockSheetSample: 2,
}

// ContextPayload is the externally visible build result. It is a pure
// function of the workbook snapshot, schema-provider snapshot, DLP context,
// and retrieval result.
type ContextPayload struct {
	Version       string         `json:"version"`
	WorkbookID    string         `json:"workbookId"`
	SchemaVersion int64          `json:"schemaVersion"`
	ActiveSheetID string         `json:"activeSheetId"`
	Selection     string         `json:"selection,omitempty"`
	Sheets        []SheetSummary `json:"sheets"`
	NamedRanges   []NamedRange   `json:"namedRanges"`
	Tables        []Table        `json:"tables"`
	Blocks        []DataBlock    `json:"blocks"`
	Retrieval     *RetrievalInfo `json:"retrieval,omitempty"`
	Budget        BudgetInfo     `json:"budget"`
}

// SheetSummary is the structural description of one sheet.
type SheetSummary struct {
	SheetID       string      `json:"sheetId"`
	AnalyzedRange string      `json:"analyzedRange,omitempty"`
	Schema        SheetSchema `json:"schema"`
}

// SheetSchema holds tables, named ranges, and inferred data regions for one
// sheet. The zero value is the canonical empty schema.
type SheetSchema struct {
	Tables      []Table      `json:"tables"`
	NamedRanges []NamedRange `json:"namedRanges"`
	DataRegions []DataRegion `json:"dataRegions"`
}

// NamedRange is a sheet-scoped named range with its qualified A1 reference.
type NamedRange struct {
	Name    string `json:"name"`
	SheetID string `json:"sheetId"`
	Range   string `json:"range"`
}

// Table is an explicit sheet-scoped table definition.
type Table struct {
	Name    string   `json:"name"`
	SheetID string   `json:"sheetId"`
	Range   string   `json:"range"`
	Headers []string `json:"headers,omitempty"`
}

// DataRegion is a contiguous rectangular block of non-empty cells inferred
// from a sampled window.
type DataRegion struct {
	Range     string   `json:"range"`
	Headers   []string `json:"headers,omitempty"`
	RowCount  int      `json:"rowCount"`
	ColCount  int      `json:"colCount"`
	HasHeader bool     `json:"hasHeader"`
}

// DataBlock is a header-labeled sample of cell values. When Error is set,
// Values holds only the fixed placeholder sentinel, never partial real data.
type DataBlock struct {
	Kind      BlockKind   `json:"kind"`
	SheetID   string      `json:"sheetId"`
	Range     string      `json:"range"`
	RowLabels []string    `json:"rowLabels,omitempty"`
	ColLabels []string    `json:"colLabels,omitempty"`
	Values    [][]string  `json:"values"`
	Error     *BlockError `json:"error,omitempty"`
}

// BlockError describes a failed or denied range read.
type BlockError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Block error codes.
const (
	ErrCodePermissionDenied = "permission_denied"
	ErrCodeRuntime          = "runtime_error"
)

// Placeholder sentinels for blocked and failed reads.
const (
	PlaceholderRestricted  = "[restricted]"
	PlaceholderUnavailable = "[unavailable]"
)

// RetrievalInfo records what semantic retrieval contributed to the payload.
type RetrievalInfo struct {
	Query           string   `json:"query"`
	ChunkIDs        []string `json:"chunkIds"`
	RetrievedRanges []string `json:"retrievedRanges"`
}

// BudgetInfo is the computed token budget for this build.
type BudgetInfo struct {
	Mode                   Mode   `json:"mode"`
	Model                  string `json:"model"`
	ContextWindowTokens    int    `json:"contextWindowTokens"`
	ReserveForOutputTokens int    `json:"reserveForOutputTokens"`
	MaxPromptContextTokens int    `json:"maxPromptContextTokens"`
}

// DLPContext is the caller-supplied data-loss-prevention policy bundle. The
// engine treats it as opaque pass-through data; only Key participates in
// cache identity.
type DLPContext struct {
	PolicyID string   `json:"policyId"`
	Tags     []string `json:"tags,omitempty"`
}

// Key returns a deterministic cache-key fragment for the context.
func (d DLPContext) Key() string {
	if d.PolicyID == "" && len(d.Tags) == 0 {
		return "-"
	}
	tags := append([]string(nil), d.Tags...)
	sort.Strings(tags)
	h := sha256.Sum256([]byte(d.PolicyID + "|" + strings.Join(tags, ",")))
	return fmt.Sprintf("%x", h[:8])
}

// Attachment is caller-supplied extra context carried into the prompt.
type Attachment struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// SheetRange is a sheet-qualified rectangle in stable-id terms.
type SheetRange struct {
	SheetID string
	Rect    rangeref.Rect
}

// BuildInput are the per-build parameters.
type BuildInput struct {
	ActiveSheetID string
	SelectedRange *SheetRange
	FocusQuestion string
	Attachments   []Attachment
	DLP           DLPContext
}

// BuildResult is the produced contract of Build.
type BuildResult struct {
	Payload       *ContextPayload
	PromptContext string
	Retrieved     []RetrievedChunk
	IndexStats    *IndexStats
}

// --- Consumed collaborator contracts ---

// DocumentStore exposes the grid data needed by the engine.
type DocumentStore interface {
	WorkbookID() string
	SheetIDs() []string
	// UsedRange returns the populated rectangle of a sheet; ok is false for
	// an empty or unknown sheet.
	UsedRange(sheetID string) (rangeref.Rect, bool)
	// SheetContentVersion returns the per-sheet change counter; ok is false
	// when the store only tracks a whole-document counter.
	SheetContentVersion(sheetID string) (int64, bool)
	// DocumentVersion is the coarse whole-document change counter.
	DocumentVersion() int64
}

// ReadRequest is one rectangular range read with a declared cap and DLP
// context.
type ReadRequest struct {
	SheetID  string
	Rect     rangeref.Rect
	MaxCells int
	DLP      DLPContext
}

// ReadResult carries values or a structured denial/failure. Err being set is
// not a Go error: the read completed with a policy or tool outcome.
type ReadResult struct {
	Values [][]string
	Err    *BlockError
}

// RangeReader executes gated range reads.
type RangeReader interface {
	ReadRange(ctx context.Context, req ReadRequest) (ReadResult, error)
}

// RangeDef is a raw named-range definition from the schema provider.
type RangeDef struct {
	Name    string
	SheetID string
	Rect    rangeref.Rect
}

// TableDef is a raw table definition from the schema provider.
type TableDef struct {
	Name    string
	SheetID string
	Rect    rangeref.Rect
	Headers []string
}

// SchemaProvider supplies workbook-level named ranges and tables.
// SchemaVersion reports ok=false when the provider cannot version its
// metadata; the orchestrator branches on that capability flag instead of
// probing.
type SchemaProvider interface {
	ProviderID() string
	SchemaVersion() (int64, bool)
	NamedRanges() ([]RangeDef, error)
	Tables() ([]TableDef, error)
}

// SheetNameResolver maps between stable sheet ids and display names.
type SheetNameResolver interface {
	DisplayName(sheetID string) (string, bool)
	SheetID(displayName string) (string, bool)
}

// RetrievedChunk is one semantic-retrieval hit with range metadata.
type RetrievedChunk struct {
	ID        string
	Text      string
	SheetName string
	Rect      rangeref.Rect
}

// IndexStats describes the retrieval index consulted for a build.
type IndexStats struct {
	ChunkCount int   `json:"chunkCount"`
	IndexedAt  int64 `json:"indexedAt,omitempty"`
}

// Retriever is the optional RAG collaborator.
type Retriever interface {
	Retrieve(ctx context.Context, query string, limit int) ([]RetrievedChunk, *IndexStats, error)
}

// TokenEstimator estimates LLM input tokens for a text.
type TokenEstimator interface {
	EstimateTextTokens(text string) int
}

// refString formats a sheet-qualified reference, preferring the resolver's
// display name and falling back to the stable id.
func refString(resolver SheetNameResolver, sheetID string, rect rangeref.Rect) string {
	name := sheetID
	if resolver != nil {
		if dn, ok := resolver.DisplayName(sheetID); ok {
			name = dn
		}
	}
	return rangeref.Ref{SheetName: name, Rect: rect}.String()
}
