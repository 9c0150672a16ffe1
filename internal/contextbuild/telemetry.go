package contextbuild

import (
	"time"

	"go.uber.org/zap"
)

// BuildStats is the structured telemetry record emitted for every build,
// success or failure.
type BuildStats struct {
	BuildID    string    `json:"buildId"`
	WorkbookID string    `json:"workbookId"`
	Mode       Mode      `json:"mode"`
	Model      string    `json:"model"`
	StartedAt  time.Time `json:"startedAt"`

	// Phase durations.
	SchemaMS    int64 `json:"schemaMs"`
	RetrievalMS int64 `json:"retrievalMs"`
	SummariesMS int64 `json:"summariesMs"`
	BlocksMS    int64 `json:"blocksMs"`
	PackMS      int64 `json:"packMs"`
	TotalMS     int64 `json:"totalMs"`

	// Cache behavior.
	SchemaMetaHit   bool `json:"schemaMetaHit"`
	SummaryHits     int  `json:"summaryHits"`
	SummaryMisses   int  `json:"summaryMisses"`
	BlockHits       int  `json:"blockHits"`
	BlockMisses     int  `json:"blockMisses"`
	BlockSlices     int  `json:"blockSlices"`
	RangeReads      int  `json:"rangeReads"`
	RetrievalDedups int  `json:"retrievalDedups"`

	// Output shape.
	SheetCount        int            `json:"sheetCount"`
	BlockCounts       map[string]int `json:"blockCounts"`
	CellCount         int            `json:"cellCount"`
	PromptTokens      int            `json:"promptTokens"`
	TruncatedSections int            `json:"truncatedSections"`
	DroppedSections   int            `json:"droppedSections"`

	Cancelled bool   `json:"cancelled"`
	Error     string `json:"error,omitempty"`
}

// TelemetryHook receives build stats. Hook failures are swallowed:
// observability must never affect correctness or availability.
type TelemetryHook func(stats BuildStats)

func emitTelemetry(hook TelemetryHook, stats BuildStats) {
	if hook == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			zap.L().Warn("contextbuild: telemetry hook panicked", zap.Any("panic", r))
		}
	}()
	hook(stats)
}

// phaseTimer measures one pipeline phase in milliseconds.
func phaseTimer(dst *int64) func() {
	start := time.Now()
	return func() {
		*dst = time.Since(start).Milliseconds()
	}
}
