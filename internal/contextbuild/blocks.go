package contextbuild

import (
	"context"
	"strconv"

	"go.uber.org/zap"

	"github.com/gridwise/sheetctx/internal/rangeref"
)

// placeholderBlock builds the fixed sentinel block for a denied or failed
// read. The 1x1 matrix is deterministic and carries no data derived from the
// underlying range.
func placeholderBlock(kind BlockKind, sheetID, rangeRef string, readErr *BlockError) DataBlock {
	sentinel := PlaceholderUnavailable
	if readErr != nil && readErr.Code == ErrCodePermissionDenied {
		sentinel = PlaceholderRestricted
	}
	return DataBlock{
		Kind:    kind,
		SheetID: sheetID,
		Range:   rangeRef,
		Values:  [][]string{{sentinel}},
		Error:   readErr,
	}
}

// labeledBlock builds a successful block with spreadsheet-style header
// labels: column letters and row numbers for the sampled rectangle.
func labeledBlock(kind BlockKind, sheetID, rangeRef string, rect rangeref.Rect, values [][]string) DataBlock {
	colLabels := make([]string, rect.Cols())
	for c := 0; c < rect.Cols(); c++ {
		colLabels[c] = rangeref.ColName(rect.StartCol + c)
	}
	rowLabels := make([]string, 0, len(values))
	for r := range values {
		rowLabels = append(rowLabels, strconv.Itoa(rect.StartRow+r))
	}
	return DataBlock{
		Kind:      kind,
		SheetID:   sheetID,
		Range:     rangeRef,
		RowLabels: rowLabels,
		ColLabels: colLabels,
		Values:    values,
	}
}

// readBlock returns a sampled block for the rect, via cache when the sheet's
// content version still matches, issuing at most one range read otherwise.
// A non-nil error is returned only for cancellation or unexpected reader
// faults; denials and tool errors come back as placeholder blocks.
func (b *Builder) readBlock(ctx context.Context, kind BlockKind, sheetID string, rect rangeref.Rect, version int64, dlp DLPContext, stats *BuildStats) (DataBlock, error) {
	key := blockKey(dlp.Key(), kind, sheetID, rect)
	if entry, ok := b.blocks.get(key); ok {
		if entry.version == version {
			stats.BlockHits++
			return entry.block, nil
		}
		b.blocks.delete(key)
	}

	// Prompt-sized samples reuse the larger schema sample when it shares the
	// origin and fully covers the requested rect; different offsets fall back
	// to a fresh read.
	if kind == BlockSheetSample {
		if sliced, ok := b.sliceFromSchemaSample(sheetID, rect, version, dlp); ok {
			stats.BlockSlices++
			b.blocks.put(key, blockEntry{block: sliced, rect: rect, version: version})
			return sliced, nil
		}
	}

	stats.BlockMisses++
	if err := ctx.Err(); err != nil {
		return DataBlock{}, err
	}

	rangeRef := refString(b.resolver, sheetID, rect)
	result, err := b.reader.ReadRange(ctx, ReadRequest{
		SheetID:  sheetID,
		Rect:     rect,
		MaxCells: b.opts.MaxBlockCells,
		DLP:      dlp,
	})
	stats.RangeReads++
	if err != nil {
		if ctx.Err() != nil {
			return DataBlock{}, ctx.Err()
		}
		// Unexpected reader fault degrades to a placeholder, same as a tool
		// error result.
		zap.L().Warn("contextbuild: range read failed",
			zap.String("sheet", sheetID),
			zap.String("range", rect.A1()),
			zap.Error(err),
		)
		result = ReadResult{Err: &BlockError{Code: ErrCodeRuntime, Message: err.Error()}}
	}

	var block DataBlock
	if result.Err != nil {
		block = placeholderBlock(kind, sheetID, rangeRef, result.Err)
	} else {
		block = labeledBlock(kind, sheetID, rangeRef, rect, result.Values)
	}

	b.blocks.put(key, blockEntry{block: block, rect: rect, version: version})
	return block, nil
}

// sliceFromSchemaSample derives a smaller block from the cached oversized
// schema sample without a second read. The sliced result is cached by the
// caller under its own key so it survives eviction of the larger block.
func (b *Builder) sliceFromSchemaSample(sheetID string, rect rangeref.Rect, version int64, dlp DLPContext) (DataBlock, bool) {
	schemaRect := b.schemaWindow(sheetID)
	entry, ok := b.blocks.peek(blockKey(dlp.Key(), blockSchemaSample, sheetID, schemaRect))
	if !ok || entry.version != version || entry.block.Error != nil {
		return DataBlock{}, false
	}
	if !entry.rect.SameOrigin(rect) || !entry.rect.Contains(rect) {
		return DataBlock{}, false
	}

	rows := rect.Rows()
	cols := rect.Cols()
	values := make([][]string, 0, rows)
	for r := 0; r < rows && r < len(entry.block.Values); r++ {
		src := entry.block.Values[r]
		if cols < len(src) {
			src = src[:cols]
		}
		values = append(values, append([]string(nil), src...))
	}
	rangeRef := refString(b.resolver, sheetID, rect)
	return labeledBlock(BlockSheetSample, sheetID, rangeRef, rect, values), true
}
