package contextbuild

import (
	"context"
	"sort"

	"go.uber.org/zap"
)

// retrievalPlan is the deduplicated set of range reads derived from a
// retrieval result, plus the payload bookkeeping.
type retrievalPlan struct {
	reads    []SheetRange
	sheetIDs []string
	info     *RetrievalInfo
}

// runRetrieval queries the retriever and plans the retrieved-block reads.
// Retriever faults degrade to an empty plan; only cancellation propagates.
func (b *Builder) runRetrieval(ctx context.Context, query string, stats *BuildStats) ([]RetrievedChunk, *IndexStats, *retrievalPlan, error) {
	if b.retriever == nil || query == "" {
		return nil, nil, nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, nil, err
	}

	chunks, indexStats, err := b.retriever.Retrieve(ctx, query, b.opts.MaxRetrievedChunks)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, nil, ctx.Err()
		}
		zap.L().Warn("contextbuild: retrieval unavailable", zap.Error(err))
		return nil, nil, nil, nil
	}

	plan := b.planRetrievedReads(chunks, stats)
	plan.info.Query = query
	return chunks, indexStats, plan, nil
}

// planRetrievedReads resolves chunk sheet names to stable ids, clamps rects
// to block limits, and deduplicates identical (sheet, rect) targets so each
// rectangle is read once.
func (b *Builder) planRetrievedReads(chunks []RetrievedChunk, stats *BuildStats) *retrievalPlan {
	plan := &retrievalPlan{info: &RetrievalInfo{ChunkIDs: []string{}, RetrievedRanges: []string{}}}
	seenRects := make(map[string]bool)
	seenSheets := make(map[string]bool)

	for i, chunk := range chunks {
		if i >= b.opts.MaxRetrievedChunks {
			break
		}
		sheetID, ok := b.resolveSheetName(chunk.SheetName)
		if !ok {
			zap.L().Debug("contextbuild: retrieved chunk references unknown sheet",
				zap.String("chunk", chunk.ID),
				zap.String("sheet", chunk.SheetName),
			)
			continue
		}
		if !chunk.Rect.Valid() {
			continue
		}
		rect := chunk.Rect.ClampTo(b.opts.MaxBlockRows, b.opts.MaxBlockCols)

		plan.info.ChunkIDs = append(plan.info.ChunkIDs, chunk.ID)
		plan.info.RetrievedRanges = append(plan.info.RetrievedRanges, refString(b.resolver, sheetID, rect))
		if !seenSheets[sheetID] {
			seenSheets[sheetID] = true
			plan.sheetIDs = append(plan.sheetIDs, sheetID)
		}

		key := sheetID + "|" + rect.A1()
		if seenRects[key] {
			stats.RetrievalDedups++
			continue
		}
		seenRects[key] = true
		plan.reads = append(plan.reads, SheetRange{SheetID: sheetID, Rect: rect})
	}

	sort.Strings(plan.info.ChunkIDs)
	plan.info.RetrievedRanges = dedupSorted(plan.info.RetrievedRanges)
	return plan
}

// resolveSheetName maps a retrieval-returned display name to a stable sheet
// id, falling back to treating the name as an id when it matches one.
func (b *Builder) resolveSheetName(name string) (string, bool) {
	if b.resolver != nil {
		if id, ok := b.resolver.SheetID(name); ok {
			return id, true
		}
	}
	for _, id := range b.store.SheetIDs() {
		if id == name {
			return id, true
		}
	}
	return "", false
}

func dedupSorted(in []string) []string {
	sort.Strings(in)
	out := in[:0]
	var prev string
	for i, s := range in {
		if i > 0 && s == prev {
			continue
		}
		out = append(out, s)
		prev = s
	}
	return out
}
