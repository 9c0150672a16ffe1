// Package retrieval provides a lexical workbook index that serves as the
// builder's retriever. Chunks are horizontal row bands per sheet, scored by
// term frequency weighted with inverse document frequency.
package retrieval

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/gridwise/sheetctx/internal/contextbuild"
	"github.com/gridwise/sheetctx/internal/rangeref"
)

// IndexOptions bound chunk geometry.
type IndexOptions struct {
	RowsPerChunk int // default 8
	MaxCols      int // default 30
}

func (o IndexOptions) withDefaults() IndexOptions {
	if o.RowsPerChunk <= 0 {
		o.RowsPerChunk = 8
	}
	if o.MaxCols <= 0 {
		o.MaxCols = 30
	}
	return o
}

type chunkDoc struct {
	id        string
	sheetID   string
	sheetName string
	rect      rangeref.Rect
	text      string
	terms     map[string]int
}

// Index is an in-memory lexical index over one workbook. Rebuild it after
// content changes; queries are safe concurrently with a rebuild.
type Index struct {
	mu        sync.RWMutex
	chunks    []chunkDoc
	docFreq   map[string]int
	indexedAt time.Time
}

func NewIndex() *Index {
	return &Index{docFreq: make(map[string]int)}
}

// IndexWorkbook rebuilds the index from the store. Reads go through the
// given reader, so policy-denied ranges never enter the index.
func (ix *Index) IndexWorkbook(ctx context.Context, store contextbuild.DocumentStore, reader contextbuild.RangeReader, resolver contextbuild.SheetNameResolver, opts IndexOptions) error {
	opts = opts.withDefaults()

	var chunks []chunkDoc
	sheetIDs := append([]string(nil), store.SheetIDs()...)
	sort.Strings(sheetIDs)
	for _, sheetID := range sheetIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		used, ok := store.UsedRange(sheetID)
		if !ok {
			continue
		}
		sheetName := sheetID
		if resolver != nil {
			if dn, ok := resolver.DisplayName(sheetID); ok {
				sheetName = dn
			}
		}

		for start := used.StartRow; start <= used.EndRow; start += opts.RowsPerChunk {
			end := start + opts.RowsPerChunk - 1
			if end > used.EndRow {
				end = used.EndRow
			}
			rect := rangeref.Rect{StartRow: start, StartCol: used.StartCol, EndRow: end, EndCol: used.EndCol}
			rect = rect.ClampTo(rect.Rows(), opts.MaxCols)

			result, err := reader.ReadRange(ctx, contextbuild.ReadRequest{SheetID: sheetID, Rect: rect})
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return eris.Wrap(err, "retrieval: index read")
			}
			if result.Err != nil {
				zap.L().Debug("retrieval: skipping unreadable band",
					zap.String("sheet", sheetID),
					zap.String("range", rect.A1()),
					zap.String("code", result.Err.Code),
				)
				continue
			}

			text := flatten(result.Values)
			terms := tokenize(text)
			if len(terms) == 0 {
				continue
			}
			chunks = append(chunks, chunkDoc{
				id:        fmt.Sprintf("%s-r%d", sheetID, start),
				sheetID:   sheetID,
				sheetName: sheetName,
				rect:      rect,
				text:      text,
				terms:     terms,
			})
		}
	}

	docFreq := make(map[string]int)
	for _, c := range chunks {
		for term := range c.terms {
			docFreq[term]++
		}
	}

	ix.mu.Lock()
	ix.chunks = chunks
	ix.docFreq = docFreq
	ix.indexedAt = time.Now().UTC()
	ix.mu.Unlock()

	zap.L().Debug("retrieval: index rebuilt",
		zap.String("workbook", store.WorkbookID()),
		zap.Int("chunks", len(chunks)),
	)
	return nil
}

// Retrieve ranks chunks against the query. Ties break by chunk id so equal
// scores return in a stable order.
func (ix *Index) Retrieve(ctx context.Context, query string, limit int) ([]contextbuild.RetrievedChunk, *contextbuild.IndexStats, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	terms := tokenize(query)

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	stats := &contextbuild.IndexStats{
		ChunkCount: len(ix.chunks),
		IndexedAt:  ix.indexedAt.Unix(),
	}
	if len(terms) == 0 || len(ix.chunks) == 0 {
		return nil, stats, nil
	}

	type scored struct {
		chunk chunkDoc
		score float64
	}
	var hits []scored
	total := float64(len(ix.chunks))
	for _, c := range ix.chunks {
		var score float64
		for term := range terms {
			tf := c.terms[term]
			if tf == 0 {
				continue
			}
			idf := math.Log(1 + total/float64(ix.docFreq[term]))
			score += float64(tf) * idf
		}
		if score > 0 {
			hits = append(hits, scored{chunk: c, score: score})
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].chunk.id < hits[j].chunk.id
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}

	out := make([]contextbuild.RetrievedChunk, 0, len(hits))
	for _, h := range hits {
		out = append(out, contextbuild.RetrievedChunk{
			ID:        h.chunk.id,
			Text:      snippet(h.chunk.text, 160),
			SheetName: h.chunk.sheetName,
			Rect:      h.chunk.rect,
		})
	}
	return out, stats, nil
}

func flatten(values [][]string) string {
	var sb strings.Builder
	for _, row := range values {
		for _, v := range row {
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			if sb.Len() > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteString(v)
		}
	}
	return sb.String()
}

// tokenize lowercases and splits on non-alphanumeric runes, counting term
// frequencies. Single characters are dropped as noise.
func tokenize(text string) map[string]int {
	terms := make(map[string]int)
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		terms[f]++
	}
	if len(terms) == 0 {
		return nil
	}
	return terms
}

func snippet(text string, max int) string {
	if len(text) <= max {
		return text
	}
	cut := strings.LastIndexByte(text[:max], ' ')
	if cut <= 0 {
		cut = max
	}
	return text[:cut]
}
