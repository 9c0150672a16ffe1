package retrieval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridwise/sheetctx/internal/grid"
)

func indexedWorkbook(t *testing.T) (*grid.Workbook, *Index) {
	t.Helper()
	w := grid.NewWorkbook("wb")
	require.NoError(t, w.AddSheet("sheet1", "Revenue", [][]string{
		{"Month", "Revenue"},
		{"January", "12000"},
		{"February", "13500"},
	}))
	require.NoError(t, w.AddSheet("sheet2", "Headcount", [][]string{
		{"Team", "Headcount"},
		{"Engineering", "14"},
		{"Sales", "6"},
	}))

	ix := NewIndex()
	require.NoError(t, ix.IndexWorkbook(context.Background(), w, w, w, IndexOptions{}))
	return w, ix
}

func TestRetrieveMatchesRelevantSheet(t *testing.T) {
	_, ix := indexedWorkbook(t)

	chunks, stats, err := ix.Retrieve(context.Background(), "engineering headcount", 5)
	require.NoError(t, err)
	require.NotNil(t, stats)
	assert.Equal(t, 2, stats.ChunkCount)

	require.NotEmpty(t, chunks)
	top := chunks[0]
	assert.Equal(t, "Headcount", top.SheetName)
	assert.Equal(t, "sheet2-r1", top.ID)
	assert.Equal(t, "A1:B3", top.Rect.A1())
	assert.Contains(t, top.Text, "Engineering")
}

func TestRetrieveNoMatch(t *testing.T) {
	_, ix := indexedWorkbook(t)

	chunks, stats, err := ix.Retrieve(context.Background(), "zebra migration patterns", 5)
	require.NoError(t, err)
	assert.Empty(t, chunks)
	assert.Equal(t, 2, stats.ChunkCount)
}

func TestRetrieveEmptyQuery(t *testing.T) {
	_, ix := indexedWorkbook(t)

	chunks, _, err := ix.Retrieve(context.Background(), "  ! ", 5)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestRetrieveLimit(t *testing.T) {
	w := grid.NewWorkbook("wb")
	values := make([][]string, 40)
	for i := range values {
		values[i] = []string{"invoice", "overdue"}
	}
	require.NoError(t, w.AddSheet("sheet1", "Invoices", values))

	ix := NewIndex()
	require.NoError(t, ix.IndexWorkbook(context.Background(), w, w, w, IndexOptions{RowsPerChunk: 4}))

	chunks, stats, err := ix.Retrieve(context.Background(), "overdue invoice", 3)
	require.NoError(t, err)
	assert.Equal(t, 10, stats.ChunkCount)
	assert.Len(t, chunks, 3)
}

func TestRetrieveStableOrderOnTies(t *testing.T) {
	_, ix := indexedWorkbook(t)

	first, _, err := ix.Retrieve(context.Background(), "month team", 10)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, _, err := ix.Retrieve(context.Background(), "month team", 10)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestIndexSkipsDeniedSheets(t *testing.T) {
	w := grid.NewWorkbook("wb")
	require.NoError(t, w.AddSheet("sheet1", "Public", [][]string{{"open", "data"}}))
	require.NoError(t, w.AddSheet("sheet2", "Salaries", [][]string{{"secret", "salary"}}))
	gated := grid.NewGatedReader(w, w, grid.Policy{ID: "p1", DeniedSheets: []string{"Salaries"}})

	ix := NewIndex()
	require.NoError(t, ix.IndexWorkbook(context.Background(), w, gated, w, IndexOptions{}))

	chunks, _, err := ix.Retrieve(context.Background(), "secret salary", 5)
	require.NoError(t, err)
	assert.Empty(t, chunks, "denied content must not be indexed")

	chunks, _, err = ix.Retrieve(context.Background(), "open data", 5)
	require.NoError(t, err)
	assert.Len(t, chunks, 1)
}

func TestIndexCancellation(t *testing.T) {
	w := grid.NewWorkbook("wb")
	require.NoError(t, w.AddSheet("sheet1", "S", [][]string{{"a", "b"}}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ix := NewIndex()
	err := ix.IndexWorkbook(ctx, w, w, w, IndexOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTokenize(t *testing.T) {
	terms := tokenize("Q1 Revenue: $12,000 (up 8%) revenue")
	assert.Equal(t, 2, terms["revenue"])
	assert.Equal(t, 1, terms["q1"])
	assert.Equal(t, 1, terms["000"])
	assert.NotContains(t, terms, "8", "single characters are noise")

	assert.Nil(t, tokenize(""))
	assert.Nil(t, tokenize("! @ #"))
}
