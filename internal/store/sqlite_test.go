package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridwise/sheetctx/internal/contextbuild"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "builds.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleStats(id, workbook string) contextbuild.BuildStats {
	return contextbuild.BuildStats{
		BuildID:      id,
		WorkbookID:   workbook,
		Mode:         contextbuild.ModeChat,
		Model:        "gpt-4o",
		StartedAt:    time.Now().UTC().Truncate(time.Second),
		PromptTokens: 1234,
		SheetCount:   3,
		RangeReads:   5,
		BlockCounts:  map[string]int{"sheet_sample": 1},
	}
}

func TestRecordAndGetBuild(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	stats := sampleStats("b1", "wb1")
	require.NoError(t, s.RecordBuild(ctx, stats))

	rec, err := s.GetBuild(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, "b1", rec.ID)
	assert.Equal(t, "wb1", rec.WorkbookID)
	assert.Equal(t, "chat", rec.Mode)
	assert.Equal(t, 1234, rec.PromptTokens)
	assert.False(t, rec.Cancelled)
	assert.Empty(t, rec.Error)
	// Full stats round-trip through the JSON column.
	assert.Equal(t, 5, rec.Stats.RangeReads)
	assert.Equal(t, map[string]int{"sheet_sample": 1}, rec.Stats.BlockCounts)
}

func TestGetBuildNotFound(t *testing.T) {
	s := testStore(t)

	_, err := s.GetBuild(context.Background(), "missing")
	assert.Error(t, err)
}

func TestListBuildsFilters(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	a := sampleStats("b1", "wb1")
	require.NoError(t, s.RecordBuild(ctx, a))

	b := sampleStats("b2", "wb2")
	b.Mode = contextbuild.ModeAgent
	b.StartedAt = a.StartedAt.Add(time.Second)
	require.NoError(t, s.RecordBuild(ctx, b))

	c := sampleStats("b3", "wb1")
	c.Cancelled = true
	c.Error = context.Canceled.Error()
	c.StartedAt = a.StartedAt.Add(2 * time.Second)
	require.NoError(t, s.RecordBuild(ctx, c))

	all, err := s.ListBuilds(ctx, BuildFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	// Newest first.
	assert.Equal(t, "b3", all[0].ID)

	byWorkbook, err := s.ListBuilds(ctx, BuildFilter{WorkbookID: "wb1"})
	require.NoError(t, err)
	assert.Len(t, byWorkbook, 2)

	byMode, err := s.ListBuilds(ctx, BuildFilter{Mode: "agent"})
	require.NoError(t, err)
	require.Len(t, byMode, 1)
	assert.Equal(t, "b2", byMode[0].ID)

	failed, err := s.ListBuilds(ctx, BuildFilter{FailedOnly: true})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "b3", failed[0].ID)
	assert.True(t, failed[0].Cancelled)

	limited, err := s.ListBuilds(ctx, BuildFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "b2", limited[0].ID)
}

func TestPruneBefore(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	old := sampleStats("b1", "wb1")
	old.StartedAt = time.Now().UTC().Add(-48 * time.Hour)
	require.NoError(t, s.RecordBuild(ctx, old))
	require.NoError(t, s.RecordBuild(ctx, sampleStats("b2", "wb1")))

	n, err := s.PruneBefore(ctx, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	remaining, err := s.ListBuilds(ctx, BuildFilter{})
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "b2", remaining[0].ID)
}

func TestHookSwallowsFailures(t *testing.T) {
	s := testStore(t)
	hook := s.Hook()

	hook(sampleStats("b1", "wb1"))
	rec, err := s.GetBuild(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, "b1", rec.ID)

	// Closed store: the hook must not panic.
	require.NoError(t, s.Close())
	assert.NotPanics(t, func() { hook(sampleStats("b2", "wb1")) })
}
