//go:build !integration

package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/gridwise/sheetctx/internal/contextbuild"
	"github.com/gridwise/sheetctx/internal/store"
)

func TestFormatBuildsList(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 15, 0, 0, time.UTC)
	builds := []store.BuildRecord{
		{
			ID:           "abc12345-6789-0000-0000-000000000000",
			WorkbookID:   "finance",
			Mode:         "chat",
			PromptTokens: 1200,
			Stats:        contextbuild.BuildStats{RangeReads: 4},
			CreatedAt:    now,
		},
		{
			ID:         "def12345-6789-0000-0000-000000000000",
			WorkbookID: "forecast",
			Mode:       "agent",
			Error:      "read failed",
			CreatedAt:  now.Add(-time.Hour),
		},
	}

	var buf bytes.Buffer
	formatBuildsList(&buf, builds)

	output := buf.String()
	assert.Contains(t, output, "ID")
	assert.Contains(t, output, "WORKBOOK")
	assert.Contains(t, output, "abc12345")
	assert.NotContains(t, output, "abc12345-6789")
	assert.Contains(t, output, "finance")
	assert.Contains(t, output, "1200")
	assert.Contains(t, output, "failed")
	assert.Contains(t, output, "2026-03-10T09:15:00Z")
}

func TestBuildStatus(t *testing.T) {
	assert.Equal(t, "ok", buildStatus(store.BuildRecord{}))
	assert.Equal(t, "failed", buildStatus(store.BuildRecord{Error: "boom"}))
	assert.Equal(t, "cancelled", buildStatus(store.BuildRecord{Cancelled: true, Error: "context canceled"}))
}
