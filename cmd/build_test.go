//go:build !integration

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridwise/sheetctx/internal/contextbuild"
	"github.com/gridwise/sheetctx/internal/grid"
	"github.com/gridwise/sheetctx/internal/rangeref"
)

func testEnv(t *testing.T) *builderEnv {
	t.Helper()
	wb := grid.NewWorkbook("book")
	require.NoError(t, wb.AddSheet("sheet1", "Revenue", [][]string{{"a"}}))
	require.NoError(t, wb.AddSheet("sheet2", "Q1 Notes", [][]string{{"b"}}))
	return &builderEnv{
		Workbook: wb,
		DLP:      contextbuild.DLPContext{PolicyID: "p1"},
	}
}

func TestResolveInputDefaultsToFirstSheet(t *testing.T) {
	env := testEnv(t)

	input, err := resolveInput(env, "", "", "what changed?")
	require.NoError(t, err)

	assert.Equal(t, "sheet1", input.ActiveSheetID)
	assert.Nil(t, input.SelectedRange)
	assert.Equal(t, "what changed?", input.FocusQuestion)
	assert.Equal(t, "p1", input.DLP.PolicyID)
}

func TestResolveInputByDisplayName(t *testing.T) {
	env := testEnv(t)

	input, err := resolveInput(env, "Q1 Notes", "", "")
	require.NoError(t, err)
	assert.Equal(t, "sheet2", input.ActiveSheetID)
}

func TestResolveInputByStableID(t *testing.T) {
	env := testEnv(t)

	input, err := resolveInput(env, "sheet2", "", "")
	require.NoError(t, err)
	assert.Equal(t, "sheet2", input.ActiveSheetID)
}

func TestResolveInputUnknownSheet(t *testing.T) {
	env := testEnv(t)

	_, err := resolveInput(env, "Expenses", "", "")
	assert.Error(t, err)
}

func TestResolveInputBareSelection(t *testing.T) {
	env := testEnv(t)

	input, err := resolveInput(env, "Revenue", "B2:C10", "")
	require.NoError(t, err)

	require.NotNil(t, input.SelectedRange)
	assert.Equal(t, "sheet1", input.SelectedRange.SheetID)
	assert.Equal(t, rangeref.Rect{StartRow: 2, StartCol: 2, EndRow: 10, EndCol: 3}, input.SelectedRange.Rect)
}

func TestResolveInputQualifiedSelection(t *testing.T) {
	env := testEnv(t)

	// Selection on a different sheet than the active one.
	input, err := resolveInput(env, "Revenue", "'Q1 Notes'!A1:B2", "")
	require.NoError(t, err)

	assert.Equal(t, "sheet1", input.ActiveSheetID)
	require.NotNil(t, input.SelectedRange)
	assert.Equal(t, "sheet2", input.SelectedRange.SheetID)
	assert.Equal(t, rangeref.Rect{StartRow: 1, StartCol: 1, EndRow: 2, EndCol: 2}, input.SelectedRange.Rect)
}

func TestResolveInputMalformedSelection(t *testing.T) {
	env := testEnv(t)

	_, err := resolveInput(env, "", "not-a-range", "")
	assert.Error(t, err)
}

func TestResolveSheetIDEmptyWorkbook(t *testing.T) {
	env := &builderEnv{Workbook: grid.NewWorkbook("empty")}

	_, err := resolveSheetID(env, "")
	assert.Error(t, err)
}
