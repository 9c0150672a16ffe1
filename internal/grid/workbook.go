package grid

import (
	"context"
	"strings"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/gridwise/sheetctx/internal/contextbuild"
	"github.com/gridwise/sheetctx/internal/rangeref"
)

// Sheet is one worksheet snapshot with a monotonically increasing content
// version.
type Sheet struct {
	ID      string
	Name    string
	values  [][]string
	version int64
}

// Workbook is an in-memory workbook store. It implements the document
// store, range reader, and sheet-name resolver contracts consumed by the
// context builder. Safe for concurrent use.
type Workbook struct {
	mu     sync.RWMutex
	id     string
	sheets map[string]*Sheet
	order  []string
}

// NewWorkbook creates an empty workbook with the given stable id.
func NewWorkbook(id string) *Workbook {
	return &Workbook{id: id, sheets: make(map[string]*Sheet)}
}

// AddSheet appends a sheet with the given values. The value matrix is
// row-major, 0-indexed, and may be ragged.
func (w *Workbook) AddSheet(sheetID, name string, values [][]string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.sheets[sheetID]; ok {
		return eris.Errorf("grid: sheet %q already exists", sheetID)
	}
	w.sheets[sheetID] = &Sheet{ID: sheetID, Name: name, values: cloneValues(values), version: 1}
	w.order = append(w.order, sheetID)
	return nil
}

// SetCell writes one cell (1-based coordinates), growing the sheet as
// needed, and bumps the sheet's content version.
func (w *Workbook) SetCell(sheetID string, row, col int, value string) error {
	if row < 1 || col < 1 {
		return eris.Errorf("grid: invalid cell %d,%d", row, col)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	sheet, ok := w.sheets[sheetID]
	if !ok {
		return eris.Errorf("grid: unknown sheet %q", sheetID)
	}
	for len(sheet.values) < row {
		sheet.values = append(sheet.values, nil)
	}
	line := sheet.values[row-1]
	for len(line) < col {
		line = append(line, "")
	}
	line[col-1] = value
	sheet.values[row-1] = line
	sheet.version++
	return nil
}

// RenameSheet changes a sheet's display name. Content versions are
// untouched; renames invalidate schema metadata, not cell data.
func (w *Workbook) RenameSheet(sheetID, name string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	sheet, ok := w.sheets[sheetID]
	if !ok {
		return eris.Errorf("grid: unknown sheet %q", sheetID)
	}
	sheet.Name = name
	return nil
}

func (w *Workbook) WorkbookID() string { return w.id }

func (w *Workbook) SheetIDs() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]string(nil), w.order...)
}

func (w *Workbook) UsedRange(sheetID string) (rangeref.Rect, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	sheet, ok := w.sheets[sheetID]
	if !ok {
		return rangeref.Rect{}, false
	}
	rows, cols := 0, 0
	for r, line := range sheet.values {
		for c, v := range line {
			if strings.TrimSpace(v) == "" {
				continue
			}
			if r+1 > rows {
				rows = r + 1
			}
			if c+1 > cols {
				cols = c + 1
			}
		}
	}
	if rows == 0 {
		return rangeref.Rect{}, false
	}
	return rangeref.Rect{StartRow: 1, StartCol: 1, EndRow: rows, EndCol: cols}, true
}

func (w *Workbook) SheetContentVersion(sheetID string) (int64, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	sheet, ok := w.sheets[sheetID]
	if !ok {
		return 0, false
	}
	return sheet.version, true
}

func (w *Workbook) DocumentVersion() int64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	var v int64
	for _, sheet := range w.sheets {
		v += sheet.version
	}
	return v
}

func (w *Workbook) DisplayName(sheetID string) (string, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	sheet, ok := w.sheets[sheetID]
	if !ok {
		return "", false
	}
	return sheet.Name, true
}

func (w *Workbook) SheetID(displayName string) (string, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, id := range w.order {
		if w.sheets[id].Name == displayName {
			return id, true
		}
	}
	return "", false
}

// ReadRange reads a rectangle, blank-filling cells outside the populated
// area. A cell cap trims trailing rows so whole rows are always returned.
func (w *Workbook) ReadRange(ctx context.Context, req contextbuild.ReadRequest) (contextbuild.ReadResult, error) {
	if err := ctx.Err(); err != nil {
		return contextbuild.ReadResult{}, err
	}
	if !req.Rect.Valid() {
		return contextbuild.ReadResult{
			Err: &contextbuild.BlockError{Code: contextbuild.ErrCodeRuntime, Message: "invalid range"},
		}, nil
	}

	w.mu.RLock()
	defer w.mu.RUnlock()
	sheet, ok := w.sheets[req.SheetID]
	if !ok {
		return contextbuild.ReadResult{
			Err: &contextbuild.BlockError{Code: contextbuild.ErrCodeRuntime, Message: "unknown sheet " + req.SheetID},
		}, nil
	}

	rect := req.Rect
	if req.MaxCells > 0 && rect.Cells() > req.MaxCells {
		maxRows := req.MaxCells / rect.Cols()
		if maxRows < 1 {
			maxRows = 1
		}
		rect = rect.ClampTo(maxRows, rect.Cols())
	}

	values := make([][]string, 0, rect.Rows())
	for row := rect.StartRow; row <= rect.EndRow; row++ {
		line := make([]string, rect.Cols())
		if row-1 < len(sheet.values) {
			src := sheet.values[row-1]
			for col := rect.StartCol; col <= rect.EndCol; col++ {
				if col-1 < len(src) {
					line[col-rect.StartCol] = src[col-1]
				}
			}
		}
		values = append(values, line)
	}
	return contextbuild.ReadResult{Values: values}, nil
}

func cloneValues(values [][]string) [][]string {
	out := make([][]string, len(values))
	for i, row := range values {
		out[i] = append([]string(nil), row...)
	}
	return out
}
