package grid

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// OpenWorkbook loads an XLSX file into an in-memory workbook snapshot.
// Sheet ids are positional ("sheet1", "sheet2", ...) and stay stable across
// renames of the display name.
func OpenWorkbook(path string) (*Workbook, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "grid: open workbook")
	}
	return fromXLSX(workbookID(path), f)
}

// OpenWorkbookBinary parses XLSX bytes, for uploads that never touch disk.
func OpenWorkbookBinary(name string, data []byte) (*Workbook, error) {
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return nil, eris.Wrap(err, "grid: parse workbook")
	}
	return fromXLSX(workbookID(name), f)
}

func fromXLSX(id string, f *xlsx.File) (*Workbook, error) {
	if len(f.Sheets) == 0 {
		return nil, eris.New("grid: workbook has no sheets")
	}
	w := NewWorkbook(id)
	for i, sheet := range f.Sheets {
		values := make([][]string, 0, len(sheet.Rows))
		for _, row := range sheet.Rows {
			line := make([]string, 0, len(row.Cells))
			for _, cell := range row.Cells {
				line = append(line, cell.String())
			}
			values = append(values, line)
		}
		sheetID := fmt.Sprintf("sheet%d", i+1)
		if err := w.AddSheet(sheetID, sheet.Name, values); err != nil {
			return nil, err
		}
	}
	return w, nil
}

func workbookID(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
