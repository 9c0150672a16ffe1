// Package rangeref models rectangular cell ranges in A1 notation: parsing,
// formatting, clamping, and sheet-qualified references with spreadsheet
// quoting rules.
package rangeref

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Rect is a rectangular cell region with 1-based inclusive bounds.
type Rect struct {
	StartRow int `json:"startRow"`
	StartCol int `json:"startCol"`
	EndRow   int `json:"endRow"`
	EndCol   int `json:"endCol"`
}

// Valid reports whether the rect has positive, ordered bounds.
func (r Rect) Valid() bool {
	return r.StartRow >= 1 && r.StartCol >= 1 && r.EndRow >= r.StartRow && r.EndCol >= r.StartCol
}

// Rows returns the row count.
func (r Rect) Rows() int { return r.EndRow - r.StartRow + 1 }

// Cols returns the column count.
func (r Rect) Cols() int { return r.EndCol - r.StartCol + 1 }

// Cells returns the total cell count.
func (r Rect) Cells() int { return r.Rows() * r.Cols() }

// Contains reports whether other lies entirely inside r.
func (r Rect) Contains(other Rect) bool {
	return other.StartRow >= r.StartRow && other.StartCol >= r.StartCol &&
		other.EndRow <= r.EndRow && other.EndCol <= r.EndCol
}

// SameOrigin reports whether both rects share the same top-left cell.
func (r Rect) SameOrigin(other Rect) bool {
	return r.StartRow == other.StartRow && r.StartCol == other.StartCol
}

// ClampTo shrinks r so it fits within at most maxRows x maxCols, anchored at
// the top-left corner.
func (r Rect) ClampTo(maxRows, maxCols int) Rect {
	out := r
	if maxRows > 0 && out.Rows() > maxRows {
		out.EndRow = out.StartRow + maxRows - 1
	}
	if maxCols > 0 && out.Cols() > maxCols {
		out.EndCol = out.StartCol + maxCols - 1
	}
	return out
}

// Intersect returns the overlap of two rects and whether one exists.
func (r Rect) Intersect(other Rect) (Rect, bool) {
	out := Rect{
		StartRow: maxInt(r.StartRow, other.StartRow),
		StartCol: maxInt(r.StartCol, other.StartCol),
		EndRow:   minInt(r.EndRow, other.EndRow),
		EndCol:   minInt(r.EndCol, other.EndCol),
	}
	if !out.Valid() {
		return Rect{}, false
	}
	return out, true
}

// A1 renders the rect in A1 notation. Single cells render without a colon.
func (r Rect) A1() string {
	start := CellName(r.StartCol, r.StartRow)
	if r.StartRow == r.EndRow && r.StartCol == r.EndCol {
		return start
	}
	return start + ":" + CellName(r.EndCol, r.EndRow)
}

// CellName converts 1-based column/row coordinates to an A1 cell name.
func CellName(col, row int) string {
	return ColName(col) + itoa(row)
}

// ColName converts a 1-based column number to its letter form (1 = A, 27 = AA).
func ColName(col int) string {
	var b [8]byte
	i := len(b)
	for col > 0 {
		col--
		i--
		b[i] = byte('A' + col%26)
		col /= 26
	}
	return string(b[i:])
}

// ParseCell parses an A1 cell name into 1-based column/row coordinates.
func ParseCell(s string) (col, row int, err error) {
	s = strings.TrimSpace(strings.ReplaceAll(s, "$", ""))
	i := 0
	for i < len(s) {
		c := s[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		if c < 'A' || c > 'Z' {
			break
		}
		col = col*26 + int(c-'A') + 1
		i++
	}
	if i == 0 || i == len(s) {
		return 0, 0, eris.Errorf("rangeref: invalid cell %q", s)
	}
	for ; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return 0, 0, eris.Errorf("rangeref: invalid cell %q", s)
		}
		row = row*10 + int(c-'0')
	}
	if row < 1 {
		return 0, 0, eris.Errorf("rangeref: invalid cell %q", s)
	}
	return col, row, nil
}

// ParseRect parses an A1 range ("A1:C3" or a single cell "B2"), normalizing
// reversed bounds.
func ParseRect(s string) (Rect, error) {
	s = strings.TrimSpace(s)
	start, end := s, s
	if idx := strings.IndexByte(s, ':'); idx >= 0 {
		start, end = s[:idx], s[idx+1:]
	}
	c1, r1, err := ParseCell(start)
	if err != nil {
		return Rect{}, err
	}
	c2, r2, err := ParseCell(end)
	if err != nil {
		return Rect{}, err
	}
	if c2 < c1 {
		c1, c2 = c2, c1
	}
	if r2 < r1 {
		r1, r2 = r2, r1
	}
	return Rect{StartRow: r1, StartCol: c1, EndRow: r2, EndCol: c2}, nil
}

// Ref is a sheet-qualified range reference.
type Ref struct {
	SheetName string
	Rect      Rect
}

// String renders the reference with spreadsheet quoting: sheet names that are
// not plain identifiers are wrapped in single quotes, embedded quotes doubled.
func (r Ref) String() string {
	return QuoteSheetName(r.SheetName) + "!" + r.Rect.A1()
}

// QuoteSheetName applies A1-reference quoting rules to a sheet display name.
func QuoteSheetName(name string) string {
	if name == "" {
		return "''"
	}
	if isPlainSheetName(name) {
		return name
	}
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}

// ParseRef parses a sheet-qualified reference like "Sheet1!A1:B2" or
// "'My Sheet'!C3". A bare range yields an empty sheet name.
func ParseRef(s string) (Ref, error) {
	s = strings.TrimSpace(s)
	bang := -1
	if strings.HasPrefix(s, "'") {
		// Scan past the quoted sheet name; '' is an escaped quote.
		i := 1
		for i < len(s) {
			if s[i] == '\'' {
				if i+1 < len(s) && s[i+1] == '\'' {
					i += 2
					continue
				}
				break
			}
			i++
		}
		if i >= len(s) || i+1 >= len(s) || s[i+1] != '!' {
			return Ref{}, eris.Errorf("rangeref: invalid reference %q", s)
		}
		name := strings.ReplaceAll(s[1:i], "''", "'")
		rect, err := ParseRect(s[i+2:])
		if err != nil {
			return Ref{}, err
		}
		return Ref{SheetName: name, Rect: rect}, nil
	}
	bang = strings.IndexByte(s, '!')
	if bang < 0 {
		rect, err := ParseRect(s)
		if err != nil {
			return Ref{}, err
		}
		return Ref{Rect: rect}, nil
	}
	rect, err := ParseRect(s[bang+1:])
	if err != nil {
		return Ref{}, err
	}
	return Ref{SheetName: s[:bang], Rect: rect}, nil
}

func isPlainSheetName(name string) bool {
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c == '_':
		case c >= '0' && c <= '9', c == '.':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func itoa(n int) string {
	var b [12]byte
	i := len(b)
	for n > 0 {
		i--
		b[i] = byte('0' + n%10)
		n /= 10
	}
	return string(b[i:])
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
