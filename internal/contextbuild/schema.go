package contextbuild

import (
	"strconv"
	"strings"

	"github.com/gridwise/sheetctx/internal/rangeref"
)

// emptySchema is the canonical schema for sheets whose sample could not be
// read. It must never be populated from placeholder values.
func emptySchema() SheetSchema {
	return SheetSchema{Tables: []Table{}, NamedRanges: []NamedRange{}, DataRegions: []DataRegion{}}
}

// extractSchema derives a sheet's structural schema from a sampled window.
// Named ranges and tables come from the schema metadata snapshot; data
// regions are inferred from the sample itself.
func extractSchema(sheetID string, meta *SchemaMetadata, window rangeref.Rect, values [][]string, resolver SheetNameResolver) SheetSchema {
	schema := emptySchema()
	if meta != nil {
		if nrs, ok := meta.NamedRangesBySheet[sheetID]; ok {
			schema.NamedRanges = append(schema.NamedRanges, nrs...)
		}
		if tbs, ok := meta.TablesBySheet[sheetID]; ok {
			schema.Tables = append(schema.Tables, tbs...)
		}
	}
	for _, found := range detectDataRegions(window, values) {
		region := found.region
		region.Range = refString(resolver, sheetID, found.rect)
		schema.DataRegions = append(schema.DataRegions, region)
	}
	return schema
}

type foundRegion struct {
	region DataRegion
	rect   rangeref.Rect
}

// detectDataRegions finds contiguous bands of non-empty rows in the sampled
// window and reports each as a rectangular region in absolute coordinates.
func detectDataRegions(window rangeref.Rect, values [][]string) []foundRegion {
	var regions []foundRegion
	start := -1
	for r := 0; r <= len(values); r++ {
		empty := r == len(values) || rowEmpty(values[r])
		if !empty && start < 0 {
			start = r
		}
		if empty && start >= 0 {
			if region, ok := buildRegion(window, values, start, r-1); ok {
				regions = append(regions, region)
			}
			start = -1
		}
	}
	return regions
}

func buildRegion(window rangeref.Rect, values [][]string, startRow, endRow int) (foundRegion, bool) {
	minCol, maxCol := -1, -1
	for r := startRow; r <= endRow; r++ {
		for c, v := range values[r] {
			if strings.TrimSpace(v) == "" {
				continue
			}
			if minCol < 0 || c < minCol {
				minCol = c
			}
			if c > maxCol {
				maxCol = c
			}
		}
	}
	if minCol < 0 {
		return foundRegion{}, false
	}

	rect := rangeref.Rect{
		StartRow: window.StartRow + startRow,
		StartCol: window.StartCol + minCol,
		EndRow:   window.StartRow + endRow,
		EndCol:   window.StartCol + maxCol,
	}

	region := DataRegion{
		Range:    rect.A1(),
		RowCount: rect.Rows(),
		ColCount: rect.Cols(),
	}

	if endRow > startRow && looksLikeHeader(values[startRow], values[startRow+1], minCol, maxCol) {
		region.HasHeader = true
		for c := minCol; c <= maxCol; c++ {
			region.Headers = append(region.Headers, cellAt(values[startRow], c))
		}
	}
	return foundRegion{region: region, rect: rect}, true
}

// looksLikeHeader reports whether the first row of a region reads as column
// labels: every populated label is non-numeric while the following row has
// at least one numeric cell.
func looksLikeHeader(first, second []string, minCol, maxCol int) bool {
	labels := 0
	for c := minCol; c <= maxCol; c++ {
		v := strings.TrimSpace(cellAt(first, c))
		if v == "" {
			continue
		}
		if isNumeric(v) {
			return false
		}
		labels++
	}
	if labels == 0 {
		return false
	}
	for c := minCol; c <= maxCol; c++ {
		if isNumeric(strings.TrimSpace(cellAt(second, c))) {
			return true
		}
	}
	return false
}

func rowEmpty(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func cellAt(row []string, c int) string {
	if c < 0 || c >= len(row) {
		return ""
	}
	return row[c]
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimPrefix(s, "$")
	s = strings.TrimSuffix(s, "%")
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}
