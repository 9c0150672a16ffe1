package contextbuild

import (
	"fmt"
	"strings"
)

// Section keys, in canonical insertion order.
const (
	SectionWorkbookSummary = "workbook_summary"
	SectionSheetSchemas    = "sheet_schemas"
	SectionDataBlocks      = "data_blocks"
	SectionRetrieved       = "retrieved"
	SectionAttachments     = "attachments"
)

// sectionPriorities weights sections per mode: inline_edit favors raw data
// over structure, agent favors structure for multi-step tool use.
var sectionPriorities = map[Mode]map[string]int{
	ModeChat: {
		SectionWorkbookSummary: 50,
		SectionSheetSchemas:    70,
		SectionDataBlocks:      60,
		SectionRetrieved:       40,
		SectionAttachments:     30,
	},
	ModeAgent: {
		SectionWorkbookSummary: 50,
		SectionSheetSchemas:    90,
		SectionDataBlocks:      60,
		SectionRetrieved:       70,
		SectionAttachments:     30,
	},
	ModeInlineEdit: {
		SectionWorkbookSummary: 30,
		SectionSheetSchemas:    40,
		SectionDataBlocks:      90,
		SectionRetrieved:       20,
		SectionAttachments:     10,
	},
}

// assembleSections serializes the payload into prioritized prompt sections.
// Empty sections are dropped before packing. All iteration follows the
// payload's pre-sorted slices, so output is deterministic.
func assembleSections(payload *ContextPayload, chunks []RetrievedChunk, attachments []Attachment, mode Mode) []Section {
	prios, ok := sectionPriorities[mode]
	if !ok {
		prios = sectionPriorities[ModeChat]
	}

	var sections []Section
	add := func(key, body string) {
		if strings.TrimSpace(body) == "" {
			return
		}
		sections = append(sections, Section{Key: key, Priority: prios[key], Body: body})
	}

	add(SectionWorkbookSummary, renderWorkbookSummary(payload))
	add(SectionSheetSchemas, renderSheetSchemas(payload))
	add(SectionDataBlocks, renderDataBlocks(payload))
	add(SectionRetrieved, renderRetrieved(payload, chunks))
	add(SectionAttachments, renderAttachments(attachments))
	return sections
}

func renderWorkbookSummary(p *ContextPayload) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "workbook: %s\n", p.WorkbookID)
	fmt.Fprintf(&sb, "active sheet: %s\n", p.ActiveSheetID)
	if p.Selection != "" {
		fmt.Fprintf(&sb, "selection: %s\n", p.Selection)
	}
	fmt.Fprintf(&sb, "sheets summarized: %d\n", len(p.Sheets))
	if len(p.NamedRanges) > 0 {
		sb.WriteString("named ranges:\n")
		for _, nr := range p.NamedRanges {
			fmt.Fprintf(&sb, "- %s = %s\n", nr.Name, nr.Range)
		}
	}
	if len(p.Tables) > 0 {
		sb.WriteString("tables:\n")
		for _, tb := range p.Tables {
			fmt.Fprintf(&sb, "- %s = %s\n", tb.Name, tb.Range)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func renderSheetSchemas(p *ContextPayload) string {
	var sb strings.Builder
	for i, sheet := range p.Sheets {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "### %s\n", sheet.SheetID)
		if sheet.AnalyzedRange != "" {
			fmt.Fprintf(&sb, "analyzed: %s\n", sheet.AnalyzedRange)
		}
		for _, tb := range sheet.Schema.Tables {
			fmt.Fprintf(&sb, "table %s: %s", tb.Name, tb.Range)
			if len(tb.Headers) > 0 {
				fmt.Fprintf(&sb, " [%s]", strings.Join(tb.Headers, ", "))
			}
			sb.WriteString("\n")
		}
		for _, nr := range sheet.Schema.NamedRanges {
			fmt.Fprintf(&sb, "named range %s: %s\n", nr.Name, nr.Range)
		}
		for _, dr := range sheet.Schema.DataRegions {
			fmt.Fprintf(&sb, "data region %s (%dx%d)", dr.Range, dr.RowCount, dr.ColCount)
			if dr.HasHeader {
				fmt.Fprintf(&sb, " headers: [%s]", strings.Join(dr.Headers, ", "))
			}
			sb.WriteString("\n")
		}
		if len(sheet.Schema.Tables) == 0 && len(sheet.Schema.NamedRanges) == 0 && len(sheet.Schema.DataRegions) == 0 {
			sb.WriteString("(no structure detected)\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func renderDataBlocks(p *ContextPayload) string {
	var sb strings.Builder
	for i, block := range p.Blocks {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "### %s (%s)\n", block.Range, block.Kind)
		if block.Error != nil {
			fmt.Fprintf(&sb, "unavailable: %s\n", block.Error.Code)
			continue
		}
		if len(block.ColLabels) > 0 {
			fmt.Fprintf(&sb, "| |%s|\n", strings.Join(block.ColLabels, "|"))
		}
		for r, row := range block.Values {
			label := ""
			if r < len(block.RowLabels) {
				label = block.RowLabels[r]
			}
			fmt.Fprintf(&sb, "|%s|%s|\n", label, strings.Join(row, "|"))
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func renderRetrieved(p *ContextPayload, chunks []RetrievedChunk) string {
	if p.Retrieval == nil {
		return ""
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "query: %s\n", p.Retrieval.Query)
	byID := make(map[string]RetrievedChunk, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c
	}
	for _, id := range p.Retrieval.ChunkIDs {
		c, ok := byID[id]
		if !ok {
			continue
		}
		fmt.Fprintf(&sb, "- [%s] %s", c.ID, rangeLabel(c))
		if c.Text != "" {
			fmt.Fprintf(&sb, ": %s", strings.TrimSpace(c.Text))
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func rangeLabel(c RetrievedChunk) string {
	if c.SheetName == "" {
		return c.Rect.A1()
	}
	return c.SheetName + "!" + c.Rect.A1()
}

func renderAttachments(attachments []Attachment) string {
	var sb strings.Builder
	for i, a := range attachments {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "### %s\n%s\n", a.Name, strings.TrimSpace(a.Content))
	}
	return strings.TrimRight(sb.String(), "\n")
}
