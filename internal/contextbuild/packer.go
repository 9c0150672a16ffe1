package contextbuild

import (
	"sort"
	"strings"
)

// Section is one prioritized prompt section before packing.
type Section struct {
	Key      string
	Priority int
	Body     string
}

// PackedSection is a section that survived packing, possibly truncated.
type PackedSection struct {
	Key       string
	Body      string
	Truncated bool
}

// TruncationMarker is appended to any section body the packer cut short.
const TruncationMarker = "[truncated]"

// SectionPacker fits prioritized sections into a token budget. Lowest
// priority sections are truncated or dropped first.
type SectionPacker interface {
	Pack(sections []Section, budgetTokens int, est TokenEstimator) []PackedSection
}

// GreedyPacker packs sections highest-priority first, truncating the first
// section that does not fit and dropping the rest. Output preserves
// priority-then-insertion order.
type GreedyPacker struct{}

// NewGreedyPacker returns the default packer.
func NewGreedyPacker() *GreedyPacker { return &GreedyPacker{} }

func (p *GreedyPacker) Pack(sections []Section, budgetTokens int, est TokenEstimator) []PackedSection {
	ordered := make([]Section, len(sections))
	copy(ordered, sections)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority > ordered[j].Priority
	})

	var out []PackedSection
	remaining := budgetTokens
	for _, s := range ordered {
		if remaining <= 0 {
			break
		}
		// Section overhead: the "## key" heading and separators.
		overhead := est.EstimateTextTokens("## " + s.Key + "\n\n\n")
		if overhead >= remaining {
			break
		}
		bodyBudget := remaining - overhead
		cost := est.EstimateTextTokens(s.Body)
		if cost <= bodyBudget {
			out = append(out, PackedSection{Key: s.Key, Body: s.Body})
			remaining -= overhead + cost
			continue
		}

		truncated, ok := truncateToBudget(s.Body, bodyBudget, est)
		if !ok {
			continue
		}
		out = append(out, PackedSection{Key: s.Key, Body: truncated, Truncated: true})
		remaining -= overhead + est.EstimateTextTokens(truncated)
	}
	return out
}

// truncateToBudget cuts body at a line boundary so that body plus the
// truncation marker fits the token budget. Returns false when not even the
// marker fits.
func truncateToBudget(body string, budgetTokens int, est TokenEstimator) (string, bool) {
	marker := "\n" + TruncationMarker
	if est.EstimateTextTokens(marker) >= budgetTokens {
		return "", false
	}

	lines := strings.Split(body, "\n")
	lo, hi := 0, len(lines)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		candidate := strings.Join(lines[:mid], "\n") + marker
		if est.EstimateTextTokens(candidate) <= budgetTokens {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	if lo == 0 {
		return "", false
	}
	return strings.Join(lines[:lo], "\n") + marker, true
}

// renderPrompt concatenates packed sections into the final prompt string.
func renderPrompt(sections []PackedSection) string {
	var sb strings.Builder
	for i, s := range sections {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString("## ")
		sb.WriteString(s.Key)
		sb.WriteString("\n")
		sb.WriteString(s.Body)
	}
	return sb.String()
}
