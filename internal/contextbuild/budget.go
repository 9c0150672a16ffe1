package contextbuild

import (
	"sort"
	"strings"
)

// BudgetOverrides lets the caller pin any of the three derived numbers.
// Overrides are used verbatim, never re-clamped.
type BudgetOverrides struct {
	ContextWindowTokens    int
	ReserveForOutputTokens int
	MaxPromptContextTokens int
}

// modeParams holds the per-mode derivation constants. inline_edit is the
// tightest (smallest budget, fastest), agent the widest, chat in between.
type modeParams struct {
	windowCeiling int // 0 = uncapped
	reserveFrac   float64
	reserveMin    int
	reserveMax    int
	promptFrac    float64
	promptMin     int
	promptMax     int
}

var budgetParams = map[Mode]modeParams{
	ModeChat: {
		reserveFrac: 0.15, reserveMin: 1000, reserveMax: 8000,
		promptFrac: 0.60, promptMin: 4000, promptMax: 48000,
	},
	ModeAgent: {
		reserveFrac: 0.20, reserveMin: 2000, reserveMax: 16000,
		promptFrac: 0.75, promptMin: 8000, promptMax: 96000,
	},
	ModeInlineEdit: {
		windowCeiling: 32000,
		reserveFrac:   0.10, reserveMin: 500, reserveMax: 2000,
		promptFrac: 0.40, promptMin: 2000, promptMax: 12000,
	},
}

// defaultWindowTokens is the conservative assumption for unknown models.
const defaultWindowTokens = 32000

// modelWindows maps model identifiers to context-window sizes. Keys without
// an exact hit are matched by longest prefix.
var modelWindows = map[string]int{
	"gpt-4o":            128000,
	"gpt-4o-mini":       128000,
	"gpt-4.1":           1047576,
	"gpt-4.1-mini":      1047576,
	"gpt-5":             272000,
	"o3":                200000,
	"o4-mini":           200000,
	"claude-3-5-haiku":  200000,
	"claude-haiku-4-5":  200000,
	"claude-sonnet-4-5": 200000,
	"claude-opus-4":     200000,
	"gemini-1.5-pro":    2097152,
	"gemini-1.5-flash":  1048576,
	"gemini-2.0-flash":  1048576,
	"gemini-2.5-pro":    1048576,
}

// ContextWindowTokens resolves a model's context window: exact match first,
// then the longest matching prefix, then the conservative default.
func ContextWindowTokens(model string) int {
	if w, ok := modelWindows[model]; ok {
		return w
	}
	bestLen, best := 0, 0
	for prefix, w := range modelWindows {
		if len(prefix) > bestLen && strings.HasPrefix(model, prefix) {
			bestLen, best = len(prefix), w
		}
	}
	if bestLen > 0 {
		return best
	}
	return defaultWindowTokens
}

// KnownModels returns the sorted model identifiers in the window table.
func KnownModels() []string {
	out := make([]string, 0, len(modelWindows))
	for m := range modelWindows {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// ComputeBudget derives the token budget for a mode and model. Unknown modes
// fall back to chat parameters.
func ComputeBudget(mode Mode, model string, overrides *BudgetOverrides) BudgetInfo {
	params, ok := budgetParams[mode]
	if !ok {
		mode = ModeChat
		params = budgetParams[ModeChat]
	}

	window := ContextWindowTokens(model)
	if params.windowCeiling > 0 && window > params.windowCeiling {
		window = params.windowCeiling
	}
	if overrides != nil && overrides.ContextWindowTokens > 0 {
		window = overrides.ContextWindowTokens
	}

	reserve := clamp(int(float64(window)*params.reserveFrac), params.reserveMin, params.reserveMax)
	if overrides != nil && overrides.ReserveForOutputTokens > 0 {
		reserve = overrides.ReserveForOutputTokens
	}

	prompt := clamp(int(float64(window-reserve)*params.promptFrac), params.promptMin, params.promptMax)
	if prompt > window-reserve {
		prompt = window - reserve
	}
	if overrides != nil && overrides.MaxPromptContextTokens > 0 {
		prompt = overrides.MaxPromptContextTokens
	}

	return BudgetInfo{
		Mode:                   mode,
		Model:                  model,
		ContextWindowTokens:    window,
		ReserveForOutputTokens: reserve,
		MaxPromptContextTokens: prompt,
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
