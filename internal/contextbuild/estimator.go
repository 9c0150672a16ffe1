package contextbuild

// HeuristicEstimator approximates LLM token counts from byte length. The
// 4-bytes-per-token ratio is conservative for tabular text, which tokenizes
// denser than prose.
type HeuristicEstimator struct {
	BytesPerToken int
}

// NewHeuristicEstimator returns the default chars/4 estimator.
func NewHeuristicEstimator() *HeuristicEstimator {
	return &HeuristicEstimator{BytesPerToken: 4}
}

func (e *HeuristicEstimator) EstimateTextTokens(text string) int {
	bpt := e.BytesPerToken
	if bpt <= 0 {
		bpt = 4
	}
	n := (len(text) + bpt - 1) / bpt
	if n == 0 && len(text) > 0 {
		n = 1
	}
	return n
}
