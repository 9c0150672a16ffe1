package anthropic

import (
	"context"
	"crypto/sha256"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gridwise/sheetctx/internal/contextbuild"
)

// estimatorCacheSize bounds the memoized counts. Prompt sections repeat
// heavily across builds of the same workbook.
const estimatorCacheSize = 256

// Estimator adapts a TokenCounter to the builder's synchronous estimator
// contract. API results are memoized by text hash; any counting failure
// falls back to the byte heuristic so estimation never blocks a build.
type Estimator struct {
	counter  TokenCounter
	model    string
	timeout  time.Duration
	fallback *contextbuild.HeuristicEstimator

	mu    sync.Mutex
	cache map[[32]byte]int
	order [][32]byte
}

// NewEstimator creates an estimator for the given model.
func NewEstimator(counter TokenCounter, model string) *Estimator {
	return &Estimator{
		counter:  counter,
		model:    model,
		timeout:  10 * time.Second,
		fallback: contextbuild.NewHeuristicEstimator(),
		cache:    make(map[[32]byte]int),
	}
}

func (e *Estimator) EstimateTextTokens(text string) int {
	if text == "" {
		return 0
	}
	key := sha256.Sum256([]byte(text))

	e.mu.Lock()
	if n, ok := e.cache[key]; ok {
		e.mu.Unlock()
		return n
	}
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()
	n, err := e.counter.CountTokens(ctx, e.model, text)
	if err != nil {
		zap.L().Debug("anthropic: token count failed, using heuristic", zap.Error(err))
		return e.fallback.EstimateTextTokens(text)
	}

	e.mu.Lock()
	if len(e.cache) >= estimatorCacheSize && len(e.order) > 0 {
		oldest := e.order[0]
		e.order = e.order[1:]
		delete(e.cache, oldest)
	}
	e.cache[key] = n
	e.order = append(e.order, key)
	e.mu.Unlock()
	return n
}
