package anthropic

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCounter struct {
	tokens int
	err    error
	calls  int
}

func (s *stubCounter) CountTokens(_ context.Context, _ string, _ string) (int, error) {
	s.calls++
	if s.err != nil {
		return 0, s.err
	}
	return s.tokens, nil
}

func TestEstimatorUsesAPICount(t *testing.T) {
	counter := &stubCounter{tokens: 17}
	est := NewEstimator(counter, "claude-sonnet-4-5")

	assert.Equal(t, 17, est.EstimateTextTokens("some prompt text"))
	assert.Equal(t, 1, counter.calls)
}

func TestEstimatorMemoizes(t *testing.T) {
	counter := &stubCounter{tokens: 9}
	est := NewEstimator(counter, "claude-sonnet-4-5")

	for i := 0; i < 5; i++ {
		require.Equal(t, 9, est.EstimateTextTokens("repeated section"))
	}
	assert.Equal(t, 1, counter.calls, "identical text must hit the memo")

	est.EstimateTextTokens("different text")
	assert.Equal(t, 2, counter.calls)
}

func TestEstimatorFallsBackOnError(t *testing.T) {
	counter := &stubCounter{err: errors.New("api unreachable")}
	est := NewEstimator(counter, "claude-sonnet-4-5")

	// 8 bytes at the 4 bytes-per-token heuristic.
	assert.Equal(t, 2, est.EstimateTextTokens("12345678"))
}

func TestEstimatorEmptyText(t *testing.T) {
	counter := &stubCounter{tokens: 99}
	est := NewEstimator(counter, "claude-sonnet-4-5")

	assert.Equal(t, 0, est.EstimateTextTokens(""))
	assert.Zero(t, counter.calls)
}

func TestEstimatorCacheBounded(t *testing.T) {
	counter := &stubCounter{tokens: 1}
	est := NewEstimator(counter, "claude-sonnet-4-5")

	for i := 0; i < estimatorCacheSize+10; i++ {
		est.EstimateTextTokens(fmt.Sprintf("text-%d", i))
	}
	assert.LessOrEqual(t, len(est.cache), estimatorCacheSize)
}
