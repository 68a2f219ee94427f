package graph

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDelay_Deterministic(t *testing.T) {
	d1 := BackoffDelay(300, 1, "trend_scout")
	d2 := BackoffDelay(300, 1, "trend_scout")
	assert.Equal(t, d1, d2)
}

func TestBackoffDelay_ExponentialWithBoundedJitter(t *testing.T) {
	for attempt := 1; attempt <= 4; attempt++ {
		base := 300 * (1 << (attempt - 1))
		d := BackoffDelay(300, attempt, "competitor_analyst")
		min := time.Duration(base) * time.Millisecond
		max := time.Duration(base+120) * time.Millisecond
		assert.GreaterOrEqual(t, d, min, "attempt %d", attempt)
		assert.LessOrEqual(t, d, max, "attempt %d", attempt)
	}
}

func TestBackoffDelay_KeysProduceDifferentJitter(t *testing.T) {
	// Distinct keys should not all land in the same jitter bucket.
	keys := []string{"a", "b", "c", "trend_scout", "r1:x->y", "synthesizer"}
	seen := map[time.Duration]struct{}{}
	for _, k := range keys {
		seen[BackoffDelay(1000, 1, k)] = struct{}{}
	}
	assert.Greater(t, len(seen), 1)
}

func TestBackoffDelay_ZeroBaseDisablesBackoff(t *testing.T) {
	assert.Equal(t, time.Duration(0), BackoffDelay(0, 3, "any"))
	assert.Equal(t, time.Duration(0), BackoffDelay(-10, 1, "any"))
}

func TestBackoffDelay_ClampsAttempt(t *testing.T) {
	assert.Equal(t, BackoffDelay(200, 1, "k"), BackoffDelay(200, 0, "k"))
}
