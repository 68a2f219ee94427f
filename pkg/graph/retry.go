package graph

import (
	"fmt"
	"time"
)

// jitterBuckets spreads retry delays over 0–40% of the base delay.
const jitterBuckets = 41

// jitterBucket derives a deterministic bucket from the jitter key and
// attempt number: the sum of the UTF-8 byte values of "key:attempt",
// mod 41. Determinism keeps retry timing reproducible in tests and
// replayable across runs.
func jitterBucket(jitterKey string, attempt int) int {
	token := fmt.Sprintf("%s:%d", jitterKey, attempt)
	sum := 0
	for _, b := range []byte(token) {
		sum += int(b)
	}
	return sum % jitterBuckets
}

// BackoffDelay computes the delay before retry number attempt (1-based):
// exponential base*2^(attempt-1) plus deterministic jitter of
// base*(bucket/100). A non-positive base disables backoff entirely.
func BackoffDelay(baseMs, attempt int, jitterKey string) time.Duration {
	if baseMs <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	delay := baseMs * (1 << (attempt - 1))
	jitter := baseMs * jitterBucket(jitterKey, attempt) / 100
	return time.Duration(delay+jitter) * time.Millisecond
}
