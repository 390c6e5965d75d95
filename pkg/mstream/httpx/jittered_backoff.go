package httpx

import (
	"math/rand"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
)

// jitteredExponentialBackOff implements backoff.BackOff with
// original_source/src/http/mod.rs's calculate_backoff formula: base *
// 2^min(attempt,16), jittered uniformly in [0.8, 1.2]. cenkalti/backoff's
// own ExponentialBackOff uses a different multiplier/jitter scheme, so the
// formula is reproduced here rather than reused, while still letting
// backoff.Retry drive the attempt-count-and-abort control flow.
type jitteredExponentialBackOff struct {
	mu            sync.Mutex
	attempt       uint32
	maxRetries    uint32
	baseBackoffMs uint64
}

func newJitteredExponentialBackOff(maxRetries uint32, baseBackoffMs uint64) *jitteredExponentialBackOff {
	return &jitteredExponentialBackOff{maxRetries: maxRetries, baseBackoffMs: baseBackoffMs}
}

func (b *jitteredExponentialBackOff) NextBackOff() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.attempt++
	if b.attempt >= b.maxRetries {
		return backoff.Stop
	}
	return calculateBackoff(b.attempt, b.baseBackoffMs)
}

func (b *jitteredExponentialBackOff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempt = 0
}

// calculateBackoff matches original_source/src/http/mod.rs's
// calculate_backoff: base * 2^min(attempt,16), jittered uniformly in
// [0.8, 1.2].
func calculateBackoff(attempt uint32, baseBackoffMs uint64) time.Duration {
	exp := attempt
	if exp > backoffExponentCeiling {
		exp = backoffExponentCeiling
	}
	expBackoff := baseBackoffMs << exp
	jitter := 0.8 + rand.Float64()*0.4
	return time.Duration(float64(expBackoff)*jitter) * time.Millisecond
}
