package retry

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestBackoffProperty checks invariants of calculateBackoff across a wide
// range of attempt numbers and configs: the delay never goes negative and
// never exceeds MaxBackoff by more than the configured jitter fraction.
func TestBackoffProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	cfg := Config{
		InitialBackoff:    50 * time.Millisecond,
		MaxBackoff:        2 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            0.2,
	}

	properties.Property("backoff is never negative", prop.ForAll(
		func(attempt int) bool {
			return calculateBackoff(cfg, attempt) >= 0
		},
		gen.IntRange(1, 20),
	))

	properties.Property("backoff never exceeds MaxBackoff plus jitter headroom", prop.ForAll(
		func(attempt int) bool {
			ceiling := time.Duration(float64(cfg.MaxBackoff) * (1 + cfg.Jitter))
			return calculateBackoff(cfg, attempt) <= ceiling
		},
		gen.IntRange(1, 50),
	))

	properties.Property("zero jitter gives a deterministic, monotonically non-decreasing sequence", prop.ForAll(
		func(attempt int) bool {
			noJitter := cfg
			noJitter.Jitter = 0
			return calculateBackoff(noJitter, attempt+1) >= calculateBackoff(noJitter, attempt)
		},
		gen.IntRange(1, 10),
	))

	properties.TestingRun(t)
}
