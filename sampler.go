package tracekit

import (
	"math"

	"github.com/cespare/xxhash/v2"
)

// Sampler is a pure decision function from a trace identifier to a
// sample/no-sample outcome. The same trace identifier always yields
// the same decision for a fixed configuration, so a root span and any
// propagated child context agree on whether to record.
type Sampler struct {
	threshold uint64
	always    bool
}

// Always returns a sampler that accepts every trace identifier.
func Always() Sampler {
	return Sampler{threshold: math.MaxUint64, always: true}
}

// Never returns a sampler that rejects every trace identifier.
func Never() Sampler {
	return Sampler{}
}

// Probability returns a sampler accepting roughly the fraction p of
// trace identifiers. p is clamped to [0,1]: values >= 1 behave as
// Always, values <= 0 as Never.
func Probability(p float64) Sampler {
	if p >= 1 {
		return Always()
	}
	if p <= 0 {
		return Never()
	}
	return Sampler{threshold: uint64(p * float64(math.MaxUint64))}
}

// ShouldSample reports whether the given trace identifier falls in
// the accepted range. The mapping is a 64-bit hash of the identifier,
// so the decision is deterministic and independent of call order.
func (s Sampler) ShouldSample(traceID string) bool {
	if s.always {
		return true
	}
	if s.threshold == 0 {
		return false
	}
	return xxhash.Sum64String(traceID) < s.threshold
}
