package search

import "errors"

// ErrTooManyFaults is returned when the consecutive-fault budget is exhausted.
var ErrTooManyFaults = errors.New("too many consecutive faults")

// faultBreaker trips after max consecutive faults. A zero max never trips.
// It is owned by the aggregator and needs no locking.
type faultBreaker struct {
	max    int
	streak int
}

// observe records one outcome and reports whether the breaker tripped.
func (b *faultBreaker) observe(kind OutcomeKind) bool {
	if !kind.isFault() {
		b.streak = 0
		return false
	}
	b.streak++
	return b.max > 0 && b.streak >= b.max
}
