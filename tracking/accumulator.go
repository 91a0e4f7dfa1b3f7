// Package tracking keeps the ordered position history of a single order.
package tracking

import (
	"slices"

	"ordertrack/protocol"
)

// DefaultMaxHistory is the retained path length when none is configured.
const DefaultMaxHistory = 500

// Outcome reports what Append did with an update.
type Outcome int

const (
	// Appended means the update is the newest fix and became the current position.
	Appended Outcome = iota + 1
	// InsertedLate means the update arrived out of order and was placed in the
	// past. The current position did not change.
	InsertedLate
	// Duplicate means an entry with the same timestamp already exists. First wins.
	Duplicate
	// Expired means the update was older than everything in a full buffer and
	// was evicted straight away.
	Expired
)

func (o Outcome) String() string {
	switch o {
	case Appended:
		return "appended"
	case InsertedLate:
		return "inserted_late"
	case Duplicate:
		return "duplicate"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// Changed reports whether the history was modified.
func (o Outcome) Changed() bool {
	return o == Appended || o == InsertedLate
}

// Accumulator maintains a sorted, deduplicated, bounded history of updates.
// It is not safe for concurrent use; the owning session serializes access.
type Accumulator struct {
	max     int
	history []protocol.LocationUpdate
}

// NewAccumulator returns an accumulator retaining at most max entries.
// A non-positive max selects DefaultMaxHistory.
func NewAccumulator(max int) *Accumulator {
	if max <= 0 {
		max = DefaultMaxHistory
	}
	return &Accumulator{max: max}
}

// Append inserts u in timestamp order.
func (a *Accumulator) Append(u protocol.LocationUpdate) Outcome {
	n := len(a.history)
	if n == 0 || u.Timestamp > a.history[n-1].Timestamp {
		a.history = append(a.history, u)
		a.evict()
		return Appended
	}

	i, found := slices.BinarySearchFunc(a.history, u.Timestamp, func(e protocol.LocationUpdate, ts int64) int {
		switch {
		case e.Timestamp < ts:
			return -1
		case e.Timestamp > ts:
			return 1
		default:
			return 0
		}
	})
	if found {
		return Duplicate
	}
	if i == 0 && n >= a.max {
		return Expired
	}
	a.history = slices.Insert(a.history, i, u)
	a.evict()
	return InsertedLate
}

func (a *Accumulator) evict() {
	if over := len(a.history) - a.max; over > 0 {
		clear(a.history[:over])
		a.history = a.history[over:]
	}
}

// Current returns the chronologically latest update.
func (a *Accumulator) Current() (protocol.LocationUpdate, bool) {
	if len(a.history) == 0 {
		return protocol.LocationUpdate{}, false
	}
	return clone(a.history[len(a.history)-1]), true
}

// History returns a copy of the retained updates, oldest first.
func (a *Accumulator) History() []protocol.LocationUpdate {
	out := make([]protocol.LocationUpdate, len(a.history))
	for i, u := range a.history {
		out[i] = clone(u)
	}
	return out
}

// clone detaches the optional accuracy so callers cannot reach stored state.
func clone(u protocol.LocationUpdate) protocol.LocationUpdate {
	if u.Accuracy != nil {
		acc := *u.Accuracy
		u.Accuracy = &acc
	}
	return u
}

// Len returns the number of retained updates.
func (a *Accumulator) Len() int { return len(a.history) }

// Max returns the retention bound.
func (a *Accumulator) Max() int { return a.max }

// Reset drops all history.
func (a *Accumulator) Reset() {
	a.history = nil
}
