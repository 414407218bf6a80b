// Package clock discretizes wall-clock time into cycles and represents the
// closed time intervals ("terms") reservations and delegations are bound
// to.
package clock

import (
	"time"

	"github.com/meridianfed/fedres/pkg/kerrors"
)

// Cycle is an integer cycle number. Cycle 0 starts at the clock's epoch.
type Cycle int64

// Clock maps wall-clock instants to cycle numbers and back, using a fixed
// cycle length. It is safe for concurrent read-only use; actor code calls
// it only from the dispatcher goroutine in practice, but the mapping
// itself carries no mutable state.
type Clock struct {
	epoch       time.Time
	cycleMillis int64
}

// New creates a Clock with the given epoch and cycle length. A
// non-positive cycleMillis is replaced by 1000.
func New(epoch time.Time, cycleMillis int64) *Clock {
	if cycleMillis <= 0 {
		cycleMillis = 1000
	}
	return &Clock{epoch: epoch, cycleMillis: cycleMillis}
}

// Cycle returns the cycle number containing when.
func (c *Clock) Cycle(when time.Time) Cycle {
	elapsed := when.Sub(c.epoch).Milliseconds()
	if elapsed < 0 {
		return 0
	}
	return Cycle(elapsed / c.cycleMillis)
}

// CycleStartMillis returns the millisecond offset from the epoch at which
// cycle begins.
func (c *Clock) CycleStartMillis(cycle Cycle) int64 {
	return int64(cycle) * c.cycleMillis
}

// CycleEndMillis returns the millisecond offset from the epoch at which
// cycle ends (exclusive of the next cycle's start).
func (c *Clock) CycleEndMillis(cycle Cycle) int64 {
	return c.CycleStartMillis(cycle+1) - 1
}

// CycleStart returns the wall-clock instant at which cycle begins.
func (c *Clock) CycleStart(cycle Cycle) time.Time {
	return c.epoch.Add(time.Duration(c.CycleStartMillis(cycle)) * time.Millisecond)
}

// CycleMillis reports the configured cycle length.
func (c *Clock) CycleMillis() int64 {
	return c.cycleMillis
}

// Term is a closed cycle interval [Start, End] with an extension marker
// NewStart. NewStart equals Start when the term has never been extended.
type Term struct {
	Start    Cycle
	End      Cycle
	NewStart Cycle
}

// NewTerm creates a Term with NewStart initialized to start.
func NewTerm(start, end Cycle) Term {
	return Term{Start: start, End: end, NewStart: start}
}

// Contains reports whether cycle t falls within [Start, End].
func (t Term) Contains(cycle Cycle) bool {
	return cycle >= t.Start && cycle <= t.End
}

// ExtendsTerm reports whether t extends old: same Start, strictly greater
// End.
func (t Term) ExtendsTerm(old Term) bool {
	return t.Start == old.Start && t.End > old.End
}

// Extend produces a new Term whose NewStart is old.End+1 and whose End is
// computed from length cycles measured from NewStart.
func (t Term) Extend(length Cycle) Term {
	newStart := t.End + 1
	return Term{Start: t.Start, NewStart: newStart, End: newStart + length - 1}
}

// Shift produces a Term moved forward by delta cycles, preserving length.
func (t Term) Shift(delta Cycle) Term {
	return Term{Start: t.Start + delta, NewStart: t.NewStart + delta, End: t.End + delta}
}

// ChangeLength produces a Term with the same Start but a new End computed
// from length cycles measured from Start.
func (t Term) ChangeLength(length Cycle) Term {
	return Term{Start: t.Start, NewStart: t.NewStart, End: t.Start + length - 1}
}

// Length returns the number of cycles spanned by the term, inclusive.
func (t Term) Length() Cycle {
	return t.End - t.Start + 1
}

// EnforceExtendsTerm validates that newTerm extends old, returning
// kerrors.InvalidTerm otherwise.
func EnforceExtendsTerm(newTerm, old Term) error {
	if newTerm.Start != old.Start {
		return kerrors.InvalidTermf("extend must preserve start: old=%d new=%d", old.Start, newTerm.Start)
	}
	if newTerm.End <= old.End {
		return kerrors.InvalidTermf("extend must strictly increase end: old=%d new=%d", old.End, newTerm.End)
	}
	return nil
}
