package clock

import (
	"testing"
	"time"
)

func TestCycle_RoundTrip(t *testing.T) {
	epoch := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	c := New(epoch, 1000)

	got := c.Cycle(epoch.Add(10500 * time.Millisecond))
	if got != 10 {
		t.Errorf("Cycle() = %d, want 10", got)
	}
	if start := c.CycleStartMillis(10); start != 10000 {
		t.Errorf("CycleStartMillis(10) = %d, want 10000", start)
	}
	if end := c.CycleEndMillis(10); end != 10999 {
		t.Errorf("CycleEndMillis(10) = %d, want 10999", end)
	}
}

func TestCycle_BeforeEpochClampsToZero(t *testing.T) {
	epoch := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	c := New(epoch, 1000)

	if got := c.Cycle(epoch.Add(-time.Hour)); got != 0 {
		t.Errorf("Cycle(before epoch) = %d, want 0", got)
	}
}

func TestTerm_ExtendsTerm(t *testing.T) {
	old := NewTerm(10, 20)
	extended := Term{Start: 10, NewStart: 21, End: 30}

	if !extended.ExtendsTerm(old) {
		t.Errorf("ExtendsTerm() = false, want true")
	}

	notExtended := Term{Start: 10, NewStart: 10, End: 20}
	if notExtended.ExtendsTerm(old) {
		t.Errorf("ExtendsTerm() = true for equal end, want false")
	}

	differentStart := Term{Start: 11, NewStart: 11, End: 30}
	if differentStart.ExtendsTerm(old) {
		t.Errorf("ExtendsTerm() = true for different start, want false")
	}
}

func TestTerm_Extend(t *testing.T) {
	base := NewTerm(10, 20)
	extended := base.Extend(10)

	if extended.Start != 10 {
		t.Errorf("Start = %d, want 10", extended.Start)
	}
	if extended.NewStart != 21 {
		t.Errorf("NewStart = %d, want 21", extended.NewStart)
	}
	if extended.End != 30 {
		t.Errorf("End = %d, want 30", extended.End)
	}
}

func TestEnforceExtendsTerm(t *testing.T) {
	old := NewTerm(10, 20)

	if err := EnforceExtendsTerm(Term{Start: 10, End: 30}, old); err != nil {
		t.Errorf("EnforceExtendsTerm() valid extension returned error: %v", err)
	}
	if err := EnforceExtendsTerm(Term{Start: 11, End: 30}, old); err == nil {
		t.Errorf("EnforceExtendsTerm() with different start should fail")
	}
	if err := EnforceExtendsTerm(Term{Start: 10, End: 20}, old); err == nil {
		t.Errorf("EnforceExtendsTerm() with equal end should fail")
	}
}

func TestTerm_Contains(t *testing.T) {
	term := NewTerm(10, 20)
	if !term.Contains(15) {
		t.Errorf("Contains(15) = false, want true")
	}
	if term.Contains(21) {
		t.Errorf("Contains(21) = true, want false")
	}
}
