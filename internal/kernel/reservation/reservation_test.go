package reservation

import (
	"testing"

	"github.com/meridianfed/fedres/internal/clock"
	"github.com/meridianfed/fedres/internal/kernel/idset"
	"github.com/meridianfed/fedres/internal/kernel/resource"
	"github.com/meridianfed/fedres/pkg/kerrors"
)

func newClientReservation() *Reservation {
	return New(idset.New(), idset.New(), CategoryClient)
}

func TestReservation_InitialTicketArc(t *testing.T) {
	r := newClientReservation()

	if err := r.Reserve(); err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	state, pending, _ := r.CurrentState()
	if state != Nascent || pending != PendingTicketing {
		t.Fatalf("after Reserve(): state=%s pending=%s, want Nascent/Ticketing", state, pending)
	}

	if err := r.UpdateTicket(true, UpdateData{}); err != nil {
		t.Fatalf("UpdateTicket() error = %v", err)
	}
	state, pending, _ = r.CurrentState()
	if state != Ticketed || pending != PendingPriming {
		t.Fatalf("after UpdateTicket(): state=%s pending=%s, want Ticketed/Priming", state, pending)
	}
}

func TestReservation_CompletePriming(t *testing.T) {
	r := newClientReservation()
	if err := r.Reserve(); err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	if err := r.UpdateTicket(true, UpdateData{}); err != nil {
		t.Fatalf("UpdateTicket() error = %v", err)
	}

	if err := r.CompletePriming(); err != nil {
		t.Fatalf("CompletePriming() error = %v", err)
	}
	state, pending, _ := r.CurrentState()
	if state != Ticketed || pending != PendingNone {
		t.Fatalf("after CompletePriming(): state=%s pending=%s, want Ticketed/None", state, pending)
	}
	if !r.Approved_ {
		t.Fatalf("CompletePriming() did not set Approved_")
	}
}

func TestReservation_CompletePrimingWrongStateFails(t *testing.T) {
	r := newClientReservation()
	if err := r.CompletePriming(); !kerrors.Is(err, kerrors.InvalidState) {
		t.Fatalf("CompletePriming() from Nascent/None error = %v, want InvalidState", err)
	}
}

func TestReservation_RedeemAndActivateArc(t *testing.T) {
	r := newClientReservation()
	r.State = Ticketed
	r.PendingState = PendingNone

	if err := r.Reserve(); err != nil {
		t.Fatalf("Reserve() (redeem) error = %v", err)
	}
	state, pending, _ := r.CurrentState()
	if state != Ticketed || pending != PendingRedeeming {
		t.Fatalf("after redeem Reserve(): state=%s pending=%s, want Ticketed/Redeeming", state, pending)
	}

	if err := r.UpdateLease(true, false, UpdateData{}); err != nil {
		t.Fatalf("UpdateLease() error = %v", err)
	}
	state, pending, join := r.CurrentState()
	if state != Active || pending != PendingNone || join != JoinBlockedJoin {
		t.Fatalf("after UpdateLease(): state=%s pending=%s join=%s, want Active/None/BlockedJoin", state, pending, join)
	}

	if err := r.ApproveJoin(); err != nil {
		t.Fatalf("ApproveJoin() error = %v", err)
	}
	if _, _, join := r.CurrentState(); join != JoinJoining {
		t.Fatalf("join state = %s, want Joining", join)
	}

	if err := r.CompleteJoin(1); err != nil {
		t.Fatalf("CompleteJoin() error = %v", err)
	}
	if _, _, join := r.CurrentState(); join != JoinNoJoin {
		t.Fatalf("join state = %s, want NoJoin", join)
	}
}

func TestReservation_CompleteJoinZeroUnitsFails(t *testing.T) {
	r := newClientReservation()
	r.State = Active
	r.JoinState = JoinJoining

	if err := r.CompleteJoin(0); err != nil {
		t.Fatalf("CompleteJoin() error = %v", err)
	}
	state, _, _ := r.CurrentState()
	if state != Failed {
		t.Errorf("state = %s, want Failed on zero concrete units", state)
	}
}

func TestReservation_CloseDuringRedeemDeferred(t *testing.T) {
	r := newClientReservation()
	r.State = Ticketed
	r.PendingState = PendingRedeeming

	if err := r.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !r.ClosedDuringRedeem {
		t.Fatalf("ClosedDuringRedeem = false, want true")
	}
	state, pending, _ := r.CurrentState()
	if state != Ticketed || pending != PendingRedeeming {
		t.Errorf("state should be unchanged while closed_during_redeem pending, got %s/%s", state, pending)
	}

	if err := r.UpdateLease(true, false, UpdateData{}); err != nil {
		t.Fatalf("UpdateLease() error = %v", err)
	}
	state, pending, _ = r.CurrentState()
	if state != CloseWait {
		t.Errorf("state after deferred close fires = %s, want CloseWait", state)
	}
}

func TestReservation_CloseIsIdempotent(t *testing.T) {
	r := newClientReservation()
	r.State = Active

	if err := r.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if state, _, _ := r.CurrentState(); state != CloseWait {
		t.Fatalf("state = %s, want CloseWait (lease held)", state)
	}

	if err := r.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if state, _, _ := r.CurrentState(); state != CloseWait {
		t.Errorf("state after second close = %s, want still CloseWait", state)
	}
}

func TestReservation_CloseWithoutLeaseGoesDirectlyClosed(t *testing.T) {
	r := newClientReservation()
	r.State = Nascent

	if err := r.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if state, _, _ := r.CurrentState(); state != Closed {
		t.Errorf("state = %s, want Closed (no lease held)", state)
	}
}

func TestReservation_FINClosesFromCloseWait(t *testing.T) {
	r := newClientReservation()
	r.State = CloseWait

	if err := r.UpdateLease(true, true, UpdateData{}); err != nil {
		t.Fatalf("UpdateLease(FIN) error = %v", err)
	}
	if state, _, _ := r.CurrentState(); state != Closed {
		t.Errorf("state = %s, want Closed", state)
	}
}

func TestReservation_FailedStaysFailedAndNotifiesOnce(t *testing.T) {
	r := newClientReservation()
	if err := r.Fail("boom"); err != nil {
		t.Fatalf("Fail() error = %v", err)
	}
	if state, _, _ := r.CurrentState(); state != Failed {
		t.Fatalf("state = %s, want Failed", state)
	}

	err := r.Fail("again")
	if !kerrors.Is(err, kerrors.InvalidState) {
		t.Fatalf("second Fail() should report InvalidState (notify once), got %v", err)
	}
	if err := r.Fail("again"); err != nil {
		t.Errorf("third Fail() should be a silent no-op, got %v", err)
	}
}

func TestReservation_ExtendTicketRejectsNonExtendingTerm(t *testing.T) {
	r := newClientReservation()
	r.State = Active
	r.TicketTerm = clock.NewTerm(10, 20)

	err := r.ExtendTicket(clock.Term{Start: 10, End: 20})
	if !kerrors.Is(err, kerrors.InvalidTerm) {
		t.Errorf("ExtendTicket() with unchanged end should fail InvalidTerm, got %v", err)
	}

	if err := r.ExtendTicket(clock.Term{Start: 10, End: 30}); err != nil {
		t.Fatalf("ExtendTicket() valid extension error = %v", err)
	}
	if state, pending, _ := r.CurrentState(); state != Active || pending != PendingExtendTicket {
		t.Errorf("state/pending = %s/%s, want Active/ExtendingTicket", state, pending)
	}
}

func TestReservation_DuplicateSequenceResendsLastUpdate(t *testing.T) {
	r := newClientReservation()
	want := UpdateData{Events: []string{"ticketed"}}
	r.LastTicketUpdate = want

	got, ok := r.HandleDuplicateRequest("ticket")
	if !ok {
		t.Fatalf("HandleDuplicateRequest(ticket) ok = false")
	}
	if len(got.Events) != 1 || got.Events[0] != "ticketed" {
		t.Errorf("HandleDuplicateRequest(ticket) = %+v, want resend of last update", got)
	}

	_, ok = r.HandleDuplicateRequest("relinquish")
	if ok {
		t.Errorf("HandleDuplicateRequest(relinquish) should be a no-op, ok=true")
	}
}

func TestClassifySequence(t *testing.T) {
	if got := ClassifySequence(5, 4, false); got != SequenceGreater {
		t.Errorf("ClassifySequence(5,4,false) = %v, want Greater", got)
	}
	if got := ClassifySequence(5, 4, true); got != SequenceInProgress {
		t.Errorf("ClassifySequence(5,4,true) = %v, want InProgress", got)
	}
	if got := ClassifySequence(4, 4, false); got != SequenceEqual {
		t.Errorf("ClassifySequence(4,4,false) = %v, want Equal", got)
	}
	if got := ClassifySequence(3, 4, false); got != SequenceSmaller {
		t.Errorf("ClassifySequence(3,4,false) = %v, want Smaller", got)
	}
}

func TestReservation_RecoverNascentPendingTicketing(t *testing.T) {
	r := newClientReservation()
	r.State = Nascent
	r.PendingState = PendingTicketing
	r.SequenceTicketOut = 1

	action := r.Recover()
	if action != "ticket" {
		t.Errorf("Recover() = %q, want ticket", action)
	}
	if !r.PendingRecover {
		t.Errorf("PendingRecover = false after recovery of in-flight ticket")
	}
	if r.SequenceTicketOut != 0 {
		t.Errorf("SequenceTicketOut = %d, want decremented to 0", r.SequenceTicketOut)
	}
}

func TestReservation_SnapshotRoundTrip(t *testing.T) {
	r := newClientReservation()
	r.Current = resource.NewResourceSet(4, "gpu", nil)
	r.CurrentTerm = clock.NewTerm(1, 10)
	_ = r.Reserve()

	payload, err := r.Snapshot().Marshal()
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	snap, err := UnmarshalSnapshot(payload)
	if err != nil {
		t.Fatalf("UnmarshalSnapshot() error = %v", err)
	}
	restored, err := FromSnapshot(snap)
	if err != nil {
		t.Fatalf("FromSnapshot() error = %v", err)
	}

	state, pending, _ := restored.CurrentState()
	if state != Nascent || pending != PendingTicketing {
		t.Errorf("restored state=%s pending=%s, want Nascent/Ticketing", state, pending)
	}
	if restored.Current.GetType() != "gpu" || restored.Current.GetUnits() != 4 {
		t.Errorf("restored resource set = %s/%d, want gpu/4", restored.Current.GetType(), restored.Current.GetUnits())
	}
	if restored.ID != r.ID || restored.Slice != r.Slice {
		t.Errorf("restored id/slice mismatch")
	}
}
