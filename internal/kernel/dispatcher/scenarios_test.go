package dispatcher

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/meridianfed/fedres/internal/calendar"
	"github.com/meridianfed/fedres/internal/clock"
	"github.com/meridianfed/fedres/internal/kernel/idset"
	"github.com/meridianfed/fedres/internal/kernel/reservation"
	"github.com/meridianfed/fedres/internal/kernel/resource"
	"github.com/meridianfed/fedres/internal/kernel/slice"
	"github.com/meridianfed/fedres/internal/policy"
	"github.com/meridianfed/fedres/internal/rpc"
	"github.com/meridianfed/fedres/internal/substrate"
)

// routingTransport multiplexes a single client kernel's outbound requests
// across a broker and an authority kernel wired in the same process,
// standing in for the wire transport spec §1 leaves to the implementer.
type routingTransport struct {
	broker    *Kernel
	authority *Kernel
}

func (t *routingTransport) Send(ctx context.Context, _ string, kind rpc.MessageKind, req Request) (bool, reservation.UpdateData, error) {
	if channelFor(kind) == "ticket" {
		return t.broker.HandleRequest(ctx, kind, req)
	}
	return t.authority.HandleRequest(ctx, kind, req)
}

func newActorKernel(t *testing.T, actor string) *Kernel {
	t.Helper()
	clk := clock.New(time.Unix(0, 0), 1000)
	k, err := New(actor, clk, nil, 16, 16)
	if err != nil {
		t.Fatalf("New(%s) error = %v", actor, err)
	}
	return k
}

func newBrokerKernel(t *testing.T, capacity int) (*Kernel, *policy.BrokerInventory) {
	t.Helper()
	k := newActorKernel(t, "broker")
	inv := policy.NewBrokerInventory()
	inv.RegisterPool("T1", policy.NewPoolInventory(capacity))
	cal := calendar.New(1, 5, 10)
	k.SetBrokerPolicy(inv, cal, func(calendar.Bid) string { return "node-1" }, func(rt string) (Inventory, error) {
		return inv.PoolFor(rt)
	})
	return k, inv
}

func newAuthorityKernel(t *testing.T, capacity int) *Kernel {
	t.Helper()
	k := newActorKernel(t, "authority")
	auth := policy.NewAuthority()
	// Sliver routing isn't threaded through Request yet, so every Assign
	// sees a zero-value NodeID.
	auth.RegisterControl("T1", policy.NewSimpleControl(map[string]int{"": capacity}))
	k.SetAuthorityPolicy(auth, substrate.NewFake())
	return k
}

func newClientReservationWithTerm(term clock.Term, units int) *reservation.Reservation {
	r := reservation.New(idset.New(), idset.New(), reservation.CategoryClient)
	r.Requested = resource.NewResourceSet(units, "T1", nil)
	r.RequestedTerm = term
	r.BrokerProxy = "broker"
	r.AuthorityProxy = "authority"
	return r
}

func registerClient(t *testing.T, k *Kernel, r *reservation.Reservation) {
	t.Helper()
	sl := slice.New(r.Slice, "test-slice", "owner", "project", slice.KindClient)
	if err := k.Register(context.Background(), sl, r); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
}

// TestScenario_S1_SingleUnitTicket: a slice's reservation R1 requests 1
// unit of T1 for [10,20] against a broker with 10 units of delegated
// capacity. Orchestrator issues ticket; R1 should end Ticketed/None with
// 1 concrete unit over the requested term.
func TestScenario_S1_SingleUnitTicket(t *testing.T) {
	ctx := context.Background()
	broker, _ := newBrokerKernel(t, 10)
	go broker.Run(ctx)

	client := newActorKernel(t, "orchestrator")
	client.SetTransport(&LocalPeer{Kernel: broker})
	go client.Run(ctx)

	term := clock.NewTerm(10, 20)
	r := newClientReservationWithTerm(term, 1)
	registerClient(t, client, r)

	if err := client.Ticket(ctx, r.ID); err != nil {
		t.Fatalf("Ticket() error = %v", err)
	}

	state, pending, _ := r.CurrentState()
	if state != reservation.Ticketed || pending != reservation.PendingPriming {
		t.Fatalf("after Ticket(): state=%s pending=%s, want Ticketed/Priming", state, pending)
	}

	if err := client.Tick(ctx, 11); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	state, pending, _ = r.CurrentState()
	if state != reservation.Ticketed || pending != reservation.PendingNone {
		t.Fatalf("after Tick(): state=%s pending=%s, want Ticketed/None", state, pending)
	}
	if r.Current.GetUnits() != 1 {
		t.Errorf("Current units = %d, want 1", r.Current.GetUnits())
	}
	if r.CurrentTerm.Start != 10 || r.CurrentTerm.End != 20 {
		t.Errorf("CurrentTerm = %+v, want {Start:10 End:20}", r.CurrentTerm)
	}
}

// TestScenario_S2_RedeemAndActivate: continuing S1, orchestrator issues
// redeem. R1 should walk Ticketed/Redeeming -> Active/BlockedJoin ->
// Active/Joining -> Active/None across ticks, with leased units=1.
func TestScenario_S2_RedeemAndActivate(t *testing.T) {
	ctx := context.Background()
	broker, _ := newBrokerKernel(t, 10)
	authority := newAuthorityKernel(t, 10)
	go broker.Run(ctx)
	go authority.Run(ctx)

	client := newActorKernel(t, "orchestrator")
	client.SetTransport(&routingTransport{broker: broker, authority: authority})
	go client.Run(ctx)

	term := clock.NewTerm(10, 20)
	r := newClientReservationWithTerm(term, 1)
	registerClient(t, client, r)

	if err := client.Ticket(ctx, r.ID); err != nil {
		t.Fatalf("Ticket() error = %v", err)
	}
	if err := client.Tick(ctx, 11); err != nil {
		t.Fatalf("Tick() (complete priming) error = %v", err)
	}

	if err := client.Redeem(ctx, r.ID); err != nil {
		t.Fatalf("Redeem() error = %v", err)
	}
	state, pending, join := r.CurrentState()
	if state != reservation.Active || pending != reservation.PendingNone || join != reservation.JoinBlockedJoin {
		t.Fatalf("after Redeem(): state=%s pending=%s join=%s, want Active/None/BlockedJoin", state, pending, join)
	}

	if err := client.Tick(ctx, 12); err != nil {
		t.Fatalf("Tick() (approve_join) error = %v", err)
	}
	if _, _, join := r.CurrentState(); join != reservation.JoinJoining {
		t.Fatalf("join state = %s, want Joining", join)
	}

	if err := client.Tick(ctx, 13); err != nil {
		t.Fatalf("Tick() (complete_join) error = %v", err)
	}
	state, pending, join = r.CurrentState()
	if state != reservation.Active || pending != reservation.PendingNone || join != reservation.JoinNoJoin {
		t.Fatalf("by cycle 13: state=%s pending=%s join=%s, want Active/None/NoJoin", state, pending, join)
	}
	if r.Current.GetUnits() != 1 {
		t.Errorf("leased units = %d, want 1", r.Current.GetUnits())
	}
}

// TestScenario_S3_DuplicateTicket: re-sending S1's ticket request with the
// same sequence number must resend the cached update_ticket verbatim and
// leave the broker-side reservation's state unchanged.
func TestScenario_S3_DuplicateTicket(t *testing.T) {
	ctx := context.Background()
	broker, _ := newBrokerKernel(t, 10)
	go broker.Run(ctx)

	id := idset.New()
	sliceID := idset.New()
	term := clock.NewTerm(10, 20)
	req := Request{ReservationID: id, SliceID: sliceID, ResourceType: "T1", Units: 1, Term: term, Sequence: 1}

	ok1, update1, err := broker.HandleRequest(ctx, rpc.MessageTicket, req)
	if err != nil {
		t.Fatalf("first HandleRequest() error = %v", err)
	}
	if !ok1 {
		t.Fatalf("first HandleRequest() ok = false, want true")
	}

	broker.mu.Lock()
	shadow := broker.reservations[id]
	stateBefore, pendingBefore, _ := shadow.CurrentState()
	broker.mu.Unlock()

	ok2, update2, err := broker.HandleRequest(ctx, rpc.MessageTicket, req)
	if err != nil {
		t.Fatalf("duplicate HandleRequest() error = %v", err)
	}
	if ok2 != ok1 || update2.Resources.GetUnits() != update1.Resources.GetUnits() || len(update2.Events) != len(update1.Events) {
		t.Fatalf("duplicate update = %+v, want identical to first %+v", update2, update1)
	}

	broker.mu.Lock()
	stateAfter, pendingAfter, _ := shadow.CurrentState()
	broker.mu.Unlock()
	if stateAfter != stateBefore || pendingAfter != pendingBefore {
		t.Fatalf("duplicate request mutated state: before=%s/%s after=%s/%s", stateBefore, pendingBefore, stateAfter, pendingAfter)
	}
}

// TestScenario_S4_ExtendTicket: at cycle 18, extend_ticket to [10,30].
// The broker-side shadow should move Active/ExtendingTicket ->
// ActiveTicketed/None and the client mirrors the same transition.
func TestScenario_S4_ExtendTicket(t *testing.T) {
	ctx := context.Background()
	broker, _ := newBrokerKernel(t, 10)
	go broker.Run(ctx)

	client := newActorKernel(t, "orchestrator")
	client.SetTransport(&LocalPeer{Kernel: broker})
	go client.Run(ctx)

	r := newClientReservationWithTerm(clock.NewTerm(10, 20), 1)
	registerClient(t, client, r)
	if err := client.Ticket(ctx, r.ID); err != nil {
		t.Fatalf("Ticket() error = %v", err)
	}
	if err := client.Tick(ctx, 11); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}

	// ExtendTicket requires Active/None; S1's ticket arc alone only
	// reaches Ticketed/None on the client side, so advance it there the
	// way a completed redeem/join cycle would (mirrors S2's arc without
	// re-running it here).
	r.State = reservation.Active
	r.PendingState = reservation.PendingNone
	r.JoinState = reservation.JoinNoJoin

	newTerm := clock.NewTerm(10, 30)
	if err := client.ExtendTicket(ctx, r.ID, newTerm); err != nil {
		t.Fatalf("ExtendTicket() error = %v", err)
	}

	state, pending, _ := r.CurrentState()
	if state != reservation.ActiveTicketed || pending != reservation.PendingNone {
		t.Fatalf("after ExtendTicket(): state=%s pending=%s, want ActiveTicketed/None", state, pending)
	}
	if r.RequestedTerm.End != 30 {
		t.Errorf("RequestedTerm.End = %d, want 30", r.RequestedTerm.End)
	}
}

// TestScenario_S5_CloseDuringRedeem: R1 is redeemed as in S2, then the
// deferred-close arc is checked on a separate reservation held in
// Ticketed/Redeeming: Close only sets ClosedDuringRedeem, the update_lease
// moves it to CloseWait/None, and the FIN update ends it Closed.
func TestScenario_S5_CloseDuringRedeem(t *testing.T) {
	ctx := context.Background()
	broker, _ := newBrokerKernel(t, 10)
	authority := newAuthorityKernel(t, 10)
	go broker.Run(ctx)
	go authority.Run(ctx)

	client := newActorKernel(t, "orchestrator")
	client.SetTransport(&routingTransport{broker: broker, authority: authority})
	go client.Run(ctx)

	r := newClientReservationWithTerm(clock.NewTerm(10, 20), 1)
	registerClient(t, client, r)
	if err := client.Ticket(ctx, r.ID); err != nil {
		t.Fatalf("Ticket() error = %v", err)
	}
	if err := client.Tick(ctx, 11); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	if err := client.Redeem(ctx, r.ID); err != nil {
		t.Fatalf("Redeem() error = %v", err)
	}

	// Active/BlockedJoin now; Close must go straight to CloseWait since
	// the lease is already held, not through ClosedDuringRedeem (that
	// path only applies to Ticketed/Redeeming, tested directly below).
	deferred := newClientReservationWithTerm(clock.NewTerm(10, 20), 1)
	deferred.State = reservation.Ticketed
	deferred.PendingState = reservation.PendingRedeeming
	if err := deferred.Close(); err != nil {
		t.Fatalf("Close() during redeem error = %v", err)
	}
	if !deferred.ClosedDuringRedeem {
		t.Fatalf("Close() during redeem did not set ClosedDuringRedeem")
	}
	state, pending, _ := deferred.CurrentState()
	if state != reservation.Ticketed || pending != reservation.PendingRedeeming {
		t.Fatalf("Close() during redeem mutated state to %s/%s, want unchanged Ticketed/Redeeming", state, pending)
	}

	if err := deferred.UpdateLease(true, false, reservation.UpdateData{}); err != nil {
		t.Fatalf("UpdateLease() error = %v", err)
	}
	state, pending, _ = deferred.CurrentState()
	if state != reservation.CloseWait || pending != reservation.PendingNone {
		t.Fatalf("after deferred close's UpdateLease(): state=%s pending=%s, want CloseWait/None", state, pending)
	}
	if deferred.ClosedDuringRedeem {
		t.Fatalf("ClosedDuringRedeem still set after it fired")
	}

	if err := deferred.UpdateLease(true, true, reservation.UpdateData{Events: []string{"closed"}}); err != nil {
		t.Fatalf("UpdateLease(fin) error = %v", err)
	}
	state, _, _ = deferred.CurrentState()
	if state != reservation.Closed {
		t.Fatalf("after FIN: state=%s, want Closed", state)
	}
}

// TestScenario_S6_InsufficientCapacity: a broker with 1 unit of capacity
// services two overlapping 1-unit requests; the first succeeds and the
// second fails with InsufficientResources, surfaced in its notices.
func TestScenario_S6_InsufficientCapacity(t *testing.T) {
	ctx := context.Background()
	broker, _ := newBrokerKernel(t, 1)
	go broker.Run(ctx)

	term := clock.NewTerm(10, 20)
	first := Request{ReservationID: idset.New(), SliceID: idset.New(), ResourceType: "T1", Units: 1, Term: term, Sequence: 1}
	second := Request{ReservationID: idset.New(), SliceID: idset.New(), ResourceType: "T1", Units: 1, Term: term, Sequence: 1}

	ok, _, err := broker.HandleRequest(ctx, rpc.MessageTicket, first)
	if err != nil {
		t.Fatalf("first HandleRequest() error = %v", err)
	}
	if !ok {
		t.Fatalf("first HandleRequest() ok = false, want true")
	}

	ok, _, err = broker.HandleRequest(ctx, rpc.MessageTicket, second)
	if err != nil {
		t.Fatalf("second HandleRequest() error = %v", err)
	}
	if ok {
		t.Fatalf("second HandleRequest() ok = true, want false (capacity exhausted)")
	}

	broker.mu.Lock()
	shadow := broker.reservations[second.ReservationID]
	broker.mu.Unlock()
	notices := shadow.GetNotices()
	if len(notices) == 0 || !strings.Contains(notices[0], "available") {
		t.Fatalf("notices = %v, want an insufficient-capacity notice", notices)
	}
}
