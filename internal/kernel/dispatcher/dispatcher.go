// Package dispatcher implements the kernel event loop (C5): the single
// goroutine that serializes every mutation of an actor's slice and
// reservation tables, locates the reservation an inbound request targets,
// classifies its sequence number, and drives the matching state-machine
// transition.
package dispatcher

import (
	"context"
	"sync"

	"github.com/hashicorp/go-multierror"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/meridianfed/fedres/internal/calendar"
	"github.com/meridianfed/fedres/internal/clock"
	"github.com/meridianfed/fedres/internal/database"
	"github.com/meridianfed/fedres/internal/kernel/delegation"
	"github.com/meridianfed/fedres/internal/kernel/idset"
	"github.com/meridianfed/fedres/internal/kernel/reservation"
	"github.com/meridianfed/fedres/internal/kernel/slice"
	"github.com/meridianfed/fedres/internal/policy"
	"github.com/meridianfed/fedres/internal/policy/quota"
	"github.com/meridianfed/fedres/internal/rpc"
	"github.com/meridianfed/fedres/internal/substrate"
	"github.com/meridianfed/fedres/pkg/kerrors"
	"github.com/meridianfed/fedres/pkg/logger"
	"github.com/meridianfed/fedres/pkg/metrics"
)

// These aliases let the entry-point and Tick code in this package name the
// collaborator types without every caller importing four more packages,
// while keeping the Kernel's actual dependency confined to their method
// sets (no new interfaces to keep in sync with policy/calendar/substrate).
type (
	BrokerPolicy    = policy.BrokerPolicy
	AuthorityPolicy = policy.AuthorityPolicy
	NodePicker      = calendar.NodePicker
	Inventory       = calendar.Inventory
	Substrate       = substrate.Plugin
	QuotaService    = quota.IdentityService
)

// EventKind discriminates the entry points that drive the kernel event
// queue, per spec §5's "ticket, extend_ticket, redeem, extend_lease,
// modify_lease, close, update_ticket, update_lease, update_delegation,
// query, failed_rpc, tick".
type EventKind string

const (
	EventTick      EventKind = "tick"
	EventReserve   EventKind = "reserve"
	EventUpdate    EventKind = "update"
	EventClose     EventKind = "close"
	EventFailedRPC EventKind = "failed_rpc"
	EventRecover   EventKind = "recover"
	EventQuery     EventKind = "query"
)

// Event is a unit of work enqueued onto the kernel's single consumer
// loop. Run calls Action without holding the kernel lock (actions that
// touch kernel state take it themselves); Done, if non-nil, receives
// Action's error once it completes.
type Event struct {
	Kind   EventKind
	Action func() error
	Done   chan error
}

// Recoverer computes a reservation's recovery action, implemented by
// reservation.Reservation.Recover (kept as an interface here so the
// dispatcher does not otherwise depend on reservation internals beyond
// the contract it actually drives).
type Recoverer interface {
	Recover() string
}

// Kernel owns one actor's slice, reservation, and delegation tables and
// drains its event queue from a single goroutine, per spec §5's
// single-threaded-per-actor concurrency model.
type Kernel struct {
	Actor string

	clock *clock.Clock
	db    database.Plugin

	mu           sync.Mutex
	slices       map[idset.ID]*slice.Slice
	reservations map[idset.ID]*reservation.Reservation
	delegations  map[idset.ID]*delegation.Delegation

	events chan Event

	quiescent *sync.Cond
	pending   int

	dedupe *lru.Cache[string, reservation.UpdateData]

	log *logger.Logger

	brokerPolicy    BrokerPolicy
	authorityPolicy AuthorityPolicy
	calendar        *calendar.Calendar
	pickNode        NodePicker
	inventoryFor    func(resourceType string) (Inventory, error)
	substratePlugin Substrate
	quotaSvc        QuotaService
	transport       Transport
}

// New creates a Kernel for actor, backed by clk for cycle computation and
// db for persistence. queueDepth bounds the event channel; dedupeSize
// bounds the duplicate-request LRU cache.
func New(actor string, clk *clock.Clock, db database.Plugin, queueDepth, dedupeSize int) (*Kernel, error) {
	cache, err := lru.New[string, reservation.UpdateData](dedupeSize)
	if err != nil {
		return nil, kerrors.Wrap(kerrors.InvalidArgument, "create dedupe cache", err)
	}
	k := &Kernel{
		Actor:        actor,
		clock:        clk,
		db:           db,
		slices:       make(map[idset.ID]*slice.Slice),
		reservations: make(map[idset.ID]*reservation.Reservation),
		delegations:  make(map[idset.ID]*delegation.Delegation),
		events:       make(chan Event, queueDepth),
		dedupe:       cache,
		log:          logger.New(actor, logger.Config{}),
	}
	k.quiescent = sync.NewCond(&k.mu)
	return k, nil
}

// Enqueue submits ev to the kernel's event queue, blocking only while the
// queue is full; it does not wait for ev to run. Callers that need the
// result should set ev.Done before calling.
func (k *Kernel) Enqueue(ev Event) {
	k.events <- ev
}

// Submit is a convenience wrapper that enqueues action and blocks for
// its result, used by RPC handlers and the admin CLI's synchronous
// request/response shape.
func (k *Kernel) Submit(ctx context.Context, kind EventKind, action func() error) error {
	done := make(chan error, 1)
	ev := Event{Kind: kind, Action: action, Done: done}
	select {
	case k.events <- ev:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drains the event queue until ctx is cancelled, running each
// event's Action on its own goroutine. Register and Tick do not go
// through this queue: they take the kernel lock and are called directly.
func (k *Kernel) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-k.events:
			err := ev.Action()
			if ev.Done != nil {
				ev.Done <- err
			}
			if err != nil {
				k.log.WithContext(ctx).WithField("event", ev.Kind).WithError(err).Warn("event failed")
			}
		}
	}
}

// Register inserts r into slice sl, then into the reservation table,
// rolling back the slice insertion if the reservation table already
// holds r.ID, per spec §5's registration contract. If a database plugin
// is configured, the reservation and its slice are persisted before the
// in-memory tables are updated.
func (k *Kernel) Register(ctx context.Context, sl *slice.Slice, r *reservation.Reservation) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if _, exists := k.reservations[r.ID]; exists {
		return kerrors.New(kerrors.InvalidState, "reservation already registered").WithDetails("id", r.ID.String())
	}
	if err := sl.Register(r); err != nil {
		return err
	}
	if k.db != nil {
		if _, tracked := k.slices[sl.ID]; !tracked {
			if err := k.db.AddSlice(ctx, sliceRecord(sl)); err != nil {
				return kerrors.Wrap(kerrors.InvalidState, "persist slice", err)
			}
		}
		if err := k.db.AddReservation(ctx, reservationRecord(r)); err != nil {
			return kerrors.Wrap(kerrors.InvalidState, "persist reservation", err)
		}
	}
	k.reservations[r.ID] = r
	k.slices[sl.ID] = sl
	k.pending++
	return nil
}

// Unregister removes a terminal reservation from both its slice and the
// reservation table.
func (k *Kernel) Unregister(sl *slice.Slice, id idset.ID, terminal bool) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := sl.Unregister(id, terminal); err != nil {
		return err
	}
	delete(k.reservations, id)
	if k.pending > 0 {
		k.pending--
	}
	if k.pending == 0 {
		k.quiescent.Broadcast()
	}
	return nil
}

// RegisterDelegation adds d to the delegation table.
func (k *Kernel) RegisterDelegation(d *delegation.Delegation) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.delegations[d.ID] = d
}

// Snapshot returns copies of the reservation and slice id lists, safe to
// call from any goroutine (the admin CLI's read-only query path, per
// §5's "read-only snapshots" carve-out).
func (k *Kernel) Snapshot() (reservations, slices []idset.ID) {
	k.mu.Lock()
	defer k.mu.Unlock()
	for id := range k.reservations {
		reservations = append(reservations, id)
	}
	for id := range k.slices {
		slices = append(slices, id)
	}
	return reservations, slices
}

// probedAction is the outcome of prepare_probe/probe_pending for one
// reservation: the action service_probe must run this tick, decided
// against a snapshot of the table taken before persist runs.
type probedAction struct {
	r      *reservation.Reservation
	action string
}

// Tick drives every reservation through one probe/service pass for the
// cycle the caller passes in (the kernel does not keep or advance a cycle
// of its own), per spec §4.4's tick algorithm: prepare_probe/probe_pending decides what each
// reservation needs, persist snapshots the table, then service_probe runs
// the decided actions (completing ticket priming, approving and
// completing blocked joins, and sending the close FIN for CloseWait
// reservations). Delegations are not probed; terminal ones are only
// purged from the table. A broker actor configured with a calendar also
// runs its deferred allocation pass here, advancing any ticket that the
// broker policy's Bind could not satisfy synchronously. Errors from
// individual reservations are aggregated, not fatal to the tick.
func (k *Kernel) Tick(ctx context.Context, cycle clock.Cycle) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	var errs *multierror.Error
	start := len(k.reservations)

	var probes []probedAction
	for _, r := range k.reservations {
		state, pending, join := r.CurrentState()
		switch {
		case state == reservation.Ticketed && pending == reservation.PendingPriming:
			probes = append(probes, probedAction{r, "complete_priming"})
		case state == reservation.Active && join == reservation.JoinBlockedJoin:
			probes = append(probes, probedAction{r, "approve_join"})
		case state == reservation.Active && join == reservation.JoinJoining:
			probes = append(probes, probedAction{r, "complete_join"})
		case state == reservation.CloseWait:
			probes = append(probes, probedAction{r, "send_close"})
		}
	}

	for _, r := range k.reservations {
		if err := k.persistReservation(ctx, r); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	for _, p := range probes {
		if err := k.serviceProbe(ctx, p); err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		if err := k.persistReservation(ctx, p.r); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	if k.authorityPolicy != nil {
		for _, r := range k.reservations {
			state, pending, _ := r.CurrentState()
			if state != reservation.Active || pending != reservation.PendingNone || r.Approved_ {
				continue
			}
			if _, err := k.authorityPolicy.CorrectDeficit(r); err != nil {
				errs = multierror.Append(errs, err)
				continue
			}
			r.Approved_ = true
		}
	}

	if k.calendar != nil && k.pickNode != nil && k.inventoryFor != nil {
		k.calendar.Tick(cycle)
		_, granted, failed, allocErr := k.calendar.Allocate(cycle, k.pickNode, k.inventoryFor)
		if allocErr != nil {
			errs = multierror.Append(errs, allocErr)
		}
		for _, r := range granted {
			r.Current = r.Approved
			r.CurrentTerm = r.ApprovedTerm
			update := reservation.UpdateData{Events: []string{"ticket granted"}, Resources: r.Current, Term: r.CurrentTerm}
			if err := r.UpdateTicket(true, update); err != nil {
				errs = multierror.Append(errs, err)
				continue
			}
			if err := k.persistReservation(ctx, r); err != nil {
				errs = multierror.Append(errs, err)
			}
		}
		for _, r := range failed {
			if err := k.persistReservation(ctx, r); err != nil {
				errs = multierror.Append(errs, err)
			}
		}
	}

	for _, sl := range k.slices {
		sl.Reevaluate()
	}
	k.purgeTerminal()

	metrics.SetPendingReservations(k.Actor, len(k.reservations))
	if len(k.reservations) == 0 && start > 0 {
		k.quiescent.Broadcast()
	}
	return errs.ErrorOrNil()
}

func (k *Kernel) serviceProbe(ctx context.Context, p probedAction) error {
	switch p.action {
	case "complete_priming":
		return p.r.CompletePriming()
	case "approve_join":
		return p.r.ApproveJoin()
	case "complete_join":
		return p.r.CompleteJoin(p.r.Current.GetConcreteUnits(p.r.CurrentTerm.Start))
	case "send_close":
		return k.serviceCloseProbe(ctx, p.r)
	default:
		return kerrors.InvalidStatef("reservation %s: unknown probe action %q", p.r.ID, p.action)
	}
}

// serviceCloseProbe sends the close FIN for a CloseWait reservation. With
// no transport configured (a single-actor kernel, or unit tests driving
// the state machine directly) the FIN is applied locally; otherwise it is
// sent to the peer actor and the peer's response drives the transition.
func (k *Kernel) serviceCloseProbe(ctx context.Context, r *reservation.Reservation) error {
	if k.transport == nil {
		return r.UpdateLease(true, true, reservation.UpdateData{Events: []string{"closed"}})
	}
	ok, update, err := k.transport.Send(ctx, proxyFor(rpc.MessageClose, r), rpc.MessageClose, buildRequest(r, r.SequenceLeaseOut))
	if err != nil {
		return rpc.HandleFailedRPC(r, rpc.FailureNetwork, err.Error(), true)
	}
	return r.UpdateLease(ok, true, update)
}

func (k *Kernel) purgeTerminal() {
	for id, r := range k.reservations {
		state, _, _ := r.CurrentState()
		if state.IsTerminal() {
			delete(k.reservations, id)
		}
	}
	for id, d := range k.delegations {
		if d.IsTerminal() {
			delete(k.delegations, id)
		}
	}
}

func (k *Kernel) persistReservation(ctx context.Context, r *reservation.Reservation) error {
	if k.db == nil {
		return nil
	}
	return k.db.UpdateReservation(ctx, reservationRecord(r))
}

func sliceRecord(sl *slice.Slice) database.Record {
	snap := sl.Snapshot()
	payload, err := snap.Marshal()
	if err != nil {
		payload = nil
	}
	return database.Record{
		ID:      snap.ID,
		SliceID: snap.ID,
		Kind:    database.EntitySlice,
		Payload: payload,
	}
}

func reservationRecord(r *reservation.Reservation) database.Record {
	snap := r.Snapshot()
	payload, err := snap.Marshal()
	if err != nil {
		payload = nil
	}
	return database.Record{
		ID:      snap.ID,
		SliceID: snap.Slice,
		Kind:    database.EntityReservation,
		Payload: payload,
	}
}

// AwaitQuiescent blocks until the reservation table is empty, used by
// tests to synchronize on tick completion without polling.
func (k *Kernel) AwaitQuiescent() {
	k.mu.Lock()
	defer k.mu.Unlock()
	for len(k.reservations) > 0 {
		k.quiescent.Wait()
	}
}

// HandleDuplicate stores update in the dedupe cache under key, so that a
// later duplicate of the same request can be answered from LastUpdate
// (resending the last update) without re-running the triggering RPC
// handler.
func (k *Kernel) HandleDuplicate(key string, update reservation.UpdateData) {
	k.dedupe.Add(key, update)
}

// LastUpdate returns the most recently cached update for key, if any.
func (k *Kernel) LastUpdate(key string) (reservation.UpdateData, bool) {
	return k.dedupe.Get(key)
}

// Recover drives every persisted reservation's Recover() method at
// startup, per spec §4.4's recovery algorithm, returning the reissue
// action each reservation requires (empty string for none).
func Recover(reservations []Recoverer) map[int]string {
	out := make(map[int]string, len(reservations))
	for i, r := range reservations {
		if action := r.Recover(); action != "" {
			out[i] = action
		}
	}
	return out
}
