// Package reservation implements the reservation state machine (C4): the
// central aggregate every kernel tick drives through ticket/lease
// acquisition, extension, and close, enforcing the transition table in
// spec §4.3.
package reservation

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/meridianfed/fedres/internal/clock"
	"github.com/meridianfed/fedres/internal/kernel/idset"
	"github.com/meridianfed/fedres/internal/kernel/resource"
	"github.com/meridianfed/fedres/pkg/kerrors"
)

// Category discriminates the three actor-side shapes a Reservation takes,
// replacing per-role struct inheritance with one struct plus small
// capability checks.
type Category string

const (
	CategoryClient    Category = "Client"
	CategoryBroker    Category = "Broker"
	CategoryAuthority Category = "Authority"
)

// State is the reservation's primary lifecycle state.
type State string

const (
	Nascent        State = "Nascent"
	Ticketed       State = "Ticketed"
	Active         State = "Active"
	ActiveTicketed State = "ActiveTicketed"
	CloseWait      State = "CloseWait"
	Closed         State = "Closed"
	Failed         State = "Failed"
)

// IsTerminal reports whether s is Closed or Failed.
func (s State) IsTerminal() bool {
	return s == Closed || s == Failed
}

// Pending is the operation currently in flight against the reservation.
type Pending string

const (
	PendingNone           Pending = "None"
	PendingTicketing      Pending = "Ticketing"
	PendingRedeeming      Pending = "Redeeming"
	PendingExtendTicket   Pending = "ExtendingTicket"
	PendingExtendLease    Pending = "ExtendingLease"
	PendingModifyLease    Pending = "ModifyingLease"
	PendingPriming        Pending = "Priming"
	PendingClosing        Pending = "Closing"
	PendingAbsorbUpdate   Pending = "AbsorbUpdate"
	PendingSendUpdate     Pending = "SendUpdate"
)

// JoinState tracks client-side join sequencing against predecessor
// reservations.
type JoinState string

const (
	JoinNone         JoinState = "None"
	JoinNoJoin       JoinState = "NoJoin"
	JoinBlockedJoin  JoinState = "BlockedJoin"
	JoinBlockedRedeem JoinState = "BlockedRedeem"
	JoinJoining      JoinState = "Joining"
	JoinBlockedTicket JoinState = "BlockedTicket"
)

// Reservation is the central aggregate owned exclusively by the kernel
// dispatcher; all mutation happens through its methods from the
// dispatcher's single goroutine.
type Reservation struct {
	mu sync.Mutex

	ID       idset.ID
	Category Category
	Slice    idset.ID

	Current   resource.ResourceSet
	Requested resource.ResourceSet
	Approved  resource.ResourceSet
	Previous  resource.ResourceSet

	CurrentTerm   clock.Term
	RequestedTerm clock.Term
	ApprovedTerm  clock.Term
	PreviousTerm  clock.Term

	State        State
	PendingState Pending

	Extended       bool
	Dirty          bool
	Approved_      bool
	BidPending     bool
	PendingRecover bool
	Expired        bool
	ErrorMessage   string
	ServicePending Pending

	LastTransition time.Time

	// Client-side only.
	BrokerProxy           string
	AuthorityProxy        string
	TicketTerm            clock.Term
	LeaseTerm             clock.Term
	JoinState             JoinState
	RedeemPredecessors    []idset.ID
	JoinPredecessors      []idset.ID
	LastTicketUpdate      UpdateData
	LastLeaseUpdate       UpdateData
	RenewTime             clock.Cycle
	Renewable             bool
	ClosedDuringRedeem    bool
	SequenceTicketIn      int64
	SequenceTicketOut     int64
	SequenceLeaseIn       int64
	SequenceLeaseOut      int64

	// Server-side only (Broker, Authority).
	UpdateCount       int64
	CallbackProxy     string
	SequenceOut       int64
	ClientIdentity    string

	NotifiedAboutFailure bool
	Notices              []string
}

// New creates a Reservation in Nascent/None for the given category.
func New(id, slice idset.ID, category Category) *Reservation {
	return &Reservation{
		ID:             id,
		Slice:          slice,
		Category:       category,
		State:          Nascent,
		PendingState:   PendingNone,
		JoinState:      JoinNone,
		LastTransition: time.Time{},
	}
}

// transition is the single mutation point for State/PendingState, per the
// invariant that all transitions set state_transition (tracked here via
// Dirty) and Dirty together.
func (r *Reservation) transition(state State, pending Pending) {
	r.State = state
	r.PendingState = pending
	r.Dirty = true
}

// CurrentState returns a snapshot of (State, PendingState, JoinState).
func (r *Reservation) CurrentState() (State, Pending, JoinState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.State, r.PendingState, r.JoinState
}

// AddNotice appends a notice visible via GetNotices.
func (r *Reservation) AddNotice(notice string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Notices = append(r.Notices, notice)
}

// GetNotices returns a copy of the reservation's accumulated notices.
func (r *Reservation) GetNotices() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.Notices...)
}

// ExceedsTimeout reports whether the reservation has sat in its current
// state/pending pair for longer than the given number of seconds.
func (r *Reservation) ExceedsTimeout(seconds int64, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.LastTransition.IsZero() {
		return false
	}
	return now.Sub(r.LastTransition) > time.Duration(seconds)*time.Second
}

// Reserve issues a ticket request from Nascent/None (initial reservation)
// or a redeem request from Ticketed/None (continuing an already-ticketed
// reservation), per the client-side arcs in spec §4.3.
func (r *Reservation) Reserve() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Category != CategoryClient {
		return kerrors.InvalidStatef("reservation %s: reserve is client-side only", r.ID)
	}

	switch {
	case r.State == Nascent && r.PendingState == PendingNone:
		r.transition(Nascent, PendingTicketing)
		r.SequenceTicketOut++
		return nil
	case r.State == Ticketed && r.PendingState == PendingNone:
		r.transition(Ticketed, PendingRedeeming)
		if len(r.RedeemPredecessors) > 0 {
			r.JoinState = JoinBlockedRedeem
		}
		r.SequenceLeaseOut++
		return nil
	case r.State == ActiveTicketed && r.PendingState == PendingNone:
		// ActiveTicketed/None -> invoke extend_lease.
		r.transition(ActiveTicketed, PendingExtendLease)
		r.SequenceLeaseOut++
		return nil
	default:
		return kerrors.InvalidStatef("reservation %s: reserve() invalid from %s/%s", r.ID, r.State, r.PendingState)
	}
}

// UpdateTicket handles an inbound update_ticket, driving the reservation
// out of Ticketing, ExtendingTicket, or a no-op repeat, per sequence
// discipline already resolved by the caller (the RPC layer).
func (r *Reservation) UpdateTicket(ok bool, update UpdateData) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.LastTicketUpdate = update
	if !ok {
		return r.failLocked(update.Message)
	}
	if !update.Resources.IsEmpty() {
		r.Current = update.Resources
		r.CurrentTerm = update.Term
		r.TicketTerm = update.Term
	}

	switch {
	case r.State == Nascent && r.PendingState == PendingTicketing:
		r.transition(Ticketed, PendingPriming)
		r.PendingRecover = false
		r.Approved_ = false
		return nil
	case r.State == Active && r.PendingState == PendingExtendTicket:
		r.transition(ActiveTicketed, PendingNone)
		return nil
	default:
		return kerrors.InvalidStatef("reservation %s: update_ticket invalid from %s/%s", r.ID, r.State, r.PendingState)
	}
}

// UpdateLease handles an inbound update_lease, driving Redeeming to
// Active, ExtendLease back to None, or FIN-during-CloseWait to Closed.
func (r *Reservation) UpdateLease(ok bool, fin bool, update UpdateData) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.LastLeaseUpdate = update
	if !ok {
		return r.failLocked(update.Message)
	}
	if !update.Resources.IsEmpty() {
		r.Current = update.Resources
		r.CurrentTerm = update.Term
	}

	switch {
	case r.State == CloseWait && fin:
		r.transition(Closed, PendingNone)
		return nil
	case r.State == Ticketed && r.PendingState == PendingRedeeming:
		r.transition(Active, PendingNone)
		r.JoinState = JoinBlockedJoin
		if r.ClosedDuringRedeem {
			r.ClosedDuringRedeem = false
			return r.closeLocked()
		}
		return nil
	case r.State == ActiveTicketed && r.PendingState == PendingExtendLease:
		r.transition(Active, PendingNone)
		return nil
	case r.State == Active && r.PendingState == PendingModifyLease:
		r.transition(Active, PendingNone)
		return nil
	default:
		return kerrors.InvalidStatef("reservation %s: update_lease invalid from %s/%s", r.ID, r.State, r.PendingState)
	}
}

// CompletePriming finishes client-side ticket priming, advancing
// Ticketed/Priming to Ticketed/None once local bookkeeping for the new
// ticket is recorded.
func (r *Reservation) CompletePriming() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.State != Ticketed || r.PendingState != PendingPriming {
		return kerrors.InvalidStatef("reservation %s: complete_priming invalid from %s/%s", r.ID, r.State, r.PendingState)
	}
	r.transition(Ticketed, PendingNone)
	r.Approved_ = true
	return nil
}

// ApproveJoin drives Active/BlockedJoin to Active/None with joinstate
// Joining and service_pending set, once predecessor join conditions clear.
func (r *Reservation) ApproveJoin() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.State != Active || r.JoinState != JoinBlockedJoin {
		return kerrors.InvalidStatef("reservation %s: approve_join invalid from %s/join=%s", r.ID, r.State, r.JoinState)
	}
	r.JoinState = JoinJoining
	r.ServicePending = PendingSendUpdate
	return nil
}

// CompleteJoin reports the outcome of a join's configuration actions:
// active concrete units confirm the join, zero units fails the
// reservation.
func (r *Reservation) CompleteJoin(concreteUnits int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.JoinState != JoinJoining {
		return kerrors.InvalidStatef("reservation %s: complete_join invalid from join=%s", r.ID, r.JoinState)
	}
	if concreteUnits <= 0 {
		r.State = Failed
		r.Dirty = true
		return nil
	}
	r.JoinState = JoinNoJoin
	return nil
}

// ExtendTicket issues an extend_ticket request from Active/None.
func (r *Reservation) ExtendTicket(newTerm clock.Term) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.State != Active || r.PendingState != PendingNone {
		return kerrors.InvalidStatef("reservation %s: extend_ticket invalid from %s/%s", r.ID, r.State, r.PendingState)
	}
	if err := clock.EnforceExtendsTerm(newTerm, r.TicketTerm); err != nil {
		return err
	}
	r.RequestedTerm = newTerm
	r.transition(Active, PendingExtendTicket)
	r.SequenceTicketOut++
	return nil
}

// ModifyLease issues a modify_lease request from Active/None.
func (r *Reservation) ModifyLease(requested resource.ResourceSet) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.State != Active || r.PendingState != PendingNone {
		return kerrors.InvalidStatef("reservation %s: modify_lease invalid from %s/%s", r.ID, r.State, r.PendingState)
	}
	r.Requested = requested
	r.transition(Active, PendingModifyLease)
	r.SequenceLeaseOut++
	return nil
}

// Close is idempotent and may be invoked from any non-terminal state. If
// the lease is currently being redeemed, the close is deferred via
// ClosedDuringRedeem and re-issued once the lease arrives.
func (r *Reservation) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeLocked()
}

func (r *Reservation) closeLocked() error {
	if r.State.IsTerminal() {
		return nil
	}
	if r.State == Ticketed && r.PendingState == PendingRedeeming {
		r.ClosedDuringRedeem = true
		return nil
	}
	if r.State == CloseWait {
		return nil
	}
	if r.leaseHeldLocked() {
		r.transition(CloseWait, PendingNone)
		return nil
	}
	r.transition(Closed, PendingNone)
	return nil
}

// leaseHeldLocked reports whether the reservation currently holds an
// active lease that must be relinquished before Closed, i.e. it has ever
// reached Active or ActiveTicketed.
func (r *Reservation) leaseHeldLocked() bool {
	return r.State == Active || r.State == ActiveTicketed
}

// Fail transitions the reservation to Failed with the given message. A
// reservation that has entered Failed remains Failed; subsequent updates
// are rejected via the notified_about_failure reset-once guard.
func (r *Reservation) Fail(message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failLocked(message)
}

func (r *Reservation) failLocked(message string) error {
	if r.State == Failed {
		if !r.NotifiedAboutFailure {
			r.NotifiedAboutFailure = true
			return kerrors.InvalidStatef("reservation %s already failed: %s", r.ID, r.ErrorMessage)
		}
		return nil
	}
	r.ErrorMessage = message
	r.transition(Failed, PendingNone)
	return nil
}

// HandleDuplicateRequest implements the SequenceEqual recovery behavior:
// resend the last update for ticket/lease requests, no-op for relinquish.
func (r *Reservation) HandleDuplicateRequest(channel string) (UpdateData, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch channel {
	case "ticket":
		return r.LastTicketUpdate, true
	case "lease":
		return r.LastLeaseUpdate, true
	default:
		return UpdateData{}, false
	}
}

// Recover implements the kernel's per-reservation recovery logic invoked
// at startup for each persisted reservation (client side).
func (r *Reservation) Recover() (reissue string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case r.State == Nascent && r.PendingState == PendingNone:
		return "ticket"
	case r.State == Nascent && r.PendingState == PendingTicketing:
		r.PendingState = PendingNone
		r.SequenceTicketOut--
		r.PendingRecover = true
		return "ticket"
	case r.State == Ticketed && r.PendingState == PendingRedeeming:
		return "redeem"
	case r.State == Active && r.JoinState == JoinJoining:
		return "redeem_after_configure"
	case r.PendingState == PendingPriming && r.PendingRecover:
		return "close"
	case r.PendingState == PendingClosing:
		return "close"
	default:
		return ""
	}
}

// Snapshot is the serializable projection of a Reservation persisted to a
// database.Record's opaque Payload. It carries enough of the aggregate's
// state for the administrative CLI and kernel recovery path to read and
// reconstruct it without the rest of the kernel running.
type Snapshot struct {
	ID            string    `json:"id"`
	Slice         string    `json:"slice"`
	Category      Category  `json:"category"`
	State         State     `json:"state"`
	PendingState  Pending   `json:"pending_state"`
	JoinState     JoinState `json:"join_state"`
	ResourceType  string    `json:"resource_type"`
	Units         int       `json:"units"`
	TermStart     clock.Cycle `json:"term_start"`
	TermEnd       clock.Cycle `json:"term_end"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	Notices       []string  `json:"notices,omitempty"`
	PendingRecover bool     `json:"pending_recover,omitempty"`
}

// Snapshot captures the reservation's current persistable state.
func (r *Reservation) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		ID:             r.ID.String(),
		Slice:          r.Slice.String(),
		Category:       r.Category,
		State:          r.State,
		PendingState:   r.PendingState,
		JoinState:      r.JoinState,
		ResourceType:   r.Current.GetType(),
		Units:          r.Current.GetUnits(),
		TermStart:      r.CurrentTerm.Start,
		TermEnd:        r.CurrentTerm.End,
		ErrorMessage:   r.ErrorMessage,
		Notices:        append([]string(nil), r.Notices...),
		PendingRecover: r.PendingRecover,
	}
}

// Marshal encodes the snapshot as the Payload of a database.Record.
func (s Snapshot) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

// UnmarshalSnapshot decodes a database.Record's Payload back into a
// Snapshot.
func UnmarshalSnapshot(payload []byte) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(payload, &s); err != nil {
		return Snapshot{}, kerrors.Wrap(kerrors.InvalidArgument, "decode reservation snapshot", err)
	}
	return s, nil
}

// FromSnapshot reconstructs a Reservation from a persisted Snapshot, for
// callers (the administrative CLI, kernel recovery) that operate on
// persisted state without a live kernel-owned object.
func FromSnapshot(s Snapshot) (*Reservation, error) {
	id, err := idset.Parse(s.ID)
	if err != nil {
		return nil, kerrors.Wrap(kerrors.InvalidArgument, "parse reservation id", err)
	}
	sliceID, err := idset.Parse(s.Slice)
	if err != nil {
		return nil, kerrors.Wrap(kerrors.InvalidArgument, "parse slice id", err)
	}
	r := New(id, sliceID, s.Category)
	r.State = s.State
	r.PendingState = s.PendingState
	r.JoinState = s.JoinState
	r.Current = resource.NewResourceSet(s.Units, s.ResourceType, nil)
	r.CurrentTerm = clock.NewTerm(s.TermStart, s.TermEnd)
	r.ErrorMessage = s.ErrorMessage
	r.Notices = append([]string(nil), s.Notices...)
	r.PendingRecover = s.PendingRecover
	return r, nil
}
