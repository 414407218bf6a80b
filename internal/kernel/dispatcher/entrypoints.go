package dispatcher

import (
	"context"
	"time"

	"github.com/meridianfed/fedres/internal/calendar"
	"github.com/meridianfed/fedres/internal/clock"
	"github.com/meridianfed/fedres/internal/kernel/delegation"
	"github.com/meridianfed/fedres/internal/kernel/idset"
	"github.com/meridianfed/fedres/internal/kernel/reservation"
	"github.com/meridianfed/fedres/internal/kernel/resource"
	"github.com/meridianfed/fedres/internal/rpc"
	"github.com/meridianfed/fedres/pkg/kerrors"
)

// Request is the wire-level shape of a peer RPC message: the reservation
// payload plus the sequence number the receiving actor classifies against
// its per-channel counter, per spec §6's ticket/redeem/close field list.
type Request struct {
	ReservationID  idset.ID
	SliceID        idset.ID
	ResourceType   string
	Units          int
	Term           clock.Term
	Sequence       int64
	CallerIdentity string
}

// Transport delivers an outbound request to the peer actor owning the
// target proxy and returns that peer's synchronous response. It is the
// seam spec §1 leaves to the implementer for the wire protocol; LocalPeer
// satisfies it for actors wired together in one process.
type Transport interface {
	Send(ctx context.Context, targetProxy string, kind rpc.MessageKind, req Request) (ok bool, update reservation.UpdateData, err error)
}

// LocalPeer adapts a receiving Kernel's HandleRequest into the Transport
// interface, letting two actors be wired directly together without a
// wire transport, which spec §1 scopes out as an external collaborator.
type LocalPeer struct {
	Kernel *Kernel
}

// Send implements Transport by calling straight into the peer kernel's
// request handler.
func (p *LocalPeer) Send(ctx context.Context, targetProxy string, kind rpc.MessageKind, req Request) (bool, reservation.UpdateData, error) {
	return p.Kernel.HandleRequest(ctx, kind, req)
}

// SetBrokerPolicy configures the broker-side decision surface this kernel
// consults when servicing ticket requests, along with the calendar and
// allocation hooks its Tick's deferred allocation pass uses.
func (k *Kernel) SetBrokerPolicy(p BrokerPolicy, cal *calendar.Calendar, pick NodePicker, inventoryFor func(resourceType string) (Inventory, error)) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.brokerPolicy = p
	k.calendar = cal
	k.pickNode = pick
	k.inventoryFor = inventoryFor
}

// SetAuthorityPolicy configures the authority-side decision surface this
// kernel consults while assigning concrete resources, and wires sub's
// asynchronous completion callback back to it.
func (k *Kernel) SetAuthorityPolicy(p AuthorityPolicy, sub Substrate) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.authorityPolicy = p
	k.substratePlugin = sub
	if sub != nil {
		sub.OnComplete(func(action, token string, props resource.Properties, err error) {
			if k.authorityPolicy != nil {
				_ = k.authorityPolicy.ConfigurationComplete(action, token, props, err)
			}
		})
	}
}

// SetQuota configures the identity/quota service consulted before a lease
// request is assigned. Ticket requests are not checked against it.
func (k *Kernel) SetQuota(q QuotaService) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.quotaSvc = q
}

// SetTransport configures the outbound peer delivery this kernel uses to
// reach a broker or authority proxy.
func (k *Kernel) SetTransport(t Transport) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.transport = t
}

func (k *Kernel) lookupReservation(id idset.ID) (*reservation.Reservation, error) {
	r, ok := k.reservations[id]
	if !ok {
		return nil, kerrors.NotFoundf("reservation", id.String())
	}
	return r, nil
}

func channelFor(kind rpc.MessageKind) string {
	switch kind {
	case rpc.MessageTicket, rpc.MessageExtendTicket, rpc.MessageUpdateTicket:
		return "ticket"
	default:
		return "lease"
	}
}

func channelPending(r *reservation.Reservation, channel string) bool {
	_, pending, _ := r.CurrentState()
	if channel == "ticket" {
		return pending == reservation.PendingTicketing || pending == reservation.PendingExtendTicket
	}
	return pending == reservation.PendingRedeeming || pending == reservation.PendingExtendLease || pending == reservation.PendingModifyLease
}

func proxyFor(kind rpc.MessageKind, r *reservation.Reservation) string {
	switch kind {
	case rpc.MessageTicket, rpc.MessageExtendTicket:
		return r.BrokerProxy
	default:
		return r.AuthorityProxy
	}
}

func buildRequest(r *reservation.Reservation, sequence int64) Request {
	return Request{
		ReservationID:  r.ID,
		SliceID:        r.Slice,
		ResourceType:   r.Requested.GetType(),
		Units:          r.Requested.GetUnits(),
		Term:           r.RequestedTerm,
		Sequence:       sequence,
		CallerIdentity: r.ClientIdentity,
	}
}

// dispatchOutbound sends kind for r over the configured transport (a
// no-op when no transport is configured, e.g. unit tests exercising only
// the local transition) and applies the peer's synchronous response.
func (k *Kernel) dispatchOutbound(ctx context.Context, kind rpc.MessageKind, r *reservation.Reservation, sequence int64) error {
	if k.transport == nil {
		return nil
	}
	ok, update, err := k.transport.Send(ctx, proxyFor(kind, r), kind, buildRequest(r, sequence))
	if err != nil {
		return rpc.HandleFailedRPC(r, rpc.FailureNetwork, err.Error(), false)
	}
	if channelFor(kind) == "ticket" {
		return r.UpdateTicket(ok, update)
	}
	return r.UpdateLease(ok, false, update)
}

// Ticket issues a client-side ticket request for reservation id, per
// spec §4.4's "ticket" entry point.
func (k *Kernel) Ticket(ctx context.Context, id idset.ID) error {
	return k.Submit(ctx, EventReserve, func() error {
		k.mu.Lock()
		defer k.mu.Unlock()
		r, err := k.lookupReservation(id)
		if err != nil {
			return err
		}
		if err := r.Reserve(); err != nil {
			return err
		}
		if err := k.persistReservation(ctx, r); err != nil {
			return err
		}
		return k.dispatchOutbound(ctx, rpc.MessageTicket, r, r.SequenceTicketOut)
	})
}

// ExtendTicket issues a client-side extend_ticket request for an Active
// reservation, advancing to newTerm.
func (k *Kernel) ExtendTicket(ctx context.Context, id idset.ID, newTerm clock.Term) error {
	return k.Submit(ctx, EventReserve, func() error {
		k.mu.Lock()
		defer k.mu.Unlock()
		r, err := k.lookupReservation(id)
		if err != nil {
			return err
		}
		if err := r.ExtendTicket(newTerm); err != nil {
			return err
		}
		if err := k.persistReservation(ctx, r); err != nil {
			return err
		}
		return k.dispatchOutbound(ctx, rpc.MessageExtendTicket, r, r.SequenceTicketOut)
	})
}

// Redeem issues a client-side redeem request against the authority for a
// Ticketed reservation.
func (k *Kernel) Redeem(ctx context.Context, id idset.ID) error {
	return k.Submit(ctx, EventReserve, func() error {
		k.mu.Lock()
		defer k.mu.Unlock()
		r, err := k.lookupReservation(id)
		if err != nil {
			return err
		}
		if err := r.Reserve(); err != nil {
			return err
		}
		if err := k.persistReservation(ctx, r); err != nil {
			return err
		}
		return k.dispatchOutbound(ctx, rpc.MessageRedeem, r, r.SequenceLeaseOut)
	})
}

// ExtendLease issues a client-side extend_lease request for an
// ActiveTicketed reservation.
func (k *Kernel) ExtendLease(ctx context.Context, id idset.ID) error {
	return k.Submit(ctx, EventReserve, func() error {
		k.mu.Lock()
		defer k.mu.Unlock()
		r, err := k.lookupReservation(id)
		if err != nil {
			return err
		}
		if err := r.Reserve(); err != nil {
			return err
		}
		if err := k.persistReservation(ctx, r); err != nil {
			return err
		}
		return k.dispatchOutbound(ctx, rpc.MessageExtendLease, r, r.SequenceLeaseOut)
	})
}

// ModifyLease issues a client-side modify_lease request for a changed
// resource set.
func (k *Kernel) ModifyLease(ctx context.Context, id idset.ID, requested resource.ResourceSet) error {
	return k.Submit(ctx, EventReserve, func() error {
		k.mu.Lock()
		defer k.mu.Unlock()
		r, err := k.lookupReservation(id)
		if err != nil {
			return err
		}
		if err := r.ModifyLease(requested); err != nil {
			return err
		}
		if err := k.persistReservation(ctx, r); err != nil {
			return err
		}
		return k.dispatchOutbound(ctx, rpc.MessageModifyLease, r, r.SequenceLeaseOut)
	})
}

// Close issues close for reservation id. Per spec §5, close is idempotent
// and relies on subsequent ticks to actually reach Closed; this entry
// point only performs the local transition and persists it.
func (k *Kernel) Close(ctx context.Context, id idset.ID) error {
	return k.Submit(ctx, EventClose, func() error {
		k.mu.Lock()
		defer k.mu.Unlock()
		r, err := k.lookupReservation(id)
		if err != nil {
			return err
		}
		if err := r.Close(); err != nil {
			return err
		}
		return k.persistReservation(ctx, r)
	})
}

func (k *Kernel) classifyInbound(r *reservation.Reservation, channel string, sequence int64) (reservation.SequenceOutcome, bool) {
	current := r.SequenceTicketIn
	if channel == "lease" {
		current = r.SequenceLeaseIn
	}
	outcome := reservation.ClassifySequence(sequence, current, channelPending(r, channel))
	return outcome, outcome == reservation.SequenceSmaller || outcome == reservation.SequenceInProgress
}

func (k *Kernel) logDropped(ctx context.Context, r *reservation.Reservation, outcome reservation.SequenceOutcome) {
	k.log.WithContext(ctx).WithField("reservation", r.ID.String()).WithField("outcome", string(outcome)).Warn("dropping out-of-sequence update")
}

func dedupeKey(id idset.ID, channel string) string {
	return id.String() + "/" + channel
}

// UpdateTicket handles an inbound update_ticket response, classifying its
// sequence number against the reservation's ticket-channel counter.
func (k *Kernel) UpdateTicket(ctx context.Context, id idset.ID, sequence int64, ok bool, update reservation.UpdateData) error {
	return k.Submit(ctx, EventUpdate, func() error {
		k.mu.Lock()
		defer k.mu.Unlock()
		r, err := k.lookupReservation(id)
		if err != nil {
			return err
		}
		outcome, skip := k.classifyInbound(r, "ticket", sequence)
		if skip {
			k.logDropped(ctx, r, outcome)
			return nil
		}
		if outcome == reservation.SequenceEqual {
			cached, found := r.HandleDuplicateRequest("ticket")
			if found {
				k.HandleDuplicate(dedupeKey(id, "ticket"), cached)
			}
			return nil
		}
		r.SequenceTicketIn = sequence
		if err := r.UpdateTicket(ok, update); err != nil {
			return err
		}
		k.HandleDuplicate(dedupeKey(id, "ticket"), update)
		return k.persistReservation(ctx, r)
	})
}

// UpdateLease handles an inbound update_lease response, classifying its
// sequence number against the reservation's lease-channel counter.
func (k *Kernel) UpdateLease(ctx context.Context, id idset.ID, sequence int64, ok, fin bool, update reservation.UpdateData) error {
	return k.Submit(ctx, EventUpdate, func() error {
		k.mu.Lock()
		defer k.mu.Unlock()
		r, err := k.lookupReservation(id)
		if err != nil {
			return err
		}
		outcome, skip := k.classifyInbound(r, "lease", sequence)
		if skip {
			k.logDropped(ctx, r, outcome)
			return nil
		}
		if outcome == reservation.SequenceEqual {
			cached, found := r.HandleDuplicateRequest("lease")
			if found {
				k.HandleDuplicate(dedupeKey(id, "lease"), cached)
			}
			return nil
		}
		r.SequenceLeaseIn = sequence
		if err := r.UpdateLease(ok, fin, update); err != nil {
			return err
		}
		k.HandleDuplicate(dedupeKey(id, "lease"), update)
		return k.persistReservation(ctx, r)
	})
}

// UpdateDelegation applies an inbound claim/reclaim/update result to the
// named delegation.
func (k *Kernel) UpdateDelegation(ctx context.Context, id idset.ID, ok bool) error {
	return k.Submit(ctx, EventUpdate, func() error {
		k.mu.Lock()
		defer k.mu.Unlock()
		d, exists := k.delegations[id]
		if !exists {
			return kerrors.NotFoundf("delegation", id.String())
		}
		if !ok {
			return d.Transition(delegation.Failed)
		}
		return d.Delegate()
	})
}

// FailedRPC applies spec §4.5's reservation-level failure-handling rules
// for reservation id.
func (k *Kernel) FailedRPC(ctx context.Context, id idset.ID, class rpc.FailureClass, message string, leaseReleasedLocally bool) error {
	return k.Submit(ctx, EventFailedRPC, func() error {
		k.mu.Lock()
		defer k.mu.Unlock()
		r, err := k.lookupReservation(id)
		if err != nil {
			return err
		}
		if err := rpc.HandleFailedRPC(r, class, message, leaseReleasedLocally); err != nil {
			return err
		}
		return k.persistReservation(ctx, r)
	})
}

// Query answers an out-of-band inventory query against the configured
// broker policy.
func (k *Kernel) Query(ctx context.Context, props resource.Properties) (resource.Properties, error) {
	var out resource.Properties
	err := k.Submit(ctx, EventQuery, func() error {
		k.mu.Lock()
		defer k.mu.Unlock()
		if k.brokerPolicy == nil {
			return kerrors.InvalidStatef("query: no broker policy configured on actor %s", k.Actor)
		}
		var qerr error
		out, qerr = k.brokerPolicy.Query(props)
		return qerr
	})
	return out, err
}

// alignForRequest sets the state/pending pair an inbound kind expects to
// find before servicing, mirroring the sender's own just-issued
// transition so UpdateTicket/UpdateLease's preconditions hold on the
// receiver's shadow copy of the reservation.
func alignForRequest(r *reservation.Reservation, kind rpc.MessageKind) {
	switch kind {
	case rpc.MessageTicket:
		r.State, r.PendingState = reservation.Nascent, reservation.PendingTicketing
	case rpc.MessageExtendTicket:
		r.State, r.PendingState = reservation.Active, reservation.PendingExtendTicket
	case rpc.MessageRedeem:
		r.State, r.PendingState = reservation.Ticketed, reservation.PendingRedeeming
	case rpc.MessageExtendLease:
		r.State, r.PendingState = reservation.ActiveTicketed, reservation.PendingExtendLease
	case rpc.MessageModifyLease:
		r.State, r.PendingState = reservation.Active, reservation.PendingModifyLease
	}
}

// HandleRequest is the server side of the peer RPC pipeline: it locates
// or creates the receiving actor's shadow reservation for req, classifies
// req's sequence number, and services the request against whichever
// policy (broker or authority) this kernel is configured with. Transport
// implementations (LocalPeer, or a future wire adapter) call this to
// deliver an inbound request.
func (k *Kernel) HandleRequest(ctx context.Context, kind rpc.MessageKind, req Request) (ok bool, update reservation.UpdateData, err error) {
	err = k.Submit(ctx, EventReserve, func() error {
		k.mu.Lock()
		defer k.mu.Unlock()

		r, found := k.reservations[req.ReservationID]
		if !found {
			r = k.newShadowReservation(req)
			k.reservations[r.ID] = r
			k.pending++
		}

		channel := channelFor(kind)
		outcome, skip := k.classifyInbound(r, channel, req.Sequence)
		if skip {
			k.logDropped(ctx, r, outcome)
			return nil
		}
		if outcome == reservation.SequenceEqual {
			cached, has := r.HandleDuplicateRequest(channel)
			if has {
				ok, update = true, cached
			}
			return nil
		}
		if channel == "ticket" {
			r.SequenceTicketIn = req.Sequence
		} else {
			r.SequenceLeaseIn = req.Sequence
		}
		alignForRequest(r, kind)

		switch kind {
		case rpc.MessageTicket, rpc.MessageExtendTicket:
			ok, update, err = k.serviceTicketRequest(ctx, r)
		case rpc.MessageRedeem, rpc.MessageExtendLease, rpc.MessageModifyLease:
			ok, update, err = k.serviceLeaseRequest(ctx, r)
		case rpc.MessageClose:
			closeErr := r.Close()
			ok, update, err = closeErr == nil, reservation.UpdateData{Events: []string{"closed"}}, closeErr
			if k.authorityPolicy != nil {
				_ = k.authorityPolicy.Close(r)
			}
		default:
			err = kerrors.InvalidArgumentf("unsupported request kind %q", kind)
		}
		if err != nil {
			return err
		}
		if channel == "ticket" {
			r.LastTicketUpdate = update
		} else {
			r.LastLeaseUpdate = update
		}
		return k.persistReservation(ctx, r)
	})
	return ok, update, err
}

func (k *Kernel) newShadowReservation(req Request) *reservation.Reservation {
	category := reservation.CategoryBroker
	if k.authorityPolicy != nil {
		category = reservation.CategoryAuthority
	}
	r := reservation.New(req.ReservationID, req.SliceID, category)
	r.ClientIdentity = req.CallerIdentity
	r.Requested = resource.NewResourceSet(req.Units, req.ResourceType, nil)
	r.RequestedTerm = req.Term
	return r
}

// serviceTicketRequest runs the broker-side half of the ticket arc (spec
// §4.7's bind): attempt an immediate inventory bind, and fall back to the
// calendar's deferred allocation pass on overflow. No quota check is made
// on this path.
func (k *Kernel) serviceTicketRequest(ctx context.Context, r *reservation.Reservation) (bool, reservation.UpdateData, error) {
	if k.brokerPolicy == nil {
		return false, reservation.UpdateData{}, kerrors.InvalidStatef("reservation %s: no broker policy configured", r.ID)
	}
	if err := k.brokerPolicy.Bind(r); err != nil {
		r.AddNotice(err.Error())
		if k.calendar != nil {
			k.calendar.AddRequest(k.clock.Cycle(time.Now()), r)
		}
		return false, reservation.UpdateData{}, nil
	}
	ticket := resource.NewTicket(idset.New(), k.Actor, r.Requested.GetUnits(), r.RequestedTerm)
	r.Current = resource.NewResourceSet(r.Requested.GetUnits(), r.Requested.GetType(), ticket)
	r.CurrentTerm = r.RequestedTerm
	update := reservation.UpdateData{Events: []string{"ticket granted"}, Resources: r.Current, Term: r.CurrentTerm}
	if err := r.UpdateTicket(true, update); err != nil {
		return false, reservation.UpdateData{}, err
	}
	return true, update, nil
}

// serviceLeaseRequest runs the authority-side half of the redeem/extend
// arc: assign dispatches to the resource control for the requested type,
// then correct_deficit decides whether to proceed with a short grant.
func (k *Kernel) serviceLeaseRequest(ctx context.Context, r *reservation.Reservation) (bool, reservation.UpdateData, error) {
	if k.authorityPolicy == nil {
		return false, reservation.UpdateData{}, kerrors.InvalidStatef("reservation %s: no authority policy configured", r.ID)
	}
	if k.quotaSvc != nil {
		if err := k.quotaSvc.UpdateQuotaUsage(ctx, r.ClientIdentity, r.Requested.GetType(), int64(r.Requested.GetUnits())); err != nil {
			r.AddNotice(err.Error())
			_ = k.authorityPolicy.Failed(r, err.Error())
			return false, reservation.UpdateData{}.Fail(err.Error()), nil
		}
	}
	if err := k.authorityPolicy.Assign(r); err != nil {
		r.AddNotice(err.Error())
		_ = k.authorityPolicy.Failed(r, err.Error())
		return false, reservation.UpdateData{}.Fail(err.Error()), nil
	}
	ticket := resource.NewTicket(idset.New(), k.Actor, r.Requested.GetUnits(), r.RequestedTerm)
	r.Approved = resource.NewResourceSet(r.Requested.GetUnits(), r.Requested.GetType(), ticket)
	r.ApprovedTerm = r.RequestedTerm
	if r.Approved.GetConcreteUnits(r.ApprovedTerm.Start) < r.Requested.GetUnits() {
		sendWithDeficit, err := k.authorityPolicy.CorrectDeficit(r)
		if err != nil {
			r.AddNotice(err.Error())
			return false, reservation.UpdateData{}.Fail(err.Error()), nil
		}
		if !sendWithDeficit {
			return false, reservation.UpdateData{}, nil
		}
	}
	r.Current = r.Approved
	r.CurrentTerm = r.ApprovedTerm
	update := reservation.UpdateData{Events: []string{"lease active"}, Resources: r.Current, Term: r.CurrentTerm}
	if err := r.UpdateLease(true, false, update); err != nil {
		return false, reservation.UpdateData{}, err
	}
	return true, update, nil
}
