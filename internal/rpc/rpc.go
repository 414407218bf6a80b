// Package rpc implements the peer RPC layer (C6, spec §4.5): the
// sequence-numbered request/response pipeline between actors, a
// pending-request table with retry/backoff, and the reservation-level
// failure-handling rules network errors and protocol errors trigger.
package rpc

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/meridianfed/fedres/internal/kernel/reservation"
	"github.com/meridianfed/fedres/pkg/kerrors"
	"github.com/meridianfed/fedres/pkg/logger"
	"github.com/meridianfed/fedres/pkg/metrics"
)

// MessageKind enumerates the peer RPC message types spec §4.5 names.
type MessageKind string

const (
	MessageTicket           MessageKind = "Ticket"
	MessageExtendTicket     MessageKind = "ExtendTicket"
	MessageRelinquish       MessageKind = "Relinquish"
	MessageRedeem           MessageKind = "Redeem"
	MessageExtendLease      MessageKind = "ExtendLease"
	MessageModifyLease      MessageKind = "ModifyLease"
	MessageClose            MessageKind = "Close"
	MessageUpdateTicket     MessageKind = "UpdateTicket"
	MessageUpdateLease      MessageKind = "UpdateLease"
	MessageUpdateDelegation MessageKind = "UpdateDelegation"
	MessageClaimDelegation  MessageKind = "ClaimDelegation"
	MessageReclaimDelegation MessageKind = "ReclaimDelegation"
	MessageQuery            MessageKind = "Query"
)

// Backoff computes exponential backoff with jitter for retry attempt n
// (0-indexed), clamped to [min, max]. Reimplements the shape of
// jontk-slurm-client's HTTPExponentialBackoff (factor 2, jittered) as a
// pure function rather than importing that module's HTTP-specific type.
func Backoff(attempt int, min, max time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	wait := float64(min) * math.Pow(2, float64(attempt))
	if wait > float64(max) {
		wait = float64(max)
	}
	jittered := wait/2 + rand.Float64()*wait/2
	if jittered < float64(min) {
		jittered = float64(min)
	}
	return time.Duration(jittered)
}

// PendingRequest is one outstanding outbound request, keyed by message
// id in Table.
type PendingRequest struct {
	ID           string
	TargetProxy  string
	Kind         MessageKind
	Sequence     int64
	ResponseHandler func(ok bool, update reservation.UpdateData)
	RetryCount   int
	Timer        *time.Timer
}

// Table is the pending-request table every actor's RPC layer maintains:
// target proxy, optional response handler, retry timer, and retry count
// per in-flight message id.
type Table struct {
	mu       sync.Mutex
	requests map[string]*PendingRequest

	limiter *rate.Limiter
	minWait time.Duration
	maxWait time.Duration
	maxRetries int

	log *logger.Logger
}

// NewTable creates a Table rate-limited to ratePerSecond outbound
// requests with the given retry bounds.
func NewTable(actor string, ratePerSecond float64, maxRetries int, minWait, maxWait time.Duration) *Table {
	return &Table{
		requests:   make(map[string]*PendingRequest),
		limiter:    rate.NewLimiter(rate.Limit(ratePerSecond), int(math.Max(1, ratePerSecond))),
		minWait:    minWait,
		maxWait:    maxWait,
		maxRetries: maxRetries,
		log:        logger.New(actor, logger.Config{}),
	}
}

// Send registers req as pending and invokes send once the rate limiter
// admits it.
func (t *Table) Send(ctx context.Context, req *PendingRequest, send func() error) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return kerrors.Wrap(kerrors.NetworkError, "rate limiter wait", err)
	}

	t.mu.Lock()
	t.requests[req.ID] = req
	t.mu.Unlock()

	start := time.Now()
	err := send()
	t.log.LogRPCSend(ctx, req.TargetProxy, string(req.Kind), req.Sequence, err)
	metrics.ObserveRPC(string(req.Kind), outcomeLabel(err), time.Since(start))
	return err
}

func outcomeLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return "error"
}

// Complete removes id from the pending table, stopping its retry timer
// if one was armed.
func (t *Table) Complete(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if req, ok := t.requests[id]; ok {
		if req.Timer != nil {
			req.Timer.Stop()
		}
		delete(t.requests, id)
	}
}

// Retry re-enqueues id via resend after a backoff delay, per §4.5's
// "on network-error failure, the RPC layer re-enqueues the same
// request", giving up once the request exceeds maxRetries.
func (t *Table) Retry(id string, resend func()) bool {
	t.mu.Lock()
	req, ok := t.requests[id]
	if !ok {
		t.mu.Unlock()
		return false
	}
	if req.RetryCount >= t.maxRetries {
		t.mu.Unlock()
		return false
	}
	req.RetryCount++
	delay := Backoff(req.RetryCount, t.minWait, t.maxWait)
	t.mu.Unlock()

	metrics.IncRPCRetry(string(req.Kind))
	req.Timer = time.AfterFunc(delay, resend)
	return true
}

// Pending reports whether id has an outstanding request.
func (t *Table) Pending(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.requests[id]
	return ok
}

// FailureClass discriminates the reservation-level failure rules in
// spec §4.5.
type FailureClass string

const (
	FailureNetwork      FailureClass = "network_error"
	FailureUnauthorized FailureClass = "unauthorized_peer"
	FailureNonRecoverable FailureClass = "non_recoverable"
)

// HandleFailedRPC applies spec §4.5's reservation-level failure-handling
// rules for a FailedRPCEvent against r, given the failure's class and
// whether the lease has already been released locally (relevant only to
// the closing case).
func HandleFailedRPC(r *reservation.Reservation, class FailureClass, message string, leaseReleasedLocally bool) error {
	state, _, _ := r.CurrentState()

	switch class {
	case FailureUnauthorized:
		return kerrors.UnauthorizedPeerf("reservation %s: peer identity mismatch: %s", r.ID, message)
	case FailureNonRecoverable:
		return r.Fail(message)
	case FailureNetwork:
		if state == reservation.CloseWait {
			if leaseReleasedLocally {
				return r.UpdateLease(true, true, reservation.UpdateData{Message: message})
			}
			return nil // retry, handled by the caller's Table.Retry
		}
		return nil // retry
	default:
		return kerrors.InvalidArgumentf("unknown failure class %q", class)
	}
}
