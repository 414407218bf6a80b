package reservation

// SequenceOutcome classifies an inbound request's sequence number against
// the reservation's recorded inbound sequence counter, per the RPC
// layer's sequence-number discipline (C6).
type SequenceOutcome string

const (
	// SequenceGreater: the request advances the sequence; accept and drive
	// the state machine, provided no operation is already pending.
	SequenceGreater SequenceOutcome = "greater"
	// SequenceInProgress: a new request arrived while one is already
	// pending; log and drop.
	SequenceInProgress SequenceOutcome = "in_progress"
	// SequenceEqual: a duplicate of the currently pending request; resend
	// the last update (ticket/lease) or no-op (relinquish).
	SequenceEqual SequenceOutcome = "equal"
	// SequenceSmaller: a stale, already-superseded request; log and drop.
	SequenceSmaller SequenceOutcome = "smaller"
)

// ClassifySequence compares incoming against current, reporting whether an
// operation is already pending on the channel.
func ClassifySequence(incoming, current int64, pending bool) SequenceOutcome {
	switch {
	case incoming > current:
		if pending {
			return SequenceInProgress
		}
		return SequenceGreater
	case incoming == current:
		return SequenceEqual
	default:
		return SequenceSmaller
	}
}
