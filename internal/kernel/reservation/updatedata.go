package reservation

import (
	"github.com/meridianfed/fedres/internal/clock"
	"github.com/meridianfed/fedres/internal/kernel/resource"
)

// UpdateData is an append-only error/event record accompanying each
// outbound update. Absorbing an UpdateData either adds events or carries
// a failure. Resources/Term carry the concrete grant back to the
// requesting side's reservation when the update represents a successful
// bind or assign, per spec §4.5's update_ticket/update_lease payload.
type UpdateData struct {
	Events    []string
	Message   string
	Failed    bool
	Resources resource.ResourceSet
	Term      clock.Term
}

// Absorb merges other into u: events are appended; if other carries a
// failure, u.Failed and u.Message are set from it.
func (u UpdateData) Absorb(other UpdateData) UpdateData {
	merged := u
	merged.Events = append(append([]string(nil), u.Events...), other.Events...)
	if other.Failed {
		merged.Failed = true
		merged.Message = other.Message
	}
	return merged
}

// WithEvent returns a copy of u with event appended.
func (u UpdateData) WithEvent(event string) UpdateData {
	u.Events = append(append([]string(nil), u.Events...), event)
	return u
}

// Fail returns a copy of u marked failed with the given message.
func (u UpdateData) Fail(message string) UpdateData {
	u.Failed = true
	u.Message = message
	return u
}
