package substrate

import (
	"sync"

	"github.com/meridianfed/fedres/internal/kernel/idset"
	"github.com/meridianfed/fedres/internal/kernel/resource"
)

// Fake is an in-memory Plugin that completes every action synchronously,
// useful for driving tests without a real substrate.
type Fake struct {
	mu       sync.Mutex
	sequence int64
	callback CompletionCallback
}

// NewFake creates a Fake substrate plugin.
func NewFake() *Fake {
	return &Fake{}
}

func (f *Fake) nextToken() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sequence++
	return idset.New().String()
}

// TransferIn marks the unit Active and reports completion.
func (f *Fake) TransferIn(unit *resource.Unit) (string, error) {
	unit.Transition(resource.UnitActive)
	token := f.nextToken()
	f.complete("transfer_in", token, nil, nil)
	return token, nil
}

// TransferOut marks the unit Closed and reports completion.
func (f *Fake) TransferOut(unit *resource.Unit) (string, error) {
	unit.Transition(resource.UnitClosed)
	token := f.nextToken()
	f.complete("transfer_out", token, nil, nil)
	return token, nil
}

// Modify commits the staged modification immediately and reports
// completion.
func (f *Fake) Modify(unit *resource.Unit, modified resource.Sliver) (string, error) {
	unit.CommitModification()
	token := f.nextToken()
	f.complete("modify", token, nil, nil)
	return token, nil
}

// UpdateProps is a no-op beyond reporting completion; Fake does not model
// property-only pushes distinctly from Modify.
func (f *Fake) UpdateProps(unit *resource.Unit, props resource.Properties) (string, error) {
	token := f.nextToken()
	f.complete("update_props", token, props, nil)
	return token, nil
}

// OnComplete registers the callback invoked by every action above.
func (f *Fake) OnComplete(cb CompletionCallback) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callback = cb
}

func (f *Fake) complete(action, token string, props resource.Properties, err error) {
	f.mu.Lock()
	cb := f.callback
	f.mu.Unlock()
	if cb != nil {
		cb(action, token, props, err)
	}
}
