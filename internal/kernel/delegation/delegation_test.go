package delegation

import (
	"testing"

	"github.com/meridianfed/fedres/internal/graph/memgraph"
	"github.com/meridianfed/fedres/internal/kernel/idset"
	"github.com/meridianfed/fedres/pkg/kerrors"
)

func newTestDelegation(t *testing.T) *Delegation {
	t.Helper()
	g, err := memgraph.Build([]memgraph.Node{{ID: "n1"}})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return New(idset.New(), idset.New(), "authority-1", "broker-1", g)
}

func TestDelegation_DelegateFromNascent(t *testing.T) {
	d := newTestDelegation(t)
	if err := d.Delegate(); err != nil {
		t.Fatalf("Delegate() error = %v", err)
	}
	if d.CurrentState() != Delegated {
		t.Errorf("State = %v, want Delegated", d.CurrentState())
	}
}

func TestDelegation_DisallowedArcRejected(t *testing.T) {
	d := newTestDelegation(t)
	if err := d.Transition(Closed); err != nil {
		t.Fatalf("Nascent -> Closed should be permitted, got error: %v", err)
	}
	if err := d.Transition(Delegated); !kerrors.Is(err, kerrors.InvalidState) {
		t.Errorf("Closed -> Delegated should fail InvalidState, got %v", err)
	}
}

func TestDelegation_AmendRequiresDelegated(t *testing.T) {
	d := newTestDelegation(t)
	fragment, _ := memgraph.Build([]memgraph.Node{{ID: "n2"}})

	if err := d.AmendDelegate(fragment); !kerrors.Is(err, kerrors.InvalidState) {
		t.Errorf("AmendDelegate() before Delegate() should fail InvalidState, got %v", err)
	}

	if err := d.Delegate(); err != nil {
		t.Fatalf("Delegate() error = %v", err)
	}
	if err := d.AmendDelegate(fragment); err != nil {
		t.Errorf("AmendDelegate() after Delegate() error = %v", err)
	}
}

func TestDelegation_IsTerminal(t *testing.T) {
	d := newTestDelegation(t)
	if d.IsTerminal() {
		t.Errorf("IsTerminal() = true for Nascent")
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !d.IsTerminal() {
		t.Errorf("IsTerminal() = false for Closed")
	}
}
