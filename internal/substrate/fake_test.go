package substrate

import (
	"testing"

	"github.com/meridianfed/fedres/internal/kernel/idset"
	"github.com/meridianfed/fedres/internal/kernel/resource"
)

func newTestUnit() *resource.Unit {
	return resource.NewUnit(idset.New(), idset.New(), "node", resource.Sliver{NodeID: "node-1"})
}

func TestFake_TransferInActivatesUnitAndFiresCallback(t *testing.T) {
	f := NewFake()
	var gotAction, gotToken string
	f.OnComplete(func(action, token string, props resource.Properties, err error) {
		gotAction, gotToken = action, token
	})

	u := newTestUnit()
	token, err := f.TransferIn(u)
	if err != nil {
		t.Fatalf("TransferIn() error = %v", err)
	}
	if u.StateSnapshot() != resource.UnitActive {
		t.Errorf("state = %v, want Active", u.StateSnapshot())
	}
	if gotAction != "transfer_in" || gotToken != token {
		t.Errorf("callback = (%q, %q), want (transfer_in, %q)", gotAction, gotToken, token)
	}
}

func TestFake_TransferOutClosesUnit(t *testing.T) {
	f := NewFake()
	u := newTestUnit()
	if _, err := f.TransferOut(u); err != nil {
		t.Fatalf("TransferOut() error = %v", err)
	}
	if u.StateSnapshot() != resource.UnitClosed {
		t.Errorf("state = %v, want Closed", u.StateSnapshot())
	}
}

func TestFake_ModifyCommitsStagedSliver(t *testing.T) {
	f := NewFake()
	u := newTestUnit()
	u.StageModification(resource.Sliver{NodeID: "node-1", Interfaces: []string{"eth1"}})

	if _, err := f.Modify(u, resource.Sliver{NodeID: "node-1", Interfaces: []string{"eth1"}}); err != nil {
		t.Fatalf("Modify() error = %v", err)
	}
	if u.StateSnapshot() != resource.UnitActive {
		t.Errorf("state = %v, want Active after commit", u.StateSnapshot())
	}
	if len(u.Sliver.Interfaces) != 1 || u.Sliver.Interfaces[0] != "eth1" {
		t.Errorf("Sliver = %+v, want committed interfaces", u.Sliver)
	}
}

func TestFake_UpdatePropsPassesPropsToCallback(t *testing.T) {
	f := NewFake()
	var gotProps resource.Properties
	f.OnComplete(func(action, token string, props resource.Properties, err error) {
		gotProps = props
	})

	u := newTestUnit()
	props := resource.Properties{"bandwidth": "10g"}
	if _, err := f.UpdateProps(u, props); err != nil {
		t.Fatalf("UpdateProps() error = %v", err)
	}
	if gotProps["bandwidth"] != "10g" {
		t.Errorf("callback props = %+v, want bandwidth=10g", gotProps)
	}
}

func TestFake_TokensAreUnique(t *testing.T) {
	f := NewFake()
	t1, _ := f.TransferIn(newTestUnit())
	t2, _ := f.TransferIn(newTestUnit())
	if t1 == t2 {
		t.Errorf("tokens should be unique, got %q twice", t1)
	}
}

func TestFake_NoCallbackRegisteredIsSafe(t *testing.T) {
	f := NewFake()
	if _, err := f.TransferIn(newTestUnit()); err != nil {
		t.Fatalf("TransferIn() error = %v", err)
	}
}
