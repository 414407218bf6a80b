package resource

import (
	"testing"

	"github.com/meridianfed/fedres/internal/clock"
	"github.com/meridianfed/fedres/internal/kernel/idset"
)

func TestTicket_Holding(t *testing.T) {
	term := clock.Term{Start: 10, NewStart: 15, End: 20}
	original := NewTicket(idset.New(), "authority-1", 5, term)
	changed := original.Change(NewTicket(idset.New(), "authority-1", 8, term))

	cases := []struct {
		when clock.Cycle
		want int
	}{
		{9, 0},
		{10, 5},
		{14, 5},
		{15, 8},
		{20, 8},
		{21, 0},
	}
	for _, c := range cases {
		if got := changed.Holding(c.when); got != c.want {
			t.Errorf("Holding(%d) = %d, want %d", c.when, got, c.want)
		}
	}
}

func TestTicket_AddRemoveUnsupported(t *testing.T) {
	ticket := NewTicket(idset.New(), "authority-1", 1, clock.NewTerm(0, 10))
	if err := ticket.Add(1); err == nil {
		t.Errorf("Add() should fail on a Ticket")
	}
	if err := ticket.Remove(1); err == nil {
		t.Errorf("Remove() should fail on a Ticket")
	}
}

func TestUnitSet_ChangeComputesGainedAndLost(t *testing.T) {
	keep := idset.New()
	lost := idset.New()
	gained := idset.New()

	current := NewUnitSet()
	current.Add(NewUnit(keep, idset.ID{}, "vm", Sliver{}))
	current.Add(NewUnit(lost, idset.ID{}, "vm", Sliver{}))

	next := NewUnitSet()
	next.Add(NewUnit(keep, idset.ID{}, "vm", Sliver{}))
	next.Add(NewUnit(gained, idset.ID{}, "vm", Sliver{}))

	gainedIDs, lostIDs := current.Change(next)
	if len(gainedIDs) != 1 || !gainedIDs[0].Equal(gained) {
		t.Errorf("gained = %v, want [%v]", gainedIDs, gained)
	}
	if len(lostIDs) != 1 || !lostIDs[0].Equal(lost) {
		t.Errorf("lost = %v, want [%v]", lostIDs, lost)
	}
}

func TestUnitSet_CollectReleased(t *testing.T) {
	s := NewUnitSet()
	alive := NewUnit(idset.New(), idset.ID{}, "vm", Sliver{})
	dead := NewUnit(idset.New(), idset.ID{}, "vm", Sliver{})
	dead.Transition(UnitClosed)
	s.Add(alive)
	s.Add(dead)

	released := s.CollectReleased()
	if len(released) != 1 || released[0] != dead {
		t.Fatalf("CollectReleased() = %v, want [dead]", released)
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d after collect, want 1", s.Len())
	}
}

func TestResourceSet_Update_MergesPropsIncomingWins(t *testing.T) {
	base := NewResourceSet(1, "vm", nil)
	base.ConfigProps["color"] = "blue"
	base.ConfigProps["size"] = "small"

	incoming := NewResourceSet(2, "vm", nil)
	incoming.ConfigProps["color"] = "red"

	merged := base.Update(incoming)
	if merged.Units != 2 {
		t.Errorf("Units = %d, want 2", merged.Units)
	}
	if merged.ConfigProps["color"] != "red" {
		t.Errorf("ConfigProps[color] = %q, want red (incoming wins)", merged.ConfigProps["color"])
	}
	if merged.ConfigProps["size"] != "small" {
		t.Errorf("ConfigProps[size] = %q, want small (preserved from base)", merged.ConfigProps["size"])
	}
}

func TestResourceSet_ValidateIncoming(t *testing.T) {
	bad := ResourceSet{Units: -1, Type: "vm"}
	if err := bad.ValidateIncoming(); err == nil {
		t.Errorf("ValidateIncoming() should reject negative units")
	}

	noType := ResourceSet{Units: 1}
	if err := noType.ValidateIncoming(); err == nil {
		t.Errorf("ValidateIncoming() should reject missing type")
	}

	good := ResourceSet{Units: 1, Type: "vm"}
	if err := good.ValidateIncoming(); err != nil {
		t.Errorf("ValidateIncoming() valid set returned error: %v", err)
	}
}

func TestProperties_TypedAccessors(t *testing.T) {
	p := Properties{"count": "3", "enabled": "true", "bad": "nope"}

	if got := p.GetInt("count", 0); got != 3 {
		t.Errorf("GetInt(count) = %d, want 3", got)
	}
	if got := p.GetInt("missing", 7); got != 7 {
		t.Errorf("GetInt(missing) = %d, want default 7", got)
	}
	if got := p.GetBool("enabled", false); got != true {
		t.Errorf("GetBool(enabled) = %v, want true", got)
	}
	if got := p.GetBool("bad", false); got != false {
		t.Errorf("GetBool(bad) = %v, want default false", got)
	}
}
