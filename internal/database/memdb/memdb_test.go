package memdb

import (
	"context"
	"testing"

	"github.com/meridianfed/fedres/internal/database"
	"github.com/meridianfed/fedres/pkg/kerrors"
)

func TestStore_ReservationLifecycle(t *testing.T) {
	s := New()
	ctx := context.Background()

	rec := database.Record{ID: "r1", SliceID: "s1", Kind: database.EntityReservation, Payload: []byte("v1")}
	if err := s.AddReservation(ctx, rec); err != nil {
		t.Fatalf("AddReservation() error = %v", err)
	}
	if err := s.AddReservation(ctx, rec); !kerrors.Is(err, kerrors.InvalidState) {
		t.Errorf("duplicate AddReservation() should fail InvalidState, got %v", err)
	}

	rec.Payload = []byte("v2")
	if err := s.UpdateReservation(ctx, rec); err != nil {
		t.Fatalf("UpdateReservation() error = %v", err)
	}

	got, err := s.GetReservations(ctx, "s1")
	if err != nil || len(got) != 1 || string(got[0].Payload) != "v2" {
		t.Fatalf("GetReservations() = %v, %v, want one record with payload v2", got, err)
	}

	if err := s.RemoveReservation(ctx, "r1"); err != nil {
		t.Fatalf("RemoveReservation() error = %v", err)
	}
	got, _ = s.GetReservations(ctx, "s1")
	if len(got) != 0 {
		t.Errorf("GetReservations() after remove = %v, want empty", got)
	}
}

func TestStore_DelegationNotFound(t *testing.T) {
	s := New()
	_, err := s.GetDelegation(context.Background(), "missing")
	if !kerrors.Is(err, kerrors.NotFound) {
		t.Errorf("GetDelegation(missing) error = %v, want NotFound", err)
	}
}

func TestStore_GetSlicesAllVsByID(t *testing.T) {
	s := New()
	ctx := context.Background()
	_ = s.AddSlice(ctx, database.Record{ID: "s1", Kind: database.EntitySlice})
	_ = s.AddSlice(ctx, database.Record{ID: "s2", Kind: database.EntitySlice})

	all, err := s.GetSlices(ctx, "")
	if err != nil || len(all) != 2 {
		t.Fatalf("GetSlices(\"\") = %v, %v, want 2 records", all, err)
	}

	one, err := s.GetSlices(ctx, "s1")
	if err != nil || len(one) != 1 || one[0].ID != "s1" {
		t.Fatalf("GetSlices(s1) = %v, %v, want one record s1", one, err)
	}
}
