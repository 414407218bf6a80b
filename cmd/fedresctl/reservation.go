package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/meridianfed/fedres/internal/clock"
	"github.com/meridianfed/fedres/internal/database"
	"github.com/meridianfed/fedres/internal/kernel/idset"
	"github.com/meridianfed/fedres/internal/kernel/reservation"
	"github.com/meridianfed/fedres/internal/kernel/resource"
	"github.com/meridianfed/fedres/pkg/kerrors"
)

func newReservationCmd(configPath, dsn *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reservation",
		Short: "Manage reservations",
	}
	cmd.AddCommand(newReservationAddCmd(configPath, dsn))
	cmd.AddCommand(newReservationUpdateCmd(configPath, dsn))
	cmd.AddCommand(newReservationCloseCmd(configPath, dsn))
	cmd.AddCommand(newReservationListCmd(configPath, dsn))
	return cmd
}

func newReservationAddCmd(configPath, dsn *string) *cobra.Command {
	var sliceID, resourceType string
	var units int
	var termStart, termEnd int64

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Request a new reservation against a slice",
		RunE: func(cmd *cobra.Command, args []string) error {
			if sliceID == "" || resourceType == "" {
				return kerrors.InvalidArgumentf("--slice and --type are required")
			}
			if units <= 0 {
				return kerrors.InvalidArgumentf("--units must be positive")
			}
			slID, err := idset.Parse(sliceID)
			if err != nil {
				return kerrors.Wrap(kerrors.InvalidArgument, "parse --slice", err)
			}

			r := reservation.New(idset.New(), slID, reservation.CategoryClient)
			r.Requested = resource.NewResourceSet(units, resourceType, nil)
			r.RequestedTerm = clock.NewTerm(clock.Cycle(termStart), clock.Cycle(termEnd))
			if err := r.Reserve(); err != nil {
				return err
			}

			db, err := openDatabase(cmd.Context(), *configPath, *dsn)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := db.AddReservation(cmd.Context(), reservationRecord(r)); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), r.ID.String())
			return nil
		},
	}
	cmd.Flags().StringVar(&sliceID, "slice", "", "owning slice id")
	cmd.Flags().StringVar(&resourceType, "type", "", "resource type")
	cmd.Flags().IntVar(&units, "units", 0, "requested unit count")
	cmd.Flags().Int64Var(&termStart, "term-start", 0, "term start cycle")
	cmd.Flags().Int64Var(&termEnd, "term-end", 0, "term end cycle")
	return cmd
}

func newReservationUpdateCmd(configPath, dsn *string) *cobra.Command {
	var id, resourceType string
	var units int

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Modify an active reservation's requested resource set",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return kerrors.InvalidArgumentf("--id is required")
			}
			db, err := openDatabase(cmd.Context(), *configPath, *dsn)
			if err != nil {
				return err
			}
			defer db.Close()

			r, err := loadReservation(cmd.Context(), db, id)
			if err != nil {
				return err
			}
			requested := r.Current
			if resourceType != "" {
				requested.Type = resourceType
			}
			if units > 0 {
				requested.Units = units
			}
			if err := r.ModifyLease(requested); err != nil {
				return err
			}
			return db.UpdateReservation(cmd.Context(), reservationRecord(r))
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "reservation id")
	cmd.Flags().StringVar(&resourceType, "type", "", "new resource type")
	cmd.Flags().IntVar(&units, "units", 0, "new unit count")
	return cmd
}

func newReservationCloseCmd(configPath, dsn *string) *cobra.Command {
	var id string

	cmd := &cobra.Command{
		Use:   "close",
		Short: "Close a reservation",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return kerrors.InvalidArgumentf("--id is required")
			}
			db, err := openDatabase(cmd.Context(), *configPath, *dsn)
			if err != nil {
				return err
			}
			defer db.Close()

			r, err := loadReservation(cmd.Context(), db, id)
			if err != nil {
				return err
			}
			if err := r.Close(); err != nil {
				return err
			}
			return db.UpdateReservation(cmd.Context(), reservationRecord(r))
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "reservation id")
	return cmd
}

func newReservationListCmd(configPath, dsn *string) *cobra.Command {
	var sliceID, state, resourceType string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List reservations, optionally filtered by slice, state, or type",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDatabase(cmd.Context(), *configPath, *dsn)
			if err != nil {
				return err
			}
			defer db.Close()

			records, err := db.GetReservations(cmd.Context(), sliceID)
			if err != nil {
				return err
			}
			for _, rec := range records {
				snap, err := reservationSnapshotFromRecord(rec)
				if err != nil {
					continue
				}
				if state != "" && string(snap.State) != state {
					continue
				}
				if resourceType != "" && snap.ResourceType != resourceType {
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\t%d\n", snap.ID, snap.Slice, snap.State, snap.ResourceType, snap.Units)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sliceID, "slice", "", "filter by slice id")
	cmd.Flags().StringVar(&state, "state", "", "filter by state")
	cmd.Flags().StringVar(&resourceType, "type", "", "filter by resource type")
	return cmd
}

func loadReservation(ctx context.Context, db database.Plugin, id string) (*reservation.Reservation, error) {
	records, err := db.GetReservations(ctx, "")
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if rec.ID != id {
			continue
		}
		snap, err := reservationSnapshotFromRecord(rec)
		if err != nil {
			return nil, err
		}
		return reservation.FromSnapshot(snap)
	}
	return nil, kerrors.NotFoundf("reservation", id)
}

func reservationSnapshotFromRecord(rec database.Record) (reservation.Snapshot, error) {
	return reservation.UnmarshalSnapshot(rec.Payload)
}

func reservationRecord(r *reservation.Reservation) database.Record {
	snap := r.Snapshot()
	payload, err := snap.Marshal()
	if err != nil {
		payload = nil
	}
	return database.Record{
		ID:      snap.ID,
		SliceID: snap.Slice,
		Kind:    database.EntityReservation,
		Payload: payload,
	}
}
