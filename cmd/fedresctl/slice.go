package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/meridianfed/fedres/internal/database"
	"github.com/meridianfed/fedres/internal/kernel/idset"
	"github.com/meridianfed/fedres/internal/kernel/slice"
	"github.com/meridianfed/fedres/pkg/kerrors"
)

func newSliceCmd(configPath, dsn *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slice",
		Short: "Manage slices",
	}
	cmd.AddCommand(newSliceAddCmd(configPath, dsn))
	cmd.AddCommand(newSliceDeleteCmd(configPath, dsn))
	cmd.AddCommand(newSliceListCmd(configPath, dsn))
	return cmd
}

func newSliceAddCmd(configPath, dsn *string) *cobra.Command {
	var name, owner, project, kind string

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a new slice",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return kerrors.InvalidArgumentf("--name is required")
			}
			sl := slice.New(idset.New(), name, owner, project, slice.Kind(kind))
			if err := sl.Create(); err != nil {
				return err
			}
			db, err := openDatabase(cmd.Context(), *configPath, *dsn)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := db.AddSlice(cmd.Context(), sliceRecord(sl)); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sl.ID.String())
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "slice name")
	cmd.Flags().StringVar(&owner, "owner", "", "owning principal")
	cmd.Flags().StringVar(&project, "project", "", "owning project")
	cmd.Flags().StringVar(&kind, "kind", string(slice.KindClient), "slice kind (Client, BrokerClient, Inventory)")
	return cmd
}

func newSliceDeleteCmd(configPath, dsn *string) *cobra.Command {
	var id string

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a slice once every member reservation is terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return kerrors.InvalidArgumentf("--id is required")
			}
			db, err := openDatabase(cmd.Context(), *configPath, *dsn)
			if err != nil {
				return err
			}
			defer db.Close()

			sl, err := loadSlice(cmd.Context(), db, id)
			if err != nil {
				return err
			}
			reservations, err := db.GetReservations(cmd.Context(), id)
			if err != nil {
				return err
			}
			for _, rec := range reservations {
				snap, err := reservationSnapshotFromRecord(rec)
				if err != nil {
					return err
				}
				if !snap.State.IsTerminal() {
					return kerrors.InvalidStatef("slice %s: reservation %s is not terminal", id, snap.ID)
				}
			}
			if err := sl.Delete(); err != nil {
				return err
			}
			return db.RemoveSlice(cmd.Context(), id)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "slice id")
	return cmd
}

func newSliceListCmd(configPath, dsn *string) *cobra.Command {
	var project string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List slices, optionally filtered by project",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDatabase(cmd.Context(), *configPath, *dsn)
			if err != nil {
				return err
			}
			defer db.Close()

			records, err := db.GetSlices(cmd.Context(), "")
			if err != nil {
				return err
			}
			for _, rec := range records {
				snap, err := slice.UnmarshalSnapshot(rec.Payload)
				if err != nil {
					continue
				}
				if project != "" && snap.Project != project {
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\n", snap.ID, snap.Name, snap.Kind, snap.State)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "filter by project")
	return cmd
}

func loadSlice(ctx context.Context, db database.Plugin, id string) (*slice.Slice, error) {
	records, err := db.GetSlices(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, kerrors.NotFoundf("slice", id)
	}
	snap, err := slice.UnmarshalSnapshot(records[0].Payload)
	if err != nil {
		return nil, err
	}
	return slice.FromSnapshot(snap)
}

func sliceRecord(sl *slice.Slice) database.Record {
	snap := sl.Snapshot()
	payload, err := snap.Marshal()
	if err != nil {
		payload = nil
	}
	return database.Record{
		ID:      snap.ID,
		SliceID: snap.ID,
		Kind:    database.EntitySlice,
		Payload: payload,
	}
}
