// Command fedresctl is the administrative CLI of spec §6: add/delete
// slice, add/update/close reservation, and list by slice/state/type,
// operating directly against the configured database plugin.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/meridianfed/fedres/pkg/kerrors"
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func newRootCmd() *cobra.Command {
	var configPath, dsn string

	root := &cobra.Command{
		Use:           "fedresctl",
		Short:         "Administer federated reservation slices and reservations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to configuration file (overrides CONFIG_FILE)")
	root.PersistentFlags().StringVar(&dsn, "dsn", "", "PostgreSQL DSN (overrides config/env; in-memory storage when empty)")

	root.AddCommand(newSliceCmd(&configPath, &dsn))
	root.AddCommand(newReservationCmd(&configPath, &dsn))
	return root
}

// exitCode maps a failed command's error to the process exit code spec §6
// requires: a distinct non-zero code per error class, and 1 for an error
// with no kerrors.Kind or an unlisted one. It never returns 0; main only
// calls it on failure, and a successful run exits 0.
func exitCode(err error) int {
	e := kerrors.As(err)
	if e == nil {
		return 1
	}
	switch e.Kind {
	case kerrors.NotFound:
		return 2
	case kerrors.InvalidArgument, kerrors.InvalidState, kerrors.InvalidTerm:
		return 3
	case kerrors.InsufficientResources:
		return 4
	case kerrors.UnauthorizedPeer, kerrors.ProtocolError, kerrors.NetworkError:
		return 5
	default:
		return 1
	}
}
