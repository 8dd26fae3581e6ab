package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// smartCmd, devicesCmd and poolCmd complete spec.md §6's subcommand
// surface without implementing the external collaborators they name
// (SMART telemetry, physical device enumeration, pool symlink trees):
// those are out of the core engine's scope per spec.md §1. Each prints a
// fixed message and exits 0 so the dispatch table matches the original
// command set exactly.
var smartCmd = &cobra.Command{
	Use:   "smart",
	Short: "Report SMART health attributes for the array's underlying devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("smart: not supported in this build")
		return nil
	},
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List the physical devices backing the array's disks",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("devices: not supported in this build")
		return nil
	},
}

var poolCmd = &cobra.Command{
	Use:   "pool",
	Short: "Recreate a unified view of the array under a pool directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("pool: not supported in this build")
		return nil
	},
}

// upCmd and downCmd complete the surface for spinning member disks up or
// down; actual spindown control goes through a platform ioctl or hdparm,
// the same class of hardware collaborator smart/devices stub out.
var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Spin up every disk in the array",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("up: not supported in this build")
		return nil
	},
}

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Spin down every disk in the array",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("down: not supported in this build")
		return nil
	},
}
