package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/snapraid-go/snapraid/cfg"
	"github.com/snapraid-go/snapraid/internal/logger"
	"github.com/snapraid-go/snapraid/internal/scan"
	"github.com/snapraid-go/snapraid/internal/syncengine"
)

var (
	syncForceZero    bool
	syncForceEmpty   bool
	syncForceNoCopy  bool
	syncForceFull    bool
	syncForceRealloc bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Scan every data disk and bring parity up to date with the content manifest",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkConfig(); err != nil {
			return err
		}
		arr, err := openArray(Config)
		if err != nil {
			return err
		}
		defer arr.close()

		if syncForceRealloc {
			arr.reallocateAll()
		}

		walker := &scan.Walker{
			Manifest: arr.Manifest, Extents: arr.Extents, BlockSize: arr.Manifest.BlockSize,
			ForceZero: syncForceZero, ForceEmpty: syncForceEmpty, ForceNoCopy: syncForceNoCopy,
		}
		scanResult, err := walker.Apply()
		if err != nil {
			return err
		}
		logger.Infof("sync: scan found %d added, %d changed, %d removed, %d moved, %d copied",
			scanResult.Added, scanResult.Changed, scanResult.Removed, scanResult.Moved, scanResult.Copied)

		parities := make([]syncengine.ParityWriter, len(arr.Parities))
		for i, h := range arr.Parities {
			parities[i] = h
		}
		eng := &syncengine.Engine{
			Manifest:           arr.Manifest,
			Extents:            arr.Extents,
			Codec:              arr.Codec,
			Parities:           parities,
			BlockSize:          arr.Manifest.BlockSize,
			IOMax:              cfg.DefaultIOMax,
			IOErrorLimit:       Config.Sync.IOErrorLimit,
			AutosaveIntervalMB: Config.Sync.AutosaveIntervalMb,
			Persist:            arr.persistFunc(),
			ForceFull:          syncForceFull,
		}

		if Config.Sync.PreHash {
			if err := eng.PreHash(); err != nil {
				return err
			}
		}

		summary, err := eng.Sync(context.Background(), 0, arr.blockMax())
		if err != nil {
			return err
		}
		fmt.Printf("sync: %d columns processed, %d file errors, %d io errors, %d silent data errors, %d unrecoverable\n",
			summary.ColumnsProcessed, summary.FileErrors, summary.IOErrors, summary.SilentDataErrors, summary.Unrecoverable)
		if !summary.AllClean() {
			return fmt.Errorf("sync completed with errors")
		}
		return nil
	},
}

func init() {
	syncCmd.Flags().BoolVarP(&syncForceZero, "force-zero", "Z", false, "Allow a previously non-empty file to be synced with zero size.")
	syncCmd.Flags().BoolVarP(&syncForceEmpty, "force-empty", "E", false, "Allow a disk to be synced when none of its previous files remain.")
	syncCmd.Flags().BoolVarP(&syncForceNoCopy, "force-nocopy", "N", false, "Disable cross-disk copy detection for this sync.")
	syncCmd.Flags().BoolVar(&syncForceFull, "force-full", false, "Recompute and rewrite parity for every column, not just those the scan flagged as changed.")
	syncCmd.Flags().BoolVar(&syncForceRealloc, "force-realloc", false, "Rebuild every disk's parity block allocation from scratch before syncing.")
}
