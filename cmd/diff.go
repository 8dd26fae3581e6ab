package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/snapraid-go/snapraid/internal/scan"
)

var (
	diffForceZero   bool
	diffForceEmpty  bool
	diffForceNoCopy bool
)

var diffCmd = &cobra.Command{
	Use:   "diff",
	Short: "Report what sync would do, without changing the content manifest",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkConfig(); err != nil {
			return err
		}
		arr, err := openArray(Config)
		if err != nil {
			return err
		}
		defer arr.close()

		walker := &scan.Walker{
			Manifest: arr.Manifest, Extents: arr.Extents, BlockSize: arr.Manifest.BlockSize,
			ForceZero: diffForceZero, ForceEmpty: diffForceEmpty, ForceNoCopy: diffForceNoCopy,
		}
		result, err := walker.Diff()
		if err != nil {
			return err
		}

		fmt.Printf("equal %d, moved %d, copied %d, restored %d, changed %d, removed %d, added %d\n",
			result.Equal, result.Moved, result.Copied, result.Restored, result.Changed, result.Removed, result.Added)

		if result.Changed+result.Removed+result.Added+result.Moved+result.Copied > 0 {
			return fmt.Errorf("diff: differences found")
		}
		return nil
	},
}

func init() {
	diffCmd.Flags().BoolVarP(&diffForceZero, "force-zero", "Z", false, "Don't report a previously non-empty file found at zero size as an error.")
	diffCmd.Flags().BoolVarP(&diffForceEmpty, "force-empty", "E", false, "Don't report a disk with none of its previous files remaining as an error.")
	diffCmd.Flags().BoolVarP(&diffForceNoCopy, "force-nocopy", "N", false, "Disable cross-disk copy detection for this diff.")
}
