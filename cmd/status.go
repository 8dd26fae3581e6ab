package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report the array's disk, block-state and info-vector counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkConfig(); err != nil {
			return err
		}
		arr, err := openArray(Config)
		if err != nil {
			return err
		}
		defer arr.close()

		var states [5]int
		for _, d := range arr.Manifest.Disks {
			for _, f := range d.Files() {
				for _, b := range f.Blocks {
					states[b.State]++
				}
			}
		}
		bad := 0
		for _, inf := range arr.Manifest.Info {
			if inf.Bad {
				bad++
			}
		}

		fmt.Printf("disks: %d data, %d parity\n", len(arr.Manifest.Disks), len(arr.Parities))
		fmt.Printf("blocks: empty=%d blk=%d chg=%d rep=%d deleted=%d\n", states[0], states[1], states[2], states[3], states[4])
		fmt.Printf("info: %d positions tracked, %d flagged bad\n", len(arr.Manifest.Info), bad)
		return nil
	},
}
