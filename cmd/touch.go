package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
)

var touchCmd = &cobra.Command{
	Use:   "touch",
	Short: "Bump the mtime of files recorded with no sub-second precision",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkConfig(); err != nil {
			return err
		}
		arr, err := openArray(Config)
		if err != nil {
			return err
		}
		defer arr.close()

		touched := 0
		for _, d := range arr.Manifest.Disks {
			for _, f := range d.Files() {
				if f.Mtime.HasValidNsec() {
					continue
				}
				full := filepath.Join(d.MountDir, f.Sub)
				mtime := time.Unix(f.Mtime.Sec, 1)
				if err := os.Chtimes(full, mtime, mtime); err != nil {
					continue
				}
				f.Mtime.Nsec = 1
				touched++
			}
		}
		fmt.Printf("touch: %d files bumped to sub-second precision\n", touched)
		return arr.persistFunc()(arr.Manifest)
	},
}
