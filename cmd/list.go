package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List every file currently tracked in the content manifest",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkConfig(); err != nil {
			return err
		}
		arr, err := openArray(Config)
		if err != nil {
			return err
		}
		defer arr.close()

		for _, d := range arr.Manifest.Disks {
			for _, f := range d.Files() {
				fmt.Printf("%s\t%s\t%d\n", d.Name, f.Sub, f.Size)
			}
		}
		return nil
	},
}
