package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/snapraid-go/snapraid/cfg"
	"github.com/snapraid-go/snapraid/internal/fixengine"
)

var (
	fixStart int64
	fixCount int64
)

var fixCmd = &cobra.Command{
	Use:   "fix",
	Short: "Reconstruct blocks flagged bad from parity and write them back to disk",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkConfig(); err != nil {
			return err
		}
		arr, err := openArray(Config)
		if err != nil {
			return err
		}
		defer arr.close()

		start, end := int64(0), arr.blockMax()
		if cmd.Flags().Changed("start") {
			start = fixStart
		}
		if cmd.Flags().Changed("count") {
			end = start + fixCount
		}

		var positions []int64
		for pos, inf := range arr.Manifest.Info {
			if !inf.Bad {
				continue
			}
			p := int64(pos)
			if p < start || p >= end {
				continue
			}
			positions = append(positions, p)
		}
		if len(positions) == 0 {
			fmt.Println("fix: no blocks flagged bad in the requested range")
			return nil
		}

		parities := make([]fixengine.ParityWriter, len(arr.Parities))
		for i, h := range arr.Parities {
			parities[i] = h
		}
		eng := &fixengine.Engine{
			Manifest:           arr.Manifest,
			Extents:            arr.Extents,
			Codec:              arr.Codec,
			Parities:           parities,
			BlockSize:          arr.Manifest.BlockSize,
			IOMax:              cfg.DefaultIOMax,
			IOErrorLimit:       Config.Sync.IOErrorLimit,
			AutosaveIntervalMB: Config.Sync.AutosaveIntervalMb,
			Persist:            arr.persistFunc(),
		}

		summary, err := eng.Fix(context.Background(), positions)
		if err != nil {
			return err
		}
		if err := eng.RestoreAttributes(); err != nil {
			return err
		}
		fmt.Printf("fix: %d columns fixed, %d unrecoverable, %d io errors\n",
			summary.ColumnsFixed, summary.Unrecoverable, summary.IOErrors)
		if !summary.AllClean() {
			return fmt.Errorf("fix could not recover every block")
		}
		return nil
	},
}

func init() {
	fixCmd.Flags().Int64Var(&fixStart, "start", 0, "First parity block position to consider.")
	fixCmd.Flags().Int64Var(&fixCount, "count", 0, "Number of parity block positions to consider, starting at --start.")
}
