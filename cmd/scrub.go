package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/snapraid-go/snapraid/cfg"
	"github.com/snapraid-go/snapraid/internal/scrubengine"
	"github.com/snapraid-go/snapraid/internal/snaperr"
)

var scrubPlanName string

var scrubCmd = &cobra.Command{
	Use:   "scrub",
	Short: "Re-verify already-synced blocks against their recorded hashes and parity",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkConfig(); err != nil {
			return err
		}
		arr, err := openArray(Config)
		if err != nil {
			return err
		}
		defer arr.close()

		var plan scrubengine.Plan
		if scrubPlanName != "" {
			plan, err = scrubengine.SelectNamedPlan(arr.Manifest.Info, scrubPlanName)
			if err != nil {
				return &snaperr.ConfigError{Msg: err.Error()}
			}
		} else {
			plan = scrubengine.SelectPlan(arr.Manifest.Info, Config.Scrub.Percentage, Config.Scrub.OlderThanDays, time.Now())
		}

		parities := make([]scrubengine.ParityReader, len(arr.Parities))
		for i, h := range arr.Parities {
			parities[i] = h
		}
		eng := &scrubengine.Engine{
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

		summary, err := eng.Scrub(context.Background(), plan)
		if err != nil {
			return err
		}
		fmt.Printf("scrub: %d columns scrubbed, %d silent data errors, %d io errors\n",
			summary.ColumnsScrubbed, summary.SilentDataErrors, summary.IOErrors)
		if !summary.AllClean() {
			return fmt.Errorf("scrub found errors")
		}
		return nil
	},
}

func init() {
	scrubCmd.Flags().StringVar(&scrubPlanName, "plan", "", "Named plan overriding -p/-o selection: bad, new, full, even, or odd.")
}
