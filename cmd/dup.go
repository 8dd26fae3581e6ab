package cmd

import (
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/snapraid-go/snapraid/internal/diskstate"
)

var dupCmd = &cobra.Command{
	Use:   "dup",
	Short: "List files that share identical content across the array",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkConfig(); err != nil {
			return err
		}
		arr, err := openArray(Config)
		if err != nil {
			return err
		}
		defer arr.close()

		type entry struct {
			disk string
			sub  string
		}
		groups := map[string][]entry{}

		for _, d := range arr.Manifest.Disks {
			for _, f := range d.Files() {
				key, ok := contentKey(f)
				if !ok {
					continue
				}
				groups[key] = append(groups[key], entry{disk: d.Name, sub: f.Sub})
			}
		}

		keys := make([]string, 0, len(groups))
		for k, members := range groups {
			if len(members) > 1 {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)

		for _, k := range keys {
			fmt.Printf("%s:\n", k[:16])
			for _, e := range groups[k] {
				fmt.Printf("  %s\t%s\n", e.disk, e.sub)
			}
		}
		return nil
	},
}

// contentKey returns a stable digest identifying a file's full content,
// built from its per-block hashes; only fully-hashed files (every block
// BLK or REP) yield a trustworthy key, since CHG blocks have tentative
// hashes that may not match what is actually on disk yet.
func contentKey(f *diskstate.File) (string, bool) {
	if len(f.Blocks) == 0 {
		return "", false
	}
	buf := make([]byte, 0, len(f.Blocks)*diskstate.HashSize)
	for _, b := range f.Blocks {
		if b.State != diskstate.BlockBLK && b.State != diskstate.BlockREP {
			return "", false
		}
		buf = append(buf, b.Hash[:]...)
	}
	return hex.EncodeToString(buf), true
}
