package cmd

import "github.com/snapraid-go/snapraid/internal/diskstate"

// newSingleBlockFile builds a one-block BLK-state file for tests that
// only care about extent/block bookkeeping, not actual file content.
func newSingleBlockFile(sub string) diskstate.File {
	return diskstate.File{
		Sub:    sub,
		Size:   4,
		Blocks: []diskstate.Block{{State: diskstate.BlockBLK, Hash: [diskstate.HashSize]byte{1}}},
	}
}
