// Package diskstate holds the core entities of the parity engine: disks,
// files, blocks, extents (by reference), the info vector and parity
// descriptors. It owns no I/O; see internal/manifest, internal/parity and
// internal/extent for the packages that act on this state.
package diskstate

import "fmt"

// BlockState is the two-bit per-block lifecycle state described in
// spec.md §4.1.
type BlockState uint8

const (
	// BlockEmpty means the parity slot has never been used.
	BlockEmpty BlockState = iota
	// BlockBLK means the stored hash matches both the current on-disk
	// data and the parity currently on disk.
	BlockBLK
	// BlockCHG means the hash is tentative; parity may not reflect it yet.
	BlockCHG
	// BlockREP means the hash was inherited from a copy-detected source
	// file; parity does not yet reflect it.
	BlockREP
	// BlockDELETED is a tombstone: the file was removed but the parity
	// slot is still occupied until the next sync.
	BlockDELETED
)

func (s BlockState) String() string {
	switch s {
	case BlockEmpty:
		return "EMPTY"
	case BlockBLK:
		return "BLK"
	case BlockCHG:
		return "CHG"
	case BlockREP:
		return "REP"
	case BlockDELETED:
		return "DELETED"
	default:
		return fmt.Sprintf("BlockState(%d)", uint8(s))
	}
}

// transitions enumerates every permitted (from, to) pair from spec.md's
// state table. Any pair absent from this set is rejected by Transition.
var transitions = map[[2]BlockState]bool{
	{BlockEmpty, BlockCHG}:    true,
	{BlockDELETED, BlockCHG}:  true,
	{BlockCHG, BlockBLK}:      true,
	{BlockCHG, BlockREP}:      true,
	{BlockREP, BlockBLK}:      true,
	{BlockBLK, BlockDELETED}:  true,
	{BlockDELETED, BlockEmpty}: true,
}

// HashSize is the length in bytes of a block's stored digest.
const HashSize = 16

// Block is one parity-position slot belonging to a File.
type Block struct {
	State    BlockState
	Hash     [HashSize]byte
	PrevHash [HashSize]byte // valid only while Info.Rehash is set for this position
	Bad      bool
}

// Transition moves the block from its current state to "to", validated
// against spec.md's state table. "by copy-detection" (CHG->REP) is the
// caller's responsibility to gate; Transition only checks reachability.
func (b *Block) Transition(to BlockState) error {
	if b.State == to {
		return nil
	}
	if !transitions[[2]BlockState{b.State, to}] {
		return fmt.Errorf("diskstate: illegal block transition %s -> %s", b.State, to)
	}
	b.State = to
	return nil
}

// IsFileBacked reports whether the block currently corresponds to live
// file data (BLK, CHG or REP), as opposed to EMPTY or a DELETED tombstone.
func (b *Block) IsFileBacked() bool {
	switch b.State {
	case BlockBLK, BlockCHG, BlockREP:
		return true
	default:
		return false
	}
}

// HasValidParity reports whether the parity currently on disk covers
// this block's data, per the per-state invariants in spec.md §3.
func (b *Block) HasValidParity() bool {
	return b.State == BlockBLK
}
