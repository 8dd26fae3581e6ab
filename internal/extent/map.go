// Package extent implements the per-disk extent map of spec.md §4.2: two
// ordered indexes over the same set of extents, one keyed by parity
// position and one keyed by (file, file position), both backed by
// google/btree's generic balanced tree.
package extent

import (
	"fmt"
	"sync"

	"github.com/google/btree"

	"github.com/snapraid-go/snapraid/internal/diskstate"
)

// Extent is a contiguous run of blocks mapping a file's block-index range
// to a parity-position range on one disk (spec.md §3).
type Extent struct {
	ParityPos int64
	File      diskstate.FileID
	FilePos   int64
	Count     int64
}

func (e Extent) parityEnd() int64 { return e.ParityPos + e.Count }
func (e Extent) fileEnd() int64   { return e.FilePos + e.Count }

func byParityPos(a, b Extent) bool { return a.ParityPos < b.ParityPos }

func byFilePos(a, b Extent) bool {
	if a.File != b.File {
		return a.File < b.File
	}
	return a.FilePos < b.FilePos
}

// Map is one disk's extent map: the parity-ordered and file-ordered
// indexes, plus a single-entry cache to accelerate sequential scans.
type Map struct {
	mu        sync.Mutex
	degree    int
	byParity  *btree.BTreeG[Extent]
	byFile    *btree.BTreeG[Extent]
	lastUsed  *Extent
}

// NewMap constructs an empty extent map for one disk.
func NewMap() *Map {
	const degree = 32
	return &Map{
		degree:   degree,
		byParity: btree.NewG(degree, byParityPos),
		byFile:   btree.NewG(degree, byFilePos),
	}
}

// Par2File looks up the extent whose parity range contains parityPos and
// returns the file and file-position it corresponds to.
func (m *Map) Par2File(parityPos int64) (diskstate.FileID, int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lastUsed != nil && parityPos >= m.lastUsed.ParityPos && parityPos < m.lastUsed.parityEnd() {
		off := parityPos - m.lastUsed.ParityPos
		return m.lastUsed.File, m.lastUsed.FilePos + off, true
	}

	var found *Extent
	m.byParity.DescendLessOrEqual(Extent{ParityPos: parityPos}, func(e Extent) bool {
		if parityPos < e.parityEnd() {
			ext := e
			found = &ext
		}
		return false
	})
	if found == nil {
		return 0, 0, false
	}
	m.lastUsed = found
	off := parityPos - found.ParityPos
	return found.File, found.FilePos + off, true
}

// File2Par is the dual of Par2File: given a file and a file-position,
// return the parity position that covers it.
func (m *Map) File2Par(file diskstate.FileID, filePos int64) (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lastUsed != nil && m.lastUsed.File == file && filePos >= m.lastUsed.FilePos && filePos < m.lastUsed.fileEnd() {
		off := filePos - m.lastUsed.FilePos
		return m.lastUsed.ParityPos + off, true
	}

	var found *Extent
	m.byFile.DescendLessOrEqual(Extent{File: file, FilePos: filePos}, func(e Extent) bool {
		if e.File != file {
			return false
		}
		if filePos < e.fileEnd() {
			ext := e
			found = &ext
		}
		return false
	})
	if found == nil {
		return 0, false
	}
	m.lastUsed = found
	off := filePos - found.FilePos
	return found.ParityPos + off, true
}

// Allocate assigns parityPos to (file, filePos). If an extent ending at
// (parityPos-1, filePos-1) for the same file exists, it is extended;
// if parityPos-1 belongs to a different file (or to no file at all), a
// new length-1 extent is inserted. It fails loudly if parityPos-1
// belongs to the same file but at a different file position: the two
// axes have gone out of step, which findContainingParity's non-overlap
// guarantee means can only happen from a structurally inconsistent
// extent map, not from an ordinary file boundary.
func (m *Map) Allocate(file diskstate.FileID, filePos, parityPos int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing := m.findContainingParity(parityPos); existing != nil {
		return fmt.Errorf("extent: parity position %d already allocated to file %d", parityPos, existing.File)
	}

	if parityPos > 0 {
		if prev := m.findContainingParity(parityPos - 1); prev != nil {
			if prev.File == file {
				if prev.fileEnd() != filePos {
					return fmt.Errorf("extent: file %d has an extent ending at file position %d adjacent to parity %d; cannot allocate non-contiguous file position %d there", file, prev.fileEnd(), parityPos, filePos)
				}
				e := *prev
				m.byParity.Delete(e)
				m.byFile.Delete(e)
				e.Count++
				m.byParity.ReplaceOrInsert(e)
				m.byFile.ReplaceOrInsert(e)
				m.lastUsed = &e
				return nil
			}
		}
	}

	ext := Extent{ParityPos: parityPos, File: file, FilePos: filePos, Count: 1}
	m.byParity.ReplaceOrInsert(ext)
	m.byFile.ReplaceOrInsert(ext)
	m.lastUsed = &ext
	return nil
}

// findContainingParity returns the extent whose parity range contains
// pos, or nil. Caller must hold m.mu.
func (m *Map) findContainingParity(pos int64) *Extent {
	var found *Extent
	m.byParity.DescendLessOrEqual(Extent{ParityPos: pos}, func(e Extent) bool {
		if pos < e.parityEnd() {
			ext := e
			found = &ext
		}
		return false
	})
	return found
}

// Deallocate removes parityPos's coverage: if its extent has length 1 the
// extent is removed outright; if parityPos sits at an edge the extent is
// shrunk; otherwise the extent is split into two around the gap.
func (m *Map) Deallocate(parityPos int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var found *Extent
	m.byParity.DescendLessOrEqual(Extent{ParityPos: parityPos}, func(e Extent) bool {
		if parityPos < e.parityEnd() {
			ext := e
			found = &ext
		}
		return false
	})
	if found == nil {
		return fmt.Errorf("extent: parity position %d is not allocated", parityPos)
	}
	m.lastUsed = nil

	e := *found
	m.byParity.Delete(e)
	m.byFile.Delete(e)

	if e.Count == 1 {
		return nil
	}

	if parityPos == e.ParityPos {
		e.ParityPos++
		e.FilePos++
		e.Count--
		m.byParity.ReplaceOrInsert(e)
		m.byFile.ReplaceOrInsert(e)
		return nil
	}

	if parityPos == e.parityEnd()-1 {
		e.Count--
		m.byParity.ReplaceOrInsert(e)
		m.byFile.ReplaceOrInsert(e)
		return nil
	}

	left := Extent{ParityPos: e.ParityPos, File: e.File, FilePos: e.FilePos, Count: parityPos - e.ParityPos}
	rightStart := parityPos + 1
	right := Extent{
		ParityPos: rightStart,
		File:      e.File,
		FilePos:   e.FilePos + (rightStart - e.ParityPos),
		Count:     e.parityEnd() - rightStart,
	}
	m.byParity.ReplaceOrInsert(left)
	m.byFile.ReplaceOrInsert(left)
	m.byParity.ReplaceOrInsert(right)
	m.byFile.ReplaceOrInsert(right)
	return nil
}

// Snapshot returns every extent currently tracked, ordered by parity
// position. Used by internal/manifest to persist the map into `blkk`
// records.
func (m *Map) Snapshot() []Extent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Extent, 0, m.byParity.Len())
	m.byParity.Ascend(func(e Extent) bool {
		out = append(out, e)
		return true
	})
	return out
}

// Len returns the number of extents currently tracked.
func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byParity.Len()
}

// VerifyParityOrdering walks the parity-ordered index and confirms extents
// are strictly increasing and non-overlapping (testable property 1).
func (m *Map) VerifyParityOrdering() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var prev *Extent
	var walkErr error
	m.byParity.Ascend(func(e Extent) bool {
		if prev != nil && prev.parityEnd() > e.ParityPos {
			walkErr = fmt.Errorf("extent: overlap between parity [%d,%d) and [%d,%d)",
				prev.ParityPos, prev.parityEnd(), e.ParityPos, e.parityEnd())
			return false
		}
		ext := e
		prev = &ext
		return true
	})
	return walkErr
}

// VerifyFilePartition walks the file-ordered index for one file and
// confirms its extents partition [0, blockMax) contiguously starting at
// file position 0 (testable property 2). isTombstone relaxes the
// starts-at-0 / ends-at-blockMax edges but still disallows overlap.
func (m *Map) VerifyFilePartition(file diskstate.FileID, blockMax int64, isTombstone bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var prev *Extent
	var first *Extent
	var walkErr error
	m.byFile.AscendRange(
		Extent{File: file, FilePos: -1},
		Extent{File: file + 1, FilePos: -1},
		func(e Extent) bool {
			if first == nil {
				ext := e
				first = &ext
			}
			if prev != nil && prev.fileEnd() != e.FilePos {
				walkErr = fmt.Errorf("extent: file %d is not contiguous between [%d,%d) and [%d,%d)",
					file, prev.FilePos, prev.fileEnd(), e.FilePos, e.fileEnd())
				return false
			}
			ext := e
			prev = &ext
			return true
		},
	)
	if walkErr != nil {
		return walkErr
	}
	if !isTombstone {
		if first == nil {
			if blockMax != 0 {
				return fmt.Errorf("extent: file %d has no extents but blockMax=%d", file, blockMax)
			}
			return nil
		}
		if first.FilePos != 0 {
			return fmt.Errorf("extent: file %d does not start at file position 0", file)
		}
		if prev.fileEnd() != blockMax {
			return fmt.Errorf("extent: file %d extents end at %d, want %d", file, prev.fileEnd(), blockMax)
		}
	}
	return nil
}
