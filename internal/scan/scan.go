// Package scan implements the scan & diff contract of spec.md §4.9: walk
// a data disk's filesystem and classify every file as equal, moved,
// copied, changed, removed, or newly added, mutating the manifest to
// match (Apply) or merely reporting the counts (Diff). The scan/diff
// walker's filesystem-specific heuristics are genuinely out of the core
// engine's scope per spec.md; this package is a minimal, real
// implementation of that contract rather than a stub, grounded on
// original_source/cmdline/scan.c's classification order and dry.c's
// read-only variant.
package scan

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/snapraid-go/snapraid/internal/diskstate"
	"github.com/snapraid-go/snapraid/internal/extent"
)

// Result tallies one disk's scan outcome, matching spec.md §4.9's
// per-disk counters.
type Result struct {
	Equal    int
	Moved    int
	Copied   int
	Restored int
	Changed  int
	Removed  int
	Added    int
}

// Add merges another Result's counts into r.
func (r *Result) Add(o Result) {
	r.Equal += o.Equal
	r.Moved += o.Moved
	r.Copied += o.Copied
	r.Restored += o.Restored
	r.Changed += o.Changed
	r.Removed += o.Removed
	r.Added += o.Added
}

// statInfo holds the inode/mtime/size facts a diff decision needs.
type statInfo struct {
	Size  int64
	Mtime diskstate.Timestamp
	Inode uint64
}

func statFile(path string, fi fs.FileInfo) statInfo {
	info := statInfo{Size: fi.Size(), Mtime: diskstate.Timestamp{Sec: fi.ModTime().Unix(), Nsec: int32(fi.ModTime().Nanosecond())}}
	if st, ok := fi.Sys().(*unix.Stat_t); ok {
		info.Inode = st.Ino
	}
	return info
}

func (s statInfo) sameStamp(f *diskstate.File) bool {
	return s.Size == f.Size && s.Mtime.Equal(f.Mtime)
}

func (s statInfo) sameIdentity(f *diskstate.File) bool {
	return s.Inode != 0 && s.Inode == f.Inode && s.Size == f.Size && s.Mtime.Equal(f.Mtime)
}

// isFullyHashed reports whether every block of f already has a trusted
// hash (BLK or REP), making it eligible as a copy source.
func isFullyHashed(f *diskstate.File) bool {
	if len(f.Blocks) == 0 {
		return f.Size == 0
	}
	for _, b := range f.Blocks {
		if b.State != diskstate.BlockBLK && b.State != diskstate.BlockREP {
			return false
		}
	}
	return true
}

// Walker drives a scan across every disk in a manifest.
type Walker struct {
	Manifest  *diskstate.Manifest
	Extents   map[string]*extent.Map
	BlockSize int64

	// ForceZero bypasses the abort that otherwise fires when a
	// previously non-empty file is found truncated to zero size, the
	// common ext4-after-crash symptom scan.c's force_zero guards
	// against.
	ForceZero bool
	// ForceEmpty bypasses the abort that otherwise fires when a disk's
	// scan keeps none of its previous files in common (every file
	// removed or changed, nothing equal, moved, or restored), the
	// unmounted-disk symptom scan.c's force_empty guards against.
	ForceEmpty bool
	// ForceNoCopy disables cross-disk copy detection entirely, mirroring
	// scan.c's force_nocopy.
	ForceNoCopy bool
}

// nextFreeParityPos returns one past the highest parity position
// currently allocated on the disk, a simple bump allocator sufficient
// for append-mostly arrays; it does not reuse positions freed by
// Deallocate, left as a known simplification (see DESIGN.md).
func (w *Walker) nextFreeParityPos(diskName string) int64 {
	em := w.Extents[diskName]
	var max int64 = -1
	for _, e := range em.Snapshot() {
		if end := e.ParityPos + e.Count - 1; end > max {
			max = end
		}
	}
	return max + 1
}

// Diff performs a read-only scan: it reports what Apply would do without
// mutating the manifest, per SPEC_FULL's supplemented `dry` subcommand.
func (w *Walker) Diff() (Result, error) {
	return w.run(false)
}

// Apply performs the mutating scan of spec.md §4.9: inserts new files as
// CHG blocks, relocates moved files, converts copies into REP blocks,
// and tombstones removed files.
func (w *Walker) Apply() (Result, error) {
	return w.run(true)
}

func (w *Walker) run(mutate bool) (Result, error) {
	var total Result
	for _, d := range w.Manifest.Disks {
		r, err := w.scanDisk(d, mutate)
		if err != nil {
			return total, err
		}
		total.Add(r)
	}
	return total, nil
}

func (w *Walker) scanDisk(d *diskstate.Disk, mutate bool) (Result, error) {
	var result Result
	seen := map[string]bool{}

	err := filepath.WalkDir(d.MountDir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		sub, rerr := filepath.Rel(d.MountDir, path)
		if rerr != nil {
			return rerr
		}
		fi, serr := entry.Info()
		if serr != nil {
			return serr
		}
		if fi.Mode()&os.ModeSymlink != 0 {
			return nil
		}

		seen[sub] = true
		st := statFile(path, fi)

		if existing, ok := d.FileBySub(sub); ok {
			if st.sameStamp(existing) {
				result.Equal++
				return nil
			}
			if !w.ForceZero && existing.Size != 0 && st.Size == 0 {
				return fmt.Errorf("scan: %s%s has unexpected zero size; it may have been lost in a crash, use fix to recover it, or re-run with --force-zero if this is expected", d.Name, sub)
			}
			result.Changed++
			if mutate {
				w.markChanged(d, existing, st)
			}
			return nil
		}

		if moved := w.findMoveSource(d, sub, st); moved != nil {
			result.Moved++
			if mutate {
				d.RenameFile(moved.ID, sub)
			}
			return nil
		}

		if !w.ForceNoCopy {
			if source := w.findCopySource(sub, st); source != nil {
				result.Copied++
				if mutate {
					w.insertCopy(d, sub, st, source)
				}
				return nil
			}
		}

		result.Added++
		if mutate {
			w.insertNew(d, sub, st)
		}
		return nil
	})
	if err != nil {
		return result, fmt.Errorf("scan: walk disk %s: %w", d.Name, err)
	}

	for _, f := range d.Files() {
		if seen[f.Sub] {
			continue
		}
		result.Removed++
		if mutate {
			d.RemoveFile(f.ID)
		}
	}

	if !w.ForceEmpty && result.Equal == 0 && result.Moved == 0 && result.Restored == 0 &&
		(result.Removed > 0 || result.Changed > 0) {
		return result, fmt.Errorf("scan: disk %s has no files left in common with its previous state; it may not be mounted, re-run with --force-empty if this is expected", d.Name)
	}
	return result, nil
}

// findMoveSource looks for a file on the same disk whose inode, size and
// mtime already match st but whose path differs: spec.md §4.9's "move".
func (w *Walker) findMoveSource(d *diskstate.Disk, sub string, st statInfo) *diskstate.File {
	for _, f := range d.Files() {
		if f.Sub == sub {
			continue
		}
		if st.sameIdentity(f) {
			return f
		}
	}
	return nil
}

// findCopySource looks across every disk for a fully-hashed file whose
// name or path and stamp match st: spec.md §4.9's "copy".
func (w *Walker) findCopySource(sub string, st statInfo) *diskstate.File {
	name := filepath.Base(sub)
	for _, d := range w.Manifest.Disks {
		for _, f := range d.Files() {
			if !isFullyHashed(f) {
				continue
			}
			sameTime := st.Mtime.Equal(f.Mtime)
			if !st.Mtime.HasValidNsec() || !f.Mtime.HasValidNsec() {
				sameTime = st.Mtime.Sec == f.Mtime.Sec
			}
			if st.Size != f.Size || !sameTime {
				continue
			}
			if f.Sub == sub || filepath.Base(f.Sub) == name {
				return f
			}
		}
	}
	return nil
}

func (w *Walker) markChanged(d *diskstate.Disk, f *diskstate.File, st statInfo) {
	blockCount := diskstate.BlockCount(st.Size, w.BlockSize)
	blocks := make([]diskstate.Block, blockCount)
	copy(blocks, f.Blocks)
	for i := range blocks {
		blocks[i] = diskstate.Block{State: diskstate.BlockCHG}
	}
	f.Blocks = blocks
	f.Size = st.Size
	f.Mtime = st.Mtime
	f.Inode = st.Inode

	em := w.Extents[d.Name]
	next := w.nextFreeParityPos(d.Name)
	for i := range blocks {
		if _, ok := em.File2Par(f.ID, int64(i)); ok {
			continue
		}
		em.Allocate(f.ID, int64(i), next)
		next++
	}
}

func (w *Walker) insertNew(d *diskstate.Disk, sub string, st statInfo) {
	blockCount := diskstate.BlockCount(st.Size, w.BlockSize)
	f := d.AddFile(diskstate.File{
		Sub:    sub,
		Size:   st.Size,
		Mtime:  st.Mtime,
		Inode:  st.Inode,
		Blocks: make([]diskstate.Block, blockCount),
	})
	for i := range f.Blocks {
		f.Blocks[i].State = diskstate.BlockCHG
	}
	em := w.Extents[d.Name]
	next := w.nextFreeParityPos(d.Name)
	for i := range f.Blocks {
		em.Allocate(f.ID, int64(i), next)
		next++
	}
}

func (w *Walker) insertCopy(d *diskstate.Disk, sub string, st statInfo, source *diskstate.File) {
	f := d.AddFile(diskstate.File{
		Sub:    sub,
		Size:   st.Size,
		Mtime:  st.Mtime,
		Inode:  st.Inode,
		Blocks: make([]diskstate.Block, len(source.Blocks)),
	})
	for i, sb := range source.Blocks {
		f.Blocks[i] = diskstate.Block{State: diskstate.BlockREP, Hash: sb.Hash}
	}
	em := w.Extents[d.Name]
	next := w.nextFreeParityPos(d.Name)
	for i := range f.Blocks {
		em.Allocate(f.ID, int64(i), next)
		next++
	}
}
