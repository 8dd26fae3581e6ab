// Package syncengine implements spec.md §4.6's sync engine: the column
// loop that hashes data, compares against stored hashes, generates
// parity, attempts in-memory recovery from silent errors, and commits
// block-state transitions. Grounded on original_source/cmdline/sync.c's
// state_progress loop, restructured around internal/ioscheduler's
// pipelined read/write contract instead of sync.c's single-threaded
// buffer loop.
package syncengine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/snapraid-go/snapraid/internal/columnio"
	"github.com/snapraid-go/snapraid/internal/diskstate"
	"github.com/snapraid-go/snapraid/internal/extent"
	"github.com/snapraid-go/snapraid/internal/ioscheduler"
	"github.com/snapraid-go/snapraid/internal/logger"
	"github.com/snapraid-go/snapraid/internal/raidcodec"
	"github.com/snapraid-go/snapraid/internal/snaperr"
	"github.com/snapraid-go/snapraid/internal/snaphash"
)

// ParityWriter is the subset of *parity.Handle the engine needs: read
// and write access to one parity level's logical stream.
type ParityWriter interface {
	ioscheduler.BlockReader
	ioscheduler.BlockWriter
}

// Summary accumulates the per-run counters spec.md §7 requires in the
// final user-visible report.
type Summary struct {
	ColumnsProcessed int64
	FileErrors       int
	IOErrors         int
	SilentDataErrors int
	Unrecoverable    int
}

// AllClean reports whether every counter is zero, spec.md §7's "exit
// code 0 only if all counters are zero" rule.
func (s Summary) AllClean() bool {
	return s.FileErrors == 0 && s.IOErrors == 0 && s.SilentDataErrors == 0 && s.Unrecoverable == 0
}

// Engine drives one sync run over a manifest already populated by scan.
type Engine struct {
	Manifest *diskstate.Manifest
	Extents  map[string]*extent.Map // disk name -> extent map
	Codec    *raidcodec.Codec
	Parities []ParityWriter // one per parity level, same order as Manifest.Parities

	BlockSize          int64
	IOMax              int
	IOErrorLimit       int
	AutosaveIntervalMB int64

	// ForceFull processes every column regardless of columnHasWork,
	// matching original_source/cmdline/state.h's force_full: recompute
	// and rewrite parity everywhere rather than trusting HasValidParity
	// on blocks the scan left untouched.
	ForceFull bool

	// Persist saves the manifest; called every AutosaveIntervalMB MiB
	// processed and once more at the end of a clean run. Nil disables
	// autosave (used by tests).
	Persist func(*diskstate.Manifest) error

	ioErrCount int
}

func (e *Engine) dataDisks() []*diskstate.Disk {
	out := make([]*diskstate.Disk, 0, len(e.Manifest.Disks))
	for _, d := range e.Manifest.Disks {
		out = append(out, d)
	}
	return out
}

func (e *Engine) buildScheduler() *ioscheduler.Scheduler {
	disks := e.dataDisks()
	readers := make([]ioscheduler.BlockReader, len(disks))
	for i, d := range disks {
		readers[i] = &columnio.DiskColumn{
			Disk:      d,
			Extents:   e.Extents[d.Name],
			Reader:    columnio.NewOSFileReader(d.MountDir),
			BlockSize: e.BlockSize,
		}
	}
	splits := make([]ioscheduler.ParitySplit, len(e.Parities))
	for i, p := range e.Parities {
		splits[i] = ioscheduler.ParitySplit{Reader: p, Writer: p}
	}
	return ioscheduler.NewScheduler(e.IOMax, int(e.BlockSize), readers, splits, nil)
}

// Sync processes every enabled column in [blockStart, blockMax),
// returning a Summary of what happened even when it also returns an
// error (a fatal abort still reports partial progress, per spec.md §7's
// "autosave ensures partial progress survives fatal exits").
func (e *Engine) Sync(ctx context.Context, blockStart, blockMax int64) (*Summary, error) {
	summary := &Summary{}
	// Grow each parity level to cover blockMax before the read-ahead
	// starts, so positions not yet written lie inside the last split and
	// read back as zeros instead of failing as past its end.
	need := blockMax * e.BlockSize
	for _, p := range e.Parities {
		if g, ok := p.(interface {
			Size() int64
			Chsize(int64) error
		}); ok && g.Size() < need {
			if err := g.Chsize(need); err != nil {
				return summary, err
			}
		}
	}
	sched := e.buildScheduler()
	if err := sched.Start(blockStart, blockMax); err != nil {
		return summary, err
	}
	defer sched.Stop()

	disks := e.dataDisks()
	var processedBytes int64

	for {
		if ctx.Err() != nil {
			break
		}

		pos, err := sched.ReadNext()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return summary, err
		}

		if !e.ForceFull && !e.columnHasWork(disks, pos) {
			// Drain the ring without processing; the scheduler still
			// performed real I/O for this column since no enable filter
			// was installed, but there is nothing to hash or write.
			for i := range disks {
				sched.DataRead(i)
			}
			for i := range e.Parities {
				sched.ParityRead(i)
			}
			continue
		}

		dataBufs := make([][]byte, len(disks))
		var ioErr error
		for i := range disks {
			_, buf, state, ferr := sched.DataRead(i)
			dataBufs[i] = buf
			if state == ioscheduler.StateIOError || ferr != nil {
				ioErr = ferr
			}
		}
		parBufs := make([][]byte, len(e.Parities))
		for i := range e.Parities {
			_, buf, state, ferr := sched.ParityRead(i)
			parBufs[i] = buf
			if state == ioscheduler.StateIOError || ferr != nil {
				ioErr = ferr
			}
		}

		if ioErr != nil {
			e.ioErrCount++
			summary.IOErrors++
			if e.ioErrCount > e.IOErrorLimit {
				return summary, &snaperr.IOError{Path: fmt.Sprintf("column %d", pos), Err: ioErr}
			}
			logger.Warnf("sync: column %d: %v (tolerated, %d/%d)", pos, ioErr, e.ioErrCount, e.IOErrorLimit)
			continue
		}

		if err := e.processColumn(disks, pos, dataBufs, parBufs, sched, summary); err != nil {
			return summary, err
		}
		summary.ColumnsProcessed++

		processedBytes += e.BlockSize
		if e.AutosaveIntervalMB > 0 && e.Persist != nil && processedBytes >= e.AutosaveIntervalMB*1024*1024 {
			if err := e.Persist(e.Manifest); err != nil {
				return summary, err
			}
			processedBytes = 0
		}
	}

	if e.Persist != nil {
		if err := e.Persist(e.Manifest); err != nil {
			return summary, err
		}
	}
	return summary, nil
}

// columnHasWork implements spec.md §4.6 step 1: a column is processed
// only if some disk has a file-backed block (one_valid) and some disk
// has a block whose parity is not already known-good (one_invalid).
func (e *Engine) columnHasWork(disks []*diskstate.Disk, pos int64) bool {
	oneValid, oneInvalid := false, false
	for _, d := range disks {
		block := e.blockAt(d, pos)
		if block == nil {
			continue
		}
		if block.IsFileBacked() {
			oneValid = true
		}
		if !block.HasValidParity() || block.Bad {
			oneInvalid = true
		}
	}
	return oneValid && oneInvalid
}

// blockAt resolves the block a disk has at parity position pos, or nil
// if the disk has no live file-backed extent there (an unused slot, or
// a tombstone whose file record was already erased — left for a later
// cleanup pass, not reprocessed here).
func (e *Engine) blockAt(d *diskstate.Disk, pos int64) *diskstate.Block {
	em := e.Extents[d.Name]
	if em == nil {
		return nil
	}
	fileID, filePos, ok := em.Par2File(pos)
	if !ok {
		return nil
	}
	f, ok := d.File(fileID)
	if !ok || filePos < 0 || filePos >= int64(len(f.Blocks)) {
		return nil
	}
	return &f.Blocks[filePos]
}

func (e *Engine) processColumn(disks []*diskstate.Disk, pos int64, dataBufs, parBufs [][]byte, sched *ioscheduler.Scheduler, summary *Summary) error {
	blocks := make([]*diskstate.Block, len(disks))
	anyChanged := false
	failed := map[int]bool{}

	algo := snaphash.Algorithm(e.Manifest.HashAlgo)
	seed := e.Manifest.HashSeed

	for i, d := range disks {
		block := e.blockAt(d, pos)
		if block == nil {
			continue
		}
		blocks[i] = block

		h, err := algo.Func(seed, dataBufs[i])
		if err != nil {
			return fmt.Errorf("syncengine: column %d disk %s: %w", pos, d.Name, err)
		}

		switch block.State {
		case diskstate.BlockCHG:
			block.Hash = h
			anyChanged = true
		case diskstate.BlockBLK, diskstate.BlockREP:
			if h != block.Hash {
				failed[i] = true
				block.Bad = true
				summary.SilentDataErrors++
			}
			if block.State == diskstate.BlockREP {
				anyChanged = true
			}
		}
	}

	if len(failed) > 0 {
		e.attemptRecovery(pos, dataBufs, parBufs, blocks, failed, algo, seed, summary)
	}

	if anyChanged || len(failed) > 0 {
		combined := append(append([][]byte{}, dataBufs...), parBufs...)
		if err := e.Codec.Gen(int(e.BlockSize), combined); err != nil {
			return fmt.Errorf("syncengine: column %d: raid_gen: %w", pos, err)
		}
		for i := range e.Parities {
			if err := sched.WriteParity(i, pos, combined[len(dataBufs)+i]); err != nil {
				return fmt.Errorf("syncengine: column %d: write parity %d: %w", pos, i, err)
			}
		}
	}

	e.commitColumn(pos, blocks, failed, summary)
	return nil
}

// attemptRecovery implements spec.md §4.6 step 6: if the column has no
// more failed blocks than the codec can repair, reconstruct them in
// memory and accept the recovery only if every recovered block's
// rehash matches its stored hash.
func (e *Engine) attemptRecovery(pos int64, dataBufs, parBufs [][]byte, blocks []*diskstate.Block, failed map[int]bool, algo snaphash.Algorithm, seed [16]byte, summary *Summary) {
	if len(failed) > e.Codec.ParityShards() {
		summary.Unrecoverable += len(failed)
		return
	}

	combined := append(append([][]byte{}, dataBufs...), parBufs...)
	if err := e.Codec.Rec(failed, int(e.BlockSize), combined); err != nil {
		logger.Warnf("syncengine: column %d: raid_rec failed: %v", pos, err)
		summary.Unrecoverable += len(failed)
		return
	}

	allMatch := true
	for i := range failed {
		h, err := algo.Func(seed, combined[i])
		if err != nil || blocks[i] == nil || h != blocks[i].Hash {
			allMatch = false
			break
		}
	}
	if !allMatch {
		summary.Unrecoverable += len(failed)
		return
	}

	for i := range failed {
		copy(dataBufs[i], combined[i])
		blocks[i].Bad = false
		delete(failed, i)
	}
}

func (e *Engine) commitColumn(pos int64, blocks []*diskstate.Block, failed map[int]bool, summary *Summary) {
	e.Manifest.EnsureInfoLen(pos)
	info := &e.Manifest.Info[pos]

	for i, block := range blocks {
		if block == nil || failed[i] {
			continue
		}
		switch block.State {
		case diskstate.BlockCHG, diskstate.BlockREP:
			_ = block.Transition(diskstate.BlockBLK)
		}
	}

	if len(failed) > 0 {
		info.Bad = true
		return
	}
	info.Time = time.Now()
	info.Bad = false
	info.Rehash = false
}

// PreHash implements spec.md §4.6's optional prepass: read every CHG
// block and compute its hash without touching parity, so a later Sync
// call can detect modification-during-sync earlier and do less
// redundant hashing. Runs directly against disk files, bypassing the
// scheduler since no parity or cross-disk coordination is needed.
func (e *Engine) PreHash() error {
	algo := snaphash.Algorithm(e.Manifest.HashAlgo)
	seed := e.Manifest.HashSeed

	for _, d := range e.Manifest.Disks {
		reader := columnio.NewOSFileReader(d.MountDir)
		for _, f := range d.Files() {
			for i := range f.Blocks {
				block := &f.Blocks[i]
				if block.State != diskstate.BlockCHG {
					continue
				}
				buf := make([]byte, e.BlockSize)
				off := int64(i) * e.BlockSize
				n, err := reader.ReadAt(f.Sub, off, buf)
				if err != nil {
					return fmt.Errorf("syncengine: prehash disk %s file %s: %w", d.Name, f.Sub, err)
				}
				for j := n; j < len(buf); j++ {
					buf[j] = 0
				}
				h, err := algo.Func(seed, buf)
				if err != nil {
					return err
				}
				block.Hash = h
			}
		}
		reader.Close()
	}
	return nil
}
