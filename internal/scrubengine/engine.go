// Package scrubengine implements spec.md §4.7's scrub engine: periodic
// re-verification of already-synced blocks without touching parity.
// Grounded on original_source/cmdline/scrub.c's plan-selection logic and
// state_scrub loop, sharing internal/syncengine's column-processing
// shape the way original_source shares state_progress between sync and
// scrub.
package scrubengine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
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

// ParityReader is the read side of a parity level; *parity.Handle
// satisfies it structurally.
type ParityReader interface {
	ioscheduler.BlockReader
}

// Summary reports what one scrub pass found.
type Summary struct {
	ColumnsScrubbed  int64
	SilentDataErrors int
	IOErrors         int
}

func (s Summary) AllClean() bool {
	return s.SilentDataErrors == 0 && s.IOErrors == 0
}

// Plan is the set of parity positions one scrub invocation will visit.
type Plan struct {
	Positions []int64
}

// SelectPlan implements spec.md §4.7's plan selection: pick the oldest
// count_limit positions by Info.Time, shrinking that count to exclude
// positions newer than now-olderThanDays (scrub does not force recently
// verified blocks back into the set just to hit a quota), then extending
// through any tie at the resulting cutoff timestamp so ties are
// processed atomically. Positions already flagged bad are always
// included regardless of age.
func SelectPlan(info []diskstate.Info, percentage int, olderThanDays int, now time.Time) Plan {
	blockmax := int64(len(info))
	if blockmax == 0 {
		return Plan{}
	}

	countLimit := blockmax * int64(percentage) / 100
	if floor := blockmax / 12; floor > countLimit {
		countLimit = floor
	}
	if countLimit > blockmax {
		countLimit = blockmax
	}

	order := make([]int64, blockmax)
	for i := range order {
		order[i] = int64(i)
	}
	sort.Slice(order, func(i, j int) bool {
		return info[order[i]].Time.Before(info[order[j]].Time)
	})

	cutoff := now.AddDate(0, 0, -olderThanDays)
	limit := countLimit
	for limit > 0 && info[order[limit-1]].Time.After(cutoff) {
		limit--
	}

	selected := map[int64]bool{}
	if limit > 0 {
		cutoffTime := info[order[limit-1]].Time
		for limit < blockmax && info[order[limit]].Time.Equal(cutoffTime) {
			limit++
		}
		for _, pos := range order[:limit] {
			selected[pos] = true
		}
	}

	for pos, inf := range info {
		if inf.Bad {
			selected[int64(pos)] = true
		}
	}

	out := make([]int64, 0, len(selected))
	for pos := range selected {
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return Plan{Positions: out}
}

// Named plan selectors, mirroring original_source/cmdline/state.h's
// SCRUB_BAD/SCRUB_NEW/SCRUB_FULL/SCRUB_EVEN constants: an alternative to
// SelectPlan's percentage/age quota, picked with the --plan flag.
const (
	PlanBad  = "bad"
	PlanNew  = "new"
	PlanFull = "full"
	PlanEven = "even"
	PlanOdd  = "odd"
)

// SelectNamedPlan builds a Plan from one of the named selectors above
// instead of SelectPlan's percentage/age quota.
func SelectNamedPlan(info []diskstate.Info, name string) (Plan, error) {
	var positions []int64
	switch name {
	case PlanBad:
		for pos, inf := range info {
			if inf.Bad {
				positions = append(positions, int64(pos))
			}
		}
	case PlanNew:
		for pos, inf := range info {
			if inf.Time.IsZero() {
				positions = append(positions, int64(pos))
			}
		}
	case PlanFull:
		for pos := range info {
			positions = append(positions, int64(pos))
		}
	case PlanEven:
		for pos := range info {
			if pos%2 == 0 {
				positions = append(positions, int64(pos))
			}
		}
	case PlanOdd:
		for pos := range info {
			if pos%2 == 1 {
				positions = append(positions, int64(pos))
			}
		}
	default:
		return Plan{}, fmt.Errorf("scrubengine: unknown plan %q, want one of bad, new, full, even, odd", name)
	}
	return Plan{Positions: positions}, nil
}

// Engine drives one scrub pass over a plan's positions.
type Engine struct {
	Manifest *diskstate.Manifest
	Extents  map[string]*extent.Map
	Codec    *raidcodec.Codec
	Parities []ParityReader

	BlockSize    int64
	IOMax        int
	IOErrorLimit int

	// AuditOnly restricts verification to each block's recorded hash,
	// skipping the parity recomputation/comparison step entirely, per
	// original_source/cmdline/state.h's auditonly ("checks only the
	// hash and not the parity"). Useful when parity is known-good and
	// the caller only wants to confirm the data disks themselves
	// haven't silently rotted.
	AuditOnly bool

	AutosaveIntervalMB int64
	Persist            func(*diskstate.Manifest) error

	ioErrCount int
}

func (e *Engine) dataDisks() []*diskstate.Disk {
	out := make([]*diskstate.Disk, 0, len(e.Manifest.Disks))
	out = append(out, e.Manifest.Disks...)
	return out
}

func (e *Engine) buildScheduler(plan Plan) *ioscheduler.Scheduler {
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
		splits[i] = ioscheduler.ParitySplit{Reader: p, Writer: noopWriter{}}
	}
	enabled := planEnabled(plan)
	return ioscheduler.NewScheduler(e.IOMax, int(e.BlockSize), readers, splits, enabled)
}

type noopWriter struct{}

func (noopWriter) WriteBlock(int64, []byte) error { return nil }

func planEnabled(plan Plan) ioscheduler.EnabledFunc {
	set := make(map[int64]bool, len(plan.Positions))
	for _, p := range plan.Positions {
		set[p] = true
	}
	return func(pos int64) bool { return set[pos] }
}

// Scrub re-verifies every position in plan: for each, it hashes every
// live block and recomputes parity, comparing both against what is
// already on disk. It never writes parity (spec.md §4.7: "streams
// through the scheduler identically to sync but never writes parity").
func (e *Engine) Scrub(ctx context.Context, plan Plan) (*Summary, error) {
	summary := &Summary{}
	if len(plan.Positions) == 0 {
		return summary, nil
	}

	start, end := plan.Positions[0], plan.Positions[len(plan.Positions)-1]+1
	sched := e.buildScheduler(plan)
	if err := sched.Start(start, end); err != nil {
		return summary, err
	}
	defer sched.Stop()

	disks := e.dataDisks()
	want := make(map[int64]bool, len(plan.Positions))
	for _, p := range plan.Positions {
		want[p] = true
	}

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

		dataBufs := make([][]byte, len(disks))
		var ioErr error
		var anyRead bool
		for i := range disks {
			_, buf, state, ferr := sched.DataRead(i)
			dataBufs[i] = buf
			if state == ioscheduler.StateDone {
				anyRead = true
			}
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

		if !want[pos] || !anyRead {
			continue
		}

		if ioErr != nil {
			e.ioErrCount++
			summary.IOErrors++
			if e.ioErrCount > e.IOErrorLimit {
				return summary, &snaperr.IOError{Path: fmt.Sprintf("column %d", pos), Err: ioErr}
			}
			logger.Warnf("scrub: column %d: %v (tolerated, %d/%d)", pos, ioErr, e.ioErrCount, e.IOErrorLimit)
			continue
		}

		e.verifyColumn(disks, pos, dataBufs, parBufs, summary)
		summary.ColumnsScrubbed++

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

func (e *Engine) verifyColumn(disks []*diskstate.Disk, pos int64, dataBufs, parBufs [][]byte, summary *Summary) {
	e.Manifest.EnsureInfoLen(pos)
	info := &e.Manifest.Info[pos]

	algo := snaphash.Algorithm(e.Manifest.HashAlgo)
	seed := e.Manifest.HashSeed
	bad := false

	for i, d := range disks {
		em := e.Extents[d.Name]
		if em == nil {
			continue
		}
		fileID, filePos, ok := em.Par2File(pos)
		if !ok {
			continue
		}
		f, ok := d.File(fileID)
		if !ok || filePos < 0 || filePos >= int64(len(f.Blocks)) {
			continue
		}
		block := &f.Blocks[filePos]
		if !block.IsFileBacked() {
			continue
		}

		h, err := algo.Func(seed, dataBufs[i])
		if err != nil || h != block.Hash {
			bad = true
			block.Bad = true
			summary.SilentDataErrors++
			continue
		}
	}

	if !bad && !e.AuditOnly && len(e.Parities) > 0 {
		combined := append(append([][]byte{}, dataBufs...), parBufs...)
		if err := e.Codec.Gen(int(e.BlockSize), combined); err == nil {
			for i := range e.Parities {
				got := combined[len(dataBufs)+i]
				want := parBufs[i]
				if !bytesEqual(got, want) {
					bad = true
					summary.SilentDataErrors++
				}
			}
		}
	}

	if bad {
		info.Bad = true
		return
	}
	info.Time = time.Now()
	info.Bad = false
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
