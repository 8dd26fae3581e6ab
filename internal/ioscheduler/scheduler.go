package ioscheduler

import (
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"
)

// EnabledFunc decides whether a given block position actually needs I/O;
// returning false lets the scheduler skip the column entirely (e.g. a
// parity position past every disk's current size). A nil EnabledFunc
// means every position in range is enabled.
type EnabledFunc func(pos int64) bool

// ParitySplit pairs the reader and writer side of one parity level's
// worker; reads are pipelined through the ring like data disks, writes
// go straight through since they depend on that column's raid_gen
// result and cannot be prefetched.
type ParitySplit struct {
	Reader BlockReader
	Writer BlockWriter
}

// Scheduler drives one Worker per data disk and one per parity split
// through a shared column position, keeping each worker's ring filled
// IO_MAX positions ahead of what the engine has fetched. Construction
// mirrors spec.md's io_start(nthread, position_start, position_max):
// NewScheduler builds one Worker per data reader and per parity split
// for the run. Every worker's ring refills one position at a time, right
// after its own Fetch frees a slot, so no worker can block waiting on
// another's progress.
type Scheduler struct {
	ioMax     int
	blockSize int
	data      []*Worker
	parity    []*Worker
	writers   []BlockWriter
	enabled   EnabledFunc

	end         int64
	readPos     int64
	dataFillPos []int64
	parFillPos  []int64
}

// NewScheduler builds a scheduler over dataReaders (one per data disk)
// and splits (one reader/writer pair per parity level). ioMax is the
// per-worker ring depth (spec.md's IO_MAX).
func NewScheduler(ioMax, blockSize int, dataReaders []BlockReader, splits []ParitySplit, enabled EnabledFunc) *Scheduler {
	s := &Scheduler{ioMax: ioMax, blockSize: blockSize, enabled: enabled}
	for i, r := range dataReaders {
		s.data = append(s.data, NewWorker(i, ioMax, blockSize, r))
	}
	for i, p := range splits {
		s.parity = append(s.parity, NewWorker(len(dataReaders)+i, ioMax, blockSize, p.Reader))
		s.writers = append(s.writers, p.Writer)
	}
	s.dataFillPos = make([]int64, len(s.data))
	s.parFillPos = make([]int64, len(s.parity))
	return s
}

// DataDiskCount returns the number of data-disk workers.
func (s *Scheduler) DataDiskCount() int { return len(s.data) }

// ParityLevelCount returns the number of parity-split workers.
func (s *Scheduler) ParityLevelCount() int { return len(s.parity) }

func (s *Scheduler) isEnabled(pos int64) bool {
	return s.enabled == nil || s.enabled(pos)
}

// Start primes every worker's ring up to ioMax positions ahead of start,
// matching spec.md's io_start. Positions are block indices shared across
// every disk and parity split (spec.md §4.5's column model).
func (s *Scheduler) Start(start, end int64) error {
	s.end = end
	s.readPos = start

	for i, w := range s.data {
		s.dataFillPos[i] = start
		if err := s.fill(w, &s.dataFillPos[i]); err != nil {
			return err
		}
	}
	for i, w := range s.parity {
		s.parFillPos[i] = start
		if err := s.fill(w, &s.parFillPos[i]); err != nil {
			return err
		}
	}
	return nil
}

// fill enqueues positions into a single worker's ring until *pos is a
// full ring's depth past the read frontier (or reaches end). Start fills
// the whole ring; after each Fetch it adds at most one position, so
// Enqueue never waits on a full ring.
func (s *Scheduler) fill(w *Worker, pos *int64) error {
	for *pos < s.end && *pos < s.readPos+int64(w.ringLen()) {
		if err := w.Enqueue(*pos, s.isEnabled(*pos)); err != nil {
			return fmt.Errorf("ioscheduler: enqueue position %d: %w", *pos, err)
		}
		*pos++
	}
	return nil
}

// ReadNext advances the read frontier by one column, returning the
// position now available via DataRead/ParityRead. Returns io.EOF once
// every position through end has been handed out.
func (s *Scheduler) ReadNext() (int64, error) {
	if s.readPos >= s.end {
		return 0, io.EOF
	}
	pos := s.readPos
	s.readPos++
	return pos, nil
}

// DataRead fetches the data-disk result for the column ReadNext last
// returned, then immediately tops up that worker's ring with the next
// not-yet-enqueued position.
func (s *Scheduler) DataRead(diskIndex int) (int64, []byte, TaskState, error) {
	w := s.data[diskIndex]
	pos, buf, state, err := w.Fetch()
	s.fill(w, &s.dataFillPos[diskIndex])
	return pos, buf, state, err
}

// ParityRead fetches the parity-split read result for the column
// ReadNext last returned, then tops up that worker's ring.
func (s *Scheduler) ParityRead(level int) (int64, []byte, TaskState, error) {
	w := s.parity[level]
	pos, buf, state, err := w.Fetch()
	s.fill(w, &s.parFillPos[level])
	return pos, buf, state, err
}

// WriteParity writes buf to the given parity split at pos directly,
// bypassing the read-ahead ring: writes depend on the column's raid_gen
// result and so cannot be prefetched the way reads are.
func (s *Scheduler) WriteParity(level int, pos int64, buf []byte) error {
	if level < 0 || level >= len(s.writers) {
		return fmt.Errorf("ioscheduler: parity level %d out of range", level)
	}
	return s.writers[level].WriteBlock(pos, buf)
}

// Stop halts every worker goroutine, discarding any unfetched in-flight
// results. Workers are joined concurrently through an errgroup.Group,
// which returns the first worker panic/error recovered across the whole
// set as a sentinel rather than letting it escape unnoticed.
func (s *Scheduler) Stop() error {
	var g errgroup.Group
	for _, w := range s.data {
		g.Go(w.Stop)
	}
	for _, w := range s.parity {
		g.Go(w.Stop)
	}
	return g.Wait()
}
