// Package ioscheduler implements a pipelined I/O scheduler: one worker
// goroutine per data disk plus one per parity split, each with its own
// ring of IO_MAX task slots so the OS can keep that many requests in
// flight per device while the engine processes columns strictly in
// position order. Built as a bounded producer/consumer ring rather than
// a task queue, since per-disk ordering and a fixed lookahead matter
// more here than arbitrary fan-out.
package ioscheduler

import (
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// TaskState is the state machine spec.md §4.5 assigns to each ring slot.
type TaskState int

const (
	// StateEmpty marks a slot the worker has not been asked to fill yet.
	StateEmpty TaskState = iota
	// StateReady marks a slot holding a position the worker has not
	// started processing.
	StateReady
	// StateDone marks a slot whose I/O completed without error.
	StateDone
	// StateSkipped marks a slot the scheduler's enabled predicate
	// excluded; no real I/O was attempted and buf is zeroed.
	StateSkipped
	// StateError marks a slot whose I/O failed in a way that aborts the
	// whole run (structural/config errors).
	StateError
	// StateErrorContinue marks a recoverable logical error (e.g. a block
	// hash mismatch discovered downstream); the run continues past it.
	StateErrorContinue
	// StateIOError marks a slot whose read failed; the worker reports
	// every read failure this way and the engines decide whether to
	// tolerate it.
	StateIOError
	// StateIOErrorContinue marks an I/O failure (EIO) the caller chooses
	// to tolerate up to io_error_limit, per spec.md §4.6.
	StateIOErrorContinue
)

func (s TaskState) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateReady:
		return "ready"
	case StateDone:
		return "done"
	case StateSkipped:
		return "skipped"
	case StateError:
		return "error"
	case StateErrorContinue:
		return "error_continue"
	case StateIOError:
		return "io_error"
	case StateIOErrorContinue:
		return "io_error_continue"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether the worker has finished processing the
// slot, so the consumer side may fetch it.
func (s TaskState) IsTerminal() bool {
	return s != StateEmpty && s != StateReady
}

// IsError reports whether the slot's terminal state represents a
// failure of any kind (fatal or tolerated).
func (s TaskState) IsError() bool {
	switch s {
	case StateError, StateErrorContinue, StateIOError, StateIOErrorContinue:
		return true
	default:
		return false
	}
}

// BlockReader performs one column's read for a single worker. pos is a
// block-aligned position in that worker's own column space (a parity
// position for data and parity workers alike); buf is sized to the
// scheduler's block size.
type BlockReader interface {
	ReadBlock(pos int64, buf []byte) error
}

// BlockWriter performs one column's write for a single worker.
type BlockWriter interface {
	WriteBlock(pos int64, buf []byte) error
}

type task struct {
	state   TaskState
	pos     int64
	enabled bool
	buf     []byte
	err     error
}

// Worker drives I/O for exactly one disk (a data disk or one parity
// split), via its own goroutine and ring of IO_MAX task slots. Enqueue is
// the producer side (called by Scheduler.fill), Fetch is the
// consumer side (called by Scheduler.DataRead/ParityRead).
type Worker struct {
	id        int
	blockSize int
	reader    BlockReader

	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	ring     []task
	head     int // oldest slot not yet fetched
	proc     int // oldest slot not yet started by the worker goroutine
	fill     int // next slot the producer will fill
	len      int // occupied slot count (fill - head, circularly)
	closed   bool
	group    *errgroup.Group
}

// NewWorker starts a worker's goroutine and returns it. ioMax is the ring
// depth (spec.md's IO_MAX, typically 4). The goroutine is joined through
// an errgroup.Group rather than a bare channel so Stop can propagate a
// worker panic as an ordinary error instead of crashing the process.
func NewWorker(id, ioMax, blockSize int, reader BlockReader) *Worker {
	if ioMax < 1 {
		ioMax = 1
	}
	w := &Worker{
		id:        id,
		blockSize: blockSize,
		reader:    reader,
		ring:      make([]task, ioMax),
	}
	w.notEmpty = sync.NewCond(&w.mu)
	w.notFull = sync.NewCond(&w.mu)
	w.group = new(errgroup.Group)
	w.group.Go(w.runGuarded)
	return w
}

// runGuarded runs the worker loop and converts a panic into an error so
// it surfaces through group.Wait() at Stop instead of taking the process
// down with it.
func (w *Worker) runGuarded() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("ioscheduler: worker %d panicked: %v", w.id, r)
		}
	}()
	w.run()
	return nil
}

func (w *Worker) ringLen() int { return len(w.ring) }

// Enqueue blocks until a ring slot is free, then marks it READY for pos
// and wakes the worker goroutine. enabled false skips real I/O entirely
// (spec.md's block_is_enabled filter).
func (w *Worker) Enqueue(pos int64, enabled bool) error {
	w.mu.Lock()
	for w.len == w.ringLen() && !w.closed {
		w.notFull.Wait()
	}
	if w.closed {
		w.mu.Unlock()
		return fmt.Errorf("ioscheduler: worker %d is stopped", w.id)
	}
	idx := w.fill % w.ringLen()
	w.ring[idx] = task{state: StateReady, pos: pos, enabled: enabled, buf: make([]byte, w.blockSize)}
	w.fill++
	w.len++
	w.notEmpty.Broadcast()
	w.mu.Unlock()
	return nil
}

// Fetch blocks until the oldest enqueued slot reaches a terminal state,
// then returns its buffer and frees the slot.
func (w *Worker) Fetch() (int64, []byte, TaskState, error) {
	w.mu.Lock()
	for w.len == 0 || !w.ring[w.head%w.ringLen()].state.IsTerminal() {
		w.notEmpty.Wait()
	}
	idx := w.head % w.ringLen()
	t := w.ring[idx]
	w.ring[idx] = task{}
	w.head++
	w.len--
	w.notFull.Broadcast()
	w.mu.Unlock()
	return t.pos, t.buf, t.state, t.err
}

func (w *Worker) run() {
	for {
		w.mu.Lock()
		for (w.proc == w.fill || w.ring[w.proc%w.ringLen()].state != StateReady) && !w.closed {
			w.notEmpty.Wait()
		}
		if w.closed && w.proc == w.fill {
			w.mu.Unlock()
			return
		}
		idx := w.proc % w.ringLen()
		t := w.ring[idx]
		w.mu.Unlock()

		if t.enabled {
			if err := w.reader.ReadBlock(t.pos, t.buf); err != nil {
				t.err = err
				t.state = StateIOError
			} else {
				t.state = StateDone
			}
		} else {
			t.state = StateSkipped
		}

		w.mu.Lock()
		w.ring[idx] = t
		w.proc++
		w.notEmpty.Broadcast()
		w.mu.Unlock()
	}
}

// Stop signals the worker to exit once any in-flight slot finishes and
// joins its goroutine through group.Wait(), returning the first panic
// recovered from the worker as an error. Pending unfetched results are
// discarded.
func (w *Worker) Stop() error {
	w.mu.Lock()
	w.closed = true
	w.notEmpty.Broadcast()
	w.notFull.Broadcast()
	w.mu.Unlock()
	return w.group.Wait()
}
