// Package parity implements the parity handle of spec.md §4.3: a parity
// level backed by one or more sequential split files, with block-aligned
// reads/writes and size/chsize/truncate semantics. Grounded on
// original_source/cmdline/parity.h's snapraid_parity_handle/split_handle.
package parity

import (
	"fmt"
	"io"
	"os"
)

// SplitFile is the I/O surface a Handle needs from one split; *os.File
// satisfies it directly, and tests substitute an in-memory fake.
type SplitFile interface {
	io.ReaderAt
	io.WriterAt
	Truncate(size int64) error
	Close() error
}

// Split is one sequential file backing a parity level's logical stream.
type Split struct {
	Path      string
	Size      int64 // current allocation ceiling; only the last split may grow
	ValidSize int64 // bytes ever safely committed
	LimitSize int64 // 0 means unlimited, used for testing

	file SplitFile
}

// Handle is a parity level's logical byte stream, split across Splits.
type Handle struct {
	Level     int
	BlockSize int64
	Splits    []*Split

	// SkipContentCheck relaxes Open's size-matches-recorded-size check,
	// mirroring the "skip content check" option in spec.md §4.3.
	SkipContentCheck bool

	opener func(path string, create bool) (SplitFile, int64, error)
}

// NewHandle constructs a parity handle for the given splits. opener is
// injected so tests can avoid real files; production callers pass
// OpenOSFile.
func NewHandle(level int, blockSize int64, splits []*Split, opener func(path string, create bool) (SplitFile, int64, error)) *Handle {
	return &Handle{Level: level, BlockSize: blockSize, Splits: splits, opener: opener}
}

// OpenOSFile opens path with os.OpenFile, creating it (and returning size
// 0) when create is true.
func OpenOSFile(path string, create bool) (SplitFile, int64, error) {
	flags := os.O_RDWR
	if create {
		flags |= os.O_CREATE
	}
	f, err := os.OpenFile(path, flags, 0o600)
	if err != nil {
		return nil, 0, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, fi.Size(), nil
}

// Open opens every split, verifying that the on-disk size matches the
// recorded Size unless SkipContentCheck is set.
func (h *Handle) Open() error {
	for _, s := range h.Splits {
		f, diskSize, err := h.opener(s.Path, false)
		if err != nil {
			return fmt.Errorf("parity: open split %q: %w", s.Path, err)
		}
		if !h.SkipContentCheck && diskSize != s.Size {
			f.Close()
			return fmt.Errorf("parity: split %q size %d does not match recorded size %d", s.Path, diskSize, s.Size)
		}
		s.file = f
	}
	return nil
}

// Create opens (creating as needed) every split for a fresh parity level.
func (h *Handle) Create() error {
	for _, s := range h.Splits {
		f, _, err := h.opener(s.Path, true)
		if err != nil {
			return fmt.Errorf("parity: create split %q: %w", s.Path, err)
		}
		s.file = f
	}
	return nil
}

// Close closes every open split.
func (h *Handle) Close() error {
	var first error
	for _, s := range h.Splits {
		if s.file == nil {
			continue
		}
		if err := s.file.Close(); err != nil && first == nil {
			first = err
		}
		s.file = nil
	}
	return first
}

// logicalSize is the sum of all split sizes: the logical length of the
// parity stream.
func (h *Handle) logicalSize() int64 {
	var total int64
	for _, s := range h.Splits {
		total += s.Size
	}
	return total
}

// locate maps a logical offset to (split index, offset within split).
// Per spec.md §6: "reading position P directs to the first split with
// accumulated size > P".
func (h *Handle) locate(offset int64) (int, int64, error) {
	var base int64
	for i, s := range h.Splits {
		if offset < base+s.Size {
			return i, offset - base, nil
		}
		base += s.Size
	}
	return 0, 0, fmt.Errorf("parity: offset %d beyond logical size %d", offset, base)
}

// ReadBlock reads block_size bytes at the given block-aligned logical
// offset. A position at or past the split's valid_size has never been
// written by a completed sync (the scheduler's read-ahead routinely asks
// for parity blocks a column before they are generated); it reads as
// all-zero rather than failing, the same treatment a data disk gives a
// hole. A position entirely beyond the split still fails: that is a
// locate error, not an unwritten-parity one.
func (h *Handle) ReadBlock(blockPos int64, buf []byte) error {
	offset := blockPos * h.BlockSize
	idx, localOff, err := h.locate(offset)
	if err != nil {
		return err
	}
	s := h.Splits[idx]
	if localOff >= s.ValidSize {
		for i := range buf {
			buf[i] = 0
		}
		return nil
	}
	n, err := s.file.ReadAt(buf, localOff)
	if err != nil && err != io.EOF {
		return fmt.Errorf("parity: read split %q: %w", s.Path, err)
	}
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}
	return nil
}

// WriteBlock writes block_size bytes at the given block-aligned logical
// offset, extending the final split's Size if the write lands past its
// current ceiling.
func (h *Handle) WriteBlock(blockPos int64, buf []byte) error {
	offset := blockPos * h.BlockSize
	idx, localOff, err := h.locate(offset)
	if err != nil {
		// allow writing exactly at the current logical end, extending
		// the last split.
		if offset != h.logicalSize() || len(h.Splits) == 0 {
			return err
		}
		idx = len(h.Splits) - 1
		localOff = offset - (h.logicalSize() - h.Splits[idx].Size)
	}
	s := h.Splits[idx]
	need := localOff + int64(len(buf))
	if need > s.Size {
		if idx != len(h.Splits)-1 {
			return fmt.Errorf("parity: split %q is not the last split and cannot grow", s.Path)
		}
		if s.LimitSize > 0 && need > s.LimitSize {
			return fmt.Errorf("parity: split %q write would exceed test limit %d", s.Path, s.LimitSize)
		}
		s.Size = need
	}
	if _, err := s.file.WriteAt(buf, localOff); err != nil {
		return fmt.Errorf("parity: write split %q: %w", s.Path, err)
	}
	if need > s.ValidSize {
		s.ValidSize = need
	}
	return nil
}

// Chsize grows or shrinks the logical parity size. Shrinking truncates
// splits from the tail and lowers ValidSize to match.
func (h *Handle) Chsize(size int64) error {
	cur := h.logicalSize()
	if size == cur {
		return nil
	}
	if size > cur {
		if len(h.Splits) == 0 {
			return fmt.Errorf("parity: cannot grow an empty split set")
		}
		last := h.Splits[len(h.Splits)-1]
		last.Size += size - cur
		return nil
	}

	remaining := size
	for i, s := range h.Splits {
		if remaining >= s.Size {
			remaining -= s.Size
			continue
		}
		s.Size = remaining
		if s.ValidSize > remaining {
			s.ValidSize = remaining
			if err := s.file.Truncate(remaining); err != nil {
				return fmt.Errorf("parity: truncate split %q: %w", s.Path, err)
			}
		}
		for _, tail := range h.Splits[i+1:] {
			tail.Size = 0
			tail.ValidSize = 0
			if tail.file != nil {
				if err := tail.file.Truncate(0); err != nil {
					return fmt.Errorf("parity: truncate split %q: %w", tail.Path, err)
				}
			}
		}
		remaining = 0
		return nil
	}
	return nil
}

// Truncate clamps every split to its ValidSize, used after an interrupted
// sync leaves Size ahead of what was actually written (spec.md §4.3,
// scenario S6).
func (h *Handle) Truncate() error {
	for _, s := range h.Splits {
		s.Size = s.ValidSize
		if s.file != nil {
			if err := s.file.Truncate(s.ValidSize); err != nil {
				return fmt.Errorf("parity: truncate split %q: %w", s.Path, err)
			}
		}
	}
	return nil
}

// Size returns the cached/expected logical size, matching
// original_source's parity_size (the recorded split sizes, not a real
// stat of the underlying files).
func (h *Handle) Size() int64 {
	return h.logicalSize()
}
