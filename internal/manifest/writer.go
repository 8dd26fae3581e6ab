package manifest

import (
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"github.com/gofrs/flock"
)

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// MultiWriter tees every byte written to N underlying writers while
// accumulating a running CRC32C, matching spec.md §4.4's
// sopen_multi_write(N): "every byte written is tee'd to all N and
// included in a running CRC32C". The CRC is computed twice independently
// — once over the caller's bytes before the tee'd write, once again over
// the copy buffer after it has actually gone out through every
// underlying Write — and compared, so corruption of the buffer spanning
// the real I/O call is caught before it folds into the running CRC.
type MultiWriter struct {
	writers []io.Writer
	crc     uint32
}

// NewMultiWriter wraps writers for teed, CRC-tracked output.
func NewMultiWriter(writers []io.Writer) *MultiWriter {
	return &MultiWriter{writers: writers}
}

// Write tees p to every underlying writer and folds it into the running
// CRC32C.
func (w *MultiWriter) Write(p []byte) (int, error) {
	crcFirstPass := crc32.Update(w.crc, crc32cTable, p)

	outgoing := make([]byte, len(p))
	copy(outgoing, p)

	for _, dst := range w.writers {
		if _, err := dst.Write(outgoing); err != nil {
			return 0, fmt.Errorf("manifest: tee write: %w", err)
		}
	}

	// Recomputed after the bytes have actually gone out, so a buffer
	// corrupted anywhere across that real write() boundary changes this
	// result instead of just re-deriving the first pass.
	crcSecondPass := crc32.Update(w.crc, crc32cTable, outgoing)
	if crcFirstPass != crcSecondPass {
		return 0, fmt.Errorf("manifest: CRC mismatch between generation and flush, possible memory corruption")
	}
	w.crc = crcFirstPass

	return len(p), nil
}

// CRC returns the running CRC32C of everything written so far.
func (w *MultiWriter) CRC() uint32 { return w.crc }

// WriteTrailer writes the 4-byte little-endian CRC trailer to every
// underlying writer without folding it into the running CRC — the
// trailer covers everything that came before it, not itself.
func (w *MultiWriter) WriteTrailer() error {
	trailer := []byte{byte(w.crc), byte(w.crc >> 8), byte(w.crc >> 16), byte(w.crc >> 24)}
	for _, dst := range w.writers {
		if _, err := dst.Write(trailer); err != nil {
			return fmt.Errorf("manifest: write trailer: %w", err)
		}
	}
	return nil
}

// openFile wraps one open output file behind Write and Close.
type openFile struct {
	f *os.File
}

func (o *openFile) Write(p []byte) (int, error) { return o.f.Write(p) }
func (o *openFile) Close() error                { return o.f.Close() }

// MultiWriteHandle holds N open output files plus their shared lock,
// closing/unlocking them together on Commit or Abort.
type MultiWriteHandle struct {
	Writer *MultiWriter
	files  []*openFile
	tmps   []string
	finals []string
	lock   *flock.Flock
}

// OpenMultiWrite opens tmp-suffixed files for each of the given final
// paths, holding an exclusive flock on a sibling ".lock" file for the
// first path for the duration of the write — spec.md §6's "a .lock file
// (POSIX exclusive file lock) and a .tmp file used during atomic
// rewrite (write to .tmp, fsync, rename)".
func OpenMultiWrite(finalPaths []string) (*MultiWriteHandle, error) {
	if len(finalPaths) == 0 {
		return nil, fmt.Errorf("manifest: OpenMultiWrite requires at least one path")
	}

	lockPath := finalPaths[0] + ".lock"
	fl := flock.New(lockPath)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("manifest: acquire lock %q: %w", lockPath, err)
	}
	if !locked {
		return nil, fmt.Errorf("manifest: content file %q is locked by another process", finalPaths[0])
	}

	h := &MultiWriteHandle{lock: fl}
	writers := make([]io.Writer, 0, len(finalPaths))
	for _, p := range finalPaths {
		tmp := p + ".tmp"
		f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
		if err != nil {
			h.abortLocked()
			return nil, fmt.Errorf("manifest: create %q: %w", tmp, err)
		}
		of := &openFile{f: f}
		h.files = append(h.files, of)
		h.tmps = append(h.tmps, tmp)
		h.finals = append(h.finals, p)
		writers = append(writers, of)
	}
	h.Writer = NewMultiWriter(writers)
	return h, nil
}

// Commit fsyncs and renames every .tmp file onto its final path, then
// releases the lock. The lock is intentionally held across the rename so
// no reader can observe a half-renamed set of copies.
func (h *MultiWriteHandle) Commit() error {
	for i, of := range h.files {
		if err := of.f.Sync(); err != nil {
			return fmt.Errorf("manifest: fsync %q: %w", h.tmps[i], err)
		}
		if err := of.Close(); err != nil {
			return fmt.Errorf("manifest: close %q: %w", h.tmps[i], err)
		}
	}
	for i := range h.tmps {
		if err := os.Rename(h.tmps[i], h.finals[i]); err != nil {
			return fmt.Errorf("manifest: rename %q -> %q: %w", h.tmps[i], h.finals[i], err)
		}
	}
	return h.lock.Unlock()
}

// Abort discards the .tmp files and releases the lock without touching
// the final paths.
func (h *MultiWriteHandle) Abort() error {
	for i, of := range h.files {
		of.Close()
		os.Remove(h.tmps[i])
	}
	return h.lock.Unlock()
}

func (h *MultiWriteHandle) abortLocked() {
	for i, of := range h.files {
		of.Close()
		os.Remove(h.tmps[i])
	}
	h.lock.Unlock()
}
