package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/snapraid-go/snapraid/cfg"
	"github.com/snapraid-go/snapraid/internal/diskstate"
	"github.com/snapraid-go/snapraid/internal/extent"
	"github.com/snapraid-go/snapraid/internal/manifest"
	"github.com/snapraid-go/snapraid/internal/parity"
	"github.com/snapraid-go/snapraid/internal/raidcodec"
	"github.com/snapraid-go/snapraid/internal/snaperr"
)

// arrayHandle bundles what every subcommand needs to drive one of the
// engines: the loaded manifest, its per-disk extent maps, the open
// parity splits and a codec sized to the configured disk and parity
// counts. Built once per invocation by openArray.
type arrayHandle struct {
	Manifest     *diskstate.Manifest
	Extents      map[string]*extent.Map
	Parities     []*parity.Handle
	Codec        *raidcodec.Codec
	contentPaths []string
}

// openArray loads the array's content manifest, or starts a fresh empty
// one when no content file exists yet, and opens every configured
// parity split, per spec.md §6's persisted state layout.
func openArray(c cfg.Config) (*arrayHandle, error) {
	data := c.Array.DataDisks()
	parityEntries := c.Array.ParityDisks()
	if len(data) == 0 {
		return nil, &snaperr.ConfigError{Msg: "array has no data disks configured"}
	}

	paths := make([]string, len(c.Array.ContentFile))
	for i, p := range c.Array.ContentFile {
		paths[i] = string(p)
	}

	var m *diskstate.Manifest
	var extents map[string]*extent.Map

	dec, err := manifest.LoadAny(paths)
	fresh := true
	for _, p := range paths {
		if _, statErr := os.Stat(p); !errors.Is(statErr, fs.ErrNotExist) {
			fresh = false
		}
	}
	switch {
	case err == nil:
		m, extents = dec.Manifest, dec.Extents
	case fresh:
		m = &diskstate.Manifest{BlockSize: c.Array.BlockSize}
		extents = map[string]*extent.Map{}
	default:
		return nil, &snaperr.MissingResourceError{Resource: "content file", Path: paths[0]}
	}
	m.ContentFiles = paths
	if m.BlockSize == 0 {
		m.BlockSize = c.Array.BlockSize
	}

	for _, de := range data {
		if _, ok := m.DiskByName(de.Name); !ok {
			m.Disks = append(m.Disks, diskstate.NewDisk(de.Name, de.Path))
		}
		if _, ok := extents[de.Name]; !ok {
			extents[de.Name] = extent.NewMap()
		}
	}

	handles := make([]*parity.Handle, len(parityEntries))
	for i, pe := range parityEntries {
		split := &parity.Split{Path: pe.Path}
		h := parity.NewHandle(i, m.BlockSize, []*parity.Split{split}, parity.OpenOSFile)
		if openErr := h.Open(); openErr != nil {
			if createErr := h.Create(); createErr != nil {
				return nil, &snaperr.MissingResourceError{Resource: "parity split", Path: pe.Path}
			}
		}
		handles[i] = h
	}

	codec, err := raidcodec.New(len(data), len(parityEntries))
	if err != nil {
		return nil, &snaperr.ConfigError{Msg: fmt.Sprintf("building codec: %v", err)}
	}

	return &arrayHandle{Manifest: m, Extents: extents, Parities: handles, Codec: codec, contentPaths: paths}, nil
}

// persistFunc returns the callback an engine autosaves through: every
// content-file copy is rewritten atomically, sharing one CRC.
func (a *arrayHandle) persistFunc() func(*diskstate.Manifest) error {
	return func(m *diskstate.Manifest) error {
		if len(a.contentPaths) == 0 {
			return nil
		}
		return manifest.Save(a.contentPaths, m, a.Extents)
	}
}

// close releases every open parity split, aggregating any close errors.
func (a *arrayHandle) close() error {
	var agg snaperr.Aggregator
	for _, h := range a.Parities {
		if err := h.Close(); err != nil {
			agg.Add(err)
		}
	}
	return agg.Err()
}

// reallocateAll rebuilds every disk's extent map from scratch, walking
// each disk's files in their current order and reassigning parity
// positions sequentially, per original_source/cmdline/state.h's
// force_realloc. Used to defragment parity after many deletes have left
// the bump allocator's positions sparse.
func (a *arrayHandle) reallocateAll() {
	for _, d := range a.Manifest.Disks {
		em := extent.NewMap()
		var next int64
		for _, f := range d.Files() {
			for i := range f.Blocks {
				em.Allocate(f.ID, int64(i), next)
				next++
			}
		}
		a.Extents[d.Name] = em
	}
}

// blockMax returns one past the highest parity position any disk's
// extent map currently allocates, the upper bound sync/scrub/fix pass
// ranges default to when the caller gives no explicit --start/--count.
func (a *arrayHandle) blockMax() int64 {
	var max int64 = -1
	for _, em := range a.Extents {
		for _, e := range em.Snapshot() {
			if end := e.ParityPos + e.Count - 1; end > max {
				max = end
			}
		}
	}
	if n := int64(len(a.Manifest.Info)) - 1; n > max {
		max = n
	}
	return max + 1
}
