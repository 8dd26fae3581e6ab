package manifest

import (
	"fmt"

	"github.com/snapraid-go/snapraid/internal/diskstate"
	"github.com/snapraid-go/snapraid/internal/extent"
)

// Save writes m and its extent maps to every path in paths as redundant,
// atomically-renamed copies sharing one CRC, per spec.md §4.4's
// "identical copies" requirement.
func Save(paths []string, m *diskstate.Manifest, extents map[string]*extent.Map) error {
	body, err := Encode(m, extents)
	if err != nil {
		return err
	}

	h, err := OpenMultiWrite(paths)
	if err != nil {
		return err
	}
	if _, err := h.Writer.Write(body); err != nil {
		h.Abort()
		return err
	}
	if err := h.Writer.WriteTrailer(); err != nil {
		h.Abort()
		return err
	}
	if err := h.Commit(); err != nil {
		return fmt.Errorf("manifest: commit: %w", err)
	}
	return nil
}

// Load reads and verifies the first readable copy among paths, replaying
// its records into a fresh Manifest and extent map set. Per spec.md
// §4.4's redundant-copy recovery, callers retry with the remaining paths
// on a read/CRC failure rather than failing outright; Load itself only
// tries one path so the caller controls that fallback policy.
func Load(path string) (*Decoded, error) {
	body, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	dec, err := Decode(body)
	if err != nil {
		return nil, fmt.Errorf("manifest: decode %q: %w", path, err)
	}
	dec.Manifest.ContentFiles = []string{path}
	return dec, nil
}

// LoadAny tries each path in order, returning the first one that reads
// and decodes cleanly. This is spec.md §4.4's redundant-copy recovery
// path, exercised when one content file is missing or corrupt.
func LoadAny(paths []string) (*Decoded, error) {
	var lastErr error
	for _, p := range paths {
		dec, err := Load(p)
		if err == nil {
			dec.Manifest.ContentFiles = append([]string(nil), paths...)
			return dec, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("manifest: no readable content file among %d copies: %w", len(paths), lastErr)
}
