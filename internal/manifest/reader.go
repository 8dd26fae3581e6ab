package manifest

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
)

// ReadFile reads one manifest copy from path, verifying its CRC32C
// trailer and returning the body bytes (magic + records, trailer
// stripped). A mismatch is a fatal manifest-corruption error per
// spec.md §4.4.
func ReadFile(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: read %q: %w", path, err)
	}
	if len(raw) < 4+len(Magic) {
		return nil, fmt.Errorf("manifest: %q is too short to be a valid content file", path)
	}

	body := raw[:len(raw)-4]
	trailer := raw[len(raw)-4:]
	want := binary.LittleEndian.Uint32(trailer)
	got := crc32.Checksum(body, crc32cTable)
	if got != want {
		return nil, fmt.Errorf("manifest: %q fails CRC check (have %08x, want %08x): content file is corrupt", path, got, want)
	}
	if [16]byte(body[:16]) != Magic {
		return nil, fmt.Errorf("manifest: %q has an unrecognized magic header", path)
	}
	return body, nil
}
