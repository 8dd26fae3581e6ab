package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildStreamPayload assembles the same mix of values
// original_source/cmdline/mkstream.c round-trips through its stream
// layer: a full byte range, a run of shrinking 32 and 64-bit varints,
// buffers of every length up to 64, and strings of every length up to
// 128, each built from a repeating fill byte so a truncated decode is
// easy to spot.
func buildStreamPayload() []byte {
	var buf []byte
	for j := 0; j < 256; j++ {
		buf = append(buf, byte(j))
	}

	const u32 uint64 = 0xFFFFFFFF
	for j := 0; j < 32; j++ {
		buf = appendUvarint(buf, (u32>>uint(j))&0xFFFFFFFF)
	}

	const u64 uint64 = 0xFFFFFFFFFFFFFFFF
	for j := 0; j < 64; j++ {
		buf = appendUvarint(buf, u64>>uint(j))
	}

	for j := 0; j < 64; j++ {
		chunk := make([]byte, j)
		for k := range chunk {
			chunk[k] = byte(j)
		}
		buf = append(buf, chunk...)
	}

	for j := 1; j < 128; j++ {
		s := make([]byte, j-1)
		for k := range s {
			s[k] = byte(' ' + j)
		}
		buf = appendString(buf, string(s))
	}

	return buf
}

// TestMultiWriter_RoundTripsIdenticallyRegardlessOfWriteChunking mirrors
// mkstream.c's outer loop over stream buffer sizes: the same payload
// written to N tee'd copies in progressively larger Write() calls must
// produce byte-identical files with a verifiable CRC trailer, since the
// chunking of Write calls is not part of the on-disk format.
func TestMultiWriter_RoundTripsIdenticallyRegardlessOfWriteChunking(t *testing.T) {
	payload := buildStreamPayload()
	const streamCount = 8

	var firstCopyBody []byte
	for chunkSize := 1; chunkSize <= 16; chunkSize++ {
		dir := t.TempDir()
		paths := make([]string, streamCount)
		for i := range paths {
			paths[i] = filepath.Join(dir, "stream"+string(rune('0'+i))+".bin")
		}

		h, err := OpenMultiWrite(paths)
		require.NoError(t, err)

		for off := 0; off < len(payload); off += chunkSize {
			end := off + chunkSize
			if end > len(payload) {
				end = len(payload)
			}
			_, err := h.Writer.Write(payload[off:end])
			require.NoError(t, err)
		}
		require.NoError(t, h.Writer.WriteTrailer())
		require.NoError(t, h.Commit())

		for _, p := range paths {
			body, err := os.ReadFile(p)
			require.NoError(t, err)
			// ReadFile (the production reader) requires a 16-byte magic
			// header this synthetic payload doesn't carry; verify the
			// CRC trailer and round-trip the payload bytes directly
			// instead of reusing it here.
			trailer := body[len(body)-4:]
			got := body[:len(body)-4]
			assert.Equal(t, payload, got)
			wantCRC := h.Writer.CRC()
			haveCRC := uint32(trailer[0]) | uint32(trailer[1])<<8 | uint32(trailer[2])<<16 | uint32(trailer[3])<<24
			assert.Equal(t, wantCRC, haveCRC)

			if firstCopyBody == nil {
				firstCopyBody = append([]byte(nil), body...)
			} else {
				assert.Equal(t, firstCopyBody, body, "every tee'd copy must be byte-identical")
			}
		}

		decoded := decodeStreamPayload(t, firstCopyBody[:len(firstCopyBody)-4])
		assert.Equal(t, payload, decoded)
		firstCopyBody = nil
	}
}

// decodeStreamPayload re-derives the same varint/string boundaries
// buildStreamPayload produced, proving the encoding round-trips through
// uvarint/readString and not just through a raw byte comparison.
func decodeStreamPayload(t *testing.T, body []byte) []byte {
	t.Helper()
	pos := 0
	pos += 256 // raw byte range

	for j := 0; j < 32; j++ {
		_, n, err := uvarint(body[pos:])
		require.NoError(t, err)
		pos += n
	}
	for j := 0; j < 64; j++ {
		_, n, err := uvarint(body[pos:])
		require.NoError(t, err)
		pos += n
	}
	for j := 0; j < 64; j++ {
		pos += j
	}
	for j := 1; j < 128; j++ {
		_, n, err := readString(body[pos:])
		require.NoError(t, err)
		pos += n
	}
	require.Equal(t, len(body), pos)
	return body
}
