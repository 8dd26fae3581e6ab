package syncengine_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snapraid-go/snapraid/internal/diskstate"
	"github.com/snapraid-go/snapraid/internal/extent"
	"github.com/snapraid-go/snapraid/internal/fixengine"
	"github.com/snapraid-go/snapraid/internal/manifest"
	"github.com/snapraid-go/snapraid/internal/parity"
	"github.com/snapraid-go/snapraid/internal/raidcodec"
	"github.com/snapraid-go/snapraid/internal/scan"
	"github.com/snapraid-go/snapraid/internal/scrubengine"
	"github.com/snapraid-go/snapraid/internal/syncengine"
)

// two-disk, one-parity array wiring shared by every scenario below. Each
// scenario owns its own temp roots and parity file so they can't bleed
// into one another.
type arrayFixture struct {
	manifest *diskstate.Manifest
	extents  map[string]*extent.Map
	handle   *parity.Handle
	codec    *raidcodec.Codec
	roots    [2]string
	parPath  string
}

func newArrayFixture(t *testing.T, blockSize int64) *arrayFixture {
	t.Helper()
	var roots [2]string
	m := &diskstate.Manifest{BlockSize: blockSize}
	extents := map[string]*extent.Map{}
	for i := range roots {
		root := t.TempDir()
		roots[i] = root
		name := string(rune('a' + i))
		m.Disks = append(m.Disks, diskstate.NewDisk(name, root))
		extents[name] = extent.NewMap()
	}

	parPath := filepath.Join(t.TempDir(), "parity.bin")
	split := &parity.Split{Path: parPath}
	handle := parity.NewHandle(0, blockSize, []*parity.Split{split}, parity.OpenOSFile)
	require.NoError(t, handle.Create())

	codec, err := raidcodec.New(2, 1)
	require.NoError(t, err)

	return &arrayFixture{manifest: m, extents: extents, handle: handle, codec: codec, roots: roots, parPath: parPath}
}

func (fx *arrayFixture) walker() *scan.Walker {
	return &scan.Walker{Manifest: fx.manifest, Extents: fx.extents, BlockSize: fx.manifest.BlockSize}
}

func (fx *arrayFixture) syncEngine() *syncengine.Engine {
	return &syncengine.Engine{
		Manifest:     fx.manifest,
		Extents:      fx.extents,
		Codec:        fx.codec,
		Parities:     []syncengine.ParityWriter{fx.handle},
		BlockSize:    fx.manifest.BlockSize,
		IOMax:        2,
		IOErrorLimit: 10,
	}
}

func (fx *arrayFixture) blockMax() int64 {
	var max int64 = -1
	for _, em := range fx.extents {
		for _, e := range em.Snapshot() {
			if end := e.ParityPos + e.Count - 1; end > max {
				max = end
			}
		}
	}
	return max + 1
}

// S1: an array with two empty data disk roots syncs cleanly to a zero-
// length parity file and an empty manifest.
func TestScenario_S1_EmptyArraySync(t *testing.T) {
	fx := newArrayFixture(t, 4)

	scanResult, err := fx.walker().Apply()
	require.NoError(t, err)
	assert.Equal(t, 0, scanResult.Added)

	summary, err := fx.syncEngine().Sync(context.Background(), 0, fx.blockMax())
	require.NoError(t, err)
	assert.True(t, summary.AllClean())
	assert.Equal(t, int64(0), summary.ColumnsProcessed)
	assert.Equal(t, int64(0), fx.handle.Size())

	for _, d := range fx.manifest.Disks {
		assert.Empty(t, d.Files())
	}
}

// S2: a single-block file syncs to a parity file holding its data
// XORed with zero, and a subsequent full scrub finds nothing wrong.
func TestScenario_S2_SingleBlockWriteSyncScrub(t *testing.T) {
	const blockSize = 65536
	fx := newArrayFixture(t, blockSize)
	content := []byte("hello\n!!!")
	require.NoError(t, os.WriteFile(filepath.Join(fx.roots[0], "f.bin"), content, 0o644))

	scanResult, err := fx.walker().Apply()
	require.NoError(t, err)
	assert.Equal(t, 1, scanResult.Added)

	summary, err := fx.syncEngine().Sync(context.Background(), 0, fx.blockMax())
	require.NoError(t, err)
	assert.True(t, summary.AllClean())

	f, ok := fx.manifest.Disks[0].FileBySub("f.bin")
	require.True(t, ok)
	assert.Len(t, f.Blocks, 1)
	assert.Equal(t, diskstate.BlockBLK, f.Blocks[0].State)

	assert.Equal(t, int64(blockSize), fx.handle.Size())
	parBuf := make([]byte, blockSize)
	require.NoError(t, fx.handle.ReadBlock(0, parBuf))
	want := make([]byte, blockSize)
	copy(want, content)
	assert.Equal(t, want, parBuf)

	plan := scrubengine.SelectPlan(fx.manifest.Info, 100, 0, time.Now())
	eng := &scrubengine.Engine{
		Manifest: fx.manifest, Extents: fx.extents, Codec: fx.codec,
		Parities: []scrubengine.ParityReader{fx.handle}, BlockSize: blockSize,
		IOMax: 2, IOErrorLimit: 10,
	}
	scrubSummary, err := eng.Scrub(context.Background(), plan)
	require.NoError(t, err)
	assert.True(t, scrubSummary.AllClean())
	assert.False(t, fx.manifest.Info[0].Time.IsZero())
}

// S3: bit rot discovered by scrub is flagged bad and left unchanged
// until fix reconstructs the block from parity.
func TestScenario_S3_SilentCorruptionDetectedAndFixed(t *testing.T) {
	const blockSize = 4
	fx := newArrayFixture(t, blockSize)
	path := filepath.Join(fx.roots[0], "f.bin")
	require.NoError(t, os.WriteFile(path, []byte("ABCD"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(fx.roots[1], "g.bin"), []byte("WXYZ"), 0o644))

	_, err := fx.walker().Apply()
	require.NoError(t, err)
	_, err = fx.syncEngine().Sync(context.Background(), 0, fx.blockMax())
	require.NoError(t, err)

	origHash := fx.manifest.Disks[0].Files()[0].Blocks[0].Hash

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[0] ^= 0xFF
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	plan := scrubengine.SelectPlan(fx.manifest.Info, 100, 0, time.Now())
	eng := &scrubengine.Engine{
		Manifest: fx.manifest, Extents: fx.extents, Codec: fx.codec,
		Parities: []scrubengine.ParityReader{fx.handle}, BlockSize: blockSize,
		IOMax: 2, IOErrorLimit: 10,
	}
	scrubSummary, err := eng.Scrub(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, 1, scrubSummary.SilentDataErrors)
	assert.False(t, scrubSummary.AllClean())

	corrupted := fx.manifest.Disks[0].Files()[0]
	assert.True(t, corrupted.Blocks[0].Bad)
	assert.Equal(t, origHash, corrupted.Blocks[0].Hash)

	var bad []int64
	for pos, inf := range fx.manifest.Info {
		if inf.Bad {
			bad = append(bad, int64(pos))
		}
	}
	require.Len(t, bad, 1)

	fixEng := &fixengine.Engine{
		Manifest: fx.manifest, Extents: fx.extents, Codec: fx.codec,
		Parities: []fixengine.ParityWriter{fx.handle}, BlockSize: blockSize,
		IOMax: 2, IOErrorLimit: 10,
	}
	fixSummary, err := fixEng.Fix(context.Background(), bad)
	require.NoError(t, err)
	assert.True(t, fixSummary.AllClean())

	restored, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("ABCD"), restored)
	assert.False(t, fx.manifest.Disks[0].Files()[0].Blocks[0].Bad)
}

// S4: renaming a file in place (same inode, size, mtime) is a move, not
// a remove+add, and costs no parity I/O.
func TestScenario_S4_FileMovedOnSameDisk(t *testing.T) {
	fx := newArrayFixture(t, 4)
	oldPath := filepath.Join(fx.roots[0], "a.txt")
	require.NoError(t, os.WriteFile(oldPath, []byte("AAAA"), 0o644))

	_, err := fx.walker().Apply()
	require.NoError(t, err)
	_, err = fx.syncEngine().Sync(context.Background(), 0, fx.blockMax())
	require.NoError(t, err)
	sizeAfterFirstSync := fx.handle.Size()

	newPath := filepath.Join(fx.roots[0], "b.txt")
	require.NoError(t, os.Rename(oldPath, newPath))

	result, err := fx.walker().Apply()
	require.NoError(t, err)
	assert.Equal(t, 1, result.Moved)
	assert.Equal(t, 0, result.Equal)
	assert.Equal(t, 0, result.Added)

	assert.Equal(t, sizeAfterFirstSync, fx.handle.Size())
	f, ok := fx.manifest.Disks[0].FileBySub("b.txt")
	require.True(t, ok)
	assert.Equal(t, diskstate.BlockBLK, f.Blocks[0].State)
}

// S5: a bit-identical copy across disks inherits the source's hashes as
// REP, without re-hashing the source disk's data, then syncs to BLK.
func TestScenario_S5_FileCopiedAcrossDisks(t *testing.T) {
	fx := newArrayFixture(t, 4)
	srcPath := filepath.Join(fx.roots[0], "big.bin")
	require.NoError(t, os.WriteFile(srcPath, []byte("DATA"), 0o644))

	_, err := fx.walker().Apply()
	require.NoError(t, err)
	_, err = fx.syncEngine().Sync(context.Background(), 0, fx.blockMax())
	require.NoError(t, err)

	srcFile, ok := fx.manifest.Disks[0].FileBySub("big.bin")
	require.True(t, ok)
	sourceHash := srcFile.Blocks[0].Hash

	fi, err := os.Stat(srcPath)
	require.NoError(t, err)
	dstPath := filepath.Join(fx.roots[1], "big.bin")
	require.NoError(t, os.WriteFile(dstPath, []byte("DATA"), 0o644))
	require.NoError(t, os.Chtimes(dstPath, fi.ModTime(), fi.ModTime()))

	result, err := fx.walker().Apply()
	require.NoError(t, err)
	assert.Equal(t, 1, result.Copied)

	dstFile, ok := fx.manifest.Disks[1].FileBySub("big.bin")
	require.True(t, ok)
	assert.Equal(t, diskstate.BlockREP, dstFile.Blocks[0].State)
	assert.Equal(t, sourceHash, dstFile.Blocks[0].Hash)

	summary, err := fx.syncEngine().Sync(context.Background(), 0, fx.blockMax())
	require.NoError(t, err)
	assert.True(t, summary.AllClean())

	dstFile, _ = fx.manifest.Disks[1].FileBySub("big.bin")
	assert.Equal(t, diskstate.BlockBLK, dstFile.Blocks[0].State)
	srcFile, _ = fx.manifest.Disks[0].FileBySub("big.bin")
	assert.Equal(t, sourceHash, srcFile.Blocks[0].Hash)
}

// S6: a sync interrupted after the content file's last persisted copy
// still reflects only part of the run loses no data: restarting sync
// against the stale, reloaded manifest re-synchronizes every column,
// including the ones already written to parity, and finishes clean.
func TestScenario_S6_CrashMidSyncRecovers(t *testing.T) {
	const blockSize = 4
	fx := newArrayFixture(t, blockSize)

	var contentA, contentB []byte
	for i := 0; i < 5; i++ {
		contentA = append(contentA, []byte{byte('A' + i), byte('A' + i), byte('A' + i), byte('A' + i)}...)
		contentB = append(contentB, []byte{byte('Z' - i), byte('Z' - i), byte('Z' - i), byte('Z' - i)}...)
	}
	require.NoError(t, os.WriteFile(filepath.Join(fx.roots[0], "f.bin"), contentA, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(fx.roots[1], "g.bin"), contentB, 0o644))

	_, err := fx.walker().Apply()
	require.NoError(t, err)
	require.Equal(t, int64(5), fx.blockMax())

	contentPath := filepath.Join(t.TempDir(), "content.bin")
	require.NoError(t, manifest.Save([]string{contentPath}, fx.manifest, fx.extents))

	// Run only the first half of the column range, as if the process
	// died right after these writes landed but before the next
	// autosave persisted the manifest. Each WriteBlock already commits
	// ValidSize as it happens, so the parity split itself carries no
	// lost state across the simulated crash; only the manifest's block
	// states (still CHG everywhere in the reloaded copy below) do.
	_, err = fx.syncEngine().Sync(context.Background(), 0, 3)
	require.NoError(t, err)
	require.NoError(t, fx.handle.Truncate())

	// "Restart": reload the manifest from its last persisted copy,
	// which still shows every block as CHG, against the same parity
	// handle (columns 0-2 already hold real data on disk).
	dec, err := manifest.Load(contentPath)
	require.NoError(t, err)

	eng := &syncengine.Engine{
		Manifest:     dec.Manifest,
		Extents:      dec.Extents,
		Codec:        fx.codec,
		Parities:     []syncengine.ParityWriter{fx.handle},
		BlockSize:    blockSize,
		IOMax:        2,
		IOErrorLimit: 10,
	}
	summary, err := eng.Sync(context.Background(), 0, 5)
	require.NoError(t, err)
	assert.True(t, summary.AllClean())
	assert.Equal(t, int64(5), summary.ColumnsProcessed)

	for _, d := range dec.Manifest.Disks {
		for _, f := range d.Files() {
			for _, b := range f.Blocks {
				assert.Equal(t, diskstate.BlockBLK, b.State)
			}
		}
	}
}
