package fixengine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snapraid-go/snapraid/internal/diskstate"
	"github.com/snapraid-go/snapraid/internal/extent"
	"github.com/snapraid-go/snapraid/internal/parity"
	"github.com/snapraid-go/snapraid/internal/raidcodec"
	"github.com/snapraid-go/snapraid/internal/syncengine"
)

const blockSize = 4

func buildArray(t *testing.T, contents [2]string) (*diskstate.Manifest, map[string]*extent.Map, *parity.Handle, *raidcodec.Codec, []string) {
	t.Helper()
	manifest := &diskstate.Manifest{BlockSize: blockSize}
	extents := map[string]*extent.Map{}
	roots := make([]string, 2)

	for i, content := range contents {
		root := t.TempDir()
		roots[i] = root
		require.NoError(t, os.WriteFile(filepath.Join(root, "f.bin"), []byte(content), 0o644))

		disk := diskstate.NewDisk(string(rune('a'+i)), root)
		f := disk.AddFile(diskstate.File{Sub: "f.bin", Size: int64(len(content)), Blocks: []diskstate.Block{{State: diskstate.BlockCHG}}})
		em := extent.NewMap()
		require.NoError(t, em.Allocate(f.ID, 0, 0))

		manifest.Disks = append(manifest.Disks, disk)
		extents[disk.Name] = em
	}
	manifest.Info = make([]diskstate.Info, 1)

	parityDir := t.TempDir()
	split := &parity.Split{Path: filepath.Join(parityDir, "parity.bin")}
	handle := parity.NewHandle(0, blockSize, []*parity.Split{split}, parity.OpenOSFile)
	require.NoError(t, handle.Create())

	codec, err := raidcodec.New(2, 1)
	require.NoError(t, err)

	return manifest, extents, handle, codec, roots
}

func TestFix_RecoversOneMissingDiskFromParity(t *testing.T) {
	manifest, extents, handle, codec, roots := buildArray(t, [2]string{"AAAA", "BBBB"})

	syncEng := &syncengine.Engine{
		Manifest: manifest, Extents: extents, Codec: codec,
		Parities: []syncengine.ParityWriter{handle}, BlockSize: blockSize, IOMax: 2, IOErrorLimit: 10,
	}
	_, err := syncEng.Sync(context.Background(), 0, 1)
	require.NoError(t, err)

	// Simulate disk a's file having been lost entirely.
	require.NoError(t, os.Remove(filepath.Join(roots[0], "f.bin")))

	fixEng := &Engine{
		Manifest: manifest, Extents: extents, Codec: codec,
		Parities: []ParityWriter{handle}, BlockSize: blockSize, IOMax: 2, IOErrorLimit: 10,
	}
	summary, err := fixEng.Fix(context.Background(), []int64{0})
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Unrecoverable)
	assert.Equal(t, int64(1), summary.ColumnsFixed)

	got, err := os.ReadFile(filepath.Join(roots[0], "f.bin"))
	require.NoError(t, err)
	assert.Equal(t, []byte("AAAA"), got)
}

func TestFix_TooManyFailuresIsUnrecoverable(t *testing.T) {
	manifest, extents, handle, codec, roots := buildArray(t, [2]string{"AAAA", "BBBB"})

	syncEng := &syncengine.Engine{
		Manifest: manifest, Extents: extents, Codec: codec,
		Parities: []syncengine.ParityWriter{handle}, BlockSize: blockSize, IOMax: 2, IOErrorLimit: 10,
	}
	_, err := syncEng.Sync(context.Background(), 0, 1)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(roots[0], "f.bin")))
	require.NoError(t, os.Remove(filepath.Join(roots[1], "f.bin")))

	fixEng := &Engine{
		Manifest: manifest, Extents: extents, Codec: codec,
		Parities: []ParityWriter{handle}, BlockSize: blockSize, IOMax: 2, IOErrorLimit: 10,
	}
	summary, err := fixEng.Fix(context.Background(), []int64{0})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Unrecoverable)
	assert.Equal(t, int64(0), summary.ColumnsFixed)
}

func TestFix_RecoversASilentlyCorruptedButReadableBlock(t *testing.T) {
	manifest, extents, handle, codec, roots := buildArray(t, [2]string{"AAAA", "BBBB"})

	syncEng := &syncengine.Engine{
		Manifest: manifest, Extents: extents, Codec: codec,
		Parities: []syncengine.ParityWriter{handle}, BlockSize: blockSize, IOMax: 2, IOErrorLimit: 10,
	}
	_, err := syncEng.Sync(context.Background(), 0, 1)
	require.NoError(t, err)

	// Corrupt disk a's file in place without touching its stored hash or
	// removing it, the way scrub discovers bit rot: the read succeeds,
	// only the content is wrong.
	require.NoError(t, os.WriteFile(filepath.Join(roots[0], "f.bin"), []byte("XXXX"), 0o644))
	manifest.Info[0].Bad = true

	fixEng := &Engine{
		Manifest: manifest, Extents: extents, Codec: codec,
		Parities: []ParityWriter{handle}, BlockSize: blockSize, IOMax: 2, IOErrorLimit: 10,
	}
	summary, err := fixEng.Fix(context.Background(), []int64{0})
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Unrecoverable)
	assert.Equal(t, int64(1), summary.ColumnsFixed)

	got, err := os.ReadFile(filepath.Join(roots[0], "f.bin"))
	require.NoError(t, err)
	assert.Equal(t, []byte("AAAA"), got)
}
