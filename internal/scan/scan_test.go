package scan

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snapraid-go/snapraid/internal/diskstate"
	"github.com/snapraid-go/snapraid/internal/extent"
)

func newWalker(t *testing.T, roots ...string) *Walker {
	t.Helper()
	manifest := &diskstate.Manifest{BlockSize: 4}
	extents := map[string]*extent.Map{}
	for i, root := range roots {
		disk := diskstate.NewDisk(string(rune('a'+i)), root)
		manifest.Disks = append(manifest.Disks, disk)
		extents[disk.Name] = extent.NewMap()
	}
	return &Walker{Manifest: manifest, Extents: extents, BlockSize: 4}
}

func TestScan_NewFileInsertsCHGBlocks(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("AAAAAAAA"), 0o644))

	w := newWalker(t, root)
	result, err := w.Apply()
	require.NoError(t, err)
	assert.Equal(t, 1, result.Added)

	f, ok := w.Manifest.Disks[0].FileBySub("a.txt")
	require.True(t, ok)
	assert.Len(t, f.Blocks, 2)
	for _, b := range f.Blocks {
		assert.Equal(t, diskstate.BlockCHG, b.State)
	}
	assert.Equal(t, 2, w.Extents["a"].Len())
}

func TestScan_UnchangedFileCountsAsEqual(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("AAAA"), 0o644))

	w := newWalker(t, root)
	_, err := w.Apply()
	require.NoError(t, err)

	result, err := w.Apply()
	require.NoError(t, err)
	assert.Equal(t, 1, result.Equal)
	assert.Equal(t, 0, result.Changed)
}

func TestScan_RemovedFileBecomesTombstone(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("AAAA"), 0o644))

	w := newWalker(t, root)
	_, err := w.Apply()
	require.NoError(t, err)

	require.NoError(t, os.Remove(path))
	result, err := w.Apply()
	require.NoError(t, err)
	assert.Equal(t, 1, result.Removed)

	_, ok := w.Manifest.Disks[0].FileBySub("a.txt")
	assert.False(t, ok)
	assert.Len(t, w.Manifest.Disks[0].Tombstones(), 1)
}

func TestScan_CopyAcrossDisksInheritsHash(t *testing.T) {
	rootA := t.TempDir()
	rootB := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(rootA, "a.txt"), []byte("AAAA"), 0o644))

	w := newWalker(t, rootA, rootB)
	_, err := w.Apply()
	require.NoError(t, err)

	source, ok := w.Manifest.Disks[0].FileBySub("a.txt")
	require.True(t, ok)
	source.Blocks[0].State = diskstate.BlockBLK
	source.Blocks[0].Hash = [diskstate.HashSize]byte{1, 2, 3}

	info, err := os.Stat(filepath.Join(rootA, "a.txt"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(rootB, "a.txt"), []byte("AAAA"), 0o644))
	require.NoError(t, os.Chtimes(filepath.Join(rootB, "a.txt"), info.ModTime(), info.ModTime()))

	result, err := w.Apply()
	require.NoError(t, err)
	assert.Equal(t, 1, result.Copied)

	copied, ok := w.Manifest.Disks[1].FileBySub("a.txt")
	require.True(t, ok)
	assert.Equal(t, diskstate.BlockREP, copied.Blocks[0].State)
	assert.Equal(t, source.Blocks[0].Hash, copied.Blocks[0].Hash)
}

func TestScan_FileShrunkToZeroAbortsByDefault(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("AAAA"), 0o644))

	w := newWalker(t, root)
	_, err := w.Apply()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, nil, 0o644))
	_, err = w.Apply()
	assert.Error(t, err)
}

func TestScan_ForceZeroAllowsFileShrunkToZero(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("AAAA"), 0o644))
	// A second, untouched file keeps the disk from also tripping the
	// separate "all files removed/changed" guard this test isn't about.
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.txt"), []byte("BBBB"), 0o644))

	w := newWalker(t, root)
	_, err := w.Apply()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, nil, 0o644))
	w.ForceZero = true
	result, err := w.Apply()
	require.NoError(t, err)
	assert.Equal(t, 1, result.Changed)
	assert.Equal(t, 1, result.Equal)
}

func TestScan_DiskEmptiedOfAllFilesAbortsByDefault(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("AAAA"), 0o644))

	w := newWalker(t, root)
	_, err := w.Apply()
	require.NoError(t, err)

	require.NoError(t, os.Remove(path))
	_, err = w.Apply()
	assert.Error(t, err)
}

func TestScan_ForceEmptyAllowsDiskEmptiedOfAllFiles(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("AAAA"), 0o644))

	w := newWalker(t, root)
	_, err := w.Apply()
	require.NoError(t, err)

	require.NoError(t, os.Remove(path))
	w.ForceEmpty = true
	result, err := w.Apply()
	require.NoError(t, err)
	assert.Equal(t, 1, result.Removed)
}

func TestScan_ForceNoCopyDisablesCrossDiskCopyDetection(t *testing.T) {
	rootA := t.TempDir()
	rootB := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(rootA, "a.txt"), []byte("AAAA"), 0o644))

	w := newWalker(t, rootA, rootB)
	w.ForceNoCopy = true
	_, err := w.Apply()
	require.NoError(t, err)

	source, ok := w.Manifest.Disks[0].FileBySub("a.txt")
	require.True(t, ok)
	source.Blocks[0].State = diskstate.BlockBLK
	source.Blocks[0].Hash = [diskstate.HashSize]byte{1, 2, 3}

	info, err := os.Stat(filepath.Join(rootA, "a.txt"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(rootB, "a.txt"), []byte("AAAA"), 0o644))
	require.NoError(t, os.Chtimes(filepath.Join(rootB, "a.txt"), info.ModTime(), info.ModTime()))

	result, err := w.Apply()
	require.NoError(t, err)
	assert.Equal(t, 0, result.Copied)
	assert.Equal(t, 1, result.Added)
}

func TestScan_DiffDoesNotMutateManifest(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("AAAA"), 0o644))

	w := newWalker(t, root)
	result, err := w.Diff()
	require.NoError(t, err)
	assert.Equal(t, 1, result.Added)

	_, ok := w.Manifest.Disks[0].FileBySub("a.txt")
	assert.False(t, ok)
	assert.Equal(t, 0, w.Extents["a"].Len())
}
