package diskstate

import (
	"sync"

	"github.com/google/uuid"
)

// Disk is a named data disk: a mount directory, a persistent UUID, and
// the collection of files/tombstones/links/directories it owns. The
// extent map living over this disk is owned separately by
// internal/extent.Map, keyed by Disk.Name, to avoid an import cycle
// between diskstate and extent.
type Disk struct {
	Name      string
	MountDir  string
	UUID      uuid.UUID
	Device    string // optional device identifier, opaque to the core
	SkipCheck bool   // true when UUID/device checks are force-skipped

	mu         sync.Mutex
	files      map[FileID]*File
	nextFileID FileID
	tombstones []Tombstone
	links      []Link
	dirs       []Dir
}

// NewDisk constructs a Disk with a freshly allocated UUID. Callers that
// are loading an existing manifest should set UUID afterward.
func NewDisk(name, mountDir string) *Disk {
	return &Disk{
		Name:     name,
		MountDir: mountDir,
		UUID:     uuid.New(),
		files:    make(map[FileID]*File),
	}
}

// AddFile inserts a new File, assigning it a fresh FileID. Used by scan
// insertion (spec.md §4.9).
func (d *Disk) AddFile(f File) *File {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextFileID++
	f.ID = d.nextFileID
	stored := f
	d.files[f.ID] = &stored
	return d.files[f.ID]
}

// File looks up a file by ID.
func (d *Disk) File(id FileID) (*File, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, ok := d.files[id]
	return f, ok
}

// FileBySub looks up a file by its relative path.
func (d *Disk) FileBySub(sub string) (*File, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, f := range d.files {
		if f.Sub == sub {
			return f, true
		}
	}
	return nil, false
}

// Files returns a snapshot slice of all currently live files.
func (d *Disk) Files() []*File {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*File, 0, len(d.files))
	for _, f := range d.files {
		out = append(out, f)
	}
	return out
}

// RemoveFile removes a file, returning tombstone blocks for the blocks
// that still need parity coverage, per spec.md §4.1 BLK -> DELETED.
func (d *Disk) RemoveFile(id FileID) (Tombstone, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, ok := d.files[id]
	if !ok {
		return Tombstone{}, false
	}
	ts := Tombstone{Sub: f.Sub, Size: f.Size, Mtime: f.Mtime, Blocks: append([]Block(nil), f.Blocks...)}
	for i := range ts.Blocks {
		if ts.Blocks[i].State == BlockBLK {
			ts.Blocks[i].State = BlockDELETED
		}
	}
	delete(d.files, id)
	d.tombstones = append(d.tombstones, ts)
	return ts, true
}

// RenameFile updates a file's path in place, used for scan's "move"
// detection (spec.md §4.9): inode+size+mtime match, only Sub changes.
func (d *Disk) RenameFile(id FileID, newSub string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, ok := d.files[id]
	if !ok {
		return false
	}
	f.Sub = newSub
	return true
}

// Tombstones returns the disk's deleted-file tombstones.
func (d *Disk) Tombstones() []Tombstone {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Tombstone(nil), d.tombstones...)
}

// EraseTombstone drops a tombstone once its last block has returned to
// EMPTY (spec.md §4.1 DELETED -> EMPTY).
func (d *Disk) EraseTombstone(sub string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, ts := range d.tombstones {
		if ts.Sub == sub {
			d.tombstones = append(d.tombstones[:i], d.tombstones[i+1:]...)
			return
		}
	}
}

func (d *Disk) AddLink(l Link) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.links = append(d.links, l)
}

func (d *Disk) Links() []Link {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Link(nil), d.links...)
}

func (d *Disk) AddDir(dir Dir) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dirs = append(d.dirs, dir)
}

func (d *Disk) Dirs() []Dir {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Dir(nil), d.dirs...)
}
