package diskstate

import "time"

// MaxParityLevel is LEV_MAX from the reference implementation's state.h:
// the highest supported parity level.
const MaxParityLevel = 6

// Info is the per-parity-position metadata vector entry (spec.md §3).
type Info struct {
	Time   time.Time
	Rehash bool
	Bad    bool
}

// Split is one sequential file backing a parity level's logical stream
// (spec.md §4.3).
type Split struct {
	Path      string
	Size      int64 // current allocation ceiling; only the last split may grow
	ValidSize int64 // bytes ever safely committed
	LimitSize int64 // 0 means unlimited; used for testing
}

// ParityDescriptor is one parity level (0..5) and its splits.
type ParityDescriptor struct {
	Level  int
	Splits []Split
}

// Manifest is the totality of persisted array state: disks, parity
// descriptors, the info vector, and format identity (spec.md §3).
type Manifest struct {
	BlockSize   int64
	HashAlgo    uint8
	HashSeed    [16]byte
	PrevHashAlgo uint8 // valid only while any Info.Rehash is set

	Disks    []*Disk
	Parities []ParityDescriptor
	Info     []Info // indexed by parity position

	// ContentFiles lists the manifest copy paths this state was loaded
	// from / will be saved to (spec.md §4.4's "one or more identical
	// copies").
	ContentFiles []string
}

// EnsureInfoLen grows the info vector so position pos is addressable,
// filling new entries with the zero Info (EMPTY-equivalent).
func (m *Manifest) EnsureInfoLen(pos int64) {
	if int64(len(m.Info)) > pos {
		return
	}
	grown := make([]Info, pos+1)
	copy(grown, m.Info)
	m.Info = grown
}

// DiskByName looks up a disk by its configured name.
func (m *Manifest) DiskByName(name string) (*Disk, bool) {
	for _, d := range m.Disks {
		if d.Name == name {
			return d, true
		}
	}
	return nil, false
}
