package manifest

// Magic is the 16-byte header every manifest stream begins with, per
// spec.md §6. It must never change without a version bump.
var Magic = [16]byte{'S', 'N', 'A', 'P', 'C', 'N', 'T', '1', '\n', 3, 0, 0, 0, 0, 0, 0}

// Tag identifies one record kind in the tag-length-value stream.
type Tag [4]byte

// Tags from spec.md §6. Unknown tags encountered while reading are fatal
// manifest-corruption errors.
var (
	TagBlockSize = Tag{'b', 'l', 'k', ' '}
	TagHash      = Tag{'h', 'a', 's', 'h'}
	TagPrevHash  = Tag{'p', 'r', 'e', 'v'}
	TagDisk      = Tag{'d', 'i', 's', 'k'}
	TagFile      = Tag{'f', 'i', 'l', 'e'}
	TagDeleted   = Tag{'f', 'i', 'l', 'd'}
	TagExtent    = Tag{'b', 'l', 'k', 'k'}
	TagHole      = Tag{'h', 'o', 'l', 'e'}
	TagLink      = Tag{'l', 'i', 'n', 'k'}
	TagDir       = Tag{'d', 'i', 'r', ' '}
	TagSymlink   = Tag{'s', 'y', 'm', 'b'}
	TagHardlink  = Tag{'h', 'a', 'r', 'd'}
	TagInfo      = Tag{'i', 'n', 'f', ' '}
	TagParity    = Tag{'p', 'a', 'r', ' '}
	TagEnd       = Tag{'e', 'n', 'd', ' '}
)

var knownTags = map[Tag]bool{
	TagBlockSize: true, TagHash: true, TagPrevHash: true, TagDisk: true,
	TagFile: true, TagDeleted: true, TagExtent: true, TagHole: true,
	TagLink: true, TagDir: true, TagSymlink: true, TagHardlink: true,
	TagInfo: true, TagParity: true, TagEnd: true,
}

// IsKnown reports whether tag is one this reader understands. Per
// spec.md §4.4, any other tag is a fatal manifest-corruption error.
func IsKnown(tag Tag) bool { return knownTags[tag] }
