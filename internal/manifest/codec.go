// codec.go encodes and decodes the tag-length-value record stream of
// spec.md §4.4/§6 against internal/diskstate's in-memory types. Each
// record's payload is self-delimiting via its own varint/string fields,
// per spec.md §6: "payload: record-specific, always ending implicitly at
// next tag" — there is no generic outer length prefix.
package manifest

import (
	"fmt"
	"sort"
	"time"

	"github.com/snapraid-go/snapraid/internal/diskstate"
	"github.com/snapraid-go/snapraid/internal/extent"
)

// Encode serializes m (plus each disk's extent map, passed in extents,
// keyed by disk name) into the full record stream including the magic
// header, but excluding the trailing CRC (callers append that via
// MultiWriter.WriteTrailer).
func Encode(m *diskstate.Manifest, extents map[string]*extent.Map) ([]byte, error) {
	buf := append([]byte(nil), Magic[:]...)

	buf = appendRecord(buf, TagBlockSize, appendUvarint(nil, uint64(m.BlockSize)))

	hashPayload := append([]byte{m.HashAlgo}, m.HashSeed[:]...)
	buf = appendRecord(buf, TagHash, hashPayload)

	anyRehash := false
	for _, info := range m.Info {
		if info.Rehash {
			anyRehash = true
			break
		}
	}
	if anyRehash {
		buf = appendRecord(buf, TagPrevHash, []byte{m.PrevHashAlgo})
	}

	for di, d := range m.Disks {
		diskPayload := appendUvarint(nil, uint64(di))
		diskPayload = appendString(diskPayload, d.Name)
		diskPayload = appendString(diskPayload, d.MountDir)
		diskPayload = append(diskPayload, d.UUID[:]...)
		diskPayload = appendString(diskPayload, d.Device)
		buf = appendRecord(buf, TagDisk, diskPayload)

		files := d.Files()
		sort.Slice(files, func(i, j int) bool { return files[i].ID < files[j].ID })
		for _, f := range files {
			buf = appendRecord(buf, TagFile, encodeFileLike(uint64(di), uint64(f.ID), f.Sub, f.Size, f.Mtime, f.Inode, f.PhysicalOffset, f.Blocks))
		}

		for _, ts := range d.Tombstones() {
			buf = appendRecord(buf, TagDeleted, encodeFileLike(uint64(di), 0, ts.Sub, ts.Size, ts.Mtime, 0, 0, ts.Blocks))
		}

		for _, l := range d.Links() {
			linkPayload := appendUvarint(nil, uint64(di))
			linkPayload = appendString(linkPayload, l.Sub)
			linkPayload = appendString(linkPayload, l.Target)
			if l.Hard {
				linkPayload = append(linkPayload, 1)
			} else {
				linkPayload = append(linkPayload, 0)
			}
			buf = appendRecord(buf, TagLink, linkPayload)
		}

		for _, dir := range d.Dirs() {
			dirPayload := appendUvarint(nil, uint64(di))
			dirPayload = appendString(dirPayload, dir.Sub)
			buf = appendRecord(buf, TagDir, dirPayload)
		}

		if em, ok := extents[d.Name]; ok {
			for _, e := range collectExtents(em) {
				extPayload := appendUvarint(nil, uint64(di))
				extPayload = appendUvarint(extPayload, uint64(e.File))
				extPayload = appendUvarint(extPayload, uint64(e.FilePos))
				extPayload = appendUvarint(extPayload, uint64(e.ParityPos))
				extPayload = appendUvarint(extPayload, uint64(e.Count))
				buf = appendRecord(buf, TagExtent, extPayload)
			}
		}
	}

	for pos, info := range m.Info {
		infoPayload := appendUvarint(nil, uint64(pos))
		infoPayload = appendUvarint(infoPayload, uint64(info.Time.Unix()))
		infoPayload = append(infoPayload, boolByte(info.Rehash), boolByte(info.Bad))
		buf = appendRecord(buf, TagInfo, infoPayload)
	}

	for _, p := range m.Parities {
		parPayload := appendUvarint(nil, uint64(p.Level))
		parPayload = appendUvarint(parPayload, uint64(len(p.Splits)))
		for _, s := range p.Splits {
			parPayload = appendString(parPayload, s.Path)
			parPayload = appendUvarint(parPayload, uint64(s.Size))
			parPayload = appendUvarint(parPayload, uint64(s.ValidSize))
			parPayload = appendUvarint(parPayload, uint64(s.LimitSize))
		}
		buf = appendRecord(buf, TagParity, parPayload)
	}

	buf = appendRecord(buf, TagEnd, nil)
	return buf, nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func encodeFileLike(diskIdx, fileID uint64, sub string, size int64, mtime diskstate.Timestamp, inode uint64, physOff int64, blocks []diskstate.Block) []byte {
	buf := appendUvarint(nil, diskIdx)
	buf = appendUvarint(buf, fileID)
	buf = appendString(buf, sub)
	buf = appendUvarint(buf, uint64(size))
	buf = appendUvarint(buf, uint64(mtime.Sec))
	buf = appendUvarint(buf, uint64(mtime.Nsec))
	buf = appendUvarint(buf, inode)
	buf = appendUvarint(buf, uint64(physOff))
	buf = appendUvarint(buf, uint64(len(blocks)))
	for _, b := range blocks {
		buf = append(buf, byte(b.State))
		buf = append(buf, b.Hash[:]...)
		buf = append(buf, boolByte(b.Bad))
	}
	return buf
}

func collectExtents(em *extent.Map) []extent.Extent {
	return em.Snapshot()
}

func appendRecord(buf []byte, tag Tag, payload []byte) []byte {
	buf = append(buf, tag[:]...)
	return append(buf, payload...)
}

// Decoded is the result of Decode: the manifest skeleton plus the
// per-disk extent maps rebuilt from `blkk` records, since Manifest itself
// does not own extent maps (see internal/diskstate's ownership notes).
type Decoded struct {
	Manifest *diskstate.Manifest
	Extents  map[string]*extent.Map
}

// Decode parses a record stream produced by Encode (body only, trailer
// already stripped and verified by ReadFile) into a Decoded manifest.
// Any tag not in the known set is a fatal error, per spec.md §4.4.
func Decode(body []byte) (*Decoded, error) {
	if len(body) < len(Magic) || [16]byte(body[:16]) != Magic {
		return nil, fmt.Errorf("manifest: bad magic header")
	}
	pos := len(Magic)

	m := &diskstate.Manifest{}
	disks := map[uint64]*diskstate.Disk{}
	extents := map[string]*extent.Map{}
	extentsByIdx := map[uint64]*extent.Map{}

	for pos < len(body) {
		if pos+4 > len(body) {
			return nil, fmt.Errorf("manifest: truncated tag at offset %d", pos)
		}
		var tag Tag
		copy(tag[:], body[pos:pos+4])
		pos += 4

		if !IsKnown(tag) {
			return nil, fmt.Errorf("manifest: unknown tag %q at offset %d", tag[:], pos-4)
		}

		if tag == TagEnd {
			break
		}

		n, err := decodeOneRecord(tag, body[pos:], m, disks, extentsByIdx, extents)
		if err != nil {
			return nil, err
		}
		pos += n
	}

	return &Decoded{Manifest: m, Extents: extents}, nil
}

func decodeOneRecord(tag Tag, rest []byte, m *diskstate.Manifest, disks map[uint64]*diskstate.Disk, extentsByIdx map[uint64]*extent.Map, extents map[string]*extent.Map) (int, error) {
	switch tag {
	case TagBlockSize:
		v, n, err := uvarint(rest)
		if err != nil {
			return 0, fmt.Errorf("manifest: blk record: %w", err)
		}
		m.BlockSize = int64(v)
		return n, nil

	case TagHash:
		if len(rest) < 17 {
			return 0, fmt.Errorf("manifest: truncated hash record")
		}
		m.HashAlgo = rest[0]
		copy(m.HashSeed[:], rest[1:17])
		return 17, nil

	case TagPrevHash:
		if len(rest) < 1 {
			return 0, fmt.Errorf("manifest: truncated prev record")
		}
		m.PrevHashAlgo = rest[0]
		return 1, nil

	case TagDisk:
		total := 0
		di, n, err := uvarint(rest)
		if err != nil {
			return 0, err
		}
		total += n
		name, n, err := readString(rest[total:])
		if err != nil {
			return 0, err
		}
		total += n
		mount, n, err := readString(rest[total:])
		if err != nil {
			return 0, err
		}
		total += n
		if len(rest[total:]) < 16 {
			return 0, fmt.Errorf("manifest: truncated disk uuid")
		}
		var uuidBytes [16]byte
		copy(uuidBytes[:], rest[total:total+16])
		total += 16
		device, n, err := readString(rest[total:])
		if err != nil {
			return 0, err
		}
		total += n

		d := diskstate.NewDisk(name, mount)
		copy(d.UUID[:], uuidBytes[:])
		d.Device = device
		m.Disks = append(m.Disks, d)
		disks[di] = d
		em := extent.NewMap()
		extentsByIdx[di] = em
		extents[name] = em
		return total, nil

	case TagFile:
		n, fr, sub, size, mtime, inode, physOff, blocks, err := decodeFileLike(rest)
		if err != nil {
			return 0, err
		}
		d, ok := disks[fr.diskIdx]
		if !ok {
			return 0, fmt.Errorf("manifest: file record references unknown disk index %d", fr.diskIdx)
		}
		d.AddFile(diskstate.File{
			Sub: sub, Size: size, Mtime: mtime, Inode: inode,
			PhysicalOffset: physOff, Blocks: blocks,
		})
		return n, nil

	case TagDeleted:
		n, fr, sub, size, mtime, _, _, blocks, err := decodeFileLike(rest)
		if err != nil {
			return 0, err
		}
		d, ok := disks[fr.diskIdx]
		if !ok {
			return 0, fmt.Errorf("manifest: fild record references unknown disk index %d", fr.diskIdx)
		}
		d.AddFile(diskstate.File{Sub: sub, Size: size, Mtime: mtime, Blocks: blocks})
		fid, _ := d.FileBySub(sub)
		if fid != nil {
			d.RemoveFile(fid.ID)
		}
		return n, nil

	case TagExtent:
		total := 0
		di, n, err := uvarint(rest)
		if err != nil {
			return 0, err
		}
		total += n
		fileID, n, err := uvarint(rest[total:])
		if err != nil {
			return 0, err
		}
		total += n
		filePos, n, err := uvarint(rest[total:])
		if err != nil {
			return 0, err
		}
		total += n
		parityPos, n, err := uvarint(rest[total:])
		if err != nil {
			return 0, err
		}
		total += n
		count, n, err := uvarint(rest[total:])
		if err != nil {
			return 0, err
		}
		total += n

		em, ok := extentsByIdx[di]
		if !ok {
			return 0, fmt.Errorf("manifest: blkk record references unknown disk index %d", di)
		}
		for i := uint64(0); i < count; i++ {
			if err := em.Allocate(diskstate.FileID(fileID), int64(filePos)+int64(i), int64(parityPos)+int64(i)); err != nil {
				return 0, fmt.Errorf("manifest: replaying extent: %w", err)
			}
		}
		return total, nil

	case TagLink:
		total := 0
		di, n, err := uvarint(rest)
		if err != nil {
			return 0, err
		}
		total += n
		sub, n, err := readString(rest[total:])
		if err != nil {
			return 0, err
		}
		total += n
		target, n, err := readString(rest[total:])
		if err != nil {
			return 0, err
		}
		total += n
		if len(rest[total:]) < 1 {
			return 0, fmt.Errorf("manifest: truncated link record")
		}
		hard := rest[total] == 1
		total++

		d, ok := disks[di]
		if !ok {
			return 0, fmt.Errorf("manifest: link record references unknown disk index %d", di)
		}
		d.AddLink(diskstate.Link{Sub: sub, Target: target, Hard: hard})
		return total, nil

	case TagSymlink, TagHardlink:
		total := 0
		di, n, err := uvarint(rest)
		if err != nil {
			return 0, err
		}
		total += n
		sub, n, err := readString(rest[total:])
		if err != nil {
			return 0, err
		}
		total += n
		target, n, err := readString(rest[total:])
		if err != nil {
			return 0, err
		}
		total += n

		d, ok := disks[di]
		if !ok {
			return 0, fmt.Errorf("manifest: %s record references unknown disk index %d", tag[:], di)
		}
		d.AddLink(diskstate.Link{Sub: sub, Target: target, Hard: tag == TagHardlink})
		return total, nil

	case TagDir:
		total := 0
		di, n, err := uvarint(rest)
		if err != nil {
			return 0, err
		}
		total += n
		sub, n, err := readString(rest[total:])
		if err != nil {
			return 0, err
		}
		total += n
		d, ok := disks[di]
		if !ok {
			return 0, fmt.Errorf("manifest: dir record references unknown disk index %d", di)
		}
		d.AddDir(diskstate.Dir{Sub: sub})
		return total, nil

	case TagInfo:
		total := 0
		pos, n, err := uvarint(rest)
		if err != nil {
			return 0, err
		}
		total += n
		unixSec, n, err := uvarint(rest[total:])
		if err != nil {
			return 0, err
		}
		total += n
		if len(rest[total:]) < 2 {
			return 0, fmt.Errorf("manifest: truncated info record")
		}
		rehash := rest[total] == 1
		bad := rest[total+1] == 1
		total += 2

		m.EnsureInfoLen(int64(pos))
		m.Info[pos] = diskstate.Info{Time: time.Unix(int64(unixSec), 0).UTC(), Rehash: rehash, Bad: bad}
		return total, nil

	case TagParity:
		total := 0
		level, n, err := uvarint(rest)
		if err != nil {
			return 0, err
		}
		total += n
		numSplits, n, err := uvarint(rest[total:])
		if err != nil {
			return 0, err
		}
		total += n

		pd := diskstate.ParityDescriptor{Level: int(level)}
		for i := uint64(0); i < numSplits; i++ {
			path, n, err := readString(rest[total:])
			if err != nil {
				return 0, err
			}
			total += n
			size, n, err := uvarint(rest[total:])
			if err != nil {
				return 0, err
			}
			total += n
			validSize, n, err := uvarint(rest[total:])
			if err != nil {
				return 0, err
			}
			total += n
			limitSize, n, err := uvarint(rest[total:])
			if err != nil {
				return 0, err
			}
			total += n
			pd.Splits = append(pd.Splits, diskstate.Split{
				Path: path, Size: int64(size), ValidSize: int64(validSize), LimitSize: int64(limitSize),
			})
		}
		m.Parities = append(m.Parities, pd)
		return total, nil

	case TagHole:
		return 0, nil

	default:
		return 0, fmt.Errorf("manifest: unhandled known tag %q", tag[:])
	}
}

type fileRef struct{ diskIdx uint64 }

func decodeFileLike(rest []byte) (n int, fr fileRef, sub string, size int64, mtime diskstate.Timestamp, inode uint64, physOff int64, blocks []diskstate.Block, err error) {
	total := 0
	di, nn, err := uvarint(rest)
	if err != nil {
		return 0, fr, "", 0, mtime, 0, 0, nil, err
	}
	total += nn
	_, nn, err = uvarint(rest[total:]) // file ID, unused on decode (re-assigned by AddFile)
	if err != nil {
		return 0, fr, "", 0, mtime, 0, 0, nil, err
	}
	total += nn
	sub, nn, err = readString(rest[total:])
	if err != nil {
		return 0, fr, "", 0, mtime, 0, 0, nil, err
	}
	total += nn
	sz, nn, err := uvarint(rest[total:])
	if err != nil {
		return 0, fr, "", 0, mtime, 0, 0, nil, err
	}
	total += nn
	sec, nn, err := uvarint(rest[total:])
	if err != nil {
		return 0, fr, "", 0, mtime, 0, 0, nil, err
	}
	total += nn
	nsec, nn, err := uvarint(rest[total:])
	if err != nil {
		return 0, fr, "", 0, mtime, 0, 0, nil, err
	}
	total += nn
	ino, nn, err := uvarint(rest[total:])
	if err != nil {
		return 0, fr, "", 0, mtime, 0, 0, nil, err
	}
	total += nn
	po, nn, err := uvarint(rest[total:])
	if err != nil {
		return 0, fr, "", 0, mtime, 0, 0, nil, err
	}
	total += nn
	count, nn, err := uvarint(rest[total:])
	if err != nil {
		return 0, fr, "", 0, mtime, 0, 0, nil, err
	}
	total += nn

	blocks = make([]diskstate.Block, count)
	for i := uint64(0); i < count; i++ {
		if len(rest[total:]) < 1+diskstate.HashSize+1 {
			return 0, fr, "", 0, mtime, 0, 0, nil, fmt.Errorf("manifest: truncated block entry")
		}
		blocks[i].State = diskstate.BlockState(rest[total])
		total++
		copy(blocks[i].Hash[:], rest[total:total+diskstate.HashSize])
		total += diskstate.HashSize
		blocks[i].Bad = rest[total] == 1
		total++
	}

	return total, fileRef{diskIdx: di}, sub, int64(sz), diskstate.Timestamp{Sec: int64(sec), Nsec: int32(nsec)}, ino, int64(po), blocks, nil
}
