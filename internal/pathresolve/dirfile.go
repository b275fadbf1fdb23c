// Package pathresolve implements path resolution and a concrete
// directory-entry encoding: fixed-size records keyed by name (<= 14
// chars) to inode sector, built atop inode.Inode.ReadAt/WriteAt.
package pathresolve

import (
	"strings"

	"kernelfs/internal/defs"
	"kernelfs/internal/inode"
)

const (
	// NameMax is the longest name a directory record holds.
	NameMax = 14
	// RecordSize is NameMax bytes of name plus a 4-byte little-endian
	// sector index.
	RecordSize = NameMax + 4
)

// Record is one decoded directory entry. A zero Sector marks an empty
// (reusable) slot.
type Record struct {
	Name   string
	Sector int
}

func encodeRecord(r Record) []byte {
	b := make([]byte, RecordSize)
	copy(b[:NameMax], r.Name)
	b[NameMax] = byte(r.Sector)
	b[NameMax+1] = byte(r.Sector >> 8)
	b[NameMax+2] = byte(r.Sector >> 16)
	b[NameMax+3] = byte(r.Sector >> 24)
	return b
}

func decodeRecord(b []byte) Record {
	name := string(b[:NameMax])
	name = strings.TrimRight(name, "\x00")
	sector := int(b[NameMax]) | int(b[NameMax+1])<<8 | int(b[NameMax+2])<<16 | int(b[NameMax+3])<<24
	return Record{Name: name, Sector: sector}
}

func numRecords(dir *inode.Inode) int {
	return dir.Length() / RecordSize
}

func readRecordAt(dir *inode.Inode, idx int) Record {
	buf := make([]byte, RecordSize)
	n := dir.ReadAt(idx*RecordSize, buf)
	if n < RecordSize {
		return Record{}
	}
	return decodeRecord(buf)
}

func writeRecordAt(dir *inode.Inode, idx int, rec Record) defs.Err_t {
	_, err := dir.WriteAt(idx*RecordSize, encodeRecord(rec))
	return err
}

// Lookup scans dir's records for name, returning its target sector.
func Lookup(dir *inode.Inode, name string) (int, bool) {
	n := numRecords(dir)
	for i := 0; i < n; i++ {
		r := readRecordAt(dir, i)
		if r.Sector != 0 && r.Name == name {
			return r.Sector, true
		}
	}
	return 0, false
}

// CreateEntry adds a (name, sector) record to dir, reusing the first
// tombstoned slot if one exists, otherwise appending. Returns EEXIST if
// name is already present, ENAMETOOLONG if name exceeds NameMax.
func CreateEntry(dir *inode.Inode, name string, sector int) defs.Err_t {
	if len(name) > NameMax {
		return -defs.ENAMETOOLONG
	}
	n := numRecords(dir)
	freeSlot := -1
	for i := 0; i < n; i++ {
		r := readRecordAt(dir, i)
		if r.Sector != 0 && r.Name == name {
			return -defs.EEXIST
		}
		if r.Sector == 0 && freeSlot < 0 {
			freeSlot = i
		}
	}
	idx := freeSlot
	if idx < 0 {
		idx = n
	}
	return writeRecordAt(dir, idx, Record{Name: name, Sector: sector})
}

// RemoveEntry tombstones the record for name. Returns ENOENT if absent.
func RemoveEntry(dir *inode.Inode, name string) defs.Err_t {
	n := numRecords(dir)
	for i := 0; i < n; i++ {
		r := readRecordAt(dir, i)
		if r.Sector != 0 && r.Name == name {
			return writeRecordAt(dir, i, Record{})
		}
	}
	return -defs.ENOENT
}

// NthEntry returns the name of the idx'th live (non-tombstone) record in
// dir, skipping freed slots, for readdir; ok is false once idx runs past
// the last live record.
func NthEntry(dir *inode.Inode, idx int) (string, bool) {
	n := numRecords(dir)
	seen := 0
	for i := 0; i < n; i++ {
		r := readRecordAt(dir, i)
		if r.Sector == 0 {
			continue
		}
		if seen == idx {
			return r.Name, true
		}
		seen++
	}
	return "", false
}

// IsEmpty reports whether dir holds only "." and ".." (or nothing).
func IsEmpty(dir *inode.Inode) bool {
	n := numRecords(dir)
	for i := 0; i < n; i++ {
		r := readRecordAt(dir, i)
		if r.Sector != 0 && r.Name != "." && r.Name != ".." {
			return false
		}
	}
	return true
}

// InitDir writes the "." and ".." bootstrap records for a freshly created
// directory inode residing at selfSector, whose parent is parentSector.
func InitDir(dir *inode.Inode, selfSector, parentSector int) defs.Err_t {
	if err := CreateEntry(dir, ".", selfSector); err != 0 {
		return err
	}
	return CreateEntry(dir, "..", parentSector)
}
