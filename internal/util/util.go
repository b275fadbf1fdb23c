// Package util contains small helpers shared across the storage and VM
// layers: integer rounding and fixed-width little-endian field access for
// on-disk structures.
package util

import "encoding/binary"

// Int is satisfied by all built-in integer types.
type Int interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr
}

// Min returns the smaller of a and b.
func Min[T Int](a, b T) T {
	if a < b {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max[T Int](a, b T) T {
	if a > b {
		return a
	}
	return b
}

// Rounddown aligns v down to the nearest multiple of b.
func Rounddown[T Int](v, b T) T {
	return v - (v % b)
}

// Roundup aligns v up to the nearest multiple of b.
func Roundup[T Int](v, b T) T {
	return Rounddown(v+b-1, b)
}

// Readn32 reads a 4-byte little-endian unsigned field at byte offset off.
// The on-disk inode and indirect blocks are defined in terms of exactly
// this encoding.
func Readn32(a []byte, off int) uint32 {
	return binary.LittleEndian.Uint32(a[off : off+4])
}

// Writen32 writes a 4-byte little-endian unsigned field at byte offset off.
func Writen32(a []byte, off int, v uint32) {
	binary.LittleEndian.PutUint32(a[off:off+4], v)
}

// Readn32s reads a 4-byte little-endian signed field.
func Readn32s(a []byte, off int) int32 {
	return int32(Readn32(a, off))
}

// Writen32s writes a 4-byte little-endian signed field.
func Writen32s(a []byte, off int, v int32) {
	Writen32(a, off, uint32(v))
}
