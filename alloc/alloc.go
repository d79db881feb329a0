// Package alloc keeps an in-memory mirror of an on-disk allocation bitmap.
//
// Bit n lives in byte n/8 of the bitmap, at bit position n%8, and the bitmap
// occupies consecutive disk blocks of NBITBLOCK bits each. An Alloc does no
// locking of its own; the owner serializes access.
package alloc

import (
	"github.com/mit-pdos/go-blobfs/common"
	"github.com/mit-pdos/go-blobfs/disk"
	"github.com/mit-pdos/go-blobfs/util"
)

const (
	NBITBLOCK uint64 = common.NBITBLOCK
)

// Alloc is a bitmap over len numbers.
type Alloc struct {
	bits []byte // whole blocks
	len  uint64
	used uint64
}

func nblocks(n uint64) uint64 {
	return util.RoundUp(n, NBITBLOCK)
}

// MkMaxAlloc returns an empty bitmap for max numbers.
func MkMaxAlloc(max uint64) *Alloc {
	return &Alloc{
		bits: make([]byte, nblocks(max)*disk.BlockSize),
		len:  max,
	}
}

// MkAlloc mirrors a bitmap loaded from disk.  Bits beyond max are ignored.
func MkAlloc(bitmap []byte, max uint64) *Alloc {
	a := MkMaxAlloc(max)
	copy(a.bits, bitmap)
	// clear any garbage past the end so Grow starts from free bits
	for n := max; n < uint64(len(a.bits))*8; n++ {
		a.bits[n/8] &^= 1 << (n % 8)
	}
	for _, b := range a.bits {
		a.used += popCnt(b)
	}
	return a
}

func popCnt(b byte) uint64 {
	var count uint64
	var x = b
	for i := uint64(0); i < 8; i++ {
		count += uint64(x & 1)
		x = x >> 1
	}
	return count
}

func (a *Alloc) Len() uint64 {
	return a.len
}

// NBlocks is the number of disk blocks the bitmap occupies.
func (a *Alloc) NBlocks() uint64 {
	return nblocks(a.len)
}

func (a *Alloc) NumUsed() uint64 {
	return a.used
}

func (a *Alloc) NumFree() uint64 {
	return a.len - a.used
}

func (a *Alloc) IsSet(n uint64) bool {
	if n >= a.len {
		panic("IsSet")
	}
	return a.bits[n/8]&(1<<(n%8)) != 0
}

func (a *Alloc) MarkUsed(n uint64) {
	if a.IsSet(n) {
		panic("MarkUsed: already used")
	}
	a.bits[n/8] |= 1 << (n % 8)
	a.used++
}

func (a *Alloc) FreeNum(n uint64) {
	if !a.IsSet(n) {
		panic("FreeNum: not allocated")
	}
	a.bits[n/8] &^= 1 << (n % 8)
	a.used--
}

// SetRange marks [start, start+n) used.
func (a *Alloc) SetRange(start uint64, n uint64) {
	for i := start; i < start+n; i++ {
		a.MarkUsed(i)
	}
}

// ClearRange marks [start, start+n) free.
func (a *Alloc) ClearRange(start uint64, n uint64) {
	for i := start; i < start+n; i++ {
		a.FreeNum(i)
	}
}

// FindFree returns the first run of n free numbers, scanning from 0.
func (a *Alloc) FindFree(n uint64) (uint64, bool) {
	if n == 0 || n > a.len {
		return 0, false
	}
	var run uint64
	var start uint64
	for i := uint64(0); i < a.len; i++ {
		if run == 0 && i%8 == 0 && a.bits[i/8] == 0xFF {
			i += 7
			continue
		}
		if a.IsSet(i) {
			run = 0
			continue
		}
		if run == 0 {
			start = i
		}
		run++
		if run == n {
			return start, true
		}
	}
	return 0, false
}

// AllocRange finds and marks a run of n free numbers.
func (a *Alloc) AllocRange(n uint64) (uint64, bool) {
	start, ok := a.FindFree(n)
	if ok {
		a.SetRange(start, n)
		util.DPrintf(10, "AllocRange: %d at %d\n", n, start)
	}
	return start, ok
}

// Grow extends the bitmap to max numbers; the new numbers are free.
func (a *Alloc) Grow(max uint64) {
	if max < a.len {
		panic("Grow: shrinking")
	}
	need := nblocks(max) * disk.BlockSize
	if need > uint64(len(a.bits)) {
		bits := make([]byte, need)
		copy(bits, a.bits)
		a.bits = bits
	}
	a.len = max
}
