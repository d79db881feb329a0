// buf manages sub-block metadata objects (an inode, a bitmap bit, or a whole
// block), to be packed into disk blocks
package buf

import (
	"github.com/mit-pdos/go-blobfs/addr"
	"github.com/mit-pdos/go-blobfs/common"
	"github.com/mit-pdos/go-blobfs/disk"
	"github.com/mit-pdos/go-blobfs/util"
)

// A Buf is a write to a disk object
type Buf struct {
	Addr  addr.Addr
	Sz    uint64 // number of bits
	Data  []byte
	dirty bool // has this object been written to?
}

func MkBuf(addr addr.Addr, sz uint64, data []byte) *Buf {
	b := &Buf{
		Addr:  addr,
		Sz:    sz,
		Data:  data,
		dirty: false,
	}
	return b
}

// MkBitBuf is a dirty one-bit object holding v.
func MkBitBuf(a addr.Addr, v bool) *Buf {
	var data byte
	if v {
		data = 1 << (a.Off % 8)
	}
	b := MkBuf(a, 1, []byte{data})
	b.SetDirty()
	return b
}

// MkBlockBuf is a dirty whole-block object.
func MkBlockBuf(bn common.Bnum, blk disk.Block) *Buf {
	b := MkBuf(addr.MkAddr(bn, 0), common.NBITBLOCK, blk)
	b.SetDirty()
	return b
}

// Load the bits of a disk block into a new buf, as specified by addr
func MkBufLoad(addr addr.Addr, sz uint64, blk disk.Block) *Buf {
	bytefirst := addr.Off / 8
	bytelast := (addr.Off + sz - 1) / 8
	data := util.CloneByteSlice(blk[bytefirst : bytelast+1])
	b := &Buf{
		Addr:  addr,
		Sz:    sz,
		Data:  data,
		dirty: false,
	}
	return b
}

// Install 1 bit from src into dst, at offset bit. return new dst.
func installOneBit(src byte, dst byte, bit uint64) byte {
	var new byte = dst
	if src&(1<<bit) != dst&(1<<bit) {
		if src&(1<<bit) == 0 {
			// dst is 1, but should be 0
			new = new & ^(1 << bit)
		} else {
			// dst is 0, but should be 1
			new = new | (1 << bit)
		}
	}
	return new
}

// Install bit from src to dst, at dstoff in destination. dstoff is in bits.
func installBit(src []byte, dst []byte, dstoff uint64) {
	dstbyte := dstoff / 8
	dst[dstbyte] = installOneBit(src[0], dst[dstbyte], (dstoff)%8)
}

// Install bytes from src to dst.
func installBytes(src []byte, dst []byte, dstoff uint64, nbit uint64) {
	sz := nbit / 8
	copy(dst[dstoff/8:], src[:sz])
}

// Install the bits from buf into blk. Two cases: a bit or a byte-aligned
// object
func (buf *Buf) Install(blk disk.Block) {
	util.DPrintf(15, "%v: install\n", buf.Addr)
	if buf.Sz == 1 {
		installBit(buf.Data, blk, buf.Addr.Off)
	} else if buf.Sz%8 == 0 && buf.Addr.Off%8 == 0 {
		installBytes(buf.Data, blk, buf.Addr.Off, buf.Sz)
	} else {
		panic("Install unsupported\n")
	}
}

func (buf *Buf) IsDirty() bool {
	return buf.dirty
}

func (buf *Buf) SetDirty() {
	buf.dirty = true
}

// Bit reports the value of a one-bit object.
func (buf *Buf) Bit() bool {
	return buf.Data[0]&(1<<(buf.Addr.Off%8)) != 0
}
