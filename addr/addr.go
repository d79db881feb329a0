package addr

import (
	"github.com/mit-pdos/go-blobfs/common"
	"github.com/mit-pdos/go-blobfs/disk"
)

// Addr identifies the start of a disk object.
//
// Blkno is the block number containing the object, and Off is the location of
// the object within the block (expressed as a bit offset). The size of the
// object is determined by the context in which Addr is used.
type Addr struct {
	Blkno common.Bnum
	Off   uint64 // offset in bits
}

func (a Addr) Flatid() uint64 {
	return uint64(a.Blkno)*(disk.BlockSize*8) + a.Off
}

// ByteOff is the offset of the object within its block, in bytes.
func (a Addr) ByteOff() uint64 {
	return a.Off / 8
}

func MkAddr(blkno common.Bnum, off uint64) Addr {
	return Addr{Blkno: blkno, Off: off}
}

// MkBitAddr locates bit n of a bitmap that starts at block start.
func MkBitAddr(start common.Bnum, n uint64) Addr {
	bit := n % common.NBITBLOCK
	i := n / common.NBITBLOCK
	addr := MkAddr(start+common.Bnum(i), bit)
	return addr
}

// MkInodeAddr locates inode ino of an inode table that starts at block start.
func MkInodeAddr(start common.Bnum, ino common.Inum) Addr {
	i := uint64(ino) / common.INODEBLK
	off := (uint64(ino) % common.INODEBLK) * common.INODESZ * 8
	return MkAddr(start+common.Bnum(i), off)
}
