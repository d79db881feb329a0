// Package super describes the on-disk layout: the superblock, where each
// region lives, and the encoding of inodes.
//
// A fixed volume is laid out as
//
//	[superblock][inode bitmap][block bitmap][inode table][journal][data]
//
// with every region packed after the previous one. On an extensible volume
// the superblock and inode bitmap stay at the front, and the remaining four
// regions each start at a fixed virtual offset of region*SliceSize*
// MaxRegionSlices, so they can grow a slice at a time without moving.
package super

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/pkg/errors"
	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-blobfs/common"
	"github.com/mit-pdos/go-blobfs/disk"
	"github.com/mit-pdos/go-blobfs/merkle"
	"github.com/mit-pdos/go-blobfs/util"
)

const (
	Magic0  uint64 = 0xac2153479e694d21
	Magic1  uint64 = 0x985000d4d4d3d314
	Version uint64 = 1

	// FlagExtensible marks a volume whose regions grow through the volume
	// manager.
	FlagExtensible uint64 = 1 << 0
)

const (
	SUPERBLOCK common.Bnum = 0
	INODEMAP   common.Bnum = 1

	nfields     = 16
	checksumOff = nfields * 8
)

// Regions of an extensible volume, in virtual address order.
const (
	RegionBlockMap uint64 = 1
	RegionNodeMap  uint64 = 2
	RegionJournal  uint64 = 3
	RegionData     uint64 = 4
)

type FsSuper struct {
	Flags           uint64
	BlockSize       uint64
	DataBlocks      uint64
	Inodes          uint64
	JournalBlocks   uint64 // including the info block
	AllocBlocks     uint64
	AllocInodes     uint64
	SliceSize       uint64 // in blocks
	MaxRegionSlices uint64
	AbmSlices       uint64
	InoSlices       uint64
	JournalSlices   uint64
	DatSlices       uint64
}

// MkFsSuper lays out a fixed volume.
func MkFsSuper(dataBlocks uint64, inodes uint64, journalBlocks uint64) *FsSuper {
	return &FsSuper{
		BlockSize:     disk.BlockSize,
		DataBlocks:    dataBlocks,
		Inodes:        inodes,
		JournalBlocks: journalBlocks,
	}
}

// MkExtensibleSuper lays out an extensible volume from its slice counts.
func MkExtensibleSuper(sliceSize, maxSlices, abm, ino, journal, dat uint64) *FsSuper {
	fs := &FsSuper{
		Flags:           FlagExtensible,
		BlockSize:       disk.BlockSize,
		SliceSize:       sliceSize,
		MaxRegionSlices: maxSlices,
		AbmSlices:       abm,
		InoSlices:       ino,
		JournalSlices:   journal,
		DatSlices:       dat,
	}
	fs.SyncSlices()
	return fs
}

// SyncSlices recomputes the block and inode counts from the slice counts of
// an extensible volume.
func (fs *FsSuper) SyncSlices() {
	if !fs.Extensible() {
		return
	}
	fs.DataBlocks = fs.DatSlices * fs.SliceSize
	fs.Inodes = util.Min(fs.InoSlices*fs.SliceSize*common.INODEBLK, common.MAXINODES)
	fs.JournalBlocks = fs.JournalSlices * fs.SliceSize
}

func (fs *FsSuper) Extensible() bool {
	return fs.Flags&FlagExtensible != 0
}

func (fs *FsSuper) regionStart(r uint64) common.Bnum {
	return r * fs.SliceSize * fs.MaxRegionSlices
}

func (fs *FsSuper) BitmapInodeStart() common.Bnum {
	return INODEMAP
}

func (fs *FsSuper) BitmapBlockStart() common.Bnum {
	if fs.Extensible() {
		return fs.regionStart(RegionBlockMap)
	}
	return INODEMAP + common.NINODEBITMAP
}

// BitmapBlockBlocks is the space reserved for the block bitmap.
func (fs *FsSuper) BitmapBlockBlocks() uint64 {
	if fs.Extensible() {
		return fs.AbmSlices * fs.SliceSize
	}
	return util.RoundUp(fs.DataBlocks, common.NBITBLOCK)
}

func (fs *FsSuper) InodeStart() common.Bnum {
	if fs.Extensible() {
		return fs.regionStart(RegionNodeMap)
	}
	return fs.BitmapBlockStart() + fs.BitmapBlockBlocks()
}

// InodeBlocks is the space reserved for the inode table.
func (fs *FsSuper) InodeBlocks() uint64 {
	if fs.Extensible() {
		return fs.InoSlices * fs.SliceSize
	}
	return util.RoundUp(fs.Inodes, common.INODEBLK)
}

func (fs *FsSuper) JournalStart() common.Bnum {
	if fs.Extensible() {
		return fs.regionStart(RegionJournal)
	}
	return fs.InodeStart() + fs.InodeBlocks()
}

func (fs *FsSuper) DataStart() common.Bnum {
	if fs.Extensible() {
		return fs.regionStart(RegionData)
	}
	return fs.JournalStart() + fs.JournalBlocks
}

// Maxaddr is one past the last block the volume uses.
func (fs *FsSuper) Maxaddr() common.Bnum {
	return fs.DataStart() + fs.DataBlocks
}

// DataBlock converts a data-region block number to a device block number.
func (fs *FsSuper) DataBlock(bn common.Bnum) common.Bnum {
	return fs.DataStart() + bn
}

func (fs *FsSuper) fields() []uint64 {
	return []uint64{
		Magic0, Magic1, Version,
		fs.Flags, fs.BlockSize, fs.DataBlocks, fs.Inodes, fs.JournalBlocks,
		fs.AllocBlocks, fs.AllocInodes,
		fs.SliceSize, fs.MaxRegionSlices,
		fs.AbmSlices, fs.InoSlices, fs.JournalSlices, fs.DatSlices,
	}
}

// Encode returns the superblock as a disk block.
func (fs *FsSuper) Encode() disk.Block {
	enc := marshal.NewEnc(disk.BlockSize)
	enc.PutInts(fs.fields())
	blk := enc.Finish()
	sum := crc32.ChecksumIEEE(blk)
	binary.LittleEndian.PutUint64(blk[checksumOff:], uint64(sum))
	return blk
}

// Decode parses a superblock, checking its magic, version and checksum.
func Decode(blk disk.Block) (*FsSuper, error) {
	dec := marshal.NewDec(blk)
	f := dec.GetInts(nfields)
	if f[0] != Magic0 || f[1] != Magic1 {
		return nil, errors.Wrap(common.ErrCorrupt, "superblock: bad magic")
	}
	if f[2] != Version {
		return nil, errors.Wrapf(common.ErrCorrupt, "superblock: version %d", f[2])
	}
	sum := dec.GetInt()
	check := util.CloneByteSlice(blk)
	for i := checksumOff; i < checksumOff+8; i++ {
		check[i] = 0
	}
	if uint64(crc32.ChecksumIEEE(check)) != sum {
		return nil, errors.Wrap(common.ErrCorrupt, "superblock: bad checksum")
	}
	return &FsSuper{
		Flags:           f[3],
		BlockSize:       f[4],
		DataBlocks:      f[5],
		Inodes:          f[6],
		JournalBlocks:   f[7],
		AllocBlocks:     f[8],
		AllocInodes:     f[9],
		SliceSize:       f[10],
		MaxRegionSlices: f[11],
		AbmSlices:       f[12],
		InoSlices:       f[13],
		JournalSlices:   f[14],
		DatSlices:       f[15],
	}, nil
}

func corrupt(format string, args ...interface{}) error {
	return errors.Wrapf(common.ErrCorrupt, "superblock: "+format, args...)
}

// Validate checks that the superblock describes a volume that fits on a
// device of devBlocks blocks.
func (fs *FsSuper) Validate(devBlocks uint64) error {
	if fs.BlockSize != disk.BlockSize {
		return corrupt("block size %d", fs.BlockSize)
	}
	if fs.Inodes == 0 || fs.Inodes > common.MAXINODES {
		return corrupt("%d inodes", fs.Inodes)
	}
	if fs.DataBlocks <= uint64(common.StartBlockMinimum) {
		return corrupt("%d data blocks", fs.DataBlocks)
	}
	if fs.JournalBlocks < 4 {
		return corrupt("journal of %d blocks", fs.JournalBlocks)
	}
	if fs.AllocBlocks > fs.DataBlocks || fs.AllocInodes > fs.Inodes {
		return corrupt("allocated %d/%d blocks %d/%d inodes",
			fs.AllocBlocks, fs.DataBlocks, fs.AllocInodes, fs.Inodes)
	}
	if fs.BitmapBlockBlocks()*common.NBITBLOCK < fs.DataBlocks {
		return corrupt("block bitmap too small for %d blocks", fs.DataBlocks)
	}
	if fs.InodeBlocks()*common.INODEBLK < fs.Inodes {
		return corrupt("inode table too small for %d inodes", fs.Inodes)
	}
	if fs.Extensible() {
		if fs.SliceSize == 0 || fs.MaxRegionSlices == 0 {
			return corrupt("slice size %d max %d", fs.SliceSize, fs.MaxRegionSlices)
		}
		if 1+common.NINODEBITMAP > fs.regionStart(RegionBlockMap) {
			return corrupt("slice too small for the superblock")
		}
		for _, n := range []uint64{fs.AbmSlices, fs.InoSlices, fs.JournalSlices, fs.DatSlices} {
			if n == 0 || n > fs.MaxRegionSlices {
				return corrupt("region of %d slices", n)
			}
		}
		if fs.DataBlocks != fs.DatSlices*fs.SliceSize ||
			fs.JournalBlocks != fs.JournalSlices*fs.SliceSize ||
			fs.Inodes != util.Min(fs.InoSlices*fs.SliceSize*common.INODEBLK, common.MAXINODES) {
			return corrupt("counts disagree with slices")
		}
	}
	if fs.Maxaddr() > devBlocks {
		return corrupt("needs %d blocks, device has %d", fs.Maxaddr(), devBlocks)
	}
	return nil
}

// Inode is the on-disk record of one blob.
type Inode struct {
	Digest     merkle.Digest
	Size       uint64
	StartBlock common.Bnum
	NumBlocks  uint64
}

func (ino *Inode) IsFree() bool {
	return ino.StartBlock == common.StartBlockFree
}

func (ino *Inode) IsReserved() bool {
	return ino.StartBlock == common.StartBlockReserved
}

// IsCommitted reports whether the inode names a blob that is on disk.
func (ino *Inode) IsCommitted() bool {
	return ino.StartBlock >= common.StartBlockMinimum
}

func digestWords(d merkle.Digest) []uint64 {
	words := make([]uint64, merkle.DigestSize/8)
	for i := range words {
		words[i] = binary.LittleEndian.Uint64(d[i*8:])
	}
	return words
}

// Encode returns the INODESZ-byte on-disk form of the inode.
func (ino *Inode) Encode() []byte {
	enc := marshal.NewEnc(common.INODESZ)
	enc.PutInts(digestWords(ino.Digest))
	enc.PutInt(ino.Size)
	enc.PutInt(ino.StartBlock)
	enc.PutInt(ino.NumBlocks)
	return enc.Finish()
}

func DecodeInode(b []byte) Inode {
	dec := marshal.NewDec(b[:common.INODESZ])
	var ino Inode
	words := dec.GetInts(merkle.DigestSize / 8)
	for i, w := range words {
		binary.LittleEndian.PutUint64(ino.Digest[i*8:], w)
	}
	ino.Size = dec.GetInt()
	ino.StartBlock = dec.GetInt()
	ino.NumBlocks = dec.GetInt()
	return ino
}
