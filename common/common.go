package common

import (
	"github.com/mit-pdos/go-blobfs/disk"
)

const (
	NBITBLOCK    uint64 = disk.BlockSize * 8
	INODEBLK     uint64 = disk.BlockSize / INODESZ
	NINODEBITMAP uint64 = 1
	MAXINODES    uint64 = NINODEBITMAP * NBITBLOCK

	INODESZ uint64 = 64 // on-disk size

	HDRMETA  = uint64(24) // magic, timestamp and block count
	HDRADDRS = (disk.BlockSize - HDRMETA) / 8
)

type Inum uint64
type Bnum = uint64

const (
	NULLINUM Inum = 0
	NULLBNUM Bnum = 0
)

// Sentinel values of an inode's start block. Data blocks are numbered
// relative to the start of the data region, so data blocks 0 and 1 are never
// handed out.
const (
	StartBlockFree     Bnum = 0
	StartBlockReserved Bnum = 1
	StartBlockMinimum  Bnum = 2
)

// Layout defaults used by Format when an option is left zero.
const (
	DefaultInodes          uint64 = 1024
	DefaultJournalBlocks   uint64 = 256 // including the info block
	DefaultSliceSize       uint64 = 32  // blocks
	DefaultMaxRegionSlices uint64 = 64
	DefaultCacheLimit      int    = 64
)
