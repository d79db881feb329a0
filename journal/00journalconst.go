//  journal implements the write-ahead journal for metadata updates
//
//  The journal region is one info block followed by a circular buffer of
//  entry blocks:
//
//  [ info | ... reclaimed | header payload... commit | header ... commit | free ]
//                           ^                                             ^
//                           start                                 start+length
//
//  An entry is a header block naming the target block of every payload block,
//  the payload, and a commit block whose checksum covers the header and the
//  payload. The info block records where the oldest live entry starts; it is
//  only rewritten once entries have been installed at their targets and
//  reclaimed, so replay always starts at an entry that may still be needed.
//
//  An in-memory copy of the buffer holds the payload of every live entry.
//  Producers reserve space in it (blocking, in arrival order, while it is
//  full), and a single processor goroutine moves entries through the work,
//  wait, delete and sync stages. Disk I/O is done by a writeback goroutine
//  that executes jobs in submission order and reports each completion to the
//  processor as a message.
package journal

import (
	"github.com/mit-pdos/go-blobfs/common"
)

const (
	InfoMagic   uint64 = 0x6c6e726a626f6c62 // "blobjrnl"
	HeaderMagic uint64 = 0x6864726a626f6c62
	CommitMagic uint64 = 0x6d6d636a626f6c62

	// MaxEntryBlocks is the most payload blocks one entry can carry
	MaxEntryBlocks = common.HDRADDRS

	// MinBlocks is the smallest journal region: info plus one entry of one
	// block.
	MinBlocks uint64 = 4
)

const (
	infoBlk   = common.Bnum(0)
	entryBase = common.Bnum(1)
)
