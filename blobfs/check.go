package blobfs

import (
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/mit-pdos/go-blobfs/alloc"
	"github.com/mit-pdos/go-blobfs/common"
	"github.com/mit-pdos/go-blobfs/disk"
	"github.com/mit-pdos/go-blobfs/super"
	"github.com/mit-pdos/go-blobfs/util"
)

func (s *Store) readImage(start common.Bnum, n uint64) ([]byte, error) {
	var out []byte
	for i := uint64(0); i < n; i++ {
		blk, err := s.log.ReadBlock(start + i)
		if err != nil {
			return nil, err
		}
		out = append(out, blk...)
	}
	return out, nil
}

// Check verifies that the committed metadata is self-consistent: both
// bitmaps match the inode table, the superblock counters match the bitmaps,
// and memory agrees with all of them. Every problem found is reported,
// wrapped in common.ErrCorrupt.
func (s *Store) Check() error {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	blk, err := s.log.ReadBlock(super.SUPERBLOCK)
	if err != nil {
		return err
	}
	fs, err := super.Decode(blk)
	if err != nil {
		return err
	}
	nbits, err := s.readImage(fs.BitmapInodeStart(), common.NINODEBITMAP)
	if err != nil {
		return err
	}
	bbits, err := s.readImage(fs.BitmapBlockStart(), util.RoundUp(fs.DataBlocks, common.NBITBLOCK))
	if err != nil {
		return err
	}
	table, err := s.readImage(fs.InodeStart(), util.RoundUp(fs.Inodes, common.INODEBLK))
	if err != nil {
		return err
	}
	nodeMap := alloc.MkAlloc(nbits, fs.Inodes)
	blockMap := alloc.MkAlloc(bbits, fs.DataBlocks)

	var errs error
	corrupt := func(format string, args ...interface{}) {
		errs = multierr.Append(errs, errors.Wrapf(common.ErrCorrupt, format, args...))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if fs.DataBlocks != s.fs.DataBlocks || fs.Inodes != s.fs.Inodes {
		corrupt("superblock has %d blocks and %d inodes, memory %d and %d",
			fs.DataBlocks, fs.Inodes, s.fs.DataBlocks, s.fs.Inodes)
	}
	if fs.AllocBlocks != s.fs.AllocBlocks || fs.AllocInodes != s.fs.AllocInodes {
		corrupt("superblock counts %d blocks and %d inodes, memory %d and %d",
			fs.AllocBlocks, fs.AllocInodes, s.fs.AllocBlocks, s.fs.AllocInodes)
	}

	named := alloc.MkMaxAlloc(fs.DataBlocks)
	named.SetRange(common.StartBlockFree, common.StartBlockMinimum)
	var blocks, inodes uint64
	for i := uint64(0); i < fs.Inodes; i++ {
		ino := super.DecodeInode(table[i*common.INODESZ:])
		if ino.IsCommitted() != nodeMap.IsSet(i) {
			corrupt("inode %d disagrees with the inode bitmap", i)
		}
		if ino.IsReserved() {
			corrupt("inode %d reserved on disk", i)
		}
		if !ino.IsCommitted() {
			continue
		}
		inodes++
		blocks += ino.NumBlocks
		if ino.StartBlock+ino.NumBlocks > fs.DataBlocks {
			corrupt("inode %d extends past the data region", i)
			continue
		}
		for b := ino.StartBlock; b < ino.StartBlock+ino.NumBlocks; b++ {
			if named.IsSet(b) {
				corrupt("data block %d claimed twice (inode %d)", b, i)
			} else {
				named.MarkUsed(b)
			}
			if !s.blockMap.IsSet(b) {
				corrupt("data block %d of inode %d free in memory", b, i)
			}
		}
		if !s.nodeMap.IsSet(i) {
			corrupt("inode %d free in memory", i)
		}
		if mem := s.inodes[i]; mem.IsCommitted() && mem != ino {
			corrupt("inode %d differs from memory", i)
		}
	}
	for b := uint64(0); b < fs.DataBlocks; b++ {
		if named.IsSet(b) != blockMap.IsSet(b) {
			corrupt("data block %d disagrees with the block bitmap", b)
		}
	}
	if inodes != fs.AllocInodes {
		corrupt("%d inodes committed, superblock says %d", inodes, fs.AllocInodes)
	}
	if blocks != fs.AllocBlocks {
		corrupt("%d blocks committed, superblock says %d", blocks, fs.AllocBlocks)
	}
	if errs != nil {
		util.DPrintf(0, "check: %v\n", errs)
	}
	return errs
}

// Stats is a snapshot of the store's usage and activity.
type Stats struct {
	DataBlocks  uint64
	AllocBlocks uint64
	Inodes      uint64
	AllocInodes uint64
	BlockSize   uint64

	Open   int
	Cached int

	JournalCapacity uint64
	JournalLength   uint64
	ReadOnly        bool

	BytesWritten uint64
	Committed    uint64
	Purged       uint64
	Verified     uint64
	CacheHits    uint64
}

func (s *Store) Stats() Stats {
	j := s.log.Journal()
	s.mu.Lock()
	st := Stats{
		DataBlocks:  s.fs.DataBlocks,
		AllocBlocks: s.fs.AllocBlocks,
		Inodes:      s.fs.Inodes,
		AllocInodes: s.fs.AllocInodes,
		BlockSize:   disk.BlockSize,
		Open:        len(s.open),
		Cached:      len(s.cache),
	}
	s.mu.Unlock()
	st.JournalCapacity = j.Capacity()
	st.JournalLength = j.Length()
	st.ReadOnly = j.ReadOnly()
	st.BytesWritten = s.stats.bytesWritten.Load()
	st.Committed = s.stats.committed.Load()
	st.Purged = s.stats.purged.Load()
	st.Verified = s.stats.verified.Load()
	st.CacheHits = s.stats.cacheHits.Load()
	return st
}
