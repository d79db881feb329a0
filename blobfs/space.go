package blobfs

import (
	"github.com/pkg/errors"

	"github.com/mit-pdos/go-blobfs/common"
	"github.com/mit-pdos/go-blobfs/disk"
	"github.com/mit-pdos/go-blobfs/jrnl"
	"github.com/mit-pdos/go-blobfs/super"
	"github.com/mit-pdos/go-blobfs/util"
)

// allocateBlocks reserves n contiguous data blocks, growing the data region
// once if none are free.
func (s *Store) allocateBlocks(n uint64) (common.Bnum, error) {
	s.mu.Lock()
	start, ok := s.blockMap.AllocRange(n)
	s.mu.Unlock()
	if ok {
		return start, nil
	}
	if err := s.extendData(n); err != nil {
		return 0, err
	}
	s.mu.Lock()
	start, ok = s.blockMap.AllocRange(n)
	s.mu.Unlock()
	if !ok {
		return 0, errors.Wrapf(common.ErrOutOfSpace, "%d blocks", n)
	}
	return start, nil
}

func (s *Store) findFreeNode() (common.Inum, bool) {
	for i := range s.inodes {
		if s.inodes[i].IsFree() && !s.nodeMap.IsSet(uint64(i)) {
			return common.Inum(i), true
		}
	}
	return 0, false
}

func (s *Store) reserveNode() (common.Inum, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ino, ok := s.findFreeNode()
	if ok {
		s.nodeMap.MarkUsed(uint64(ino))
		s.inodes[ino].StartBlock = common.StartBlockReserved
	}
	return ino, ok
}

// allocateNode reserves a free inode, growing the inode table once if none
// are free.
func (s *Store) allocateNode() (common.Inum, error) {
	if ino, ok := s.reserveNode(); ok {
		return ino, nil
	}
	if err := s.extendNodes(); err != nil {
		return 0, err
	}
	if ino, ok := s.reserveNode(); ok {
		return ino, nil
	}
	return 0, errors.Wrap(common.ErrOutOfSpace, "no free inodes")
}

// releaseReservation gives back an uncommitted blob's inode and blocks.
func (s *Store) releaseReservation(ino common.Inum, start common.Bnum, n uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > 0 {
		s.blockMap.ClearRange(start, n)
	}
	s.nodeMap.FreeNum(uint64(ino))
	s.inodes[ino] = super.Inode{}
}

// commitZeroed journals zero blocks over [start, start+n) in as many
// entries as needed, without waiting. It is used for space that no metadata
// refers to yet.
func (s *Store) commitZeroed(start common.Bnum, n uint64) error {
	per := s.log.LogSz()
	for n > 0 {
		k := util.Min(n, per)
		op := jrnl.Begin(s.log)
		for i := uint64(0); i < k; i++ {
			op.OverWriteBlock(start+i, make(disk.Block, disk.BlockSize))
		}
		if _, err := op.CommitWait(false); err != nil {
			return err
		}
		start += k
		n -= k
	}
	return nil
}

// commitSuper journals the superblock fs and waits for it.
func (s *Store) commitSuper(fs *super.FsSuper) error {
	op := jrnl.Begin(s.log)
	op.OverWriteBlock(super.SUPERBLOCK, fs.Encode())
	_, err := op.CommitWait(true)
	return err
}

func (s *Store) outOfSpace(format string, args ...interface{}) error {
	return errors.Wrapf(common.ErrOutOfSpace, format, args...)
}

// extendData grows the data region by enough slices for n blocks, and the
// block bitmap with it when needed. The new bitmap blocks are zeroed and the
// superblock updated through the journal before the blocks are handed out.
func (s *Store) extendData(n uint64) error {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	s.mu.Lock()
	fs := *s.fs
	s.mu.Unlock()
	if !fs.Extensible() || s.vm == nil {
		return s.outOfSpace("%d blocks on a fixed volume", n)
	}
	slices := util.RoundUp(n, fs.SliceSize)
	if fs.DatSlices+slices > fs.MaxRegionSlices {
		return s.outOfSpace("data region at %d of %d slices", fs.DatSlices, fs.MaxRegionSlices)
	}
	newData := (fs.DatSlices + slices) * fs.SliceSize
	oldBitmap := util.RoundUp(fs.DataBlocks, common.NBITBLOCK)
	newBitmap := util.RoundUp(newData, common.NBITBLOCK)
	var abm uint64
	if newBitmap > fs.AbmSlices*fs.SliceSize {
		abm = util.RoundUp(newBitmap, fs.SliceSize) - fs.AbmSlices
		if fs.AbmSlices+abm > fs.MaxRegionSlices {
			return s.outOfSpace("block bitmap at %d of %d slices", fs.AbmSlices, fs.MaxRegionSlices)
		}
	}
	size, err := s.d.Size()
	if err != nil {
		return err
	}
	if fs.DataStart()+newData > size {
		return s.outOfSpace("device of %d blocks", size)
	}

	if abm > 0 {
		if err := s.vm.Extend(super.RegionBlockMap, abm); err != nil {
			return s.outOfSpace("extend block bitmap: %v", err)
		}
	}
	if err := s.vm.Extend(super.RegionData, slices); err != nil {
		return s.outOfSpace("extend data: %v", err)
	}
	if newBitmap > oldBitmap {
		if err := s.commitZeroed(fs.BitmapBlockStart()+oldBitmap, newBitmap-oldBitmap); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.fs.AbmSlices += abm
	s.fs.DatSlices += slices
	s.fs.SyncSlices()
	next := *s.fs
	s.mu.Unlock()
	if err := s.commitSuper(&next); err != nil {
		return err
	}
	s.mu.Lock()
	s.blockMap.Grow(next.DataBlocks)
	s.mu.Unlock()
	util.DPrintf(1, "extend: data region now %d blocks\n", next.DataBlocks)
	return nil
}

// extendNodes grows the inode table by one slice.
func (s *Store) extendNodes() error {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	s.mu.Lock()
	fs := *s.fs
	s.mu.Unlock()
	if !fs.Extensible() || s.vm == nil {
		return s.outOfSpace("no free inodes on a fixed volume")
	}
	if fs.InoSlices+1 > fs.MaxRegionSlices || fs.Inodes >= common.MAXINODES {
		return s.outOfSpace("inode table at %d slices", fs.InoSlices)
	}
	if err := s.vm.Extend(super.RegionNodeMap, 1); err != nil {
		return s.outOfSpace("extend inode table: %v", err)
	}
	if err := s.commitZeroed(fs.InodeStart()+fs.InodeBlocks(), fs.SliceSize); err != nil {
		return err
	}

	s.mu.Lock()
	s.fs.InoSlices++
	s.fs.SyncSlices()
	next := *s.fs
	s.mu.Unlock()
	if err := s.commitSuper(&next); err != nil {
		return err
	}
	s.mu.Lock()
	s.nodeMap.Grow(next.Inodes)
	for uint64(len(s.inodes)) < next.Inodes {
		s.inodes = append(s.inodes, super.Inode{})
	}
	s.mu.Unlock()
	util.DPrintf(1, "extend: inode table now %d inodes\n", next.Inodes)
	return nil
}
