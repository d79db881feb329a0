// Package blobfs is a content-addressed blob store over a block device.
//
// Blobs are immutable and named by the root of a Merkle tree over their
// contents. A blob is created with its digest and size, written once, and
// verified before it becomes readable; blobs loaded from disk are verified
// again on first read. Metadata updates (bitmaps, inodes and the superblock)
// go through the write-ahead journal, so each blob commit or purge is atomic
// across crashes.
//
// Locking: Blob.mu is taken before Store.commitMu, which is taken before
// Store.mu. Nothing waits on the journal while holding Store.mu.
package blobfs

import (
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"github.com/mit-pdos/go-blobfs/addr"
	"github.com/mit-pdos/go-blobfs/alloc"
	"github.com/mit-pdos/go-blobfs/common"
	"github.com/mit-pdos/go-blobfs/disk"
	"github.com/mit-pdos/go-blobfs/journal"
	"github.com/mit-pdos/go-blobfs/merkle"
	"github.com/mit-pdos/go-blobfs/obj"
	"github.com/mit-pdos/go-blobfs/super"
	"github.com/mit-pdos/go-blobfs/util"
	"github.com/mit-pdos/go-blobfs/volume"
)

type Store struct {
	// orders superblock snapshots with their journal entries and serializes
	// region growth
	commitMu *sync.Mutex

	mu       *sync.Mutex
	d        disk.Disk
	vm       volume.Manager
	fs       *super.FsSuper
	log      *obj.Log
	nodeMap  *alloc.Alloc // committed or reserved inodes
	blockMap *alloc.Alloc // committed or reserved data blocks
	inodes   []super.Inode

	// region starts never move, not even when an extensible volume grows
	dataStart  common.Bnum
	inodeStart common.Bnum
	bmapStart  common.Bnum

	open       map[merkle.Digest]*Blob
	cache      map[merkle.Digest]*Blob
	cacheOrder []merkle.Digest
	cacheLimit int
	unmounted  bool

	stats storeStats
}

type storeStats struct {
	bytesWritten *atomic.Uint64
	committed    *atomic.Uint64
	purged       *atomic.Uint64
	verified     *atomic.Uint64
	cacheHits    *atomic.Uint64
}

func mkStoreStats() storeStats {
	return storeStats{
		bytesWritten: atomic.NewUint64(0),
		committed:    atomic.NewUint64(0),
		purged:       atomic.NewUint64(0),
		verified:     atomic.NewUint64(0),
		cacheHits:    atomic.NewUint64(0),
	}
}

func readSuper(d disk.Disk) (*super.FsSuper, error) {
	blk, err := d.Read(super.SUPERBLOCK)
	if err != nil {
		return nil, errors.Wrap(err, "read superblock")
	}
	fs, err := super.Decode(blk)
	if err != nil {
		return nil, err
	}
	size, err := d.Size()
	if err != nil {
		return nil, err
	}
	if err := fs.Validate(size); err != nil {
		return nil, err
	}
	return fs, nil
}

// checkSlices compares an extensible superblock with the volume manager.
func checkSlices(fs *super.FsSuper, vm volume.Manager) error {
	if !fs.Extensible() {
		return nil
	}
	if vm == nil {
		return errors.Wrap(common.ErrInvalidArgument, "extensible volume needs a volume manager")
	}
	want := map[uint64]uint64{
		super.RegionBlockMap: fs.AbmSlices,
		super.RegionNodeMap:  fs.InoSlices,
		super.RegionJournal:  fs.JournalSlices,
		super.RegionData:     fs.DatSlices,
	}
	for r, n := range want {
		have, contiguous, err := vm.QuerySliceMapping(r)
		if err != nil {
			return errors.Wrapf(err, "query region %d", r)
		}
		if have != n {
			return errors.Wrapf(common.ErrCorrupt,
				"region %d has %d slices, superblock says %d", r, have, n)
		}
		if !contiguous {
			return errors.Wrapf(common.ErrCorrupt, "region %d is not contiguous", r)
		}
	}
	return nil
}

// Mount opens the store on d. The journal is replayed before any other
// metadata is read. vm may be nil for a fixed volume. The store logs through
// util.DPrintf; the caller picks the logger with util.SetLogger.
func Mount(d disk.Disk, vm volume.Manager, opts ...Option) (*Store, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	fs, err := readSuper(d)
	if err != nil {
		return nil, err
	}
	if err := checkSlices(fs, vm); err != nil {
		return nil, err
	}
	j, err := journal.Open(d, fs.JournalStart(), fs.JournalBlocks)
	if err != nil {
		return nil, err
	}
	// replay may have rewritten the superblock
	fs, err = readSuper(d)
	if err == nil {
		err = checkSlices(fs, vm)
	}
	if err != nil {
		j.Close()
		return nil, err
	}

	s := &Store{
		commitMu:   new(sync.Mutex),
		mu:         new(sync.Mutex),
		d:          d,
		vm:         vm,
		fs:         fs,
		log:        obj.MkLog(d, j),
		open:       make(map[merkle.Digest]*Blob),
		cache:      make(map[merkle.Digest]*Blob),
		dataStart:  fs.DataStart(),
		inodeStart: fs.InodeStart(),
		bmapStart:  fs.BitmapBlockStart(),
		cacheLimit: o.cacheLimit,
		stats:      mkStoreStats(),
	}
	if err := s.load(); err != nil {
		j.Close()
		return nil, err
	}
	util.DPrintf(1, "mount: %d/%d blocks, %d/%d inodes, %d journal entries replayed\n",
		fs.AllocBlocks, fs.DataBlocks, fs.AllocInodes, fs.Inodes, j.Replayed())
	return s, nil
}

// load reads both bitmaps and the inode table and checks that they agree
// with each other and with the superblock counters.
func (s *Store) load() error {
	fs := s.fs
	nbits, err := disk.ReadBatch(s.d, fs.BitmapInodeStart(), common.NINODEBITMAP)
	if err != nil {
		return errors.Wrap(err, "read inode bitmap")
	}
	s.nodeMap = alloc.MkAlloc(nbits, fs.Inodes)

	bbits, err := disk.ReadBatch(s.d, fs.BitmapBlockStart(), util.RoundUp(fs.DataBlocks, common.NBITBLOCK))
	if err != nil {
		return errors.Wrap(err, "read block bitmap")
	}
	s.blockMap = alloc.MkAlloc(bbits, fs.DataBlocks)
	if !s.blockMap.IsSet(common.StartBlockFree) || !s.blockMap.IsSet(common.StartBlockReserved) {
		return errors.Wrap(common.ErrCorrupt, "sentinel data blocks not allocated")
	}

	table, err := disk.ReadBatch(s.d, fs.InodeStart(), util.RoundUp(fs.Inodes, common.INODEBLK))
	if err != nil {
		return errors.Wrap(err, "read inode table")
	}
	s.inodes = make([]super.Inode, fs.Inodes)
	var blocks uint64
	for i := range s.inodes {
		ino := super.DecodeInode(table[uint64(i)*common.INODESZ:])
		if ino.IsReserved() {
			return errors.Wrapf(common.ErrCorrupt, "inode %d reserved on disk", i)
		}
		if ino.IsCommitted() != s.nodeMap.IsSet(uint64(i)) {
			return errors.Wrapf(common.ErrCorrupt, "inode %d disagrees with the inode bitmap", i)
		}
		if ino.IsCommitted() {
			if ino.StartBlock+ino.NumBlocks > fs.DataBlocks {
				return errors.Wrapf(common.ErrCorrupt, "inode %d extends past the data region", i)
			}
			blocks += ino.NumBlocks
		}
		s.inodes[i] = ino
	}
	if s.nodeMap.NumUsed() != fs.AllocInodes {
		return errors.Wrapf(common.ErrCorrupt, "%d inodes in use, superblock says %d",
			s.nodeMap.NumUsed(), fs.AllocInodes)
	}
	if s.blockMap.NumUsed() != fs.AllocBlocks+uint64(common.StartBlockMinimum) || blocks != fs.AllocBlocks {
		return errors.Wrapf(common.ErrCorrupt, "%d blocks in use, inodes hold %d, superblock says %d",
			s.blockMap.NumUsed(), blocks, fs.AllocBlocks)
	}
	return nil
}

// Sync waits until every operation so far is durable.
func (s *Store) Sync() error {
	return s.log.Flush()
}

// SyncAsync calls done once every operation so far is durable.
func (s *Store) SyncAsync(done func(error)) {
	c, err := s.log.Journal().Sync()
	if err != nil {
		done(err)
		return
	}
	go func() {
		done(c.Wait())
	}()
}

// ReadOnly reports whether a write failure has stopped all updates.
func (s *Store) ReadOnly() bool {
	return s.log.Journal().ReadOnly()
}

// Unmount flushes the journal, installs every entry and closes the device.
// Open blobs become unusable.
func (s *Store) Unmount() error {
	s.mu.Lock()
	if s.unmounted {
		s.mu.Unlock()
		return errors.Wrap(common.ErrBadState, "already unmounted")
	}
	s.unmounted = true
	s.mu.Unlock()

	var err error
	if !s.ReadOnly() {
		err = multierr.Append(err, s.Sync())
	}
	err = multierr.Append(err, s.log.Shutdown())
	err = multierr.Append(err, s.d.Close())
	util.DPrintf(1, "unmount: %v\n", err)
	return err
}

func (s *Store) checkMounted() error {
	if s.unmounted {
		return errors.Wrap(common.ErrBadState, "store is unmounted")
	}
	return nil
}

// superWith returns the superblock as it will be once allocBlocks and
// allocInodes change by the given amounts. Called with s.mu held.
func (s *Store) superWith(dblocks int64, dinodes int64) *super.FsSuper {
	fs := *s.fs
	fs.AllocBlocks = uint64(int64(fs.AllocBlocks) + dblocks)
	fs.AllocInodes = uint64(int64(fs.AllocInodes) + dinodes)
	return &fs
}

func (s *Store) inodeAddr(ino common.Inum) addr.Addr {
	return addr.MkInodeAddr(s.inodeStart, ino)
}
