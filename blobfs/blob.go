package blobfs

import (
	"io"
	"sync"

	"github.com/pkg/errors"

	"github.com/mit-pdos/go-blobfs/common"
	"github.com/mit-pdos/go-blobfs/disk"
	"github.com/mit-pdos/go-blobfs/journal"
	"github.com/mit-pdos/go-blobfs/jrnl"
	"github.com/mit-pdos/go-blobfs/merkle"
	"github.com/mit-pdos/go-blobfs/super"
	"github.com/mit-pdos/go-blobfs/util"
)

type BlobState uint64

const (
	StateEmpty BlobState = iota
	StateDataWrite
	StateReadable
	StateError
)

func (st BlobState) String() string {
	switch st {
	case StateEmpty:
		return "empty"
	case StateDataWrite:
		return "data-write"
	case StateReadable:
		return "readable"
	case StateError:
		return "error"
	}
	return "unknown"
}

// Blob is an open blob. Its buffer holds the Merkle tree blocks followed by
// the data blocks, the same layout the blob has on disk.
type Blob struct {
	s        *Store
	digest   merkle.Digest
	readable chan struct{}

	// guarded by s.mu
	state     BlobState
	err       error
	refs      int
	deleted   bool
	reserved  bool
	committed *journal.Completion

	// set once space is allocated or the blob is loaded
	ino     common.Inum
	size    uint64
	start   common.Bnum
	nblocks uint64

	mu      *sync.Mutex
	written uint64
	buf     []byte
	loaded  bool
	builder *merkle.Builder
	flushed uint64 // data blocks handed to writeback
}

func mkBlob(s *Store, d merkle.Digest) *Blob {
	return &Blob{
		s:        s,
		digest:   d,
		readable: make(chan struct{}),
		state:    StateEmpty,
		mu:       new(sync.Mutex),
	}
}

// mkLoadedBlob describes a committed blob found in the inode table. Its
// buffer is read and verified on first access.
func mkLoadedBlob(s *Store, ino common.Inum, inode super.Inode) *Blob {
	b := mkBlob(s, inode.Digest)
	b.state = StateReadable
	b.ino = ino
	b.size = inode.Size
	b.start = inode.StartBlock
	b.nblocks = inode.NumBlocks
	close(b.readable)
	return b
}

func (b *Blob) Digest() merkle.Digest {
	return b.digest
}

// Size is the declared size; zero before SpaceAllocate.
func (b *Blob) Size() uint64 {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	return b.size
}

func (b *Blob) State() BlobState {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	return b.state
}

// Readable is closed once the blob's data has been verified.
func (b *Blob) Readable() <-chan struct{} {
	return b.readable
}

// Close drops this reference to the blob.
func (b *Blob) Close() error {
	return b.s.release(b)
}

// durable reports whether the blob's commit, if any, is on disk. Called with
// s.mu held.
func (b *Blob) durable() bool {
	if b.committed == nil {
		return true
	}
	select {
	case <-b.committed.Done():
		return true
	default:
		return false
	}
}

func (b *Blob) treeBlocks() uint64 {
	return merkle.TreeBlocks(b.size)
}

func (b *Blob) badState() error {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	if b.state == StateError && b.err != nil {
		return b.err
	}
	return errors.Wrapf(common.ErrBadState, "blob %v is %v", b.digest, b.state)
}

// SpaceAllocate reserves an inode and enough blocks for size bytes of data
// and their Merkle tree. A zero-size blob takes no blocks and is complete
// right away.
func (b *Blob) SpaceAllocate(size uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.s
	if b.State() != StateEmpty {
		return b.badState()
	}
	var nblocks uint64
	if size > 0 {
		nblocks = merkle.TreeBlocks(size) + util.RoundUp(size, disk.BlockSize)
	}
	ino, err := s.allocateNode()
	if err != nil {
		return err
	}
	start := common.StartBlockMinimum
	if nblocks > 0 {
		start, err = s.allocateBlocks(nblocks)
		if err != nil {
			s.releaseReservation(ino, 0, 0)
			return err
		}
	}

	s.mu.Lock()
	b.ino = ino
	b.size = size
	b.start = start
	b.nblocks = nblocks
	b.reserved = true
	b.state = StateDataWrite
	s.inodes[ino] = super.Inode{
		Digest:     b.digest,
		Size:       size,
		StartBlock: common.StartBlockReserved,
		NumBlocks:  nblocks,
	}
	s.mu.Unlock()

	b.buf = make([]byte, nblocks*disk.BlockSize)
	b.builder = merkle.NewBuilder(size)
	util.DPrintf(5, "allocate: %v inode %d, %d blocks at %d\n", b.digest, ino, nblocks, start)
	if size == 0 {
		return b.complete()
	}
	return nil
}

// Write appends p to the blob. The write that supplies the last byte
// verifies the data against the digest and commits the blob.
func (b *Blob) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.State() != StateDataWrite {
		return 0, b.badState()
	}
	n := uint64(len(p))
	if util.SumOverflows(b.written, n) || b.written+n > b.size {
		return 0, errors.Wrapf(common.ErrInvalidArgument,
			"write of %d bytes at %d past size %d", n, b.written, b.size)
	}
	copy(b.buf[b.treeBlocks()*disk.BlockSize+b.written:], p)
	if _, err := b.builder.Write(p); err != nil {
		return 0, err
	}
	b.written += n
	b.s.stats.bytesWritten.Add(n)
	if b.written < b.size {
		return len(p), b.writeBehind(b.written / disk.BlockSize)
	}
	return len(p), b.complete()
}

// writeBehind queues the data blocks below upto that are not queued yet.
func (b *Blob) writeBehind(upto uint64) error {
	if upto <= b.flushed {
		return nil
	}
	tree := b.treeBlocks()
	var upds []journal.Update
	for i := b.flushed; i < upto; i++ {
		blk := b.buf[(tree+i)*disk.BlockSize : (tree+i+1)*disk.BlockSize]
		upds = append(upds, journal.MkBlockData(b.s.dataStart+b.start+tree+i, blk))
	}
	if _, err := b.s.log.Journal().WriteData(upds); err != nil {
		return err
	}
	b.flushed = upto
	return nil
}

// fail moves the blob to Error and gives back its reservation.
func (b *Blob) fail(err error) error {
	s := b.s
	s.mu.Lock()
	b.state = StateError
	b.err = err
	release := b.reserved
	b.reserved = false
	s.mu.Unlock()
	if release {
		s.releaseReservation(b.ino, b.start, b.nblocks)
	}
	util.DPrintf(1, "blob %v: %v\n", b.digest, err)
	return err
}

func (b *Blob) complete() error {
	tree := b.treeBlocks()
	root, err := b.builder.Finish(b.buf[:tree*disk.BlockSize])
	if err != nil {
		return b.fail(err)
	}
	if root != b.digest {
		return b.fail(errors.Wrapf(common.ErrIntegrity,
			"blob %v: data hashes to %v", b.digest, root))
	}
	if err := b.writeBehind(b.nblocks - tree); err != nil {
		return b.fail(err)
	}
	if tree > 0 {
		var upds []journal.Update
		for i := uint64(0); i < tree; i++ {
			upds = append(upds, journal.MkBlockData(b.s.dataStart+b.start+i,
				b.buf[i*disk.BlockSize:(i+1)*disk.BlockSize]))
		}
		if _, err := b.s.log.Journal().WriteData(upds); err != nil {
			return b.fail(err)
		}
	}
	b.loaded = true
	b.builder = nil
	if err := b.s.commitBlob(b); err != nil {
		return b.fail(err)
	}
	return nil
}

// commitBlob journals the blob's bitmap bits, inode and the superblock
// counters, and makes the blob readable.
func (s *Store) commitBlob(b *Blob) error {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	s.mu.Lock()
	fs := s.superWith(int64(b.nblocks), 1)
	s.mu.Unlock()
	inode := super.Inode{
		Digest:     b.digest,
		Size:       b.size,
		StartBlock: b.start,
		NumBlocks:  b.nblocks,
	}
	op := jrnl.Begin(s.log)
	for i := uint64(0); i < b.nblocks; i++ {
		op.OverWriteBit(s.bmapStart, b.start+i, true)
	}
	op.OverWriteBit(super.INODEMAP, uint64(b.ino), true)
	op.OverWrite(s.inodeAddr(b.ino), common.INODESZ*8, inode.Encode())
	op.OverWriteBlock(super.SUPERBLOCK, fs.Encode())
	c, err := op.CommitWait(false)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.fs.AllocBlocks = fs.AllocBlocks
	s.fs.AllocInodes = fs.AllocInodes
	s.inodes[b.ino] = inode
	b.reserved = false
	b.committed = c
	b.state = StateReadable
	close(b.readable)
	s.mu.Unlock()
	s.stats.committed.Inc()
	util.DPrintf(5, "commit: %v inode %d\n", b.digest, b.ino)
	return nil
}

// load reads a committed blob from disk and verifies its whole tree.
func (b *Blob) load() error {
	if b.loaded {
		return nil
	}
	s := b.s
	raw, err := disk.ReadBatch(s.d, s.dataStart+b.start, b.nblocks)
	if err != nil {
		return errors.Wrapf(err, "read blob %v", b.digest)
	}
	treeLen := b.treeBlocks() * disk.BlockSize
	tree := raw[:treeLen]
	data := raw[treeLen : treeLen+b.size]
	if err := merkle.Verify(tree, data, b.digest); err != nil {
		s.mu.Lock()
		b.state = StateError
		b.err = errors.Wrapf(err, "blob %v", b.digest)
		s.mu.Unlock()
		return b.err
	}
	b.buf = raw
	b.loaded = true
	s.stats.verified.Inc()
	return nil
}

func (b *Blob) data() []byte {
	off := b.treeBlocks() * disk.BlockSize
	return b.buf[off : off+b.size]
}

func (b *Blob) ensureReadable() error {
	if b.State() != StateReadable {
		return b.badState()
	}
	return b.load()
}

// Read returns up to n bytes at off, fewer at the end of the blob.
func (b *Blob) Read(off uint64, n uint64) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.ensureReadable(); err != nil {
		return nil, err
	}
	if off > b.size {
		return nil, errors.Wrapf(common.ErrInvalidArgument, "read at %d past size %d", off, b.size)
	}
	end := b.size
	if !util.SumOverflows(off, n) && off+n < end {
		end = off + n
	}
	return util.CloneByteSlice(b.data()[off:end]), nil
}

// ReadAt implements io.ReaderAt.
func (b *Blob) ReadAt(p []byte, off int64) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.ensureReadable(); err != nil {
		return 0, err
	}
	if off < 0 {
		return 0, errors.Wrapf(common.ErrInvalidArgument, "read at %d", off)
	}
	if uint64(off) >= b.size {
		return 0, io.EOF
	}
	n := copy(p, b.data()[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}
