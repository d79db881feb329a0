// Package obj atomically installs objects from modified buffers in their
// corresponding metadata blocks and journals the blocks. The upper layers
// are responsible for deciding which objects an operation modifies.
package obj

import (
	"github.com/pkg/errors"

	"github.com/mit-pdos/go-blobfs/addr"
	"github.com/mit-pdos/go-blobfs/buf"
	"github.com/mit-pdos/go-blobfs/common"
	"github.com/mit-pdos/go-blobfs/disk"
	"github.com/mit-pdos/go-blobfs/journal"
	"github.com/mit-pdos/go-blobfs/lockmap"
	"github.com/mit-pdos/go-blobfs/shardmap"
	"github.com/mit-pdos/go-blobfs/util"
)

// Log mediates access to object loading and installation.
//
// The image holds the latest committed contents of every metadata block
// written since mount; blocks never written are read from the disk, which
// is up to date for them once the journal has been replayed.
type Log struct {
	d     disk.Disk
	log   *journal.Journal
	image *shardmap.BlockMap
	locks *lockmap.LockMap
}

func MkLog(d disk.Disk, j *journal.Journal) *Log {
	log := &Log{
		d:     d,
		log:   j,
		image: shardmap.MkBlockMap(),
		locks: lockmap.MkLockMap(),
	}
	return log
}

func (l *Log) Journal() *journal.Journal {
	return l.log
}

// ReadBlock returns the committed contents of metadata block bn. The caller
// holds the block lock or does not care about concurrent commits.
func (l *Log) ReadBlock(bn common.Bnum) (disk.Block, error) {
	if blk, ok := l.image.Read(bn); ok {
		return blk, nil
	}
	blk, err := l.d.Read(bn)
	if err != nil {
		return nil, errors.Wrapf(err, "read metadata block %d", bn)
	}
	return blk, nil
}

// Read a disk object into buf
func (l *Log) Load(addr addr.Addr, sz uint64) (*buf.Buf, error) {
	blk, err := l.ReadBlock(addr.Blkno)
	if err != nil {
		return nil, err
	}
	return buf.MkBufLoad(addr, sz, blk), nil
}

// Installs bufs into their blocks and returns the blocks. A buf may only
// partially update a disk block and several bufs may apply to the same disk
// block. Assumes the caller holds the locks of every block involved.
func (l *Log) installBufs(bufs []*buf.Buf) ([]journal.Update, error) {
	blks := make(map[common.Bnum]disk.Block)
	var order []common.Bnum
	for _, b := range bufs {
		blk, ok := blks[b.Addr.Blkno]
		if !ok {
			if b.Sz == common.NBITBLOCK {
				blk = make(disk.Block, disk.BlockSize)
			} else {
				var err error
				blk, err = l.ReadBlock(b.Addr.Blkno)
				if err != nil {
					return nil, err
				}
			}
			blks[b.Addr.Blkno] = blk
			order = append(order, b.Addr.Blkno)
		}
		b.Install(blk)
	}
	var upds []journal.Update
	for _, bn := range order {
		upds = append(upds, journal.MkBlockData(bn, blks[bn]))
	}
	return upds, nil
}

func blocksOf(bufs []*buf.Buf) []uint64 {
	bnums := make([]uint64, 0, len(bufs))
	for _, b := range bufs {
		bnums = append(bnums, b.Addr.Blkno)
	}
	return bnums
}

// Locks the blocks, installs the buffers into them, and journals the blocks
// as one entry. The image is updated before the locks are dropped, so
// commits touching the same block are journaled in image order.
func (l *Log) doCommit(bufs []*buf.Buf) (*journal.Completion, error) {
	held := l.locks.AcquireAll(blocksOf(bufs))
	defer l.locks.ReleaseAll(held)

	if uint64(len(held)) > journal.MaxEntryBlocks || uint64(len(held))+2 > l.log.Capacity() {
		util.DPrintf(1, "commit of %d blocks: log is too small\n", len(held))
		return nil, errors.Wrapf(common.ErrInvalidArgument, "commit of %d blocks", len(held))
	}

	upds, err := l.installBufs(bufs)
	if err != nil {
		return nil, err
	}
	util.DPrintf(10, "doCommit: %v blocks\n", len(upds))

	c, err := l.log.Enqueue(upds)
	if err != nil {
		return nil, err
	}
	l.image.MultiWrite(upds)
	return c, nil
}

// CommitWait journals the dirty bufs of an operation, and perhaps waits for
// them to be durable. An operation without bufs commits trivially.
func (l *Log) CommitWait(bufs []*buf.Buf, wait bool) (*journal.Completion, error) {
	if len(bufs) == 0 {
		util.DPrintf(10, "commit read-only op\n")
		return l.log.Sync()
	}
	c, err := l.doCommit(bufs)
	if err != nil {
		return nil, err
	}
	if wait {
		if err := c.Wait(); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Flush waits until every commit so far is durable.
func (l *Log) Flush() error {
	c, err := l.log.Sync()
	if err != nil {
		return err
	}
	return c.Wait()
}

// LogSz is the largest number of blocks one operation may touch.
func (l *Log) LogSz() uint64 {
	n := l.log.Capacity() - 2
	if n > journal.MaxEntryBlocks {
		n = journal.MaxEntryBlocks
	}
	return n
}

func (l *Log) Shutdown() error {
	return l.log.Close()
}
