// Package jrnl is the metadata operation API.
//
// It provides atomic operations that are buffered locally and manipulate
// metadata objects (inodes, bitmap bits and whole blocks) via buffers of type
// *buf.Buf.
//
// The caller uses this interface by beginning an operation Op, reading and
// writing objects within it, and finally committing it. Only writes are made
// atomic; reads are cached on first read, so callers must keep the objects
// they read stable (the store does so under its own lock) for the reads to
// come from a consistent view.
//
// Operations support asynchronous durability by setting wait=false in
// CommitWait, which returns once the operation is queued in the journal. The
// operation is visible to later operations immediately, including across
// crashes once its completion finishes. To wait for every operation so far
// call Flush.
package jrnl

import (
	"github.com/mit-pdos/go-blobfs/addr"
	"github.com/mit-pdos/go-blobfs/buf"
	"github.com/mit-pdos/go-blobfs/common"
	"github.com/mit-pdos/go-blobfs/disk"
	"github.com/mit-pdos/go-blobfs/journal"
	"github.com/mit-pdos/go-blobfs/obj"
	"github.com/mit-pdos/go-blobfs/util"
)

// LogBlocks is the maximum number of blocks that can be written in one
// operation, for a large enough journal
const LogBlocks uint64 = journal.MaxEntryBlocks

// Op is an in-progress journal operation.
//
// Call CommitWait to persist the operation's writes.
// To abort the operation simply stop using it.
type Op struct {
	log  *obj.Log
	bufs *buf.BufMap // map of bufs read/written by this operation
}

// Begin starts a local journal operation with no writes.
func Begin(log *obj.Log) *Op {
	trans := &Op{
		log:  log,
		bufs: buf.MkBufMap(),
	}
	util.DPrintf(15, "Begin: %p\n", trans)
	return trans
}

func (op *Op) ReadBuf(addr addr.Addr, sz uint64) (*buf.Buf, error) {
	b := op.bufs.Lookup(addr)
	if b == nil {
		buf, err := op.log.Load(addr, sz)
		if err != nil {
			return nil, err
		}
		op.bufs.Insert(buf)
		return buf, nil
	}
	return b, nil
}

// OverWrite writes an object to addr
func (op *Op) OverWrite(addr addr.Addr, sz uint64, data []byte) {
	var b = op.bufs.Lookup(addr)
	if b == nil {
		b = buf.MkBuf(addr, sz, data)
		b.SetDirty()
		op.bufs.Insert(b)
	} else {
		if sz != b.Sz {
			panic("overwrite")
		}
		b.Data = data
		b.SetDirty()
	}
}

// OverWriteBit sets bit n of the bitmap starting at block start to v.
func (op *Op) OverWriteBit(start common.Bnum, n uint64, v bool) {
	b := buf.MkBitBuf(addr.MkBitAddr(start, n), v)
	op.OverWrite(b.Addr, 1, b.Data)
}

// OverWriteBlock replaces all of block bn.
func (op *Op) OverWriteBlock(bn common.Bnum, blk disk.Block) {
	op.OverWrite(addr.MkAddr(bn, 0), common.NBITBLOCK, blk)
}

// NDirty reports the number of objects written by this operation.
func (op *Op) NDirty() uint64 {
	return op.bufs.Ndirty()
}

// NBlocks reports how many journal blocks the operation takes when
// committed.
func (op *Op) NBlocks() uint64 {
	return op.bufs.DirtyBlocks()
}

// CommitWait commits the writes in the operation to the journal.
//
// If CommitWait returns an error, the operation had no logical effect. This
// can happen, for example, if the operation is too big to fit in the
// journal (common.ErrInvalidArgument), or the journal has failed.
//
// wait=true is a synchronous commit, which is durable as soon as CommitWait
// returns. wait=false returns after queueing; the returned completion
// finishes when the operation is durable.
func (op *Op) CommitWait(wait bool) (*journal.Completion, error) {
	util.DPrintf(15, "Commit %p w %v\n", op, wait)
	return op.log.CommitWait(op.bufs.DirtyBufs(), wait)
}

func (op *Op) Flush() error {
	return op.log.Flush()
}
