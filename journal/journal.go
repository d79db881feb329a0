package journal

import (
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"github.com/mit-pdos/go-blobfs/common"
	"github.com/mit-pdos/go-blobfs/disk"
	"github.com/mit-pdos/go-blobfs/util"
)

type Journal struct {
	mu    *sync.Mutex
	d     disk.Disk
	start common.Bnum
	ring  *circular
	info  Info // last info block handed to writeback

	ts  uint64 // last timestamp handed out
	seq uint64

	// space admission, in arrival order
	condSpace  *sync.Cond
	nextTicket uint64
	serving    uint64

	workQ   []*entry
	waitQ   []*entry
	deleteQ []*entry
	syncQ   []*entry
	pending uint64 // data jobs in flight

	condIdle *sync.Cond
	closing  bool
	readOnly *atomic.Bool
	failure  error

	kick     chan struct{}
	finished chan jobDone
	stop     chan struct{}
	stopped  chan struct{}
	wb       *writeback

	replayed uint64
}

// Open loads the journal of nblocks blocks at start, replays any entries
// left from before a crash and starts the processing goroutines.
func Open(d disk.Disk, start common.Bnum, nblocks uint64) (*Journal, error) {
	if nblocks < MinBlocks {
		return nil, errors.Wrapf(common.ErrInvalidArgument, "journal of %d blocks", nblocks)
	}
	info, err := LoadInfo(d, start)
	if err != nil {
		return nil, err
	}
	res, err := replay(d, start, nblocks, info)
	if err != nil {
		return nil, err
	}
	mu := new(sync.Mutex)
	j := &Journal{
		mu:       mu,
		d:        d,
		start:    start,
		ring:     mkCircular(nblocks-uint64(entryBase), res.info.Start),
		info:     Info{Start: res.info.Start, Timestamp: res.info.Timestamp},
		ts:       res.maxTs,
		readOnly: atomic.NewBool(false),
		kick:     make(chan struct{}, 1),
		finished: make(chan jobDone),
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
		replayed: res.entries,
	}
	j.condSpace = sync.NewCond(mu)
	j.condIdle = sync.NewCond(mu)
	j.wb = mkWriteback(d, j.finished)
	go j.processor()
	util.DPrintf(1, "journal: open at %d, %d blocks, start %d ts %d\n",
		start, nblocks, res.info.Start, j.ts)
	return j, nil
}

// Capacity is the number of entry blocks in the buffer.
func (j *Journal) Capacity() uint64 {
	return j.ring.capacity()
}

// Length is the number of buffer blocks held by live entries.
func (j *Journal) Length() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.ring.length
}

// Replayed is the number of entries installed by replay when opening.
func (j *Journal) Replayed() uint64 {
	return j.replayed
}

// ReadOnly reports whether a write failure has stopped the journal.
func (j *Journal) ReadOnly() bool {
	return j.readOnly.Load()
}

func (j *Journal) signal() {
	select {
	case j.kick <- struct{}{}:
	default:
	}
}

func (j *Journal) checkWritable() error {
	if j.readOnly.Load() {
		return errors.Wrap(common.ErrBadState, "journal is read-only")
	}
	if j.closing {
		return errors.Wrap(common.ErrBadState, "journal is closing")
	}
	return nil
}

// waitSpace blocks until n buffer blocks are free and every producer that
// arrived earlier has been served. Called with j.mu held.
func (j *Journal) waitSpace(n uint64) error {
	ticket := j.nextTicket
	j.nextTicket++
	for {
		if j.readOnly.Load() {
			j.serving++
			j.condSpace.Broadcast()
			return errors.Wrap(common.ErrBadState, "journal is read-only")
		}
		if j.serving == ticket && j.ring.free() >= n {
			break
		}
		j.condSpace.Wait()
	}
	j.serving++
	j.condSpace.Broadcast()
	return nil
}

// Enqueue journals updates as one atomic entry. It blocks while the buffer
// lacks space for the entry. The completion finishes once the entry is
// durable in the journal; installing it at its targets happens afterwards
// in the background. An empty update list behaves like Sync.
func (j *Journal) Enqueue(updates []Update) (*Completion, error) {
	if len(updates) == 0 {
		return j.Sync()
	}
	n := uint64(len(updates))
	if n > MaxEntryBlocks || n+2 > j.ring.capacity() {
		return nil, errors.Wrapf(common.ErrInvalidArgument,
			"entry of %d blocks exceeds journal of %d", n, j.ring.capacity())
	}
	targets := make([]common.Bnum, n)
	for i, u := range updates {
		if uint64(len(u.Block)) != disk.BlockSize {
			return nil, errors.Wrapf(common.ErrInvalidArgument, "update of %d bytes", len(u.Block))
		}
		targets[i] = u.Addr
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.checkWritable(); err != nil {
		return nil, err
	}
	if err := j.waitSpace(n + 2); err != nil {
		return nil, err
	}
	idx := j.ring.reserve(n + 2)
	for i, u := range updates {
		j.ring.put(j.ring.pos(idx, uint64(i)+1), u.Block)
	}
	j.ts++
	j.seq++
	e := &entry{
		status:      StatusInit,
		seq:         j.seq,
		ts:          j.ts,
		headerIndex: idx,
		commitIndex: j.ring.pos(idx, n+1),
		targets:     targets,
		c:           mkCompletion(),
	}
	j.workQ = append(j.workQ, e)
	util.DPrintf(5, "journal: enqueue ts %d at %d, %d blocks\n", e.ts, idx, n)
	j.signal()
	return e.c, nil
}

// WriteData writes updates directly to their targets, ordered after every
// journal write submitted before it. Nothing about it is journaled.
func (j *Journal) WriteData(updates []Update) (*Completion, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.checkWritable(); err != nil {
		return nil, err
	}
	c := mkCompletion()
	j.pending++
	j.wb.submit(&job{kind: jobData, writes: updates, c: c})
	return c, nil
}

// Sync returns a completion that finishes once everything enqueued or
// written before it is durable.
func (j *Journal) Sync() (*Completion, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.checkWritable(); err != nil {
		return nil, err
	}
	j.seq++
	e := &entry{status: StatusSync, seq: j.seq, c: mkCompletion()}
	j.workQ = append(j.workQ, e)
	j.signal()
	return e.c, nil
}

func (j *Journal) idle() bool {
	return len(j.workQ) == 0 && len(j.waitQ) == 0 && len(j.deleteQ) == 0 &&
		len(j.syncQ) == 0 && j.pending == 0 && j.nextTicket == j.serving
}

// Close waits for every entry to be installed and reclaimed, then stops the
// goroutines. It reports the failure that made the journal read-only, if any.
func (j *Journal) Close() error {
	j.mu.Lock()
	j.closing = true
	for !j.idle() && !j.readOnly.Load() {
		j.condIdle.Wait()
	}
	j.mu.Unlock()

	j.wb.stop()
	close(j.stop)
	<-j.stopped

	j.mu.Lock()
	defer j.mu.Unlock()
	util.DPrintf(1, "journal: closed at start %d ts %d\n", j.info.Start, j.ts)
	if j.failure != nil {
		return errors.Wrap(common.ErrIO, j.failure.Error())
	}
	return nil
}
