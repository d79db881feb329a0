package journal

import (
	"github.com/pkg/errors"

	"github.com/mit-pdos/go-blobfs/common"
	"github.com/mit-pdos/go-blobfs/disk"
	"github.com/mit-pdos/go-blobfs/util"
)

func (j *Journal) processor() {
	for {
		select {
		case <-j.kick:
		case done := <-j.finished:
			j.mu.Lock()
			j.finish(done)
			j.mu.Unlock()
		case <-j.stop:
			close(j.stopped)
			return
		}
		j.mu.Lock()
		j.process()
		if j.idle() {
			j.condIdle.Broadcast()
		}
		j.mu.Unlock()
	}
}

// finish records the outcome of a writeback job.
func (j *Journal) finish(done jobDone) {
	jb := done.j
	if jb.kind == jobData {
		j.pending--
		if done.err != nil {
			jb.c.complete(errors.Wrap(common.ErrIO, done.err.Error()))
		} else {
			jb.c.complete(nil)
		}
	}
	if done.err != nil {
		j.fail(done.err)
		return
	}
	switch jb.kind {
	case jobJournal:
		jb.e.status = StatusPersisted
	case jobApply, jobSync:
		jb.e.applied = true
	}
}

// fail makes the journal permanently read-only. All buffer space is given
// back, waiting producers are woken to fail, and every outstanding entry
// completes with an error.
func (j *Journal) fail(err error) {
	if j.readOnly.Load() {
		return
	}
	util.DPrintf(0, "journal: write failed, now read-only: %v\n", err)
	j.failure = err
	j.readOnly.Store(true)
	cerr := errors.Wrap(common.ErrIO, err.Error())
	for _, q := range [][]*entry{j.workQ, j.waitQ, j.deleteQ, j.syncQ} {
		for _, e := range q {
			e.status = StatusError
			e.c.complete(cerr)
		}
	}
	j.workQ = nil
	j.waitQ = nil
	j.deleteQ = nil
	j.syncQ = nil
	j.ring.release(j.ring.length)
	j.condSpace.Broadcast()
	j.condIdle.Broadcast()
}

func (j *Journal) entryWrites(e *entry) []Update {
	n := uint64(len(e.targets)) + 2
	base := j.start + entryBase
	writes := make([]Update, 0, n)
	for i := uint64(0); i < n; i++ {
		pos := j.ring.pos(e.headerIndex, i)
		writes = append(writes, Update{Addr: base + pos, Block: j.ring.get(pos)})
	}
	return writes
}

// work fills in the header and commit of each new entry and submits its
// journal write.
func (j *Journal) work() {
	for _, e := range j.workQ {
		if e.status == StatusSync {
			j.wb.submit(&job{kind: jobSync, barrier: true, e: e})
			j.syncQ = append(j.syncQ, e)
			continue
		}
		n := uint64(len(e.targets))
		j.ring.put(e.headerIndex, encodeHeader(e.ts, e.targets))
		sum := j.ring.checksum(e.headerIndex, n+1)
		j.ring.put(e.commitIndex, encodeCommit(e.ts, sum))
		e.status = StatusWaiting
		j.wb.submit(&job{kind: jobJournal, writes: j.entryWrites(e), barrier: true, e: e})
		j.waitQ = append(j.waitQ, e)
	}
	j.workQ = nil
}

// wait completes durable entries in order and submits their installation.
func (j *Journal) wait() {
	for len(j.waitQ) > 0 && j.waitQ[0].status == StatusPersisted {
		e := j.waitQ[0]
		j.waitQ = j.waitQ[1:]
		e.c.complete(nil)
		writes := make([]Update, len(e.targets))
		for i, a := range e.targets {
			writes[i] = Update{Addr: a, Block: j.ring.get(j.ring.pos(e.headerIndex, uint64(i)+1))}
		}
		j.wb.submit(&job{kind: jobApply, writes: writes, barrier: true, e: e})
		j.deleteQ = append(j.deleteQ, e)
	}
}

// reclaim takes installed entries off the delete queue in order and returns
// them.
func (j *Journal) reclaim() []*entry {
	var done []*entry
	for len(j.deleteQ) > 0 && j.deleteQ[0].applied {
		done = append(done, j.deleteQ[0])
		j.deleteQ = j.deleteQ[1:]
	}
	return done
}

// zero clears the header and commit of reclaimed entries. It must be
// submitted after the info block that moves past them: until that info block
// is on disk, replay starts at the first of these headers.
func (j *Journal) zero(ents []*entry) {
	base := j.start + entryBase
	for _, e := range ents {
		j.ring.zero(e.headerIndex)
		j.ring.zero(e.commitIndex)
		j.wb.submit(&job{kind: jobZero, writes: []Update{
			{Addr: base + e.headerIndex, Block: make(disk.Block, disk.BlockSize)},
			{Addr: base + e.commitIndex, Block: make(disk.Block, disk.BlockSize)},
		}})
	}
}

func (j *Journal) syncs() {
	for len(j.syncQ) > 0 && j.syncQ[0].applied {
		j.syncQ[0].c.complete(nil)
		j.syncQ = j.syncQ[1:]
	}
}

func (j *Journal) process() {
	if j.readOnly.Load() {
		return
	}
	j.work()
	j.wait()
	done := j.reclaim()
	j.syncs()
	if len(done) == 0 {
		return
	}
	var n uint64
	for _, e := range done {
		n += e.blocks()
	}
	ts := done[len(done)-1].ts
	info := Info{
		Start:     j.ring.pos(j.ring.start, n),
		Length:    j.ring.length - n,
		Timestamp: ts,
	}
	if info != j.info {
		j.wb.submit(&job{kind: jobInfo, barrier: true,
			writes: []Update{{Addr: j.start + infoBlk, Block: info.encode()}}})
		j.info = info
	}
	j.zero(done)
	j.ring.release(n)
	util.DPrintf(5, "journal: reclaimed %d blocks, start %d ts %d\n", n, info.Start, ts)
	j.condSpace.Broadcast()
}
