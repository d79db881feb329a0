package journal

import (
	"sync"

	"github.com/mit-pdos/go-blobfs/disk"
	"github.com/mit-pdos/go-blobfs/util"
)

type jobKind uint64

const (
	jobJournal jobKind = iota // entry blocks to the journal region
	jobApply                  // entry payload to its targets
	jobZero                   // clear header and commit of a reclaimed entry
	jobInfo                   // info block
	jobData                   // unjournaled data
	jobSync                   // ordering barrier
)

type job struct {
	kind    jobKind
	writes  []Update
	barrier bool
	e       *entry
	c       *Completion
}

type jobDone struct {
	j   *job
	err error
}

// writeback executes jobs one at a time in submission order. After the
// first failure every later job fails with the same error without touching
// the disk.
type writeback struct {
	mu       *sync.Mutex
	cond     *sync.Cond
	d        disk.Disk
	q        []*job
	shutdown bool
	failed   error
	out      chan<- jobDone
	stopped  chan struct{}
}

func mkWriteback(d disk.Disk, out chan<- jobDone) *writeback {
	mu := new(sync.Mutex)
	wb := &writeback{
		mu:      mu,
		cond:    sync.NewCond(mu),
		d:       d,
		out:     out,
		stopped: make(chan struct{}),
	}
	go wb.run()
	return wb
}

func (wb *writeback) submit(j *job) {
	wb.mu.Lock()
	wb.q = append(wb.q, j)
	wb.cond.Signal()
	wb.mu.Unlock()
}

func (wb *writeback) execute(j *job) error {
	for _, u := range j.writes {
		if err := wb.d.Write(u.Addr, u.Block); err != nil {
			return err
		}
	}
	if j.barrier {
		return wb.d.Barrier()
	}
	return nil
}

func (wb *writeback) run() {
	wb.mu.Lock()
	for {
		for len(wb.q) == 0 && !wb.shutdown {
			wb.cond.Wait()
		}
		if len(wb.q) == 0 {
			break
		}
		j := wb.q[0]
		wb.q = wb.q[1:]
		failed := wb.failed
		wb.mu.Unlock()

		err := failed
		if err == nil {
			err = wb.execute(j)
			if err != nil {
				util.DPrintf(1, "writeback: job %d: %v\n", j.kind, err)
			}
		}
		wb.out <- jobDone{j: j, err: err}

		wb.mu.Lock()
		if err != nil && wb.failed == nil {
			wb.failed = err
		}
	}
	wb.mu.Unlock()
	close(wb.stopped)
}

// stop waits for every submitted job to finish.
func (wb *writeback) stop() {
	wb.mu.Lock()
	wb.shutdown = true
	wb.cond.Signal()
	wb.mu.Unlock()
	<-wb.stopped
}
