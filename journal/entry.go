package journal

import (
	"sync"

	"github.com/mit-pdos/go-blobfs/common"
)

// Completion reports the outcome of an asynchronous journal operation.
type Completion struct {
	once sync.Once
	done chan struct{}
	err  error
}

func mkCompletion() *Completion {
	return &Completion{done: make(chan struct{})}
}

func (c *Completion) complete(err error) {
	c.once.Do(func() {
		c.err = err
		close(c.done)
	})
}

// Done is closed once the operation has finished.
func (c *Completion) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the operation finishes and returns its error.
func (c *Completion) Wait() error {
	<-c.done
	return c.err
}

type EntryStatus uint64

const (
	StatusInit      EntryStatus = iota // payload copied into the buffer
	StatusWaiting                      // journal write submitted
	StatusPersisted                    // journal write and barrier done
	StatusSync                         // pure ordering point, no payload
	StatusError
)

type entry struct {
	status      EntryStatus
	seq         uint64
	ts          uint64
	headerIndex uint64
	commitIndex uint64
	targets     []common.Bnum
	applied     bool
	c           *Completion
}

// blocks is the buffer space taken by the entry.
func (e *entry) blocks() uint64 {
	if e.status == StatusSync {
		return 0
	}
	return uint64(len(e.targets)) + 2
}
