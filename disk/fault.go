package disk

import (
	"errors"
	"sync"
)

// ErrInjected is returned by a FaultDisk once it has been told to fail.
var ErrInjected = errors.New("injected disk failure")

const unlimited int64 = -1

// FaultDisk wraps a Disk to simulate crashes and device errors.
//
// After a crash, writes are silently dropped: the underlying disk keeps the
// state it had at the crash point, which is what a remount observes. After a
// failure, writes and barriers return ErrInjected.
type FaultDisk struct {
	Disk
	mu       *sync.Mutex
	writes   uint64
	crashIn  int64 // writes left before the crash
	failIn   int64 // writes left before failures start
	dropping bool
	failing  bool
}

func NewFaultDisk(d Disk) *FaultDisk {
	return &FaultDisk{
		Disk:    d,
		mu:      new(sync.Mutex),
		crashIn: unlimited,
		failIn:  unlimited,
	}
}

// CrashAfter lets n more writes through and drops the rest.
func (d *FaultDisk) CrashAfter(n uint64) {
	d.mu.Lock()
	d.crashIn = int64(n)
	d.dropping = n == 0
	d.mu.Unlock()
}

// FailAfter lets n more writes through and fails the rest.
func (d *FaultDisk) FailAfter(n uint64) {
	d.mu.Lock()
	d.failIn = int64(n)
	d.failing = n == 0
	d.mu.Unlock()
}

// Crashed reports whether writes are being dropped.
func (d *FaultDisk) Crashed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropping
}

// Writes reports how many writes reached the underlying disk.
func (d *FaultDisk) Writes() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writes
}

func (d *FaultDisk) Write(a uint64, v Block) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failing {
		return ErrInjected
	}
	if d.dropping {
		return nil
	}
	if d.failIn == 0 {
		d.failing = true
		return ErrInjected
	}
	if d.crashIn == 0 {
		d.dropping = true
		return nil
	}
	if d.failIn > 0 {
		d.failIn--
	}
	if d.crashIn > 0 {
		d.crashIn--
	}
	d.writes++
	return d.Disk.Write(a, v)
}

func (d *FaultDisk) Barrier() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failing {
		return ErrInjected
	}
	return d.Disk.Barrier()
}
