// Package volume is the interface to the volume manager that backs an
// extensible volume with fixed-size slices.
package volume

import (
	"sync"

	"github.com/pkg/errors"
)

// ErrNoSpace is returned by Extend when no slices are left.
var ErrNoSpace = errors.New("volume: no free slices")

type Region = uint64

// Info describes the volume's slice geometry.
type Info struct {
	SliceSize  uint64 // in blocks
	FreeSlices uint64
}

// Manager grows regions of a volume one slice at a time.
type Manager interface {
	// Query reports the slice geometry and the slices still free.
	Query() (Info, error)

	// Extend allocates count more slices at the end of region r.
	Extend(r Region, count uint64) error

	// QuerySliceMapping reports how many slices region r has and whether
	// they are mapped contiguously from the start of the region.
	QuerySliceMapping(r Region) (allocated uint64, contiguous bool, err error)
}

var _ Manager = (*Fake)(nil)

// Fake is an in-memory volume manager. It only does the accounting; the
// disk it describes must already cover every region at its maximum size.
type Fake struct {
	mu        *sync.Mutex
	info      Info
	regions   map[Region]uint64
	gaps      map[Region]bool
	failAfter int // Extend calls that still succeed; negative is unlimited
}

func NewFake(sliceSize uint64, freeSlices uint64) *Fake {
	return &Fake{
		mu:        new(sync.Mutex),
		info:      Info{SliceSize: sliceSize, FreeSlices: freeSlices},
		regions:   make(map[Region]uint64),
		gaps:      make(map[Region]bool),
		failAfter: -1,
	}
}

func (f *Fake) Query() (Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.info, nil
}

func (f *Fake) Extend(r Region, count uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAfter == 0 {
		return errors.New("volume: extend refused")
	}
	if count > f.info.FreeSlices {
		return ErrNoSpace
	}
	if f.failAfter > 0 {
		f.failAfter--
	}
	f.info.FreeSlices -= count
	f.regions[r] += count
	return nil
}

func (f *Fake) QuerySliceMapping(r Region) (uint64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.regions[r], !f.gaps[r], nil
}

// FailAfter makes Extend fail once n more calls have succeeded.
func (f *Fake) FailAfter(n int) {
	f.mu.Lock()
	f.failAfter = n
	f.mu.Unlock()
}

// Fragment marks region r as not contiguously mapped.
func (f *Fake) Fragment(r Region) {
	f.mu.Lock()
	f.gaps[r] = true
	f.mu.Unlock()
}
