package blobfs

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mit-pdos/go-blobfs/common"
	"github.com/mit-pdos/go-blobfs/disk"
	"github.com/mit-pdos/go-blobfs/merkle"
	"github.com/mit-pdos/go-blobfs/super"
	"github.com/mit-pdos/go-blobfs/volume"
)

// crashAt formats a fresh disk, stores one blob that is already durable,
// then crashes after n more writes while storing a second blob and
// unlinking the first.
func crashAt(t *testing.T, n uint64) {
	assert := assert.New(t)
	d := disk.NewMemDisk(diskBlocks)
	require.NoError(t, Format(d, nil, smallFormat))
	f := disk.NewFaultDisk(d)
	s, err := Mount(f, nil)
	require.NoError(t, err)

	old := randData(disk.BlockSize + 1)
	oldD := merkle.DigestOf(old)
	b, err := s.Create(oldD, uint64(len(old)))
	require.NoError(t, err)
	_, err = b.Write(old)
	require.NoError(t, err)
	require.NoError(t, b.Close())
	require.NoError(t, s.Sync())

	f.CrashAfter(n)
	data := randData(3 * disk.BlockSize)
	dig := merkle.DigestOf(data)
	b, err = s.Create(dig, uint64(len(data)))
	require.NoError(t, err)
	_, err = b.Write(data)
	assert.NoError(err)
	assert.NoError(b.Close())
	assert.NoError(s.Unlink(oldD))
	s.Sync()
	durable := !f.Crashed()
	s.Unmount()

	s, err = Mount(d, nil)
	require.NoError(t, err, "mount after crash at %d", n)
	defer s.Unmount()
	assert.NoError(s.Check(), "crash at %d", n)

	check := func(dig merkle.Digest, data []byte) bool {
		b, err := s.Open(dig)
		if err != nil {
			assert.Equal(common.ErrNotFound, errors.Cause(err))
			return false
		}
		defer b.Close()
		got, err := b.Read(0, b.Size())
		assert.NoError(err, "crash at %d", n)
		assert.Equal(data, got)
		return true
	}
	present := check(dig, data)
	oldPresent := check(oldD, old)
	if durable {
		assert.True(present)
		assert.False(oldPresent)
	}
	var blocks uint64
	if present {
		blocks += 4
	}
	if oldPresent {
		blocks += 3
	}
	assert.Equal(blocks, s.Stats().AllocBlocks, "crash at %d", n)
}

func TestCrashConsistency(t *testing.T) {
	for n := uint64(0); n < 30; n++ {
		crashAt(t, n)
	}
}

func TestWriteFailureReadOnly(t *testing.T) {
	assert := assert.New(t)
	d := disk.NewMemDisk(diskBlocks)
	assert.NoError(Format(d, nil, smallFormat))
	f := disk.NewFaultDisk(d)
	s, err := Mount(f, nil)
	assert.NoError(err)

	f.FailAfter(0)
	data := randData(100)
	b, err := s.Create(merkle.DigestOf(data), uint64(len(data)))
	if err == nil {
		b.Write(data)
		b.Close()
	}
	assert.Error(s.Sync())
	assert.True(s.ReadOnly())
	_, err = s.Create(merkle.EmptyRoot(), 0)
	if assert.Error(err) {
		assert.Equal(common.ErrBadState, errors.Cause(err))
	}
	assert.Error(s.Unmount())

	// nothing of the failed commit is visible
	s, err = Mount(d, nil)
	assert.NoError(err)
	assert.Len(s.List(), 0)
	assert.NoError(s.Check())
	assert.NoError(s.Unmount())
}

const (
	sliceSize uint64 = 8
	maxSlices uint64 = 8
	// data region starts at 4*sliceSize*maxSlices and grows to maxSlices
	extDiskBlocks = 5 * sliceSize * maxSlices
)

var extFormat = FormatOptions{Inodes: 64, JournalBlocks: 16, MaxRegionSlices: maxSlices}

func mkExtensible(t *testing.T) (disk.Disk, *volume.Fake, *Store) {
	d := disk.NewMemDisk(extDiskBlocks)
	vm := volume.NewFake(sliceSize, 100)
	require.NoError(t, Format(d, vm, extFormat))
	s, err := Mount(d, vm)
	require.NoError(t, err)
	return d, vm, s
}

func putBlob(t *testing.T, s *Store, data []byte) merkle.Digest {
	dig := merkle.DigestOf(data)
	b, err := s.Create(dig, uint64(len(data)))
	require.NoError(t, err)
	_, err = b.Write(data)
	require.NoError(t, err)
	require.NoError(t, b.Close())
	return dig
}

func TestExtensibleGrowth(t *testing.T) {
	assert := assert.New(t)
	d, vm, s := mkExtensible(t)
	assert.Equal(sliceSize, s.Stats().DataBlocks)

	a := putBlob(t, s, randData(4*disk.BlockSize))
	// needs a second data slice
	b := putBlob(t, s, randData(4*disk.BlockSize))
	assert.Equal(2*sliceSize, s.Stats().DataBlocks)
	n, contiguous, err := vm.QuerySliceMapping(super.RegionData)
	assert.NoError(err)
	assert.Equal(uint64(2), n)
	assert.True(contiguous)
	assert.NoError(s.Check())
	assert.NoError(s.Unmount())

	s, err = Mount(d, vm)
	if !assert.NoError(err) {
		return
	}
	assert.Equal(2*sliceSize, s.Stats().DataBlocks)
	for _, dig := range []merkle.Digest{a, b} {
		bl, err := s.Open(dig)
		assert.NoError(err)
		_, err = bl.Read(0, 1)
		assert.NoError(err)
		assert.NoError(bl.Close())
	}
	assert.NoError(s.Check())
	assert.NoError(s.Unmount())
}

func TestExtensibleInodes(t *testing.T) {
	assert := assert.New(t)
	d, vm, s := mkExtensible(t)
	inodes := s.Stats().Inodes
	a := putBlob(t, s, randData(10))
	assert.NoError(s.extendNodes())
	assert.Equal(2*inodes, s.Stats().Inodes)
	n, _, err := vm.QuerySliceMapping(super.RegionNodeMap)
	assert.NoError(err)
	assert.Equal(uint64(2), n)
	assert.NoError(s.Check())
	assert.NoError(s.Unmount())

	s, err = Mount(d, vm)
	if !assert.NoError(err) {
		return
	}
	assert.Equal(2*inodes, s.Stats().Inodes)
	b, err := s.Open(a)
	assert.NoError(err)
	assert.NoError(b.Close())
	assert.NoError(s.Unmount())
}

func TestExtendRefused(t *testing.T) {
	assert := assert.New(t)
	_, vm, s := mkExtensible(t)
	vm.FailAfter(0)
	putBlob(t, s, randData(4*disk.BlockSize))
	data := randData(4 * disk.BlockSize)
	_, err := s.Create(merkle.DigestOf(data), uint64(len(data)))
	assert.Equal(common.ErrOutOfSpace, errors.Cause(err))
	assert.Equal(sliceSize, s.Stats().DataBlocks)
	assert.NoError(s.Check())
	assert.NoError(s.Unmount())
}

func TestMountSliceMismatch(t *testing.T) {
	assert := assert.New(t)
	d, _, s := mkExtensible(t)
	assert.NoError(s.Unmount())

	other := volume.NewFake(sliceSize, 100)
	_, err := Mount(d, other)
	assert.Equal(common.ErrCorrupt, errors.Cause(err))

	_, err = Mount(d, nil)
	assert.Equal(common.ErrInvalidArgument, errors.Cause(err))
}

func TestMountFragmented(t *testing.T) {
	assert := assert.New(t)
	d, vm, s := mkExtensible(t)
	assert.NoError(s.Unmount())
	vm.Fragment(super.RegionData)
	_, err := Mount(d, vm)
	assert.Equal(common.ErrCorrupt, errors.Cause(err))
}
