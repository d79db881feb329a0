package blobfs

import (
	"github.com/pkg/errors"

	"github.com/mit-pdos/go-blobfs/common"
	"github.com/mit-pdos/go-blobfs/disk"
	"github.com/mit-pdos/go-blobfs/journal"
	"github.com/mit-pdos/go-blobfs/super"
	"github.com/mit-pdos/go-blobfs/util"
	"github.com/mit-pdos/go-blobfs/volume"
)

// layoutFixed sizes a fixed volume to fill a device of size blocks.
func layoutFixed(size uint64, o FormatOptions) (*super.FsSuper, error) {
	inodeBlocks := util.RoundUp(o.Inodes, common.INODEBLK)
	meta := 1 + common.NINODEBITMAP + inodeBlocks + o.JournalBlocks
	if meta >= size {
		return nil, errors.Wrapf(common.ErrInvalidArgument,
			"device of %d blocks too small for %d metadata blocks", size, meta)
	}
	data := size - meta
	// the bitmap comes out of the data blocks it describes
	data -= util.RoundUp(data, common.NBITBLOCK)
	return super.MkFsSuper(data, o.Inodes, o.JournalBlocks), nil
}

// layoutExtensible allocates the initial slices of every region.
func layoutExtensible(vm volume.Manager, o FormatOptions) (*super.FsSuper, error) {
	info, err := vm.Query()
	if err != nil {
		return nil, errors.Wrap(err, "query volume")
	}
	slice := info.SliceSize
	want := map[uint64]uint64{
		super.RegionBlockMap: 1,
		super.RegionNodeMap:  util.RoundUp(util.RoundUp(o.Inodes, common.INODEBLK), slice),
		super.RegionJournal:  util.RoundUp(o.JournalBlocks, slice),
		super.RegionData:     o.DataSlices,
	}
	for _, r := range []uint64{super.RegionBlockMap, super.RegionNodeMap, super.RegionJournal, super.RegionData} {
		have, _, err := vm.QuerySliceMapping(r)
		if err != nil {
			return nil, errors.Wrapf(err, "query region %d", r)
		}
		if want[r] > o.MaxRegionSlices {
			return nil, errors.Wrapf(common.ErrInvalidArgument,
				"region %d needs %d slices, max %d", r, want[r], o.MaxRegionSlices)
		}
		if have > want[r] {
			want[r] = have
			continue
		}
		if have < want[r] {
			if err := vm.Extend(r, want[r]-have); err != nil {
				return nil, errors.Wrapf(common.ErrOutOfSpace, "extend region %d: %v", r, err)
			}
		}
	}
	return super.MkExtensibleSuper(slice, o.MaxRegionSlices,
		want[super.RegionBlockMap], want[super.RegionNodeMap],
		want[super.RegionJournal], want[super.RegionData]), nil
}

func zeroRange(d disk.Disk, start common.Bnum, n uint64) error {
	zero := make(disk.Block, disk.BlockSize)
	for i := uint64(0); i < n; i++ {
		if err := d.Write(start+i, zero); err != nil {
			return err
		}
	}
	return nil
}

// Format writes an empty store to d. With a volume manager the volume is
// extensible and its regions get their initial slices from vm; with a nil
// vm the store fills the device.
func Format(d disk.Disk, vm volume.Manager, o FormatOptions) error {
	o = o.withDefaults()
	size, err := d.Size()
	if err != nil {
		return err
	}
	var fs *super.FsSuper
	if vm == nil {
		fs, err = layoutFixed(size, o)
	} else {
		fs, err = layoutExtensible(vm, o)
	}
	if err != nil {
		return err
	}
	if err := fs.Validate(size); err != nil {
		return errors.Wrap(common.ErrInvalidArgument, err.Error())
	}

	if err := zeroRange(d, fs.BitmapInodeStart(), common.NINODEBITMAP); err != nil {
		return err
	}
	if err := zeroRange(d, fs.BitmapBlockStart(), fs.BitmapBlockBlocks()); err != nil {
		return err
	}
	// data blocks 0 and 1 stand for the free and reserved sentinels
	bm := make(disk.Block, disk.BlockSize)
	bm[0] = 0x3
	if err := d.Write(fs.BitmapBlockStart(), bm); err != nil {
		return err
	}
	if err := zeroRange(d, fs.InodeStart(), fs.InodeBlocks()); err != nil {
		return err
	}
	if err := journal.Format(d, fs.JournalStart(), fs.JournalBlocks); err != nil {
		return err
	}
	if err := d.Write(super.SUPERBLOCK, fs.Encode()); err != nil {
		return err
	}
	if err := d.Barrier(); err != nil {
		return err
	}
	util.DPrintf(1, "format: %d data blocks at %d, %d inodes, journal of %d at %d\n",
		fs.DataBlocks, fs.DataStart(), fs.Inodes, fs.JournalBlocks, fs.JournalStart())
	return nil
}
