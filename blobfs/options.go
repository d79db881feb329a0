package blobfs

import (
	"github.com/mit-pdos/go-blobfs/common"
)

type options struct {
	cacheLimit int
}

// Option configures a mounted Store.
type Option func(*options)

func defaultOptions() options {
	return options{
		cacheLimit: common.DefaultCacheLimit,
	}
}

// CacheLimit bounds how many closed, verified blobs stay in memory.
func CacheLimit(n int) Option {
	return func(o *options) {
		if n < 0 {
			n = 0
		}
		o.cacheLimit = n
	}
}

// FormatOptions sizes a new volume. Zero fields take the defaults in common.
type FormatOptions struct {
	Inodes          uint64
	JournalBlocks   uint64 // including the info block
	SliceSize       uint64 // extensible volumes only; the volume manager's wins
	MaxRegionSlices uint64
	DataSlices      uint64 // initial data slices of an extensible volume
}

func (o FormatOptions) withDefaults() FormatOptions {
	if o.Inodes == 0 {
		o.Inodes = common.DefaultInodes
	}
	if o.JournalBlocks == 0 {
		o.JournalBlocks = common.DefaultJournalBlocks
	}
	if o.SliceSize == 0 {
		o.SliceSize = common.DefaultSliceSize
	}
	if o.MaxRegionSlices == 0 {
		o.MaxRegionSlices = common.DefaultMaxRegionSlices
	}
	if o.DataSlices == 0 {
		o.DataSlices = 1
	}
	return o
}
