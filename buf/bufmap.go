package buf

import (
	"sort"

	"github.com/mit-pdos/go-blobfs/addr"
)

//
// A map from Addr's to bufs.
//

type BufMap struct {
	addrs map[uint64]*Buf
}

func MkBufMap() *BufMap {
	a := &BufMap{
		addrs: make(map[uint64]*Buf),
	}
	return a
}

func (bmap *BufMap) Insert(buf *Buf) {
	bmap.addrs[buf.Addr.Flatid()] = buf
}

func (bmap *BufMap) Lookup(addr addr.Addr) *Buf {
	return bmap.addrs[addr.Flatid()]
}

func (bmap *BufMap) Del(addr addr.Addr) {
	delete(bmap.addrs, addr.Flatid())
}

func (bmap *BufMap) Ndirty() uint64 {
	n := uint64(0)
	for _, buf := range bmap.addrs {
		if buf.dirty {
			n += 1
		}
	}
	return n
}

// DirtyBlocks is the number of distinct blocks the dirty bufs touch.
func (bmap *BufMap) DirtyBlocks() uint64 {
	blks := make(map[uint64]bool)
	for _, buf := range bmap.addrs {
		if buf.dirty {
			blks[buf.Addr.Blkno] = true
		}
	}
	return uint64(len(blks))
}

// DirtyBufs returns the dirty bufs ordered by address.
func (bmap *BufMap) DirtyBufs() []*Buf {
	var bufs []*Buf
	for _, buf := range bmap.addrs {
		if buf.dirty {
			bufs = append(bufs, buf)
		}
	}
	sort.Slice(bufs, func(i, j int) bool {
		return bufs[i].Addr.Flatid() < bufs[j].Addr.Flatid()
	})
	return bufs
}
