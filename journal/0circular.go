package journal

import (
	"hash/crc32"

	"github.com/mit-pdos/go-blobfs/common"
	"github.com/mit-pdos/go-blobfs/disk"
)

type Update struct {
	Addr  common.Bnum
	Block disk.Block
}

func MkBlockData(bn common.Bnum, blk disk.Block) Update {
	b := Update{Addr: bn, Block: blk}
	return b
}

// circular is the in-memory copy of the entry buffer.
type circular struct {
	blocks []disk.Block
	start  uint64
	length uint64
}

func mkCircular(n uint64, start uint64) *circular {
	blocks := make([]disk.Block, n)
	for i := range blocks {
		blocks[i] = make(disk.Block, disk.BlockSize)
	}
	return &circular{
		blocks: blocks,
		start:  start % n,
	}
}

func (c *circular) capacity() uint64 {
	return uint64(len(c.blocks))
}

func (c *circular) free() uint64 {
	return c.capacity() - c.length
}

func (c *circular) pos(idx uint64, i uint64) uint64 {
	return (idx + i) % c.capacity()
}

// reserve claims n blocks at the end of the live span; the caller has
// checked free().
func (c *circular) reserve(n uint64) uint64 {
	if n > c.free() {
		panic("reserve")
	}
	idx := c.pos(c.start, c.length)
	c.length += n
	return idx
}

// release frees n blocks from the start of the live span.
func (c *circular) release(n uint64) {
	if n > c.length {
		panic("release")
	}
	c.start = c.pos(c.start, n)
	c.length -= n
}

func (c *circular) put(pos uint64, blk disk.Block) {
	copy(c.blocks[pos], blk)
}

func (c *circular) get(pos uint64) disk.Block {
	return c.blocks[pos]
}

func (c *circular) zero(pos uint64) {
	b := c.blocks[pos]
	for i := range b {
		b[i] = 0
	}
}

// segments splits the run of n blocks at idx into at most two contiguous
// [from, to) index ranges, the second one starting at 0 when the run wraps.
func segments(capacity uint64, idx uint64, n uint64) [][2]uint64 {
	end := idx + n
	if end <= capacity {
		return [][2]uint64{{idx, end}}
	}
	return [][2]uint64{{idx, capacity}, {0, end - capacity}}
}

// checksumBlocks computes the CRC32 over n blocks from idx of a ring.
func checksumBlocks(blocks []disk.Block, idx uint64, n uint64) uint32 {
	var sum uint32
	for _, seg := range segments(uint64(len(blocks)), idx, n) {
		for i := seg[0]; i < seg[1]; i++ {
			sum = crc32.Update(sum, crc32.IEEETable, blocks[i])
		}
	}
	return sum
}

func (c *circular) checksum(idx uint64, n uint64) uint32 {
	return checksumBlocks(c.blocks, idx, n)
}
