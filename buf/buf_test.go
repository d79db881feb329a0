package buf

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mit-pdos/go-blobfs/addr"
	"github.com/mit-pdos/go-blobfs/common"
	"github.com/mit-pdos/go-blobfs/disk"
)

func TestInstallOneBit(t *testing.T) {
	assert.Equal(t, byte(0x10), installOneBit(byte(0x1F), byte(0x0), 4))
	assert.Equal(t, byte(0x0F), installOneBit(byte(0xF), byte(0x1F), 4))
	assert.Equal(t, byte(0x1F), installOneBit(byte(0x0), byte(0x1F), 5))
}

func TestInstallBits(t *testing.T) {
	blk := make(disk.Block, disk.BlockSize)
	MkBitBuf(addr.MkBitAddr(0, 10), true).Install(blk)
	MkBitBuf(addr.MkBitAddr(0, 11), true).Install(blk)
	assert.Equal(t, byte(0x0C), blk[1])
	MkBitBuf(addr.MkBitAddr(0, 10), false).Install(blk)
	assert.Equal(t, byte(0x08), blk[1])
}

func TestInstallInode(t *testing.T) {
	blk := make(disk.Block, disk.BlockSize)
	data := make([]byte, common.INODESZ)
	for i := range data {
		data[i] = 0xAB
	}
	a := addr.MkInodeAddr(0, 3)
	b := MkBuf(a, common.INODESZ*8, data)
	b.Install(blk)
	assert.Equal(t, byte(0), blk[3*common.INODESZ-1])
	assert.Equal(t, byte(0xAB), blk[3*common.INODESZ])
	assert.Equal(t, byte(0xAB), blk[4*common.INODESZ-1])
	assert.Equal(t, byte(0), blk[4*common.INODESZ])

	loaded := MkBufLoad(a, common.INODESZ*8, blk)
	assert.Equal(t, data, loaded.Data)
	loaded.Data[0] = 0
	assert.Equal(t, byte(0xAB), blk[3*common.INODESZ], "load copies")
}

func TestBufMap(t *testing.T) {
	assert := assert.New(t)
	bmap := MkBufMap()
	bmap.Insert(MkBitBuf(addr.MkBitAddr(5, 1), true))
	bmap.Insert(MkBitBuf(addr.MkBitAddr(4, 7), true))
	bmap.Insert(MkBuf(addr.MkBitAddr(4, 9), 1, []byte{0}))
	assert.Equal(uint64(2), bmap.Ndirty())
	assert.Equal(uint64(2), bmap.DirtyBlocks())
	bufs := bmap.DirtyBufs()
	assert.Equal(uint64(4), bufs[0].Addr.Blkno)
	assert.True(bufs[1].Bit())

	bmap.Del(addr.MkBitAddr(5, 1))
	assert.Nil(bmap.Lookup(addr.MkBitAddr(5, 1)))
	assert.Equal(uint64(1), bmap.DirtyBlocks())
}
