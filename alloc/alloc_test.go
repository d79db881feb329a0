package alloc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPopCnt(t *testing.T) {
	assert.Equal(t, uint64(0), popCnt(0))
	assert.Equal(t, uint64(1), popCnt(1))
	assert.Equal(t, uint64(1), popCnt(2))
	assert.Equal(t, uint64(2), popCnt(3))
	assert.Equal(t, uint64(8), popCnt(255))
}

func TestAlloc(t *testing.T) {
	assert := assert.New(t)
	max := uint64(32)
	a := MkMaxAlloc(max)

	assert.Equal(max, a.NumFree(), "everything should be initially free")

	n, ok := a.AllocRange(1)
	assert.True(ok)
	assert.Equal(uint64(0), n, "first fit starts at 0")

	a.MarkUsed(n + 1)
	n2, ok := a.AllocRange(2)
	assert.True(ok)
	assert.Equal(uint64(2), n2, "should not allocate something marked used")

	assert.Equal(max-4, a.NumFree(), "should have used 4 items")

	a.FreeNum(n)
	a.ClearRange(n2, 2)
	assert.Equal(max-1, a.NumFree(), "should have freed")
	assert.Panics(func() { a.FreeNum(n) }, "double free")
}

func TestFindFreeContiguous(t *testing.T) {
	assert := assert.New(t)
	a := MkMaxAlloc(64)
	a.SetRange(0, 10)
	a.MarkUsed(12)
	start, ok := a.FindFree(3)
	assert.True(ok)
	assert.Equal(uint64(13), start, "gap of 2 at 10 is too small")

	_, ok = a.FindFree(65)
	assert.False(ok)
	a.SetRange(13, 64-13)
	a.MarkUsed(10)
	_, ok = a.FindFree(2)
	assert.False(ok, "only one free bit left")
	start, ok = a.FindFree(1)
	assert.True(ok)
	assert.Equal(uint64(11), start)
}

func TestGrowAndReload(t *testing.T) {
	assert := assert.New(t)
	a := MkMaxAlloc(NBITBLOCK)
	a.SetRange(0, NBITBLOCK)
	_, ok := a.FindFree(1)
	assert.False(ok)

	a.Grow(NBITBLOCK + 8)
	assert.Equal(uint64(2), a.NBlocks())
	start, ok := a.AllocRange(8)
	assert.True(ok)
	assert.Equal(NBITBLOCK, start)
	raw := make([]byte, 2*4096)
	for i := 0; i < 4096; i++ {
		raw[i] = 0xFF
	}
	raw[4096] = 0xFF
	b := MkAlloc(raw, a.Len())
	assert.Equal(a.NumUsed(), b.NumUsed(), "reloaded bitmap should match")
	assert.True(b.IsSet(NBITBLOCK + 7))
}

func TestMkAllocIgnoresTail(t *testing.T) {
	raw := make([]byte, 4096)
	raw[0] = 0xFF
	a := MkAlloc(raw, 4)
	assert.Equal(t, uint64(4), a.NumUsed())
	a.Grow(8)
	assert.False(t, a.IsSet(5), "bits past the old end start free")
}
