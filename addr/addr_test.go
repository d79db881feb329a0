package addr

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mit-pdos/go-blobfs/common"
)

func TestBitAddr(t *testing.T) {
	assert := assert.New(t)
	a := MkBitAddr(10, 5)
	assert.Equal(common.Bnum(10), a.Blkno)
	assert.Equal(uint64(5), a.Off)

	a = MkBitAddr(10, common.NBITBLOCK+3)
	assert.Equal(common.Bnum(11), a.Blkno, "bits spill into the next block")
	assert.Equal(uint64(3), a.Off)
}

func TestInodeAddr(t *testing.T) {
	assert := assert.New(t)
	a := MkInodeAddr(100, 0)
	assert.Equal(common.Bnum(100), a.Blkno)
	assert.Equal(uint64(0), a.ByteOff())

	a = MkInodeAddr(100, common.Inum(common.INODEBLK+2))
	assert.Equal(common.Bnum(101), a.Blkno)
	assert.Equal(2*common.INODESZ, a.ByteOff())
	assert.Equal(a.Off, a.Flatid()-uint64(a.Blkno)*common.NBITBLOCK)
}
