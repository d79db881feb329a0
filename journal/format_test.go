package journal

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/mit-pdos/go-blobfs/common"
	"github.com/mit-pdos/go-blobfs/disk"
)

func TestInfoEncode(t *testing.T) {
	assert := assert.New(t)
	info := Info{Start: 3, Length: 9, Timestamp: 42}
	blk := info.encode()
	got, err := decodeInfo(blk)
	assert.NoError(err)
	assert.Equal(info, got)

	blk[8] ^= 1
	_, err = decodeInfo(blk)
	assert.Equal(common.ErrCorrupt, errors.Cause(err))

	_, err = decodeInfo(make(disk.Block, disk.BlockSize))
	assert.Equal(common.ErrCorrupt, errors.Cause(err))
}

func TestEmptyInfoSkipsChecksum(t *testing.T) {
	blk := Info{}.encode()
	got, err := decodeInfo(blk)
	assert.NoError(t, err)
	assert.Equal(t, Info{}, got)
}

func TestHeaderCommitEncode(t *testing.T) {
	assert := assert.New(t)
	h, ok := decodeHeader(encodeHeader(7, []common.Bnum{5, 9}))
	assert.True(ok)
	assert.Equal(uint64(7), h.ts)
	assert.Equal([]common.Bnum{5, 9}, h.targets)

	_, ok = decodeHeader(encodeHeader(7, nil))
	assert.False(ok, "header without targets")

	ts, sum, ok := decodeCommit(encodeCommit(7, 0xdeadbeef))
	assert.True(ok)
	assert.Equal(uint64(7), ts)
	assert.Equal(uint32(0xdeadbeef), sum)
}

func TestSegments(t *testing.T) {
	assert := assert.New(t)
	assert.Equal([][2]uint64{{2, 5}}, segments(8, 2, 3))
	assert.Equal([][2]uint64{{6, 8}, {0, 2}}, segments(8, 6, 4))

	ring := mkCircular(8, 0).blocks
	for i := range ring {
		ring[i][0] = byte(i)
	}
	linear := append(append([]disk.Block{}, ring[6:]...), ring[:2]...)
	assert.Equal(checksumBlocks(linear, 0, 4), checksumBlocks(ring, 6, 4))
}

func TestFormatTooSmall(t *testing.T) {
	d := disk.NewMemDisk(100)
	err := Format(d, 0, MinBlocks-1)
	assert.Equal(t, common.ErrInvalidArgument, errors.Cause(err))
}
