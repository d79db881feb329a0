package merkle

import (
	"math/rand"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/mit-pdos/go-blobfs/common"
)

func data(sz int) []byte {
	d := make([]byte, sz)
	rand.Read(d)
	return d
}

func TestTreeLength(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(uint64(0), TreeLength(0))
	assert.Equal(uint64(0), TreeLength(10))
	assert.Equal(uint64(0), TreeLength(NodeSize), "one node needs no tree")
	assert.Equal(NodeSize, TreeLength(NodeSize+1))
	assert.Equal(NodeSize, TreeLength(128*NodeSize), "128 hashes fill one node")
	assert.Equal(3*NodeSize, TreeLength(129*NodeSize), "two level-1 nodes and a level-2 node")
	assert.Equal(uint64(3), TreeBlocks(129*NodeSize))
}

func TestEmptyRoot(t *testing.T) {
	assert := assert.New(t)
	tree, root := Compute(nil)
	assert.Len(tree, 0)
	assert.Equal(EmptyRoot(), root)
	assert.NoError(Verify(nil, nil, root))
	assert.Error(Verify(nil, nil, DigestOf([]byte{1})))
}

func TestStreamingMatchesCompute(t *testing.T) {
	assert := assert.New(t)
	for _, sz := range []int{1, 10, int(NodeSize) - 1, int(NodeSize), int(NodeSize) + 1,
		3*int(NodeSize) + 17, 130 * int(NodeSize)} {
		d := data(sz)
		tree, root := Compute(d)

		b := NewBuilder(uint64(sz))
		for off := 0; off < sz; off += 1000 {
			end := off + 1000
			if end > sz {
				end = sz
			}
			n, err := b.Write(d[off:end])
			assert.NoError(err)
			assert.Equal(end-off, n)
		}
		tree2 := make([]byte, TreeLength(uint64(sz)))
		root2, err := b.Finish(tree2)
		assert.NoError(err)
		assert.Equal(root, root2, "size %d", sz)
		assert.Equal(tree, tree2, "size %d", sz)
		assert.NoError(Verify(tree, d, root), "size %d", sz)
	}
}

func TestBuilderRejectsOverflow(t *testing.T) {
	b := NewBuilder(4)
	_, err := b.Write([]byte{1, 2, 3, 4, 5})
	assert.Equal(t, common.ErrInvalidArgument, errors.Cause(err))
	_, err = b.Finish(nil)
	assert.Equal(t, common.ErrBadState, errors.Cause(err), "finished before all bytes")
}

func TestVerifyDetectsCorruption(t *testing.T) {
	assert := assert.New(t)
	d := data(130 * int(NodeSize))
	tree, root := Compute(d)

	d[5*NodeSize+3] ^= 0xFF
	err := Verify(tree, d, root)
	assert.Equal(common.ErrIntegrity, errors.Cause(err))
	assert.NoError(VerifyRange(tree, uint64(len(d)), root, d, 0, NodeSize),
		"ranges away from the damage still verify")
	assert.Error(VerifyRange(tree, uint64(len(d)), root, d, 5*NodeSize, 1))
	d[5*NodeSize+3] ^= 0xFF

	tree[NodeSize*2+1] ^= 0xFF
	err = VerifyRange(tree, uint64(len(d)), root, d, 129*NodeSize, 10)
	assert.Equal(common.ErrIntegrity, errors.Cause(err), "corrupt upper level")
}

func TestDigestOrder(t *testing.T) {
	a := DigestOf([]byte("hello"))
	b := DigestOf([]byte("hellp"))
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, Less(a, b), Less(b, a))
	assert.False(t, Less(a, a))
}

func TestParseDigest(t *testing.T) {
	assert := assert.New(t)
	d := DigestOf([]byte("hello"))
	p, err := ParseDigest(d.String())
	assert.NoError(err)
	assert.Equal(d, p)

	_, err = ParseDigest("abcd")
	assert.Equal(common.ErrInvalidArgument, errors.Cause(err))
	_, err = ParseDigest("zz")
	assert.Error(err)
}
