// Package merkle computes and checks the hash tree that names a blob.
//
// Data is cut into NodeSize nodes and each node is hashed together with its
// level, offset and length. The node hashes of one level are packed
// DigestSize bytes apiece into NodeSize nodes, which are hashed the same way
// to form the next level, until one hash remains: the root, which is the
// blob's digest. Every level except the root is stored, top to bottom in
// increasing level order, in the tree region of the blob. A blob of at most
// one node has an empty tree and its root is the hash of its only node; the
// empty blob's root is the hash of an empty level-0 node.
package merkle

import (
	"bytes"
	"encoding/hex"

	"github.com/minio/sha256-simd"
	"github.com/pkg/errors"
	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-blobfs/common"
	"github.com/mit-pdos/go-blobfs/disk"
	"github.com/mit-pdos/go-blobfs/util"
)

const (
	NodeSize   uint64 = disk.BlockSize
	DigestSize uint64 = sha256.Size
)

type Digest [DigestSize]byte

func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// Less orders digests bytewise.
func Less(a, b Digest) bool {
	return bytes.Compare(a[:], b[:]) < 0
}

func ParseDigest(s string) (Digest, error) {
	var d Digest
	b, err := hex.DecodeString(s)
	if err != nil {
		return d, errors.Wrapf(common.ErrInvalidArgument, "digest %q: %v", s, err)
	}
	if uint64(len(b)) != DigestSize {
		return d, errors.Wrapf(common.ErrInvalidArgument, "digest %q: wrong length", s)
	}
	copy(d[:], b)
	return d, nil
}

var zeroNode = make([]byte, NodeSize)

func hashNode(level uint64, off uint64, data []byte) Digest {
	enc := marshal.NewEnc(24)
	enc.PutInt(level)
	enc.PutInt(off)
	enc.PutInt(uint64(len(data)))
	h := sha256.New()
	h.Write(enc.Finish())
	h.Write(data)
	if len(data) > 0 {
		h.Write(zeroNode[:NodeSize-uint64(len(data))])
	}
	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

// EmptyRoot is the digest of the zero-length blob.
func EmptyRoot() Digest {
	return hashNode(0, 0, nil)
}

type layout struct {
	offs  []uint64 // offset of each stored level in the tree
	lens  []uint64 // unpadded length of each stored level
	total uint64
}

func mkLayout(size uint64) layout {
	var l layout
	n := util.RoundUp(size, NodeSize)
	for n > 1 {
		bytes := n * DigestSize
		padded := util.RoundUp(bytes, NodeSize) * NodeSize
		l.offs = append(l.offs, l.total)
		l.lens = append(l.lens, bytes)
		l.total += padded
		n = padded / NodeSize
	}
	return l
}

// TreeLength is the size in bytes of the stored tree for a blob of size
// bytes. It is always a multiple of NodeSize.
func TreeLength(size uint64) uint64 {
	return mkLayout(size).total
}

// TreeBlocks is the number of disk blocks the stored tree occupies.
func TreeBlocks(size uint64) uint64 {
	return TreeLength(size) / disk.BlockSize
}

// Builder hashes a blob as it streams in.
type Builder struct {
	size    uint64
	written uint64
	leaf    []byte
	hashes  []Digest
}

func NewBuilder(size uint64) *Builder {
	return &Builder{
		size:   size,
		leaf:   make([]byte, 0, NodeSize),
		hashes: make([]Digest, 0, util.RoundUp(size, NodeSize)),
	}
}

func (b *Builder) Written() uint64 {
	return b.written
}

func (b *Builder) Write(p []byte) (int, error) {
	if util.SumOverflows(b.written, uint64(len(p))) || b.written+uint64(len(p)) > b.size {
		return 0, errors.Wrapf(common.ErrInvalidArgument,
			"write of %d bytes at %d past size %d", len(p), b.written, b.size)
	}
	n := len(p)
	for len(p) > 0 {
		room := NodeSize - uint64(len(b.leaf))
		take := util.Min(room, uint64(len(p)))
		b.leaf = append(b.leaf, p[:take]...)
		p = p[take:]
		if uint64(len(b.leaf)) == NodeSize {
			b.flushLeaf()
		}
	}
	b.written += uint64(n)
	return n, nil
}

func (b *Builder) flushLeaf() {
	off := uint64(len(b.hashes)) * NodeSize
	b.hashes = append(b.hashes, hashNode(0, off, b.leaf))
	b.leaf = b.leaf[:0]
}

// Finish completes the tree into tree, which must hold TreeLength(size)
// bytes, and returns the root.
func (b *Builder) Finish(tree []byte) (Digest, error) {
	if b.written != b.size {
		return Digest{}, errors.Wrapf(common.ErrBadState,
			"tree finished after %d of %d bytes", b.written, b.size)
	}
	if b.size == 0 {
		return EmptyRoot(), nil
	}
	if len(b.leaf) > 0 {
		b.flushLeaf()
	}
	lay := mkLayout(b.size)
	if uint64(len(tree)) < lay.total {
		return Digest{}, errors.Wrapf(common.ErrInvalidArgument,
			"tree buffer of %d bytes, need %d", len(tree), lay.total)
	}
	cur := b.hashes
	for l := range lay.offs {
		raw := tree[lay.offs[l] : lay.offs[l]+util.RoundUp(lay.lens[l], NodeSize)*NodeSize]
		for i := range raw {
			raw[i] = 0
		}
		for i, h := range cur {
			copy(raw[uint64(i)*DigestSize:], h[:])
		}
		var next []Digest
		for off := uint64(0); off < lay.lens[l]; off += NodeSize {
			end := util.Min(off+NodeSize, lay.lens[l])
			next = append(next, hashNode(uint64(l+1), off, raw[off:end]))
		}
		cur = next
	}
	return cur[0], nil
}

// Compute builds the tree for data and returns it with the root.
func Compute(data []byte) ([]byte, Digest) {
	b := NewBuilder(uint64(len(data)))
	b.Write(data)
	tree := make([]byte, TreeLength(uint64(len(data))))
	root, err := b.Finish(tree)
	if err != nil {
		panic(err)
	}
	return tree, root
}

// Digest of data, discarding the tree.
func DigestOf(data []byte) Digest {
	_, root := Compute(data)
	return root
}

func mismatch(what string, level int, i uint64) error {
	return errors.Wrapf(common.ErrIntegrity, "%s: level %d node %d", what, level, i)
}

// VerifyRange checks the data nodes covering [off, off+n) of a blob of size
// bytes against the stored tree, and the tree nodes above them up to root.
// data holds the whole blob; only the covered nodes are hashed.
func VerifyRange(tree []byte, size uint64, root Digest, data []byte, off uint64, n uint64) error {
	if off+n > size || uint64(len(data)) < size {
		return errors.Wrapf(common.ErrInvalidArgument, "verify [%d,+%d) of %d", off, n, size)
	}
	if size == 0 {
		if EmptyRoot() != root {
			return mismatch("empty blob", 0, 0)
		}
		return nil
	}
	if n == 0 {
		return nil
	}
	lay := mkLayout(size)
	if uint64(len(tree)) < lay.total {
		return errors.Wrapf(common.ErrIntegrity, "tree of %d bytes, need %d", len(tree), lay.total)
	}
	first := off / NodeSize
	last := (off + n - 1) / NodeSize
	if len(lay.offs) == 0 {
		if hashNode(0, 0, data[:size]) != root {
			return mismatch("data", 0, 0)
		}
		return nil
	}
	for i := first; i <= last; i++ {
		end := util.Min((i+1)*NodeSize, size)
		h := hashNode(0, i*NodeSize, data[i*NodeSize:end])
		stored := tree[lay.offs[0]+i*DigestSize : lay.offs[0]+(i+1)*DigestSize]
		if !bytes.Equal(h[:], stored) {
			return mismatch("data", 0, i)
		}
	}
	for l := range lay.offs {
		lo := first * DigestSize / NodeSize
		hi := ((last+1)*DigestSize - 1) / NodeSize
		for j := lo; j <= hi; j++ {
			start := j * NodeSize
			end := util.Min(start+NodeSize, lay.lens[l])
			h := hashNode(uint64(l+1), start, tree[lay.offs[l]+start:lay.offs[l]+end])
			if l+1 < len(lay.offs) {
				p := lay.offs[l+1] + j*DigestSize
				if !bytes.Equal(h[:], tree[p:p+DigestSize]) {
					return mismatch("tree", l+1, j)
				}
			} else if h != root {
				return mismatch("root", l+1, j)
			}
		}
		first, last = lo, hi
	}
	return nil
}

// Verify checks an entire blob against its stored tree and root.
func Verify(tree []byte, data []byte, root Digest) error {
	return VerifyRange(tree, uint64(len(data)), root, data, 0, uint64(len(data)))
}
