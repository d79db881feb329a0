package disk

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkBlock(b byte) Block {
	block := make(Block, BlockSize)
	for i := range block {
		block[i] = b
	}
	return block
}

func testReadWrite(t *testing.T, d Disk) {
	assert := assert.New(t)
	sz, err := d.Size()
	assert.NoError(err)
	assert.Equal(uint64(16), sz)

	assert.NoError(d.Write(3, mkBlock(3)))
	b, err := d.Read(3)
	assert.NoError(err)
	assert.Equal(mkBlock(3), b)

	b, err = d.Read(4)
	assert.NoError(err)
	assert.Equal(mkBlock(0), b, "unwritten blocks read as zero")

	assert.Error(d.Write(16, mkBlock(1)), "out-of-bounds write")
	_, err = d.Read(16)
	assert.Error(err, "out-of-bounds read")

	assert.NoError(WriteBatch(d, 5, []Block{mkBlock(5), mkBlock(6)}))
	buf, err := ReadBatch(d, 5, 2)
	assert.NoError(err)
	assert.Equal(append(mkBlock(5), mkBlock(6)...), buf)
	assert.NoError(d.Barrier())
}

func TestMemDisk(t *testing.T) {
	testReadWrite(t, NewMemDisk(16))
}

func TestFileDisk(t *testing.T) {
	dir, err := ioutil.TempDir("", "disk")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "img")

	d, err := NewFileDisk(path, 16)
	require.NoError(t, err)
	testReadWrite(t, d)
	assert.NoError(t, d.Close())

	d, err = OpenFileDisk(path)
	require.NoError(t, err)
	b, err := d.Read(3)
	assert.NoError(t, err)
	assert.Equal(t, mkBlock(3), b, "file disk should persist across opens")
	assert.NoError(t, d.Close())
}

func TestFaultDiskCrash(t *testing.T) {
	assert := assert.New(t)
	mem := NewMemDisk(16)
	d := NewFaultDisk(mem)
	d.CrashAfter(1)
	assert.NoError(d.Write(1, mkBlock(1)))
	assert.NoError(d.Write(2, mkBlock(2)), "dropped writes still succeed")
	assert.True(d.Crashed())
	assert.Equal(uint64(1), d.Writes())

	b, _ := mem.Read(2)
	assert.Equal(mkBlock(0), b, "write after crash should be dropped")
	b, _ = mem.Read(1)
	assert.Equal(mkBlock(1), b)
}

func TestFaultDiskFail(t *testing.T) {
	assert := assert.New(t)
	d := NewFaultDisk(NewMemDisk(16))
	d.FailAfter(0)
	assert.Equal(ErrInjected, d.Write(1, mkBlock(1)))
	assert.Equal(ErrInjected, d.Barrier())
}
