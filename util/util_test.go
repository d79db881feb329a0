package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMin(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(uint64(2), Min(2, 3))
	assert.Equal(uint64(2), Min(3, 2))
	assert.Equal(uint64(2), Min(2, 2))
}

func TestRoundUp(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(uint64(4), RoundUp(10, 3))
	assert.Equal(uint64(3), RoundUp(9, 3), "exact division")
	assert.Equal(uint64(0), RoundUp(0, 3))
	assert.Equal(uint64(5), RoundUp(4096*4+4095, 4096))
	assert.Equal(uint64(5), RoundUp(4096*4+1, 4096), "round up by sz-1")
}

func TestSumOverflows(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(false, SumOverflows(1<<31, 1<<31))
	assert.Equal(false, SumOverflows(1<<64-2, 1))
	assert.Equal(false, SumOverflows(1, 1<<64-2))
	assert.Equal(false, SumOverflows(1<<32, 1<<32))

	assert.Equal(true, SumOverflows(1, 1<<64-1))
	assert.Equal(true, SumOverflows(1<<64-1, 1))
	assert.Equal(true, SumOverflows(2, 1<<64-1))
	assert.Equal(true, SumOverflows(1<<63, 1<<63))
}

func TestCloneByteSlice(t *testing.T) {
	assert := assert.New(t)
	s := []byte{1, 2, 3}
	c := CloneByteSlice(s)
	assert.Equal(s, c)
	c[0] = 9
	assert.Equal(byte(1), s[0], "clone should not alias")
}

func TestGetLogger(t *testing.T) {
	assert := assert.New(t)
	_, v, err := GetLogger(LogLevelNone)
	assert.NoError(err)
	assert.Equal(uint64(0), v)

	l, v, err := GetLogger(LogLevelDebug)
	assert.NoError(err)
	assert.NotNil(l)
	assert.Equal(uint64(20), v)

	_, _, err = GetLogger("loud")
	assert.Error(err)
}

func TestDPrintfQuiet(t *testing.T) {
	SetLogger(nil, 0)
	DPrintf(1, "dropped %d", 1)
}
