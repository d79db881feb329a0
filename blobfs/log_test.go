package blobfs

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/mit-pdos/go-blobfs/disk"
	"github.com/mit-pdos/go-blobfs/util"
)

func messages(logs *observer.ObservedLogs, prefix string) int {
	var n int
	for _, e := range logs.All() {
		if strings.HasPrefix(e.Message, prefix) {
			n++
		}
	}
	return n
}

// The store logs through whatever logger the process installed, and
// mounting leaves that logger alone.
func TestLogsThroughProcessLogger(t *testing.T) {
	assert := assert.New(t)
	core, logs := observer.New(zapcore.DebugLevel)
	util.SetLogger(zap.New(core), 20)
	defer util.SetLogger(nil, 0)

	d := disk.NewMemDisk(diskBlocks)
	require.NoError(t, Format(d, nil, smallFormat))
	s, err := Mount(d, nil, CacheLimit(1))
	require.NoError(t, err)
	assert.Equal(1, messages(logs, "mount:"))

	putBlob(t, s, randData(100))
	assert.Equal(1, messages(logs, "commit:"))
	require.NoError(t, s.Unmount())

	s, err = Mount(d, nil)
	require.NoError(t, err)
	assert.Equal(2, messages(logs, "mount:"))
	assert.NoError(s.Unmount())
}
