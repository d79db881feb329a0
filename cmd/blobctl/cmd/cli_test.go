package cmd

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mit-pdos/go-blobfs/merkle"
)

func run(args ...string) (string, error) {
	buf := new(bytes.Buffer)
	rootCmd.SetOutput(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	out, err := run(args...)
	require.NoError(t, err, "blobctl %v", args)
	return out
}

func TestCLI(t *testing.T) {
	dir, err := ioutil.TempDir("", "blobctl")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	dev := filepath.Join(dir, "dev")
	file := filepath.Join(dir, "in")
	data := bytes.Repeat([]byte("blob data "), 1000)
	require.NoError(t, ioutil.WriteFile(file, data, 0644))
	d := merkle.DigestOf(data).String()

	mustRun(t, "mkfs", "--device", dev, "--size", "4MiB")
	out := mustRun(t, "digest", file)
	assert.True(t, strings.HasPrefix(out, d))

	out = mustRun(t, "put", "--device", dev, file)
	assert.Contains(t, out, d)
	out = mustRun(t, "put", "--device", dev, file)
	assert.Contains(t, out, "exists")

	out = mustRun(t, "ls", "--device", dev)
	assert.Contains(t, out, d)

	got := filepath.Join(dir, "out")
	mustRun(t, "get", "--device", dev, "-o", got, d)
	back, err := ioutil.ReadFile(got)
	require.NoError(t, err)
	assert.Equal(t, data, back)

	out = mustRun(t, "fsck", "--device", dev)
	assert.Contains(t, out, "inodes: 1/")

	mustRun(t, "rm", "--device", dev, d)
	_, err = run("get", "--device", dev, "-o", got, d)
	assert.Error(t, err)
	out = mustRun(t, "ls", "--device", dev)
	assert.Equal(t, "", out)
}

func TestNoDevice(t *testing.T) {
	_, err := run("ls", "--device", "")
	assert.Error(t, err)
}
