package main

import (
	"github.com/mit-pdos/go-blobfs/cmd/blobctl/cmd"
)

func main() {
	cmd.Execute()
}
