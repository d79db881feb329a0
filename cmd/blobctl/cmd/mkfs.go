package cmd

import (
	"fmt"

	"github.com/docker/go-units"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/mit-pdos/go-blobfs/blobfs"
	"github.com/mit-pdos/go-blobfs/disk"
)

var mkfsFlags struct {
	size    string
	inodes  uint64
	journal uint64
}

var mkfsCmd = &cobra.Command{
	Use:   "mkfs",
	Short: "Create the device file and format an empty store on it",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := devicePath()
		if err != nil {
			return err
		}
		sz, err := units.RAMInBytes(mkfsFlags.size)
		if err != nil {
			return errors.Wrapf(err, "size %q", mkfsFlags.size)
		}
		if sz <= 0 {
			return errors.Errorf("size %q", mkfsFlags.size)
		}
		d, err := disk.NewFileDisk(p, uint64(sz)/disk.BlockSize)
		if err != nil {
			return err
		}
		err = blobfs.Format(d, nil, blobfs.FormatOptions{
			Inodes:        mkfsFlags.inodes,
			JournalBlocks: mkfsFlags.journal,
		})
		if cerr := d.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "formatted %s (%s)\n", p, units.BytesSize(float64(sz)))
		return nil
	},
}

func init() {
	mkfsCmd.Flags().StringVar(&mkfsFlags.size, "size", "64MiB", "device size")
	mkfsCmd.Flags().Uint64Var(&mkfsFlags.inodes, "inodes", 0, "number of inodes (0 for the default)")
	mkfsCmd.Flags().Uint64Var(&mkfsFlags.journal, "journal-blocks", 0, "journal size in blocks (0 for the default)")
	rootCmd.AddCommand(mkfsCmd)
}
