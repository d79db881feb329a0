package cmd

import (
	"fmt"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/mit-pdos/go-blobfs/blobfs"
)

var fsckCmd = &cobra.Command{
	Use:   "fsck",
	Short: "Check the store's metadata and print usage",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(s *blobfs.Store) error {
			if err := s.Check(); err != nil {
				return err
			}
			st := s.Stats()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "blocks: %d/%d (%s used)\n", st.AllocBlocks, st.DataBlocks,
				units.BytesSize(float64(st.AllocBlocks*st.BlockSize)))
			fmt.Fprintf(out, "inodes: %d/%d\n", st.AllocInodes, st.Inodes)
			fmt.Fprintf(out, "journal: %d/%d blocks\n", st.JournalLength, st.JournalCapacity)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(fsckCmd)
}
