package cmd

import (
	"fmt"
	"io/ioutil"

	"github.com/docker/go-units"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/mit-pdos/go-blobfs/blobfs"
	"github.com/mit-pdos/go-blobfs/common"
	"github.com/mit-pdos/go-blobfs/disk"
	"github.com/mit-pdos/go-blobfs/merkle"
)

var putCmd = &cobra.Command{
	Use:   "put FILE...",
	Short: "Store files as blobs and print their digests",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(s *blobfs.Store) error {
			for _, p := range args {
				data, err := ioutil.ReadFile(p)
				if err != nil {
					return err
				}
				d, err := put(s, data)
				if errors.Cause(err) == common.ErrExists {
					fmt.Fprintf(cmd.OutOrStdout(), "%v %s (exists)\n", d, p)
					continue
				}
				if err != nil {
					return errors.Wrap(err, p)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%v %s\n", d, p)
			}
			return s.Sync()
		})
	},
}

// put writes data one block at a time, the way a streaming client would.
func put(s *blobfs.Store, data []byte) (merkle.Digest, error) {
	d := merkle.DigestOf(data)
	b, err := s.Create(d, uint64(len(data)))
	if err != nil {
		return d, err
	}
	for off := 0; off < len(data); off += int(disk.BlockSize) {
		end := off + int(disk.BlockSize)
		if end > len(data) {
			end = len(data)
		}
		if _, err := b.Write(data[off:end]); err != nil {
			b.Close()
			return d, err
		}
	}
	return d, b.Close()
}

var getFlags struct {
	out string
}

var getCmd = &cobra.Command{
	Use:   "get DIGEST",
	Short: "Verify a blob and write its contents out",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := merkle.ParseDigest(args[0])
		if err != nil {
			return err
		}
		return withStore(func(s *blobfs.Store) error {
			b, err := s.Open(d)
			if err != nil {
				return err
			}
			defer b.Close()
			data, err := b.Read(0, b.Size())
			if err != nil {
				return err
			}
			if getFlags.out != "" {
				return ioutil.WriteFile(getFlags.out, data, 0644)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		})
	},
}

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List the blobs in the store",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(s *blobfs.Store) error {
			for _, e := range s.List() {
				fmt.Fprintf(cmd.OutOrStdout(), "%v %s\n", e.Digest, units.HumanSize(float64(e.Size)))
			}
			return nil
		})
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm DIGEST...",
	Short: "Remove blobs",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(s *blobfs.Store) error {
			for _, a := range args {
				d, err := merkle.ParseDigest(a)
				if err != nil {
					return err
				}
				if err := s.Unlink(d); err != nil {
					return err
				}
			}
			return s.Sync()
		})
	},
}

var digestCmd = &cobra.Command{
	Use:   "digest FILE...",
	Short: "Print the digest a file would be stored under",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, p := range args {
			data, err := ioutil.ReadFile(p)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%v %s\n", merkle.DigestOf(data), p)
		}
		return nil
	},
}

func init() {
	getCmd.Flags().StringVarP(&getFlags.out, "output", "o", "", "write to this file instead of stdout")
	rootCmd.AddCommand(putCmd, getCmd, lsCmd, rmCmd, digestCmd)
}
