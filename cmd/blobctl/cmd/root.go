package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/mit-pdos/go-blobfs/blobfs"
	"github.com/mit-pdos/go-blobfs/common"
	"github.com/mit-pdos/go-blobfs/disk"
	"github.com/mit-pdos/go-blobfs/util"
)

const (
	keyDevice     = "device"
	keyLogLevel   = "log-level"
	keyCacheLimit = "cache-limit"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "blobctl",
	Short: "blobctl manages a content-addressed blob store on a device file",
	Long: `blobctl formats, fills and checks a blob store kept in a device file.

Blobs are named by the hex root of their Merkle tree; see "blobctl digest".
Settings come from flags, BLOBCTL_* environment variables or .blobctl.yaml.
`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	addRootFlags(rootCmd.PersistentFlags())
}

func addRootFlags(fs *pflag.FlagSet) {
	fs.String(keyDevice, "", "device file holding the store")
	fs.String(keyLogLevel, util.LogLevelNone, "log level: none, info, debug, warn or error")
	fs.Int(keyCacheLimit, common.DefaultCacheLimit, "closed blobs kept verified in memory")
	for _, k := range []string{keyDevice, keyLogLevel, keyCacheLimit} {
		_ = viper.BindPFlag(k, fs.Lookup(k))
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if os.Getenv("BLOBCTL_CONFIG") != "" {
		viper.SetConfigFile(os.Getenv("BLOBCTL_CONFIG"))
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME")
		viper.SetConfigName(".blobctl")
	}
	viper.SetEnvPrefix("blobctl")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()
}

func devicePath() (string, error) {
	p := viper.GetString(keyDevice)
	if p == "" {
		return "", errors.New("no device given; use --device or BLOBCTL_DEVICE")
	}
	return p, nil
}

// openStore mounts the store on the configured device.
func openStore() (*blobfs.Store, error) {
	p, err := devicePath()
	if err != nil {
		return nil, err
	}
	l, verbosity, err := util.GetLogger(viper.GetString(keyLogLevel))
	if err != nil {
		return nil, errors.Wrap(err, "log level")
	}
	util.SetLogger(l, verbosity)
	d, err := disk.OpenFileDisk(p)
	if err != nil {
		return nil, err
	}
	s, err := blobfs.Mount(d, nil, blobfs.CacheLimit(viper.GetInt(keyCacheLimit)))
	if err != nil {
		d.Close()
		return nil, errors.Wrapf(err, "mount %s", p)
	}
	return s, nil
}

// withStore runs fn on a mounted store and unmounts it afterwards.
func withStore(fn func(s *blobfs.Store) error) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	err = fn(s)
	if uerr := s.Unmount(); err == nil {
		err = uerr
	}
	return err
}
