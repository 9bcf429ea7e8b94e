package cmd

import (
	"errors"
	"io/fs"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/signalnine/shardrun/internal/config"
)

const defaultConfigFile = "shardrun.yaml"

var (
	cfgFile   string
	verbosity int
)

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "shardrun",
		Short:        "Run NDK device tests across every attached device",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", defaultConfigFile, "config file path")
	root.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "increase log verbosity (repeatable)")
	root.AddCommand(newRunCmd())
	root.AddCommand(newListCmd())
	root.AddCommand(newReportCmd())
	return root
}

// loadConfig reads path. A missing file is only an error when the path was
// given explicitly; otherwise the defaults apply.
func loadConfig(path string, explicit bool) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) && !explicit {
		return config.Default(), nil
	}
	return cfg, err
}

func loadConfigFlag(cmd *cobra.Command) (*config.Config, error) {
	return loadConfig(cfgFile, cmd.Flags().Changed("config"))
}

func stdoutIsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}
