// Command devkit runs the Polkadot DevKit AI backend and offers small client
// subcommands against a running instance.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var version = "dev"

type rootFlags struct {
	configPath string
	verbose    bool
}

func main() {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "devkit",
		Short:         "Polkadot DevKit AI backend",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "path to a YAML config file")
	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "human-readable debug logging")

	root.AddCommand(
		newServeCmd(flags),
		newCheckModelsCmd(flags),
		newChatCmd(),
		newAskCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (f *rootFlags) logger() (*zap.Logger, error) {
	if f.verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
