package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mercator-hq/unistore/pkg/cli"
)

var (
	// Global flags
	cfgFile      string
	instanceName string
	outputFormat string
	logLevel     string
)

var rootCmd = &cobra.Command{
	Use:   "unistore",
	Short: "Unistore - unified storage administration",
	Long: `Unistore manages records in memory, file and SQLite storage instances
through a single interface.

Instances are declared in the configuration file:

  storage:
    default: primary
    instances:
      primary:
        type: sqlite
        options:
          database_path: /var/lib/unistore/data.db

Without a configuration file a single in-memory instance named "default" is
used.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits with a status derived from the
// error kind.
func Execute() {
	ctx, stop := cli.SetupSignalHandler(context.Background())
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.ExitCode(err))
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default: built-in in-memory instance)")
	rootCmd.PersistentFlags().StringVarP(&instanceName, "instance", "i", "", "storage instance name (default: storage.default)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", string(cli.FormatText), "output format: text, json, yaml, csv")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level (debug, info, warn, error)")
}
