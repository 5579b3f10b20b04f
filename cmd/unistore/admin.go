package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mercator-hq/unistore/pkg/cli"
	"mercator-hq/unistore/pkg/storage"
	"mercator-hq/unistore/pkg/storage/factory"
)

var cleanupFlags struct {
	days int
}

var healthFlags struct {
	all bool
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete records older than a retention period",
	Long: `Delete every record whose creation time is more than --days days in the
past and print how many were removed.

Examples:
  unistore cleanup --days 30
  unistore cleanup --days 0 --instance scratch`,
	Args: cobra.NoArgs,
	RunE: storeCommand(func(cmd *cobra.Command, args []string, store *storage.BaseStorage) error {
		if cleanupFlags.days < 0 {
			return cli.NewConfigError("days", "must be >= 0")
		}
		n, err := store.CleanupOldData(cmd.Context(), cleanupFlags.days)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), n)
		return err
	}),
}

var typesCmd = &cobra.Command{
	Use:   "types",
	Short: "List the registered backend types",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, name := range factory.NewRegistry().Types() {
			if _, err := fmt.Fprintln(cmd.OutOrStdout(), name); err != nil {
				return err
			}
		}
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Report storage health",
	Long: `Report the health of the selected instance, or of every configured
instance with --all. The command fails when an instance is unhealthy.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		sess, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := sess.close(); cerr != nil && err == nil {
				err = cerr
			}
		}()
		ctx := cmd.Context()

		if !healthFlags.all {
			store, err := sess.open(ctx)
			if err != nil {
				return err
			}
			status, checkErr := store.HealthCheck(ctx)
			if err := render(cmd, status); err != nil {
				return err
			}
			return checkErr
		}

		loadErr := sess.factory.LoadFromConfig(ctx, &sess.cfg.Storage)
		statuses := sess.factory.HealthCheckAll(ctx)
		if err := render(cmd, statuses); err != nil {
			return err
		}
		if loadErr != nil {
			return loadErr
		}
		for name, st := range statuses {
			if st.Status == storage.StatusUnhealthy {
				return fmt.Errorf("instance %q is unhealthy: %s", name, st.LastError)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cleanupCmd, typesCmd, healthCmd)

	cleanupCmd.Flags().IntVar(&cleanupFlags.days, "days", 30, "retention period in days")
	healthCmd.Flags().BoolVar(&healthFlags.all, "all", false, "check every configured instance")
}
