package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mercator-hq/unistore/pkg/cli"
	"mercator-hq/unistore/pkg/storage"
	"mercator-hq/unistore/pkg/storage/file"
	"mercator-hq/unistore/pkg/storage/memory"
	"mercator-hq/unistore/pkg/storage/sqlite"
)

var maintainCmd = &cobra.Command{
	Use:   "maintain",
	Short: "Run backend maintenance tasks",
	Long: `Run maintenance tasks that the background workers otherwise run on a
schedule.

Subcommands:
  vacuum    - rebuild an SQLite database file
  backup    - write an SQLite backup and prune old ones
  snapshot  - persist a memory instance to its persistence file
  reindex   - rebuild a file instance's id index from disk`,
}

var vacuumCmd = &cobra.Command{
	Use:   "vacuum",
	Short: "Rebuild an SQLite database file",
	Args:  cobra.NoArgs,
	RunE: storeCommand(func(cmd *cobra.Command, args []string, store *storage.BaseStorage) error {
		b, err := backendAs[*sqlite.Backend](store, "vacuum")
		if err != nil {
			return err
		}
		if err := b.Vacuum(cmd.Context()); err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), "vacuum completed")
		return err
	}),
}

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Write an SQLite backup and print its path",
	Args:  cobra.NoArgs,
	RunE: storeCommand(func(cmd *cobra.Command, args []string, store *storage.BaseStorage) error {
		b, err := backendAs[*sqlite.Backend](store, "backup")
		if err != nil {
			return err
		}
		path, err := b.Backup(cmd.Context())
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), path)
		return err
	}),
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Persist a memory instance to its persistence file",
	Args:  cobra.NoArgs,
	RunE: storeCommand(func(cmd *cobra.Command, args []string, store *storage.BaseStorage) error {
		b, err := backendAs[*memory.Backend](store, "snapshot")
		if err != nil {
			return err
		}
		if err := b.Snapshot(cmd.Context()); err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), "snapshot written")
		return err
	}),
}

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild a file instance's id index",
	Args:  cobra.NoArgs,
	RunE: storeCommand(func(cmd *cobra.Command, args []string, store *storage.BaseStorage) error {
		b, err := backendAs[*file.Backend](store, "reindex")
		if err != nil {
			return err
		}
		n, err := b.RebuildIndex(cmd.Context())
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), n)
		return err
	}),
}

func init() {
	rootCmd.AddCommand(maintainCmd)
	maintainCmd.AddCommand(vacuumCmd, backupCmd, snapshotCmd, reindexCmd)
}

// backendAs returns the instance's backend as T, or a usage error naming
// the task when the instance has a different type.
func backendAs[T storage.Backend](store *storage.BaseStorage, task string) (T, error) {
	b, ok := store.Backend().(T)
	if !ok {
		var zero T
		return zero, cli.NewConfigError("instance",
			fmt.Sprintf("%s is not supported by %s instance %q", task, store.Backend().Type(), store.Name()))
	}
	return b, nil
}
