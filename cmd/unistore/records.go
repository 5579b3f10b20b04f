package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"mercator-hq/unistore/pkg/cli"
	"mercator-hq/unistore/pkg/storage"
)

var putFlags struct {
	id   string
	file string
}

var getCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Print one record",
	Args:  cobra.ExactArgs(1),
	RunE: storeCommand(func(cmd *cobra.Command, args []string, store *storage.BaseStorage) error {
		rec, err := store.Load(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return render(cmd, rec)
	}),
}

var putCmd = &cobra.Command{
	Use:   "put [json]",
	Short: "Save a record and print its id",
	Long: `Save a record given as a JSON object. The record is read from the
argument, from --file, or from stdin when neither is given. A record with an
existing id replaces it.

Examples:
  unistore put '{"type":"session","user":"u1"}'
  unistore put --id s-1 '{"type":"session"}'
  cat rec.json | unistore put`,
	Args: cobra.MaximumNArgs(1),
	RunE: storeCommand(func(cmd *cobra.Command, args []string, store *storage.BaseStorage) error {
		rec, err := readRecord(cmd, args)
		if err != nil {
			return err
		}
		if putFlags.id != "" {
			rec[storage.FieldID] = putFlags.id
		}
		id, err := store.Save(cmd.Context(), rec)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), id)
		return err
	}),
}

var updateCmd = &cobra.Command{
	Use:   "update <id> <json>",
	Short: "Merge fields into an existing record",
	Args:  cobra.ExactArgs(2),
	RunE: storeCommand(func(cmd *cobra.Command, args []string, store *storage.BaseStorage) error {
		partial, err := parseObject("record", args[1])
		if err != nil {
			return err
		}
		if _, err := store.Update(cmd.Context(), args[0], storage.Record(partial)); err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), "updated", args[0])
		return err
	}),
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>...",
	Short: "Delete records and print how many existed",
	Args:  cobra.MinimumNArgs(1),
	RunE: storeCommand(func(cmd *cobra.Command, args []string, store *storage.BaseStorage) error {
		var n int64
		if len(args) == 1 {
			ok, err := store.Delete(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if ok {
				n = 1
			}
		} else {
			var err error
			if n, err = store.BatchDelete(cmd.Context(), args); err != nil {
				return err
			}
		}
		_, err := fmt.Fprintln(cmd.OutOrStdout(), n)
		return err
	}),
}

var existsCmd = &cobra.Command{
	Use:   "exists <id>",
	Short: "Print whether a record exists",
	Args:  cobra.ExactArgs(1),
	RunE: storeCommand(func(cmd *cobra.Command, args []string, store *storage.BaseStorage) error {
		ok, err := store.Exists(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), ok)
		return err
	}),
}

func init() {
	rootCmd.AddCommand(getCmd, putCmd, updateCmd, deleteCmd, existsCmd)

	putCmd.Flags().StringVar(&putFlags.id, "id", "", "record id (overrides the id field)")
	putCmd.Flags().StringVarP(&putFlags.file, "file", "f", "", "read the record from a file")
}

// readRecord reads the JSON object for put from the argument, --file or stdin.
func readRecord(cmd *cobra.Command, args []string) (storage.Record, error) {
	var data []byte
	switch {
	case len(args) == 1:
		data = []byte(args[0])
	case putFlags.file != "":
		var err error
		if data, err = os.ReadFile(putFlags.file); err != nil {
			return nil, cli.NewConfigError("file", err.Error())
		}
	default:
		var err error
		if data, err = io.ReadAll(cmd.InOrStdin()); err != nil {
			return nil, err
		}
	}
	obj, err := parseObject("record", string(bytes.TrimSpace(data)))
	if err != nil {
		return nil, err
	}
	return storage.Record(obj), nil
}

// parseObject decodes a JSON object flag or argument.
func parseObject(field, raw string) (map[string]any, error) {
	if raw == "" {
		return map[string]any{}, nil
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil, cli.NewConfigError(field, fmt.Sprintf("expected a JSON object: %v", err))
	}
	if obj == nil {
		obj = map[string]any{}
	}
	return obj, nil
}
