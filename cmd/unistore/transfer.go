package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"mercator-hq/unistore/pkg/cli"
	"mercator-hq/unistore/pkg/storage"
)

var transferFlags struct {
	filter    string
	batchSize int
	output    string
	quiet     bool
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Stream matching records as JSON lines",
	Long: `Stream records matching --filter as one JSON object per line, reading
them from the backend in pages of --batch-size.

Examples:
  unistore export > backup.jsonl
  unistore export --filter '{"type":"session"}' --file sessions.jsonl`,
	Args: cobra.NoArgs,
	RunE: storeCommand(func(cmd *cobra.Command, args []string, store *storage.BaseStorage) error {
		filter, err := parseFilter(transferFlags.filter)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if transferFlags.output != "" {
			f, err := os.Create(transferFlags.output)
			if err != nil {
				return cli.NewConfigError("file", err.Error())
			}
			defer f.Close()
			w = f
		}
		bw := bufio.NewWriter(w)

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		batches, errs, err := store.StreamList(ctx, filter, transferFlags.batchSize)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(bw)
		for batch := range batches {
			for _, rec := range batch {
				if err := enc.Encode(rec); err != nil {
					return err
				}
			}
		}
		if err := <-errs; err != nil {
			return err
		}
		return bw.Flush()
	}),
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Save records from a JSON lines file",
	Long: `Save every JSON object in a JSON lines file ("-" reads stdin) in batches
of --batch-size. Records keep their ids; existing ids are replaced.`,
	Args: cobra.ExactArgs(1),
	RunE: storeCommand(func(cmd *cobra.Command, args []string, store *storage.BaseStorage) error {
		var r io.Reader = cmd.InOrStdin()
		if args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return cli.NewConfigError("file", err.Error())
			}
			defer f.Close()
			r = f
		}

		progressOut := cmd.ErrOrStderr()
		if transferFlags.quiet {
			progressOut = io.Discard
		}
		progress := cli.NewProgressReporter(progressOut)
		progress.Start(0)

		n, err := importRecords(cmd, store, r, transferFlags.batchSize, progress)
		if err != nil {
			progress.Error(err)
			return err
		}
		progress.Finish()
		_, err = fmt.Fprintln(cmd.OutOrStdout(), n)
		return err
	}),
}

func init() {
	rootCmd.AddCommand(exportCmd, importCmd)

	exportCmd.Flags().StringVar(&transferFlags.filter, "filter", "", "JSON filter object")
	exportCmd.Flags().IntVar(&transferFlags.batchSize, "batch-size", 100, "records per page")
	exportCmd.Flags().StringVarP(&transferFlags.output, "file", "f", "", "write to a file instead of stdout")

	importCmd.Flags().IntVar(&transferFlags.batchSize, "batch-size", 100, "records per batch")
	importCmd.Flags().BoolVarP(&transferFlags.quiet, "quiet", "q", false, "do not report progress")
}

// importRecords decodes JSON objects from r and saves them in batches.
func importRecords(cmd *cobra.Command, store *storage.BaseStorage, r io.Reader, batchSize int, progress cli.ProgressReporter) (int, error) {
	if batchSize <= 0 {
		return 0, cli.NewConfigError("batch-size", "must be positive")
	}

	dec := json.NewDecoder(bufio.NewReader(r))
	batch := make([]storage.Record, 0, batchSize)
	total := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		ids, err := store.BatchSave(cmd.Context(), batch)
		if err != nil {
			return err
		}
		total += len(ids)
		progress.Add(int64(len(ids)))
		batch = batch[:0]
		return nil
	}

	for line := 1; ; line++ {
		var rec storage.Record
		err := dec.Decode(&rec)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return total, cli.NewConfigError("file", fmt.Sprintf("record %d: %v", line, err))
		}
		if rec == nil {
			return total, cli.NewConfigError("file", fmt.Sprintf("record %d: not a JSON object", line))
		}
		batch = append(batch, rec)
		if len(batch) == batchSize {
			if err := flush(); err != nil {
				return total, err
			}
		}
	}
	return total, flush()
}
