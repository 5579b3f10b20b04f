/*
Package cli provides the output, progress and error helpers used by the
unistore command.

Output Formatting:

Records print as JSON lines by default; JSON, YAML and CSV are selectable:

	formatter, err := cli.NewFormatter(cli.FormatCSV)
	if err != nil {
		return err
	}
	if err := formatter.FormatTo(os.Stdout, records); err != nil {
		return err
	}

Progress Reporting:

	progress := cli.NewProgressReporter(os.Stderr)
	progress.Start(int64(len(batch)))
	progress.Add(int64(saved))
	progress.Finish()

Signal Handling:

	ctx, stop := cli.SetupSignalHandler(context.Background())
	defer stop()

Exit Codes:

ExitCode maps storage error kinds to process exit status: not found is 3,
validation and configuration errors are 2, anything else is 1.
*/
package cli
