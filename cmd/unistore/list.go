package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"mercator-hq/unistore/pkg/cli"
	"mercator-hq/unistore/pkg/storage"
)

var listFlags struct {
	filter  string
	limit   int
	session string
	thread  string
}

var queryFlags struct {
	params []string
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List records matching a filter",
	Long: `List records ordered by creation time.

Filters are JSON objects mapping a field (dotted paths reach into nested
objects) to a value or to an operator object using $eq, $ne, $gt, $gte, $lt,
$lte, $in, $nin or $like.

Examples:
  unistore list --filter '{"type":"session"}'
  unistore list --filter '{"score":{"$gte":10},"user.name":{"$like":"a%"}}' --limit 5
  unistore list --session s-42 -o csv`,
	Args: cobra.NoArgs,
	RunE: storeCommand(func(cmd *cobra.Command, args []string, store *storage.BaseStorage) error {
		if listFlags.limit < 0 {
			return cli.NewConfigError("limit", "must be >= 0")
		}
		selectors := 0
		for _, v := range []string{listFlags.filter, listFlags.session, listFlags.thread} {
			if v != "" {
				selectors++
			}
		}
		if selectors > 1 {
			return cli.NewConfigError("filter", "--filter, --session and --thread are mutually exclusive")
		}
		ctx := cmd.Context()

		var (
			recs []storage.Record
			err  error
		)
		switch {
		case listFlags.session != "":
			recs, err = store.GetBySession(ctx, listFlags.session)
		case listFlags.thread != "":
			recs, err = store.GetByThread(ctx, listFlags.thread)
		default:
			var filter storage.Filter
			if filter, err = parseFilter(listFlags.filter); err != nil {
				return err
			}
			recs, err = store.List(ctx, filter, listFlags.limit)
		}
		if err != nil {
			return err
		}
		if recs == nil {
			recs = []storage.Record{}
		}
		return render(cmd, recs)
	}),
}

var countCmd = &cobra.Command{
	Use:   "count",
	Short: "Count records matching a filter",
	Args:  cobra.NoArgs,
	RunE: storeCommand(func(cmd *cobra.Command, args []string, store *storage.BaseStorage) error {
		filter, err := parseFilter(listFlags.filter)
		if err != nil {
			return err
		}
		n, err := store.Count(cmd.Context(), filter)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), n)
		return err
	}),
}

var queryCmd = &cobra.Command{
	Use:   "query <query>",
	Short: "Run a filter query string",
	Long: `Run a query in the "filters:" form. Parameters are merged into the
filter; the "limit" parameter caps the result.

Examples:
  unistore query 'filters:{"type":"session"}'
  unistore query 'filters:{}' --param type=session --param limit=10`,
	Args: cobra.ExactArgs(1),
	RunE: storeCommand(func(cmd *cobra.Command, args []string, store *storage.BaseStorage) error {
		params, err := parseParams(queryFlags.params)
		if err != nil {
			return err
		}
		recs, err := store.Query(cmd.Context(), args[0], params)
		if err != nil {
			return err
		}
		if recs == nil {
			recs = []storage.Record{}
		}
		return render(cmd, recs)
	}),
}

func init() {
	rootCmd.AddCommand(listCmd, countCmd, queryCmd)

	listCmd.Flags().StringVar(&listFlags.filter, "filter", "", "JSON filter object")
	listCmd.Flags().IntVar(&listFlags.limit, "limit", 0, "maximum number of records (0 = no limit)")
	listCmd.Flags().StringVar(&listFlags.session, "session", "", "list records of a session id")
	listCmd.Flags().StringVar(&listFlags.thread, "thread", "", "list records of a thread id")

	countCmd.Flags().StringVar(&listFlags.filter, "filter", "", "JSON filter object")

	queryCmd.Flags().StringArrayVar(&queryFlags.params, "param", nil, "query parameter key=value (value may be JSON)")
}

func parseFilter(raw string) (storage.Filter, error) {
	obj, err := parseObject("filter", raw)
	if err != nil {
		return nil, err
	}
	filter := storage.Filter(obj)
	if err := filter.Validate(); err != nil {
		return nil, cli.NewConfigError("filter", err.Error())
	}
	return filter, nil
}

// parseParams turns key=value pairs into query parameters. Values that parse
// as JSON keep their type; anything else is a string.
func parseParams(pairs []string) (map[string]any, error) {
	params := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, cli.NewConfigError("param", fmt.Sprintf("expected key=value, got %q", pair))
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		params[key] = v
	}
	return params, nil
}
