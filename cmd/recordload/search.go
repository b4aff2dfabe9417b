package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"recordload/internal/search"
)

func newSearchCmd(a *app) *cobra.Command {
	var (
		maxResults int
		savePath   string
	)
	cmd := &cobra.Command{
		Use:   "search <field:value | term>",
		Short: "Search loaded records by field or by a bare term",
		Long: `Search loaded records.

  field:value   match a field; names are case-insensitive, values are tried
                as given, lower-cased, capitalized and upper-cased
                (email is matched exactly)
  term          substring match over the raw stored record (full scan)`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withContainer(cmd, func(ctx context.Context, c *container) error {
				return runSearch(ctx, c, cmd.OutOrStdout(), joinArgs(args), maxResults, savePath)
			})
		},
	}
	cmd.Flags().IntVar(&maxResults, "max-results", 0, "stop after this many results (0 = no limit)")
	cmd.Flags().StringVar(&savePath, "save", "", "also save results to a .csv or .json file")
	return cmd
}

func runSearch(ctx context.Context, c *container, out io.Writer, input string, maxResults int, savePath string) error {
	results, plan, err := c.searcher().Search(ctx, input, maxResults)
	if err != nil {
		return err
	}
	if plan.Warning != "" {
		fmt.Fprintln(out, plan.Warning)
	}
	search.Render(out, results)
	if savePath == "" || len(results) == 0 {
		return nil
	}
	if err := search.Save(savePath, results); err != nil {
		return err
	}
	fmt.Fprintf(out, "Saved %d result(s) to %s\n", len(results), savePath)
	return nil
}
