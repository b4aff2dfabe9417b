package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const menuText = `
Select mode:
1. Load a single file (CSV, TXT or NDJSON)
2. Load all files in a directory
3. Load multiple files
4. Search
5. Exit
`

func newMenuCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "menu",
		Short: "Interactive menu over one store connection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withContainer(cmd, func(ctx context.Context, c *container) error {
				return runMenu(ctx, c, cmd.InOrStdin(), cmd.OutOrStdout())
			})
		},
	}
}

// runMenu loops until Exit, end of input or cancellation. Failures of a
// single action are printed and the menu is shown again.
func runMenu(ctx context.Context, c *container, in io.Reader, out io.Writer) error {
	sc := bufio.NewScanner(in)
	prompt := func(label string) (string, bool) {
		fmt.Fprint(out, label)
		if !sc.Scan() {
			return "", false
		}
		return strings.TrimSpace(sc.Text()), true
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		fmt.Fprint(out, menuText)
		choice, ok := prompt("Enter mode: ")
		if !ok {
			return sc.Err()
		}

		var err error
		switch choice {
		case "1":
			path, ok := prompt("File path: ")
			if !ok {
				return sc.Err()
			}
			err = loadOne(ctx, c, out, path)
		case "2":
			dir, ok := prompt("Directory: ")
			if !ok {
				return sc.Err()
			}
			err = loadDir(ctx, c, out, dir)
		case "3":
			fmt.Fprintln(out, "Enter file paths, one per line; an empty line finishes.")
			var paths []string
			for {
				p, ok := prompt("> ")
				if !ok || p == "" {
					break
				}
				paths = append(paths, p)
			}
			if len(paths) == 0 {
				fmt.Fprintln(out, "No files given.")
				continue
			}
			err = loadPaths(ctx, c, out, paths)
		case "4":
			query, ok := prompt("Search (field:value or term): ")
			if !ok {
				return sc.Err()
			}
			limit, ok := prompt("Max results (empty for no limit): ")
			if !ok {
				return sc.Err()
			}
			n := 0
			if limit != "" {
				if n, err = strconv.Atoi(limit); err != nil || n < 0 {
					fmt.Fprintf(out, "Invalid number %q.\n", limit)
					continue
				}
			}
			save, ok := prompt("Save to (.csv/.json, empty to skip): ")
			if !ok {
				return sc.Err()
			}
			err = runSearch(ctx, c, out, query, n, save)
		case "5", "q", "exit":
			return nil
		default:
			fmt.Fprintf(out, "Invalid choice %q.\n", choice)
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Error("menu action failed", zap.String("choice", choice), zap.Error(err))
			fmt.Fprintf(out, "Error: %v\n", err)
		}
	}
}
