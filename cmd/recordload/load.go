package main

import (
	"context"
	"fmt"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"recordload/internal/datasource/file"
	"recordload/internal/loader"
)

func newLoadCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Load CSV, TXT or NDJSON files into the store",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "file <path>",
		Short: "Load a single file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withContainer(cmd, func(ctx context.Context, c *container) error {
				return loadOne(ctx, c, cmd.OutOrStdout(), args[0])
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "dir <path>",
		Short: "Load every supported file under a directory, recursively",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withContainer(cmd, func(ctx context.Context, c *container) error {
				return loadDir(ctx, c, cmd.OutOrStdout(), args[0])
			})
		},
	})

	var listPath string
	files := &cobra.Command{
		Use:   "files [path...]",
		Short: "Load the given files in order",
		RunE: func(cmd *cobra.Command, args []string) error {
			paths := append([]string(nil), args...)
			if listPath != "" {
				listed, err := file.ReadList(listPath)
				if err != nil {
					return err
				}
				paths = append(paths, listed...)
			}
			if len(paths) == 0 {
				return errors.New("no files given")
			}
			return a.withContainer(cmd, func(ctx context.Context, c *container) error {
				return loadPaths(ctx, c, cmd.OutOrStdout(), paths)
			})
		},
	}
	files.Flags().StringVar(&listPath, "list", "", "text file with one path per line (# comments allowed)")
	cmd.AddCommand(files)

	return cmd
}

// withContainer validates the config, opens a container for the command and
// closes it afterwards.
func (a *app) withContainer(cmd *cobra.Command, fn func(ctx context.Context, c *container) error) error {
	if err := a.checkConfig(cmd.ErrOrStderr()); err != nil {
		return err
	}
	ctx := cmd.Context()
	c, err := openContainer(ctx, a.cfg, a.log)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(ctx, c)
}

func loadOne(ctx context.Context, c *container, out io.Writer, path string) error {
	p, err := c.pipeline(ctx)
	if err != nil {
		return err
	}
	st, err := p.LoadFile(ctx, path)
	if err != nil {
		return err
	}
	printSummary(out, loader.RunSummary{RunID: c.runID, Files: []*loader.FileStats{st}})
	return nil
}

func loadDir(ctx context.Context, c *container, out io.Writer, dir string) error {
	paths, err := file.Discover(ctx, dir, c.log)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		c.log.Warn("no supported files found", zap.String("dir", dir))
		fmt.Fprintf(out, "No supported files found in %s\n", dir)
		return nil
	}
	return loadPaths(ctx, c, out, paths)
}

func loadPaths(ctx context.Context, c *container, out io.Writer, paths []string) error {
	p, err := c.pipeline(ctx)
	if err != nil {
		return err
	}
	sum, err := p.LoadFiles(ctx, paths)
	printSummary(out, sum)
	if err != nil {
		return err
	}
	if failed := sum.Failed(); len(failed) > 0 {
		return errors.Newf("%d of %d files failed", len(failed), len(sum.Files))
	}
	return nil
}

func printSummary(out io.Writer, sum loader.RunSummary) {
	read, written, skipped, abandoned := sum.Totals()
	fmt.Fprintf(out, "Files: %d (failed %d)\n", len(sum.Files), len(sum.Failed()))
	fmt.Fprintf(out, "Rows read: %d, written: %d, skipped: %d, abandoned: %d\n", read, written, skipped, abandoned)
}
