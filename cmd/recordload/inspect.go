package main

import (
	"github.com/spf13/cobra"

	"recordload/internal/inspect"
	"recordload/internal/record"
)

func newInspectCmd(a *app) *cobra.Command {
	var maxRows int64
	cmd := &cobra.Command{
		Use:   "inspect <path>",
		Short: "Decode a file without loading it and show how its fields map",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.checkConfig(cmd.ErrOrStderr()); err != nil {
				return err
			}
			dec, err := newDecoder(a.cfg, a.log)
			if err != nil {
				return err
			}
			rep, err := inspect.File(cmd.Context(), dec, newNormalizer(a.cfg), args[0], inspect.Options{
				MaxRows:  maxRows,
				Identity: record.IdentityPolicy(a.cfg.Normalize.Identity),
			})
			if err != nil {
				return err
			}
			inspect.Render(cmd.OutOrStdout(), rep)
			return nil
		},
	}
	cmd.Flags().Int64Var(&maxRows, "max-rows", 0, "stop after this many records (0 = whole file)")
	return cmd
}
