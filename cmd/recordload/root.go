package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"recordload/internal/config"
	"recordload/internal/logging"
	"recordload/internal/storage"
)

// app holds state shared by every subcommand: flags, the decoded config and
// the logger.
type app struct {
	cfgPath        string
	logLevel       string
	metricsBackend string

	cfg config.Pipeline
	log *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:          "recordload",
		Short:        "Load CSV and NDJSON dumps into Scylla/Cassandra and search them",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&a.cfgPath, "config", "", "config file (YAML or JSON); RECORDLOAD_* env vars override it")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides log.level)")
	root.PersistentFlags().StringVar(&a.metricsBackend, "metrics-backend", "", "metrics backend: none, prometheus, datadog (overrides metrics.backend)")

	root.AddCommand(
		newLoadCmd(a),
		newSearchCmd(a),
		newMenuCmd(a),
		newValidateCmd(a),
		newCountCmd(a),
		newInspectCmd(a),
	)
	return root
}

// init loads the config, applies flag overrides and builds the logger.
func (a *app) init() error {
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.metricsBackend != "" {
		cfg.Metrics.Backend = a.metricsBackend
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = log
	return nil
}

// checkConfig prints every issue to w and fails when any is an error.
func (a *app) checkConfig(w io.Writer) error {
	issues := config.ValidatePipeline(a.cfg, storage.Kinds())
	for _, iss := range issues {
		fmt.Fprintf(w, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if config.HasErrors(issues) {
		where := a.cfgPath
		if where == "" {
			where = "defaults and environment"
		}
		return errors.Newf("configuration is invalid (%s)", where)
	}
	return nil
}

func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}
