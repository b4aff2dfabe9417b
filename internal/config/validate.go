package config

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"recordload/internal/record"
	"recordload/internal/storage"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError blocks the run.
	SeverityError IssueSeverity = "error"
	// SeverityWarning is reported but does not block the run.
	SeverityWarning IssueSeverity = "warning"
)

// Issue is a single validation finding. Path is a dotted path into the
// config, e.g. "storage.hosts" or "normalize.extra_aliases.mail".
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, i := range issues {
		if i.Severity == SeverityError {
			return true
		}
	}
	return false
}

// ValidatePipeline checks p without mutating it. knownKinds lists the
// registered storage backends; nil skips that check.
func ValidatePipeline(p Pipeline, knownKinds []string) []Issue {
	var issues []Issue

	if strings.TrimSpace(p.Job) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "job",
			Message:  "job must not be empty; it labels logs and metrics",
		})
	}
	if _, ok := Profiles[strings.ToLower(p.Profile)]; !ok && p.Profile != "" {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "profile",
			Message:  fmt.Sprintf("unknown profile %q; want small, default or bulk", p.Profile),
		})
	}
	issues = append(issues, validateParser(p.Parser)...)
	issues = append(issues, validateNormalize(p.Normalize)...)
	issues = append(issues, validateStorage(p.Storage, storage.DynamicMode(p.Normalize.DynamicMode), knownKinds)...)
	issues = append(issues, validateRuntime(p.Runtime)...)
	issues = append(issues, validateMetrics(p.Metrics)...)
	issues = append(issues, validateLog(p.Log)...)
	return issues
}

func validateParser(p Parser) []Issue {
	var issues []Issue
	if p.Delimiter != "" && utf8.RuneCountInString(p.Delimiter) != 1 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "parser.delimiter",
			Message:  fmt.Sprintf("delimiter must be a single character, got %q", p.Delimiter),
		})
	}
	if p.Delimiter == "\"" || p.Delimiter == "\n" || p.Delimiter == "\r" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "parser.delimiter",
			Message:  "delimiter cannot be a quote or newline",
		})
	}
	if p.TrimSpace {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "parser.trim_space",
			Message:  "CSV values are trimmed before storage; the data column no longer holds the row verbatim",
		})
	}
	if p.StreamThresholdBytes < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "parser.stream_threshold_bytes",
			Message:  "must be >= 0",
		})
	}
	if p.StreamBatchRows < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "parser.stream_batch_rows",
			Message:  "must be >= 0",
		})
	}
	for i, e := range p.Encodings {
		if strings.TrimSpace(e) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     fmt.Sprintf("parser.encodings[%d]", i),
				Message:  "encoding name must not be empty",
			})
		}
	}
	return issues
}

func validateNormalize(n Normalize) []Issue {
	var issues []Issue
	if !record.IdentityPolicy(n.Identity).Valid() {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "normalize.identity",
			Message:  fmt.Sprintf("unknown identity policy %q; want email or multi", n.Identity),
		})
	}
	if !storage.DynamicMode(n.DynamicMode).Valid() {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "normalize.dynamic_mode",
			Message:  fmt.Sprintf("unknown dynamic mode %q; want columns or map", n.DynamicMode),
		})
	}
	for attr, names := range n.ExtraAliases {
		path := "normalize.extra_aliases." + attr
		if !record.IsCanonical(attr) {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     path,
				Message:  fmt.Sprintf("%q is not a canonical attribute", attr),
			})
			continue
		}
		if len(names) == 0 {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Path:     path,
				Message:  "empty alias list has no effect",
			})
		}
	}
	return issues
}

func validateStorage(s Storage, mode storage.DynamicMode, knownKinds []string) []Issue {
	var issues []Issue
	if strings.TrimSpace(s.Kind) == "" {
		return append(issues, Issue{
			Severity: SeverityError,
			Path:     "storage.kind",
			Message:  "storage.kind must not be empty",
		})
	}
	if knownKinds != nil && !contains(knownKinds, s.Kind) {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "storage.kind",
			Message:  fmt.Sprintf("unknown storage kind %q; known: %s", s.Kind, strings.Join(knownKinds, ", ")),
		})
	}
	if strings.TrimSpace(s.Table) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "storage.table",
			Message:  "table must not be empty",
		})
	}

	switch s.Kind {
	case "scylla", "cassandra":
		if len(s.Hosts) == 0 {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "storage.hosts",
				Message:  "at least one contact point is required",
			})
		}
		if strings.TrimSpace(s.Keyspace) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "storage.keyspace",
				Message:  "keyspace must not be empty",
			})
		}
		if s.Port <= 0 || s.Port > 65535 {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "storage.port",
				Message:  fmt.Sprintf("port %d out of range", s.Port),
			})
		}
		if s.ProtoVersion != 0 && (s.ProtoVersion < 3 || s.ProtoVersion > 5) {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Path:     "storage.proto_version",
				Message:  fmt.Sprintf("protocol version %d is unusual; 4 is the tested value", s.ProtoVersion),
			})
		}
		if s.AutoCreate && s.ReplicationFactor < 1 {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "storage.replication_factor",
				Message:  "replication factor must be >= 1 when auto_create is set",
			})
		}
	case "postgres", "sqlite":
		if strings.TrimSpace(s.DSN) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "storage.dsn",
				Message:  s.Kind + " storage requires a dsn",
			})
		}
	case "memory":
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "storage.kind",
			Message:  "memory storage keeps nothing after the process exits",
		})
	}

	if mode == storage.DynamicColumns && !s.AutoCreate && s.Kind != "memory" {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "storage.auto_create",
			Message:  "auto_create is off; the table must already exist with the base columns",
		})
	}
	return issues
}

func validateRuntime(r RuntimeConfig) []Issue {
	var issues []Issue
	if r.Workers < 0 {
		issues = append(issues, Issue{Severity: SeverityError, Path: "runtime.workers", Message: "must be >= 0"})
	}
	if r.ChunkSize < 0 {
		issues = append(issues, Issue{Severity: SeverityError, Path: "runtime.chunk_size", Message: "must be >= 0"})
	}
	if r.ChunkSize > storage.MaxBatchStatements {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "runtime.chunk_size",
			Message:  fmt.Sprintf("chunks above %d records are split into sub-batches", storage.MaxBatchStatements),
		})
	}
	if r.Retries < 0 {
		issues = append(issues, Issue{Severity: SeverityError, Path: "runtime.retries", Message: "must be >= 0"})
	}
	if r.WriteTimeout < 0 {
		issues = append(issues, Issue{Severity: SeverityError, Path: "runtime.write_timeout", Message: "must be >= 0"})
	}
	if r.MaxBatchBytes < 0 {
		issues = append(issues, Issue{Severity: SeverityError, Path: "runtime.max_batch_bytes", Message: "must be >= 0"})
	}
	return issues
}

func validateMetrics(m Metrics) []Issue {
	var issues []Issue
	switch m.Backend {
	case "", "none":
	case "prometheus":
		if strings.TrimSpace(m.PushURL) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "metrics.push_url",
				Message:  "prometheus backend requires a Pushgateway URL",
			})
		}
	case "datadog":
		if strings.TrimSpace(m.StatsdAddr) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "metrics.statsd_addr",
				Message:  "datadog backend requires a DogStatsD address",
			})
		}
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "metrics.backend",
			Message:  fmt.Sprintf("unknown metrics backend %q; want none, prometheus or datadog", m.Backend),
		})
	}
	return issues
}

func validateLog(l Log) []Issue {
	var issues []Issue
	switch strings.ToLower(l.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "log.level",
			Message:  fmt.Sprintf("unknown log level %q", l.Level),
		})
	}
	switch l.Format {
	case "", "console", "json":
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "log.format",
			Message:  fmt.Sprintf("unknown log format %q; want console or json", l.Format),
		})
	}
	return issues
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
