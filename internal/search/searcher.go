package search

import (
	"context"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"recordload/internal/record"
	"recordload/internal/storage"
)

// Searcher runs plans against a store.
type Searcher struct {
	store   storage.Store
	builder Builder
	log     *zap.Logger
}

// NewSearcher returns a Searcher.
func NewSearcher(store storage.Store, b Builder, log *zap.Logger) *Searcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Searcher{store: store, builder: b, log: log}
}

// Search builds input into a plan and runs every condition. Results are
// de-duplicated by key in the order first seen and capped at maxResults
// (zero or negative means no cap). A condition that fails is logged and
// skipped; an error is returned only when every condition failed.
func (s *Searcher) Search(ctx context.Context, input string, maxResults int) ([]storage.Result, Plan, error) {
	plan, err := s.builder.Build(input)
	if err != nil {
		return nil, plan, err
	}
	if plan.Warning != "" {
		s.log.Warn(plan.Warning, zap.String("query", input))
	}

	if plan.Column != record.DataColumn && plan.Column != record.AttributesColumn && !plan.Canonical {
		ok, err := s.hasColumn(ctx, plan.Column)
		if err != nil {
			return nil, plan, err
		}
		if !ok {
			s.log.Info("no such attribute column", zap.String("column", plan.Column))
			return nil, plan, nil
		}
	}

	var (
		out    []storage.Result
		seen   = make(map[string]struct{})
		failed []error
	)
	for _, c := range plan.Conditions {
		if maxResults > 0 && len(out) >= maxResults {
			break
		}
		s.log.Debug("executing query",
			zap.String("op", c.Op.String()),
			zap.String("column", c.Column),
			zap.String("key", c.Key),
			zap.String("value", c.Value),
			zap.Bool("full_scan", c.FullScan),
		)
		rows, err := s.store.Select(ctx, storage.Query{Cond: c, Limit: maxResults})
		if err != nil {
			if ctx.Err() != nil {
				return out, plan, ctx.Err()
			}
			s.log.Warn("query failed", zap.String("column", c.Column), zap.String("value", c.Value), zap.Error(err))
			failed = append(failed, err)
			continue
		}
		for _, r := range rows {
			if _, dup := seen[r.Key]; dup {
				continue
			}
			seen[r.Key] = struct{}{}
			out = append(out, r)
			if maxResults > 0 && len(out) >= maxResults {
				break
			}
		}
	}
	if len(plan.Conditions) > 0 && len(failed) == len(plan.Conditions) {
		return nil, plan, errors.Wrapf(failed[0], "search %q: all %d queries failed", input, len(failed))
	}
	return out, plan, nil
}

func (s *Searcher) hasColumn(ctx context.Context, name string) (bool, error) {
	cols, err := s.store.Columns(ctx)
	if err != nil {
		return false, errors.Wrap(err, "list columns")
	}
	for _, c := range cols {
		if c == name {
			return true, nil
		}
	}
	return false, nil
}
