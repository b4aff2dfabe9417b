// Package schema tracks which columns exist in the target table and adds
// missing ones on first use.
//
// State is the only mutable value shared by the loader's workers. Known
// columns are read under a RWMutex; concurrent first sightings of the same
// column collapse into one AddColumn call through singleflight.
package schema

import (
	"context"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"recordload/internal/ingesterr"
	"recordload/internal/storage"
)

// ColumnAdder adds one text column. storage.Store satisfies it.
type ColumnAdder interface {
	AddColumn(ctx context.Context, name string) error
}

// State is the run-scoped set of known columns. The zero value is not
// usable; call NewState.
type State struct {
	adder ColumnAdder
	log   *zap.Logger

	mu     sync.RWMutex
	known  map[string]struct{}
	failed map[string]error

	group singleflight.Group
}

// NewState seeds the set with the table's current columns.
func NewState(adder ColumnAdder, seed []string, log *zap.Logger) *State {
	if log == nil {
		log = zap.NewNop()
	}
	s := &State{
		adder:  adder,
		log:    log,
		known:  make(map[string]struct{}, len(seed)),
		failed: make(map[string]error),
	}
	for _, c := range seed {
		s.known[c] = struct{}{}
	}
	return s
}

// Known reports whether name is in the set.
func (s *State) Known(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.known[name]
	return ok
}

// EnsureColumn makes sure name exists. An "already exists" answer from the
// backend counts as success. Any other failure is returned as a
// *ingesterr.SchemaError and remembered, so later records carrying the same
// attribute fail fast instead of re-issuing the ALTER. Cancellation is not
// remembered.
func (s *State) EnsureColumn(ctx context.Context, name string) error {
	s.mu.RLock()
	_, ok := s.known[name]
	prev := s.failed[name]
	s.mu.RUnlock()
	if ok {
		return nil
	}
	if prev != nil {
		return prev
	}

	_, err, _ := s.group.Do(name, func() (any, error) {
		if s.Known(name) {
			return nil, nil
		}
		err := s.adder.AddColumn(ctx, name)
		switch {
		case err == nil:
			s.log.Info("column added", zap.String("column", name))
		case errors.Is(err, storage.ErrColumnExists):
			s.log.Debug("column already present", zap.String("column", name))
		case ctx.Err() != nil:
			return nil, ctx.Err()
		default:
			serr := &ingesterr.SchemaError{Column: name, Err: err}
			s.mu.Lock()
			s.failed[name] = serr
			s.mu.Unlock()
			return nil, serr
		}
		s.mu.Lock()
		s.known[name] = struct{}{}
		s.mu.Unlock()
		return nil, nil
	})
	return err
}

// Columns returns the known columns, sorted.
func (s *State) Columns() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.known))
	for c := range s.known {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
