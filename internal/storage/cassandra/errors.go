package cassandra

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/gocql/gocql"

	"recordload/internal/storage"
)

// Server messages for ADD of a column that is already defined. Cassandra
// and Scylla word it differently across versions.
var existsMessages = []string{
	"conflicts with an existing column",
	"already exists",
	"Invalid column name",
}

// classify marks driver errors with the storage sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var (
		wt  *gocql.RequestErrWriteTimeout
		rt  *gocql.RequestErrReadTimeout
		un  *gocql.RequestErrUnavailable
		req gocql.RequestError
	)
	switch {
	case errors.As(err, &wt), errors.As(err, &rt), errors.As(err, &un):
		return errors.Mark(err, storage.ErrTransient)
	case errors.Is(err, gocql.ErrTimeoutNoResponse),
		errors.Is(err, gocql.ErrNoConnections),
		errors.Is(err, gocql.ErrConnectionClosed),
		errors.Is(err, context.DeadlineExceeded):
		return errors.Mark(err, storage.ErrTransient)
	case errors.As(err, &req):
		switch req.Code() {
		case gocql.ErrCodeOverloaded, gocql.ErrCodeBootstrapping, gocql.ErrCodeUnavailable,
			gocql.ErrCodeWriteTimeout, gocql.ErrCodeReadTimeout:
			return errors.Mark(err, storage.ErrTransient)
		case gocql.ErrCodeAlreadyExists:
			return errors.Mark(err, storage.ErrColumnExists)
		}
	}

	msg := err.Error()
	for _, m := range existsMessages {
		if strings.Contains(msg, m) {
			return errors.Mark(err, storage.ErrColumnExists)
		}
	}
	return err
}
