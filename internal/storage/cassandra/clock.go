package cassandra

import (
	"sync"
	"time"

	"recordload/internal/storage"
)

// clock hands out write timestamps in microseconds. Statements in one
// LOGGED batch otherwise share a timestamp and the server resolves equal
// timestamps by comparing values, so duplicate keys need distinct ones.
type clock struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

func newClock() *clock { return &clock{now: time.Now} }

// reserve returns the first of n consecutive timestamps, each later than
// any handed out before.
func (c *clock) reserve(n int) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	base := c.now().UnixMicro()
	if base <= c.last {
		base = c.last + 1
	}
	c.last = base + int64(n) - 1
	return base
}

// rowArgs binds the row's values followed by its USING TIMESTAMP value.
func rowArgs(r storage.Row, ts int64) []any {
	args := make([]any, 0, len(r.Values)+1)
	args = append(args, r.Values...)
	return append(args, ts)
}
