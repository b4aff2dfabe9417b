// Package loader drives a file through decode, normalize, schema check and
// write. Work is cut into chunks; each chunk is written as one atomic batch
// by a bounded pool of workers.
package loader

import (
	"fmt"
	"path/filepath"

	"github.com/zeebo/xxh3"

	"recordload/internal/record"
)

// ChunkState tracks a chunk through the pipeline. Written and Abandoned are
// terminal.
type ChunkState int

const (
	Parsed ChunkState = iota
	Normalized
	SchemaChecked
	Written
	Abandoned
)

func (s ChunkState) String() string {
	switch s {
	case Parsed:
		return "parsed"
	case Normalized:
		return "normalized"
	case SchemaChecked:
		return "schema_checked"
	case Written:
		return "written"
	case Abandoned:
		return "abandoned"
	default:
		return fmt.Sprintf("ChunkState(%d)", int(s))
	}
}

// Chunk is an ordered run of records from one file.
type Chunk struct {
	// ID is "<file>#<index>" for chunks and "<file>#<index>.<sub>" for
	// sub-chunks.
	ID      string
	Source  string
	Index   int
	Records []record.Normalized
	State   ChunkState
}

// ChunkID names chunk index of the file at source.
func ChunkID(source string, index int) string {
	return fmt.Sprintf("%s#%d", filepath.Base(source), index)
}

// SplitChunk cuts c into sub-chunks of at most maxOps records and, when
// maxBytes is positive, at most maxBytes of estimated payload, preserving
// record order. A record larger than maxBytes travels alone. A chunk that
// already fits is returned unchanged.
func SplitChunk(c Chunk, maxOps, maxBytes int) []Chunk {
	parts := splitRecords(c.Records, maxOps, maxBytes)
	if len(parts) <= 1 {
		return []Chunk{c}
	}
	out := make([]Chunk, len(parts))
	for i, recs := range parts {
		out[i] = Chunk{
			ID:      fmt.Sprintf("%s.%d", c.ID, i),
			Source:  c.Source,
			Index:   c.Index,
			Records: recs,
			State:   c.State,
		}
	}
	return out
}

func splitRecords(recs []record.Normalized, maxOps, maxBytes int) [][]record.Normalized {
	if maxBytes <= 0 {
		return Partition(recs, maxOps)
	}
	if maxOps <= 0 {
		maxOps = len(recs)
	}
	var (
		out   [][]record.Normalized
		start int
		size  int
	)
	for i := range recs {
		n := recs[i].Size()
		if i > start && (i-start >= maxOps || size+n > maxBytes) {
			out = append(out, recs[start:i:i])
			start, size = i, 0
		}
		size += n
	}
	if start < len(recs) {
		out = append(out, recs[start:len(recs):len(recs)])
	}
	return out
}

// Partition slices items into consecutive groups of at most size. The groups
// share the backing array.
func Partition[T any](items []T, size int) [][]T {
	if len(items) == 0 {
		return nil
	}
	if size <= 0 || len(items) <= size {
		return [][]T{items}
	}
	out := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		out = append(out, items[start:end:end])
	}
	return out
}

// Fingerprint hashes the identity keys of a chunk so an abandoned chunk can
// be matched against a later re-run without logging every key.
func Fingerprint(keys []string) uint64 {
	n := 0
	for _, k := range keys {
		n += len(k) + 1
	}
	buf := make([]byte, 0, n)
	for _, k := range keys {
		buf = append(buf, k...)
		buf = append(buf, 0)
	}
	return xxh3.Hash(buf)
}
