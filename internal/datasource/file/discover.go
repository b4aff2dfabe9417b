// Package file finds the local input files a load runs over.
package file

import (
	"context"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// Extensions lists the file types a directory load picks up.
var Extensions = []string{".csv", ".txt", ".jsonl", ".ndjson"}

// Supported reports whether path has one of Extensions (case-insensitive).
func Supported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// Discover walks dir recursively and returns the supported files in lexical
// order. Other files are logged at debug level and skipped. Hidden
// directories (".git", ".cache") are not entered.
func Discover(ctx context.Context, dir string, log *zap.Logger) ([]string, error) {
	if log == nil {
		log = zap.NewNop()
	}
	var out []string
	skipped := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if !Supported(path) {
			skipped++
			log.Debug("skipping unsupported file", zap.String("file", path))
			return nil
		}
		out = append(out, path)
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "discover %s", dir)
	}
	sort.Strings(out)
	if skipped > 0 {
		log.Info("unsupported files skipped", zap.String("dir", dir), zap.Int("count", skipped))
	}
	return out, nil
}
