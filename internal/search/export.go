package search

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"

	"recordload/internal/record"
	"recordload/internal/storage"
)

// Save writes results to path as CSV or a JSON array, chosen by extension.
// The CSV header is the union of field names in order of first appearance.
func Save(path string, results []storage.Result) (err error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".csv" && ext != ".json" {
		return errors.Newf("save: unsupported extension %q (want .csv or .json)", ext)
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "save")
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = errors.Wrap(cerr, "save: close")
		}
	}()

	if ext == ".json" {
		return writeJSON(f, results)
	}
	return writeCSV(f, results)
}

func writeJSON(f *os.File, results []storage.Result) error {
	items := make([]json.RawMessage, 0, len(results))
	for _, r := range results {
		b, err := record.Raw{Fields: r.Fields}.MarshalJSON()
		if err != nil {
			return errors.Wrap(err, "save: encode result")
		}
		items = append(items, b)
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(items), "save: write json")
}

func writeCSV(f *os.File, results []storage.Result) error {
	var header []string
	index := make(map[string]int)
	for _, r := range results {
		for _, fld := range r.Fields {
			if _, ok := index[fld.Name]; !ok {
				index[fld.Name] = len(header)
				header = append(header, fld.Name)
			}
		}
	}

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return errors.Wrap(err, "save: write header")
	}
	for _, r := range results {
		row := make([]string, len(header))
		for _, fld := range r.Fields {
			row[index[fld.Name]] = fld.Value
		}
		if err := w.Write(row); err != nil {
			return errors.Wrap(err, "save: write row")
		}
	}
	w.Flush()
	return errors.Wrap(w.Error(), "save: flush")
}
