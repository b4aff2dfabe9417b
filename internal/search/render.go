package search

import (
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"

	"recordload/internal/storage"
)

// Render prints one field/value table per result.
func Render(w io.Writer, results []storage.Result) {
	if len(results) == 0 {
		fmt.Fprintln(w, "No matching records found.")
		return
	}
	fmt.Fprintf(w, "Found %d result%s:\n", len(results), plural(len(results)))
	for i, r := range results {
		fmt.Fprintf(w, "\nResult %d\n", i+1)
		table := tablewriter.NewWriter(w)
		table.SetAutoFormatHeaders(false)
		table.SetAutoWrapText(false)
		table.SetHeader([]string{"field", "value"})
		for _, f := range r.Fields {
			table.Append([]string{f.Name, flatten(f.Value)})
		}
		table.Render()
	}
}

func flatten(s string) string {
	return strings.NewReplacer("\r\n", " ", "\n", " ", "\t", " ").Replace(s)
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
