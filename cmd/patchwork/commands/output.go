package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"gopkg.in/yaml.v3"
)

// render writes v in the selected output format. table fills a tabwriter
// for the default format.
func render(w io.Writer, v interface{}, table func(tw *tabwriter.Writer)) error {
	switch outputFormat {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(v)
	case "table", "":
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		table(tw)
		return tw.Flush()
	default:
		return &ExitError{Code: ExitUsage, Err: fmt.Errorf("unknown output format %q", outputFormat)}
	}
}

// orDash renders empty cells.
func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
