package cmd

import (
	"fmt"
	"io"
	"sort"

	"github.com/swanling/swanling/internal/metrics"
)

// printSnapshot renders a plain-text metrics summary to out: one row per
// request and task aggregate, plus the error summary when present.
func printSnapshot(out io.Writer, snap metrics.Snapshot) {
	if len(snap.Requests) > 0 {
		fmt.Fprintln(out, "\n=== Requests ===")
		for _, key := range sortedKeys(snap.Requests) {
			r := snap.Requests[key]
			fmt.Fprintf(out, "%-40s  total=%-8d ok=%-8d fail=%-8d avg=%.1fms min=%dms max=%dms p99=%dms\n",
				key, r.Counter, r.Success, r.Fail, r.AvgElapsedMS, r.MinElapsedMS, r.MaxElapsedMS, r.Percentiles[0.99])
		}
	}

	if len(snap.Tasks) > 0 {
		fmt.Fprintln(out, "\n=== Tasks ===")
		for _, key := range sortedKeys(snap.Tasks) {
			t := snap.Tasks[key]
			fmt.Fprintf(out, "%-40s  total=%-8d ok=%-8d fail=%-8d avg=%.1fms p99=%dms\n",
				key, t.Counter, t.Success, t.Fail, t.AvgElapsedMS, t.Percentiles[0.99])
		}
	}

	if len(snap.Errors) > 0 {
		fmt.Fprintln(out, "\n=== Errors ===")
		for _, key := range sortedKeys(snap.Errors) {
			e := snap.Errors[key]
			fmt.Fprintf(out, "%-40s  occurrences=%d  %s\n", e.Method+" "+e.Name, e.Occurrences, e.ErrorString)
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
