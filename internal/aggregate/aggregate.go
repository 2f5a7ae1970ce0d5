// Package aggregate merges sub-query results into one request-level result.
package aggregate

import (
	"fmt"

	"github.com/JakeFAU/vamdc-lines/internal/vamdc"
)

// Aggregate walks results in submission order. Additive counters are summed
// into Totals; every row is tagged with its node and species before being
// appended. Soft failures and every truncated answer produce one warning each,
// including leaves that were expected to fit but came back truncated.
func Aggregate(results []vamdc.SubQueryResult) vamdc.AggregatedResult {
	return merge(results, "node returned a truncated answer; results are incomplete")
}

// Probes merges probe answers the way Aggregate merges fetches. A truncated
// probe is expected at this stage, so its warning says retrieval will split it.
func Probes(results []vamdc.SubQueryResult) vamdc.AggregatedResult {
	return merge(results, "node reports a truncated answer; retrieval will split it")
}

func merge(results []vamdc.SubQueryResult, truncatedNote string) vamdc.AggregatedResult {
	out := vamdc.AggregatedResult{
		Results: results,
		Totals:  vamdc.Counters{},
		Rows:    []vamdc.Row{},
	}
	for _, r := range results {
		d := r.Descriptor
		switch {
		case r.Failed():
			out.Warnings = append(out.Warnings, fmt.Sprintf("%s: sub-query failed: %s", d, r.Error))
			continue
		case d.TruncationWarning:
			out.Warnings = append(out.Warnings,
				fmt.Sprintf("%s: results truncated by the node; split bound reached after %d bisections", d, d.Depth))
		case r.Truncated && d.AcceptTruncation:
			out.Warnings = append(out.Warnings, fmt.Sprintf("%s: results truncated by the node", d))
		case r.Truncated:
			out.Warnings = append(out.Warnings, fmt.Sprintf("%s: %s", d, truncatedNote))
		}
		out.Totals.Add(r.Counters)
		for _, row := range r.Rows {
			row.Node = d.NodeAddress
			row.NodeShortName = d.NodeShortName
			row.SpeciesClass = d.SpeciesClass
			row.SpeciesID = d.SpeciesID
			out.Rows = append(out.Rows, row)
		}
	}
	return out
}
