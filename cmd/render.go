package cmd

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/JakeFAU/vamdc-lines/internal/catalog/cache"
	"github.com/JakeFAU/vamdc-lines/internal/vamdc"
	"github.com/JakeFAU/vamdc-lines/internal/xsams"
)

// Output formats.
const (
	formatTable = "table"
	formatCSV   = "csv"
	formatJSON  = "json"
	formatXSAMS = "xsams"
)

func checkFormat(format string, allowed ...string) error {
	if slices.Contains(allowed, format) {
		return nil
	}
	return fmt.Errorf("unsupported format %q (want one of %s)", format, strings.Join(allowed, ", "))
}

// writeGrid renders a header plus records as an aligned table or as CSV.
func writeGrid(w io.Writer, format string, header []string, records [][]string) error {
	if format == formatCSV {
		cw := csv.NewWriter(w)
		if err := cw.Write(header); err != nil {
			return fmt.Errorf("write csv: %w", err)
		}
		if err := cw.WriteAll(records); err != nil {
			return fmt.Errorf("write csv: %w", err)
		}
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	upper := make([]string, len(header))
	for i, h := range header {
		upper[i] = strings.ToUpper(h)
	}
	_, _ = fmt.Fprintln(tw, strings.Join(upper, "\t"))
	for _, rec := range records {
		_, _ = fmt.Fprintln(tw, strings.Join(rec, "\t"))
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("write table: %w", err)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write json: %w", err)
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func optionalValue(values map[string]float64, key string) string {
	v, ok := values[key]
	if !ok {
		return ""
	}
	return formatFloat(v)
}

var rowHeader = []string{
	"node", "species_type", "inchikey", "transition_id", "wavelength", "units",
	"frequency", "einstein_a", "log_gf", "upper_state", "lower_state",
}

func writeRows(w io.Writer, format string, rows []vamdc.Row) error {
	if format == formatJSON {
		return writeJSON(w, rows)
	}
	records := make([][]string, 0, len(rows))
	for _, r := range rows {
		node := r.NodeShortName
		if node == "" {
			node = r.Node
		}
		records = append(records, []string{
			node,
			string(r.SpeciesClass),
			r.SpeciesID,
			r.TransitionID,
			formatFloat(r.Wavelength),
			r.WavelengthUnits,
			optionalValue(r.Values, xsams.ValueFrequency),
			optionalValue(r.Values, xsams.ValueEinsteinA),
			optionalValue(r.Values, xsams.ValueLogGF),
			r.UpperStateRef,
			r.LowerStateRef,
		})
	}
	return writeGrid(w, format, rowHeader, records)
}

// writeCounts renders one line per probed window followed by the totals.
func writeCounts(w io.Writer, format string, out vamdc.AggregatedResult) error {
	if format == formatJSON {
		return writeJSON(w, struct {
			Totals   vamdc.Counters         `json:"totals"`
			Results  []vamdc.SubQueryResult `json:"results"`
			Warnings []string               `json:"warnings,omitempty"`
		}{out.Totals, out.Results, out.Warnings})
	}

	names := out.Totals.Clone()
	for _, r := range out.Results {
		for name := range r.Counters {
			if _, ok := names[name]; !ok {
				names[name] = 0
			}
		}
	}
	columns := names.Names()

	header := append([]string{"node", "inchikey", "interval"}, columns...)
	header = append(header, "status")
	records := make([][]string, 0, len(out.Results)+1)
	for _, r := range out.Results {
		d := r.Descriptor
		node := d.NodeShortName
		if node == "" {
			node = d.NodeAddress
		}
		rec := []string{node, d.SpeciesID, d.Interval()}
		for _, name := range columns {
			rec = append(rec, counterCell(r.Counters, name))
		}
		records = append(records, append(rec, resultStatus(r)))
	}
	total := []string{"TOTAL", "", ""}
	for _, name := range columns {
		total = append(total, counterCell(out.Totals, name))
	}
	records = append(records, append(total, ""))
	return writeGrid(w, format, header, records)
}

func counterCell(c vamdc.Counters, name string) string {
	v, ok := c[name]
	if !ok {
		return ""
	}
	return formatFloat(v)
}

func resultStatus(r vamdc.SubQueryResult) string {
	switch {
	case r.Failed():
		return "error: " + r.Error
	case r.Truncated:
		return "truncated"
	default:
		return "ok"
	}
}

func writeNodes(w io.Writer, format string, nodes []vamdc.NodeDescriptor) error {
	if format == formatJSON {
		return writeJSON(w, nodes)
	}
	records := make([][]string, 0, len(nodes))
	for _, n := range nodes {
		records = append(records, []string{n.ShortName, n.IVOIdentifier, n.Address, n.LastUpdate})
	}
	return writeGrid(w, format, []string{"short_name", "ivo_identifier", "address", "last_update"}, records)
}

func writeSpecies(w io.Writer, format string, species []vamdc.SpeciesDescriptor) error {
	if format == formatJSON {
		return writeJSON(w, species)
	}
	records := make([][]string, 0, len(species))
	for _, s := range species {
		records = append(records, []string{
			s.InChIKey,
			s.Name,
			s.StoichiometricFormula,
			strconv.Itoa(s.Charge),
			string(s.Class),
			strconv.Itoa(len(s.Nodes)),
		})
	}
	return writeGrid(w, format, []string{"inchikey", "name", "formula", "charge", "species_type", "nodes"}, records)
}

func writeCacheStatus(w io.Writer, st cache.Status) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "dir:\t%s\n", st.Dir)
	if !st.Present {
		_, _ = fmt.Fprintf(tw, "state:\t%s\n", "empty")
		return tw.Flush()
	}
	state := "fresh"
	if !st.ExpiresAt.IsZero() && time.Now().After(st.ExpiresAt) {
		state = "expired"
	}
	_, _ = fmt.Fprintf(tw, "state:\t%s\n", state)
	_, _ = fmt.Fprintf(tw, "refreshed:\t%s\n", st.RefreshedAt.Format(time.RFC3339))
	_, _ = fmt.Fprintf(tw, "expires:\t%s\n", st.ExpiresAt.Format(time.RFC3339))
	_, _ = fmt.Fprintf(tw, "nodes:\t%d\n", st.Nodes)
	_, _ = fmt.Fprintf(tw, "species:\t%d\n", st.Species)
	return tw.Flush()
}

func writeList(w io.Writer, items []string) error {
	for _, item := range items {
		if _, err := fmt.Fprintln(w, item); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
	}
	return nil
}
