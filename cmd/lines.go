package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/vamdc-lines/internal/engine"
	"github.com/JakeFAU/vamdc-lines/internal/vamdc"
)

const noLinesFound = "no lines found"

// lineFlags are shared by count lines and get lines.
type lineFlags struct {
	species          []string
	nodes            []string
	lambdaMin        float64
	lambdaMax        float64
	acceptTruncation bool
	format           string
	output           string
	refresh          bool
}

func (f *lineFlags) register(cmd *cobra.Command, formats string) {
	def := engine.DefaultRequest()
	flags := cmd.Flags()
	flags.StringSliceVarP(&f.species, "species", "s", nil,
		"InChIKeys, species names or formulas (repeatable, comma separated; default: all)")
	flags.StringSliceVarP(&f.nodes, "node", "n", nil, "node short names, IVO identifiers or TAP endpoints (default: all)")
	flags.Float64Var(&f.lambdaMin, "lambda-min", def.LambdaMin, "lower wavelength bound in Angstrom (inclusive)")
	flags.Float64Var(&f.lambdaMax, "lambda-max", def.LambdaMax, "upper wavelength bound in Angstrom (exclusive)")
	flags.BoolVar(&f.acceptTruncation, "accept-truncation", false, "fetch truncated windows without splitting them")
	flags.StringVarP(&f.format, "format", "f", formatTable, "output format: "+formats)
	flags.BoolVar(&f.refresh, "refresh", false, "download the reference tables again before querying")
}

func (f *lineFlags) request() engine.Request {
	return engine.Request{
		Species:          f.species,
		Nodes:            f.nodes,
		LambdaMin:        f.lambdaMin,
		LambdaMax:        f.lambdaMax,
		AcceptTruncation: f.acceptTruncation,
	}
}

func newCountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "count",
		Short: "Count what nodes would return without downloading it.",
	}
	cmd.AddCommand(newCountLinesCmd())
	return cmd
}

func newCountLinesCmd() *cobra.Command {
	f := &lineFlags{}
	cmd := &cobra.Command{
		Use:   "lines",
		Short: "Probe every node and report per-window line counts.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := checkFormat(f.format, formatTable, formatCSV, formatJSON); err != nil {
				return err
			}
			services, err := servicesFrom(cmd)
			if err != nil {
				return err
			}
			snap, err := loadSnapshot(cmd, services, f.refresh)
			if err != nil {
				return err
			}
			lines, err := services.Lines("")
			if err != nil {
				return err
			}
			out, err := lines.Inspect(cmd.Context(), snap, f.request())
			if err != nil {
				return err
			}
			printWarnings(cmd.ErrOrStderr(), out.Warnings)
			return writeCounts(cmd.OutOrStdout(), f.format, out)
		},
	}
	f.register(cmd, "table, csv, json")
	return cmd
}

func newGetLinesCmd() *cobra.Command {
	f := &lineFlags{}
	cmd := &cobra.Command{
		Use:   "lines",
		Short: "Retrieve radiative transitions from every node.",
		Long: `Retrieve radiative transitions from every node. Truncated wavelength
windows are split until each answer is complete. With --format xsams the raw
documents are written to --output (default: output.xsams_dir) instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := checkFormat(f.format, formatTable, formatCSV, formatJSON, formatXSAMS); err != nil {
				return err
			}
			services, err := servicesFrom(cmd)
			if err != nil {
				return err
			}
			snap, err := loadSnapshot(cmd, services, f.refresh)
			if err != nil {
				return err
			}

			mode := vamdc.OutputRows
			xsamsDir := ""
			if f.format == formatXSAMS {
				mode = vamdc.OutputPayload
				xsamsDir = f.output
			}
			lines, err := services.Lines(xsamsDir)
			if err != nil {
				return err
			}
			out, err := lines.Retrieve(cmd.Context(), snap, f.request(), mode)
			if errors.Is(err, vamdc.ErrNoDescriptors) {
				_, werr := fmt.Fprintln(cmd.OutOrStdout(), noLinesFound)
				return werr
			}
			if err != nil {
				return err
			}
			printWarnings(cmd.ErrOrStderr(), out.Warnings)

			if f.format == formatXSAMS {
				return writeList(cmd.OutOrStdout(), out.Relocated)
			}
			if len(out.Rows) == 0 {
				_, werr := fmt.Fprintln(cmd.OutOrStdout(), noLinesFound)
				return werr
			}
			return withOutput(cmd.OutOrStdout(), f.output, func(w io.Writer) error {
				return writeRows(w, f.format, out.Rows)
			})
		},
	}
	f.register(cmd, "table, csv, json, xsams")
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "write to this file (xsams: directory) instead of stdout")
	return cmd
}

// withOutput runs write against path, or against stdout when path is empty.
func withOutput(stdout io.Writer, path string, write func(io.Writer) error) (err error) {
	if path == "" {
		return write(stdout)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close output: %w", cerr)
		}
	}()
	return write(file)
}

func printWarnings(w io.Writer, warnings []string) {
	for _, msg := range warnings {
		_, _ = fmt.Fprintln(w, "warning:", msg)
	}
}
