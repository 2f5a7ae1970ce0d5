package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/vamdc-lines/internal/catalog"
)

func newGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Retrieve lines or list the reference tables.",
	}
	cmd.AddCommand(newGetLinesCmd(), newGetNodesCmd(), newGetSpeciesCmd())
	return cmd
}

// tableFlags are shared by get nodes and get species.
type tableFlags struct {
	format  string
	output  string
	refresh bool
}

func (f *tableFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVarP(&f.format, "format", "f", formatTable, "output format: table, csv, json")
	flags.StringVarP(&f.output, "output", "o", "", "write to this file instead of stdout")
	flags.BoolVar(&f.refresh, "refresh", false, "download the tables again before answering")
}

// loadSnapshot returns the cached tables, or fresh ones when refresh is set.
func loadSnapshot(cmd *cobra.Command, services Services, refresh bool) (*catalog.Snapshot, error) {
	load := services.Snapshot
	if refresh {
		load = services.Refresh
	}
	snap, err := load(cmd.Context())
	if err != nil {
		return nil, fmt.Errorf("load reference tables: %w", err)
	}
	return snap, nil
}

func newGetNodesCmd() *cobra.Command {
	f := &tableFlags{}
	cmd := &cobra.Command{
		Use:   "nodes",
		Short: "List the data nodes known to the species database.",
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
			return withOutput(cmd.OutOrStdout(), f.output, func(w io.Writer) error {
				return writeNodes(w, f.format, snap.Nodes())
			})
		},
	}
	f.register(cmd)
	return cmd
}

func newGetSpeciesCmd() *cobra.Command {
	f := &tableFlags{}
	var filterBy []string
	cmd := &cobra.Command{
		Use:   "species",
		Short: "List the species known to the species database.",
		Example: `  vamdc get species --filter-by name:CO
  vamdc get species --filter-by species_type:atom --filter-by mass_number:50-60`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := checkFormat(f.format, formatTable, formatCSV, formatJSON); err != nil {
				return err
			}
			filters := make([]catalog.SpeciesFilter, 0, len(filterBy))
			for _, raw := range filterBy {
				sf, err := catalog.ParseSpeciesFilter(raw)
				if err != nil {
					return err
				}
				filters = append(filters, sf)
			}
			services, err := servicesFrom(cmd)
			if err != nil {
				return err
			}
			snap, err := loadSnapshot(cmd, services, f.refresh)
			if err != nil {
				return err
			}
			return withOutput(cmd.OutOrStdout(), f.output, func(w io.Writer) error {
				return writeSpecies(w, f.format, snap.FilterSpecies(filters...))
			})
		},
	}
	f.register(cmd)
	cmd.Flags().StringArrayVar(&filterBy, "filter-by", nil,
		`keep species matching "column:value" or "column:min-max" (repeatable)`)
	return cmd
}

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or manage the cached node and species tables.",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "status",
			Short: "Show where the cache lives and whether it is fresh.",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				services, err := servicesFrom(cmd)
				if err != nil {
					return err
				}
				st, err := services.CacheStatus()
				if err != nil {
					return fmt.Errorf("cache status: %w", err)
				}
				return writeCacheStatus(cmd.OutOrStdout(), st)
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Delete the cached tables.",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				services, err := servicesFrom(cmd)
				if err != nil {
					return err
				}
				if err := services.ClearCache(); err != nil {
					return fmt.Errorf("clear cache: %w", err)
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), "cache cleared")
				return err
			},
		},
		&cobra.Command{
			Use:   "refresh",
			Short: "Download the tables again and replace the cache.",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				services, err := servicesFrom(cmd)
				if err != nil {
					return err
				}
				snap, err := services.Refresh(cmd.Context())
				if err != nil {
					return fmt.Errorf("refresh cache: %w", err)
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "cache refreshed: %d nodes, %d species\n",
					len(snap.Nodes()), len(snap.Species()))
				return err
			},
		},
	)
	return cmd
}
