package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/hexatlas/hexgrid/internal/coverage"
	"github.com/hexatlas/hexgrid/internal/geo"
	"github.com/hexatlas/hexgrid/internal/logging"
	"github.com/hexatlas/hexgrid/internal/resolution"
	"github.com/hexatlas/hexgrid/internal/spatial"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newCoverCommand(opts *rootOptions) *cobra.Command {
	var (
		north, west, south, east float64
		zoom                     float64
		res                      int
		limit                    int
	)
	cmd := &cobra.Command{
		Use:   "cover",
		Short: "Print the cells covering a viewport",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case cmd.Flags().Changed("resolution"):
				if res < 0 || res > spatial.MaxResolution {
					return fmt.Errorf("resolution %d out of range", res)
				}
			case cmd.Flags().Changed("zoom"):
				res = resolution.ForZoom(zoom)
			default:
				return errors.New("one of --zoom or --resolution is required")
			}

			level := opts.logLevel
			if level == "" {
				level = "warn"
			}
			log, _, err := logging.New(logging.Config{Level: level, Format: "console"})
			if err != nil {
				return err
			}
			defer log.Sync()

			computer := coverage.NewComputer(coverage.Config{
				Index:  spatial.NewH3(),
				Limit:  limit,
				Path:   "cli",
				Logger: log,
			})
			result := computer.CoverDetailed(geo.NewRect(north, west, south, east), res)
			if result.Cells == nil {
				result.Cells = []spatial.CellID{}
			}
			return printJSON(cmd.OutOrStdout(), struct {
				Resolution int `json:"resolution"`
				Count      int `json:"count"`
				coverage.Result
			}{res, len(result.Cells), result})
		},
	}
	f := cmd.Flags()
	f.Float64Var(&north, "north", 0, "north edge latitude")
	f.Float64Var(&west, "west", 0, "west edge longitude")
	f.Float64Var(&south, "south", 0, "south edge latitude")
	f.Float64Var(&east, "east", 0, "east edge longitude")
	f.Float64Var(&zoom, "zoom", 0, "map zoom; selects the resolution")
	f.IntVar(&res, "resolution", 0, "explicit resolution (0-15)")
	f.IntVar(&limit, "limit", coverage.BackgroundLimit, "refuse coverages whose estimate reaches this many cells")
	for _, name := range []string{"north", "west", "south", "east"} {
		cmd.MarkFlagRequired(name)
	}
	return cmd
}

func newNeighborsCommand() *cobra.Command {
	var k int
	cmd := &cobra.Command{
		Use:   "neighbors <cell>",
		Short: "Print the cells within k steps of a cell",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := spatial.ParseCellID(args[0])
			if err != nil {
				return err
			}
			cells, err := spatial.Neighbors(spatial.NewH3(), id, k)
			if err != nil {
				return err
			}
			if cells == nil {
				cells = []spatial.CellID{}
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"h3_index": id, "k": k, "neighbors": cells})
		},
	}
	cmd.Flags().IntVarP(&k, "k", "k", 1, "disk radius")
	return cmd
}

func newCellCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cell <cell> | cell <lat> <lng> <resolution>",
		Short: "Print the geometry of a cell, given directly or by coordinate",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 && len(args) != 3 {
				return fmt.Errorf("accepts 1 or 3 arg(s), received %d", len(args))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ix := spatial.NewH3()
			var (
				id  spatial.CellID
				err error
			)
			if len(args) == 3 {
				id, err = cellAt(ix, args)
			} else {
				id, err = spatial.ParseCellID(args[0])
			}
			if err != nil {
				return err
			}

			center, err := ix.CellToCenter(id)
			if err != nil {
				return err
			}
			boundary, err := spatial.ClosedBoundary(ix, id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"h3_index":   id,
				"resolution": ix.CellResolution(id),
				"center":     center,
				"boundary":   boundary,
			})
		},
	}
}

// cellAt resolves "lat lng resolution" arguments to a cell.
func cellAt(ix spatial.Index, args []string) (spatial.CellID, error) {
	lat, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid latitude: %w", err)
	}
	lng, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid longitude: %w", err)
	}
	res, err := strconv.Atoi(args[2])
	if err != nil {
		return 0, fmt.Errorf("invalid resolution: %w", err)
	}
	return ix.CoordinateToCell(geo.Coord{Lat: lat, Lng: lng}, res)
}
