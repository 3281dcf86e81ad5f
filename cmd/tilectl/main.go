// tilectl inspects quadtree tile codes from the command line.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mohammed-shakir/quadtile-crawler/internal/quadtree"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:   "tilectl",
		Short: "Encode, decode and cover Web-Mercator quadtree tiles",
		Long: `tilectl works with the quadtree tile codes used by the crawler.

Negative coordinates must follow "--" so they are not read as flags:
  tilectl encode -- 37.7749 -122.4194 18
  tilectl cover "37.70,-122.52|37.82,-122.35" 12 --simplify`,
		SilenceUsage: true,
	}
	root.SetOut(out)
	root.AddCommand(encodeCmd(), decodeCmd(), coverCmd(), simplifyCmd(), parentCmd())
	return root
}

type tileOut struct {
	Code             string     `json:"code"`
	X                int        `json:"x"`
	Y                int        `json:"y"`
	Zoom             int        `json:"zoom"`
	Bounds           [4]float64 `json:"bounds"`
	Center           [2]float64 `json:"center"`
	EnclosingRadiusM float64    `json:"enclosing_radius_m"`
}

func describe(t quadtree.Tile) tileOut {
	lat, lon := t.Center()
	return tileOut{
		Code:             t.ToIndex(),
		X:                t.X,
		Y:                t.Y,
		Zoom:             t.Zoom,
		Bounds:           t.ToBounds(),
		Center:           [2]float64{lat, lon},
		EnclosingRadiusM: t.EnclosingRadius(),
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func encodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "encode LAT LON ZOOM",
		Short: "Print the tile containing a point",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			lat, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				return fmt.Errorf("lat: %w", err)
			}
			lon, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("lon: %w", err)
			}
			zoom, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("zoom: %w", err)
			}
			t, err := quadtree.TileFromLatLon(lat, lon, zoom)
			if err != nil {
				return err
			}
			return printJSON(cmd, describe(t))
		},
	}
}

func decodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode CODE...",
		Short: "Describe tiles by code",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := make([]tileOut, 0, len(args))
			for _, c := range args {
				t, err := quadtree.TileFromCode(c)
				if err != nil {
					return fmt.Errorf("%q: %w", c, err)
				}
				out = append(out, describe(t))
			}
			if len(out) == 1 {
				return printJSON(cmd, out[0])
			}
			return printJSON(cmd, out)
		},
	}
}

func coverCmd() *cobra.Command {
	var simplify bool
	cmd := &cobra.Command{
		Use:   "cover BOUNDS ZOOM",
		Short: `List tile codes covering "south,west|north,east" at a zoom`,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := quadtree.ParseBounds(args[0])
			if err != nil {
				return err
			}
			zoom, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("zoom: %w", err)
			}
			codes, err := b.TileIndexes(zoom)
			if err != nil {
				return err
			}
			if !simplify {
				return printJSON(cmd, codes)
			}
			ps, err := quadtree.SimplifyCodes(codes)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"prefixes": ps, "pattern": ps.Pattern()})
		},
	}
	cmd.Flags().BoolVar(&simplify, "simplify", false, "print the compressed prefix set instead of every code")
	return cmd
}

func simplifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "simplify CODE...",
		Short: "Compress tile codes into the smallest equivalent prefix set",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ps, err := quadtree.SimplifyCodes(args)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"prefixes": ps, "pattern": ps.Pattern()})
		},
	}
}

func parentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parent CODE...",
		Short: "Print the deepest tile enclosing every given tile",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tiles := make([]quadtree.Tile, 0, len(args))
			for _, c := range args {
				t, err := quadtree.TileFromCode(c)
				if err != nil {
					return fmt.Errorf("%q: %w", c, err)
				}
				tiles = append(tiles, t)
			}
			p, ok := quadtree.ParentTile(tiles)
			if !ok {
				return errors.New("tiles do not share a parent")
			}
			return printJSON(cmd, describe(p))
		},
	}
}
