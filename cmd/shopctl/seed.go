package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Clark-Hu/coffeemap/internal/shops"
)

// seedFile is the YAML fixture format: a flat list of ratings, replayed in
// order through the normal rating path.
type seedFile struct {
	Ratings []seedRating `yaml:"ratings"`
}

type seedRating struct {
	ShopID string  `yaml:"shop_id"`
	Name   string  `yaml:"name"`
	Lat    float64 `yaml:"lat"`
	Lng    float64 `yaml:"lng"`
	Rating float64 `yaml:"rating"`
}

func parseSeed(r io.Reader) (seedFile, error) {
	var f seedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if err == io.EOF {
			return f, nil
		}
		return seedFile{}, fmt.Errorf("parse seed file: %w", err)
	}
	return f, nil
}

// rater is the slice of shops.Service that seeding needs.
type rater interface {
	Rate(ctx context.Context, shopID, name string, lat, lng, value float64) (shops.Outcome, error)
}

func applySeed(ctx context.Context, svc rater, f seedFile, out io.Writer) (created, updated int, err error) {
	for i, r := range f.Ratings {
		res, err := svc.Rate(ctx, r.ShopID, r.Name, r.Lat, r.Lng, r.Rating)
		if err != nil {
			return created, updated, fmt.Errorf("rating #%d (%s): %w", i+1, r.ShopID, err)
		}
		if res.Created {
			created++
		} else {
			updated++
		}
		fmt.Fprintf(out, "%-24s avg=%.1f count=%d\n", r.ShopID, res.AvgRating, res.NumRatings)
	}
	return created, updated, nil
}

var seedPath string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Replay ratings from a YAML fixture file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fh, err := os.Open(seedPath)
		if err != nil {
			return err
		}
		defer fh.Close()

		f, err := parseSeed(fh)
		if err != nil {
			return err
		}

		svc, _, closeStore, err := openService(cmd.Context())
		if err != nil {
			return err
		}
		defer closeStore()

		created, updated, err := applySeed(cmd.Context(), svc, f, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "seeded %d ratings: %d shops created, %d updates\n", created+updated, created, updated)
		return nil
	},
}

func init() {
	seedCmd.Flags().StringVarP(&seedPath, "file", "f", "", "YAML file with a ratings list")
	_ = seedCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(seedCmd)
}
