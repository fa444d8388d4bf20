package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var (
	nearbyLat    float64
	nearbyLng    float64
	nearbyRadius float64
	nearbyLimit  int
)

var nearbyCmd = &cobra.Command{
	Use:   "nearby",
	Short: "List shops within a radius (meters) of a point",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, cfg, closeStore, err := openService(cmd.Context())
		if err != nil {
			return err
		}
		defer closeStore()

		radius := nearbyRadius
		if !cmd.Flags().Changed("radius") {
			radius = cfg.DefaultRadiusMeters
		}
		limit := nearbyLimit
		if !cmd.Flags().Changed("limit") {
			limit = cfg.DefaultMaxResults
		}

		matches, err := svc.FindNearby(cmd.Context(), nearbyLat, nearbyLng, radius, limit)
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tDISTANCE\tAVG\tRATINGS")
		for _, m := range matches {
			fmt.Fprintf(tw, "%s\t%s\t%.0fm\t%.1f\t%d\n", m.Shop.ID, m.Shop.Name, m.DistanceMeters, m.Shop.Stats().AvgRating, m.Shop.NumRatings)
		}
		return tw.Flush()
	},
}

var (
	rateName  string
	rateLat   float64
	rateLng   float64
	rateValue float64
)

var rateCmd = &cobra.Command{
	Use:   "rate <shop-id>",
	Short: "Submit one rating for a shop",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, _, closeStore, err := openService(cmd.Context())
		if err != nil {
			return err
		}
		defer closeStore()

		out, err := svc.Rate(cmd.Context(), args[0], rateName, rateLat, rateLng, rateValue)
		if err != nil {
			return err
		}
		verb := "updated"
		if out.Created {
			verb = "created"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s: total=%g count=%d avg=%.1f\n", verb, args[0], out.TotalScore, out.NumRatings, out.AvgRating)
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get <shop-id>",
	Short: "Show one shop record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, _, closeStore, err := openService(cmd.Context())
		if err != nil {
			return err
		}
		defer closeStore()

		shop, err := svc.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		stats := shop.Stats()
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintf(tw, "id\t%s\n", shop.ID)
		fmt.Fprintf(tw, "name\t%s\n", shop.Name)
		fmt.Fprintf(tw, "location\t%.6f,%.6f\n", shop.Lat, shop.Lng)
		fmt.Fprintf(tw, "geohash\t%s\n", shop.Geohash)
		fmt.Fprintf(tw, "ratings\t%d\n", stats.NumRatings)
		fmt.Fprintf(tw, "total\t%g\n", stats.TotalScore)
		fmt.Fprintf(tw, "average\t%.1f\n", stats.AvgRating)
		fmt.Fprintf(tw, "updated\t%s\n", shop.UpdatedAt.Format("2006-01-02 15:04:05"))
		return tw.Flush()
	},
}

func init() {
	nearbyCmd.Flags().Float64Var(&nearbyLat, "lat", 0, "center latitude")
	nearbyCmd.Flags().Float64Var(&nearbyLng, "lng", 0, "center longitude")
	nearbyCmd.Flags().Float64Var(&nearbyRadius, "radius", 0, "radius in meters (default DEFAULT_RADIUS_METERS)")
	nearbyCmd.Flags().IntVar(&nearbyLimit, "limit", 0, "maximum results (default DEFAULT_MAX_RESULTS)")
	_ = nearbyCmd.MarkFlagRequired("lat")
	_ = nearbyCmd.MarkFlagRequired("lng")

	rateCmd.Flags().StringVar(&rateName, "name", "", "shop name, used when the shop is new")
	rateCmd.Flags().Float64Var(&rateLat, "lat", 0, "shop latitude")
	rateCmd.Flags().Float64Var(&rateLng, "lng", 0, "shop longitude")
	rateCmd.Flags().Float64Var(&rateValue, "rating", 0, "rating value")
	_ = rateCmd.MarkFlagRequired("name")
	_ = rateCmd.MarkFlagRequired("lat")
	_ = rateCmd.MarkFlagRequired("lng")
	_ = rateCmd.MarkFlagRequired("rating")

	rootCmd.AddCommand(nearbyCmd, rateCmd, getCmd)
}
