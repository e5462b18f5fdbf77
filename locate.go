package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"listing-geocoder/config"
	"listing-geocoder/geocode"
	"listing-geocoder/models"
)

var (
	locateLat   float64
	locateLon   float64
	locateState string
)

var locateCmd = &cobra.Command{
	Use:   "locate",
	Short: "Reverse geocode a point and estimate its regional cost level",
	RunE: func(cmd *cobra.Command, args []string) error {
		regions, err := loadRegions()
		if err != nil {
			return err
		}

		nominatim := geocode.NewNominatimProvider(cfg.NominatimURL, cfg.GeocoderUserAgent, cfg.GeocodeTimeout)
		place, err := nominatim.Reverse(cmd.Context(), models.Coordinate{Lat: locateLat, Lon: locateLon})
		if err != nil {
			return eris.Wrapf(err, "reverse geocode %.4f,%.4f", locateLat, locateLon)
		}
		if err := place.Within(locateState); err != nil {
			return err
		}

		fmt.Printf("  City    : %s\n", place.City)
		fmt.Printf("  County  : %s\n", place.County)
		fmt.Printf("  State   : %s (%s)\n", place.State, place.StateCode)
		fmt.Printf("  Address : %s\n", place.DisplayName)
		if mult, ok := regions.CostModel().Multiplier(locateLat, locateLon); ok {
			fmt.Printf("  Cost    : %.2f (%s cost area)\n", mult, config.CostArea(mult))
		}
		return nil
	},
}

func init() {
	locateCmd.Flags().Float64Var(&locateLat, "lat", 0, "latitude")
	locateCmd.Flags().Float64Var(&locateLon, "lon", 0, "longitude")
	locateCmd.Flags().StringVar(&locateState, "state", "FL", "required state, by name or code; empty accepts anywhere")
	_ = locateCmd.MarkFlagRequired("lat")
	_ = locateCmd.MarkFlagRequired("lon")
	rootCmd.AddCommand(locateCmd)
}
