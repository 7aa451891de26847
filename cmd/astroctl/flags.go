package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"AstroCal/internal/domain/models"

	"github.com/spf13/cobra"
)

type birthFlags struct {
	datetime string
	timezone string
	lat      float64
	lon      float64
	place    string
}

func (b *birthFlags) bind(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&b.datetime, "datetime", "", `birth time, RFC3339 or local "2006-01-02 15:04" read in --timezone`)
	f.StringVar(&b.timezone, "timezone", "", "IANA zone for a local birth time")
	f.Float64Var(&b.lat, "lat", 0, "birth latitude in degrees, north positive")
	f.Float64Var(&b.lon, "lon", 0, "birth longitude in degrees, east positive")
	f.StringVar(&b.place, "place", "", "birth place label")
}

// request returns nil when no birth time was given. Unset coordinates stay
// nil so validation reports them.
func (b *birthFlags) request(cmd *cobra.Command) *models.BirthRequest {
	if b.datetime == "" {
		return nil
	}
	r := &models.BirthRequest{DateTime: b.datetime, TimeZone: b.timezone, Place: b.place}
	if cmd.Flags().Changed("lat") {
		lat := b.lat
		r.Latitude = &lat
	}
	if cmd.Flags().Changed("lon") {
		lon := b.lon
		r.Longitude = &lon
	}
	return r
}

// parseNatal reads name=longitude pairs.
func parseNatal(pairs map[string]string) (map[string]float64, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]float64, len(pairs))
	for name, v := range pairs {
		lon, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, models.NewValidationError("natal", "%s: %q is not a longitude", name, v)
		}
		out[name] = lon
	}
	return out, nil
}

func readJSON(path string, v interface{}) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
