package models

import (
	"fmt"
	"time"
)

// SignPosition is a longitude decomposed into zodiac sign and sign-relative d/m/s.
type SignPosition struct {
	SignIndex int    `json:"sign_index"`
	Sign      string `json:"sign"`
	Degrees   int    `json:"degrees"`
	Minutes   int    `json:"minutes"`
	Seconds   int    `json:"seconds"`
}

// Format renders the sign-relative position as 5°16'15".
func (s SignPosition) Format() string {
	return fmt.Sprintf("%d°%02d'%02d\"", s.Degrees, s.Minutes, s.Seconds)
}

// Point is a celestial body or chart angle within a chart.
type Point struct {
	Name       string       `json:"name"`
	Longitude  float64      `json:"longitude"`
	Latitude   float64      `json:"latitude"`
	Distance   float64      `json:"distance"`
	Speed      float64      `json:"speed"`
	Retrograde bool         `json:"retrograde"`
	Position   SignPosition `json:"position"`
}

type HouseCusp struct {
	Number    int          `json:"number"`
	Longitude float64      `json:"longitude"`
	Position  SignPosition `json:"position"`
}

// BirthData is the provenance of a chart. Instant is absolute and resolved
// once at the boundary; nothing downstream converts it again.
type BirthData struct {
	Instant   time.Time `json:"instant"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Place     string    `json:"place"`
	TimeZone  string    `json:"timezone"`
}

// Query returns the ephemeris lookup for the birth moment.
func (b BirthData) Query() EphemerisQuery {
	return EphemerisQuery{Instant: b.Instant, Latitude: b.Latitude, Longitude: b.Longitude}
}

type ChartKind string

const (
	NatalChart    ChartKind = "natal"
	DraconicChart ChartKind = "draconic"
)

// Chart is built once per request and is read-only afterwards.
type Chart struct {
	ID          string            `json:"id"`
	Kind        ChartKind         `json:"kind"`
	HouseSystem HouseSystem       `json:"house_system"`
	Points      map[string]Point  `json:"points"`
	Houses      map[int]HouseCusp `json:"houses"`
	Angles      map[string]Point  `json:"angles"`
	Aspects     []Aspect          `json:"aspects"`
	Provenance  BirthData         `json:"provenance"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Longitudes returns point name -> longitude, the shape the conjunction search consumes.
func (c *Chart) Longitudes(names ...string) map[string]float64 {
	out := make(map[string]float64, len(c.Points))
	if len(names) == 0 {
		for name, p := range c.Points {
			out[name] = p.Longitude
		}
		return out
	}
	for _, name := range names {
		if p, ok := c.Points[name]; ok {
			out[name] = p.Longitude
		}
	}
	return out
}
