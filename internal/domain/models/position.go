package models

import "time"

// Body identifies a celestial body or chart point known to the ephemeris provider.
type Body string

const (
	Sun           Body = "Sun"
	Moon          Body = "Moon"
	Mercury       Body = "Mercury"
	Venus         Body = "Venus"
	Mars          Body = "Mars"
	Jupiter       Body = "Jupiter"
	Saturn        Body = "Saturn"
	Uranus        Body = "Uranus"
	Neptune       Body = "Neptune"
	Pluto         Body = "Pluto"
	Asc           Body = "Asc"
	MC            Body = "MC"
	TrueNorthNode Body = "TrueNorthNode"
	Lilith        Body = "Lilith"
	Chiron        Body = "Chiron"
	PartOfFortune Body = "PartOfFortune"
	Vertex        Body = "Vertex"

	// Derived angles, never requested from a provider.
	Dsc Body = "Dsc"
	Ic  Body = "Ic"
)

// ClassicalBodies are the ten planets aspects are computed over by default.
var ClassicalBodies = []Body{Sun, Moon, Mercury, Venus, Mars, Jupiter, Saturn, Uranus, Neptune, Pluto}

// ProviderBodies lists every identifier a provider is expected to resolve.
var ProviderBodies = []Body{
	Sun, Moon, Mercury, Venus, Mars, Jupiter, Saturn, Uranus, Neptune, Pluto,
	Asc, MC, TrueNorthNode, Lilith, Chiron, PartOfFortune, Vertex,
}

// DefaultChartBodies mirrors the point set of a full natal chart.
var DefaultChartBodies = ProviderBodies

func (b Body) String() string { return string(b) }

// IsKnown reports whether b can be resolved by an ephemeris provider.
func (b Body) IsKnown() bool {
	for _, k := range ProviderBodies {
		if k == b {
			return true
		}
	}
	return false
}

// HouseSystem names a house division method.
type HouseSystem string

const (
	Placidus      HouseSystem = "placidus"
	Koch          HouseSystem = "koch"
	WholeSign     HouseSystem = "whole_sign"
	Equal         HouseSystem = "equal"
	Regiomontanus HouseSystem = "regiomontanus"
)

// EphemerisQuery is the absolute instant and geographic location of a lookup.
// Instant must carry its UTC offset; providers never reinterpret it.
type EphemerisQuery struct {
	Instant   time.Time `json:"instant"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
}

// Position is the typed provider record for one body. Every field is always set;
// providers that lack a value report the zero default.
type Position struct {
	Longitude  float64 `json:"longitude"`
	Latitude   float64 `json:"latitude"`
	Distance   float64 `json:"distance"`
	Speed      float64 `json:"speed"` // degrees per day
	Retrograde bool    `json:"retrograde"`
}
