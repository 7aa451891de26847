// Package zodiac holds the angle arithmetic shared by charts, aspects and searches.
package zodiac

import (
	"fmt"
	"math"

	"AstroCal/internal/domain/models"
)

// SignNames is the fixed sign order, index = floor(longitude/30).
var SignNames = [12]string{
	"Aries", "Taurus", "Gemini", "Cancer", "Leo", "Virgo",
	"Libra", "Scorpio", "Sagittarius", "Capricorn", "Aquarius", "Pisces",
}

// Normalize reduces a longitude into [0,360).
func Normalize(lon float64) float64 {
	r := math.Mod(lon, 360)
	if r < 0 {
		r += 360
	}
	// math.Mod(-1e-17, 360) + 360 rounds to 360
	if r >= 360 {
		r = 0
	}
	return r
}

// Separation is the minimal arc between two longitudes, in [0,180].
func Separation(a, b float64) float64 {
	d := math.Abs(Normalize(a) - Normalize(b))
	if d > 180 {
		d = 360 - d
	}
	return d
}

// Shift rotates a longitude by -by degrees, as used for draconic charts.
func Shift(lon, by float64) float64 {
	return Normalize(lon - by)
}

// Decompose splits a longitude into sign index and sign-relative d/m/s.
func Decompose(lon float64) models.SignPosition {
	lon = Normalize(lon)
	idx := int(math.Floor(lon / 30))
	if idx > 11 {
		idx = 11
	}
	r := math.Mod(lon, 30)
	deg := math.Floor(r)
	minF := (r - deg) * 60
	min := math.Floor(minF)
	sec := math.Floor((minF - min) * 60)
	return models.SignPosition{
		SignIndex: idx,
		Sign:      SignNames[idx],
		Degrees:   int(deg),
		Minutes:   int(min),
		Seconds:   int(sec),
	}
}

// SignName returns the sign a longitude falls in.
func SignName(lon float64) string {
	return Decompose(lon).Sign
}

// Reconstruct is the inverse of Decompose, exact to one arc second.
func Reconstruct(p models.SignPosition) float64 {
	return float64(p.SignIndex*30+p.Degrees) + float64(p.Minutes)/60 + float64(p.Seconds)/3600
}

// FormatDMS renders a full longitude as "Capricorn 5°16'00"".
func FormatDMS(lon float64) string {
	p := Decompose(lon)
	return fmt.Sprintf("%s %s", p.Sign, p.Format())
}

// IsFinite reports whether v is neither NaN nor infinite.
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
