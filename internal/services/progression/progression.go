// Package progression maps calendar dates to secondary-progressed positions:
// one day of ephemeris motion after birth stands for one year of life.
package progression

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"AstroCal/internal/domain/models"
	"AstroCal/internal/domain/service"
	"AstroCal/internal/services/zodiac"
)

const (
	// YearDays is the mean tropical year.
	YearDays = 365.2421897
	day      = 24 * time.Hour
)

// Source yields the progressed longitude of a body for a target date.
type Source interface {
	Longitude(ctx context.Context, birth models.BirthData, target time.Time, body models.Body) (models.ProgressedPosition, error)
	Precision() models.Precision
}

// YearsElapsed is the civil time between birth and target in years.
func YearsElapsed(birth, target time.Time) float64 {
	return target.Sub(birth).Hours() / 24 / YearDays
}

// ProgressedInstant returns birth + years_elapsed days. The result keeps the
// birth instant's location; no timezone is reinterpreted.
func ProgressedInstant(birth, target time.Time) time.Time {
	years := YearsElapsed(birth, target)
	return birth.Add(time.Duration(math.Round(years * float64(day))))
}

// Calculator queries the ephemeris provider at the progressed instant using
// the natal location.
type Calculator struct {
	provider service.EphemerisProvider
}

func NewCalculator(provider service.EphemerisProvider) *Calculator {
	return &Calculator{provider: provider}
}

func (c *Calculator) Precision() models.Precision { return models.PrecisionEphemeris }

func (c *Calculator) Longitude(ctx context.Context, birth models.BirthData, target time.Time, body models.Body) (models.ProgressedPosition, error) {
	at := ProgressedInstant(birth.Instant, target)
	q := models.EphemerisQuery{Instant: at, Latitude: birth.Latitude, Longitude: birth.Longitude}

	positions, err := c.provider.Positions(ctx, q, body)
	if err != nil {
		var perr *models.ProviderError
		if errors.As(err, &perr) {
			return models.ProgressedPosition{}, err
		}
		return models.ProgressedPosition{}, &models.ProviderError{Op: "progressed", Body: body, Instant: at, Err: err}
	}
	pos, ok := positions[body]
	if !ok {
		return models.ProgressedPosition{}, &models.ProviderError{Op: "progressed", Body: body, Instant: at, Err: fmt.Errorf("body not returned")}
	}

	lon := zodiac.Normalize(pos.Longitude)
	return models.ProgressedPosition{
		Body:              body,
		TargetDate:        target,
		ProgressedInstant: at,
		Longitude:         lon,
		Position:          zodiac.Decompose(lon),
		Precision:         models.PrecisionEphemeris,
	}, nil
}

var _ Source = (*Calculator)(nil)
