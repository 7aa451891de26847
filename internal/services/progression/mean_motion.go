package progression

import (
	"context"
	"time"

	"AstroCal/internal/domain/models"
	"AstroCal/internal/services/zodiac"
)

// MeanDailyMotion in degrees per day. A progressed year advances a body by
// one day of motion.
var MeanDailyMotion = map[models.Body]float64{
	models.Sun:     0.985647,
	models.Moon:    13.176358,
	models.Mercury: 1.383,
	models.Venus:   1.2,
	models.Mars:    0.524039,
	models.Jupiter: 0.083056,
	models.Saturn:  0.033371,
	models.Uranus:  0.011698,
	models.Neptune: 0.005965,
	models.Pluto:   0.003964,
}

// MeanMotion is the lower-precision fallback used only when the provider is
// unavailable: natal longitude + mean daily motion x elapsed years.
type MeanMotion struct {
	natal map[models.Body]float64
}

// NewMeanMotion anchors the model on natal longitudes.
func NewMeanMotion(natal map[models.Body]float64) *MeanMotion {
	cp := make(map[models.Body]float64, len(natal))
	for b, lon := range natal {
		cp[b] = lon
	}
	return &MeanMotion{natal: cp}
}

func (m *MeanMotion) Precision() models.Precision { return models.PrecisionMeanMotion }

func (m *MeanMotion) Longitude(_ context.Context, birth models.BirthData, target time.Time, body models.Body) (models.ProgressedPosition, error) {
	rate, ok := MeanDailyMotion[body]
	if !ok {
		return models.ProgressedPosition{}, models.NewConfigurationError("body", "no mean motion for %q", body)
	}
	natal, ok := m.natal[body]
	if !ok {
		return models.ProgressedPosition{}, models.NewConfigurationError("natal", "natal longitude of %q required for mean motion", body)
	}

	years := YearsElapsed(birth.Instant, target)
	lon := zodiac.Normalize(natal + rate*years)
	return models.ProgressedPosition{
		Body:              body,
		TargetDate:        target,
		ProgressedInstant: ProgressedInstant(birth.Instant, target),
		Longitude:         lon,
		Position:          zodiac.Decompose(lon),
		Precision:         models.PrecisionMeanMotion,
	}, nil
}

var _ Source = (*MeanMotion)(nil)
