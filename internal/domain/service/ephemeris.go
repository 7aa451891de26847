package service

import (
	"context"

	"AstroCal/internal/domain/models"
)

// EphemerisProvider supplies raw ecliptic positions. The core never derives
// orbital mechanics itself.
type EphemerisProvider interface {
	// Positions returns one record per requested body. A body the provider
	// cannot resolve is absent from the result or reported as an error.
	Positions(ctx context.Context, q models.EphemerisQuery, bodies ...models.Body) (map[models.Body]models.Position, error)
	// HouseCusps returns house number (1..12) -> cusp longitude.
	HouseCusps(ctx context.Context, q models.EphemerisQuery, system models.HouseSystem) (map[int]float64, error)
}
