package ephemeris

import (
	"context"
	"time"

	"AstroCal/internal/domain/models"
	"AstroCal/internal/domain/service"
	xhttp "AstroCal/pkg/http"
)

type positionsRequest struct {
	Instant   string        `json:"instant"`
	Latitude  float64       `json:"latitude"`
	Longitude float64       `json:"longitude"`
	Bodies    []models.Body `json:"bodies"`
}

type positionsResponse struct {
	Positions map[models.Body]models.Position `json:"positions"`
}

type housesRequest struct {
	Instant   string             `json:"instant"`
	Latitude  float64            `json:"latitude"`
	Longitude float64            `json:"longitude"`
	System    models.HouseSystem `json:"system"`
}

type housesResponse struct {
	Cusps map[int]float64 `json:"cusps"`
}

// HTTPProvider calls an external ephemeris service:
//
//	POST /positions {instant, latitude, longitude, bodies} -> {positions: {Sun: {...}}}
//	POST /houses    {instant, latitude, longitude, system} -> {cusps: {"1": 123.4}}
//
// Instants are sent as RFC3339 with their UTC offset.
type HTTPProvider struct {
	base *HTTPServiceBase
}

func NewHTTPProvider(baseURL string, timeout time.Duration, retries int, opts ...xhttp.ClientOption) *HTTPProvider {
	return &HTTPProvider{base: NewHTTPServiceBase(baseURL, timeout, retries, opts...)}
}

func (p *HTTPProvider) Positions(ctx context.Context, q models.EphemerisQuery, bodies ...models.Body) (map[models.Body]models.Position, error) {
	var res positionsResponse
	err := p.base.PostJSONWithRetry(ctx, "/positions", positionsRequest{
		Instant:   q.Instant.Format(time.RFC3339Nano),
		Latitude:  q.Latitude,
		Longitude: q.Longitude,
		Bodies:    bodies,
	}, &res)
	if err != nil {
		var body models.Body
		if len(bodies) == 1 {
			body = bodies[0]
		}
		return nil, &models.ProviderError{Op: "positions", Body: body, Instant: q.Instant, Unavailable: transient(err), Err: err}
	}
	if res.Positions == nil {
		res.Positions = map[models.Body]models.Position{}
	}
	return res.Positions, nil
}

func (p *HTTPProvider) HouseCusps(ctx context.Context, q models.EphemerisQuery, system models.HouseSystem) (map[int]float64, error) {
	var res housesResponse
	err := p.base.PostJSONWithRetry(ctx, "/houses", housesRequest{
		Instant:   q.Instant.Format(time.RFC3339Nano),
		Latitude:  q.Latitude,
		Longitude: q.Longitude,
		System:    system,
	}, &res)
	if err != nil {
		return nil, &models.ProviderError{Op: "houses", Instant: q.Instant, Unavailable: transient(err), Err: err}
	}
	return res.Cusps, nil
}

var _ service.EphemerisProvider = (*HTTPProvider)(nil)
