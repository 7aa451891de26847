package chart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"AstroCal/internal/domain/models"
	"AstroCal/internal/domain/service"
	"AstroCal/internal/services/aspects"
	"AstroCal/internal/services/zodiac"
	applogger "AstroCal/pkg/logger"

	"github.com/google/uuid"
)

// chartNamespace seeds deterministic chart ids.
var chartNamespace = uuid.MustParse("6f1c1f9e-0b7a-4c55-9a51-3a3d8f1c2b10")

// Config is supplied per request; nothing is shared between assemblies.
type Config struct {
	Points      []models.Body
	HouseSystem models.HouseSystem
	Aspects     aspects.Config
	Draconic    bool
}

// Assembler turns provider output into a Chart.
type Assembler struct {
	provider service.EphemerisProvider
	l        *applogger.Logger
	now      func() time.Time
}

func NewAssembler(provider service.EphemerisProvider) *Assembler {
	return &Assembler{provider: provider, now: time.Now}
}

// SetLogger injects a structured logger.
func (a *Assembler) SetLogger(l *applogger.Logger) { a.l = l }

// Assemble builds the chart for birth. Configuration and input are validated
// before the provider is called; any unresolved body fails the whole chart.
func (a *Assembler) Assemble(ctx context.Context, birth models.BirthData, cfg Config) (*models.Chart, error) {
	bodies, err := a.validate(birth, cfg)
	if err != nil {
		return nil, err
	}
	detector, err := aspects.NewDetector(cfg.Aspects)
	if err != nil {
		return nil, err
	}
	system := cfg.HouseSystem
	if system == "" {
		system = models.Placidus
	}

	q := birth.Query()
	positions, err := a.provider.Positions(ctx, q, bodies...)
	if err != nil {
		return nil, wrapProvider("positions", "", q.Instant, err)
	}
	for _, b := range bodies {
		if _, ok := positions[b]; !ok {
			return nil, &models.ProviderError{Op: "positions", Body: b, Instant: q.Instant, Err: fmt.Errorf("body not returned")}
		}
	}

	cusps, err := a.provider.HouseCusps(ctx, q, system)
	if err != nil {
		return nil, wrapProvider("houses", "", q.Instant, err)
	}
	for n := 1; n <= 12; n++ {
		if _, ok := cusps[n]; !ok {
			return nil, &models.ProviderError{Op: "houses", Instant: q.Instant, Err: fmt.Errorf("house %d missing for %s", n, system)}
		}
	}

	var offset float64
	kind := models.NatalChart
	if cfg.Draconic {
		offset = positions[models.TrueNorthNode].Longitude
		kind = models.DraconicChart
	}

	c := &models.Chart{
		ID:          ChartID(birth, kind, system),
		Kind:        kind,
		HouseSystem: system,
		Points:      make(map[string]models.Point, len(bodies)+2),
		Houses:      make(map[int]models.HouseCusp, 12),
		Angles:      make(map[string]models.Point, 4),
		Provenance:  birth,
		CreatedAt:   a.now().UTC(),
	}

	for _, b := range bodies {
		c.Points[string(b)] = newPoint(string(b), positions[b], offset)
	}
	for n := 1; n <= 12; n++ {
		lon := zodiac.Shift(cusps[n], offset)
		c.Houses[n] = models.HouseCusp{Number: n, Longitude: lon, Position: zodiac.Decompose(lon)}
	}

	asc, mc := c.Points[string(models.Asc)], c.Points[string(models.MC)]
	dsc := mirror(models.Dsc, asc)
	ic := mirror(models.Ic, mc)
	c.Points[dsc.Name] = dsc
	c.Points[ic.Name] = ic
	for _, p := range []models.Point{asc, mc, dsc, ic} {
		c.Angles[p.Name] = p
	}

	c.Aspects = detector.Detect(c.Points)

	if a.l != nil {
		a.l.Debug("chart assembled",
			applogger.String("chart_id", c.ID),
			applogger.String("kind", string(kind)),
			applogger.Int("points", len(c.Points)),
			applogger.Int("aspects", len(c.Aspects)),
		)
	}
	return c, nil
}

func (a *Assembler) validate(birth models.BirthData, cfg Config) ([]models.Body, error) {
	if birth.Instant.IsZero() {
		return nil, models.NewValidationError("instant", "is required")
	}
	if !zodiac.IsFinite(birth.Latitude) || birth.Latitude < -90 || birth.Latitude > 90 {
		return nil, models.NewValidationError("latitude", "must be finite and within [-90,90], got %v", birth.Latitude)
	}
	if !zodiac.IsFinite(birth.Longitude) || birth.Longitude < -180 || birth.Longitude > 180 {
		return nil, models.NewValidationError("longitude", "must be finite and within [-180,180], got %v", birth.Longitude)
	}

	requested := cfg.Points
	if len(requested) == 0 {
		requested = models.DefaultChartBodies
	}
	// Asc and MC are always needed for the angles.
	bodies := make([]models.Body, 0, len(requested)+2)
	seen := make(map[models.Body]struct{}, len(requested)+2)
	for _, b := range requested {
		if b == models.Dsc || b == models.Ic {
			continue // derived
		}
		if !b.IsKnown() {
			return nil, models.NewConfigurationError("points", "no provider mapping for %q", b)
		}
		if _, dup := seen[b]; dup {
			return nil, models.NewConfigurationError("points", "duplicate point %q", b)
		}
		seen[b] = struct{}{}
		bodies = append(bodies, b)
	}
	for _, b := range []models.Body{models.Asc, models.MC} {
		if _, ok := seen[b]; !ok {
			seen[b] = struct{}{}
			bodies = append(bodies, b)
		}
	}
	if cfg.Draconic {
		if _, ok := seen[models.TrueNorthNode]; !ok {
			return nil, models.NewConfigurationError("draconic", "requires %s among points", models.TrueNorthNode)
		}
	}
	if cfg.HouseSystem != "" && !KnownHouseSystem(cfg.HouseSystem) {
		return nil, models.NewConfigurationError("house_system", "unknown house system %q", cfg.HouseSystem)
	}
	return bodies, nil
}

// KnownHouseSystem reports whether s is a supported house system.
func KnownHouseSystem(s models.HouseSystem) bool {
	switch s {
	case models.Placidus, models.Koch, models.WholeSign, models.Equal, models.Regiomontanus:
		return true
	}
	return false
}

// ChartID derives a stable id from provenance so repeated requests map to one chart.
func ChartID(birth models.BirthData, kind models.ChartKind, system models.HouseSystem) string {
	key := fmt.Sprintf("%s|%.6f|%.6f|%s|%s", birth.Instant.UTC().Format(time.RFC3339Nano), birth.Latitude, birth.Longitude, kind, system)
	return uuid.NewSHA1(chartNamespace, []byte(key)).String()
}

func newPoint(name string, pos models.Position, offset float64) models.Point {
	lon := zodiac.Shift(pos.Longitude, offset)
	return models.Point{
		Name:       name,
		Longitude:  lon,
		Latitude:   pos.Latitude,
		Distance:   pos.Distance,
		Speed:      pos.Speed,
		Retrograde: pos.Retrograde || pos.Speed < 0,
		Position:   zodiac.Decompose(lon),
	}
}

func mirror(name models.Body, p models.Point) models.Point {
	lon := zodiac.Normalize(p.Longitude + 180)
	return models.Point{Name: string(name), Longitude: lon, Position: zodiac.Decompose(lon)}
}

func wrapProvider(op string, body models.Body, at time.Time, err error) error {
	var perr *models.ProviderError
	if errors.As(err, &perr) {
		return err
	}
	return &models.ProviderError{Op: op, Body: body, Instant: at, Err: err}
}
