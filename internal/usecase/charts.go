package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"AstroCal/internal/domain/models"
	domrepo "AstroCal/internal/domain/repository"
	"AstroCal/internal/services/aspects"
	"AstroCal/internal/services/chart"
	applogger "AstroCal/pkg/logger"
)

// ChartDefaults apply to every chart request that leaves a field empty.
type ChartDefaults struct {
	Points       []models.Body
	AspectBodies []string
	HouseSystem  models.HouseSystem
	Aspects      models.AspectTable
}

type ChartInput struct {
	Birth        models.BirthData
	Points       []models.Body
	AspectBodies []string
	AllPoints    bool
	HouseSystem  models.HouseSystem
	Aspects      models.AspectTable
	Draconic     bool
	Save         bool
}

// ChartUseCase assembles charts and keeps them in the chart store.
type ChartUseCase struct {
	assembler *chart.Assembler
	store     domrepo.ChartStore
	metrics   domrepo.Metrics
	defaults  ChartDefaults
	l         *applogger.Logger
}

func NewChartUseCase(assembler *chart.Assembler, store domrepo.ChartStore, metrics domrepo.Metrics, defaults ChartDefaults) *ChartUseCase {
	return &ChartUseCase{
		assembler: assembler,
		store:     store,
		metrics:   metrics,
		defaults:  defaults,
		l:         applogger.Nop(),
	}
}

// SetLogger injects a structured logger.
func (u *ChartUseCase) SetLogger(l *applogger.Logger) {
	if l != nil {
		u.l = l
	}
}

// Config merges in with the defaults into an assembler config.
func (u *ChartUseCase) Config(in ChartInput) chart.Config {
	cfg := chart.Config{
		Points:      in.Points,
		HouseSystem: in.HouseSystem,
		Draconic:    in.Draconic,
		Aspects: aspects.Config{
			Table:     in.Aspects,
			Bodies:    in.AspectBodies,
			AllPoints: in.AllPoints,
		},
	}
	if len(cfg.Points) == 0 {
		cfg.Points = u.defaults.Points
	}
	if cfg.HouseSystem == "" {
		cfg.HouseSystem = u.defaults.HouseSystem
	}
	if cfg.Aspects.Table == nil {
		cfg.Aspects.Table = u.defaults.Aspects
	}
	if len(cfg.Aspects.Bodies) == 0 {
		cfg.Aspects.Bodies = u.defaults.AspectBodies
	}
	return cfg
}

// Create assembles a chart and, when asked, stores it.
func (u *ChartUseCase) Create(ctx context.Context, in ChartInput) (*models.Chart, error) {
	start := time.Now()
	c, err := u.assembler.Assemble(ctx, in.Birth, u.Config(in))
	u.metrics.RecordLatency("chart_assemble", time.Since(start).Seconds())
	if err != nil {
		u.metrics.RecordError(errorKind(err))
		return nil, err
	}
	u.metrics.RecordChart(string(c.Kind))

	if in.Save {
		if err := u.store.SaveChart(ctx, c); err != nil {
			u.metrics.RecordError("chart_store")
			return nil, fmt.Errorf("save chart %s: %w", c.ID, err)
		}
	}
	u.l.Info("chart created",
		applogger.String("chart_id", c.ID),
		applogger.String("kind", string(c.Kind)),
		applogger.Int("aspects", len(c.Aspects)),
		applogger.Bool("saved", in.Save),
	)
	return c, nil
}

// Get loads a stored chart.
func (u *ChartUseCase) Get(ctx context.Context, id string) (*models.Chart, error) {
	c, err := u.store.GetChart(ctx, id)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			u.metrics.RecordError("chart_store")
		}
		return nil, err
	}
	return c, nil
}

// errorKind labels an error for the errors_total metric.
func errorKind(err error) string {
	switch {
	case errors.Is(err, models.ErrValidation):
		return "validation"
	case errors.Is(err, models.ErrConfiguration):
		return "configuration"
	case errors.Is(err, models.ErrProviderUnavailable):
		return "provider_unavailable"
	case errors.Is(err, models.ErrProvider):
		return "provider"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "internal"
	}
}
