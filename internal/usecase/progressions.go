package usecase

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"AstroCal/internal/domain/models"
	domrepo "AstroCal/internal/domain/repository"
	"AstroCal/internal/services/chart"
	"AstroCal/internal/services/conjunction"
	"AstroCal/internal/services/progression"
	applogger "AstroCal/pkg/logger"

	"golang.org/x/sync/errgroup"
)

// SearchDefaults fill in whatever a search request leaves unset.
type SearchDefaults struct {
	Body          models.Body
	Step          time.Duration
	MaxOrb        float64
	MaxWindow     time.Duration
	Timeout       time.Duration
	AllowFallback bool
	LogEvery      int
	// Parallelism bounds how many progressed bodies are searched at once.
	Parallelism int
}

type SearchInput struct {
	// ChartID selects a stored natal chart. Without it Birth is used and the
	// natal chart is assembled on the fly unless Natal is given.
	ChartID     string
	Birth       models.BirthData
	Natal       map[string]float64
	Targets     []string
	Bodies      []models.Body
	Start       time.Time
	End         time.Time
	MaxOrb      float64
	Step        time.Duration
	IncludeSelf bool
	Fallback    *bool
	Save        bool
	Progress    func(body models.Body, p conjunction.Progress)
}

type SearchResult struct {
	ChartID string                    `json:"chart_id"`
	Start   time.Time                 `json:"start"`
	End     time.Time                 `json:"end"`
	Events  []models.ConjunctionEvent `json:"events"`
}

// ProgressionUseCase runs progressed-position lookups and conjunction searches.
type ProgressionUseCase struct {
	charts    *ChartUseCase
	primary   progression.Source
	searcher  *conjunction.Searcher
	store     domrepo.ChartStore
	publisher domrepo.EventPublisher
	metrics   domrepo.Metrics
	defaults  SearchDefaults
	l         *applogger.Logger
}

func NewProgressionUseCase(
	charts *ChartUseCase,
	primary progression.Source,
	store domrepo.ChartStore,
	publisher domrepo.EventPublisher,
	metrics domrepo.Metrics,
	defaults SearchDefaults,
) *ProgressionUseCase {
	if defaults.Body == "" {
		defaults.Body = models.Moon
	}
	if defaults.Step <= 0 {
		defaults.Step = conjunction.DefaultStep
	}
	if defaults.MaxOrb <= 0 {
		defaults.MaxOrb = 1
	}
	if defaults.Parallelism <= 0 {
		defaults.Parallelism = 4
	}
	return &ProgressionUseCase{
		charts:    charts,
		primary:   primary,
		searcher:  conjunction.NewSearcher(primary, conjunction.WithLogEvery(defaults.LogEvery)),
		store:     store,
		publisher: publisher,
		metrics:   metrics,
		defaults:  defaults,
		l:         applogger.Nop(),
	}
}

// SetLogger injects a structured logger.
func (u *ProgressionUseCase) SetLogger(l *applogger.Logger) {
	if l != nil {
		u.l = l
		u.searcher.SetLogger(l)
	}
}

// Defaults returns the effective search defaults.
func (u *ProgressionUseCase) Defaults() SearchDefaults { return u.defaults }

// Position returns the progressed longitude of body for date.
func (u *ProgressionUseCase) Position(ctx context.Context, birth models.BirthData, date time.Time, body models.Body) (models.ProgressedPosition, error) {
	if body == "" {
		body = u.defaults.Body
	}
	if err := checkProgressedBody(body); err != nil {
		return models.ProgressedPosition{}, err
	}
	if birth.Instant.IsZero() {
		return models.ProgressedPosition{}, models.NewValidationError("birth", "is required")
	}
	start := time.Now()
	pos, err := u.primary.Longitude(ctx, birth, date, body)
	u.metrics.RecordLatency("progressed_position", time.Since(start).Seconds())
	if err != nil {
		u.metrics.RecordError(errorKind(err))
		return models.ProgressedPosition{}, err
	}
	return pos, nil
}

// Search scans the window for conjunctions of each progressed body with the
// natal targets. Bodies are searched concurrently; each run keeps its own
// precision. Events come back ordered by date, target, then body.
func (u *ProgressionUseCase) Search(ctx context.Context, in SearchInput) (*SearchResult, error) {
	bodies, err := u.bodies(in.Bodies)
	if err != nil {
		return nil, err
	}
	if in.End.Sub(in.Start) > u.defaults.MaxWindow && u.defaults.MaxWindow > 0 {
		return nil, models.NewValidationError("end", "window exceeds %s", u.defaults.MaxWindow)
	}

	birth, chartID, natal, err := u.resolveNatal(ctx, in)
	if err != nil {
		return nil, err
	}
	targets, err := selectTargets(natal, in.Targets)
	if err != nil {
		return nil, err
	}

	maxOrb := in.MaxOrb
	if maxOrb <= 0 {
		maxOrb = u.defaults.MaxOrb
	}
	step := in.Step
	if step <= 0 {
		step = u.defaults.Step
	}
	allowFallback := u.defaults.AllowFallback
	if in.Fallback != nil {
		allowFallback = *in.Fallback
	}
	var fallback progression.Source
	if allowFallback {
		anchor := make(map[models.Body]float64, len(natal))
		for name, lon := range natal {
			anchor[models.Body(name)] = lon
		}
		fallback = progression.NewMeanMotion(anchor)
	}

	if u.defaults.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.defaults.Timeout)
		defer cancel()
	}

	started := time.Now()
	results := make([][]models.ConjunctionEvent, len(bodies))
	precisions := make([]models.Precision, len(bodies))
	var progressMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.defaults.Parallelism)
	for i, body := range bodies {
		g.Go(func() error {
			req := conjunction.Request{
				Birth:    birth,
				Natal:    withoutSelf(targets, body, in.IncludeSelf || len(in.Targets) > 0),
				Start:    in.Start,
				End:      in.End,
				MaxOrb:   maxOrb,
				Step:     step,
				Body:     body,
				Fallback: fallback,
				Progress: func(p conjunction.Progress) {
					precisions[i] = p.Precision
					if in.Progress != nil {
						progressMu.Lock()
						in.Progress(body, p)
						progressMu.Unlock()
					}
				},
			}
			events, err := u.searcher.Search(gctx, req)
			if err != nil {
				return fmt.Errorf("progressed %s: %w", body, err)
			}
			results[i] = events
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		u.metrics.RecordError(errorKind(err))
		return nil, err
	}
	u.metrics.RecordLatency("conjunction_search", time.Since(started).Seconds())

	var events []models.ConjunctionEvent
	for i, body := range bodies {
		u.metrics.RecordSearch(string(body), len(results[i]), string(precisions[i]))
		for _, ev := range results[i] {
			ev.ChartID = chartID
			events = append(events, ev)
		}
	}
	sort.SliceStable(events, func(a, b int) bool {
		ea, eb := events[a], events[b]
		if !ea.Date.Equal(eb.Date) {
			return ea.Date.Before(eb.Date)
		}
		if ea.Target != eb.Target {
			return ea.Target < eb.Target
		}
		return ea.ProgressedBody < eb.ProgressedBody
	})

	if in.Save {
		if err := u.persist(ctx, chartID, events); err != nil {
			return nil, err
		}
	}

	u.l.Info("conjunction search done",
		applogger.String("chart_id", chartID),
		applogger.Int("bodies", len(bodies)),
		applogger.Int("targets", len(targets)),
		applogger.Int("events", len(events)),
		applogger.Duration("took", time.Since(started)),
	)
	return &SearchResult{ChartID: chartID, Start: in.Start, End: in.End, Events: events}, nil
}

// Events lists stored events of a chart.
func (u *ProgressionUseCase) Events(ctx context.Context, chartID string, from, to time.Time, limit int) ([]models.ConjunctionEvent, error) {
	events, err := u.store.ListEvents(ctx, chartID, from, to, limit)
	if err != nil {
		u.metrics.RecordError("event_store")
		return nil, fmt.Errorf("list events of %s: %w", chartID, err)
	}
	return events, nil
}

func (u *ProgressionUseCase) persist(ctx context.Context, chartID string, events []models.ConjunctionEvent) error {
	if err := u.store.SaveEvents(ctx, chartID, events); err != nil {
		u.metrics.RecordError("event_store")
		return fmt.Errorf("save events of %s: %w", chartID, err)
	}
	// Events are already stored; a failed fan-out is logged, not returned.
	if err := u.publisher.PublishEvents(ctx, chartID, events); err != nil {
		u.metrics.RecordError("event_publish")
		u.l.Error("publish conjunction events failed",
			applogger.String("chart_id", chartID),
			applogger.Int("events", len(events)),
			applogger.Error(err),
		)
	}
	return nil
}

func (u *ProgressionUseCase) bodies(in []models.Body) ([]models.Body, error) {
	if len(in) == 0 {
		return []models.Body{u.defaults.Body}, nil
	}
	out := make([]models.Body, 0, len(in))
	seen := make(map[models.Body]struct{}, len(in))
	for _, b := range in {
		if err := checkProgressedBody(b); err != nil {
			return nil, err
		}
		if _, dup := seen[b]; dup {
			continue
		}
		seen[b] = struct{}{}
		out = append(out, b)
	}
	return out, nil
}

func (u *ProgressionUseCase) resolveNatal(ctx context.Context, in SearchInput) (models.BirthData, string, map[string]float64, error) {
	if in.ChartID != "" {
		c, err := u.charts.Get(ctx, in.ChartID)
		if err != nil {
			return models.BirthData{}, "", nil, fmt.Errorf("chart %s: %w", in.ChartID, err)
		}
		if c.Kind != models.NatalChart {
			return models.BirthData{}, "", nil, models.NewConfigurationError("chart_id", "chart %s is %s, progressions need a natal chart", c.ID, c.Kind)
		}
		natal := c.Longitudes()
		if len(in.Natal) > 0 {
			natal = in.Natal
		}
		return c.Provenance, c.ID, natal, nil
	}

	if in.Birth.Instant.IsZero() {
		return models.BirthData{}, "", nil, models.NewValidationError("birth", "chart_id or birth is required")
	}
	if len(in.Natal) > 0 {
		id := chart.ChartID(in.Birth, models.NatalChart, u.charts.Config(ChartInput{}).HouseSystem)
		return in.Birth, id, in.Natal, nil
	}
	c, err := u.charts.Create(ctx, ChartInput{Birth: in.Birth, Save: in.Save})
	if err != nil {
		return models.BirthData{}, "", nil, fmt.Errorf("natal chart: %w", err)
	}
	return in.Birth, c.ID, c.Longitudes(), nil
}

func checkProgressedBody(b models.Body) error {
	if _, ok := progression.MeanDailyMotion[b]; !ok {
		return models.NewValidationError("body", "%q cannot be progressed", b)
	}
	return nil
}

func selectTargets(natal map[string]float64, names []string) (map[string]float64, error) {
	if len(names) == 0 {
		return natal, nil
	}
	out := make(map[string]float64, len(names))
	for _, n := range names {
		lon, ok := natal[n]
		if !ok {
			return nil, models.NewValidationError("targets", "unknown natal point %q", n)
		}
		out[n] = lon
	}
	return out, nil
}

// withoutSelf drops the natal position of the progressed body itself.
// Callers keep it by passing include, as explicit targets do.
func withoutSelf(targets map[string]float64, body models.Body, include bool) map[string]float64 {
	if _, ok := targets[string(body)]; !ok || include {
		return targets
	}
	out := make(map[string]float64, len(targets)-1)
	for k, v := range targets {
		if k != string(body) {
			out[k] = v
		}
	}
	return out
}
