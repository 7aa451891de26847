package conjunction

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"AstroCal/internal/domain/models"
	"AstroCal/internal/services/progression"
	"AstroCal/internal/services/zodiac"
	applogger "AstroCal/pkg/logger"

	"github.com/google/uuid"
)

// DefaultStep is one calendar day.
const DefaultStep = 24 * time.Hour

var eventNamespace = uuid.MustParse("2b0e4f7c-8f0d-4d6b-a3f1-5c9e7d1a4b62")

// Progress is reported once per scanned step.
type Progress struct {
	Date      time.Time        `json:"date"`
	Step      int              `json:"step"`
	Total     int              `json:"total"`
	Longitude float64          `json:"longitude"`
	Precision models.Precision `json:"precision"`
}

// Request describes one search run. Step must be positive; callers apply
// DefaultStep themselves.
type Request struct {
	Birth  models.BirthData
	Natal  map[string]float64 // target name -> natal longitude
	Start  time.Time
	End    time.Time // inclusive
	MaxOrb float64
	Step   time.Duration
	Body   models.Body // defaults to the Moon
	// Fallback is switched to for the whole run when the first lookup finds
	// the primary source unavailable.
	Fallback progression.Source
	Progress func(Progress)
}

type Option func(*Searcher)

// WithLogEvery sets how many steps pass between progress log lines.
func WithLogEvery(n int) Option {
	return func(s *Searcher) {
		if n > 0 {
			s.logEvery = n
		}
	}
}

// Searcher scans a date window for the closest approach of a progressed body
// to each natal target.
type Searcher struct {
	primary  progression.Source
	l        *applogger.Logger
	logEvery int
}

func NewSearcher(primary progression.Source, opts ...Option) *Searcher {
	s := &Searcher{primary: primary, logEvery: 30}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetLogger injects a structured logger.
func (s *Searcher) SetLogger(l *applogger.Logger) { s.l = l }

type best struct {
	date time.Time
	orb  float64
	lon  float64
}

// Search emits one event per target whose orb came within MaxOrb, at the first
// date of minimum orb. Events are ordered by date then target.
func (s *Searcher) Search(ctx context.Context, req Request) ([]models.ConjunctionEvent, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	body := req.Body
	if body == "" {
		body = models.Moon
	}

	targets := make([]string, 0, len(req.Natal))
	for name := range req.Natal {
		targets = append(targets, name)
	}
	sort.Strings(targets)

	found := make(map[string]*best, len(targets))
	source := s.primary
	total := stepCount(req.Start, req.End, req.Step)

	step := 0
	for current := req.Start; !current.After(req.End); current = advance(current, req.Step) {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("conjunction search cancelled at %s: %w", current.Format(time.RFC3339), err)
		}

		pos, err := source.Longitude(ctx, req.Birth, current, body)
		if err != nil && step == 0 && req.Fallback != nil && errors.Is(err, models.ErrProviderUnavailable) {
			if s.l != nil {
				s.l.Warn("ephemeris unavailable, using lower precision fallback for the whole run",
					applogger.String("body", string(body)),
					applogger.String("precision", string(req.Fallback.Precision())),
					applogger.Error(err),
				)
			}
			source = req.Fallback
			pos, err = source.Longitude(ctx, req.Birth, current, body)
		}
		if err != nil {
			return nil, fmt.Errorf("conjunction search at %s: %w", current.Format(time.RFC3339), err)
		}

		for _, name := range targets {
			orb := zodiac.Separation(pos.Longitude, req.Natal[name])
			if orb > req.MaxOrb {
				continue
			}
			b := found[name]
			if b == nil || orb < b.orb {
				found[name] = &best{date: current, orb: orb, lon: pos.Longitude}
			}
		}

		step++
		if req.Progress != nil {
			req.Progress(Progress{Date: current, Step: step, Total: total, Longitude: pos.Longitude, Precision: source.Precision()})
		}
		if s.l != nil && step%s.logEvery == 0 {
			s.l.Debug("conjunction search progress",
				applogger.String("date", current.Format("2006-01-02")),
				applogger.Int("step", step),
				applogger.Int("total", total),
				applogger.String("longitude", zodiac.FormatDMS(pos.Longitude)),
			)
		}
	}

	events := make([]models.ConjunctionEvent, 0, len(found))
	for _, name := range targets {
		b, ok := found[name]
		if !ok {
			continue
		}
		events = append(events, models.ConjunctionEvent{
			ID:                  EventID(req.Birth, body, name, b.date),
			ProgressedBody:      body,
			Target:              name,
			Date:                b.date,
			ProgressedLongitude: b.lon,
			NatalLongitude:      zodiac.Normalize(req.Natal[name]),
			Orb:                 b.orb,
			Description:         models.DescribeConjunction(body, name),
			Precision:           source.Precision(),
		})
	}
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].Date.Equal(events[j].Date) {
			return events[i].Date.Before(events[j].Date)
		}
		return events[i].Target < events[j].Target
	})
	return events, nil
}

// EventID is stable for the same birth, body, target and date.
func EventID(birth models.BirthData, body models.Body, target string, date time.Time) string {
	key := fmt.Sprintf("%s|%.6f|%.6f|%s|%s|%s", birth.Instant.UTC().Format(time.RFC3339Nano),
		birth.Latitude, birth.Longitude, body, target, date.UTC().Format(time.RFC3339))
	return uuid.NewSHA1(eventNamespace, []byte(key)).String()
}

func validate(req Request) error {
	if req.Birth.Instant.IsZero() {
		return models.NewValidationError("birth.instant", "is required")
	}
	if !zodiac.IsFinite(req.Birth.Latitude) || !zodiac.IsFinite(req.Birth.Longitude) {
		return models.NewValidationError("birth", "coordinates must be finite")
	}
	if req.Start.IsZero() || req.End.IsZero() {
		return models.NewValidationError("window", "start and end are required")
	}
	if !req.End.After(req.Start) {
		return models.NewValidationError("window", "end %s must be after start %s", req.End.Format(time.RFC3339), req.Start.Format(time.RFC3339))
	}
	if req.Step <= 0 {
		return models.NewValidationError("step", "must be positive, got %s", req.Step)
	}
	if !zodiac.IsFinite(req.MaxOrb) || req.MaxOrb <= 0 || req.MaxOrb > 180 {
		return models.NewValidationError("max_orb", "must be within (0,180], got %v", req.MaxOrb)
	}
	if len(req.Natal) == 0 {
		return models.NewValidationError("natal", "at least one target is required")
	}
	for name, lon := range req.Natal {
		if !zodiac.IsFinite(lon) {
			return models.NewValidationError("natal."+name, "longitude must be finite")
		}
	}
	if req.Body != "" && !req.Body.IsKnown() {
		return models.NewValidationError("body", "unknown body %q", req.Body)
	}
	return nil
}

// advance moves by whole calendar days when step is a multiple of a day, so
// local dates stay aligned across DST changes.
func advance(t time.Time, step time.Duration) time.Time {
	if step%DefaultStep == 0 {
		return t.AddDate(0, 0, int(step/DefaultStep))
	}
	return t.Add(step)
}

func stepCount(start, end time.Time, step time.Duration) int {
	return int(math.Floor(float64(end.Sub(start))/float64(step))) + 1
}
