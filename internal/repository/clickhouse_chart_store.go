package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"AstroCal/internal/domain/models"
	domrepo "AstroCal/internal/domain/repository"
	pkgch "AstroCal/pkg/clickhouse"
	applogger "AstroCal/pkg/logger"
)

const eventInsertChunk = 2000

// CHChartStore implements ChartStore backed by ClickHouse.
type CHChartStore struct {
	db       *sql.DB
	database string
	l        *applogger.Logger
}

var _ domrepo.ChartStore = (*CHChartStore)(nil)

func NewCHChartStore(ch *pkgch.Client) *CHChartStore {
	return &CHChartStore{db: ch.DB(), database: ch.Database(), l: applogger.Nop()}
}

// SetLogger injects a structured logger.
func (s *CHChartStore) SetLogger(l *applogger.Logger) {
	if l != nil {
		s.l = l
	}
}

func (s *CHChartStore) table(name string) string {
	return s.database + "." + name
}

func (s *CHChartStore) SaveChart(ctx context.Context, c *models.Chart) error {
	if c == nil || c.ID == "" {
		return models.NewValidationError("chart.id", "is required")
	}
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal chart: %w", err)
	}
	created := c.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}

	q := fmt.Sprintf(`INSERT INTO %s
        (id, kind, house_system, birth_instant, latitude, longitude, place, time_zone, payload, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.table("charts"))
	_, err = s.db.ExecContext(ctx, q,
		c.ID,
		string(c.Kind),
		string(c.HouseSystem),
		c.Provenance.Instant.UTC(),
		c.Provenance.Latitude,
		c.Provenance.Longitude,
		c.Provenance.Place,
		c.Provenance.TimeZone,
		string(payload),
		created.UTC(),
	)
	if err != nil {
		s.l.Error("clickhouse save_chart error", applogger.String("chart_id", c.ID), applogger.Error(err))
		return fmt.Errorf("save chart: %w", err)
	}
	return nil
}

func (s *CHChartStore) GetChart(ctx context.Context, id string) (*models.Chart, error) {
	q := fmt.Sprintf("SELECT payload FROM %s FINAL WHERE id = ? LIMIT 1", s.table("charts"))
	var payload string
	if err := s.db.QueryRowContext(ctx, q, id).Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("get chart: %w", err)
	}
	var c models.Chart
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return nil, fmt.Errorf("decode chart %s: %w", id, err)
	}
	return &c, nil
}

// SaveEvents inserts events in multi-row chunks. Event ids are
// deterministic, so ReplacingMergeTree collapses re-runs of a search.
func (s *CHChartStore) SaveEvents(ctx context.Context, chartID string, events []models.ConjunctionEvent) error {
	if chartID == "" {
		return models.NewValidationError("chart_id", "is required")
	}
	start := time.Now()
	for lo := 0; lo < len(events); lo += eventInsertChunk {
		hi := lo + eventInsertChunk
		if hi > len(events) {
			hi = len(events)
		}
		q, args := s.eventInsert(chartID, events[lo:hi])
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			s.l.Error("clickhouse save_events error",
				applogger.String("chart_id", chartID),
				applogger.Int("rows", hi-lo),
				applogger.Error(err),
			)
			return fmt.Errorf("save events: %w", err)
		}
	}
	if len(events) > 0 {
		s.l.Debug("clickhouse save_events ok",
			applogger.String("chart_id", chartID),
			applogger.Int("rows", len(events)),
			applogger.Duration("took", time.Since(start)),
		)
	}
	return nil
}

func (s *CHChartStore) eventInsert(chartID string, events []models.ConjunctionEvent) (string, []interface{}) {
	values := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*10)
	for _, ev := range events {
		values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args,
			ev.ID,
			chartID,
			string(ev.ProgressedBody),
			ev.Target,
			ev.Date.UTC(),
			ev.ProgressedLongitude,
			ev.NatalLongitude,
			ev.Orb,
			ev.Description,
			string(ev.Precision),
		)
	}
	q := fmt.Sprintf(`INSERT INTO %s
        (id, chart_id, progressed_body, target, event_date, progressed_longitude, natal_longitude, orb, description, precision)
        VALUES %s`, s.table("conjunction_events"), strings.Join(values, ","))
	return q, args
}

func (s *CHChartStore) ListEvents(ctx context.Context, chartID string, from, to time.Time, limit int) ([]models.ConjunctionEvent, error) {
	var (
		where = []string{"chart_id = ?"}
		args  = []interface{}{chartID}
	)
	if !from.IsZero() {
		where = append(where, "event_date >= ?")
		args = append(args, from.UTC())
	}
	if !to.IsZero() {
		where = append(where, "event_date <= ?")
		args = append(args, to.UTC())
	}
	q := fmt.Sprintf(`SELECT id, chart_id, progressed_body, target, event_date,
            progressed_longitude, natal_longitude, orb, description, precision
        FROM %s FINAL
        WHERE %s
        ORDER BY event_date ASC, target ASC, id ASC`, s.table("conjunction_events"), strings.Join(where, " AND "))
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	out := make([]models.ConjunctionEvent, 0, 16)
	for rows.Next() {
		var (
			ev        models.ConjunctionEvent
			body      string
			precision string
		)
		if err := rows.Scan(&ev.ID, &ev.ChartID, &body, &ev.Target, &ev.Date,
			&ev.ProgressedLongitude, &ev.NatalLongitude, &ev.Orb, &ev.Description, &precision); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.ProgressedBody = models.Body(body)
		ev.Precision = models.Precision(precision)
		ev.Date = ev.Date.UTC()
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (s *CHChartStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close is a no-op; the pool belongs to pkg/clickhouse.Client.
func (s *CHChartStore) Close() error {
	return nil
}
