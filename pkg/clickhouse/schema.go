package clickhouse

import "fmt"

// Schema returns the DDL for the chart and conjunction-event tables in db.
// Both tables use ReplacingMergeTree so re-saving a chart or re-running a
// search with the same deterministic ids converges to one row.
func Schema(db string) []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", db),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.charts (
    id           String,
    kind         LowCardinality(String),
    house_system LowCardinality(String),
    birth_instant DateTime64(3, 'UTC'),
    latitude     Float64,
    longitude    Float64,
    place        String,
    time_zone    String,
    payload      String,
    created_at   DateTime64(3, 'UTC')
) ENGINE = ReplacingMergeTree(created_at)
ORDER BY id`, db),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.conjunction_events (
    id                   String,
    chart_id             String,
    progressed_body      LowCardinality(String),
    target               LowCardinality(String),
    event_date           DateTime64(3, 'UTC'),
    progressed_longitude Float64,
    natal_longitude      Float64,
    orb                  Float64,
    description          String,
    precision            LowCardinality(String),
    inserted_at          DateTime64(3, 'UTC') DEFAULT now64(3)
) ENGINE = ReplacingMergeTree(inserted_at)
ORDER BY (chart_id, event_date, target, id)`, db),
	}
}
