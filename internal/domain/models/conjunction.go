package models

import (
	"fmt"
	"time"
)

// Precision labels where a progressed longitude came from.
type Precision string

const (
	PrecisionEphemeris  Precision = "ephemeris"
	PrecisionMeanMotion Precision = "mean_motion" // lower precision fallback
)

type ProgressedPosition struct {
	Body              Body         `json:"body"`
	TargetDate        time.Time    `json:"target_date"`
	ProgressedInstant time.Time    `json:"progressed_instant"`
	Longitude         float64      `json:"longitude"`
	Position          SignPosition `json:"position"`
	Precision         Precision    `json:"precision"`
}

// ConjunctionEvent is the best date a progressed body met a natal target within orb.
type ConjunctionEvent struct {
	ID                  string    `json:"id"`
	ChartID             string    `json:"chart_id,omitempty"`
	ProgressedBody      Body      `json:"progressed_body"`
	Target              string    `json:"target"`
	Date                time.Time `json:"date"`
	ProgressedLongitude float64   `json:"progressed_longitude"`
	NatalLongitude      float64   `json:"natal_longitude"`
	Orb                 float64   `json:"orb"`
	Description         string    `json:"description"`
	Precision           Precision `json:"precision"`
}

// DescribeConjunction builds the human-readable event description.
func DescribeConjunction(body Body, target string) string {
	return fmt.Sprintf("Progressed %s conjunct natal %s", body, target)
}
