package models

import (
	"fmt"

	"AstroCal/pkg/util"
)

// Requests accepted by the HTTP API and the search-job topic.

type BirthRequest struct {
	// DateTime is RFC3339 with offset, or local civil time ("1964-12-26 21:00") read in TimeZone.
	DateTime  string   `json:"datetime" validate:"required"`
	TimeZone  string   `json:"timezone"`
	Latitude  *float64 `json:"latitude" validate:"required,gte=-90,lte=90"`
	Longitude *float64 `json:"longitude" validate:"required,gte=-180,lte=180"`
	Place     string   `json:"place"`
}

// Resolve turns the request into absolute birth data.
func (r BirthRequest) Resolve() (BirthData, error) {
	if r.Latitude == nil || r.Longitude == nil {
		return BirthData{}, NewValidationError("birth", "latitude and longitude are required")
	}
	instant, err := util.ParseLocalTime(r.DateTime, r.TimeZone)
	if err != nil {
		return BirthData{}, &ValidationError{Field: "birth.datetime", Reason: err.Error()}
	}
	zone := r.TimeZone
	if zone == "" {
		zone = instant.Location().String()
	}
	return BirthData{
		Instant:   instant,
		Latitude:  *r.Latitude,
		Longitude: *r.Longitude,
		Place:     r.Place,
		TimeZone:  zone,
	}, nil
}

type AspectOrb struct {
	Kind string  `json:"kind" yaml:"kind" validate:"required"`
	Orb  float64 `json:"orb" yaml:"orb" validate:"gte=0"`
}

// AspectTableFrom builds a table from kind/orb pairs. An empty list yields nil,
// which consumers read as the default table.
func AspectTableFrom(list []AspectOrb) (AspectTable, error) {
	if len(list) == 0 {
		return nil, nil
	}
	table := make(AspectTable, len(list))
	for i, a := range list {
		kind, ok := ParseAspectKind(a.Kind)
		if !ok {
			return nil, NewConfigurationError(fmt.Sprintf("aspects[%d].kind", i), "unknown aspect %q", a.Kind)
		}
		if _, dup := table[kind.Angle()]; dup {
			return nil, NewConfigurationError(fmt.Sprintf("aspects[%d].kind", i), "%s listed twice", kind)
		}
		table[kind.Angle()] = AspectRule{Kind: string(kind), MaxOrb: a.Orb}
	}
	return table, nil
}

type ChartRequest struct {
	Birth        BirthRequest `json:"birth"`
	Points       []string     `json:"points"`
	AspectBodies []string     `json:"aspect_bodies"`
	AllPoints    bool         `json:"all_points"`
	HouseSystem  string       `json:"house_system" validate:"omitempty,oneof=placidus koch whole_sign equal regiomontanus"`
	Aspects      []AspectOrb  `json:"aspects" validate:"dive"`
	Draconic     bool         `json:"draconic"`
	Save         bool         `json:"save"`
}

type ConjunctionRequest struct {
	// ChartID selects a stored chart; otherwise Birth is required.
	ChartID string        `json:"chart_id"`
	Birth   *BirthRequest `json:"birth" validate:"required_without=ChartID"`
	// Natal overrides the natal longitudes; targets are then exactly these keys.
	Natal       map[string]float64 `json:"natal"`
	Targets     []string           `json:"targets"`
	Bodies      []string           `json:"bodies"`
	Start       string             `json:"start" validate:"required"`
	End         string             `json:"end" validate:"required"`
	MaxOrb      float64            `json:"max_orb" validate:"gte=0,lte=30"`
	StepHours   float64            `json:"step_hours" validate:"gte=0"`
	IncludeSelf bool               `json:"include_self"`
	Fallback    *bool              `json:"fallback"`
	Save        bool               `json:"save"`
}

// SearchJob is a conjunction search submitted through Kafka.
type SearchJob struct {
	JobID string `json:"job_id" validate:"required"`
	ConjunctionRequest
}

type PositionQuery struct {
	DateTime  string `query:"datetime" validate:"required"`
	TimeZone  string `query:"timezone"`
	Latitude  string `query:"lat" validate:"required,latitude"`
	Longitude string `query:"lon" validate:"required,longitude"`
	Date      string `query:"date" validate:"required"`
	Body      string `query:"body" default:"Moon"`
}

type EventsQuery struct {
	ID    string `param:"id" validate:"required"`
	From  string `query:"from"`
	To    string `query:"to"`
	Limit int    `query:"limit" default:"100" validate:"gte=1,lte=5000"`
}
