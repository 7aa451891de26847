package usecase

import (
	"time"

	"AstroCal/internal/domain/models"
	"AstroCal/pkg/util"
)

// ChartInputFrom converts an API request into use case input.
func ChartInputFrom(req models.ChartRequest) (ChartInput, error) {
	birth, err := req.Birth.Resolve()
	if err != nil {
		return ChartInput{}, err
	}
	table, err := models.AspectTableFrom(req.Aspects)
	if err != nil {
		return ChartInput{}, err
	}
	points := make([]models.Body, 0, len(req.Points))
	for _, p := range req.Points {
		points = append(points, models.Body(p))
	}
	return ChartInput{
		Birth:        birth,
		Points:       points,
		AspectBodies: req.AspectBodies,
		AllPoints:    req.AllPoints,
		HouseSystem:  models.HouseSystem(req.HouseSystem),
		Aspects:      table,
		Draconic:     req.Draconic,
		Save:         req.Save,
	}, nil
}

// SearchInputFrom converts an API request or search job into use case input.
func SearchInputFrom(req models.ConjunctionRequest) (SearchInput, error) {
	in := SearchInput{
		ChartID:     req.ChartID,
		Natal:       req.Natal,
		Targets:     req.Targets,
		MaxOrb:      req.MaxOrb,
		IncludeSelf: req.IncludeSelf,
		Fallback:    req.Fallback,
		Save:        req.Save,
	}
	if req.ChartID == "" {
		if req.Birth == nil {
			return SearchInput{}, models.NewValidationError("birth", "chart_id or birth is required")
		}
		birth, err := req.Birth.Resolve()
		if err != nil {
			return SearchInput{}, err
		}
		in.Birth = birth
	}

	var ok bool
	if in.Start, ok = util.ParseTime(req.Start); !ok {
		return SearchInput{}, models.NewValidationError("start", "invalid time %q", req.Start)
	}
	if in.End, ok = util.ParseTime(req.End); !ok {
		return SearchInput{}, models.NewValidationError("end", "invalid time %q", req.End)
	}
	if req.StepHours > 0 {
		in.Step = time.Duration(req.StepHours * float64(time.Hour))
	}
	for _, b := range req.Bodies {
		in.Bodies = append(in.Bodies, models.Body(b))
	}
	return in, nil
}
