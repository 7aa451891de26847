package models

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProviderErrorMatching(t *testing.T) {
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	err := fmt.Errorf("assemble: %w", &ProviderError{Op: "positions", Body: Chiron, Instant: at, Err: errors.New("out of range")})

	assert.ErrorIs(t, err, ErrProvider)
	assert.NotErrorIs(t, err, ErrProviderUnavailable)
	assert.Contains(t, err.Error(), "body=Chiron")
	assert.Contains(t, err.Error(), "2025-01-01T00:00:00Z")

	down := &ProviderError{Op: "positions", Unavailable: true, Err: errors.New("connection refused")}
	assert.ErrorIs(t, down, ErrProvider)
	assert.ErrorIs(t, down, ErrProviderUnavailable)
}

func TestConfigurationAndValidationErrors(t *testing.T) {
	cerr := NewConfigurationError("aspects[45]", "unknown kind %q", "Quintile")
	assert.ErrorIs(t, cerr, ErrConfiguration)
	assert.NotErrorIs(t, cerr, ErrValidation)
	assert.Equal(t, `configuration: aspects[45]: unknown kind "Quintile"`, cerr.Error())

	verr := NewValidationError("step", "must be positive")
	assert.ErrorIs(t, verr, ErrValidation)

	var target *ValidationError
	assert.True(t, errors.As(fmt.Errorf("wrap: %w", verr), &target))
	assert.Equal(t, "step", target.Field)
}

func TestAspectKind(t *testing.T) {
	k, ok := ParseAspectKind(" square ")
	assert.True(t, ok)
	assert.Equal(t, Square, k)
	assert.Equal(t, 90.0, k.Angle())

	_, ok = ParseAspectKind("quincunx")
	assert.False(t, ok)

	assert.Less(t, Conjunction.Rank(), Opposition.Rank())
	assert.Less(t, Opposition.Rank(), Square.Rank())
	assert.Less(t, Square.Rank(), Trine.Rank())
	assert.Less(t, Trine.Rank(), Sextile.Rank())
}

func TestSignPositionFormat(t *testing.T) {
	assert.Equal(t, `5°16'05"`, SignPosition{Degrees: 5, Minutes: 16, Seconds: 5}.Format())
}
