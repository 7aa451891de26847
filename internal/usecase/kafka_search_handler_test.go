package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"AstroCal/internal/domain/models"
	pkgkafka "AstroCal/pkg/kafka"
	"AstroCal/pkg/queue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func jobPayload(t *testing.T, job models.SearchJob) []byte {
	t.Helper()
	b, err := json.Marshal(job)
	require.NoError(t, err)
	return b
}

func TestKafkaSearchHandlerStoresAndPublishes(t *testing.T) {
	f := newFixture(SearchDefaults{})
	h := NewKafkaSearchHandler("jobs", f.search, f.search.metrics)
	assert.Equal(t, "jobs", h.Topic())

	f.publisher.On("PublishEvents", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()
	err := h.Handle(context.Background(), jobPayload(t, models.SearchJob{
		JobID: "job-1",
		ConjunctionRequest: models.ConjunctionRequest{
			Birth:   birthRequest(),
			Natal:   map[string]float64{"Sun": 275.2667},
			Start:   "2025-01-01",
			End:     "2025-05-01",
			Targets: []string{"Sun"},
		},
	}))
	require.NoError(t, err)
	f.publisher.AssertExpectations(t)

	chartID := f.publisher.Calls[0].Arguments.String(1)
	events, err := f.store.ListEvents(context.Background(), chartID, time.Time{}, time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "Sun", events[0].Target)
}

func TestKafkaSearchHandlerMarksBadJobsPermanent(t *testing.T) {
	f := newFixture(SearchDefaults{})
	h := NewKafkaSearchHandler("jobs", f.search, f.search.metrics)
	ctx := context.Background()

	err := h.Handle(ctx, []byte("{not json"))
	assert.ErrorIs(t, err, pkgkafka.ErrPermanent)

	err = h.Handle(ctx, jobPayload(t, models.SearchJob{
		ConjunctionRequest: models.ConjunctionRequest{ChartID: "c1", Start: "2025-01-01", End: "2025-02-01"},
	}))
	assert.ErrorIs(t, err, pkgkafka.ErrPermanent, "job_id is required")

	err = h.Handle(ctx, jobPayload(t, models.SearchJob{
		JobID:              "job-2",
		ConjunctionRequest: models.ConjunctionRequest{ChartID: "missing", Start: "2025-01-01", End: "2025-02-01"},
	}))
	assert.ErrorIs(t, err, pkgkafka.ErrPermanent)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestKafkaSearchHandlerRetriesProviderFailures(t *testing.T) {
	f := newFixture(SearchDefaults{})
	f.source.err = &models.ProviderError{Op: "progressed", Err: errors.New("502 from upstream")}
	h := NewKafkaSearchHandler("jobs", f.search, f.search.metrics)

	err := h.Handle(context.Background(), jobPayload(t, models.SearchJob{
		JobID: "job-3",
		ConjunctionRequest: models.ConjunctionRequest{
			Birth: birthRequest(),
			Natal: map[string]float64{"Sun": 1},
			Start: "2025-01-01",
			End:   "2025-02-01",
		},
	}))
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrProvider)
	assert.NotErrorIs(t, err, pkgkafka.ErrPermanent)
}

func TestQueueSearchJobMapsPermanentErrors(t *testing.T) {
	f := newFixture(SearchDefaults{})
	j := NewQueueSearchJob(NewKafkaSearchHandler("jobs", f.search, f.search.metrics))
	assert.Equal(t, SearchJobType, j.Type())

	err := j.Handle(context.Background(), []byte(`{"job_id":`))
	assert.ErrorIs(t, err, queue.ErrPermanent)

	err = j.Handle(context.Background(), jobPayload(t, models.SearchJob{
		JobID:              "job-4",
		ConjunctionRequest: models.ConjunctionRequest{ChartID: "missing", Start: "2025-01-01", End: "2025-02-01"},
	}))
	assert.ErrorIs(t, err, queue.ErrPermanent)
	assert.ErrorIs(t, err, models.ErrNotFound)

	f.publisher.On("PublishEvents", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()
	err = j.Handle(context.Background(), jobPayload(t, models.SearchJob{
		JobID: "job-5",
		ConjunctionRequest: models.ConjunctionRequest{
			Birth: birthRequest(),
			Natal: map[string]float64{"Sun": 275.2667},
			Start: "2025-01-01",
			End:   "2025-05-01",
		},
	}))
	require.NoError(t, err)
	f.publisher.AssertExpectations(t)
}
