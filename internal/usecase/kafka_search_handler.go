package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"AstroCal/internal/domain/models"
	domrepo "AstroCal/internal/domain/repository"
	pkgkafka "AstroCal/pkg/kafka"
	applogger "AstroCal/pkg/logger"
	"AstroCal/pkg/queue"

	"github.com/go-playground/validator/v10"
)

var jobValidator = validator.New()

// KafkaSearchHandler runs conjunction searches submitted on the jobs topic.
// Results always go through the event store and publisher.
type KafkaSearchHandler struct {
	topic   string
	search  *ProgressionUseCase
	metrics domrepo.Metrics
	l       *applogger.Logger
}

func NewKafkaSearchHandler(topic string, search *ProgressionUseCase, metrics domrepo.Metrics) *KafkaSearchHandler {
	return &KafkaSearchHandler{topic: topic, search: search, metrics: metrics, l: applogger.Nop()}
}

// SetLogger injects a structured logger.
func (h *KafkaSearchHandler) SetLogger(l *applogger.Logger) {
	if l != nil {
		h.l = l
	}
}

func (h *KafkaSearchHandler) Topic() string { return h.topic }

// Handle decodes a SearchJob. Malformed or invalid jobs are marked permanent
// so the consumer sends them to the DLQ without retrying.
func (h *KafkaSearchHandler) Handle(ctx context.Context, b []byte) error {
	var job models.SearchJob
	if err := json.Unmarshal(b, &job); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return fmt.Errorf("decode search job: %v: %w", err, pkgkafka.ErrPermanent)
	}
	return h.Run(ctx, job)
}

// Run validates and executes one job. Events are always stored and published.
func (h *KafkaSearchHandler) Run(ctx context.Context, job models.SearchJob) error {
	if err := jobValidator.StructCtx(ctx, &job); err != nil {
		h.metrics.RecordError("consumer_validation")
		return fmt.Errorf("search job %q: %v: %w", job.JobID, err, pkgkafka.ErrPermanent)
	}
	in, err := SearchInputFrom(job.ConjunctionRequest)
	if err != nil {
		h.metrics.RecordError("consumer_validation")
		return fmt.Errorf("search job %s: %w: %w", job.JobID, err, pkgkafka.ErrPermanent)
	}
	in.Save = true

	start := time.Now()
	res, err := h.search.Search(ctx, in)
	h.metrics.RecordLatency("search_job", time.Since(start).Seconds())
	if err != nil {
		if permanent(err) {
			return fmt.Errorf("search job %s: %w: %w", job.JobID, err, pkgkafka.ErrPermanent)
		}
		return fmt.Errorf("search job %s: %w", job.JobID, err)
	}

	h.l.Info("search job done",
		applogger.String("job_id", job.JobID),
		applogger.String("chart_id", res.ChartID),
		applogger.Int("events", len(res.Events)),
		applogger.String("trace_id", pkgkafka.TraceID(ctx)),
	)
	return nil
}

// permanent reports errors a retry of the same job cannot fix.
func permanent(err error) bool {
	return errors.Is(err, models.ErrValidation) ||
		errors.Is(err, models.ErrConfiguration) ||
		errors.Is(err, models.ErrNotFound)
}

// SearchJobType is the Redis queue message type of a SearchJob.
const SearchJobType = "conjunction_search"

// QueueSearchJob runs search jobs taken from the Redis queue.
type QueueSearchJob struct {
	h *KafkaSearchHandler
}

func NewQueueSearchJob(h *KafkaSearchHandler) *QueueSearchJob { return &QueueSearchJob{h: h} }

func (j *QueueSearchJob) Name() string { return "conjunction-search" }
func (j *QueueSearchJob) Type() string { return SearchJobType }

func (j *QueueSearchJob) Handle(ctx context.Context, payload []byte) error {
	job, err := queue.ParsePayload[models.SearchJob](payload)
	if err != nil {
		j.h.metrics.RecordError("queue_unmarshal")
		return fmt.Errorf("%w: %w", err, queue.ErrPermanent)
	}
	if err := j.h.Run(ctx, *job); err != nil {
		if errors.Is(err, pkgkafka.ErrPermanent) {
			return fmt.Errorf("%w: %w", err, queue.ErrPermanent)
		}
		return err
	}
	return nil
}

var (
	_ pkgkafka.MessageHandler = (*KafkaSearchHandler)(nil)
	_ queue.Job               = (*QueueSearchJob)(nil)
)
