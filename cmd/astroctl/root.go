package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"AstroCal/internal/di"
	"AstroCal/internal/domain/models"
	"AstroCal/internal/domain/service"
	internalrepo "AstroCal/internal/repository"
	"AstroCal/internal/usecase"
	"AstroCal/pkg/config"
	applogger "AstroCal/pkg/logger"
	"AstroCal/pkg/metrics"
	"AstroCal/pkg/queue"

	"github.com/spf13/cobra"
)

var errNoIntake = errors.New("no job intake enabled: set queue.enabled or kafka.enabled")

// env holds the pieces commands reach outside the process for.
type env struct {
	out    io.Writer
	errOut io.Writer
	// provider builds the ephemeris source for locally computed commands.
	provider func(cfg *config.Config, l *applogger.Logger) service.EphemerisProvider
	// enqueue hands a search job to the configured intake and returns its id.
	enqueue func(ctx context.Context, cfg *config.Config, job models.SearchJob) (string, error)
}

func defaultEnv() *env {
	return &env{
		out:    os.Stdout,
		errOut: os.Stderr,
		provider: func(cfg *config.Config, l *applogger.Logger) service.EphemerisProvider {
			return di.ProvideEphemerisProvider(cfg, di.ProvideCache(cfg, nil), metrics.Noop{}, l)
		},
		enqueue: enqueueJob,
	}
}

type rootOptions struct {
	configPath string
	compact    bool
	verbose    bool
}

func newRootCmd(e *env) *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "astroctl",
		Short: "Natal charts, secondary progressions and progressed conjunction searches",
		Long: `
astroctl computes natal charts and progressed conjunctions locally against the
configured ephemeris service, or submits conjunction searches to a running
astrocal deployment through its Redis queue or Kafka topic.

Examples:
  astroctl chart --datetime "1964-12-26 21:00" --timezone America/Chicago --lat 41.85 --lon -87.65
  astroctl conjunctions --datetime 1964-12-26T21:00:00-06:00 --lat 41.85 --lon -87.65 \
      --start 2025-01-01 --end 2026-01-01 --targets Sun,Asc
  astroctl submit --config config/config.yaml --request job.json
`,
		SilenceUsage: true,
	}
	root.SetOut(e.out)
	root.SetErr(e.errOut)
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file path (defaults only when empty)")
	root.PersistentFlags().BoolVar(&opts.compact, "compact", false, "print single-line JSON")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log at debug level to stderr")

	root.AddCommand(
		newChartCmd(e, opts),
		newPositionCmd(e, opts),
		newConjunctionsCmd(e, opts),
		newSubmitCmd(e, opts),
	)
	return root
}

func (o *rootOptions) load() (*config.Config, error) {
	cfg, err := config.LoadWithEnv(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// logger writes to stderr so stdout stays parseable JSON.
func (o *rootOptions) logger() (*applogger.Logger, error) {
	level := "warn"
	if o.verbose {
		level = "debug"
	}
	return applogger.New(&applogger.Config{Level: level, Format: "console", Output: "stderr"})
}

func (o *rootOptions) print(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	if !o.compact {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

type localServices struct {
	charts *usecase.ChartUseCase
	search *usecase.ProgressionUseCase
}

// services wires the use cases over an in-process memory store; nothing is
// published.
func (e *env) services(cfg *config.Config, l *applogger.Logger) (*localServices, error) {
	p := e.provider(cfg, l)
	chartDefaults, err := di.ProvideChartDefaults(cfg)
	if err != nil {
		return nil, err
	}
	searchDefaults, err := di.ProvideSearchDefaults(cfg)
	if err != nil {
		return nil, err
	}
	store := internalrepo.NewMemoryChartStore()
	charts := di.ProvideChartUseCase(di.ProvideAssembler(p, l), store, metrics.Noop{}, chartDefaults, l)
	search := di.ProvideProgressionUseCase(charts, di.ProvideCalculator(p), store, internalrepo.NoopPublisher{}, metrics.Noop{}, searchDefaults, l)
	return &localServices{charts: charts, search: search}, nil
}

// enqueueJob prefers the Redis queue and falls back to the Kafka jobs topic.
func enqueueJob(ctx context.Context, cfg *config.Config, job models.SearchJob) (string, error) {
	switch {
	case cfg.Queue.Enabled:
		rc, err := di.ProvideRedisCache(cfg)
		if err != nil {
			return "", err
		}
		defer rc.Close()
		q, err := queue.NewRedisPublisher(rc.Client(), queue.WithKeyPrefix(cfg.Queue.Prefix))
		if err != nil {
			return "", fmt.Errorf("redis queue: %w", err)
		}
		defer q.Stop(ctx)
		return q.Enqueue(ctx, usecase.SearchJobType, job)
	case cfg.Kafka.Enabled:
		producer, err := di.ProvideKafkaProducer(cfg)
		if err != nil {
			return "", err
		}
		defer producer.Close()
		if err := producer.Publish(ctx, cfg.Kafka.Topics.SearchJobs, []byte(job.JobID), job); err != nil {
			return "", fmt.Errorf("publish search job: %w", err)
		}
		return job.JobID, nil
	default:
		return "", errNoIntake
	}
}
