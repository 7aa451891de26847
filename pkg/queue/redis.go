package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"AstroCal/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisQueue keeps pending messages in a list. A worker atomically moves a
// message into the processing list with BLMOVE and removes it once handled,
// so a crash leaves it there to be recovered by the next Start. Failed
// messages wait in a sorted set scored by due time; exhausted ones land in
// the dead letter list.
//
// A queue without registered jobs only publishes.
type RedisQueue struct {
	client redis.UniversalClient
	cfg    Config
	prefix string
	logger *logger.Logger

	mu      sync.RWMutex
	jobs    map[string]Job
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type Option func(*RedisQueue)

func WithKeyPrefix(prefix string) Option {
	return func(q *RedisQueue) {
		if prefix != "" {
			q.prefix = prefix
		}
	}
}

func WithLogger(l *logger.Logger) Option {
	return func(q *RedisQueue) {
		if l != nil {
			q.logger = l
		}
	}
}

func NewRedisQueue(client redis.UniversalClient, cfg Config, opts ...Option) *RedisQueue {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 10 * time.Second
	}
	if cfg.PopTimeout <= 0 {
		cfg.PopTimeout = time.Second
	}
	q := &RedisQueue{
		client: client,
		cfg:    cfg,
		prefix: "astrocal:queue",
		logger: logger.Nop(),
		jobs:   make(map[string]Job),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// NewRedisPublisher returns a started queue that only enqueues.
func NewRedisPublisher(client redis.UniversalClient, opts ...Option) (*RedisQueue, error) {
	q := NewRedisQueue(client, Config{}, opts...)
	if err := q.Start(); err != nil {
		return nil, err
	}
	return q, nil
}

// NewRedisConsumer returns an unstarted queue with jobs registered.
func NewRedisConsumer(client redis.UniversalClient, cfg Config, jobs []Job, opts ...Option) *RedisQueue {
	q := NewRedisQueue(client, cfg, opts...)
	for _, j := range jobs {
		q.RegisterJob(j)
	}
	return q
}

func (q *RedisQueue) RegisterJob(j Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, dup := q.jobs[j.Type()]; dup {
		q.logger.Warn("queue: duplicate job ignored", logger.String("type", j.Type()))
		return
	}
	q.jobs[j.Type()] = j
}

// Start pings Redis. With jobs registered it also recovers messages left in
// the processing list and starts the workers and the retry mover.
func (q *RedisQueue) Start() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return errors.New("queue: already running")
	}

	pctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := q.client.Ping(pctx).Err(); err != nil {
		return fmt.Errorf("queue: redis ping: %w", err)
	}

	ctx, stop := context.WithCancel(context.Background())
	q.cancel = stop
	q.running = true
	if len(q.jobs) == 0 {
		return nil
	}

	if n, err := q.recoverInFlight(pctx); err != nil {
		q.logger.Warn("queue: recover in-flight messages", logger.Error(err))
	} else if n > 0 {
		q.logger.Info("queue: recovered in-flight messages", logger.Int("count", n))
	}

	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.work(ctx, i)
	}
	q.wg.Add(1)
	go q.promoteRetries(ctx)

	q.logger.Info("queue: started",
		logger.Int("workers", q.cfg.Workers),
		logger.String("prefix", q.prefix),
		logger.Int("jobs", len(q.jobs)),
	)
	return nil
}

// Stop cancels in-flight jobs, which are put back on the queue, and waits
// for the workers up to ctx.
func (q *RedisQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return nil
	}
	q.running = false
	q.cancel()
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("queue: stop: %w", ctx.Err())
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, msgType string, payload interface{}) (string, error) {
	q.mu.RLock()
	running := q.running
	_, known := q.jobs[msgType]
	consumer := len(q.jobs) > 0
	q.mu.RUnlock()
	if !running {
		return "", errors.New("queue: not running")
	}
	if consumer && !known {
		return "", fmt.Errorf("queue: no job registered for type %q", msgType)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("queue: encode payload: %w", err)
	}
	msg := Message{ID: uuid.NewString(), Type: msgType, Payload: raw, Timestamp: time.Now().UTC()}
	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("queue: encode message: %w", err)
	}
	if err := q.client.LPush(ctx, q.key("messages"), data).Err(); err != nil {
		return "", fmt.Errorf("queue: push: %w", err)
	}
	return msg.ID, nil
}

// Stats counts messages in each stage.
type Stats struct {
	Queued     int64 `json:"queued"`
	Processing int64 `json:"processing"`
	Retrying   int64 `json:"retrying"`
	Dead       int64 `json:"dead"`
}

func (q *RedisQueue) Stats(ctx context.Context) (Stats, error) {
	pipe := q.client.Pipeline()
	queued := pipe.LLen(ctx, q.key("messages"))
	processing := pipe.LLen(ctx, q.key("processing"))
	retrying := pipe.ZCard(ctx, q.key("retry"))
	dead := pipe.LLen(ctx, q.key("dlq"))
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, fmt.Errorf("queue: stats: %w", err)
	}
	return Stats{Queued: queued.Val(), Processing: processing.Val(), Retrying: retrying.Val(), Dead: dead.Val()}, nil
}

func (q *RedisQueue) work(ctx context.Context, worker int) {
	defer q.wg.Done()
	for ctx.Err() == nil {
		raw, err := q.client.BLMove(ctx, q.key("messages"), q.key("processing"), "RIGHT", "LEFT", q.cfg.PopTimeout).Result()
		switch {
		case err == nil:
			q.handle(ctx, raw)
		case errors.Is(err, redis.Nil), ctx.Err() != nil:
		default:
			q.logger.Error("queue: pop failed", logger.Int("worker", worker), logger.Error(err))
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
			}
		}
	}
}

func (q *RedisQueue) handle(ctx context.Context, raw string) {
	// Detached so acks and requeues still land while shutting down.
	bg := context.WithoutCancel(ctx)
	defer q.client.LRem(bg, q.key("processing"), 1, raw)

	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		q.logger.Error("queue: undecodable message", logger.Error(err))
		q.client.LPush(bg, q.key("dlq"), raw)
		return
	}

	q.mu.RLock()
	job, ok := q.jobs[msg.Type]
	q.mu.RUnlock()
	if !ok {
		q.bury(bg, msg, fmt.Errorf("no job for type %q", msg.Type))
		return
	}

	start := time.Now()
	err := job.Handle(ctx, msg.Payload)
	switch {
	case err == nil:
		q.logger.Debug("queue: job done",
			logger.String("id", msg.ID),
			logger.String("job", job.Name()),
			logger.Duration("took", time.Since(start)))
	case ctx.Err() != nil:
		q.push(bg, "messages", msg)
	case errors.Is(err, ErrPermanent) || msg.Attempts >= q.cfg.RetryLimit:
		q.logger.Error("queue: job failed for good",
			logger.String("id", msg.ID),
			logger.String("job", job.Name()),
			logger.Int("attempts", msg.Attempts+1),
			logger.Error(err))
		q.bury(bg, msg, err)
	default:
		msg.Attempts++
		due := time.Now().Add(q.cfg.RetryDelay)
		q.logger.Warn("queue: job failed, retrying",
			logger.String("id", msg.ID),
			logger.String("job", job.Name()),
			logger.Int("attempt", msg.Attempts),
			logger.Time("retry_at", due),
			logger.Error(err))
		q.schedule(bg, msg, due)
	}
}

func (q *RedisQueue) push(ctx context.Context, list string, msg Message) {
	data, err := json.Marshal(msg)
	if err == nil {
		err = q.client.RPush(ctx, q.key(list), data).Err()
	}
	if err != nil {
		q.logger.Error("queue: push to "+list, logger.String("id", msg.ID), logger.Error(err))
	}
}

func (q *RedisQueue) bury(ctx context.Context, msg Message, cause error) {
	msg.Error = cause.Error()
	q.push(ctx, "dlq", msg)
}

func (q *RedisQueue) schedule(ctx context.Context, msg Message, due time.Time) {
	data, err := json.Marshal(msg)
	if err == nil {
		err = q.client.ZAdd(ctx, q.key("retry"), redis.Z{Score: float64(due.UnixMilli()), Member: data}).Err()
	}
	if err != nil {
		q.logger.Error("queue: schedule retry", logger.String("id", msg.ID), logger.Error(err))
	}
}

func (q *RedisQueue) promoteRetries(ctx context.Context) {
	defer q.wg.Done()
	tick := time.NewTicker(time.Second)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if n, err := q.promoteDue(ctx, time.Now()); err != nil && ctx.Err() == nil {
				q.logger.Error("queue: promote retries", logger.Error(err))
			} else if n > 0 {
				q.logger.Debug("queue: promoted retries", logger.Int("count", n))
			}
		}
	}
}

// promoteDue moves retries due by now back to the queue. ZREM decides the
// winner when several consumers race on the same member.
func (q *RedisQueue) promoteDue(ctx context.Context, now time.Time) (int, error) {
	due, err := q.client.ZRangeByScore(ctx, q.key("retry"), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, err
	}
	moved := 0
	for _, member := range due {
		removed, err := q.client.ZRem(ctx, q.key("retry"), member).Result()
		if err != nil {
			return moved, err
		}
		if removed == 0 {
			continue
		}
		if err := q.client.LPush(ctx, q.key("messages"), member).Err(); err != nil {
			return moved, err
		}
		moved++
	}
	return moved, nil
}

func (q *RedisQueue) recoverInFlight(ctx context.Context) (int, error) {
	n := 0
	for {
		_, err := q.client.LMove(ctx, q.key("processing"), q.key("messages"), "RIGHT", "RIGHT").Result()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		n++
	}
}

func (q *RedisQueue) key(name string) string { return q.prefix + ":" + name }

var _ Enqueuer = (*RedisQueue)(nil)
