package kafka

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"strconv"
	"sync"
	"time"

	applogger "AstroCal/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"
)

// MessageHandler handles the payloads of one topic.
type MessageHandler interface {
	Topic() string
	Handle(context.Context, []byte) error
}

type ConsumerOption func(*consumerSettings)

type consumerSettings struct {
	brokers    []string
	groupID    string
	fromLatest bool
	workers    int
	bufferSize int
	retryMax   int
	backoffMin time.Duration
	backoffMax time.Duration
	dlqTopic   string
	minBytes   int
	maxBytes   int
}

func WithConsumerBrokers(brokers []string) ConsumerOption {
	return func(s *consumerSettings) { s.brokers = brokers }
}

func WithConsumerGroupID(groupID string) ConsumerOption {
	return func(s *consumerSettings) { s.groupID = groupID }
}

// WithConsumerAutoOffsetReset picks where a new group starts: "earliest"
// (default) or "latest".
func WithConsumerAutoOffsetReset(reset string) ConsumerOption {
	return func(s *consumerSettings) { s.fromLatest = reset == "latest" }
}

func WithConsumerWorkers(n int) ConsumerOption {
	return func(s *consumerSettings) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithConsumerRetry sets how many times a failed message is retried and the
// exponential backoff range between attempts.
func WithConsumerRetry(max int, backoffMin, backoffMax time.Duration) ConsumerOption {
	return func(s *consumerSettings) {
		s.retryMax, s.backoffMin, s.backoffMax = max, backoffMin, backoffMax
	}
}

// WithConsumerDLQ routes messages that exhausted their retries to topic.
func WithConsumerDLQ(topic string) ConsumerOption {
	return func(s *consumerSettings) { s.dlqTopic = topic }
}

func WithConsumerFetch(minBytes, maxBytes int) ConsumerOption {
	return func(s *consumerSettings) { s.minBytes, s.maxBytes = minBytes, maxBytes }
}

// WithConsumerBufferSize bounds each worker's queue.
func WithConsumerBufferSize(n int) ConsumerOption {
	return func(s *consumerSettings) {
		if n > 0 {
			s.bufferSize = n
		}
	}
}

// Consumer reads every registered topic in one consumer group. Messages are
// sharded to workers by (topic, partition), so a partition is always
// handled by the same worker and its offsets are committed in order.
type Consumer struct {
	cfg      consumerSettings
	handlers map[string]MessageHandler
	readers  map[string]*kafka.Reader
	queues   []chan kafka.Message
	dlq      *kafka.Writer
	hook     ConsumerHook
	logger   *applogger.Logger
	metrics  *consumerMetrics

	cancel   context.CancelFunc
	group    *errgroup.Group
	stopOnce sync.Once
}

func NewConsumer(opts ...ConsumerOption) (*Consumer, error) {
	s := consumerSettings{
		groupID:    "astrocal",
		workers:    1,
		bufferSize: 10,
		retryMax:   3,
		backoffMin: 50 * time.Millisecond,
		backoffMax: 2 * time.Second,
		minBytes:   1,
		maxBytes:   10e6,
	}
	for _, opt := range opts {
		opt(&s)
	}
	if len(s.brokers) == 0 {
		return nil, errors.New("kafka consumer: brokers are required")
	}

	c := &Consumer{
		cfg:      s,
		handlers: make(map[string]MessageHandler),
		readers:  make(map[string]*kafka.Reader),
		hook:     NoopHook{},
		logger:   applogger.Nop(),
		metrics:  sharedConsumerMetrics(),
	}
	if s.dlqTopic != "" {
		c.dlq = &kafka.Writer{Addr: kafka.TCP(s.brokers...), Topic: s.dlqTopic, Balancer: &kafka.Hash{}}
	}
	return c, nil
}

func (c *Consumer) SetLogger(l *applogger.Logger) {
	if l != nil {
		c.logger = l
	}
}

// WithConsumerHook replaces the lifecycle hook. Call it before Start.
func (c *Consumer) WithConsumerHook(h ConsumerHook) {
	if h != nil {
		c.hook = h
	}
}

// RegisterHandler adds a topic. A second handler for the same topic is ignored.
func (c *Consumer) RegisterHandler(h MessageHandler) {
	topic := h.Topic()
	if _, dup := c.handlers[topic]; dup {
		c.logger.Warn("kafka consumer: duplicate handler ignored", applogger.String("topic", topic))
		return
	}
	c.handlers[topic] = h
}

// Start launches one fetch loop per topic and the worker pool. It returns
// immediately; Stop shuts everything down.
func (c *Consumer) Start() error {
	if len(c.handlers) == 0 {
		return errors.New("kafka consumer: no handlers registered")
	}
	startOffset := kafka.FirstOffset
	if c.cfg.fromLatest {
		startOffset = kafka.LastOffset
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	g, gctx := errgroup.WithContext(ctx)
	c.group = g

	c.queues = make([]chan kafka.Message, c.cfg.workers)
	for i := range c.queues {
		q := make(chan kafka.Message, c.cfg.bufferSize)
		c.queues[i] = q
		g.Go(func() error { return c.work(gctx, q) })
	}

	for topic := range c.handlers {
		r := kafka.NewReader(kafka.ReaderConfig{
			Brokers:     c.cfg.brokers,
			Topic:       topic,
			GroupID:     c.cfg.groupID,
			MinBytes:    c.cfg.minBytes,
			MaxBytes:    c.cfg.maxBytes,
			StartOffset: startOffset,
		})
		c.readers[topic] = r
		g.Go(func() error { return c.fetch(gctx, r) })
	}

	c.logger.Info("kafka consumer: started",
		applogger.Strings("topics", c.topics()),
		applogger.Int("workers", c.cfg.workers),
		applogger.String("group", c.cfg.groupID),
	)
	return nil
}

// Stop cancels fetching, waits for in-flight handlers up to ctx, then
// closes the readers and the DLQ writer.
func (c *Consumer) Stop(ctx context.Context) error {
	var err error
	c.stopOnce.Do(func() {
		if c.cancel == nil {
			return
		}
		c.cancel()

		done := make(chan struct{})
		go func() {
			_ = c.group.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			err = fmt.Errorf("kafka consumer: stop: %w", ctx.Err())
		}

		for topic, r := range c.readers {
			if cerr := r.Close(); cerr != nil {
				c.logger.Error("kafka consumer: close reader", applogger.String("topic", topic), applogger.Error(cerr))
			}
		}
		if c.dlq != nil {
			if cerr := c.dlq.Close(); cerr != nil {
				c.logger.Error("kafka consumer: close dlq writer", applogger.Error(cerr))
			}
		}
		c.logger.Info("kafka consumer: stopped")
	})
	return err
}

func (c *Consumer) topics() []string {
	out := make([]string, 0, len(c.handlers))
	for t := range c.handlers {
		out = append(out, t)
	}
	return out
}

func (c *Consumer) fetch(ctx context.Context, r *kafka.Reader) error {
	topic := r.Config().Topic
	for {
		km, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Warn("kafka consumer: fetch failed", applogger.String("topic", topic), applogger.Error(err))
			select {
			case <-time.After(c.cfg.backoffMin):
			case <-ctx.Done():
				return nil
			}
			continue
		}

		q := c.queues[shard(km.Topic, km.Partition, len(c.queues))]
		select {
		case q <- km:
			c.metrics.depth.WithLabelValues(topic).Set(float64(len(q)))
		case <-ctx.Done():
			return nil
		}
	}
}

func shard(topic string, partition, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(topic))
	_, _ = h.Write([]byte(strconv.Itoa(partition)))
	return int(h.Sum32() % uint32(n))
}

func (c *Consumer) work(ctx context.Context, q <-chan kafka.Message) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case km := <-q:
			c.process(ctx, km)
		}
	}
}

func (c *Consumer) process(ctx context.Context, km kafka.Message) {
	h, ok := c.handlers[km.Topic]
	if !ok {
		return
	}
	start := time.Now()
	attempts, err := c.handleWithRetry(ctx, h, km)
	if ctx.Err() != nil && err != nil {
		// Shutting down: leave the offset uncommitted so the message is redelivered.
		return
	}

	outcome := "ok"
	if err != nil {
		outcome = "failed"
		c.hook.OnError(context.Background(), km.Topic, km, km.Value, err)
		c.logger.Error("kafka consumer: handler failed",
			applogger.String("topic", km.Topic),
			applogger.Int("partition", km.Partition),
			applogger.Int64("offset", km.Offset),
			applogger.Int("attempts", attempts),
			applogger.Error(err),
		)
		if c.dlq != nil {
			c.toDLQ(km, err)
			outcome = "dead_lettered"
		}
	}
	c.metrics.handled.WithLabelValues(km.Topic, outcome).Inc()
	c.metrics.latency.WithLabelValues(km.Topic).Observe(time.Since(start).Seconds())

	// Failed messages without a DLQ are still committed; retrying a poison
	// message forever would stall the partition.
	if r := c.readers[km.Topic]; r != nil {
		c.commit(r, km)
	}
}

func (c *Consumer) handleWithRetry(ctx context.Context, h MessageHandler, km kafka.Message) (attempts int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v: %w", r, ErrPermanent)
		}
	}()
	for {
		attempts++
		hctx, hmsg, data, berr := c.hook.BeforeHandle(ctx, km.Topic, km, km.Value)
		if berr != nil {
			return attempts, berr
		}
		err = h.Handle(hctx, data)
		c.hook.AfterHandle(hctx, km.Topic, hmsg, data, err)
		if err == nil || errors.Is(err, ErrPermanent) || attempts > c.cfg.retryMax {
			return attempts, err
		}
		c.hook.OnError(hctx, km.Topic, hmsg, data, err)
		select {
		case <-time.After(backoffWithJitter(c.cfg.backoffMin, c.cfg.backoffMax, attempts)):
		case <-ctx.Done():
			return attempts, ctx.Err()
		}
	}
}

func (c *Consumer) toDLQ(km kafka.Message, cause error) {
	headers := append([]kafka.Header{
		{Key: "source_topic", Value: []byte(km.Topic)},
		{Key: "source_partition", Value: []byte(strconv.Itoa(km.Partition))},
		{Key: "source_offset", Value: []byte(strconv.FormatInt(km.Offset, 10))},
		{Key: "error", Value: []byte(cause.Error())},
	}, km.Headers...)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.dlq.WriteMessages(ctx, kafka.Message{Key: km.Key, Value: km.Value, Headers: headers}); err != nil {
		c.logger.Error("kafka consumer: dlq write failed", applogger.String("dlq", c.cfg.dlqTopic), applogger.Error(err))
	}
}

// commit runs detached from the consumer context so offsets of finished
// messages still land during shutdown.
func (c *Consumer) commit(r *kafka.Reader, km kafka.Message) {
	const attempts = 3
	var err error
	for i := 1; i <= attempts; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err = r.CommitMessages(ctx, km)
		cancel()
		if err == nil {
			return
		}
		time.Sleep(backoffWithJitter(50*time.Millisecond, 500*time.Millisecond, i))
	}
	c.logger.Error("kafka consumer: commit failed",
		applogger.String("topic", km.Topic),
		applogger.Int64("offset", km.Offset),
		applogger.Error(err),
	)
}

// backoffWithJitter doubles min per attempt up to max and subtracts up to
// half of it at random.
func backoffWithJitter(min, max time.Duration, attempt int) time.Duration {
	if min <= 0 {
		min = 50 * time.Millisecond
	}
	if max < min {
		max = min
	}
	if attempt < 1 {
		attempt = 1
	}
	d := max
	if attempt < 32 {
		if exp := min << uint(attempt-1); exp > 0 && exp < max {
			d = exp
		}
	}
	if half := int64(d) / 2; half > 0 {
		d -= time.Duration(rand.Int63n(half))
	}
	return d
}

type consumerMetrics struct {
	depth   *prometheus.GaugeVec
	handled *prometheus.CounterVec
	latency *prometheus.HistogramVec
}

var (
	consumerMetricsOnce sync.Once
	consumerMetricsInst *consumerMetrics
)

func sharedConsumerMetrics() *consumerMetrics {
	consumerMetricsOnce.Do(func() {
		consumerMetricsInst = &consumerMetrics{
			depth: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: "astrocal_kafka_consumer_queue_depth",
				Help: "Messages waiting in the worker queue a topic last fed",
			}, []string{"topic"}),
			handled: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "astrocal_kafka_consumer_messages_total",
				Help: "Messages handled by topic and outcome",
			}, []string{"topic", "outcome"}),
			latency: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "astrocal_kafka_consumer_handle_seconds",
				Help:    "Handling time per message including retries",
				Buckets: prometheus.DefBuckets,
			}, []string{"topic"}),
		}
	})
	return consumerMetricsInst
}
