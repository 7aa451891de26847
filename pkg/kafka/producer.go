package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
)

type ProducerOption func(*producerSettings)

type producerSettings struct {
	brokers      []string
	requiredAcks int
	compression  string
	maxAttempts  int
	writeTimeout time.Duration
	readTimeout  time.Duration
	batchSize    int
	batchBytes   int
	batchTimeout time.Duration
	async        bool
	hashByKey    bool
}

func WithBrokers(brokers []string) ProducerOption {
	return func(s *producerSettings) { s.brokers = brokers }
}

// WithCompression accepts gzip, snappy, lz4 or zstd.
func WithCompression(codec string) ProducerOption {
	return func(s *producerSettings) { s.compression = codec }
}

// WithRequiredAcks sets the acks level; -1 waits for all in-sync replicas.
func WithRequiredAcks(acks int) ProducerOption {
	return func(s *producerSettings) { s.requiredAcks = acks }
}

func WithMaxAttempts(n int) ProducerOption {
	return func(s *producerSettings) { s.maxAttempts = n }
}

func WithBatchSize(n int) ProducerOption {
	return func(s *producerSettings) { s.batchSize = n }
}

func WithBatchBytes(n int) ProducerOption {
	return func(s *producerSettings) { s.batchBytes = n }
}

// WithBatchTimeout is the linger before a partial batch is flushed.
func WithBatchTimeout(d time.Duration) ProducerOption {
	return func(s *producerSettings) { s.batchTimeout = d }
}

func WithTimeouts(write, read time.Duration) ProducerOption {
	return func(s *producerSettings) { s.writeTimeout, s.readTimeout = write, read }
}

// WithAsync makes writes fire-and-forget; errors then only reach metrics.
func WithAsync(async bool) ProducerOption {
	return func(s *producerSettings) { s.async = async }
}

// WithHashByKey routes equal keys to one partition so they keep their order.
func WithHashByKey(hash bool) ProducerOption {
	return func(s *producerSettings) { s.hashByKey = hash }
}

// Message is one record of a batch. Non-byte values are JSON encoded.
type Message struct {
	Key     []byte
	Value   interface{}
	Headers map[string]string
}

// Producer writes JSON records through a kafka-go Writer.
type Producer struct {
	writer      *kafka.Writer
	compression string
	metrics     *producerMetrics
}

func NewProducer(opts ...ProducerOption) (*Producer, error) {
	s := &producerSettings{
		requiredAcks: -1,
		compression:  "gzip",
		maxAttempts:  3,
		writeTimeout: 10 * time.Second,
		readTimeout:  10 * time.Second,
		batchSize:    100,
		batchBytes:   1 << 20,
		batchTimeout: 50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	if len(s.brokers) == 0 {
		return nil, errors.New("kafka producer: brokers are required")
	}
	codec, err := compressionCodec(s.compression)
	if err != nil {
		return nil, err
	}

	var balancer kafka.Balancer = &kafka.LeastBytes{}
	if s.hashByKey {
		balancer = &kafka.Hash{}
	}
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(s.brokers...),
			Balancer:     balancer,
			RequiredAcks: kafka.RequiredAcks(s.requiredAcks),
			Compression:  codec,
			MaxAttempts:  s.maxAttempts,
			WriteTimeout: s.writeTimeout,
			ReadTimeout:  s.readTimeout,
			BatchSize:    s.batchSize,
			BatchBytes:   int64(s.batchBytes),
			BatchTimeout: s.batchTimeout,
			Async:        s.async,
		},
		compression: s.compression,
		metrics:     sharedProducerMetrics(),
	}, nil
}

// Publish writes one record.
func (p *Producer) Publish(ctx context.Context, topic string, key []byte, value interface{}) error {
	return p.PublishBatch(ctx, topic, []Message{{Key: key, Value: value}})
}

// PublishMessage writes an unkeyed record; it satisfies the log collector's
// publisher.
func (p *Producer) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	return p.Publish(ctx, topic, nil, payload)
}

// PublishBatch writes all messages in one call; kafka-go splits them into
// batches per partition.
func (p *Producer) PublishBatch(ctx context.Context, topic string, messages []Message) error {
	if len(messages) == 0 {
		return nil
	}
	records, size, err := toRecords(topic, messages, time.Now())
	if err != nil {
		return err
	}

	start := time.Now()
	err = p.writer.WriteMessages(ctx, records...)
	p.metrics.observe(topic, p.compression, size, len(records), time.Since(start), err)
	if err != nil {
		return fmt.Errorf("publish %d record(s) to %s: %w", len(records), topic, err)
	}
	return nil
}

// Close flushes pending async writes.
func (p *Producer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

func toRecords(topic string, messages []Message, now time.Time) ([]kafka.Message, int64, error) {
	records := make([]kafka.Message, 0, len(messages))
	var size int64
	for i, m := range messages {
		value, isJSON, err := encodeValue(m.Value)
		if err != nil {
			return nil, 0, fmt.Errorf("encode record %d for %s: %w", i, topic, err)
		}
		headers := make([]kafka.Header, 0, len(m.Headers)+1)
		if isJSON {
			headers = append(headers, kafka.Header{Key: "content-type", Value: []byte("application/json")})
		}
		for k, v := range m.Headers {
			headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
		}
		records = append(records, kafka.Message{Topic: topic, Key: m.Key, Value: value, Headers: headers, Time: now})
		size += int64(len(value))
	}
	return records, size, nil
}

func encodeValue(v interface{}) ([]byte, bool, error) {
	switch val := v.(type) {
	case []byte:
		return val, false, nil
	case json.RawMessage:
		return val, true, nil
	default:
		b, err := json.Marshal(v)
		return b, true, err
	}
}

func compressionCodec(name string) (kafka.Compression, error) {
	switch name {
	case "", "gzip":
		return kafka.Gzip, nil
	case "snappy":
		return kafka.Snappy, nil
	case "lz4":
		return kafka.Lz4, nil
	case "zstd":
		return kafka.Zstd, nil
	}
	return 0, fmt.Errorf("kafka producer: unknown compression %q", name)
}

type producerMetrics struct {
	records *prometheus.CounterVec
	bytes   *prometheus.CounterVec
	latency *prometheus.HistogramVec
}

var (
	producerMetricsOnce sync.Once
	producerMetricsInst *producerMetrics
)

func sharedProducerMetrics() *producerMetrics {
	producerMetricsOnce.Do(func() {
		producerMetricsInst = &producerMetrics{
			records: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "astrocal_kafka_producer_records_total",
				Help: "Records written to Kafka by topic and result",
			}, []string{"topic", "compression", "result"}),
			bytes: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "astrocal_kafka_producer_bytes_total",
				Help: "Encoded payload bytes written to Kafka",
			}, []string{"topic"}),
			latency: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "astrocal_kafka_producer_write_seconds",
				Help:    "WriteMessages latency",
				Buckets: prometheus.DefBuckets,
			}, []string{"topic"}),
		}
	})
	return producerMetricsInst
}

func (m *producerMetrics) observe(topic, compression string, size int64, n int, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.records.WithLabelValues(topic, compression, result).Add(float64(n))
	if err == nil {
		m.bytes.WithLabelValues(topic).Add(float64(size))
	}
	m.latency.WithLabelValues(topic).Observe(d.Seconds())
}
