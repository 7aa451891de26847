package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Publisher ships aggregated entries, e.g. to a Kafka topic.
type Publisher interface {
	PublishMessage(ctx context.Context, topic string, payload interface{}) error
}

type CollectionConfig struct {
	TimeInterval   time.Duration // flush period, default 30s
	CountThreshold int           // distinct entries that force an early flush, default 100
	MinLevel       string        // lowest collected level, default error
	Topic          string
	Publisher      Publisher
	PublishTimeout time.Duration // default 10s
	ErrorOutput    io.Writer     // where publish failures go, default stderr
}

// AggregatedLogEntry is one distinct (level, message, fields, caller)
// tuple with the number of times it was seen in the flush window.
type AggregatedLogEntry struct {
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Caller    string                 `json:"caller"`
	Count     int                    `json:"count"`
	FirstSeen time.Time              `json:"first_seen"`
	LastSeen  time.Time              `json:"last_seen"`
}

// LogCollector deduplicates entries in memory and publishes them from a
// single goroutine, on a timer or when the window fills up.
type LogCollector struct {
	cfg      CollectionConfig
	minLevel zerolog.Level

	mu      sync.Mutex
	entries map[uint64]*AggregatedLogEntry

	kick      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewLogCollector(cfg *CollectionConfig) *LogCollector {
	c := &LogCollector{
		cfg:      *cfg,
		minLevel: zerolog.ErrorLevel,
		entries:  make(map[uint64]*AggregatedLogEntry),
		kick:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	if c.cfg.TimeInterval <= 0 {
		c.cfg.TimeInterval = 30 * time.Second
	}
	if c.cfg.CountThreshold <= 0 {
		c.cfg.CountThreshold = 100
	}
	if c.cfg.PublishTimeout <= 0 {
		c.cfg.PublishTimeout = 10 * time.Second
	}
	if c.cfg.ErrorOutput == nil {
		c.cfg.ErrorOutput = os.Stderr
	}
	if lv, err := zerolog.ParseLevel(c.cfg.MinLevel); err == nil && c.cfg.MinLevel != "" {
		c.minLevel = lv
	}

	c.wg.Add(1)
	go c.run()
	return c
}

func (c *LogCollector) AddLog(level, message string, fields map[string]interface{}, caller string) {
	now := time.Now()
	key := entryKey(level, message, fields, caller)

	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		e.Count++
		e.LastSeen = now
	} else {
		c.entries[key] = &AggregatedLogEntry{
			Level: level, Message: message, Fields: fields, Caller: caller,
			Count: 1, FirstSeen: now, LastSeen: now,
		}
	}
	full := len(c.entries) >= c.cfg.CountThreshold
	c.mu.Unlock()

	if full {
		select {
		case c.kick <- struct{}{}:
		default:
		}
	}
}

// Close publishes whatever is pending and stops the flush goroutine.
func (c *LogCollector) Close() {
	c.closeOnce.Do(func() { close(c.done) })
	c.wg.Wait()
}

func (c *LogCollector) run() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.TimeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.flush()
		case <-c.kick:
			c.flush()
		case <-c.done:
			c.flush()
			return
		}
	}
}

func (c *LogCollector) flush() {
	batch := c.drain()
	if len(batch) == 0 || c.cfg.Publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.PublishTimeout)
	defer cancel()
	if err := c.cfg.Publisher.PublishMessage(ctx, c.cfg.Topic, batch); err != nil {
		fmt.Fprintf(c.cfg.ErrorOutput, "log collector: publish %d entries to %s: %v\n", len(batch), c.cfg.Topic, err)
	}
}

func (c *LogCollector) drain() []AggregatedLogEntry {
	c.mu.Lock()
	pending := c.entries
	c.entries = make(map[uint64]*AggregatedLogEntry, len(pending))
	c.mu.Unlock()

	batch := make([]AggregatedLogEntry, 0, len(pending))
	for _, e := range pending {
		batch = append(batch, *e)
	}
	sort.Slice(batch, func(i, j int) bool { return batch[i].FirstSeen.Before(batch[j].FirstSeen) })
	return batch
}

// entryKey hashes the identifying tuple. json.Marshal sorts map keys so
// equal field sets hash equally.
func entryKey(level, message string, fields map[string]interface{}, caller string) uint64 {
	h := fnv.New64a()
	_, _ = io.WriteString(h, level)
	_, _ = h.Write([]byte{0})
	_, _ = io.WriteString(h, message)
	_, _ = h.Write([]byte{0})
	_, _ = io.WriteString(h, caller)
	_, _ = h.Write([]byte{0})
	if len(fields) > 0 {
		b, err := json.Marshal(fields)
		if err != nil {
			b = []byte(fmt.Sprint(fields))
		}
		_, _ = h.Write(b)
	}
	return h.Sum64()
}
