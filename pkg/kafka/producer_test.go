package kafka

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProducerRequiresBrokers(t *testing.T) {
	_, err := NewProducer()
	require.Error(t, err)
}

func TestNewProducerRejectsUnknownCompression(t *testing.T) {
	_, err := NewProducer(WithBrokers([]string{"localhost:9092"}), WithCompression("brotli"))
	require.ErrorContains(t, err, "brotli")
}

func TestNewProducerBalancer(t *testing.T) {
	p, err := NewProducer(WithBrokers([]string{"localhost:9092"}), WithHashByKey(true), WithCompression("zstd"))
	require.NoError(t, err)
	defer p.Close()

	assert.IsType(t, &kafka.Hash{}, p.writer.Balancer)
	assert.Equal(t, kafka.Zstd, p.writer.Compression)
	assert.Equal(t, kafka.RequiredAcks(-1), p.writer.RequiredAcks)
}

func TestToRecords(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	records, size, err := toRecords("events", []Message{
		{Key: []byte("c1"), Value: map[string]int{"orb": 1}},
		{Value: []byte("raw"), Headers: map[string]string{"event_type": "conjunction"}},
	}, now)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "events", records[0].Topic)
	assert.Equal(t, []byte("c1"), records[0].Key)
	assert.JSONEq(t, `{"orb":1}`, string(records[0].Value))
	assert.Equal(t, []kafka.Header{{Key: "content-type", Value: []byte("application/json")}}, records[0].Headers)

	assert.Equal(t, []byte("raw"), records[1].Value)
	assert.Equal(t, []kafka.Header{{Key: "event_type", Value: []byte("conjunction")}}, records[1].Headers)
	assert.Equal(t, now, records[1].Time)
	assert.EqualValues(t, len(`{"orb":1}`)+3, size)
}

func TestToRecordsEncodeFailure(t *testing.T) {
	_, _, err := toRecords("events", []Message{{Value: make(chan int)}}, time.Now())
	var ute *json.UnsupportedTypeError
	assert.ErrorAs(t, err, &ute)
}
