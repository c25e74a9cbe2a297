// Package kafka publishes located segments to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"firestige.xyz/tcpseg/internal/sink"
)

const Name = "kafka"

const (
	defaultBatchSize    = 100
	defaultBatchTimeout = 100 * time.Millisecond
	defaultCompression  = "snappy"
	defaultMaxAttempts  = 3
)

var _ sink.Sink = (*Sink)(nil)

// Config configures the Kafka sink.
type Config struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
	Compression  string // none|gzip|snappy|lz4|zstd
	MaxAttempts  int
}

func (c *Config) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = defaultBatchTimeout
	}
	if c.Compression == "" {
		c.Compression = defaultCompression
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Sink encodes every record as JSON and writes it to Kafka in batches of
// Config.BatchSize. Flush writes the remainder and closes the writer, so a
// Sink serves a single run.
type Sink struct {
	cfg     Config
	writer  messageWriter
	pending []kafka.Message
	closed  bool
}

// NewSink validates cfg and creates the underlying writer. No connection is
// made until the first batch is written.
func NewSink(cfg Config) (*Sink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka sink requires at least one broker")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka sink requires a topic")
	}
	cfg.applyDefaults()

	codec, err := compressionCodec(cfg.Compression)
	if err != nil {
		return nil, err
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		MaxAttempts:  cfg.MaxAttempts,
		Compression:  codec,
		ErrorLogger:  kafka.LoggerFunc(logrus.WithField("sink", Name).Errorf),
	}
	return newSink(cfg, w), nil
}

func newSink(cfg Config, w messageWriter) *Sink {
	return &Sink{
		cfg:     cfg,
		writer:  w,
		pending: make([]kafka.Message, 0, cfg.BatchSize),
	}
}

func compressionCodec(name string) (kafka.Compression, error) {
	switch name {
	case "none":
		return 0, nil
	case "gzip":
		return kafka.Gzip, nil
	case "snappy":
		return kafka.Snappy, nil
	case "lz4":
		return kafka.Lz4, nil
	case "zstd":
		return kafka.Zstd, nil
	default:
		return 0, fmt.Errorf("invalid compression type: %s", name)
	}
}

func (s *Sink) Name() string { return Name }

// Emit queues rec and writes the queue once it holds a full batch.
func (s *Sink) Emit(ctx context.Context, rec sink.Record) error {
	if s.closed {
		return errors.New("kafka sink is closed")
	}
	msg, err := message(rec)
	if err != nil {
		return fmt.Errorf("serialize segment failed: %w", err)
	}
	s.pending = append(s.pending, msg)
	if len(s.pending) < s.cfg.BatchSize {
		return nil
	}
	return s.writePending(ctx)
}

// Flush writes queued messages and closes the writer. Messages that still
// cannot be written are dropped with the returned error.
func (s *Sink) Flush(ctx context.Context) error {
	if s.closed {
		return nil
	}
	s.closed = true
	writeErr := s.writePending(ctx)
	return errors.Join(writeErr, s.writer.Close())
}

// writePending sends the queued messages. On failure they stay queued and
// are retried with the next full batch or by Flush.
func (s *Sink) writePending(ctx context.Context) error {
	if len(s.pending) == 0 {
		return nil
	}
	if err := s.writer.WriteMessages(ctx, s.pending...); err != nil {
		return fmt.Errorf("kafka write failed (%d messages queued): %w", len(s.pending), err)
	}
	s.pending = make([]kafka.Message, 0, s.cfg.BatchSize)
	return nil
}

// message keys by port pair so both directions of a flow share a partition.
func message(rec sink.Record) (kafka.Message, error) {
	v := sink.ViewOf(rec)
	value, err := json.Marshal(v)
	if err != nil {
		return kafka.Message{}, err
	}
	lo, hi := v.SrcPort, v.DstPort
	if lo > hi {
		lo, hi = hi, lo
	}
	return kafka.Message{
		Key:   []byte(strconv.Itoa(int(lo)) + "-" + strconv.Itoa(int(hi))),
		Value: value,
		Time:  rec.Timestamp,
		Headers: []kafka.Header{
			{Key: "ip_version", Value: []byte(v.Version)},
			{Key: "flags", Value: []byte(v.Flags)},
		},
	}, nil
}
