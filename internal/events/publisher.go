// Package events publishes session telemetry to Kafka: recognized
// transcripts on one topic, session lifecycle changes on another. With no
// brokers configured the publisher degrades to log-only mode, so local
// runs need no Kafka.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/mylee04/voicepilot/internal/observability/logging"
	"github.com/mylee04/voicepilot/internal/observability/metrics"
)

// TranscriptRecord is one recognized utterance or assistant reply.
type TranscriptRecord struct {
	SessionID  string    `json:"session_id"`
	Role       string    `json:"role"`
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence,omitempty"`
	Final      bool      `json:"final"`
	Timestamp  time.Time `json:"timestamp"`
}

// LifecycleRecord is one session lifecycle change.
type LifecycleRecord struct {
	SessionID string    `json:"session_id"`
	Kind      string    `json:"kind"` // started, ended, state, error
	From      string    `json:"from,omitempty"`
	To        string    `json:"to,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers          []string
	TopicTranscripts string
	TopicLifecycle   string
	Source           string
	Enabled          bool
}

// Publisher writes telemetry records to per-kind Kafka topics.
type Publisher struct {
	writerTranscripts *kafka.Writer
	writerLifecycle   *kafka.Writer
	source            string
	topicTranscripts  string
	topicLifecycle    string
	enabled           bool
	metrics           *metrics.Metrics
	logger            zerolog.Logger
}

// New creates a telemetry publisher. A nil config, Enabled=false, or an
// empty broker list all yield log-only mode.
func New(cfg *Config) *Publisher {
	logger := logging.WithComponent("events")
	m := metrics.Default

	if cfg == nil || !cfg.Enabled || len(cfg.Brokers) == 0 {
		logger.Info().Msg("Kafka disabled, using log-only mode")
		p := &Publisher{enabled: false, metrics: m, logger: logger}
		if cfg != nil {
			p.source = cfg.Source
			p.topicTranscripts = cfg.TopicTranscripts
			p.topicLifecycle = cfg.TopicLifecycle
		}
		return p
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
			RequiredAcks: kafka.RequireOne,
			Transport:    transport,
		}
	}

	logger.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicTranscripts", cfg.TopicTranscripts).
		Str("topicLifecycle", cfg.TopicLifecycle).
		Str("source", cfg.Source).
		Msg("Kafka publisher initialized")

	return &Publisher{
		writerTranscripts: newWriter(cfg.TopicTranscripts),
		writerLifecycle:   newWriter(cfg.TopicLifecycle),
		source:            cfg.Source,
		topicTranscripts:  cfg.TopicTranscripts,
		topicLifecycle:    cfg.TopicLifecycle,
		enabled:           true,
		metrics:           m,
		logger:            logger,
	}
}

// PublishTranscript publishes one transcript record, keyed by session so a
// session's utterances stay ordered within a partition.
func (p *Publisher) PublishTranscript(ctx context.Context, rec TranscriptRecord) error {
	return p.publish(ctx, p.writerTranscripts, p.topicTranscripts, "transcript", rec.SessionID, rec)
}

// PublishLifecycle publishes one lifecycle record.
func (p *Publisher) PublishLifecycle(ctx context.Context, rec LifecycleRecord) error {
	return p.publish(ctx, p.writerLifecycle, p.topicLifecycle, "lifecycle", rec.SessionID, rec)
}

func (p *Publisher) publish(ctx context.Context, writer *kafka.Writer, topic, eventType, key string, event any) error {
	start := time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return err
	}

	p.logger.Debug().
		Str("source", p.source).
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing event")

	if !p.enabled || writer == nil {
		p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
			{Key: "source", Value: []byte(p.source)},
		},
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error().
			Err(err).
			Str("topic", topic).
			Str("key", key).
			Msg("Failed to write to Kafka")
		p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
		return err
	}

	p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
	return nil
}

// Close closes both Kafka writers.
func (p *Publisher) Close() error {
	var err error
	if p.writerTranscripts != nil {
		if e := p.writerTranscripts.Close(); e != nil {
			p.logger.Error().Err(e).Msg("Error closing transcripts writer")
			err = e
		}
	}
	if p.writerLifecycle != nil {
		if e := p.writerLifecycle.Close(); e != nil {
			p.logger.Error().Err(e).Msg("Error closing lifecycle writer")
			err = e
		}
	}
	return err
}
