// Package ingest evaluates access events streamed from Kafka and publishes
// the verdicts to a result topic.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/logsentinel/sentinel/internal/api"
	"github.com/logsentinel/sentinel/internal/config"
	"github.com/logsentinel/sentinel/internal/metrics"
	"github.com/logsentinel/sentinel/internal/models"
	"github.com/logsentinel/sentinel/internal/utils"
)

// Evaluator runs detection for one wire event.
type Evaluator interface {
	Evaluate(ctx context.Context, req models.EventRequest) (*models.EvaluationResult, error)
}

// Publisher emits an encoded verdict keyed by source.
type Publisher interface {
	Publish(ctx context.Context, key, value []byte) error
}

// Verdict is the record written to the result topic.
type Verdict struct {
	CaseID         string  `json:"case_id"`
	SourceID       string  `json:"ip_address"`
	ThreatLevel    string  `json:"threat_level"`
	ConsensusScore float64 `json:"consensus_score"`
	Whitelisted    bool    `json:"whitelisted"`
	Timestamp      string  `json:"timestamp"`
}

// NewVerdict condenses an evaluation into its published form.
func NewVerdict(res *models.EvaluationResult) Verdict {
	return Verdict{
		CaseID:         res.CaseID,
		SourceID:       res.Event.SourceID,
		ThreatLevel:    res.ThreatLevel.String(),
		ConsensusScore: res.ConsensusScore,
		Whitelisted:    res.Whitelisted,
		Timestamp:      res.EvaluatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// NewClient builds a group consumer for cfg.Topic that produces to
// cfg.ResultTopic by default.
func NewClient(cfg config.KafkaConfig) (*kgo.Client, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.ConsumerGroup(cfg.Group),
	}
	if cfg.ResultTopic != "" {
		opts = append(opts, kgo.DefaultProduceTopic(cfg.ResultTopic))
	}
	cl, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return cl, nil
}

// KafkaPublisher writes verdicts synchronously to one topic.
type KafkaPublisher struct {
	client *kgo.Client
	topic  string
}

// NewKafkaPublisher constructs a publisher on an existing client.
func NewKafkaPublisher(client *kgo.Client, topic string) *KafkaPublisher {
	return &KafkaPublisher{client: client, topic: topic}
}

// Publish produces one record and waits for the broker ack.
func (p *KafkaPublisher) Publish(ctx context.Context, key, value []byte) error {
	record := &kgo.Record{Topic: p.topic, Key: key, Value: value, Timestamp: time.Now()}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce to %s: %w", p.topic, err)
	}
	return nil
}

// Consumer polls access events and feeds them through the evaluator. A bad
// record is logged and counted, never fatal to the loop.
type Consumer struct {
	client    *kgo.Client
	evaluator Evaluator
	publisher Publisher
	logger    *slog.Logger
}

// NewConsumer wires a consumer. publisher may be nil to evaluate without
// publishing.
func NewConsumer(client *kgo.Client, evaluator Evaluator, publisher Publisher, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{client: client, evaluator: evaluator, publisher: publisher, logger: logger}
}

// Run polls until ctx is cancelled or the client is closed.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("kafka consumer started")
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			c.logger.Info("kafka consumer stopped")
			return ctx.Err()
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			c.logger.Warn("kafka fetch error",
				slog.String("topic", topic),
				slog.Int("partition", int(partition)),
				slog.Any("error", err))
		})
		fetches.EachRecord(func(record *kgo.Record) {
			if err := c.HandleRecord(ctx, record); err != nil {
				c.logger.Warn("kafka record rejected",
					slog.String("topic", record.Topic),
					slog.Int64("offset", record.Offset),
					slog.Any("error", err))
			}
		})
	}
}

// HandleRecord decodes, evaluates and publishes a single record.
func (c *Consumer) HandleRecord(ctx context.Context, record *kgo.Record) error {
	var req models.EventRequest
	if err := api.DecodeJSON(bytes.NewReader(record.Value), &req); err != nil {
		metrics.ObserveIngest(metrics.OutcomeInvalid)
		return fmt.Errorf("decode event: %w", err)
	}

	res, err := c.evaluator.Evaluate(ctx, req)
	if err != nil {
		outcome := metrics.OutcomeError
		if _, ok := utils.AsValidation(err); ok {
			outcome = metrics.OutcomeInvalid
		}
		metrics.ObserveIngest(outcome)
		return fmt.Errorf("evaluate event: %w", err)
	}

	if c.publisher != nil {
		value, err := json.Marshal(NewVerdict(res))
		if err != nil {
			metrics.ObserveIngest(metrics.OutcomeError)
			return fmt.Errorf("encode verdict: %w", err)
		}
		if err := c.publisher.Publish(ctx, []byte(res.Event.SourceID), value); err != nil {
			metrics.ObserveIngest(metrics.OutcomeError)
			return fmt.Errorf("publish verdict: %w", err)
		}
	}

	metrics.ObserveIngest(metrics.OutcomeSuccess)
	c.logger.Debug("kafka record evaluated",
		slog.String("case_id", res.CaseID),
		slog.String("threat_level", res.ThreatLevel.String()))
	return nil
}
