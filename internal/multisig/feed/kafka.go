package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"veridian/internal/multisig/metrics"
	"veridian/internal/multisig/models"
)

// KafkaConfig addresses the notification topic.
type KafkaConfig struct {
	Brokers     []string
	Topic       string
	Group       string
	EnsureTopic bool
	Partitions  int32
}

// KafkaSource consumes JSON notifications from a topic with a consumer
// group. Offsets are committed after each fetched batch is applied.
type KafkaSource struct {
	client  *kgo.Client
	cfg     KafkaConfig
	router  Router
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type KafkaOption func(*KafkaSource)

func WithKafkaLogger(logger *slog.Logger) KafkaOption {
	return func(s *KafkaSource) {
		s.logger = logger
	}
}

func WithKafkaMetrics(m *metrics.Metrics) KafkaOption {
	return func(s *KafkaSource) {
		s.metrics = m
	}
}

func NewKafkaSource(cfg KafkaConfig, r Router, opts ...KafkaOption) (*KafkaSource, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" || cfg.Group == "" {
		return nil, errors.New("kafka source needs brokers, topic and group")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.Group),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	s := &KafkaSource{
		client: client,
		cfg:    cfg,
		router: r,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// EnsureTopic creates the topic if it does not exist.
func (s *KafkaSource) EnsureTopic(ctx context.Context) error {
	partitions := s.cfg.Partitions
	if partitions <= 0 {
		partitions = 1
	}
	adm := kadm.NewClient(s.client)
	resp, err := adm.CreateTopics(ctx, partitions, -1, nil, s.cfg.Topic)
	if err != nil {
		return fmt.Errorf("create topic: %w", err)
	}
	for _, t := range resp {
		if t.Err != nil && !errors.Is(t.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", t.Topic, t.Err)
		}
	}
	return nil
}

// Run consumes until ctx is canceled.
func (s *KafkaSource) Run(ctx context.Context) error {
	if s.cfg.EnsureTopic {
		if err := s.EnsureTopic(ctx); err != nil {
			return err
		}
	}
	for {
		fetches := s.client.PollFetches(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if fetches.IsClientClosed() {
			return nil
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			s.logger.WarnContext(ctx, "kafka fetch error",
				"topic", topic,
				"partition", partition,
				"error", err,
			)
		})

		applied := 0
		fetches.EachRecord(func(rec *kgo.Record) {
			s.handle(ctx, rec)
			applied++
		})
		if applied == 0 {
			continue
		}
		s.router.RetryPending(ctx)
		if err := s.client.CommitUncommittedOffsets(ctx); err != nil {
			s.logger.WarnContext(ctx, "kafka offset commit failed", "error", err)
		}
	}
}

func (s *KafkaSource) handle(ctx context.Context, rec *kgo.Record) {
	var n models.InboundNotification
	if err := json.Unmarshal(rec.Value, &n); err != nil {
		// Poison records are skipped so the partition keeps moving.
		s.metrics.IncrementNotification("undecodable", "rejected")
		s.logger.WarnContext(ctx, "undecodable notification record",
			"topic", rec.Topic,
			"partition", rec.Partition,
			"offset", rec.Offset,
			"error", err,
		)
		return
	}
	if n.ReceivedAt.IsZero() {
		n.ReceivedAt = rec.Timestamp
	}
	outcome := s.router.Apply(ctx, n)
	s.logger.DebugContext(ctx, "notification consumed",
		"notification_id", n.Identity(),
		"route", n.Route,
		"outcome", outcome,
		"offset", rec.Offset,
	)
}

// Client exposes the underlying client, for producers sharing the
// connection.
func (s *KafkaSource) Client() *kgo.Client {
	return s.client
}

func (s *KafkaSource) Close() {
	s.client.Close()
}
