package invalidation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/l0p7/pricefeed/internal/handle"
)

// KafkaConfig selects the mutation-event stream.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	Group   string
}

// Enabled reports whether a consumer should be started.
func (c KafkaConfig) Enabled() bool {
	return len(c.Brokers) > 0 && strings.TrimSpace(c.Topic) != ""
}

// MutationEvent is published by every path that changes a tenant's export rows.
type MutationEvent struct {
	PublicHandle string `json:"publicHandle"`
	Reason       string `json:"reason"`
}

// Consumer turns mutation events into invalidations.
type Consumer struct {
	client  *kgo.Client
	service *Service
	logger  *slog.Logger
}

// NewConsumer joins the configured consumer group.
func NewConsumer(cfg KafkaConfig, service *Service, logger *slog.Logger) (*Consumer, error) {
	if !cfg.Enabled() {
		return nil, errors.New("invalidation: kafka brokers and topic are required")
	}
	group := strings.TrimSpace(cfg.Group)
	if group == "" {
		group = "pricefeed-invalidation"
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(group),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.ClientID("pricefeed"),
	)
	if err != nil {
		return nil, fmt.Errorf("invalidation: kafka client: %w", err)
	}
	return newConsumer(client, service, logger), nil
}

func newConsumer(client *kgo.Client, service *Service, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		client:  client,
		service: service,
		logger:  logger.With(slog.String("agent", "mutation_consumer")),
	}
}

// Run polls until ctx is cancelled or the client is closed. Offsets are
// committed by the client, so a handler failure never causes redelivery.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return nil
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			c.logger.Warn("kafka fetch failed",
				slog.String("topic", topic),
				slog.Int("partition", int(partition)),
				slog.Any("error", err),
			)
		})
		fetches.EachRecord(func(record *kgo.Record) {
			_ = c.Handle(ctx, record)
		})
	}
}

// Handle processes one record. Malformed events are logged and skipped.
func (c *Consumer) Handle(ctx context.Context, record *kgo.Record) error {
	var event MutationEvent
	if err := json.Unmarshal(record.Value, &event); err != nil {
		c.logger.Warn("skipping malformed mutation event",
			slog.String("topic", record.Topic),
			slog.Int64("offset", record.Offset),
			slog.Any("error", err),
		)
		return nil
	}
	h, err := handle.Parse(event.PublicHandle)
	if err != nil {
		c.logger.Warn("skipping mutation event with invalid handle",
			slog.String("topic", record.Topic),
			slog.Int64("offset", record.Offset),
		)
		return nil
	}
	if err := c.service.Invalidate(ctx, h, SourceKafka); err != nil {
		c.logger.Warn("invalidation from mutation event failed",
			slog.String("client_id", h.Masked()),
			slog.String("reason", event.Reason),
			slog.Any("error", err),
		)
		return err
	}
	c.logger.Debug("mutation event applied",
		slog.String("client_id", h.Masked()),
		slog.String("reason", event.Reason),
	)
	return nil
}

// Close leaves the group and releases the client.
func (c *Consumer) Close() {
	if c == nil || c.client == nil {
		return
	}
	c.client.Close()
}
