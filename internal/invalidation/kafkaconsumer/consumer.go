// Package kafkaconsumer applies invalidation events from a Kafka topic.
package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/coordinate-info/internal/cache"
	obs "github.com/mohammed-shakir/coordinate-info/internal/core/observability"
	"github.com/mohammed-shakir/coordinate-info/internal/invalidation"
	mylog "github.com/mohammed-shakir/coordinate-info/internal/logger"
)

type EpochBumper interface {
	Bump(endpoint string) uint64
}

const purgeTimeout = 2 * time.Second

type Consumer struct {
	cfg      Config
	logger   *slog.Logger
	epochs   EpochBumper
	purger   cache.Purger
	dedupe   *invalidation.VersionDedupe
	assigned atomic.Bool
}

func New(cfg Config, logger *slog.Logger, epochs EpochBumper) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		cfg:    cfg,
		logger: logger.With("component", "kafka_consumer"),
		epochs: epochs,
		dedupe: invalidation.NewVersionDedupe(cfg.DedupeSize),
	}
}

// WithPurger also drops the endpoint's stored responses after each epoch bump
func (c *Consumer) WithPurger(p cache.Purger) *Consumer {
	c.purger = p
	return c
}

// Ready reports whether the group currently has partitions assigned
func (c *Consumer) Ready(context.Context) error {
	if !c.assigned.Load() {
		return errors.New("invalidation consumer has no partitions assigned")
	}
	return nil
}

// Start consumes until ctx is done.
func (c *Consumer) Start(ctx context.Context) error {
	if c.epochs == nil {
		return errors.New("kafkaconsumer: missing epoch store")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.InitialOffsetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() { _ = group.Close() }()

	handler := c.handler()

	c.logger.Info("kafka invalidation consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("kafka invalidation consumer shutting down")
			return nil
		default:
			if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil {
				obs.IncInvalidation("consume_error")
				c.logger.Error("kafka consumer error", "err", err, "topic", c.cfg.Topic)
				select {
				case <-ctx.Done():
				case <-time.After(2 * time.Second):
				}
			}
		}
	}
}

func (c *Consumer) handler() *groupHandler {
	return &groupHandler{process: c.ProcessOne, onAssigned: c.assigned.Store}
}

// ProcessOne decodes and applies one event. Undecodable or invalid events are
// logged and skipped so they do not block the partition.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	ctx = mylog.WithComponent(ctx, "kafka_consumer")

	var ev invalidation.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		obs.IncInvalidation("decode_error")
		c.logger.ErrorContext(ctx, "invalidation event decode failed",
			"err", err, "topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset)
		return nil
	}
	if err := ev.Validate(); err != nil {
		obs.IncInvalidation("invalid")
		c.logger.WarnContext(ctx, "invalidation event rejected",
			"err", err, "partition", msg.Partition, "offset", msg.Offset)
		return nil
	}

	endpoint := ev.EndpointKey()
	if !c.dedupe.ShouldApply(endpoint, ev.Version) {
		obs.IncInvalidation("duplicate")
		c.logger.DebugContext(ctx, "invalidation event already applied",
			"endpoint", endpoint, "version", ev.Version)
		return nil
	}

	epoch := c.epochs.Bump(endpoint)
	obs.IncInvalidation("applied")
	c.logger.InfoContext(ctx, "feature-info cache invalidated",
		"endpoint", endpoint, "layer", ev.Layer, "op", ev.Op,
		"version", ev.Version, "epoch", epoch)

	if c.purger != nil {
		pctx, cancel := context.WithTimeout(ctx, purgeTimeout)
		n, err := c.purger.PurgeEndpoint(pctx, endpoint)
		cancel()
		if err != nil {
			// entries of the old epoch are unreachable anyway and expire by ttl
			c.logger.WarnContext(ctx, "purge of stale responses failed", "endpoint", endpoint, "err", err)
		} else {
			c.logger.DebugContext(ctx, "stale responses purged", "endpoint", endpoint, "count", n)
		}
	}
	return nil
}
