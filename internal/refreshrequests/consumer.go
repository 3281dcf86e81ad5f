package refreshrequests

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/quadtile-crawler/internal/core/observability"
	"github.com/mohammed-shakir/quadtile-crawler/internal/logger"
)

// Requester queues codes for refresh and returns how many it accepted.
type Requester interface {
	Request(codes ...string) int
}

type Config struct {
	Brokers             []string
	Topic               string
	GroupID             string
	CrawlZoom           int
	MaxTiles            int
	SessionTimeout      time.Duration
	Heartbeat           time.Duration
	RebalanceTimeout    time.Duration
	InitialOffsetOldest bool
	RetryDelay          time.Duration
}

func withDefaults(c Config) Config {
	if c.MaxTiles <= 0 {
		c.MaxTiles = 4096
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = 30 * time.Second
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = 3 * time.Second
	}
	if c.RebalanceTimeout <= 0 {
		c.RebalanceTimeout = 30 * time.Second
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 2 * time.Second
	}
	return c
}

type Consumer struct {
	cfg    Config
	log    *slog.Logger
	target Requester
	ver    *versionDedupe
}

func New(cfg Config, log *slog.Logger, target Requester) *Consumer {
	if log == nil {
		log = slog.Default()
	}
	return &Consumer{
		cfg:    withDefaults(cfg),
		log:    log,
		target: target,
		ver:    newVersionDedupe(8192),
	}
}

func (c *Consumer) saramaConfig() *sarama.Config {
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
	return cfg
}

// Run consumes requests until ctx ends. Broker errors are retried after
// RetryDelay.
func (c *Consumer) Run(ctx context.Context) error {
	if c.target == nil {
		return errors.New("refreshrequests: missing request target")
	}
	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, c.saramaConfig())
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() { _ = group.Close() }()

	ctx = logger.WithComponent(ctx, "refresh_requests")
	handler := &groupHandler{process: c.ProcessOne}
	c.log.InfoContext(ctx, "refresh request consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	for {
		if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil && ctx.Err() == nil {
			c.log.ErrorContext(ctx, "kafka consumer error", "brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "err", err)
			t := time.NewTimer(c.cfg.RetryDelay)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
			}
		}
		if ctx.Err() != nil {
			c.log.InfoContext(ctx, "refresh request consumer shutting down")
			return ctx.Err()
		}
	}
}

// ProcessOne decodes one message and queues its tiles.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	start := time.Now()

	var req Request
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		return c.reject(ctx, msg, start, fmt.Errorf("%w: json decode: %v", ErrInvalidRequest, err))
	}
	if err := req.Validate(); err != nil {
		return c.reject(ctx, msg, start, err)
	}
	if req.Key != "" && !c.ver.shouldApply(req.Key, req.Version) {
		observability.IncRefreshRequest("duplicate")
		c.log.DebugContext(ctx, "stale request version skipped", "key", req.Key, "version", req.Version)
		return nil
	}
	codes, err := req.Codes(c.cfg.CrawlZoom, c.cfg.MaxTiles)
	if err != nil {
		return c.reject(ctx, msg, start, err)
	}

	n := c.target.Request(codes...)
	res := "accepted"
	if n == 0 {
		res = "ignored"
	}
	observability.IncRefreshRequest(res)
	observability.ObserveUpstreamLatency("kafka_request", nil, time.Since(start).Seconds())
	c.log.InfoContext(ctx, "refresh requested",
		"key", req.Key, "tiles", len(codes), "queued", n,
		"partition", msg.Partition, "offset", msg.Offset)
	return nil
}

func (c *Consumer) reject(ctx context.Context, msg *sarama.ConsumerMessage, start time.Time, err error) error {
	observability.IncRefreshRequest("invalid")
	observability.ObserveUpstreamLatency("kafka_request", err, time.Since(start).Seconds())
	c.log.WarnContext(ctx, "refresh request rejected",
		"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
	return err
}
