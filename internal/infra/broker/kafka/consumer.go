package kafka

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
)

type MessageHandler interface {
	Handle(ctx context.Context, msg *sarama.ConsumerMessage) error
}

type ConsumerConfig struct {
	Brokers []string
	GroupID string
	// Sarama overrides the client settings; nil uses sarama.NewConfig.
	Sarama  *sarama.Config
	Handler MessageHandler
	// Backoff lists pauses before rejoining after consecutive failed sessions; the last one
	// repeats. Defaults to one second.
	Backoff []time.Duration
	Logger  *slog.Logger
}

// Consumer feeds a consumer group into a MessageHandler. A failing message is logged and
// skipped; a failing session is retried until the context ends.
type Consumer struct {
	group   sarama.ConsumerGroup
	handler MessageHandler
	backoff []time.Duration
	logger  *slog.Logger
}

func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	if cfg.Handler == nil {
		return nil, errors.New("kafka: consumer handler is required")
	}
	sc := cfg.Sarama
	if sc == nil {
		sc = sarama.NewConfig()
	}
	sc.Version = sarama.V2_5_0_0
	sc.Consumer.Return.Errors = true
	// realtime relays only care about events produced while they run
	sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	g, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, sc)
	if err != nil {
		return nil, err
	}
	return newConsumer(g, cfg), nil
}

func newConsumer(g sarama.ConsumerGroup, cfg ConsumerConfig) *Consumer {
	c := &Consumer{group: g, handler: cfg.Handler, backoff: cfg.Backoff, logger: cfg.Logger}
	if len(c.backoff) == 0 {
		c.backoff = []time.Duration{time.Second}
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	return c
}

// Run consumes until ctx is cancelled or the group is closed. A rebalance makes Consume
// return and the loop rejoins.
func (c *Consumer) Run(ctx context.Context, topics []string) error {
	go c.drainErrors(ctx)
	handler := consumerGroupHandler{handler: c.handler, logger: c.logger}
	failures := 0
	for {
		err := c.group.Consume(ctx, topics, handler)
		switch {
		case errors.Is(err, sarama.ErrClosedConsumerGroup):
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		case err == nil:
			failures = 0
			continue
		}
		wait := c.backoff[min(failures, len(c.backoff)-1)]
		failures++
		c.logger.Warn("kafka session failed, rejoining", "error", err, "backoff", wait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (c *Consumer) drainErrors(ctx context.Context) {
	errs := c.group.Errors()
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errs:
			if !ok {
				return
			}
			c.logger.Warn("kafka consumer error", "error", err)
		}
	}
}

func (c *Consumer) Close() error {
	return c.group.Close()
}

type consumerGroupHandler struct {
	handler MessageHandler
	logger  *slog.Logger
}

func (h consumerGroupHandler) Setup(sess sarama.ConsumerGroupSession) error {
	h.logger.Debug("kafka partitions assigned", "member", sess.MemberID(), "claims", sess.Claims())
	return nil
}

func (h consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h consumerGroupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for message := range claim.Messages() {
		if err := h.handler.Handle(sess.Context(), message); err != nil {
			// realtime delivery is best effort; the offset moves on
			h.logger.Debug("kafka message skipped", "topic", message.Topic, "offset", message.Offset, "error", err)
		}
		sess.MarkMessage(message, "")
	}
	return nil
}
