package forwarding

import (
	"context"
	"errors"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/attribution-backend/pkg/logger"
)

// Consumer receives forwarding jobs from Pub/Sub.
type Consumer struct {
	subscription *gcppubsub.Subscriber
	handler      Handler
	logg         *logger.Logger
}

func NewConsumer(subscription *gcppubsub.Subscriber, handler Handler, logg *logger.Logger) (*Consumer, error) {
	if subscription == nil {
		return nil, errors.New("forwarding subscription is required")
	}
	if handler == nil {
		return nil, errors.New("forwarding handler is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &Consumer{subscription: subscription, handler: handler, logg: logg}, nil
}

type processResult struct {
	nack bool
}

// Run consumes jobs until ctx is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return c.subscription.Receive(ctx, func(innerCtx context.Context, msg *gcppubsub.Message) {
		if c.process(innerCtx, msg.ID, msg.Data).nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

func (c *Consumer) process(ctx context.Context, messageID string, data []byte) processResult {
	logCtx := c.logg.WithField(ctx, "message_id", messageID)

	job, err := DecodeJob(data)
	if err != nil {
		c.logg.Warn(c.logg.WithField(logCtx, "error", err.Error()), "invalid forwarding job")
		return processResult{}
	}

	if err := c.handler.Handle(logCtx, job); err != nil {
		c.logg.Error(c.logg.WithField(logCtx, "event_id", job.EventID), "forwarding job failed", err)
		return processResult{nack: true}
	}
	return processResult{}
}
