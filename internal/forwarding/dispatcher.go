package forwarding

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/attribution-backend/pkg/logger"
)

const (
	defaultPublishTimeout = 10 * time.Second
	defaultInlineTimeout  = 30 * time.Second
	defaultInlineCapacity = 32
)

// ErrQueueFull is returned when the in-process dispatcher has no free slot.
var ErrQueueFull = errors.New("forwarding queue is full")

// Dispatcher hands forwarding jobs to whatever performs delivery. Dispatch
// must not block on the delivery itself.
type Dispatcher interface {
	Dispatch(ctx context.Context, job Job) error
}

// Handler performs delivery of one job.
type Handler interface {
	Handle(ctx context.Context, job Job) error
}

// NoopDispatcher drops every job. Used when forwarding is switched off.
type NoopDispatcher struct{}

func (NoopDispatcher) Dispatch(context.Context, Job) error { return nil }

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(context.Context) (string, error)
}

// PubSubDispatcher publishes jobs to the forwarding topic.
type PubSubDispatcher struct {
	publisher publisher
	timeout   time.Duration
	logg      *logger.Logger
}

// NewPubSubDispatcher wraps a Pub/Sub publisher.
func NewPubSubDispatcher(pub *gcppubsub.Publisher, timeout time.Duration, logg *logger.Logger) (*PubSubDispatcher, error) {
	if pub == nil {
		return nil, errors.New("forwarding publisher is required")
	}
	return newPubSubDispatcher(newGCPPublisher(pub), timeout, logg)
}

func newPubSubDispatcher(pub publisher, timeout time.Duration, logg *logger.Logger) (*PubSubDispatcher, error) {
	if pub == nil {
		return nil, errors.New("forwarding publisher is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	return &PubSubDispatcher{publisher: pub, timeout: timeout, logg: logg}, nil
}

func (d *PubSubDispatcher) Dispatch(ctx context.Context, job Job) error {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	data, err := job.Encode()
	if err != nil {
		return err
	}

	msg := &gcppubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"store_id": job.StoreID.String(),
			"event_id": job.EventID,
		},
	}

	publishCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	result := d.publisher.Publish(publishCtx, msg)
	if result == nil {
		return errors.New("publisher returned nil result")
	}
	id, err := result.Get(publishCtx)
	if err != nil {
		return fmt.Errorf("publish forwarding job: %w", err)
	}
	d.logg.Debug(d.logg.WithFields(ctx, map[string]any{
		"event_id":   job.EventID,
		"message_id": id,
	}), "forwarding job published")
	return nil
}

// AsyncDispatcher runs jobs on background goroutines in this process. Jobs
// outlive the request that dispatched them but not Close.
type AsyncDispatcher struct {
	handler Handler
	logg    *logger.Logger
	timeout time.Duration
	slots   chan struct{}
	wg      sync.WaitGroup
}

// NewAsyncDispatcher bounds concurrent deliveries to capacity.
func NewAsyncDispatcher(handler Handler, capacity int, timeout time.Duration, logg *logger.Logger) (*AsyncDispatcher, error) {
	if handler == nil {
		return nil, errors.New("forwarding handler is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	if capacity <= 0 {
		capacity = defaultInlineCapacity
	}
	if timeout <= 0 {
		timeout = defaultInlineTimeout
	}
	return &AsyncDispatcher{
		handler: handler,
		logg:    logg,
		timeout: timeout,
		slots:   make(chan struct{}, capacity),
	}, nil
}

func (d *AsyncDispatcher) Dispatch(ctx context.Context, job Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	select {
	case d.slots <- struct{}{}:
	default:
		return ErrQueueFull
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() { <-d.slots }()

		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()
		if err := d.handler.Handle(runCtx, job); err != nil {
			d.logg.Error(d.logg.WithField(runCtx, "event_id", job.EventID), "inline forwarding failed", err)
		}
	}()
	return nil
}

// Close waits for in-flight jobs or until ctx is done.
func (d *AsyncDispatcher) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func newGCPPublisher(p *gcppubsub.Publisher) publisher {
	if p == nil {
		return nil
	}
	return &gcpPublisher{Publisher: p}
}

type gcpPublisher struct {
	*gcppubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	if p == nil || p.Publisher == nil {
		return nil
	}
	return &gcpPublishResult{PublishResult: p.Publisher.Publish(ctx, msg)}
}

type gcpPublishResult struct {
	*gcppubsub.PublishResult
}

func (r *gcpPublishResult) Get(ctx context.Context) (string, error) {
	if r == nil || r.PublishResult == nil {
		return "", errors.New("publish result is nil")
	}
	return r.PublishResult.Get(ctx)
}
