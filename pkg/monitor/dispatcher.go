package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ManouchehrRasoulli/fsmonitor/pkg/logger"
	"github.com/ManouchehrRasoulli/fsmonitor/pkg/model"
)

const (
	defaultAttempts       = 5
	defaultTimeout        = 10 * time.Second
	defaultInitialBackoff = 200 * time.Millisecond
	defaultMaxBackoff     = 10 * time.Second
)

// DispatchOptions bounds the delivery effort spent on one batch.
type DispatchOptions struct {
	// Attempts is the number of delivery attempts per batch, retries included.
	Attempts int
	// Timeout applies to every single attempt.
	Timeout        time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// MaxBatch caps the events per delivery; 0 sends everything queued.
	MaxBatch int
}

func (o DispatchOptions) withDefaults() DispatchOptions {
	if o.Attempts <= 0 {
		o.Attempts = defaultAttempts
	}
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = defaultInitialBackoff
	}
	if o.MaxBackoff < o.InitialBackoff {
		o.MaxBackoff = defaultMaxBackoff
		if o.MaxBackoff < o.InitialBackoff {
			o.MaxBackoff = o.InitialBackoff
		}
	}
	if o.MaxBatch < 0 {
		o.MaxBatch = 0
	}
	return o
}

// Dispatcher drains a watch's queue into its client endpoint. There is no
// coalescing window: every batch is whatever was queued when the previous
// one finished.
type Dispatcher struct {
	id       model.WatchID
	endpoint Endpoint
	queue    *queue
	opts     DispatchOptions
	logger   *logger.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

func newDispatcher(id model.WatchID, endpoint Endpoint, q *queue, opts DispatchOptions, lg *logger.Logger) *Dispatcher {
	return &Dispatcher{
		id:       id,
		endpoint: endpoint,
		queue:    q,
		opts:     opts.withDefaults(),
		logger:   lg,
		done:     make(chan struct{}),
	}
}

func (d *Dispatcher) start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	go d.run(ctx)
}

// stop cancels any outstanding delivery and waits for the loop to exit.
func (d *Dispatcher) stop() {
	d.cancel()
	<-d.done
}

func (d *Dispatcher) run(ctx context.Context) {
	defer close(d.done)

	for {
		batch, err := d.queue.peek(ctx, d.opts.MaxBatch)
		if err != nil {
			return
		}

		err = d.deliver(ctx, batch)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			metricEventsDropped.WithLabelValues(reasonRetriesExhausted).Add(float64(len(batch)))
			d.logger.Errorf("dispatcher error :: watch %s dropped batch of %d events after %d attempts: %v",
				d.id, len(batch), d.opts.Attempts, model.Reason(err))
		} else {
			metricEventsDelivered.Add(float64(len(batch)))
			d.logger.Debugf("dispatcher :: watch %s delivered %d events", d.id, len(batch))
		}
		d.queue.remove(len(batch))
	}
}

func (d *Dispatcher) deliver(ctx context.Context, batch []model.NotificationEvent) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = d.opts.InitialBackoff
	eb.MaxInterval = d.opts.MaxBackoff
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(d.opts.Attempts-1)), ctx)

	attempt := 0
	operation := func() error {
		attempt++
		err := d.attempt(ctx, batch)
		if err != nil {
			metricDeliveries.WithLabelValues(resultFailure).Inc()
			return err
		}
		metricDeliveries.WithLabelValues(resultSuccess).Inc()
		return nil
	}
	notify := func(err error, next time.Duration) {
		d.logger.Warnf("dispatcher error :: watch %s attempt %d/%d failed, retry in %s: %v",
			d.id, attempt, d.opts.Attempts, next, model.Reason(err))
	}

	return backoff.RetryNotify(operation, b, notify)
}

func (d *Dispatcher) attempt(ctx context.Context, batch []model.NotificationEvent) (err error) {
	ctx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = errors.Join(model.ErrDelivery, fmt.Errorf("endpoint panic: %v", r))
		}
	}()

	if err := d.endpoint.Notify(ctx, d.id, batch); err != nil {
		return errors.Join(model.ErrDelivery, err)
	}
	return nil
}
