// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package mail delivers lifecycle notifications outside the request path.
//
// The Dispatcher implements auth.Notifier: Send only enqueues, and a pool
// of workers hands each mail to a Transport with bounded retries.
package mail

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/holomush/identity/internal/auth"
	"github.com/holomush/identity/pkg/errutil"
)

// Transport delivers a single mail synchronously.
type Transport interface {
	Deliver(ctx context.Context, mail auth.Mail) error
}

// DeliveryRecorder observes the final outcome of every mail handed to the
// dispatcher: "sent", "failed", or "dropped".
type DeliveryRecorder interface {
	RecordMailDelivery(outcome string)
}

type nopRecorder struct{}

func (nopRecorder) RecordMailDelivery(string) {}

// Delivery outcomes.
const (
	OutcomeSent    = "sent"
	OutcomeFailed  = "failed"
	OutcomeDropped = "dropped"
)

// Dispatcher defaults.
const (
	DefaultWorkers    = 2
	DefaultQueueSize  = 128
	DefaultMaxRetries = 3
	DefaultBackoff    = 500 * time.Millisecond
)

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithWorkers sets the number of delivery workers.
func WithWorkers(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithQueueSize sets how many mails may wait for a worker.
func WithQueueSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queueSize = n
		}
	}
}

// WithRetry sets the retry budget and the initial exponential backoff.
func WithRetry(maxRetries uint64, backoff time.Duration) Option {
	return func(d *Dispatcher) {
		d.maxRetries = maxRetries
		if backoff > 0 {
			d.backoff = backoff
		}
	}
}

// WithLogger sets the dispatcher logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithRecorder sets the delivery outcome recorder.
func WithRecorder(r DeliveryRecorder) Option {
	return func(d *Dispatcher) {
		if r != nil {
			d.recorder = r
		}
	}
}

// Dispatcher queues mails and delivers them from background workers.
type Dispatcher struct {
	transport  Transport
	workers    int
	queueSize  int
	maxRetries uint64
	backoff    time.Duration
	logger     *slog.Logger
	recorder   DeliveryRecorder

	queue  chan auth.Mail
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
	stop   context.CancelFunc
}

// NewDispatcher creates a Dispatcher over transport. Call Start to begin
// delivering and Close to drain.
func NewDispatcher(transport Transport, opts ...Option) (*Dispatcher, error) {
	if transport == nil {
		return nil, oops.Errorf("mail transport is required")
	}
	d := &Dispatcher{
		transport:  transport,
		workers:    DefaultWorkers,
		queueSize:  DefaultQueueSize,
		maxRetries: DefaultMaxRetries,
		backoff:    DefaultBackoff,
		logger:     slog.Default(),
		recorder:   nopRecorder{},
		stop:       func() {},
	}
	for _, opt := range opts {
		opt(d)
	}
	d.queue = make(chan auth.Mail, d.queueSize)
	return d, nil
}

// Start launches the workers. Cancelling ctx aborts in-flight retries;
// use Close for an orderly drain.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	d.stop = cancel
	for i := range d.workers {
		d.wg.Add(1)
		go d.work(ctx, i)
	}
}

// Send enqueues mail without blocking. It fails when the queue is full or
// the dispatcher is closed; the caller is expected to log and move on.
func (d *Dispatcher) Send(ctx context.Context, mail auth.Mail) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.recorder.RecordMailDelivery(OutcomeDropped)
		return oops.Code("MAIL_DISPATCHER_CLOSED").With("subject", mail.Subject).Errorf("mail dispatcher is closed")
	}
	select {
	case d.queue <- mail:
		return nil
	default:
		d.recorder.RecordMailDelivery(OutcomeDropped)
		d.logger.WarnContext(ctx, "mail queue full, dropping mail", "subject", mail.Subject)
		return oops.Code("MAIL_QUEUE_FULL").
			With("subject", mail.Subject).
			With("queue_size", d.queueSize).
			Errorf("mail queue is full")
	}
}

// Close stops accepting mail and waits for queued mail to be delivered.
// If ctx ends first, in-flight deliveries are cancelled and ctx's error is
// returned.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.stop()
		return nil
	case <-ctx.Done():
		d.stop()
		<-done
		return oops.Code("MAIL_DRAIN_TIMEOUT").Wrap(ctx.Err())
	}
}

func (d *Dispatcher) work(ctx context.Context, id int) {
	defer d.wg.Done()
	logger := d.logger.With("worker", id)

	for mail := range d.queue {
		if err := d.deliver(ctx, mail); err != nil {
			d.recorder.RecordMailDelivery(OutcomeFailed)
			errutil.LogErrorContext(ctx, logger, "mail delivery failed", err,
				"to", mail.To,
				"subject", mail.Subject)
			continue
		}
		d.recorder.RecordMailDelivery(OutcomeSent)
		logger.DebugContext(ctx, "mail delivered", "to", mail.To, "subject", mail.Subject)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, mail auth.Mail) error {
	attempts := 0
	backoff := retry.WithMaxRetries(d.maxRetries, retry.NewExponential(d.backoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		if err := d.transport.Deliver(ctx, mail); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return oops.Code("MAIL_DELIVERY_FAILED").With("attempts", attempts).Wrap(err)
	}
	return nil
}

var _ auth.Notifier = (*Dispatcher)(nil)
