// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package mail

import (
	"context"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"

	"github.com/holomush/authd/internal/logging"
)

// Dispatcher defaults.
const (
	DefaultQueueSize = 256
	DefaultWorkers   = 2
	errorBufferSize  = 16
)

// DispatcherMetrics counts dispatcher outcomes.
type DispatcherMetrics struct {
	Sent    *prometheus.CounterVec
	Failed  *prometheus.CounterVec
	Dropped prometheus.Counter
}

// NewDispatcherMetrics creates and registers the dispatcher counters.
func NewDispatcherMetrics(reg prometheus.Registerer) *DispatcherMetrics {
	m := &DispatcherMetrics{
		Sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authd_mail_sent_total",
			Help: "Emails delivered by the dispatcher, by kind",
		}, []string{"kind"}),
		Failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authd_mail_failed_total",
			Help: "Emails the dispatcher gave up on, by kind",
		}, []string{"kind"}),
		Dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authd_mail_dropped_total",
			Help: "Emails or delivery errors dropped because a buffer was full",
		}),
	}
	reg.MustRegister(m.Sent, m.Failed, m.Dropped)
	return m
}

// DispatcherOptions configures NewDispatcher.
type DispatcherOptions struct {
	QueueSize int
	Workers   int
	Metrics   *DispatcherMetrics
	Logger    *slog.Logger
}

// DeliveryError reports a message the dispatcher could not deliver.
type DeliveryError struct {
	Message Message
	Err     error
}

func (e *DeliveryError) Error() string {
	return "deliver " + string(e.Message.Kind) + ": " + e.Err.Error()
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Dispatcher delivers messages on a fixed pool of workers fed by a bounded
// queue. Send never blocks. It is itself a Sender.
type Dispatcher struct {
	sender  Sender
	queue   chan Message
	errs    chan error
	metrics *DispatcherMetrics
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewDispatcher starts the workers.
func NewDispatcher(sender Sender, opts DispatcherOptions) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		sender:  sender,
		queue:   make(chan Message, opts.QueueSize),
		errs:    make(chan error, errorBufferSize),
		metrics: opts.Metrics,
		logger:  opts.Logger,
		ctx:     ctx,
		cancel:  cancel,
	}
	for range opts.Workers {
		d.wg.Add(1)
		go d.work()
	}
	return d
}

// Send enqueues msg. It fails with MAIL_QUEUE_FULL when the queue is full
// and MAIL_DISPATCHER_CLOSED after Close.
func (d *Dispatcher) Send(_ context.Context, msg Message) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return oops.Code("MAIL_DISPATCHER_CLOSED").With("kind", string(msg.Kind)).Errorf("dispatcher is closed")
	}
	select {
	case d.queue <- msg:
		return nil
	default:
		d.dropped()
		return oops.Code("MAIL_QUEUE_FULL").
			With("kind", string(msg.Kind)).
			With("capacity", cap(d.queue)).
			Errorf("mail queue is full")
	}
}

// Errors delivers a *DeliveryError for every message that could not be sent.
// Errors are dropped when nobody reads them. The channel closes after Close.
func (d *Dispatcher) Errors() <-chan error {
	return d.errs
}

// Close stops accepting messages and waits for the queue to drain. If ctx
// ends first, in-flight deliveries are cancelled and MAIL_DRAIN_TIMEOUT is
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

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		d.cancel()
		<-done
		err = oops.Code("MAIL_DRAIN_TIMEOUT").Wrap(ctx.Err())
	}
	d.cancel()
	close(d.errs)
	return err
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for msg := range d.queue {
		if d.ctx.Err() != nil {
			d.fail(msg, d.ctx.Err())
			continue
		}
		if err := d.sender.Send(d.ctx, msg); err != nil {
			d.fail(msg, err)
			continue
		}
		if d.metrics != nil {
			d.metrics.Sent.WithLabelValues(string(msg.Kind)).Inc()
		}
	}
}

func (d *Dispatcher) fail(msg Message, err error) {
	if d.metrics != nil {
		d.metrics.Failed.WithLabelValues(string(msg.Kind)).Inc()
	}
	d.logger.Error("mail delivery failed",
		"kind", string(msg.Kind),
		logging.Identifier("to", msg.To),
		"error", err)
	select {
	case d.errs <- &DeliveryError{Message: msg, Err: err}:
	default:
		d.dropped()
	}
}

func (d *Dispatcher) dropped() {
	if d.metrics != nil {
		d.metrics.Dropped.Inc()
	}
}
