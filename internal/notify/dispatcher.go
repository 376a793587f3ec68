// Package notify delivers reservation confirmations off the request path.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	KindReservationCreated = "reservation.created"

	defaultWorkers     = 2
	defaultQueueSize   = 256
	defaultSendTimeout = 10 * time.Second
)

// Outcome labels reported to the result hook.
const (
	OutcomeSent    = "sent"
	OutcomeFailed  = "failed"
	OutcomeDropped = "dropped"
)

// Message is a confirmation sent to the claimant. CapabilityToken is only set for anonymous
// claimants and is the only copy of the token that leaves the service after creation.
type Message struct {
	Kind            string    `json:"kind"`
	ReservationID   string    `json:"reservation_id"`
	ItemID          string    `json:"item_id"`
	RecipientName   string    `json:"recipient_name"`
	RecipientEmail  string    `json:"recipient_email"`
	CapabilityToken string    `json:"capability_token,omitempty"`
	ReservedAt      time.Time `json:"reserved_at"`
}

// Sender performs the actual delivery.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Dispatcher queues messages for a fixed pool of workers. Dispatch never blocks and
// never reports failure to the caller.
type Dispatcher struct {
	sender      Sender
	logger      *slog.Logger
	workers     int
	sendTimeout time.Duration
	onResult    func(outcome string)

	mu     sync.RWMutex
	closed bool
	queue  chan Message
	wg     sync.WaitGroup
}

type Option func(*Dispatcher)

func WithWorkers(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queue = make(chan Message, n)
		}
	}
}

func WithSendTimeout(t time.Duration) Option {
	return func(d *Dispatcher) {
		if t > 0 {
			d.sendTimeout = t
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithResultHook is called once per message with one of the Outcome values.
func WithResultHook(fn func(outcome string)) Option {
	return func(d *Dispatcher) {
		d.onResult = fn
	}
}

// NewDispatcher starts the worker pool. Call Close to drain it.
func NewDispatcher(sender Sender, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		sender:      sender,
		logger:      slog.Default(),
		workers:     defaultWorkers,
		sendTimeout: defaultSendTimeout,
		queue:       make(chan Message, defaultQueueSize),
	}
	for _, opt := range opts {
		opt(d)
	}
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.run()
	}
	return d
}

// Dispatch enqueues msg. A full queue or a closed dispatcher drops the message with a log line.
func (d *Dispatcher) Dispatch(msg Message) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.logger.Warn("notification dropped, dispatcher closed",
			slog.String("kind", msg.Kind),
			slog.String("reservation_id", msg.ReservationID),
		)
		d.report(OutcomeDropped)
		return
	}
	select {
	case d.queue <- msg:
	default:
		d.logger.Warn("notification dropped, queue full",
			slog.String("kind", msg.Kind),
			slog.String("reservation_id", msg.ReservationID),
		)
		d.report(OutcomeDropped)
	}
}

// Close stops accepting messages and waits for queued ones until ctx expires.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain notifications: %w", ctx.Err())
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for msg := range d.queue {
		d.deliver(msg)
	}
}

func (d *Dispatcher) deliver(msg Message) {
	ctx, cancel := context.WithTimeout(context.Background(), d.sendTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("notification sender panicked",
				slog.String("reservation_id", msg.ReservationID),
				slog.Any("panic", r),
			)
			d.report(OutcomeFailed)
		}
	}()

	if err := d.sender.Send(ctx, msg); err != nil {
		d.logger.Error("notification failed",
			slog.String("kind", msg.Kind),
			slog.String("reservation_id", msg.ReservationID),
			slog.Any("error", err),
		)
		d.report(OutcomeFailed)
		return
	}
	d.report(OutcomeSent)
}

func (d *Dispatcher) report(outcome string) {
	if d.onResult != nil {
		d.onResult(outcome)
	}
}
