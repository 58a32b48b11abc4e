// Package dispatch hands messages from the reminder scheduler to a
// transport through a bounded queue drained by a fixed worker pool.
package dispatch

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hpungsan/classmate/internal/errors"
)

// Defaults.
const (
	DefaultQueueSize       = 256
	DefaultWorkers         = 4
	DefaultEnqueueTimeout  = 500 * time.Millisecond
	DefaultDeliveryTimeout = 10 * time.Second
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = stderrors.New("dispatcher closed")

// Deliverer sends one message to one user over some transport.
type Deliverer interface {
	Deliver(ctx context.Context, userID, text string) error
}

// DelivererFunc adapts a function to Deliverer.
type DelivererFunc func(ctx context.Context, userID, text string) error

// Deliver implements Deliverer.
func (f DelivererFunc) Deliver(ctx context.Context, userID, text string) error {
	return f(ctx, userID, text)
}

// Config sizes the queue and bounds its waits. Zero values select defaults.
type Config struct {
	QueueSize       int
	Workers         int
	EnqueueTimeout  time.Duration
	DeliveryTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.EnqueueTimeout <= 0 {
		c.EnqueueTimeout = DefaultEnqueueTimeout
	}
	if c.DeliveryTimeout <= 0 {
		c.DeliveryTimeout = DefaultDeliveryTimeout
	}
	return c
}

type message struct {
	userID   string
	text     string
	enqueued time.Time
}

// Stats counts what the workers have done so far.
type Stats struct {
	Queued    int   `json:"queued"`
	Delivered int64 `json:"delivered"`
	Failed    int64 `json:"failed"`
}

// Dispatcher is safe for concurrent use.
type Dispatcher struct {
	deliverer Deliverer
	cfg       Config
	logger    *slog.Logger

	// mu guards closed and the send side of queue.
	mu     sync.RWMutex
	closed bool
	queue  chan message

	startOnce sync.Once
	wg        sync.WaitGroup

	delivered atomic.Int64
	failed    atomic.Int64
}

// New creates a Dispatcher. Workers do not run until Start or Run.
func New(d Deliverer, cfg Config, logger *slog.Logger) *Dispatcher {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		deliverer: d,
		cfg:       cfg,
		logger:    logger.With("component", "dispatch"),
		queue:     make(chan message, cfg.QueueSize),
	}
}

// Submit enqueues text for userID. It waits at most the enqueue timeout
// for room in the queue and never waits on delivery itself.
func (d *Dispatcher) Submit(ctx context.Context, userID, text string) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return ErrClosed
	}

	msg := message{userID: userID, text: text, enqueued: time.Now()}
	select {
	case d.queue <- msg:
		return nil
	default:
	}

	timer := time.NewTimer(d.cfg.EnqueueTimeout)
	defer timer.Stop()

	select {
	case d.queue <- msg:
		return nil
	case <-timer.C:
		d.logger.Warn("queue full, dropping message", "user_id", userID, "capacity", d.cfg.QueueSize)
		return errors.NewQueueFull(d.cfg.QueueSize)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start launches the workers. Deliveries keep the values of ctx but not its
// cancellation, so queued messages still drain during Close.
func (d *Dispatcher) Start(ctx context.Context) {
	d.startOnce.Do(func() {
		base := context.WithoutCancel(ctx)
		for i := range d.cfg.Workers {
			d.wg.Add(1)
			go d.worker(base, i)
		}
		d.logger.Info("dispatcher started", "workers", d.cfg.Workers, "queue_size", d.cfg.QueueSize)
	})
}

// Run starts the workers, blocks until ctx is done, then drains and stops.
func (d *Dispatcher) Run(ctx context.Context) {
	d.Start(ctx)
	<-ctx.Done()
	d.Close()
}

// Close stops accepting messages and waits for queued ones to be
// delivered. Safe to call more than once.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	// Workers that were never started would leave the queue undrained.
	d.Start(context.Background())
	d.wg.Wait()
}

// Stats returns a snapshot of the counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Queued:    len(d.queue),
		Delivered: d.delivered.Load(),
		Failed:    d.failed.Load(),
	}
}

func (d *Dispatcher) worker(base context.Context, id int) {
	defer d.wg.Done()
	for msg := range d.queue {
		d.deliver(base, id, msg)
	}
}

func (d *Dispatcher) deliver(base context.Context, worker int, msg message) {
	ctx, cancel := context.WithTimeout(base, d.cfg.DeliveryTimeout)
	defer cancel()

	logger := d.logger.With("user_id", msg.userID, "worker", worker)

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("deliverer panic: %v", r)
			}
		}()
		return d.deliverer.Deliver(ctx, msg.userID, msg.text)
	}()
	if err != nil {
		d.failed.Add(1)
		logger.Error("delivery failed", "error", err, "error_kind", errors.Kind(err))
		return
	}
	d.delivered.Add(1)
	logger.Debug("delivered", "queued_for", time.Since(msg.enqueued))
}
