package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

var (
	ErrQueueFull        = errors.New("processing queue is full")
	ErrDispatcherClosed = errors.New("dispatcher is stopped")
)

// Dispatcher processes submitted transactions on a fixed pool of workers.
// Each transaction is handled by one worker from start to finish.
type Dispatcher struct {
	svc     *Service
	workers int
	queue   chan string
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher with the provided concurrency.
func NewDispatcher(svc *Service, workers, queueSize int, logger *slog.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		svc:     svc,
		workers: workers,
		queue:   make(chan string, queueSize),
		logger:  logger,
	}
}

// Start launches the workers. They exit when ctx is done or Stop is called.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case id, ok := <-d.queue:
			if !ok {
				return
			}
			if err := d.svc.Process(ctx, id); err != nil {
				d.logger.Error("transaction processing failed", "tx_id", id, "err", err)
			}
		}
	}
}

// Enqueue schedules a transaction without blocking. A transaction that does
// not fit stays PENDING until the recovery sweep picks it up.
func (d *Dispatcher) Enqueue(id string) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	select {
	case d.queue <- id:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop refuses new work and waits for queued and running transactions.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	d.wg.Wait()
}
