package worker

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"prtgalert/internal/logger"
	"prtgalert/internal/metrics"
	"prtgalert/internal/models"
)

// ErrPoolClosed is returned by Submit after Stop.
var ErrPoolClosed = errors.New("worker pool is closed")

// ErrQueueFull is returned by Submit when the queue has no room.
var ErrQueueFull = errors.New("dispatch queue is full")

// Deliverer sends one envelope on every channel it is routed to.
type Deliverer interface {
	Deliver(ctx context.Context, env *models.Envelope) error
}

// Pool delivers notifications in the background so a slow channel never
// delays the poll loop.
type Pool struct {
	deliverer   Deliverer
	queue       chan *models.Envelope
	workers     int
	sendTimeout time.Duration

	mu     sync.RWMutex
	closed bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	// Metrics
	submitted atomic.Uint64
	processed atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

// Config holds worker pool configuration
type Config struct {
	Deliverer   Deliverer
	Workers     int
	QueueSize   int
	SendTimeout time.Duration
}

// NewPool creates a new worker pool
func NewPool(cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	metrics.DispatchQueueCapacity.Set(float64(cfg.QueueSize))

	return &Pool{
		deliverer:   cfg.Deliverer,
		queue:       make(chan *models.Envelope, cfg.QueueSize),
		workers:     cfg.Workers,
		sendTimeout: cfg.SendTimeout,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start begins processing envelopes
func (p *Pool) Start() {
	log := logger.WithComponent("worker_pool")
	log.Info().
		Int("workers", p.workers).
		Int("queue_size", cap(p.queue)).
		Dur("send_timeout", p.sendTimeout).
		Msg("starting worker pool")

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Submit enqueues env without blocking. When the queue is full the
// notification is dropped and counted.
func (p *Pool) Submit(env *models.Envelope) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.queue <- env:
		p.submitted.Add(1)
		metrics.DispatchQueueSize.Set(float64(len(p.queue)))
		return nil
	default:
		p.dropped.Add(1)
		metrics.DispatchDroppedTotal.Inc()
		log := logger.WithComponent("worker_pool")
		log.Warn().
			Str("notification_id", env.ID).
			Str("category", string(env.Notification.Category)).
			Str("sensor_id", env.Notification.SensorID).
			Msg("dispatch queue full, dropping notification")
		return ErrQueueFull
	}
}

// Stop closes the queue and waits for queued notifications to drain. If ctx
// ends first, in-flight deliveries are cancelled.
func (p *Pool) Stop(ctx context.Context) error {
	log := logger.WithComponent("worker_pool")
	log.Info().Int("pending", len(p.queue)).Msg("stopping worker pool")

	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		log.Info().Msg("worker pool stopped")
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		log.Warn().Int("abandoned", len(p.queue)).Msg("worker pool stop timed out")
		return ctx.Err()
	}
}

// worker processes envelopes until the queue is closed and drained
func (p *Pool) worker(id int) {
	defer p.wg.Done()

	log := logger.WithComponent("worker").With().Int("worker_id", id).Logger()
	log.Debug().Msg("worker started")
	defer log.Debug().Msg("worker stopped")

	for env := range p.queue {
		metrics.DispatchQueueSize.Set(float64(len(p.queue)))
		if p.ctx.Err() != nil {
			p.failed.Add(1)
			continue
		}
		p.deliver(id, env)
	}
}

// deliver runs one job; a panicking channel only fails that job.
func (p *Pool) deliver(id int, env *models.Envelope) {
	log := logger.WithComponent("worker").With().
		Int("worker_id", id).
		Str("notification_id", env.ID).
		Logger()

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("worker panic recovered")
			metrics.PanicsRecovered.WithLabelValues("worker").Inc()
			p.failed.Add(1)
		}
	}()

	ctx, cancel := context.WithTimeout(p.ctx, p.sendTimeout)
	defer cancel()

	start := time.Now()
	if err := p.deliverer.Deliver(ctx, env); err != nil {
		log.Error().
			Err(err).
			Str("category", string(env.Notification.Category)).
			Dur("duration", time.Since(start)).
			Msg("notification delivery incomplete")
		p.failed.Add(1)
		return
	}
	p.processed.Add(1)
}

// Stats returns worker pool statistics
func (p *Pool) Stats() Stats {
	return Stats{
		Submitted: p.submitted.Load(),
		Processed: p.processed.Load(),
		Failed:    p.failed.Load(),
		Dropped:   p.dropped.Load(),
		Queued:    len(p.queue),
		Capacity:  cap(p.queue),
	}
}

// Stats holds worker pool metrics
type Stats struct {
	Submitted uint64 `json:"submitted"`
	Processed uint64 `json:"processed"`
	Failed    uint64 `json:"failed"`
	Dropped   uint64 `json:"dropped"`
	Queued    int    `json:"queued"`
	Capacity  int    `json:"capacity"`
}
