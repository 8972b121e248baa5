package processor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"prtgalert/internal/alerts"
	"prtgalert/internal/config"
	"prtgalert/internal/detector"
	"prtgalert/internal/handlers"
	"prtgalert/internal/kafka"
	"prtgalert/internal/logger"
	"prtgalert/internal/metrics"
	"prtgalert/internal/models"
	"prtgalert/internal/notify"
	"prtgalert/internal/prtg"
	"prtgalert/internal/report"
	"prtgalert/internal/scheduler"
	"prtgalert/internal/storage"
	"prtgalert/internal/worker"
)

// Processor is the high-level coordinator: it builds every component once
// from config and owns their lifecycle.
type Processor struct {
	cfg   *config.Config
	clock clock.Clock
	node  string

	store      *storage.Store
	tracker    *detector.Tracker
	fetcher    *prtg.Client
	whatsapp   *notify.WhatsApp
	producer   *kafka.Producer
	dispatcher *notify.Dispatcher
	workerPool *worker.Pool
	escalator  *alerts.Escalator
	composer   notify.Composer
	scheduler  *scheduler.Scheduler
	reports    *report.Generator
	httpServer *http.Server

	closeOnce sync.Once
	closeErr  error
}

// Option customizes a Processor.
type Option func(*Processor)

// WithClock replaces the wall clock.
func WithClock(clk clock.Clock) Option {
	return func(p *Processor) { p.clock = clk }
}

// New constructs a Processor with given config. It opens the sensor store,
// so callers must Close it (Run does so on return).
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Processor, error) {
	log := logger.WithComponent("processor")
	p := &Processor{cfg: cfg, clock: clock.New()}
	for _, opt := range opts {
		opt(p)
	}
	p.node, _ = os.Hostname()

	store, err := storage.Open(ctx, storage.Options{Path: cfg.Monitoring.DatabaseFile})
	if err != nil {
		return nil, err
	}
	p.store = store

	if err := p.initChannels(); err != nil {
		store.Close()
		return nil, err
	}

	p.tracker = detector.NewTracker(store, p.clock)
	p.fetcher = prtg.NewClient(cfg.PRTG)
	p.reports = report.NewGenerator(store, p.clock)
	p.escalator = alerts.NewEscalator(alerts.Rule{
		Name:      "prtg_connectivity",
		Threshold: cfg.Monitoring.FailureThreshold,
	})
	p.composer = notify.Composer{
		ServerURL:       cfg.PRTG.URL,
		Interval:        cfg.Monitoring.CheckInterval,
		PushRecipients:  len(cfg.WhatsApp.Recipients),
		EmailRecipients: len(cfg.Email.Recipients),
	}
	p.workerPool = worker.NewPool(worker.Config{
		Deliverer:   p.dispatcher,
		Workers:     cfg.Dispatch.Workers,
		QueueSize:   cfg.Dispatch.QueueSize,
		SendTimeout: cfg.Dispatch.SendTimeout,
	})

	deps := scheduler.Deps{
		Fetcher:   p.fetcher,
		Observer:  p.tracker,
		Composer:  p.composer,
		Submitter: p.workerPool,
		Deliverer: p.dispatcher,
		Escalator: p.escalator,
		Clock:     p.clock,
	}
	// A nil *WhatsApp must not become a non-nil Prober.
	if p.whatsapp != nil {
		deps.Prober = p.whatsapp
	}
	p.scheduler = scheduler.New(scheduler.Config{
		Interval:        cfg.Monitoring.CheckInterval,
		ErrorBackoff:    cfg.Monitoring.ErrorBackoff,
		FetchTimeout:    cfg.PRTG.FetchTimeout,
		ShutdownTimeout: cfg.Monitoring.ShutdownTimeout,
		Node:            p.node,
	}, deps)

	p.initHTTPServer()

	log.Info().
		Str("prtg_url", cfg.PRTG.URL).
		Strs("channels", p.dispatcher.Channels()).
		Str("database", cfg.Monitoring.DatabaseFile).
		Msg("processor initialized")
	return p, nil
}

// initChannels builds the notification channels that are configured.
func (p *Processor) initChannels() error {
	log := logger.WithComponent("processor")
	var routes []notify.Route

	if p.cfg.PushEnabled() {
		p.whatsapp = notify.NewWhatsApp(p.cfg.WhatsApp)
		routes = append(routes, notify.Route{Channel: p.whatsapp, Categories: notify.AllCategories})
	} else {
		log.Warn().Msg("no push recipients configured, push notifications disabled")
	}

	if p.cfg.EmailEnabled() {
		routes = append(routes, notify.Route{Channel: notify.NewEmail(p.cfg.Email), Categories: notify.TransitionCategories})
	}

	if p.cfg.KafkaEnabled() {
		producer, err := kafka.NewProducer(p.cfg.Kafka.Brokers, p.cfg.Kafka.Topic, p.cfg.Kafka.Producer)
		if err != nil {
			return fmt.Errorf("failed to initialize producer: %w", err)
		}
		p.producer = producer
		routes = append(routes, notify.Route{Channel: producer, Categories: []models.Category{
			models.CategoryDown,
			models.CategoryRecovery,
			models.CategoryConnectivityFailure,
		}})
		log.Info().
			Strs("brokers", p.cfg.Kafka.Brokers).
			Str("topic", p.cfg.Kafka.Topic).
			Msg("kafka producer initialized")
	}

	p.dispatcher = notify.NewDispatcher(routes...)
	return nil
}

// initHTTPServer builds the status API; an empty address disables it.
func (p *Processor) initHTTPServer() {
	if p.cfg.HTTP.Addr == "" {
		return
	}
	h := handlers.NewStatusHandler(handlers.StatusConfig{
		Reports: p.reports,
		Store:   p.store,
		Stats:   func() any { return p.Stats() },
	})
	p.httpServer = &http.Server{
		Addr:         p.cfg.HTTP.Addr,
		Handler:      handlers.NewRouter(h, p.cfg.HTTP.AllowedOrigins),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Run starts the poll loop, the dispatch workers and the status API, and
// blocks until ctx is cancelled. A status API failure is logged and does not
// stop polling. Everything is shut down and closed before it returns.
func (p *Processor) Run(ctx context.Context) error {
	log := logger.WithComponent("processor")
	log.Info().Msg("processor starting")

	p.workerPool.Start()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return p.scheduler.Run(gctx)
	})

	if p.httpServer != nil {
		g.Go(func() error {
			log.Info().Str("addr", p.httpServer.Addr).Msg("starting HTTP server")
			// The status API is optional; polling keeps running without it.
			if err := p.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Str("addr", p.httpServer.Addr).Msg("HTTP server failed, status API unavailable")
				metrics.HTTPServerErrors.Inc()
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), p.cfg.Monitoring.ShutdownTimeout)
			defer cancel()
			log.Info().Msg("stopping HTTP server")
			return p.httpServer.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		p.reportStats(gctx)
		return nil
	})

	runErr := g.Wait()
	if runErr != nil {
		log.Error().Err(runErr).Msg("processor stopped with error")
	}
	return multierr.Append(runErr, p.shutdown())
}

// shutdown drains queued notifications, then releases every resource.
func (p *Processor) shutdown() error {
	log := logger.WithComponent("processor")
	log.Info().Msg("initiating graceful shutdown")

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.Monitoring.ShutdownTimeout)
	defer cancel()

	err := p.workerPool.Stop(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("worker shutdown timeout - pending notifications dropped")
	}
	err = multierr.Append(err, p.Close())

	log.Info().Msg("processor stopped")
	return err
}

// Close releases the kafka producer and the store. It is safe to call twice.
func (p *Processor) Close() error {
	p.closeOnce.Do(func() {
		if p.producer != nil {
			p.closeErr = multierr.Append(p.closeErr, p.producer.Close())
		}
		p.closeErr = multierr.Append(p.closeErr, p.store.Close())
	})
	return p.closeErr
}

// Stats is the runtime snapshot served on /stats.
func (p *Processor) Stats() map[string]any {
	out := map[string]any{
		"node":      p.node,
		"scheduler": p.scheduler.Status(),
		"dispatch":  p.workerPool.Stats(),
		"channels":  p.dispatcher.Channels(),
	}
	if p.producer != nil {
		out["kafka"] = p.producer.Stats()
	}
	return out
}

// reportStats periodically logs dispatch statistics
func (p *Processor) reportStats(ctx context.Context) {
	log := logger.WithComponent("processor")
	ticker := p.clock.Ticker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := p.workerPool.Stats()
			metrics.DispatchQueueSize.Set(float64(st.Queued))

			ev := log.Info().
				Uint64("dispatch_processed", st.Processed).
				Uint64("dispatch_failed", st.Failed).
				Uint64("dispatch_dropped", st.Dropped).
				Int("queue_size", st.Queued)
			if p.producer != nil {
				ps := p.producer.Stats()
				ev = ev.Uint64("producer_sent", ps.MessagesSent).Uint64("producer_failed", ps.MessagesFailed)
			}
			ev.Msg("stats")
		}
	}
}

// Report generates the current status report and, when push is set,
// delivers it. The report is returned even when delivery fails.
func (p *Processor) Report(ctx context.Context, push bool) (*report.Report, error) {
	rep, err := p.reports.Generate(ctx)
	if err != nil {
		return nil, err
	}
	if !push {
		return rep, nil
	}
	if !p.dispatcher.Routes(models.CategoryReport) {
		return rep, fmt.Errorf("%w: no channel carries reports", notify.ErrDelivery)
	}
	n := p.composer.Report(rep)
	return rep, p.dispatcher.Deliver(ctx, models.NewEnvelope(&n, p.node))
}

// TestNotification sends an operator test message on every channel that
// carries test messages.
func (p *Processor) TestNotification(ctx context.Context, text string) error {
	if !p.dispatcher.Routes(models.CategoryTest) {
		return fmt.Errorf("%w: no channel carries test messages", notify.ErrDelivery)
	}
	n := p.composer.Test(p.clock.Now(), text)
	return p.dispatcher.Deliver(ctx, models.NewEnvelope(&n, p.node))
}

// Migrate forces a rebuild of the sensor table under the current schema.
func (p *Processor) Migrate(ctx context.Context) (storage.MigrationResult, error) {
	return p.store.Migrate(ctx, true)
}

// Scheduler exposes the poll loop for status reporting.
func (p *Processor) Scheduler() *scheduler.Scheduler {
	return p.scheduler
}
