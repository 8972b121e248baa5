// Package scheduler runs the poll loop: fetch, detect, notify, wait. It owns
// failure counting and the connectivity escalation, and never exits on a
// cycle error.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"prtgalert/internal/alerts"
	"prtgalert/internal/detector"
	"prtgalert/internal/logger"
	"prtgalert/internal/metrics"
	"prtgalert/internal/models"
	"prtgalert/internal/notify"
)

// Cycle errors
var (
	ErrEmptyBatch = errors.New("no sensors retrieved")
	ErrCyclePanic = errors.New("poll cycle panicked")
)

// State is the scheduler's lifecycle position.
type State string

const (
	StateIdle      State = "idle"
	StatePolling   State = "polling"
	StateEscalated State = "escalated"
	StateStopped   State = "stopped"
)

// Outcome classifies how a cycle ended.
type Outcome string

const (
	OutcomeOK         Outcome = "ok"
	OutcomeEmpty      Outcome = "empty"
	OutcomeFetchError Outcome = "fetch_error"
	OutcomeCycleError Outcome = "cycle_error"
)

// Fetcher returns the current sensor snapshots.
type Fetcher interface {
	FetchSensors(ctx context.Context) ([]models.Snapshot, error)
}

// Observer applies snapshots to stored state.
type Observer interface {
	ObserveBatch(ctx context.Context, snaps []models.Snapshot) (detector.BatchResult, error)
}

// Submitter queues a notification for background delivery.
type Submitter interface {
	Submit(env *models.Envelope) error
}

// Deliverer sends a notification synchronously.
type Deliverer interface {
	Deliver(ctx context.Context, env *models.Envelope) error
}

// Config tunes the loop.
type Config struct {
	Interval        time.Duration
	ErrorBackoff    time.Duration
	FetchTimeout    time.Duration
	ShutdownTimeout time.Duration
	Node            string
}

// Deps are the scheduler's collaborators.
type Deps struct {
	Fetcher   Fetcher
	Observer  Observer
	Composer  notify.Composer
	Submitter Submitter
	Deliverer Deliverer
	// Prober gates lifecycle banners on push gateway readiness; may be nil.
	Prober    notify.Prober
	Escalator *alerts.Escalator
	Clock     clock.Clock
}

// CycleResult describes one completed cycle.
type CycleResult struct {
	ID          string        `json:"id"`
	Outcome     Outcome       `json:"outcome"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
	Sensors     int           `json:"sensors"`
	Transitions int           `json:"transitions"`
	Failed      int           `json:"failed"`
	Error       string        `json:"error,omitempty"`
}

// Status is a point-in-time view for the status API.
type Status struct {
	State               State        `json:"state"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	Escalations         int          `json:"escalations"`
	LastCycle           *CycleResult `json:"last_cycle,omitempty"`
}

// Scheduler drives poll cycles on a fixed interval.
type Scheduler struct {
	cfg  Config
	deps Deps

	mu        sync.RWMutex
	state     State
	lastCycle *CycleResult
}

// New creates a scheduler. Zero durations fall back to the usual defaults.
func New(cfg Config, deps Deps) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Second
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = 30 * time.Second
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 30 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Escalator == nil {
		deps.Escalator = alerts.NewEscalator(alerts.Rule{Name: "connectivity"})
	}
	return &Scheduler{cfg: cfg, deps: deps, state: StateIdle}
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Scheduler) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Status reports the loop's health.
func (s *Scheduler) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Status{
		State:               s.state,
		ConsecutiveFailures: s.deps.Escalator.Consecutive(),
		Escalations:         s.deps.Escalator.Escalations(),
	}
	if s.lastCycle != nil {
		c := *s.lastCycle
		st.LastCycle = &c
	}
	return st
}

// Run polls until ctx is cancelled, then sends the shutdown banner and
// returns. Cycle errors never end the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	log := logger.WithComponent("scheduler")
	log.Info().
		Dur("interval", s.cfg.Interval).
		Dur("error_backoff", s.cfg.ErrorBackoff).
		Int("failure_threshold", s.deps.Escalator.Rule().Threshold).
		Msg("starting poll loop")

	s.startup(ctx)

	for {
		if ctx.Err() != nil {
			break
		}
		wait := s.tick(ctx)
		if ctx.Err() != nil {
			break
		}

		timer := s.deps.Clock.Timer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-timer.C:
		}
	}

	s.shutdown()
	return nil
}

// tick runs one cycle, updates failure accounting and returns how long to
// wait before the next one.
func (s *Scheduler) tick(ctx context.Context) time.Duration {
	log := logger.WithComponent("scheduler")
	s.setState(StatePolling)

	res, err := s.RunCycle(ctx)
	if ctx.Err() != nil {
		return 0
	}
	if err == nil {
		s.deps.Escalator.RecordSuccess()
		s.setState(StateIdle)
		return s.cfg.Interval
	}

	count, escalate := s.deps.Escalator.RecordFailure()
	threshold := s.deps.Escalator.Rule().Threshold
	log.Warn().
		Err(err).
		Str("cycle_id", res.ID).
		Str("outcome", string(res.Outcome)).
		Int("attempt", count).
		Int("threshold", threshold).
		Msg("poll cycle failed")

	s.setState(StateIdle)
	if escalate {
		s.setState(StateEscalated)
		log.Error().Int("failures", count).Msg("consecutive failures reached threshold, escalating")
		n := s.deps.Composer.ConnectivityFailure(count, s.deps.Clock.Now())
		s.submit(models.NewEnvelope(&n, s.cfg.Node).WithCycle(res.ID))
	}

	switch res.Outcome {
	case OutcomeFetchError, OutcomeEmpty:
		return s.cfg.Interval
	default:
		return s.cfg.ErrorBackoff
	}
}

// RunCycle performs a single fetch-detect-notify pass. Transitions that were
// committed are submitted even when other sensors in the batch failed.
func (s *Scheduler) RunCycle(ctx context.Context) (res CycleResult, err error) {
	res = CycleResult{
		ID:        uuid.NewString(),
		StartedAt: s.deps.Clock.Now(),
	}
	log := logger.WithComponent("scheduler").With().Str("cycle_id", res.ID).Logger()

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("poll cycle panic recovered")
			metrics.PanicsRecovered.WithLabelValues("scheduler").Inc()
			res.Outcome = OutcomeCycleError
			err = fmt.Errorf("%w: %v", ErrCyclePanic, r)
		}
		res.Duration = s.deps.Clock.Since(res.StartedAt)
		if err != nil {
			res.Error = err.Error()
		}
		metrics.PollCyclesTotal.WithLabelValues(string(res.Outcome)).Inc()
		s.mu.Lock()
		last := res
		s.lastCycle = &last
		s.mu.Unlock()
	}()

	log.Debug().Str("phase", "fetch").Msg("checking sensors")
	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	snaps, err := s.deps.Fetcher.FetchSensors(fetchCtx)
	cancel()
	if err != nil {
		res.Outcome = OutcomeFetchError
		return res, err
	}
	res.Sensors = len(snaps)
	if len(snaps) == 0 {
		res.Outcome = OutcomeEmpty
		return res, ErrEmptyBatch
	}

	batch, err := s.deps.Observer.ObserveBatch(ctx, snaps)
	res.Transitions = len(batch.Transitions)
	res.Failed = batch.Failed

	for _, d := range batch.Transitions {
		n := s.compose(d)
		s.submit(models.NewEnvelope(&n, s.cfg.Node).WithCycle(res.ID))
	}

	if err != nil {
		res.Outcome = OutcomeCycleError
		log.Error().Err(err).Str("phase", "persist").Int("failed", batch.Failed).Msg("some sensors could not be processed")
		return res, err
	}

	res.Outcome = OutcomeOK
	log.Info().
		Int("sensors", res.Sensors).
		Int("new", batch.New).
		Int("skipped", batch.Skipped).
		Int("transitions", res.Transitions).
		Msg("poll cycle completed")
	return res, nil
}

func (s *Scheduler) compose(d detector.Decision) models.Notification {
	if d.Kind == detector.Recovered {
		return s.deps.Composer.Recovery(d)
	}
	return s.deps.Composer.Down(d)
}

func (s *Scheduler) submit(env *models.Envelope) {
	if s.deps.Submitter == nil {
		return
	}
	// Full-queue drops are logged and counted by the pool.
	_ = s.deps.Submitter.Submit(env)
}

// pushReady probes the push gateway; without a prober banners always go out.
func (s *Scheduler) pushReady(ctx context.Context) bool {
	if s.deps.Prober == nil {
		return true
	}
	ready, err := s.deps.Prober.Probe(ctx)
	return err == nil && ready
}

func (s *Scheduler) startup(ctx context.Context) {
	log := logger.WithComponent("scheduler")
	ready := s.pushReady(ctx)
	if !ready {
		log.Warn().Msg("push gateway not ready, startup notification not sent")
		return
	}
	n := s.deps.Composer.Startup(s.deps.Clock.Now(), ready)
	s.deliverBanner(ctx, &n)
}

func (s *Scheduler) shutdown() {
	log := logger.WithComponent("scheduler")
	s.setState(StateStopped)

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if s.pushReady(ctx) {
		n := s.deps.Composer.Shutdown(s.deps.Clock.Now())
		s.deliverBanner(ctx, &n)
	}
	log.Info().Msg("monitoring stopped")
}

// deliverBanner sends a lifecycle message directly; failures are logged only.
func (s *Scheduler) deliverBanner(ctx context.Context, n *models.Notification) {
	if s.deps.Deliverer == nil {
		return
	}
	env := models.NewEnvelope(n, s.cfg.Node)
	if err := s.deps.Deliverer.Deliver(ctx, env); err != nil {
		log := logger.WithComponent("scheduler")
		log.Warn().Err(err).Str("category", string(n.Category)).Msg("lifecycle notification failed")
	}
}
