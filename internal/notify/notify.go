// Package notify composes alert messages and delivers them over the
// configured channels (push gateway, email, event stream).
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"prtgalert/internal/logger"
	"prtgalert/internal/metrics"
	"prtgalert/internal/models"
)

// Delivery errors
var (
	ErrDelivery        = errors.New("notification delivery failed")
	ErrGatewayNotReady = errors.New("push gateway not connected")
)

// Channel delivers a notification over one transport.
type Channel interface {
	Name() string
	Send(ctx context.Context, env *models.Envelope) error
}

// Prober reports whether a channel is ready to deliver.
type Prober interface {
	Probe(ctx context.Context) (bool, error)
}

// Categories commonly routed together.
var (
	TransitionCategories = []models.Category{models.CategoryDown, models.CategoryRecovery}
	AllCategories        = []models.Category{
		models.CategoryDown,
		models.CategoryRecovery,
		models.CategoryConnectivityFailure,
		models.CategoryStartup,
		models.CategoryShutdown,
		models.CategoryReport,
		models.CategoryTest,
	}
)

// Route binds a channel to the categories it carries.
type Route struct {
	Channel    Channel
	Categories []models.Category
}

// Accepts reports whether the route carries category c.
func (r Route) Accepts(c models.Category) bool {
	for _, cat := range r.Categories {
		if cat == c {
			return true
		}
	}
	return false
}

// Dispatcher fans a notification out to every route that accepts it.
type Dispatcher struct {
	routes []Route
}

// NewDispatcher creates a dispatcher; routes without a channel are ignored.
func NewDispatcher(routes ...Route) *Dispatcher {
	d := &Dispatcher{}
	for _, r := range routes {
		if r.Channel != nil {
			d.routes = append(d.routes, r)
		}
	}
	return d
}

// Channels lists the configured channel names.
func (d *Dispatcher) Channels() []string {
	names := make([]string, 0, len(d.routes))
	for _, r := range d.routes {
		names = append(names, r.Channel.Name())
	}
	return names
}

// Routes reports whether any configured channel carries category c.
func (d *Dispatcher) Routes(c models.Category) bool {
	for _, r := range d.routes {
		if r.Accepts(c) {
			return true
		}
	}
	return false
}

// Deliver sends env on every matching channel. A failing channel does not
// stop the others; all failures are returned combined.
func (d *Dispatcher) Deliver(ctx context.Context, env *models.Envelope) error {
	if env == nil || env.Notification == nil {
		return fmt.Errorf("%w: empty envelope", ErrDelivery)
	}
	if err := env.Notification.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrDelivery, err)
	}
	category := env.Notification.Category
	log := logger.WithComponent("notify").With().
		Str("notification_id", env.ID).
		Str("category", string(category)).
		Str("sensor_id", env.Notification.SensorID).
		Logger()

	var errs error
	for _, r := range d.routes {
		if !r.Accepts(category) {
			continue
		}
		name := r.Channel.Name()
		start := time.Now()
		err := r.Channel.Send(ctx, env)
		metrics.NotificationDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

		if err != nil {
			metrics.NotificationsTotal.WithLabelValues(name, string(category), "failed").Inc()
			log.Error().Err(err).Str("channel", name).Msg("notification delivery failed")
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		metrics.NotificationsTotal.WithLabelValues(name, string(category), "success").Inc()
		log.Info().Str("channel", name).Msg("notification delivered")
	}
	return errs
}
