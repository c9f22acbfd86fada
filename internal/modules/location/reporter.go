// README: Driver presence: position and online reports, staleness demotion loop.
package location

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"ecoshare/internal/clock"
	"ecoshare/internal/config"
	"ecoshare/internal/modules/driver"
	"ecoshare/internal/modules/events"
	"ecoshare/internal/observability"
	"ecoshare/internal/types"
)

var ErrInvalidPosition = errors.New("invalid position")

// DriverWriter is the part of driver.Store presence writes to.
type DriverWriter interface {
	Get(ctx context.Context, id types.ID) (*driver.Driver, error)
	ListOnline(ctx context.Context) ([]driver.Driver, error)
	UpdatePosition(ctx context.Context, id types.ID, p types.Point, at time.Time) error
	SetOnline(ctx context.Context, id types.ID, online bool, at time.Time) error
	DemoteIfStale(ctx context.Context, id types.ID, staleBefore, at time.Time) (bool, error)
}

// Mirror keeps a secondary position index in step with reports.
type Mirror interface {
	Add(ctx context.Context, id types.ID, p types.Point) error
	Remove(ctx context.Context, id types.ID) error
}

type Reporter struct {
	drivers DriverWriter
	mirror  Mirror
	events  events.Sink
	clock   clock.Clock
	cfg     config.PresenceConfig
	log     *zap.Logger
}

type Option func(*Reporter)

func WithMirror(m Mirror) Option      { return func(r *Reporter) { r.mirror = m } }
func WithEvents(s events.Sink) Option { return func(r *Reporter) { r.events = s } }
func WithClock(c clock.Clock) Option  { return func(r *Reporter) { r.clock = c } }
func WithLogger(l *zap.Logger) Option { return func(r *Reporter) { r.log = l } }

func NewReporter(drivers DriverWriter, cfg config.PresenceConfig, opts ...Option) *Reporter {
	r := &Reporter{
		drivers: drivers,
		events:  events.Nop(),
		clock:   clock.Real(),
		cfg:     cfg,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ReportPosition records the device position and refreshes its freshness
// timestamp. Failures are logged and returned; the device simply reports
// again on its next fix.
func (r *Reporter) ReportPosition(ctx context.Context, id types.ID, p types.Point) error {
	if !validPoint(p) {
		return ErrInvalidPosition
	}
	if err := r.drivers.UpdatePosition(ctx, id, p, r.clock.Now()); err != nil {
		observability.PresenceErrors.WithLabelValues("position").Inc()
		r.log.Warn("position update failed", zap.String("driver_id", string(id)), zap.Error(err))
		return fmt.Errorf("report position: %w", err)
	}
	r.syncMirror(ctx, id)
	return nil
}

func (r *Reporter) ReportOnline(ctx context.Context, id types.ID, online bool) error {
	if err := r.drivers.SetOnline(ctx, id, online, r.clock.Now()); err != nil {
		observability.PresenceErrors.WithLabelValues("online").Inc()
		r.log.Warn("online update failed", zap.String("driver_id", string(id)), zap.Bool("online", online), zap.Error(err))
		return fmt.Errorf("report online: %w", err)
	}
	if !online {
		r.unmirror(ctx, id)
		return nil
	}
	r.syncMirror(ctx, id)
	return nil
}

// CheckStaleness demotes every online driver whose last position report is
// older than StaleAfter. Each demotion is re-checked inside the store write,
// so a report racing the check wins.
func (r *Reporter) CheckStaleness(ctx context.Context) (int, error) {
	online, err := r.drivers.ListOnline(ctx)
	if err != nil {
		observability.PresenceErrors.WithLabelValues("list").Inc()
		return 0, fmt.Errorf("list online drivers: %w", err)
	}
	now := r.clock.Now()
	staleBefore := now.Add(-r.cfg.StaleAfter)

	var errs []error
	demoted := 0
	for _, d := range online {
		if !d.IsStale(now, r.cfg.StaleAfter) {
			continue
		}
		ok, err := r.drivers.DemoteIfStale(ctx, d.ID, staleBefore, now)
		if err != nil {
			observability.PresenceErrors.WithLabelValues("demote").Inc()
			errs = append(errs, fmt.Errorf("demote %s: %w", d.ID, err))
			continue
		}
		if !ok {
			continue
		}
		demoted++
		observability.PresenceDemotions.Inc()
		r.unmirror(ctx, d.ID)
		r.log.Info("driver demoted to offline",
			zap.String("driver_id", string(d.ID)),
			zap.Time("last_location_update", d.LastLocationUpdate))
		e := events.New(events.KindDriverDemoted, "", d.ID, now).
			With("last_location_update", d.LastLocationUpdate.UTC().Format(time.RFC3339))
		if err := r.events.Publish(ctx, e); err != nil {
			r.log.Warn("publish demotion event", zap.Error(err))
		}
	}
	return demoted, errors.Join(errs...)
}

// Run checks staleness every CheckInterval until ctx is done.
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.CheckStaleness(ctx); err != nil {
				r.log.Warn("staleness check failed", zap.Error(err))
			}
		}
	}
}

// syncMirror indexes a driver only while it is online with a known position,
// so the mirror answers the same as a scan of online drivers.
func (r *Reporter) syncMirror(ctx context.Context, id types.ID) {
	if r.mirror == nil {
		return
	}
	d, err := r.drivers.Get(ctx, id)
	if err != nil {
		r.log.Warn("position mirror lookup failed", zap.String("driver_id", string(id)), zap.Error(err))
		return
	}
	if !d.IsOnline || d.Location == nil {
		r.unmirror(ctx, id)
		return
	}
	if err := r.mirror.Add(ctx, id, *d.Location); err != nil {
		r.log.Warn("position mirror update failed", zap.String("driver_id", string(id)), zap.Error(err))
	}
}

func (r *Reporter) unmirror(ctx context.Context, id types.ID) {
	if r.mirror == nil {
		return
	}
	if err := r.mirror.Remove(ctx, id); err != nil {
		r.log.Warn("position mirror removal failed", zap.String("driver_id", string(id)), zap.Error(err))
	}
}

func validPoint(p types.Point) bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}
