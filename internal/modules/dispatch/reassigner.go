// README: Server-side reassignment trigger: assign the best candidate or schedule a pool reset.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"ecoshare/internal/clock"
	"ecoshare/internal/config"
	"ecoshare/internal/modules/driver"
	"ecoshare/internal/modules/events"
	"ecoshare/internal/modules/ride"
	"ecoshare/internal/observability"
	"ecoshare/internal/types"
)

// RideWriter is the subset of ride.Store the trigger reads and writes through.
type RideWriter interface {
	Get(ctx context.Context, id types.ID) (*ride.Request, error)
	Assign(ctx context.Context, id, driverID types.ID) (bool, error)
	ResetPool(ctx context.Context, id types.ID) (bool, error)
}

type DriverLister interface {
	ListOnline(ctx context.Context) ([]driver.Driver, error)
}

const resetWriteTimeout = 10 * time.Second

// Reassigner handles every write of a ride request. It is safe for concurrent
// and repeated invocation: an unchanged assignment writes nothing, and a
// pending reset is scheduled at most once per ride.
type Reassigner struct {
	rides    RideWriter
	drivers  DriverLister
	ledger   ResetLedger
	clock    clock.Clock
	events   events.Sink
	notifier Notifier
	cfg      config.DispatchConfig
	score    ScoreConfig
	log      *zap.Logger

	mu      sync.Mutex
	pending map[types.ID]scheduled
	closed  bool
}

// scheduled is either a reset this replica holds the claim for, or a re-check
// of a ride whose claim is held elsewhere.
type scheduled struct {
	timer   clock.Timer
	claimed bool
}

type Option func(*Reassigner)

func WithEvents(s events.Sink) Option { return func(r *Reassigner) { r.events = s } }
func WithNotifier(n Notifier) Option { return func(r *Reassigner) { r.notifier = n } }
func WithLogger(l *zap.Logger) Option { return func(r *Reassigner) { r.log = l } }
func WithLedger(l ResetLedger) Option { return func(r *Reassigner) { r.ledger = l } }
func WithClock(c clock.Clock) Option { return func(r *Reassigner) { r.clock = c } }

func NewReassigner(rides RideWriter, drivers DriverLister, cfg config.DispatchConfig, opts ...Option) *Reassigner {
	r := &Reassigner{
		rides:    rides,
		drivers:  drivers,
		clock:    clock.Real(),
		events:   events.Nop(),
		notifier: nopNotifier{},
		cfg:      cfg,
		score:    ScoreConfigFrom(cfg),
		log:      zap.NewNop(),
		pending:  make(map[types.ID]scheduled),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.ledger == nil {
		r.ledger = NewMemoryLedger(r.clock)
	}
	return r
}

// HandleWrite is invoked with the previous and new state of a ride request;
// either may be nil for creates and deletes.
func (r *Reassigner) HandleWrite(ctx context.Context, before, after *ride.Request) error {
	if after == nil || after.Status != ride.StatusWaiting {
		return nil
	}
	log := r.log.With(zap.String("ride_id", string(after.ID)))

	start := time.Now()
	online, err := r.drivers.ListOnline(ctx)
	if err != nil {
		observability.TriggerErrors.Inc()
		return fmt.Errorf("load candidates for ride %s: %w", after.ID, err)
	}
	chosen, ok := Select(*after, FromDrivers(online), r.score)
	observability.SelectLatency.Observe(time.Since(start).Seconds())

	if !ok {
		return r.scheduleReset(ctx, after.ID, log)
	}
	if after.IsAssignedTo(chosen) {
		return nil
	}

	changed, err := r.rides.Assign(ctx, after.ID, chosen)
	if err != nil {
		observability.TriggerErrors.Inc()
		return fmt.Errorf("assign ride %s to %s: %w", after.ID, chosen, err)
	}
	if !changed {
		return nil
	}
	observability.AssignmentsTotal.Inc()
	log.Info("ride offered", zap.String("driver_id", string(chosen)), zap.Int("pool", len(online)))
	r.publish(ctx, events.New(events.KindAssigned, after.ID, chosen, r.clock.Now()))

	for _, d := range online {
		if d.ID == chosen {
			if err := r.notifier.NotifyOffer(ctx, d, *after); err != nil {
				log.Warn("offer push failed", zap.String("driver_id", string(chosen)), zap.Error(err))
			}
			break
		}
	}
	return nil
}

func (r *Reassigner) scheduleReset(ctx context.Context, rideID types.ID, log *zap.Logger) error {
	r.mu.Lock()
	held := r.pending[rideID].claimed
	r.mu.Unlock()
	if held {
		return nil
	}

	claimed, err := r.ledger.Claim(ctx, rideID, r.claimTTL())
	if err != nil {
		observability.TriggerErrors.Inc()
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		if claimed {
			go r.release(rideID)
		}
		return nil
	}
	prev, busy := r.pending[rideID]
	if busy && (prev.claimed || !claimed) {
		if claimed {
			go r.release(rideID)
		}
		return nil
	}
	if busy {
		prev.timer.Stop()
	}
	if !claimed {
		// Another replica holds the claim. If it dies before resetting, the
		// claim expires and the ride is looked at again from here.
		r.pending[rideID] = scheduled{timer: r.clock.AfterFunc(r.claimTTL(), func() { r.recheck(rideID) })}
		log.Debug("reset claimed elsewhere, re-check scheduled", zap.Duration("after", r.claimTTL()))
		return nil
	}
	r.pending[rideID] = scheduled{timer: r.clock.AfterFunc(r.cfg.ResetDelay, func() { r.reset(rideID) }), claimed: true}
	log.Info("no candidate, pool reset scheduled", zap.Duration("delay", r.cfg.ResetDelay))
	return nil
}

func (r *Reassigner) claimTTL() time.Duration {
	return 2 * r.cfg.ResetDelay
}

// take removes the scheduled entry for rideID and reports whether the
// reassigner is still running.
func (r *Reassigner) take(rideID types.ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, rideID)
	return !r.closed
}

// reset clears the candidate pool. The claim is released first so the write
// it causes can schedule the next round when the pool is still empty.
func (r *Reassigner) reset(rideID types.ID) {
	if !r.take(rideID) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), resetWriteTimeout)
	defer cancel()
	log := r.log.With(zap.String("ride_id", string(rideID)))

	if err := r.ledger.Release(ctx, rideID); err != nil {
		log.Warn("release reset claim", zap.Error(err))
	}
	changed, err := r.rides.ResetPool(ctx, rideID)
	if err != nil {
		observability.TriggerErrors.Inc()
		log.Error("pool reset failed", zap.Error(err))
		return
	}
	if !changed {
		return
	}
	observability.PoolResetsTotal.Inc()
	r.publish(ctx, events.New(events.KindPoolReset, rideID, "", r.clock.Now()))
}

// recheck re-reads a ride whose reset was claimed by another replica and
// handles it as a fresh write.
func (r *Reassigner) recheck(rideID types.ID) {
	if !r.take(rideID) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), resetWriteTimeout)
	defer cancel()
	log := r.log.With(zap.String("ride_id", string(rideID)))

	cur, err := r.rides.Get(ctx, rideID)
	if errors.Is(err, ride.ErrNotFound) {
		return
	}
	if err == nil {
		err = r.HandleWrite(ctx, nil, cur)
	}
	if err == nil {
		return
	}
	log.Warn("ride re-check failed", zap.Error(err))
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.pending[rideID]; !r.closed && !busy {
		r.pending[rideID] = scheduled{timer: r.clock.AfterFunc(r.claimTTL(), func() { r.recheck(rideID) })}
	}
}

func (r *Reassigner) release(rideID types.ID) {
	ctx, cancel := context.WithTimeout(context.Background(), resetWriteTimeout)
	defer cancel()
	if err := r.ledger.Release(ctx, rideID); err != nil {
		r.log.Warn("release reset claim", zap.String("ride_id", string(rideID)), zap.Error(err))
	}
}

// Pending reports the number of scheduled resets.
func (r *Reassigner) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Close cancels every scheduled reset and gives up the claims this replica
// holds, so another replica can schedule them right away.
func (r *Reassigner) Close() {
	r.mu.Lock()
	r.closed = true
	var held []types.ID
	for id, p := range r.pending {
		p.timer.Stop()
		if p.claimed {
			held = append(held, id)
		}
		delete(r.pending, id)
	}
	r.mu.Unlock()

	for _, id := range held {
		r.release(id)
	}
}

func (r *Reassigner) publish(ctx context.Context, e events.Event) {
	if err := r.events.Publish(ctx, e); err != nil {
		r.log.Warn("publish dispatch event", zap.String("kind", string(e.Kind)), zap.Error(err))
	}
}
