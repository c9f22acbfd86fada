// README: Per-driver ride offer state machine: subscribe, select locally, enrich, count down, accept or decline.
package offer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"ecoshare/internal/clock"
	"ecoshare/internal/config"
	"ecoshare/internal/modules/dispatch"
	"ecoshare/internal/modules/driver"
	"ecoshare/internal/modules/earnings"
	"ecoshare/internal/modules/events"
	"ecoshare/internal/modules/ride"
	"ecoshare/internal/observability"
	"ecoshare/internal/types"
)

// DriverDirectory is the part of driver.Store a session reads and writes.
type DriverDirectory interface {
	Get(ctx context.Context, id types.ID) (*driver.Driver, error)
	ListOnline(ctx context.Context) ([]driver.Driver, error)
	RecordRide(ctx context.Context, id types.ID, at time.Time) error
}

type Deps struct {
	Rides    ride.Store
	Drivers  DriverDirectory
	Enricher *Enricher
	Earnings earnings.Recorder
	Events   events.Sink
	Clock    clock.Clock
	Log      *zap.Logger
}

// Session is the offer flow of one signed-in driver device.
//
// Every live query and timer is tagged with a generation; tearing a
// subscription down bumps the generation under the lock, so callbacks that
// were already in flight are dropped. Store and network calls are made with
// the lock released.
type Session struct {
	driverID types.ID
	cfg      config.DispatchConfig
	score    dispatch.ScoreConfig
	deps     Deps
	log      *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc

	mu             sync.Mutex
	state          State
	online         bool
	vehicleType    string
	rideInProgress bool
	currentRide    *ride.Request
	closed         bool

	gen uint64
	sub ride.Subscription

	seq       uint64
	offer     *Offer
	countdown clock.Timer

	coolSeq       uint64
	cooldown      clock.Timer
	cooldownUntil time.Time

	watchers    map[int]chan Snapshot
	nextWatcher int
}

func NewSession(ctx context.Context, driverID types.ID, cfg config.DispatchConfig, deps Deps) *Session {
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Events == nil {
		deps.Events = events.Nop()
	}
	if deps.Enricher == nil {
		deps.Enricher = NewEnricher(nil, nil, nil, cfg.AvgSpeedKmh, deps.Log)
	}
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(ctx)
	observability.ActiveSessions.Inc()
	return &Session{
		driverID: driverID,
		cfg:      cfg,
		score:    dispatch.ScoreConfigFrom(cfg),
		deps:     deps,
		log:      log.With(zap.String("driver_id", string(driverID))),
		ctx:      ctx,
		cancel:   cancel,
		state:    StateIdle,
		watchers: make(map[int]chan Snapshot),
	}
}

func (s *Session) DriverID() types.ID { return s.driverID }

// plan is the subscription work decided under the lock and executed after it.
type plan struct {
	stop     ride.Subscription
	start    bool
	gen      uint64
	rideType string
}

func (s *Session) SetOnline(online bool) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.online = online
	p := s.reconcileLocked()
	s.publishLocked()
	s.mu.Unlock()
	return s.apply(p)
}

// SetVehicleType changes the ride type the live query filters on. An active
// subscription is replaced.
func (s *Session) SetVehicleType(vehicleType string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if vehicleType == s.vehicleType {
		s.mu.Unlock()
		return nil
	}
	s.vehicleType = vehicleType
	var stop ride.Subscription
	if s.state.subscribed() {
		stop = s.teardownLocked(StateIdle)
	}
	p := s.reconcileLocked()
	p.stop = stop
	s.publishLocked()
	s.mu.Unlock()
	return s.apply(p)
}

// Accept takes the offered ride. The live query is dropped before the write
// so no second offer can appear. ride.ErrConflict means the ride went to
// someone else; the session is then subscribed again.
func (s *Session) Accept(ctx context.Context) (*ride.Request, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if s.state != StateOfferReady {
		s.mu.Unlock()
		return nil, ErrNoOffer
	}
	o := *s.offer
	stop := s.teardownLocked(StateRideAccepted)
	s.rideInProgress = true
	s.mu.Unlock()
	if stop != nil {
		stop.Stop()
	}

	acceptance := driver.Driver{ID: s.driverID}.Acceptance()
	if d, err := s.deps.Drivers.Get(ctx, s.driverID); err == nil {
		acceptance = d.Acceptance()
	} else {
		s.log.Warn("driver profile unavailable for accept", zap.Error(err))
	}

	accepted, err := s.deps.Rides.Accept(ctx, o.Ride.ID, acceptance)
	now := s.deps.Clock.Now()
	if err != nil {
		s.mu.Lock()
		s.rideInProgress = false
		s.state = StateIdle
		p := s.reconcileLocked()
		s.publishLocked()
		s.mu.Unlock()

		if errors.Is(err, ride.ErrConflict) {
			observability.OfferOutcomes.WithLabelValues("conflict").Inc()
			s.publishEvent(events.New(events.KindOfferConflict, o.Ride.ID, s.driverID, now))
			s.log.Info("ride taken by another driver", zap.String("ride_id", string(o.Ride.ID)))
		}
		if perr := s.apply(p); perr != nil {
			s.log.Warn("resubscribe after failed accept", zap.Error(perr))
		}
		return nil, fmt.Errorf("accept ride %s: %w", o.Ride.ID, err)
	}

	if err := s.deps.Drivers.RecordRide(ctx, s.driverID, now); err != nil {
		s.log.Warn("record ride count failed", zap.Error(err))
	}
	if s.deps.Earnings != nil {
		if err := s.deps.Earnings.Record(ctx, s.driverID, accepted.Fare, now); err != nil {
			s.log.Warn("record earnings failed", zap.Error(err))
		}
	}

	cp := accepted.Clone()
	s.mu.Lock()
	s.currentRide = &cp
	s.publishLocked()
	s.mu.Unlock()

	observability.OfferOutcomes.WithLabelValues("accepted").Inc()
	s.publishEvent(events.New(events.KindOfferAccepted, o.Ride.ID, s.driverID, now))
	s.log.Info("ride accepted", zap.String("ride_id", string(o.Ride.ID)))
	return &cp, nil
}

// Decline rejects the offered ride and starts the cooldown.
func (s *Session) Decline(ctx context.Context) error {
	return s.decline(ctx, 0, false)
}

// RideFinished ends the accepted ride and makes the driver available again.
func (s *Session) RideFinished() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.state != StateRideAccepted || s.currentRide == nil {
		s.mu.Unlock()
		return ErrNoRide
	}
	s.rideInProgress = false
	s.currentRide = nil
	s.state = StateIdle
	s.online = true
	p := s.reconcileLocked()
	s.publishLocked()
	s.mu.Unlock()
	return s.apply(p)
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Watch streams snapshots after every state change, starting with the
// current one. Slow readers only see the latest snapshot.
func (s *Session) Watch() (<-chan Snapshot, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan Snapshot, 1)
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	id := s.nextWatcher
	s.nextWatcher++
	s.watchers[id] = ch
	ch <- s.snapshotLocked()
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.watchers[id]; ok {
			delete(s.watchers, id)
			close(c)
		}
	}
}

// Close tears everything down. It is safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	var stop ride.Subscription
	if s.state.subscribed() {
		stop = s.teardownLocked(StateIdle)
	} else {
		s.gen++
		s.clearOfferLocked()
	}
	s.stopCooldownLocked()
	for id, ch := range s.watchers {
		delete(s.watchers, id)
		close(ch)
	}
	s.mu.Unlock()

	if stop != nil {
		stop.Stop()
	}
	s.cancel()
	observability.ActiveSessions.Dec()
}

// reconcileLocked subscribes or tears down so that a live query exists
// exactly when the driver is online, idle, out of cooldown and has a vehicle
// type.
func (s *Session) reconcileLocked() plan {
	want := !s.closed && s.online && !s.rideInProgress && s.cooldown == nil && s.vehicleType != ""
	switch {
	case want && s.state == StateIdle:
		s.gen++
		s.state = StateSubscribed
		return plan{start: true, gen: s.gen, rideType: s.vehicleType}
	case !want && s.state.subscribed():
		return plan{stop: s.teardownLocked(StateIdle)}
	}
	return plan{}
}

// teardownLocked invalidates the live query and any offer. The returned
// handle must be stopped once the lock is released.
func (s *Session) teardownLocked(next State) ride.Subscription {
	s.gen++
	s.clearOfferLocked()
	sub := s.sub
	s.sub = nil
	s.state = next
	return sub
}

func (s *Session) clearOfferLocked() {
	s.seq++
	s.offer = nil
	if s.countdown != nil {
		s.countdown.Stop()
		s.countdown = nil
	}
}

func (s *Session) stopCooldownLocked() {
	s.coolSeq++
	if s.cooldown != nil {
		s.cooldown.Stop()
		s.cooldown = nil
	}
	s.cooldownUntil = time.Time{}
}

func (s *Session) apply(p plan) error {
	if p.stop != nil {
		p.stop.Stop()
	}
	if !p.start {
		return nil
	}
	gen := p.gen
	sub, err := s.deps.Rides.WatchWaiting(s.ctx, p.rideType, func(rides []ride.Request) {
		s.onRides(gen, rides)
	})

	s.mu.Lock()
	if err != nil {
		if s.gen == gen {
			s.gen++
			s.clearOfferLocked()
			s.state = StateIdle
			s.publishLocked()
		}
		s.mu.Unlock()
		return fmt.Errorf("subscribe to %s rides: %w", p.rideType, err)
	}
	if s.gen != gen {
		s.mu.Unlock()
		sub.Stop()
		return nil
	}
	s.sub = sub
	s.mu.Unlock()
	return nil
}

// onRides handles one live-query result: the full set of waiting rides of
// this driver's vehicle type, oldest first.
func (s *Session) onRides(gen uint64, rides []ride.Request) {
	s.mu.Lock()
	if gen != s.gen || !s.state.subscribed() {
		s.mu.Unlock()
		return
	}
	if s.offer != nil {
		if r, ok := findRide(rides, s.offer.Ride.ID); ok && s.offerableLocked(r) {
			s.mu.Unlock()
			return
		}
		s.clearOfferLocked()
		s.state = StateSubscribed
		s.publishLocked()
	}

	var first *ride.Request
	for i := range rides {
		if s.offerableLocked(rides[i]) {
			first = &rides[i]
			break
		}
	}
	if first == nil {
		s.mu.Unlock()
		return
	}
	s.seq++
	seq := s.seq
	candidate := first.Clone()
	s.mu.Unlock()

	s.evaluate(gen, seq, candidate)
}

func (s *Session) offerableLocked(r ride.Request) bool {
	return r.Status == ride.StatusWaiting && !r.DeclinedDrivers.Contains(s.driverID)
}

// evaluate re-runs the selector for r and, when this driver wins, enriches
// and shows the offer.
func (s *Session) evaluate(gen, seq uint64, r ride.Request) {
	drivers, err := s.deps.Drivers.ListOnline(s.ctx)
	if err != nil {
		s.log.Warn("load driver pool failed", zap.String("ride_id", string(r.ID)), zap.Error(err))
		return
	}
	chosen, ok := dispatch.Select(r, dispatch.FromDrivers(drivers), s.score)
	if !ok || chosen != s.driverID {
		return
	}

	s.mu.Lock()
	if !s.currentLocked(gen, seq) {
		s.mu.Unlock()
		return
	}
	s.state = StateOfferPending
	s.offer = &Offer{Ride: r}
	s.publishLocked()
	s.mu.Unlock()

	o := s.deps.Enricher.Enrich(s.ctx, r)

	s.mu.Lock()
	if !s.currentLocked(gen, seq) {
		s.mu.Unlock()
		return
	}
	now := s.deps.Clock.Now()
	o.Deadline = now.Add(s.cfg.OfferTimeout)
	s.offer = &o
	s.state = StateOfferReady
	s.countdown = s.deps.Clock.AfterFunc(s.cfg.OfferTimeout, func() { s.expire(seq) })
	s.publishLocked()
	s.mu.Unlock()

	observability.OffersShown.Inc()
	s.publishEvent(events.New(events.KindOfferShown, r.ID, s.driverID, now))
}

func (s *Session) currentLocked(gen, seq uint64) bool {
	return gen == s.gen && seq == s.seq && s.state.subscribed()
}

func (s *Session) expire(seq uint64) {
	if err := s.decline(s.ctx, seq, true); err != nil && !errors.Is(err, ErrNoOffer) && !errors.Is(err, ErrSessionClosed) {
		s.log.Warn("auto-decline failed", zap.Error(err))
	}
}

// decline records the rejection, drops the live query and starts the
// cooldown. timedOut declines only act on the offer numbered seq.
func (s *Session) decline(ctx context.Context, seq uint64, timedOut bool) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.state != StateOfferReady || (timedOut && seq != s.seq) {
		s.mu.Unlock()
		return ErrNoOffer
	}
	o := *s.offer
	stop := s.teardownLocked(StateIdle)
	s.startCooldownLocked()
	s.publishLocked()
	s.mu.Unlock()
	if stop != nil {
		stop.Stop()
	}

	kind, outcome := events.KindOfferDeclined, "declined"
	if timedOut {
		kind, outcome = events.KindOfferExpired, "expired"
	}
	observability.OfferOutcomes.WithLabelValues(outcome).Inc()

	if err := s.deps.Rides.Decline(ctx, o.Ride.ID, s.driverID); err != nil {
		return fmt.Errorf("decline ride %s: %w", o.Ride.ID, err)
	}
	s.publishEvent(events.New(kind, o.Ride.ID, s.driverID, s.deps.Clock.Now()))
	return nil
}

func (s *Session) startCooldownLocked() {
	s.stopCooldownLocked()
	c := s.coolSeq
	s.cooldownUntil = s.deps.Clock.Now().Add(s.cfg.DeclineCooldown)
	s.cooldown = s.deps.Clock.AfterFunc(s.cfg.DeclineCooldown, func() { s.endCooldown(c) })
}

func (s *Session) endCooldown(c uint64) {
	s.mu.Lock()
	if c != s.coolSeq || s.cooldown == nil {
		s.mu.Unlock()
		return
	}
	s.cooldown = nil
	s.cooldownUntil = time.Time{}
	p := s.reconcileLocked()
	s.publishLocked()
	s.mu.Unlock()
	if err := s.apply(p); err != nil {
		s.log.Warn("resubscribe after cooldown", zap.Error(err))
	}
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		DriverID:       s.driverID,
		State:          s.state,
		Online:         s.online,
		VehicleType:    s.vehicleType,
		RideInProgress: s.rideInProgress,
	}
	if s.cooldown != nil {
		until := s.cooldownUntil
		snap.CooldownUntil = &until
	}
	if s.offer != nil {
		o := *s.offer
		o.Ride = s.offer.Ride.Clone()
		snap.Offer = &o
	}
	if s.currentRide != nil {
		r := s.currentRide.Clone()
		snap.CurrentRide = &r
	}
	return snap
}

func (s *Session) publishLocked() {
	if len(s.watchers) == 0 {
		return
	}
	snap := s.snapshotLocked()
	for _, ch := range s.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}

func (s *Session) publishEvent(e events.Event) {
	if err := s.deps.Events.Publish(s.ctx, e); err != nil {
		s.log.Warn("publish offer event", zap.String("kind", string(e.Kind)), zap.Error(err))
	}
}

func findRide(rides []ride.Request, id types.ID) (ride.Request, bool) {
	for _, r := range rides {
		if r.ID == id {
			return r, true
		}
	}
	return ride.Request{}, false
}
