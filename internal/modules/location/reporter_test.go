package location

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"ecoshare/internal/clock"
	"ecoshare/internal/config"
	"ecoshare/internal/modules/driver"
	"ecoshare/internal/modules/events"
	"ecoshare/internal/store/memstore"
	"ecoshare/internal/types"
)

var t0 = time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)

type recordingMirror struct {
	mu      sync.Mutex
	points  map[types.ID]types.Point
	removed []types.ID
}

func newRecordingMirror() *recordingMirror {
	return &recordingMirror{points: make(map[types.ID]types.Point)}
}

func (m *recordingMirror) Add(_ context.Context, id types.ID, p types.Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points[id] = p
	return nil
}

func (m *recordingMirror) Remove(_ context.Context, id types.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.points, id)
	m.removed = append(m.removed, id)
	return nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (s *recordingSink) Publish(_ context.Context, e events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func seed(st *memstore.Store) {
	st.PutDriver(driver.Driver{ID: "A", IsOnline: true, Location: &types.Point{Lat: 1, Lng: 1}, LastLocationUpdate: t0})
	st.PutDriver(driver.Driver{ID: "B", IsOnline: true, Location: &types.Point{Lat: 1, Lng: 1}, LastLocationUpdate: t0.Add(20 * time.Second)})
	st.PutDriver(driver.Driver{ID: "C", IsOnline: false, LastLocationUpdate: t0.Add(-time.Hour)})
}

func TestReportPositionUpdatesStoreAndMirror(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	seed(st)
	clk := clock.NewFake(t0.Add(time.Minute))
	mirror := newRecordingMirror()
	r := NewReporter(st.Drivers(), config.DefaultPresence(), WithClock(clk), WithMirror(mirror))

	p := types.Point{Lat: 9.03, Lng: 38.74}
	if err := r.ReportPosition(ctx, "A", p); err != nil {
		t.Fatalf("report position: %v", err)
	}
	d, _ := st.Drivers().Get(ctx, "A")
	if d.Location == nil || *d.Location != p || !d.LastLocationUpdate.Equal(clk.Now()) {
		t.Fatalf("unexpected driver: %+v", d)
	}
	if mirror.points["A"] != p {
		t.Fatal("position not mirrored")
	}

	for _, bad := range []types.Point{{Lat: 91}, {Lng: -181}, {Lat: math.NaN()}} {
		if err := r.ReportPosition(ctx, "A", bad); !errors.Is(err, ErrInvalidPosition) {
			t.Fatalf("ReportPosition(%v) = %v", bad, err)
		}
	}
	if err := r.ReportPosition(ctx, "missing", p); !errors.Is(err, driver.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestReportOnline(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	seed(st)
	clk := clock.NewFake(t0)
	mirror := newRecordingMirror()
	r := NewReporter(st.Drivers(), config.DefaultPresence(), WithClock(clk), WithMirror(mirror))

	if err := r.ReportOnline(ctx, "C", true); err != nil {
		t.Fatalf("report online: %v", err)
	}
	if err := r.ReportOnline(ctx, "A", false); err != nil {
		t.Fatalf("report offline: %v", err)
	}
	online, _ := st.Drivers().ListOnline(ctx)
	if len(online) != 2 || online[0].ID != "B" || online[1].ID != "C" {
		t.Fatalf("online drivers = %+v", online)
	}
	if _, ok := mirror.points["A"]; ok {
		t.Fatal("offline driver still mirrored")
	}
	if _, ok := mirror.points["C"]; ok {
		t.Fatal("driver without a position mirrored")
	}
}

func TestMirrorFollowsOnlineDriversOnly(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	seed(st)
	clk := clock.NewFake(t0)
	mirror := newRecordingMirror()
	r := NewReporter(st.Drivers(), config.DefaultPresence(), WithClock(clk), WithMirror(mirror))

	p := types.Point{Lat: 9.03, Lng: 38.74}
	if err := r.ReportPosition(ctx, "C", p); err != nil {
		t.Fatalf("report position: %v", err)
	}
	if _, ok := mirror.points["C"]; ok {
		t.Fatal("offline driver mirrored on a position report")
	}
	if d, _ := st.Drivers().Get(ctx, "C"); d.Location == nil || *d.Location != p {
		t.Fatalf("position not stored for offline driver: %+v", d)
	}

	if err := r.ReportOnline(ctx, "C", true); err != nil {
		t.Fatalf("report online: %v", err)
	}
	if mirror.points["C"] != p {
		t.Fatalf("driver not mirrored after coming online: %v", mirror.points)
	}

	if err := r.ReportOnline(ctx, "C", false); err != nil {
		t.Fatalf("report offline: %v", err)
	}
	if err := r.ReportPosition(ctx, "C", types.Point{Lat: 9.04, Lng: 38.75}); err != nil {
		t.Fatalf("report position: %v", err)
	}
	if _, ok := mirror.points["C"]; ok {
		t.Fatal("driver re-mirrored after going offline")
	}
}

func TestCheckStalenessDemotesOnlyStaleDrivers(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	seed(st)
	clk := clock.NewFake(t0.Add(30 * time.Second))
	sink := &recordingSink{}
	mirror := newRecordingMirror()
	r := NewReporter(st.Drivers(), config.DefaultPresence(), WithClock(clk), WithEvents(sink), WithMirror(mirror))

	// exactly at the threshold is still fresh
	n, err := r.CheckStaleness(ctx)
	if err != nil || n != 0 {
		t.Fatalf("CheckStaleness = %d, %v", n, err)
	}

	clk.Advance(time.Second)
	n, err = r.CheckStaleness(ctx)
	if err != nil || n != 1 {
		t.Fatalf("CheckStaleness = %d, %v", n, err)
	}
	a, _ := st.Drivers().Get(ctx, "A")
	if a.IsOnline || !a.LastOnlineUpdate.Equal(clk.Now()) {
		t.Fatalf("A not demoted: %+v", a)
	}
	if b, _ := st.Drivers().Get(ctx, "B"); !b.IsOnline {
		t.Fatal("fresh driver demoted")
	}
	if len(sink.events) != 1 || sink.events[0].Kind != events.KindDriverDemoted || *sink.events[0].DriverID != "A" {
		t.Fatalf("events = %+v", sink.events)
	}
	if len(mirror.removed) != 1 || mirror.removed[0] != "A" {
		t.Fatalf("mirror removals = %v", mirror.removed)
	}

	// nothing left to demote
	if n, _ := r.CheckStaleness(ctx); n != 0 {
		t.Fatalf("second check demoted %d", n)
	}
}

// racingDrivers delivers a fresh position right before each demotion.
type racingDrivers struct {
	*memstore.Drivers
}

func (d racingDrivers) DemoteIfStale(ctx context.Context, id types.ID, staleBefore, at time.Time) (bool, error) {
	if err := d.UpdatePosition(ctx, id, types.Point{Lat: 2, Lng: 2}, at); err != nil {
		return false, err
	}
	return d.Drivers.DemoteIfStale(ctx, id, staleBefore, at)
}

func TestCheckStalenessLosesToConcurrentReport(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	seed(st)
	clk := clock.NewFake(t0.Add(time.Minute))
	r := NewReporter(racingDrivers{st.Drivers()}, config.DefaultPresence(), WithClock(clk))

	n, err := r.CheckStaleness(ctx)
	if err != nil || n != 0 {
		t.Fatalf("CheckStaleness = %d, %v", n, err)
	}
	online, _ := st.Drivers().ListOnline(ctx)
	if len(online) != 2 {
		t.Fatalf("expected both drivers online, got %+v", online)
	}
}

func TestRunChecksUntilCancelled(t *testing.T) {
	st := memstore.New()
	seed(st)
	clk := clock.NewFake(t0.Add(time.Hour))
	cfg := config.PresenceConfig{StaleAfter: 30 * time.Second, CheckInterval: 5 * time.Millisecond}
	r := NewReporter(st.Drivers(), cfg, WithClock(clk))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		online, _ := st.Drivers().ListOnline(context.Background())
		if len(online) == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("drivers still online: %+v", online)
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
