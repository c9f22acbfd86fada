package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ecoshare/internal/clock"
	"ecoshare/internal/config"
	"ecoshare/internal/modules/driver"
	"ecoshare/internal/modules/ride"
	"ecoshare/internal/store/memstore"
	"ecoshare/internal/types"
)

func TestRunFollowsChangeFeed(t *testing.T) {
	st := memstore.New()
	st.PutDriver(onlineDriver("A", 11.56, 43.15, 5))
	st.PutDriver(onlineDriver("B", 11.50, 43.10, 0))
	st.PutRide(waitingRide())
	clk := clock.NewFake(t0)
	r := NewReassigner(st, st.Drivers(), config.DefaultDispatch(), WithClock(clk))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, st) }()

	assignedTo := func(id types.ID) func() bool {
		return func() bool {
			got, _ := st.Get(context.Background(), "ride_1")
			return got.IsAssignedTo(id)
		}
	}
	eventually(t, "offer to A", assignedTo("A"))

	// A declines; the write feeds back into the trigger
	if err := st.Decline(context.Background(), "ride_1", "A"); err != nil {
		t.Fatalf("decline: %v", err)
	}
	eventually(t, "offer to B after A declined", assignedTo("B"))

	// B declines too: nobody left, reset after the backoff, then A again
	if err := st.Decline(context.Background(), "ride_1", "B"); err != nil {
		t.Fatalf("decline: %v", err)
	}
	eventually(t, "pending reset", func() bool { return r.Pending() == 1 })
	clk.Advance(10 * time.Second)
	eventually(t, "fresh pool offered to A", assignedTo("A"))
	if got, _ := st.Get(context.Background(), "ride_1"); len(got.DeclinedDrivers) != 0 {
		t.Fatalf("declines survived the reset: %+v", got)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if st.Watchers() != 0 {
		t.Fatal("change feed left open")
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// flakyRides fails the first failures Assign calls.
type flakyRides struct {
	*fakeRides
	mu       sync.Mutex
	failures int
	attempts int
}

func (f *flakyRides) Assign(ctx context.Context, id, driverID types.ID) (bool, error) {
	f.mu.Lock()
	f.attempts++
	fail := f.failures > 0
	if fail {
		f.failures--
	}
	f.mu.Unlock()
	if fail {
		return false, errors.New("deadline exceeded")
	}
	return f.fakeRides.Assign(ctx, id, driverID)
}

func TestDeliverRetriesWithBackoff(t *testing.T) {
	r := waitingRide()
	h := newHarness([]ride.Request{r}, []driver.Driver{onlineDriver("A", 11.56, 43.15, 5)})
	flaky := &flakyRides{fakeRides: h.rides, failures: 2}
	re := NewReassigner(flaky, h.drivers, config.DefaultDispatch(), WithClock(h.clock))

	re.deliver(context.Background(), nil, &r, 1)
	if flaky.attempts != 1 {
		t.Fatalf("attempts = %d", flaky.attempts)
	}
	h.clock.Advance(time.Second)
	if flaky.attempts != 2 {
		t.Fatalf("attempts after 1s = %d", flaky.attempts)
	}
	h.clock.Advance(2 * time.Second)
	if flaky.attempts != 3 {
		t.Fatalf("attempts after 3s = %d", flaky.attempts)
	}
	if got := h.rides.get(r.ID); !got.IsAssignedTo("A") {
		t.Fatalf("retry did not assign: %+v", got)
	}
	if h.clock.Pending() != 0 {
		t.Fatalf("retries left scheduled: %d", h.clock.Pending())
	}
}

func TestDeliverGivesUp(t *testing.T) {
	r := waitingRide()
	h := newHarness([]ride.Request{r}, []driver.Driver{onlineDriver("A", 11.56, 43.15, 5)})
	flaky := &flakyRides{fakeRides: h.rides, failures: 100}
	re := NewReassigner(flaky, h.drivers, config.DefaultDispatch(), WithClock(h.clock))

	re.deliver(context.Background(), nil, &r, 1)
	h.clock.Advance(time.Minute)
	if flaky.attempts != maxDeliveries {
		t.Fatalf("attempts = %d, want %d", flaky.attempts, maxDeliveries)
	}
	if h.clock.Pending() != 0 {
		t.Fatalf("retries left scheduled: %d", h.clock.Pending())
	}
}
