// README: In-memory rides, drivers, contacts and earnings with live queries, for tests and local runs.
package memstore

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"ecoshare/internal/modules/driver"
	"ecoshare/internal/modules/earnings"
	"ecoshare/internal/modules/ride"
	"ecoshare/internal/types"
)

// Store applies the same write rules as the Firestore stores, each write
// atomic under one lock. Live-query callbacks run on the goroutine that made
// the write (or opened the query), one at a time and never under the lock;
// writes made from inside a callback are delivered after it returns.
type Store struct {
	mu       sync.Mutex
	rides    map[types.ID]*versioned
	drivers  map[types.ID]driver.Driver
	contacts map[types.ID]ride.Contact
	earnings map[string]earnings.Day

	nextID   int
	watchers map[int]*waitingWatcher
	feeds    map[int]*changeFeed
	draining bool
	dirty    bool
}

type versioned struct {
	req     ride.Request
	version uint64
}

type waitingWatcher struct {
	rideType  string
	fn        func([]ride.Request)
	handle    *ride.Handle
	delivered bool
	key       string
}

type changeFeed struct {
	fn     func(before, after *ride.Request)
	handle *ride.Handle
	seen   map[types.ID]versioned
}

func New() *Store {
	return &Store{
		rides:    make(map[types.ID]*versioned),
		drivers:  make(map[types.ID]driver.Driver),
		contacts: make(map[types.ID]ride.Contact),
		earnings: make(map[string]earnings.Day),
		watchers: make(map[int]*waitingWatcher),
		feeds:    make(map[int]*changeFeed),
	}
}

// PutRide creates or replaces a ride request, as the rider app would.
func (s *Store) PutRide(r ride.Request) {
	s.mu.Lock()
	v, ok := s.rides[r.ID]
	if !ok {
		v = &versioned{}
		s.rides[r.ID] = v
	}
	v.req = r.Clone()
	v.version++
	s.mu.Unlock()
	s.flush()
}

func (s *Store) PutDriver(d driver.Driver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drivers[d.ID] = d
}

func (s *Store) PutContact(rideID types.ID, c ride.Contact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts[rideID] = c
}

// Ride stores.

func (s *Store) Get(_ context.Context, id types.ID) (*ride.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.rides[id]
	if !ok {
		return nil, ride.ErrNotFound
	}
	r := v.req.Clone()
	return &r, nil
}

func (s *Store) Assign(_ context.Context, id, driverID types.ID) (bool, error) {
	return s.mutate(id, func(r *ride.Request) (bool, error) {
		if !ride.CheckAssign(r, driverID) {
			return false, nil
		}
		ride.ApplyAssign(r, driverID)
		return true, nil
	})
}

func (s *Store) ResetPool(_ context.Context, id types.ID) (bool, error) {
	return s.mutate(id, func(r *ride.Request) (bool, error) {
		if !ride.CheckReset(r) {
			return false, nil
		}
		ride.ApplyReset(r)
		return true, nil
	})
}

func (s *Store) Decline(_ context.Context, id, driverID types.ID) error {
	_, err := s.mutate(id, func(r *ride.Request) (bool, error) {
		if !ride.CheckDecline(r, driverID) {
			return false, nil
		}
		ride.ApplyDecline(r, driverID)
		return true, nil
	})
	return err
}

func (s *Store) Accept(_ context.Context, id types.ID, a ride.Acceptance) (*ride.Request, error) {
	var accepted ride.Request
	_, err := s.mutate(id, func(r *ride.Request) (bool, error) {
		if err := ride.CheckAccept(r, a.DriverID); err != nil {
			return false, err
		}
		ride.ApplyAccept(r, a)
		accepted = r.Clone()
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return &accepted, nil
}

// mutate runs fn on a copy of the ride and commits it when fn reports a write.
func (s *Store) mutate(id types.ID, fn func(r *ride.Request) (bool, error)) (bool, error) {
	s.mu.Lock()
	v, ok := s.rides[id]
	if !ok {
		s.mu.Unlock()
		return false, ride.ErrNotFound
	}
	next := v.req.Clone()
	changed, err := fn(&next)
	if err != nil || !changed {
		s.mu.Unlock()
		return false, err
	}
	v.req = next
	v.version++
	s.mu.Unlock()
	s.flush()
	return true, nil
}

func (s *Store) WatchWaiting(ctx context.Context, rideType string, fn func([]ride.Request)) (ride.Subscription, error) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	h := ride.NewHandle(func() {
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	})
	s.watchers[id] = &waitingWatcher{rideType: rideType, fn: fn, handle: h}
	s.mu.Unlock()

	context.AfterFunc(ctx, h.Stop)
	s.flush()
	return h, nil
}

func (s *Store) WatchChanges(ctx context.Context, fn func(before, after *ride.Request)) (ride.Subscription, error) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	h := ride.NewHandle(func() {
		s.mu.Lock()
		delete(s.feeds, id)
		s.mu.Unlock()
	})
	s.feeds[id] = &changeFeed{fn: fn, handle: h, seen: make(map[types.ID]versioned)}
	s.mu.Unlock()

	context.AfterFunc(ctx, h.Stop)
	s.flush()
	return h, nil
}

func (s *Store) LookupContact(_ context.Context, rideID types.ID) (ride.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[rideID]
	if !ok {
		return ride.Contact{}, ride.ErrNotFound
	}
	return c, nil
}

// flush delivers pending live-query results. Only one goroutine delivers at a
// time; a write during delivery marks the store dirty and is picked up by
// the delivering goroutine's next round.
func (s *Store) flush() {
	s.mu.Lock()
	s.dirty = true
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	for s.dirty {
		s.dirty = false
		deliveries := s.collectLocked()
		s.mu.Unlock()
		for _, deliver := range deliveries {
			deliver()
		}
		s.mu.Lock()
	}
	s.draining = false
	s.mu.Unlock()
}

func (s *Store) collectLocked() []func() {
	var out []func()

	for _, id := range sortedKeys(s.watchers) {
		w := s.watchers[id]
		rides := s.waitingLocked(w.rideType)
		key := resultKey(rides, s.rides)
		if w.delivered && key == w.key {
			continue
		}
		w.delivered = true
		w.key = key
		out = append(out, func() {
			if w.handle.Active() {
				w.fn(rides)
			}
		})
	}

	if len(s.feeds) == 0 {
		return out
	}
	rideIDs := make([]types.ID, 0, len(s.rides))
	for id := range s.rides {
		rideIDs = append(rideIDs, id)
	}
	sort.Slice(rideIDs, func(i, j int) bool { return rideIDs[i] < rideIDs[j] })

	for _, fid := range sortedKeys(s.feeds) {
		f := s.feeds[fid]
		for _, rid := range rideIDs {
			cur := s.rides[rid]
			prev, seen := f.seen[rid]
			var before *ride.Request
			if seen {
				b := prev.req.Clone()
				before = &b
			}
			// Like the Firestore query, the feed only covers waiting rides; a
			// ride leaving that set is reported once with a nil after.
			if cur.req.Status != ride.StatusWaiting {
				if !seen {
					continue
				}
				delete(f.seen, rid)
				out = append(out, func() {
					if f.handle.Active() {
						f.fn(before, nil)
					}
				})
				continue
			}
			if seen && prev.version == cur.version {
				continue
			}
			f.seen[rid] = versioned{req: cur.req.Clone(), version: cur.version}
			after := cur.req.Clone()
			out = append(out, func() {
				if f.handle.Active() {
					f.fn(before, &after)
				}
			})
		}
	}
	return out
}

func (s *Store) waitingLocked(rideType string) []ride.Request {
	var out []ride.Request
	for _, v := range s.rides {
		if v.req.Status == ride.StatusWaiting && v.req.RideType == rideType {
			out = append(out, v.req.Clone())
		}
	}
	ride.SortForOffer(out)
	return out
}

func resultKey(rides []ride.Request, all map[types.ID]*versioned) string {
	var b strings.Builder
	for _, r := range rides {
		b.WriteString(string(r.ID))
		b.WriteByte('@')
		b.WriteString(strconv.FormatUint(all[r.ID].version, 10))
		b.WriteByte(';')
	}
	return b.String()
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

// Earnings recorder.

func (s *Store) Record(_ context.Context, driverID types.ID, fare float64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := earnings.DocID(driverID, at)
	day := s.earnings[key]
	day.Total += fare
	day.Rides++
	s.earnings[key] = day
	return nil
}

func (s *Store) Today(_ context.Context, driverID types.ID, at time.Time) (earnings.Day, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.earnings[earnings.DocID(driverID, at)], nil
}

// Watchers reports the open live queries of both kinds.
func (s *Store) Watchers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watchers) + len(s.feeds)
}
