// README: In-memory Drivers collection.
package memstore

import (
	"context"
	"sort"
	"time"

	"ecoshare/internal/modules/driver"
	"ecoshare/internal/types"
)

// Drivers exposes the driver half of the store. Ride and driver stores share
// method names, so each half gets its own view.
func (s *Store) Drivers() *Drivers { return &Drivers{s: s} }

type Drivers struct {
	s *Store
}

func (d *Drivers) Get(_ context.Context, id types.ID) (*driver.Driver, error) {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	rec, ok := d.s.drivers[id]
	if !ok {
		return nil, driver.ErrNotFound
	}
	return copyDriver(rec), nil
}

func (d *Drivers) ListOnline(context.Context) ([]driver.Driver, error) {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	var out []driver.Driver
	for _, rec := range d.s.drivers {
		if rec.IsOnline {
			out = append(out, *copyDriver(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (d *Drivers) UpdatePosition(_ context.Context, id types.ID, p types.Point, at time.Time) error {
	return d.update(id, func(rec *driver.Driver) {
		pos := p
		rec.Location = &pos
		rec.LastLocationUpdate = at
	})
}

func (d *Drivers) SetOnline(_ context.Context, id types.ID, online bool, at time.Time) error {
	return d.update(id, func(rec *driver.Driver) {
		rec.IsOnline = online
		rec.LastOnlineUpdate = at
	})
}

func (d *Drivers) SetVehicleType(_ context.Context, id types.ID, vehicleType string) error {
	return d.update(id, func(rec *driver.Driver) { rec.VehicleType = vehicleType })
}

func (d *Drivers) DemoteIfStale(_ context.Context, id types.ID, staleBefore, at time.Time) (bool, error) {
	var demoted bool
	err := d.update(id, func(rec *driver.Driver) {
		if rec.IsOnline && rec.LastLocationUpdate.Before(staleBefore) {
			rec.IsOnline = false
			rec.LastOnlineUpdate = at
			demoted = true
		}
	})
	return demoted, err
}

func (d *Drivers) RecordRide(_ context.Context, id types.ID, at time.Time) error {
	return d.update(id, func(rec *driver.Driver) {
		rec.RideCount++
		t := at
		rec.LastRideTime = &t
	})
}

func (d *Drivers) update(id types.ID, fn func(rec *driver.Driver)) error {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	rec, ok := d.s.drivers[id]
	if !ok {
		return driver.ErrNotFound
	}
	fn(&rec)
	d.s.drivers[id] = rec
	return nil
}

func copyDriver(d driver.Driver) *driver.Driver {
	out := d
	if d.Location != nil {
		p := *d.Location
		out.Location = &p
	}
	if d.LastRideTime != nil {
		t := *d.LastRideTime
		out.LastRideTime = &t
	}
	return &out
}
