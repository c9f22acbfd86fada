// README: Nearby-driver lookups: Redis GEO index and a store scan fallback.
package location

import (
	"context"

	"github.com/redis/go-redis/v9"

	"ecoshare/internal/geo"
	"ecoshare/internal/modules/driver"
	"ecoshare/internal/types"
)

const driverGeoKey = "presence:drivers"

// Nearby is one driver found around a point.
type Nearby struct {
	DriverID   types.ID `json:"driver_id"`
	DistanceKm float64  `json:"distance_km"`
}

type Finder interface {
	Nearby(ctx context.Context, p types.Point, radiusKm float64) ([]Nearby, error)
}

// GeoIndex mirrors reported positions of online drivers into a Redis GEO set.
type GeoIndex struct {
	redis *redis.Client
}

func NewGeoIndex(redis *redis.Client) *GeoIndex {
	return &GeoIndex{redis: redis}
}

func (g *GeoIndex) Add(ctx context.Context, id types.ID, p types.Point) error {
	return g.redis.GeoAdd(ctx, driverGeoKey, &redis.GeoLocation{
		Name:      string(id),
		Longitude: p.Lng,
		Latitude:  p.Lat,
	}).Err()
}

func (g *GeoIndex) Remove(ctx context.Context, id types.ID) error {
	return g.redis.ZRem(ctx, driverGeoKey, string(id)).Err()
}

func (g *GeoIndex) Nearby(ctx context.Context, p types.Point, radiusKm float64) ([]Nearby, error) {
	results, err := g.redis.GeoSearchLocation(ctx, driverGeoKey, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  p.Lng,
			Latitude:   p.Lat,
			Radius:     radiusKm,
			RadiusUnit: "km",
			Sort:       "ASC",
		},
		WithDist: true,
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Nearby, len(results))
	for i, r := range results {
		out[i] = Nearby{DriverID: types.ID(r.Name), DistanceKm: r.Dist}
	}
	return out, nil
}

// OnlineLister is satisfied by driver.Store.
type OnlineLister interface {
	ListOnline(ctx context.Context) ([]driver.Driver, error)
}

// ScanFinder answers nearby queries from the driver store directly. Used when
// no Redis is configured.
type ScanFinder struct {
	drivers OnlineLister
}

func NewScanFinder(drivers OnlineLister) *ScanFinder {
	return &ScanFinder{drivers: drivers}
}

func (f *ScanFinder) Nearby(ctx context.Context, p types.Point, radiusKm float64) ([]Nearby, error) {
	online, err := f.drivers.ListOnline(ctx)
	if err != nil {
		return nil, err
	}
	var out []Nearby
	for _, d := range online {
		if d.Location == nil {
			continue
		}
		if dist := geo.DistanceKm(p, *d.Location); dist <= radiusKm {
			out = append(out, Nearby{DriverID: d.ID, DistanceKm: dist})
		}
	}
	geo.SortByDistance(out, func(n Nearby) float64 { return n.DistanceKm })
	return out, nil
}
