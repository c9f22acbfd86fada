// README: Best-effort offer enrichment: customer contact, trip distance and ETA, addresses.
package offer

import (
	"context"
	"errors"
	"math"
	"time"

	"go.uber.org/zap"

	"ecoshare/internal/geo"
	"ecoshare/internal/maps"
	"ecoshare/internal/modules/ride"
	"ecoshare/internal/types"
)

const (
	pickupNotFound          = "Pickup Address Not Found"
	pickupNotAvailable      = "Pickup Address Not Available"
	destinationNotFound     = "Destination Address Not Found"
	destinationNotAvailable = "Destination Address Not Available"

	enrichTimeout = 5 * time.Second
)

// Geocoder resolves a coordinate to a display address. maps.ErrNoResult
// means the lookup worked but found nothing.
type Geocoder interface {
	ReverseGeocode(ctx context.Context, p types.Point) (string, error)
}

type Router interface {
	TravelTime(ctx context.Context, origin, destination types.Point) (time.Duration, error)
}

// Enricher never fails: every lookup that errors is replaced by a default.
type Enricher struct {
	contacts    ride.ContactStore
	geocoder    Geocoder
	router      Router
	avgSpeedKmh float64
	log         *zap.Logger
}

// NewEnricher accepts nil geocoder and router; contacts may be nil too.
func NewEnricher(contacts ride.ContactStore, geocoder Geocoder, router Router, avgSpeedKmh float64, log *zap.Logger) *Enricher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Enricher{contacts: contacts, geocoder: geocoder, router: router, avgSpeedKmh: avgSpeedKmh, log: log}
}

func (e *Enricher) Enrich(ctx context.Context, r ride.Request) Offer {
	ctx, cancel := context.WithTimeout(ctx, enrichTimeout)
	defer cancel()
	log := e.log.With(zap.String("ride_id", string(r.ID)))

	o := Offer{Ride: r.Clone()}

	if e.contacts != nil {
		c, err := e.contacts.LookupContact(ctx, r.ID)
		if err != nil && !errors.Is(err, ride.ErrNotFound) {
			log.Warn("customer lookup failed", zap.Error(err))
		}
		o.Customer = c
	}
	o.Customer = o.Customer.WithDefaults()

	o.DistanceKm = roundTenth(geo.DistanceKm(r.Pickup, r.Destination))
	o.ETAMinutes = EstimateMinutes(o.DistanceKm, e.avgSpeedKmh)
	if e.router != nil {
		if d, err := e.router.TravelTime(ctx, r.Pickup, r.Destination); err == nil {
			o.ETAMinutes = int(math.Round(d.Minutes()))
		} else {
			log.Warn("route lookup failed, using average speed", zap.Error(err))
		}
	}

	o.PickupAddress, o.DestinationAddress = e.addresses(ctx, r, log)
	return o
}

// addresses mirrors the all-or-nothing fallback of the driver app: any
// transport failure replaces both addresses.
func (e *Enricher) addresses(ctx context.Context, r ride.Request, log *zap.Logger) (string, string) {
	if e.geocoder == nil {
		return pickupNotAvailable, destinationNotAvailable
	}
	pickup, err := e.geocoder.ReverseGeocode(ctx, r.Pickup)
	switch {
	case errors.Is(err, maps.ErrNoResult):
		pickup = pickupNotFound
	case err != nil:
		log.Warn("reverse geocode failed", zap.Error(err))
		return pickupNotAvailable, destinationNotAvailable
	}
	dest, err := e.geocoder.ReverseGeocode(ctx, r.Destination)
	switch {
	case errors.Is(err, maps.ErrNoResult):
		dest = destinationNotFound
	case err != nil:
		log.Warn("reverse geocode failed", zap.Error(err))
		return pickupNotAvailable, destinationNotAvailable
	}
	return pickup, dest
}

// EstimateMinutes converts a distance to whole minutes at a constant speed.
func EstimateMinutes(distanceKm, speedKmh float64) int {
	if speedKmh <= 0 {
		return 0
	}
	return int(math.Round(distanceKm / speedKmh * 60))
}

func roundTenth(v float64) float64 {
	return math.Round(v*10) / 10
}
