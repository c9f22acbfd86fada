// README: Driver gateway entry point; wires stores, sessions, presence and the HTTP API.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"ecoshare/internal/config"
	httptransport "ecoshare/internal/http"
	"ecoshare/internal/infra"
	"ecoshare/internal/maps"
	"ecoshare/internal/modules/dispatch"
	"ecoshare/internal/modules/driver"
	"ecoshare/internal/modules/earnings"
	"ecoshare/internal/modules/events"
	"ecoshare/internal/modules/location"
	"ecoshare/internal/modules/offer"
	"ecoshare/internal/modules/ride"
	"ecoshare/internal/store/memstore"
	"ecoshare/internal/types"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger, err := infra.NewLogger(cfg.Log.Level)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("driver gateway stopped", zap.Error(err))
	}
}

type stores struct {
	rides    ride.Store
	feed     ride.ChangeFeed
	contacts ride.ContactStore
	drivers  driver.Store
	earnings []earnings.Recorder
	daily    earnings.DailyReader
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	if cfg.Firebase.ProjectID == "" {
		return errors.New("ECO_FIREBASE_PROJECT_ID is required")
	}
	fb, err := infra.NewFirebase(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
	if err != nil {
		return err
	}
	verifier, err := fb.Verifier(ctx)
	if err != nil {
		return err
	}

	var (
		st  stores
		mem *memstore.Store
	)
	switch cfg.Store {
	case config.StoreMemory:
		mem = memstore.New()
		st = stores{rides: mem, feed: mem, contacts: mem, drivers: mem.Drivers(), earnings: []earnings.Recorder{mem}, daily: mem}
	default:
		fs, err := fb.Firestore(ctx)
		if err != nil {
			return err
		}
		defer fs.Close()
		rides := ride.NewFirestoreStore(fs, logger.Named("rides"))
		ledger := earnings.NewFirestoreLedger(fs)
		st = stores{
			rides:    rides,
			feed:     rides,
			contacts: rides,
			drivers:  driver.NewFirestoreStore(fs, logger.Named("drivers")),
			earnings: []earnings.Recorder{ledger},
			daily:    ledger,
		}
	}

	sink, history, closeSinks, err := eventSinks(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeSinks()

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		if rdb, err = infra.NewRedis(ctx, cfg.Redis.Addr); err != nil {
			return err
		}
		defer rdb.Close()
		counter := earnings.NewRedisCounter(rdb)
		st.earnings = append(st.earnings, counter)
		st.daily = counter
	}

	var (
		geocoder offer.Geocoder
		router   offer.Router
	)
	if cfg.Maps.APIKey != "" {
		m, err := maps.NewService(cfg.Maps.APIKey, "en")
		if err != nil {
			return err
		}
		geocoder, router = m, m
	} else {
		logger.Info("no maps api key, offers use placeholder addresses")
	}
	enricher := offer.NewEnricher(st.contacts, geocoder, router, cfg.Dispatch.AvgSpeedKmh, logger.Named("enrich"))
	recorder := earnings.Multi(st.earnings...)

	sessions := offer.NewRegistry(ctx, sessionFactory(cfg.Dispatch, st, mem, offer.Deps{
		Rides:    st.rides,
		Drivers:  st.drivers,
		Enricher: enricher,
		Earnings: recorder,
		Events:   sink,
		Log:      logger.Named("session"),
	}, logger))
	defer sessions.Close()

	presenceOpts := []location.Option{location.WithEvents(sink), location.WithLogger(logger.Named("presence"))}
	var finder location.Finder = location.NewScanFinder(st.drivers)
	if rdb != nil {
		idx := location.NewGeoIndex(rdb)
		presenceOpts = append(presenceOpts, location.WithMirror(idx))
		finder = idx
	}
	reporter := location.NewReporter(st.drivers, cfg.Presence, presenceOpts...)
	go reporter.Run(ctx)

	// Without Firestore there is no separate trigger process to follow the
	// rides, so run it here.
	if cfg.Store == config.StoreMemory {
		trigger := dispatch.NewReassigner(st.rides, st.drivers, cfg.Dispatch,
			dispatch.WithEvents(sink), dispatch.WithLogger(logger.Named("trigger")))
		go func() {
			if err := trigger.Run(ctx, st.feed); err != nil {
				logger.Error("in-process trigger stopped", zap.Error(err))
			}
		}()
	}

	handler := httptransport.NewRouter(httptransport.RouterDeps{
		Sessions: sessions,
		Presence: reporter,
		Vehicles: st.drivers,
		Nearby:   finder,
		Earnings: st.daily,
		History:  history,
		Verifier: verifier,
		Log:      logger.Named("http"),
	})
	return httptransport.NewServer(cfg.HTTP.Addr, handler, logger).Run(ctx)
}

// sessionFactory builds a driver's session and restores the stored vehicle
// type. mem is non-nil only in memory mode.
func sessionFactory(cfg config.DispatchConfig, st stores, mem *memstore.Store, deps offer.Deps, logger *zap.Logger) offer.Factory {
	return func(ctx context.Context, id types.ID) *offer.Session {
		s := offer.NewSession(ctx, id, cfg, deps)
		d, err := st.drivers.Get(ctx, id)
		if errors.Is(err, driver.ErrNotFound) && mem != nil {
			// Nothing signs drivers up against the memory store.
			mem.PutDriver(driver.Driver{ID: id})
			return s
		}
		// Resume with the stored vehicle type; the device may still override it.
		switch {
		case err != nil:
			logger.Warn("load driver for session", zap.String("driver_id", string(id)), zap.Error(err))
		case d.VehicleType != "":
			if err := s.SetVehicleType(d.VehicleType); err != nil {
				logger.Warn("restore vehicle type", zap.String("driver_id", string(id)), zap.Error(err))
			}
		}
		return s
	}
}

// eventSinks fans audit events out to every configured backend. History is
// nil unless Postgres is configured.
func eventSinks(ctx context.Context, cfg config.Config, logger *zap.Logger) (events.Sink, events.History, func(), error) {
	var (
		sinks   []events.Sink
		history events.History
		closers []func()
	)
	if cfg.DB.DSN != "" {
		pool, err := infra.NewDB(ctx, cfg.DB.DSN)
		if err != nil {
			return nil, nil, nil, err
		}
		store := events.NewStore(pool)
		sinks = append(sinks, store)
		history = store
		closers = append(closers, pool.Close)
	}
	if len(cfg.Kafka.Brokers) > 0 {
		pub := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		sinks = append(sinks, pub)
		closers = append(closers, func() {
			if err := pub.Close(); err != nil {
				logger.Warn("close kafka publisher", zap.Error(err))
			}
		})
	}
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	if len(sinks) == 0 {
		return events.Nop(), nil, closeAll, nil
	}
	return events.Multi(sinks...), history, closeAll, nil
}
