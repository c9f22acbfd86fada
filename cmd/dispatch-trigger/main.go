// README: Reassignment trigger entry point; follows rideRequests writes and assigns or resets.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"ecoshare/internal/config"
	"ecoshare/internal/infra"
	"ecoshare/internal/modules/dispatch"
	"ecoshare/internal/modules/driver"
	"ecoshare/internal/modules/events"
	"ecoshare/internal/modules/ride"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	if cfg.Store != config.StoreFirestore {
		log.Fatal("dispatch-trigger needs ECO_STORE=firestore; the memory store runs its trigger inside the gateway")
	}
	logger, err := infra.NewLogger(cfg.Log.Level)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("dispatch trigger stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	fb, err := infra.NewFirebase(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
	if err != nil {
		return err
	}
	fs, err := fb.Firestore(ctx)
	if err != nil {
		return err
	}
	defer fs.Close()

	rides := ride.NewFirestoreStore(fs, logger.Named("rides"))
	drivers := driver.NewFirestoreStore(fs, logger.Named("drivers"))

	opts := []dispatch.Option{dispatch.WithLogger(logger.Named("trigger"))}

	if msg, err := fb.Messaging(ctx); err != nil {
		logger.Warn("fcm unavailable, offers are not pushed", zap.Error(err))
	} else {
		opts = append(opts, dispatch.WithNotifier(dispatch.NewFCMNotifier(msg)))
	}

	// Several trigger replicas share one reset schedule through Redis.
	if cfg.Redis.Addr != "" {
		rdb, err := infra.NewRedis(ctx, cfg.Redis.Addr)
		if err != nil {
			return err
		}
		defer rdb.Close()
		opts = append(opts, dispatch.WithLedger(dispatch.NewRedisLedger(rdb)))
	}

	var sinks []events.Sink
	if cfg.DB.DSN != "" {
		pool, err := infra.NewDB(ctx, cfg.DB.DSN)
		if err != nil {
			return err
		}
		defer pool.Close()
		sinks = append(sinks, events.NewStore(pool))
	}
	if len(cfg.Kafka.Brokers) > 0 {
		pub := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer pub.Close()
		sinks = append(sinks, pub)
	}
	if len(sinks) > 0 {
		opts = append(opts, dispatch.WithEvents(events.Multi(sinks...)))
	}

	metrics := &http.Server{Addr: cfg.HTTP.Addr, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metrics.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	defer metrics.Close()

	trigger := dispatch.NewReassigner(rides, drivers, cfg.Dispatch, opts...)
	logger.Info("dispatch trigger started", zap.Duration("reset_delay", cfg.Dispatch.ResetDelay))
	return trigger.Run(ctx, rides)
}
