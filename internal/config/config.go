// README: Config loader with env defaults for HTTP, Firebase, DB, Redis, Kafka, Maps and dispatch timing.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StoreFirestore = "firestore"
	StoreMemory    = "memory"
)

// DispatchConfig holds the timing and scoring knobs shared by the trigger and
// the driver sessions.
type DispatchConfig struct {
	OfferTimeout     time.Duration
	DeclineCooldown  time.Duration
	ResetDelay       time.Duration
	FairnessWindowKm float64
	AvgSpeedKmh      float64
}

type PresenceConfig struct {
	StaleAfter    time.Duration
	CheckInterval time.Duration
}

type Config struct {
	HTTP struct {
		Addr string
	}
	Log struct {
		Level string
	}
	Store    string
	Firebase struct {
		ProjectID       string
		CredentialsFile string
	}
	DB struct {
		DSN string
	}
	Redis struct {
		Addr string
	}
	Kafka struct {
		Brokers []string
		Topic   string
	}
	Maps struct {
		APIKey string
	}
	Dispatch DispatchConfig
	Presence PresenceConfig
}

func DefaultDispatch() DispatchConfig {
	return DispatchConfig{
		OfferTimeout:     15 * time.Second,
		DeclineCooldown:  5 * time.Second,
		ResetDelay:       10 * time.Second,
		FairnessWindowKm: 0.5,
		AvgSpeedKmh:      30,
	}
}

func DefaultPresence() PresenceConfig {
	return PresenceConfig{
		StaleAfter:    30 * time.Second,
		CheckInterval: 10 * time.Second,
	}
}

func Load() (Config, error) {
	var cfg Config
	var errs []error

	cfg.HTTP.Addr = envOrDefault("ECO_HTTP_ADDR", ":8080")
	cfg.Log.Level = strings.ToLower(envOrDefault("ECO_LOG_LEVEL", "info"))
	cfg.Store = strings.ToLower(envOrDefault("ECO_STORE", StoreFirestore))
	cfg.Firebase.ProjectID = envOrDefault("ECO_FIREBASE_PROJECT_ID", "")
	cfg.Firebase.CredentialsFile = envOrDefault("ECO_FIREBASE_CREDENTIALS", "")
	cfg.DB.DSN = envOrDefault("ECO_DB_DSN", "")
	cfg.Redis.Addr = envOrDefault("ECO_REDIS_ADDR", "")
	cfg.Kafka.Brokers = splitAndTrim(envOrDefault("ECO_KAFKA_BROKERS", ""))
	cfg.Kafka.Topic = envOrDefault("ECO_KAFKA_TOPIC", "dispatch-events")
	cfg.Maps.APIKey = envOrDefault("ECO_MAPS_API_KEY", "")

	cfg.Dispatch = DefaultDispatch()
	cfg.Dispatch.OfferTimeout = envOrDefaultDuration("ECO_OFFER_TIMEOUT", cfg.Dispatch.OfferTimeout, &errs)
	cfg.Dispatch.DeclineCooldown = envOrDefaultDuration("ECO_DECLINE_COOLDOWN", cfg.Dispatch.DeclineCooldown, &errs)
	cfg.Dispatch.ResetDelay = envOrDefaultDuration("ECO_RESET_DELAY", cfg.Dispatch.ResetDelay, &errs)
	cfg.Dispatch.FairnessWindowKm = envOrDefaultFloat("ECO_FAIRNESS_WINDOW_KM", cfg.Dispatch.FairnessWindowKm, &errs)
	cfg.Dispatch.AvgSpeedKmh = envOrDefaultFloat("ECO_AVG_SPEED_KMH", cfg.Dispatch.AvgSpeedKmh, &errs)

	cfg.Presence = DefaultPresence()
	cfg.Presence.StaleAfter = envOrDefaultDuration("ECO_STALE_AFTER", cfg.Presence.StaleAfter, &errs)
	cfg.Presence.CheckInterval = envOrDefaultDuration("ECO_STALE_CHECK_INTERVAL", cfg.Presence.CheckInterval, &errs)

	errs = append(errs, cfg.validate()...)
	return cfg, errors.Join(errs...)
}

func (c Config) validate() []error {
	var errs []error
	switch c.Store {
	case StoreFirestore:
		if c.Firebase.ProjectID == "" {
			errs = append(errs, errors.New("ECO_FIREBASE_PROJECT_ID is required when ECO_STORE=firestore"))
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("ECO_STORE must be %q or %q, got %q", StoreFirestore, StoreMemory, c.Store))
	}
	if c.Dispatch.OfferTimeout <= 0 || c.Dispatch.ResetDelay <= 0 || c.Dispatch.DeclineCooldown < 0 {
		errs = append(errs, errors.New("dispatch durations must be positive"))
	}
	if c.Dispatch.FairnessWindowKm < 0 {
		errs = append(errs, errors.New("ECO_FAIRNESS_WINDOW_KM must be >= 0"))
	}
	if c.Dispatch.AvgSpeedKmh <= 0 {
		errs = append(errs, errors.New("ECO_AVG_SPEED_KMH must be > 0"))
	}
	if c.Presence.StaleAfter <= 0 || c.Presence.CheckInterval <= 0 {
		errs = append(errs, errors.New("presence durations must be positive"))
	}
	return errs
}

func envOrDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envOrDefaultFloat(key string, def float64, errs *[]error) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return n
}

func envOrDefaultDuration(key string, def time.Duration, errs *[]error) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return d
}

func splitAndTrim(v string) []string {
	if v == "" {
		return nil
	}
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}
