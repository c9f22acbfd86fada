package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ECO_STORE", "memory")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Addr != ":8080" || cfg.Log.Level != "info" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	d := cfg.Dispatch
	if d.OfferTimeout != 15*time.Second || d.DeclineCooldown != 5*time.Second || d.ResetDelay != 10*time.Second {
		t.Fatalf("unexpected dispatch timing: %+v", d)
	}
	if d.FairnessWindowKm != 0.5 || d.AvgSpeedKmh != 30 {
		t.Fatalf("unexpected dispatch scoring: %+v", d)
	}
	if cfg.Presence.StaleAfter != 30*time.Second || cfg.Presence.CheckInterval != 10*time.Second {
		t.Fatalf("unexpected presence timing: %+v", cfg.Presence)
	}
	if cfg.Kafka.Brokers != nil {
		t.Fatalf("expected no brokers, got %v", cfg.Kafka.Brokers)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ECO_STORE", "firestore")
	t.Setenv("ECO_FIREBASE_PROJECT_ID", "eco-test")
	t.Setenv("ECO_KAFKA_BROKERS", " k1:9092, ,k2:9092 ")
	t.Setenv("ECO_OFFER_TIMEOUT", "20s")
	t.Setenv("ECO_FAIRNESS_WINDOW_KM", "1.5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Fatalf("brokers = %v", cfg.Kafka.Brokers)
	}
	if cfg.Dispatch.OfferTimeout != 20*time.Second || cfg.Dispatch.FairnessWindowKm != 1.5 {
		t.Fatalf("overrides not applied: %+v", cfg.Dispatch)
	}
}

func TestLoadReportsEveryProblem(t *testing.T) {
	t.Setenv("ECO_STORE", "firestore")
	t.Setenv("ECO_FIREBASE_PROJECT_ID", "")
	t.Setenv("ECO_RESET_DELAY", "soon")
	t.Setenv("ECO_AVG_SPEED_KMH", "0")

	_, err := Load()
	if err == nil {
		t.Fatal("expected validation error")
	}
	msg := err.Error()
	for _, want := range []string{"ECO_FIREBASE_PROJECT_ID", "ECO_RESET_DELAY", "ECO_AVG_SPEED_KMH"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error %q does not mention %s", msg, want)
		}
	}
}

func TestLoadRejectsUnknownStore(t *testing.T) {
	t.Setenv("ECO_STORE", "sqlite")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "ECO_STORE") {
		t.Fatalf("expected ECO_STORE error, got %v", err)
	}
}
