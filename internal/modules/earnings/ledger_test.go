package earnings

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"ecoshare/internal/types"
)

type stubRecorder struct {
	calls int
	err   error
}

func (s *stubRecorder) Record(context.Context, types.ID, float64, time.Time) error {
	s.calls++
	return s.err
}

func TestDocID(t *testing.T) {
	at := time.Date(2026, 3, 7, 23, 59, 0, 0, time.UTC)
	if got := DocID("drv42", at); got != "drv42_20260307" {
		t.Fatalf("DocID = %q", got)
	}
}

func TestDayFromData(t *testing.T) {
	trips := []interface{}{
		map[string]interface{}{"fare": 10.5},
		map[string]interface{}{"fare": 4.25},
	}
	d, err := dayFromData(map[string]interface{}{"total": 14.75, "trips": trips})
	if err != nil || d.Total != 14.75 || d.Rides != 2 {
		t.Fatalf("dayFromData = %+v, %v", d, err)
	}
	// Increment keeps integer totals as integers.
	if d, _ := dayFromData(map[string]interface{}{"total": int64(20)}); d.Total != 20 || d.Rides != 0 {
		t.Fatalf("integer total: %+v", d)
	}
	if _, err := dayFromData(map[string]interface{}{"total": "20"}); err == nil {
		t.Fatal("expected an error for a string total")
	}
}

func TestMultiRecordsEverywhere(t *testing.T) {
	boom := errors.New("down")
	a, b := &stubRecorder{}, &stubRecorder{err: boom}
	err := Multi(a, nil, b).Record(context.Background(), "d1", 12.5, time.Now())
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if a.calls != 1 || b.calls != 1 {
		t.Fatalf("calls = %d, %d", a.calls, b.calls)
	}
}

func TestRedisCounter(t *testing.T) {
	addr := os.Getenv("ECO_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("ECO_TEST_REDIS_ADDR not set; skipping Redis-backed earnings test")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	c := NewRedisCounter(client)
	id := types.ID(fmt.Sprintf("earn_%d", time.Now().UnixNano()))
	at := time.Date(2026, 3, 7, 9, 0, 0, 0, time.UTC)
	t.Cleanup(func() {
		total, rides := counterKeys(id, at)
		_ = client.Del(ctx, total, rides).Err()
	})

	for _, fare := range []float64{10.5, 4.25} {
		if err := c.Record(ctx, id, fare, at); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	day, err := c.Today(ctx, id, at)
	if err != nil {
		t.Fatalf("today: %v", err)
	}
	if day.Total != 14.75 || day.Rides != 2 {
		t.Fatalf("unexpected totals: %+v", day)
	}
}
