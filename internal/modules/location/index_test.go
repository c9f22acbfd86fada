package location

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"ecoshare/internal/modules/driver"
	"ecoshare/internal/store/memstore"
	"ecoshare/internal/types"
)

func TestScanFinderSortsWithinRadius(t *testing.T) {
	st := memstore.New()
	st.PutDriver(driver.Driver{ID: "far", IsOnline: true, Location: &types.Point{Lat: 9.10, Lng: 38.74}})
	st.PutDriver(driver.Driver{ID: "near", IsOnline: true, Location: &types.Point{Lat: 9.031, Lng: 38.741}})
	st.PutDriver(driver.Driver{ID: "mid", IsOnline: true, Location: &types.Point{Lat: 9.05, Lng: 38.74}})
	st.PutDriver(driver.Driver{ID: "offline", Location: &types.Point{Lat: 9.03, Lng: 38.74}})
	st.PutDriver(driver.Driver{ID: "unlocated", IsOnline: true})

	got, err := NewScanFinder(st.Drivers()).Nearby(context.Background(), types.Point{Lat: 9.03, Lng: 38.74}, 5)
	if err != nil {
		t.Fatalf("nearby: %v", err)
	}
	if len(got) != 2 || got[0].DriverID != "near" || got[1].DriverID != "mid" {
		t.Fatalf("nearby = %+v", got)
	}
	if got[0].DistanceKm > got[1].DistanceKm {
		t.Fatal("results not sorted by distance")
	}
}

func TestGeoIndex(t *testing.T) {
	addr := os.Getenv("ECO_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("ECO_TEST_REDIS_ADDR not set; skipping integration test")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()
	ctx := context.Background()
	defer rdb.Del(ctx, driverGeoKey)

	idx := NewGeoIndex(rdb)
	near := types.ID(fmt.Sprintf("near_%d", time.Now().UnixNano()))
	far := types.ID(fmt.Sprintf("far_%d", time.Now().UnixNano()))
	if err := idx.Add(ctx, near, types.Point{Lat: 9.031, Lng: 38.741}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := idx.Add(ctx, far, types.Point{Lat: 9.5, Lng: 38.74}); err != nil {
		t.Fatalf("add: %v", err)
	}

	got, err := idx.Nearby(ctx, types.Point{Lat: 9.03, Lng: 38.74}, 5)
	if err != nil {
		t.Fatalf("nearby: %v", err)
	}
	if len(got) != 1 || got[0].DriverID != near || got[0].DistanceKm <= 0 {
		t.Fatalf("nearby = %+v", got)
	}

	if err := idx.Remove(ctx, near); err != nil {
		t.Fatalf("remove: %v", err)
	}
	got, _ = idx.Nearby(ctx, types.Point{Lat: 9.03, Lng: 38.74}, 5)
	if len(got) != 0 {
		t.Fatalf("removed driver still found: %+v", got)
	}
}
