package driver

import (
	"testing"
	"time"
)

func TestDisplayNameDefault(t *testing.T) {
	if got := (Driver{}).DisplayName(); got != "Driver" {
		t.Fatalf("DisplayName() = %q, want Driver", got)
	}
	if got := (Driver{FirstName: "Lemlem"}).DisplayName(); got != "Lemlem" {
		t.Fatalf("DisplayName() = %q, want Lemlem", got)
	}
}

func TestAcceptanceCarriesIdentity(t *testing.T) {
	d := Driver{ID: "d1", Photo: "p.png", Phone: "+25190000000"}
	a := d.Acceptance()
	if a.DriverID != "d1" || a.DriverName != "Driver" || a.DriverPhoto != "p.png" || a.DriverPhone != "+25190000000" {
		t.Fatalf("unexpected acceptance: %+v", a)
	}
}

func TestIsStale(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		name string
		d    Driver
		want bool
	}{
		{"offline never stale", Driver{IsOnline: false, LastLocationUpdate: now.Add(-time.Hour)}, false},
		{"fresh", Driver{IsOnline: true, LastLocationUpdate: now.Add(-10 * time.Second)}, false},
		{"exactly at threshold", Driver{IsOnline: true, LastLocationUpdate: now.Add(-30 * time.Second)}, false},
		{"past threshold", Driver{IsOnline: true, LastLocationUpdate: now.Add(-31 * time.Second)}, true},
		{"never reported", Driver{IsOnline: true}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.d.IsStale(now, 30*time.Second); got != tc.want {
				t.Fatalf("IsStale = %v, want %v", got, tc.want)
			}
		})
	}
}
