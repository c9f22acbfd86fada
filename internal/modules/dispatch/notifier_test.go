package dispatch

import (
	"context"
	"errors"
	"testing"

	"firebase.google.com/go/v4/messaging"

	"ecoshare/internal/modules/driver"
	"ecoshare/internal/modules/ride"
	"ecoshare/internal/types"
)

type fakeSender struct {
	sent []*messaging.Message
	err  error
}

func (f *fakeSender) Send(_ context.Context, m *messaging.Message) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, m)
	return "projects/p/messages/1", nil
}

func TestFCMNotifierSendsOfferData(t *testing.T) {
	sender := &fakeSender{}
	n := &FCMNotifier{client: sender}
	r := ride.Request{
		ID:          "r1",
		RideType:    "moto",
		Pickup:      types.Point{Lat: 11.55, Lng: 43.14},
		Destination: types.Point{Lat: 11.6, Lng: 43.2},
		Fare:        12.5,
	}

	if err := n.NotifyOffer(context.Background(), driver.Driver{ID: "A"}, r); err != nil {
		t.Fatalf("no token: %v", err)
	}
	if len(sender.sent) != 0 {
		t.Fatal("push sent to a driver without a token")
	}

	if err := n.NotifyOffer(context.Background(), driver.Driver{ID: "A", FCMToken: "tok"}, r); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected 1 push, got %d", len(sender.sent))
	}
	msg := sender.sent[0]
	if msg.Token != "tok" || msg.Android == nil || msg.Android.Priority != "high" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	want := map[string]string{
		"type":       "ride_offer",
		"ride_id":    "r1",
		"ride_type":  "moto",
		"pickup_lat": "11.550000",
		"fare":       "12.50",
	}
	for k, v := range want {
		if msg.Data[k] != v {
			t.Errorf("data[%s] = %q, want %q", k, msg.Data[k], v)
		}
	}

	sender.err = errors.New("unavailable")
	if err := n.NotifyOffer(context.Background(), driver.Driver{ID: "A", FCMToken: "tok"}, r); !errors.Is(err, sender.err) {
		t.Fatalf("expected wrapped send error, got %v", err)
	}
}
