// README: Push notification to the driver a ride was just offered to (FCM).
package dispatch

import (
	"context"
	"fmt"
	"strconv"

	"firebase.google.com/go/v4/messaging"

	"ecoshare/internal/modules/driver"
	"ecoshare/internal/modules/ride"
)

// Notifier wakes a driver's device for a new offer. The live query remains
// the source of truth; a push only shortens the time to the next snapshot.
type Notifier interface {
	NotifyOffer(ctx context.Context, d driver.Driver, r ride.Request) error
}

type nopNotifier struct{}

func (nopNotifier) NotifyOffer(context.Context, driver.Driver, ride.Request) error { return nil }

type messageSender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

type FCMNotifier struct {
	client messageSender
}

func NewFCMNotifier(client *messaging.Client) *FCMNotifier {
	return &FCMNotifier{client: client}
}

// NotifyOffer is a no-op for drivers without a registered device token.
func (n *FCMNotifier) NotifyOffer(ctx context.Context, d driver.Driver, r ride.Request) error {
	if d.FCMToken == "" {
		return nil
	}
	msg := &messaging.Message{
		Token: d.FCMToken,
		Data: map[string]string{
			"type":            "ride_offer",
			"ride_id":         string(r.ID),
			"ride_type":       r.RideType,
			"pickup_lat":      strconv.FormatFloat(r.Pickup.Lat, 'f', 6, 64),
			"pickup_lng":      strconv.FormatFloat(r.Pickup.Lng, 'f', 6, 64),
			"destination_lat": strconv.FormatFloat(r.Destination.Lat, 'f', 6, 64),
			"destination_lng": strconv.FormatFloat(r.Destination.Lng, 'f', 6, 64),
			"fare":            strconv.FormatFloat(r.Fare, 'f', 2, 64),
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
	}
	if _, err := n.client.Send(ctx, msg); err != nil {
		return fmt.Errorf("send offer push for ride %s: %w", r.ID, err)
	}
	return nil
}
