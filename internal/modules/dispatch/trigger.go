// README: Change-feed runner for the reassignment trigger with bounded redelivery.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"ecoshare/internal/modules/ride"
)

const (
	maxDeliveries   = 4
	redeliveryBase  = time.Second
	deliveryTimeout = 15 * time.Second
)

// Run subscribes to feed and hands every change to HandleWrite until ctx is
// done. A failed delivery is retried with exponential backoff, up to
// maxDeliveries attempts in total.
func (r *Reassigner) Run(ctx context.Context, feed ride.ChangeFeed) error {
	sub, err := feed.WatchChanges(ctx, func(before, after *ride.Request) {
		r.deliver(ctx, before, after, 1)
	})
	if err != nil {
		return fmt.Errorf("watch ride changes: %w", err)
	}
	<-ctx.Done()
	sub.Stop()
	r.Close()
	return nil
}

func (r *Reassigner) deliver(ctx context.Context, before, after *ride.Request, attempt int) {
	if ctx.Err() != nil || r.isClosed() {
		return
	}
	callCtx, cancel := context.WithTimeout(ctx, deliveryTimeout)
	err := r.HandleWrite(callCtx, before, after)
	cancel()
	if err == nil {
		return
	}

	log := r.log.With(zap.Int("attempt", attempt), zap.Error(err))
	if after != nil {
		log = log.With(zap.String("ride_id", string(after.ID)))
	}
	if attempt >= maxDeliveries {
		log.Error("ride write dropped after retries")
		return
	}
	backoff := redeliveryBase << (attempt - 1)
	log.Warn("ride write failed, redelivering", zap.Duration("backoff", backoff))
	r.clock.AfterFunc(backoff, func() { r.deliver(ctx, before, after, attempt+1) })
}

func (r *Reassigner) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}
