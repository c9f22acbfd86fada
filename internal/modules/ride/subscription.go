// README: Owned live-query handle with a single idempotent teardown.
package ride

import (
	"sync"
	"sync/atomic"
)

// Subscription is returned by every live query. Stop cancels the underlying
// query synchronously and is safe to call more than once.
type Subscription interface {
	Stop()
}

// Handle is the Subscription implementation shared by the stores.
type Handle struct {
	once    sync.Once
	stopped atomic.Bool
	stop    func()
}

func NewHandle(stop func()) *Handle {
	return &Handle{stop: stop}
}

func (h *Handle) Stop() {
	h.once.Do(func() {
		h.stopped.Store(true)
		if h.stop != nil {
			h.stop()
		}
	})
}

func (h *Handle) Active() bool {
	return !h.stopped.Load()
}
