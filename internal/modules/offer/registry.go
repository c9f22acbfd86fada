// README: Gateway-side registry holding one Session per connected driver.
package offer

import (
	"context"
	"sync"

	"ecoshare/internal/types"
)

// Factory builds a session for a driver the registry has not seen yet.
type Factory func(ctx context.Context, driverID types.ID) *Session

type Registry struct {
	ctx     context.Context
	factory Factory

	mu       sync.Mutex
	sessions map[types.ID]*Session
	closed   bool
}

// NewRegistry ties every session to ctx: cancelling it stops their live
// queries even if Close is never reached.
func NewRegistry(ctx context.Context, factory Factory) *Registry {
	return &Registry{ctx: ctx, factory: factory, sessions: make(map[types.ID]*Session)}
}

// Get returns the driver's session, creating it on first use.
func (r *Registry) Get(driverID types.ID) (*Session, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if s, ok := r.sessions[driverID]; ok {
		r.mu.Unlock()
		return s, nil
	}
	r.mu.Unlock()

	// Built outside the lock: the factory may read the driver profile.
	created := r.factory(r.ctx, driverID)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		created.Close()
		return nil, ErrSessionClosed
	}
	if s, ok := r.sessions[driverID]; ok {
		created.Close()
		return s, nil
	}
	r.sessions[driverID] = created
	return created, nil
}

// Remove closes and forgets the driver's session, e.g. on sign-out.
func (r *Registry) Remove(driverID types.ID) {
	r.mu.Lock()
	s, ok := r.sessions[driverID]
	delete(r.sessions, driverID)
	r.mu.Unlock()
	if ok {
		s.Close()
	}
}

func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	sessions := r.sessions
	r.sessions = make(map[types.ID]*Session)
	r.mu.Unlock()
	for _, s := range sessions {
		s.Close()
	}
}
