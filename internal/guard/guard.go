// Package guard serializes state-changing operations per cash register.
//
// Each register gets its own single-slot semaphore, created on first use and
// dropped once the last holder/waiter releases it. Registers never contend
// with each other.
package guard

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

type slot struct {
	sem  chan struct{}
	refs int // holders + waiters; guarded by Guard.mu
}

// Guard is a keyed mutex. The zero value is not usable; call New.
type Guard struct {
	mu    sync.Mutex
	slots map[uuid.UUID]*slot
}

func New() *Guard {
	return &Guard{slots: make(map[uuid.UUID]*slot)}
}

// Lock blocks until the register's slot is free or ctx is done.
// The returned func releases the slot and must be called exactly once.
func (g *Guard) Lock(ctx context.Context, id uuid.UUID) (func(), error) {
	g.mu.Lock()
	s, ok := g.slots[id]
	if !ok {
		s = &slot{sem: make(chan struct{}, 1)}
		g.slots[id] = s
	}
	s.refs++
	g.mu.Unlock()

	select {
	case s.sem <- struct{}{}:
		return func() { g.release(id, s, true) }, nil
	case <-ctx.Done():
		g.release(id, s, false)
		return nil, ctx.Err()
	}
}

// Do runs fn while holding the register's slot.
func (g *Guard) Do(ctx context.Context, id uuid.UUID, fn func() error) error {
	unlock, err := g.Lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()
	return fn()
}

func (g *Guard) release(id uuid.UUID, s *slot, held bool) {
	if held {
		<-s.sem
	}
	g.mu.Lock()
	s.refs--
	if s.refs == 0 {
		delete(g.slots, id)
	}
	g.mu.Unlock()
}

// Len reports how many registers currently have a holder or waiter.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.slots)
}
