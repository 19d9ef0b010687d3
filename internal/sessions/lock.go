package sessions

import (
	"context"
	"fmt"
	"sync"
)

// PassLock serializes interaction passes per session so two passes never
// interleave turns in one transcript. Passes on different sessions do not
// contend.
type PassLock struct {
	mu    sync.Mutex
	locks map[string]*passMutex
}

type passMutex struct {
	sem      chan struct{}
	refCount int
}

// NewPassLock creates an empty lock table.
func NewPassLock() *PassLock {
	return &PassLock{locks: make(map[string]*passMutex)}
}

// Lock blocks until the session's lock is free or ctx is done. The
// returned unlock function must be called exactly once.
func (pl *PassLock) Lock(ctx context.Context, sessionID string) (unlock func(), err error) {
	pl.mu.Lock()
	pm, ok := pl.locks[sessionID]
	if !ok {
		pm = &passMutex{sem: make(chan struct{}, 1)}
		pl.locks[sessionID] = pm
	}
	pm.refCount++
	pl.mu.Unlock()

	select {
	case pm.sem <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-pm.sem
				pl.release(sessionID, pm)
			})
		}, nil
	case <-ctx.Done():
		pl.release(sessionID, pm)
		return nil, fmt.Errorf("session lock: %w", ctx.Err())
	}
}

func (pl *PassLock) release(sessionID string, pm *passMutex) {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	pm.refCount--
	if pm.refCount == 0 {
		delete(pl.locks, sessionID)
	}
}

// ActiveCount returns the number of sessions with held or pending locks.
func (pl *PassLock) ActiveCount() int {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	return len(pl.locks)
}
