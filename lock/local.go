/*
Package lock provides keyed mutual exclusion for the ledger's serializing
boundary.

IMPLEMENTATIONS:
  Local: one mutex per key inside the process. Enough for a single
         replica backed by SQLite.
  Redis: a lease on a Redis key (bsm/redislock). Needed as soon as more
         than one replica writes to the same ledger.

Both satisfy core.Locker. A lock that cannot be obtained surfaces as
core.ErrConcurrentModification so the ledger's bounded retry applies.
*/
package lock

import (
	"context"
	"fmt"
	"sync"

	"github.com/warp/allocation-engine/core"
)

// Local is an in-process keyed mutex. Entries are reference counted and
// removed when the last holder or waiter leaves.
type Local struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

var _ core.Locker = (*Local)(nil)

func NewLocal() *Local {
	return &Local{slots: make(map[string]*slot)}
}

// Lock blocks until key is free or ctx is done.
func (l *Local) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, s)
		return nil, fmt.Errorf("%w: waiting for %s: %v", core.ErrConcurrentModification, key, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			l.release(key, s)
		})
	}, nil
}

func (l *Local) release(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

// held reports the number of keys currently tracked. Test hook.
func (l *Local) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
