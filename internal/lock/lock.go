package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrLocked is returned when the lock is held elsewhere and the caller did
// not ask to wait for it.
var ErrLocked = errors.New("lock: already held")

// Locker runs fn while holding the lock named key
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Local is an in-process Locker. It does not wait: a held key yields ErrLocked.
type Local struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewLocal() *Local {
	return &Local{held: make(map[string]bool)}
}

func (l *Local) WithLock(ctx context.Context, key string, _ time.Duration, fn func(context.Context) error) error {
	if fn == nil {
		return errors.New("lock: callback not provided")
	}

	l.mu.Lock()
	if l.held[key] {
		l.mu.Unlock()
		return ErrLocked
	}
	l.held[key] = true
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}()
	return fn(ctx)
}
