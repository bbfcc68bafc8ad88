package lock

import (
	"Parimutuel/internal/observability"
	"context"
	"sync"
	"time"
)

// KeyedMutex serialises callers per key within one process
type KeyedMutex struct {
	mu      sync.Mutex
	slots   map[string]*slot
	metrics *observability.Metrics
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewKeyedMutex(metrics *observability.Metrics) *KeyedMutex {
	return &KeyedMutex{
		slots:   make(map[string]*slot),
		metrics: metrics,
	}
}

// Lock blocks until key is free or ctx is done
func (k *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	start := time.Now()

	k.mu.Lock()
	s, ok := k.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		k.slots[key] = s
	}
	s.refs++
	k.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		k.release(key, s)
		if k.metrics != nil {
			k.metrics.LockErrors.WithLabelValues("memory").Inc()
		}
		return nil, ctx.Err()
	}

	if k.metrics != nil {
		k.metrics.LockWait.WithLabelValues("memory").Observe(time.Since(start).Seconds())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			k.release(key, s)
		})
	}, nil
}

func (k *KeyedMutex) release(key string, s *slot) {
	k.mu.Lock()
	defer k.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(k.slots, key)
	}
}

// Held returns the number of keys with a holder or waiter
func (k *KeyedMutex) Held() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.slots)
}
