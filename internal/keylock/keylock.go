// Package keylock provides per-key exclusive sections. Each key owns a
// one-token channel semaphore that exists only while someone holds or waits
// for it, so idle keys cost nothing.
package keylock

import (
	"context"
	"sync"
)

type entry struct {
	token chan struct{}
	refs  int
}

// Map hands out exclusive access per key. The zero value is ready to use.
type Map struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// Acquire blocks until the key is free or ctx is done. The returned release
// function must be called exactly once.
func (m *Map) Acquire(ctx context.Context, key string) (release func(), err error) {
	e := m.ref(key)

	select {
	case e.token <- struct{}{}:
	case <-ctx.Done():
		m.unref(key)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.token
			m.unref(key)
		})
	}, nil
}

func (m *Map) ref(key string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries == nil {
		m.entries = make(map[string]*entry)
	}
	e, ok := m.entries[key]
	if !ok {
		e = &entry{token: make(chan struct{}, 1)}
		m.entries[key] = e
	}
	e.refs++
	return e
}

func (m *Map) unref(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entries[key]
	e.refs--
	if e.refs == 0 {
		delete(m.entries, key)
	}
}
