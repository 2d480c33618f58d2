// Package keylock provides a table of exclusive locks keyed by string.
//
// Locks on different keys never contend with each other. Entries are reference-counted
// and dropped from the table once no caller holds or waits on them.
package keylock

import (
	"context"
	"sync"
)

// Table of keyed locks
type Table struct {
	mx      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	sem  chan struct{}
	refs int
}

// New lock table
func New() *Table {
	return &Table{entries: make(map[string]*entry)}
}

func (t *Table) acquire(key string) *entry {
	t.mx.Lock()
	defer t.mx.Unlock()

	e, ok := t.entries[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		t.entries[key] = e
	}
	e.refs++
	return e
}

func (t *Table) release(key string, e *entry) {
	t.mx.Lock()
	defer t.mx.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(t.entries, key)
	}
}

func (t *Table) unlocker(key string, e *entry) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			t.release(key, e)
		})
	}
}

// Lock a key, waiting until it is available or the context is done.
//
// The returned function releases the lock. It may be called more than once.
func (t *Table) Lock(ctx context.Context, key string) (func(), error) {
	e := t.acquire(key)

	select {
	case e.sem <- struct{}{}:
		return t.unlocker(key, e), nil
	case <-ctx.Done():
		t.release(key, e)
		return nil, ctx.Err()
	}
}

// TryLock locks a key only if it is immediately available
func (t *Table) TryLock(key string) (func(), bool) {
	e := t.acquire(key)

	select {
	case e.sem <- struct{}{}:
		return t.unlocker(key, e), true
	default:
		t.release(key, e)
		return nil, false
	}
}

// Len is the number of keys currently held or waited on
func (t *Table) Len() int {
	t.mx.Lock()
	defer t.mx.Unlock()
	return len(t.entries)
}
