// Package singleflight keeps at most one execution per key in flight.
package singleflight

import (
	"sync"
)

// Group manages a set of in-flight calls to prevent duplicate work.
// Keys are released as soon as their call returns.
type Group[T any] struct {
	mu sync.Mutex
	m  map[string]*call[T]
}

type call[T any] struct {
	wg  sync.WaitGroup
	val T
	err error
}

// New creates a new singleflight Group.
func New[T any]() *Group[T] {
	return &Group[T]{
		m: make(map[string]*call[T]),
	}
}

// Do executes and returns the results of fn, making sure that only one
// execution is in-flight for a given key at a time. A duplicate caller waits
// for the original to complete and receives the same results.
func (g *Group[T]) Do(key string, fn func() (T, error)) (T, error) {
	g.mu.Lock()
	if c, ok := g.m[key]; ok {
		g.mu.Unlock()
		c.wg.Wait()
		return c.val, c.err
	}

	c := g.start(key)
	g.mu.Unlock()

	g.finish(key, c, fn)
	return c.val, c.err
}

// TryDo runs fn only if no other call with the same key is in progress.
// Otherwise it returns ErrInProgress immediately and false.
func (g *Group[T]) TryDo(key string, fn func() (T, error)) (T, error, bool) {
	g.mu.Lock()
	if _, ok := g.m[key]; ok {
		g.mu.Unlock()
		var zero T
		return zero, ErrInProgress, false
	}

	c := g.start(key)
	g.mu.Unlock()

	g.finish(key, c, fn)
	return c.val, c.err, true
}

// InFlight reports whether a call for key is currently running.
func (g *Group[T]) InFlight(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.m[key]
	return ok
}

// ForgetKey lets the next call for key run even if one is still in progress.
func (g *Group[T]) ForgetKey(key string) {
	g.mu.Lock()
	delete(g.m, key)
	g.mu.Unlock()
}

// start must be called with g.mu held.
func (g *Group[T]) start(key string) *call[T] {
	c := &call[T]{}
	c.wg.Add(1)
	g.m[key] = c
	return c
}

func (g *Group[T]) finish(key string, c *call[T], fn func() (T, error)) {
	defer func() {
		g.mu.Lock()
		if g.m[key] == c {
			delete(g.m, key)
		}
		g.mu.Unlock()
		c.wg.Done()
	}()
	c.val, c.err = fn()
}
