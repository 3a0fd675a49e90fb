// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package wg implements a channel- and context-enabled WaitGroup,
// used by the scheduler to track in-flight node executions and to
// let callers block until a dispatched component quiesces.
package wg

import (
	"context"
	"sync"
)

// A WaitGroup waits for a collection of events to complete. Add
// registers pending events; Done retires them. Unlike
// sync.WaitGroup, completion can be observed through a channel (C)
// or with a context-aware Wait, so waiters can be canceled.
// A WaitGroup must not be copied after first use.
type WaitGroup struct {
	mu    sync.Mutex
	n     int
	waitc chan struct{}
}

// Add adds delta, which may be negative, to the WaitGroup counter.
// If the counter becomes zero, all waiters are released. If the
// counter goes negative, Add panics.
//
// Calls with a positive delta that occur when the counter is zero
// must happen before a Wait.
func (w *WaitGroup) Add(delta int) {
	w.mu.Lock()
	w.n += delta
	if w.n < 0 {
		panic("negative waitgroup count")
	}
	var c chan struct{}
	if w.n == 0 {
		c = w.waitc
		w.waitc = nil
	}
	w.mu.Unlock()
	if c != nil {
		close(c)
	}
}

// Done decrements the WaitGroup counter.
func (w *WaitGroup) Done() {
	w.Add(-1)
}

// C returns a channel that is closed when the waitgroup count is 0.
func (w *WaitGroup) C() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.n == 0 {
		c := make(chan struct{})
		close(c)
		return c
	}
	if w.waitc == nil {
		w.waitc = make(chan struct{})
	}
	return w.waitc
}

// Wait blocks until the waitgroup count reaches 0, or until the
// provided context is done, in which case the context's error is
// returned.
func (w *WaitGroup) Wait(ctx context.Context) error {
	select {
	case <-w.C():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// N returns the current number of pending events.
func (w *WaitGroup) N() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.n
}
