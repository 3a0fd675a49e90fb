// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package sched implements the worker pool on which node run
// procedures are dispatched.
//
// A unit of work is a plain func submitted to a Pool. The pool
// admits at most as many concurrent units as it has workers;
// supernumerary units queue on the pool's limiter. Units run to
// completion: there is no cooperative suspension and no preemption.
// A pool that has been shut down refuses further units, reporting
// the refusal through the submitter's cancel callback.
package sched

import (
	"context"
	"runtime"

	"github.com/grailbio/algograph/errors"
	"github.com/grailbio/algograph/log"
	"github.com/grailbio/base/limiter"
)

// A Pool runs submitted units of work on a bounded set of workers.
// The zero Pool is not valid; use New.
type Pool struct {
	// Log receives debug messages about pool admission.
	Log *log.Logger

	workers int
	lim     *limiter.Limiter
	ctx     context.Context
	cancel  context.CancelFunc
}

// New returns a new Pool admitting up to the provided number of
// concurrent units. If workers <= 0, the pool is sized by hardware
// parallelism.
func New(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	p := &Pool{
		workers: workers,
		lim:     limiter.New(),
	}
	p.lim.Release(workers)
	p.ctx, p.cancel = context.WithCancel(context.Background())
	return p
}

// Workers returns the pool's concurrency limit.
func (p *Pool) Workers() int {
	return p.workers
}

// Submit schedules run on the pool. Submit does not block: admission
// waits on a separate goroutine. If the pool refuses the unit
// (because it has been shut down), cancel is invoked with an error
// of kind errors.Dispatch instead, exactly once. One of run or
// cancel is always invoked.
func (p *Pool) Submit(run func(), cancel func(error)) {
	go func() {
		if err := p.lim.Acquire(p.ctx, 1); err != nil {
			p.Log.Debugf("pool: refused unit: %v", err)
			cancel(errors.E("submit", errors.Dispatch, err))
			return
		}
		defer p.lim.Release(1)
		run()
	}()
}

// Shutdown stops the pool: units not yet admitted are refused.
// Units already running are not interrupted.
func (p *Pool) Shutdown() {
	p.cancel()
}
