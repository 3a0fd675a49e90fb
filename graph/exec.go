// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package graph

import (
	"context"
	"fmt"

	"github.com/grailbio/algograph/errors"
	"github.com/grailbio/algograph/log"
	"github.com/grailbio/algograph/sched"
	"github.com/grailbio/algograph/wg"
	"github.com/grailbio/base/traverse"
)

// A Scheduler drives the execution of a component: it tracks node
// readiness, dispatches run procedures either on a worker pool
// (Parallel) or inline (Serial), transfers finished nodes' outputs
// forward through the propagation rules, and releases inputs
// according to each node's KeepInput policy.
//
// A single Scheduler may drive any number of components; its worker
// pool is shared among them.
type Scheduler struct {
	// Pool is the worker pool on which parallel dispatch runs. It
	// is shared by every node the scheduler drives.
	Pool *sched.Pool
	// Log receives scheduler events. Non-fatal propagation misses
	// are logged here.
	Log *log.Logger

	pending wg.WaitGroup
}

// NewScheduler returns a scheduler whose pool is sized by hardware
// parallelism and whose log is the standard logger.
func NewScheduler() *Scheduler {
	return &Scheduler{
		Pool: sched.New(0),
		Log:  log.Std,
	}
}

// Parallel drives node n and its component across the scheduler's
// worker pool. If n is ready, it is dispatched; otherwise the walk
// recurs into n's unstarted ancestors. Parallel does not block: use
// Wait to block until the component quiesces, or observe individual
// nodes with Node.Wait.
func (s *Scheduler) Parallel(n *Node) {
	if !n.Ready() {
		for _, a := range n.pendingAncestors() {
			if !a.Started() {
				s.Parallel(a)
			}
		}
		return
	}
	if !n.beginStart() {
		return
	}
	s.pending.Add(1)
	s.Pool.Submit(func() {
		defer s.pending.Done()
		s.exec(n)
	}, func(err error) {
		defer s.pending.Done()
		n.AbortErr(err)
	})
}

// Serial drives node n and its component inline on the calling
// goroutine: unfinished ancestors are run recursively, then n
// itself, and n's ParallelExecution flag is forced off so the
// synchronous discipline propagates to its descendants. Serial
// returns once the component's serial portion has finished.
func (s *Scheduler) Serial(n *Node) {
	if n.Started() || n.Aborted() {
		return
	}
	for _, a := range n.pendingAncestors() {
		if !a.Started() {
			s.Serial(a)
		}
	}
	// Running an ancestor inline may already have propagated into n.
	if n.Started() || n.Aborted() || !n.Ready() {
		return
	}
	n.SetParallel(false)
	if !n.beginStart() {
		return
	}
	s.exec(n)
}

// Wait blocks until every node dispatched by this scheduler, and
// every node reached transitively by propagation, has completed,
// or until the context is done.
func (s *Scheduler) Wait(ctx context.Context) error {
	return s.pending.Wait(ctx)
}

// exec invokes n's run procedure and, unless the node aborted,
// marks it finished and propagates its outputs forward. A panicking
// run procedure aborts the node.
func (s *Scheduler) exec(n *Node) {
	func() {
		defer func() {
			if p := recover(); p != nil {
				n.AbortErr(errors.E("run", n.PrintName(), errors.Fatal,
					errors.Errorf("run panicked: %v", p)))
			}
		}()
		n.def.Run(n)
	}()
	if n.Aborted() {
		return
	}
	n.setFinished()
	s.propagate(n)
}

// propagate is triggered when n finishes: it marks n's completion
// bit at every neighbor, transfers n's outputs and parameters into
// each descendant through the descendant's rules, releases n's
// inputs and edges when KeepInput is off, and dispatches descendants
// that have become ready.
func (s *Scheduler) propagate(n *Node) {
	for _, a := range n.Ancestors() {
		a.noteDescendantDone(n)
	}
	descendants := n.Descendants()
	each := func(d *Node) {
		// The transfer happens before the completion bit is set:
		// whichever parent's completion makes d ready then observes
		// every other parent's transfer as well.
		s.transfer(n, d)
		d.noteAncestorDone(n)
		if !n.KeepInput() {
			Disconnect(n, d)
			n.clearInputs()
		}
		if !d.Started() && !d.Aborted() {
			if n.Parallel() {
				s.Parallel(d)
			} else {
				s.Serial(d)
			}
		}
	}
	if n.Parallel() && len(descendants) > 1 {
		_ = traverse.Each(len(descendants), func(i int) error {
			each(descendants[i])
			return nil
		})
	} else {
		for _, d := range descendants {
			each(d)
		}
	}
}

// transfer moves parent's output and parameter slots into child,
// renaming them through the child's propagation rules. Rule misses
// and type mismatches are logged and skipped; they do not fail the
// transfer.
func (s *Scheduler) transfer(parent, child *Node) {
	rules := child.Rules()
	nickname := parent.Nickname()
	for _, out := range parent.outSnapshot() {
		mentioned := rules.Mentions(out.Name)
		// Parameters are sticky: they cross the edge only when the
		// child's rules name them.
		if out.Kind == Param && !mentioned {
			continue
		}
		target, err := rules.Resolve(out.Name, nickname)
		if err != nil {
			s.Log.Errorf("transfer %s -> %s: %v", parent.PrintName(), child.PrintName(), err)
			continue
		}
		if out.v == nil {
			s.Log.Debugf("transfer %s -> %s: %s is empty, skipping", parent.PrintName(), child.PrintName(), out.Name)
			continue
		}
		if err := child.accept(target, out.v); err != nil {
			if mentioned {
				s.Log.Errorf("transfer %s -> %s: %v", parent.PrintName(), child.PrintName(), err)
			} else {
				s.Log.Debugf("transfer %s -> %s: %v", parent.PrintName(), child.PrintName(), err)
			}
		}
	}
}

// Improve fuses removable edges in the component reachable from n:
// chains of nodes connected one-to-one are forced onto a single
// goroutine by clearing ParallelExecution on every chain node but
// the last. Combined with the default KeepInput=false policy and
// move-based input reads, a fused chain passes values forward
// without copies or thread hops. Improve changes scheduling only;
// output values are unaffected.
func (s *Scheduler) Improve(n *Node) {
	flat := Flatten(n)
	replacements := make(map[*Node][]*Node)
	for _, p := range flat.Nodes() {
		for _, c := range flat.Children(p) {
			if IsRemovable(p, c) {
				replacements[p] = append(replacements[p], c)
			}
		}
	}
	// Link pairs that chain together: a chain's head accumulates the
	// whole tail.
	for changed := true; changed; {
		changed = false
		for _, p1 := range flat.Nodes() {
			chain, ok := replacements[p1]
			if !ok {
				continue
			}
			p2 := chain[len(chain)-1]
			if tail, ok := replacements[p2]; ok && p2 != p1 {
				replacements[p1] = append(chain, tail...)
				delete(replacements, p2)
				changed = true
				break
			}
		}
	}
	for head, chain := range replacements {
		nodes := append([]*Node{head}, chain...)
		for _, m := range nodes[:len(nodes)-1] {
			m.SetParallel(false)
		}
		if s.Log.At(log.DebugLevel) {
			s.Log.Debugf("improve: fused chain %s", chainString(nodes))
		}
	}
}

func chainString(nodes []*Node) string {
	var s string
	for i, n := range nodes {
		if i > 0 {
			s += " -> "
		}
		s += fmt.Sprintf("%s(%s)", n.Class(), n.ID().Short())
	}
	return s
}
