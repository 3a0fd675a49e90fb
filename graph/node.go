// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package graph implements the node abstraction of the dataflow
// engine: named typed slots, bidirectional adjacency with completion
// tracking, propagation rules, and the abort channel that tears a
// connected component down on error.
package graph

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/grailbio/algograph"
	"github.com/grailbio/algograph/errors"
	"github.com/grailbio/algograph/log"
	"github.com/grailbio/algograph/values"
	"github.com/grailbio/base/digest"
	"github.com/grailbio/base/sync/ctxsync"
)

// State enumerates the observable states of a node. States are
// monotonic: a node never returns to an earlier state.
type State int

const (
	// Init is the initial state: the node has not been dispatched.
	Init State = iota
	// Running indicates that the node has started.
	Running
	// Done indicates that the node has finished and its outputs are
	// ready.
	Done
)

func (s State) String() string {
	switch s {
	case Init:
		return "init"
	case Running:
		return "running"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

// A Def supplies the behavior of a node: its slot declarations and
// its lifecycle hooks. Defs are immutable and shared by every node
// constructed from them.
type Def struct {
	// Class is a stable name identifying the node's behavior, used
	// for debug output.
	Class string
	// Slots declares the node's slot table.
	Slots []SlotDef
	// Setup is run by the factory before parameters are applied.
	Setup func(*Node) error
	// Init is run by the factory after parameters are applied.
	Init func(*Node) error
	// Run is the node's procedure. It reads inputs and parameters
	// and writes outputs; it may call Abort.
	Run func(*Node)
}

// Params is a parameter map applied by the factory. Keys address
// parameter or input slots by base name; the reserved names
// KeepInput, ParallelExecution and PropagationRules address the
// engine parameters present on every node.
type Params map[string]values.T

// completions is an ordered mapping from neighbor to a completion
// bit recording whether the neighbor has finished.
type completions struct {
	nodes []*Node
	done  map[*Node]bool
}

func (c *completions) add(n *Node, done bool) {
	if c.done == nil {
		c.done = make(map[*Node]bool)
	}
	if _, ok := c.done[n]; !ok {
		c.nodes = append(c.nodes, n)
	}
	c.done[n] = done
}

func (c *completions) remove(n *Node) {
	if _, ok := c.done[n]; !ok {
		return
	}
	delete(c.done, n)
	for i, m := range c.nodes {
		if m == n {
			c.nodes = append(c.nodes[:i], c.nodes[i+1:]...)
			break
		}
	}
}

func (c *completions) contains(n *Node) bool {
	_, ok := c.done[n]
	return ok
}

func (c *completions) set(n *Node, done bool) {
	if _, ok := c.done[n]; ok {
		c.done[n] = done
	}
}

func (c *completions) all() bool {
	for _, done := range c.done {
		if !done {
			return false
		}
	}
	return true
}

func (c *completions) snapshot() []*Node {
	return append([]*Node{}, c.nodes...)
}

// pending returns the neighbors whose completion bit is unset.
func (c *completions) pending() []*Node {
	var ns []*Node
	for _, n := range c.nodes {
		if !c.done[n] {
			ns = append(ns, n)
		}
	}
	return ns
}

func (c *completions) len() int {
	return len(c.nodes)
}

var nodeseq int64

// A Node is a unit of computation holding a static table of named,
// typed slots, its position in the graph (ancestors and descendants
// with completion bits), and its execution state. Nodes are
// constructed by New and wired with Connect.
type Node struct {
	def Def
	seq int64
	id  digest.Digest

	mu   sync.Mutex
	cond *ctxsync.Cond

	slots    []*slot
	index    map[Kind]map[string]*slot
	nickname string

	ancestors   completions
	descendants completions

	started  bool
	finished bool
	aborted  bool
	err      error

	startedObs  []func()
	finishedObs []func()
	raiseObs    []func(message string)
}

// New is the node factory: it allocates a node from def, runs the
// def's Setup hook, applies the parameter map, runs the Init hook,
// and returns the node. Construction fails if the slot table is
// malformed, if a parameter value does not fit its slot's type, or
// if a hook fails.
func New(def Def, params Params) (*Node, error) {
	n := &Node{
		def:   def,
		seq:   atomic.AddInt64(&nodeseq, 1),
		index: make(map[Kind]map[string]*slot),
	}
	n.id = algograph.Digester.FromString(fmt.Sprintf("%s/%d", def.Class, n.seq))
	n.cond = ctxsync.NewCond(&n.mu)
	for _, sd := range append(engineSlots(), def.Slots...) {
		if sd.Name == "" || sd.Type == nil {
			return nil, errors.E("new", def.Class, errors.New("slot declaration missing name or type"))
		}
		if sd.Kind == Param {
			if !values.Assignable(values.Typeof(sd.Default), sd.Type) {
				return nil, errors.E("new", def.Class, sd.Name,
					errors.New("parameter declared without a valid default"))
			}
		}
		byName := n.index[sd.Kind]
		if byName == nil {
			byName = make(map[string]*slot)
			n.index[sd.Kind] = byName
		}
		if _, ok := byName[sd.Name]; ok {
			return nil, errors.E("new", def.Class, sd.Name, errors.New("duplicate slot name"))
		}
		s := &slot{SlotDef: sd}
		if sd.Kind == Param {
			s.v = sd.Default
		}
		n.slots = append(n.slots, s)
		byName[sd.Name] = s
	}
	if def.Setup != nil {
		if err := def.Setup(n); err != nil {
			return nil, errors.E("setup", def.Class, err)
		}
	}
	if err := n.SetParams(params); err != nil {
		return nil, err
	}
	if def.Init != nil {
		if err := def.Init(n); err != nil {
			return nil, errors.E("init", def.Class, err)
		}
	}
	return n, nil
}

// SetParams assigns the given name-value pairs to parameter or
// input slots with matching base names. Names matching no slot are
// logged and skipped; values that do not fit their slot's type fail.
func (n *Node) SetParams(params Params) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	for name, v := range params {
		s := n.lookup(name, Param, Input)
		if s == nil {
			log.Errorf("%s: trying to set %s but it is not among the node's slots", n.printName(), name)
			continue
		}
		if err := s.set(v); err != nil {
			return errors.E("setparams", n.printName(), err)
		}
	}
	return nil
}

// lookup returns the slot with the given base name among the given
// kinds, in kind order, or nil.
func (n *Node) lookup(name string, kinds ...Kind) *slot {
	for _, k := range kinds {
		if s := n.index[k][name]; s != nil {
			return s
		}
	}
	return nil
}

// Class returns the node's class tag.
func (n *Node) Class() string { return n.def.Class }

// ID returns the node's identity digest.
func (n *Node) ID() digest.Digest { return n.id }

// Nickname returns the node's user-assigned nickname, if any.
func (n *Node) Nickname() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.nickname
}

// SetNickname assigns a nickname used in debug output and for
// propagation rule disambiguation.
func (n *Node) SetNickname(nickname string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nickname = nickname
}

// PrintName renders the node's class tag, identity and nickname.
func (n *Node) PrintName() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.printName()
}

func (n *Node) printName() string {
	name := fmt.Sprintf("%s(%s)", n.def.Class, n.id.Short())
	if n.nickname != "" {
		name += " " + n.nickname
	}
	return name
}

// In reads the input slot with the given base name. List inputs
// read as a values.List. An empty cell reads as nil.
func (n *Node) In(name string) values.T {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.mustSlot(name, Input).value()
}

// InRef returns a reference to the input slot's cell. The reference
// is valid until the slot is cleared; it must not be used
// concurrently with the node's execution.
func (n *Node) InRef(name string) *values.T {
	n.mu.Lock()
	defer n.mu.Unlock()
	return &n.mustSlot(name, Input).v
}

// MoveIn destructively reads the input slot with the given base
// name: the value is returned and the cell emptied, so that the
// caller assumes ownership without copying.
func (n *Node) MoveIn(name string) values.T {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.mustSlot(name, Input).move()
}

// SetIn writes v to the input slot with the given base name,
// appending if the slot is a list input. A type mismatch aborts the
// node and returns an error of kind errors.SlotType.
func (n *Node) SetIn(name string, v values.T) error {
	n.mu.Lock()
	s := n.mustSlot(name, Input)
	err := s.set(v)
	n.mu.Unlock()
	if err != nil {
		n.AbortErr(err)
	}
	return err
}

// Out reads the output slot with the given base name.
func (n *Node) Out(name string) values.T {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.mustSlot(name, Output).value()
}

// SetOut writes v to the output slot with the given base name. A
// type mismatch aborts the node and returns an error of kind
// errors.SlotType.
func (n *Node) SetOut(name string, v values.T) error {
	n.mu.Lock()
	s := n.mustSlot(name, Output)
	err := s.set(v)
	n.mu.Unlock()
	if err != nil {
		n.AbortErr(err)
	}
	return err
}

// Param reads the parameter slot with the given base name.
func (n *Node) Param(name string) values.T {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.mustSlot(name, Param).value()
}

func (n *Node) mustSlot(name string, kind Kind) *slot {
	s := n.index[kind][name]
	if s == nil {
		panic(fmt.Sprintf("algograph: no %s slot named %s on %s", kind, name, n.def.Class))
	}
	return s
}

// KeepInput reports the node's KeepInput parameter: whether input
// slots are preserved after the node finishes.
func (n *Node) KeepInput() bool {
	return n.Param(KeepInputParam).(bool)
}

// Parallel reports the node's ParallelExecution parameter: whether
// the node's descendants are dispatched to worker threads or run
// inline.
func (n *Node) Parallel() bool {
	return n.Param(ParallelExecutionParam).(bool)
}

// SetParallel sets the node's ParallelExecution parameter.
func (n *Node) SetParallel(parallel bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.index[Param][ParallelExecutionParam].v = parallel
}

// Rules returns the node's propagation rules, which govern how its
// ancestors' slots are renamed on their way in.
func (n *Node) Rules() Rules {
	r, _ := n.Param(PropagationRulesParam).(Rules)
	return r
}

// Started tells whether the node has been dispatched.
func (n *Node) Started() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.started
}

// Finished tells whether the node has finished and its outputs are
// ready.
func (n *Node) Finished() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.finished
}

// Aborted tells whether the node has received an abort.
func (n *Node) Aborted() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.aborted
}

// Err returns the error carried by the node's abort, if any.
func (n *Node) Err() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.err
}

// State returns the node's current state.
func (n *Node) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state()
}

func (n *Node) state() State {
	switch {
	case n.finished:
		return Done
	case n.started:
		return Running
	default:
		return Init
	}
}

// Wait returns after the node's state is at least the provided
// state, or after the node has aborted. Wait returns an error if
// the context was canceled while waiting.
func (n *Node) Wait(ctx context.Context, state State) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	var err error
	for n.state() < state && !n.aborted && err == nil {
		err = n.cond.Wait(ctx)
	}
	return err
}

// Ready tells whether every ancestor of the node has finished. A
// node with no ancestors is immediately ready.
func (n *Node) Ready() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ancestors.all()
}

// OnJustStarted registers an observer invoked when the node starts.
func (n *Node) OnJustStarted(fn func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.startedObs = append(n.startedObs, fn)
}

// OnJustFinished registers an observer invoked when the node
// finishes. Observers run before any descendant is dispatched.
func (n *Node) OnJustFinished(fn func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.finishedObs = append(n.finishedObs, fn)
}

// OnRaise registers an observer invoked when the node aborts,
// whether directly or by propagation. Delivery is queued: observers
// never run in the emitter's stack.
func (n *Node) OnRaise(fn func(message string)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.raiseObs = append(n.raiseObs, fn)
}

// beginStart transitions the node to started, emitting the
// just-started event. It returns false if the node was already
// started or has aborted, in which case the node must not be
// dispatched.
func (n *Node) beginStart() bool {
	n.mu.Lock()
	if n.started || n.aborted {
		n.mu.Unlock()
		return false
	}
	n.started = true
	obs := append([]func(){}, n.startedObs...)
	n.cond.Broadcast()
	n.mu.Unlock()
	for _, fn := range obs {
		fn()
	}
	return true
}

// setFinished transitions the node to finished, emitting the
// just-finished event synchronously.
func (n *Node) setFinished() {
	n.mu.Lock()
	if n.finished {
		n.mu.Unlock()
		return
	}
	n.finished = true
	obs := append([]func(){}, n.finishedObs...)
	n.cond.Broadcast()
	n.mu.Unlock()
	for _, fn := range obs {
		fn()
	}
}

// Abort raises an error on the node. The raise travels along both
// directions of every edge, queued, until the node's whole
// connected component has aborted; registered OnRaise observers are
// notified with the message. An aborted node is never dispatched.
func (n *Node) Abort(message string) {
	n.abort(errors.E("abort", errors.Aborted, errors.New(message)), message)
}

// AbortErr aborts the node with an error instead of a bare message.
func (n *Node) AbortErr(err error) {
	n.abort(err, errors.Recover(err).Message())
}

func (n *Node) abort(err error, message string) {
	n.mu.Lock()
	if n.aborted {
		n.mu.Unlock()
		return
	}
	n.aborted = true
	n.err = err
	obs := append([]func(string){}, n.raiseObs...)
	neighbors := append(n.ancestors.snapshot(), n.descendants.snapshot()...)
	n.cond.Broadcast()
	n.mu.Unlock()
	// Queued delivery: the raise must not execute in the emitter's
	// stack.
	go func() {
		for _, fn := range obs {
			fn(message)
		}
		for _, nb := range neighbors {
			nb.abort(err, message)
		}
	}()
}

// noteAncestorDone marks ancestor a's completion bit.
func (n *Node) noteAncestorDone(a *Node) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ancestors.set(a, true)
}

// noteDescendantDone marks descendant d's completion bit.
func (n *Node) noteDescendantDone(d *Node) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.descendants.set(d, true)
}

// Ancestors returns the node's ancestors, in connection order.
func (n *Node) Ancestors() []*Node {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ancestors.snapshot()
}

// Descendants returns the node's descendants, in connection order.
func (n *Node) Descendants() []*Node {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.descendants.snapshot()
}

// pendingAncestors returns the ancestors whose completion bit is
// unset.
func (n *Node) pendingAncestors() []*Node {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ancestors.pending()
}

// clearInputs resets every input slot to the empty cell.
func (n *Node) clearInputs() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, s := range n.slots {
		if s.Kind == Input {
			s.clear()
		}
	}
}

// An outValue is a snapshot of one output or parameter slot, taken
// for propagation across an edge.
type outValue struct {
	Kind Kind
	Name string
	v    values.T
}

// outSnapshot returns the node's output and parameter slots with
// their current values, in declaration order, for propagation
// across an edge.
func (n *Node) outSnapshot() []outValue {
	n.mu.Lock()
	defer n.mu.Unlock()
	var outs []outValue
	for _, s := range n.slots {
		if s.Kind != Output && s.Kind != Param {
			continue
		}
		outs = append(outs, outValue{Kind: s.Kind, Name: s.Name, v: s.value()})
	}
	return outs
}

// accept writes a propagated value to the input or parameter slot
// with the given base name. Misses and type mismatches are
// reported as errors of kind errors.RuleMiss; they are not fatal.
func (n *Node) accept(name string, v values.T) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	s := n.lookup(name, Input, Param)
	if s == nil {
		return errors.E("accept", errors.RuleMiss, name, errors.New("no such input or parameter"))
	}
	if err := s.set(v); err != nil {
		return errors.E("accept", errors.RuleMiss, name, err)
	}
	return nil
}
