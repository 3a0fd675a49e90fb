// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package graph_test

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/grailbio/algograph/alg"
	"github.com/grailbio/algograph/errors"
	"github.com/grailbio/algograph/graph"
	"github.com/grailbio/algograph/sched"
)

const epsilon = 1e-9

func near(a, b float64) bool {
	return math.Abs(a-b) < epsilon
}

// constDef emits a fixed array on the named output.
func constDef(out string, v []float64) graph.Def {
	return graph.Def{
		Class: "Const",
		Slots: []graph.SlotDef{
			{Kind: graph.Output, Name: out, Type: floatsType},
		},
		Run: func(n *graph.Node) {
			n.SetOut(out, v)
		},
	}
}

// passDef copies its Array input to its Array output.
func passDef() graph.Def {
	return graph.Def{
		Class: "Pass",
		Slots: []graph.SlotDef{
			{Kind: graph.Input, Name: "Array", Type: floatsType},
			{Kind: graph.Output, Name: "Array", Type: floatsType},
		},
		Run: func(n *graph.Node) {
			array, _ := n.In("Array").([]float64)
			n.SetOut("Array", array)
		},
	}
}

func mustNew(t *testing.T, def graph.Def, params graph.Params) *graph.Node {
	t.Helper()
	n, err := graph.New(def, params)
	if err != nil {
		t.Fatal(err)
	}
	return n
}

func mustAlg(t *testing.T, mk func(graph.Params) (*graph.Node, error), params graph.Params) *graph.Node {
	t.Helper()
	n, err := mk(params)
	if err != nil {
		t.Fatal(err)
	}
	return n
}

func waitDone(t *testing.T, s *graph.Scheduler, nodes ...*graph.Node) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, n := range nodes {
		if err := n.Wait(ctx, graph.Done); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Wait(ctx); err != nil {
		t.Fatal(err)
	}
}

// Scenario: Const -> MovingAverage(2) -> ElementPicker(0) computes
// the first window average.
func TestChain(t *testing.T) {
	gen := mustNew(t, constDef("Numbers", []float64{0.1, 0.2, 0.3, 0.4, 0.5}), nil)
	avg := mustAlg(t, alg.MovingAverage, graph.Params{
		graph.PropagationRulesParam: graph.MakeRules([2]string{"Numbers", "Array"}),
		"Size":                      2,
	})
	pick := mustAlg(t, alg.ElementPicker, graph.Params{"Position": 0})
	graph.Connect(gen, avg)
	graph.Connect(avg, pick)

	s := graph.NewScheduler()
	s.Parallel(pick)
	waitDone(t, s, pick)

	if got, want := pick.Out("PickedElement").(float64), 0.15; !near(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

// Scenario: rule renaming carries Numbers into Percentile's Array.
func TestRuleRenaming(t *testing.T) {
	gen := mustNew(t, constDef("Numbers", []float64{1, 2, 3, 4, 5}), nil)
	pct := mustAlg(t, alg.Percentile, graph.Params{
		graph.PropagationRulesParam: graph.MakeRules([2]string{"Numbers", "Array"}),
		"Order":                     50,
	})
	graph.Connect(gen, pct)

	s := graph.NewScheduler()
	s.Parallel(pct)
	waitDone(t, s, pct)

	if got, want := pct.Out("Percentile").(float64), 3.0; !near(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

// Scenario: two pickers fan in to a list-input Mean.
func TestFaninList(t *testing.T) {
	pickA := mustAlg(t, alg.ElementPicker, graph.Params{"Array": []float64{7}, "Position": 0})
	pickB := mustAlg(t, alg.ElementPicker, graph.Params{"Array": []float64{3}, "Position": 0})
	mean := mustAlg(t, alg.Mean, graph.Params{
		graph.PropagationRulesParam: graph.MakeRules([2]string{"PickedElement", "Array"}),
	})
	graph.Connect(pickA, mean)
	graph.Connect(pickB, mean)

	s := graph.NewScheduler()
	s.Parallel(mean)
	waitDone(t, s, mean)

	if got, want := mean.Out("Mean").(float64), 5.0; !near(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

// Scenario: an aborting generator tears the component down; the
// sink observes the raise and the generator never finishes.
func TestAbortPropagation(t *testing.T) {
	gen := mustAlg(t, alg.RandomGenerator, graph.Params{"Amount": -1})
	mean := mustAlg(t, alg.Mean, graph.Params{
		graph.PropagationRulesParam: graph.MakeRules([2]string{"Numbers", "Array"}),
	})
	graph.Connect(gen, mean)

	var genFinished int32
	gen.OnJustFinished(func() { atomic.StoreInt32(&genFinished, 1) })
	raised := make(chan string, 1)
	mean.OnRaise(func(message string) { raised <- message })

	s := graph.NewScheduler()
	s.Parallel(mean)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := mean.Wait(ctx, graph.Done); err != nil {
		t.Fatal(err)
	}
	if err := s.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	select {
	case msg := <-raised:
		if got, want := msg, "amount must be positive"; got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	case <-ctx.Done():
		t.Fatal("sink never observed the raise")
	}
	if !mean.Aborted() || mean.Started() {
		t.Error("aborted sink must not be dispatched")
	}
	if atomic.LoadInt32(&genFinished) != 0 || gen.Finished() {
		t.Error("aborting generator must not finish")
	}
	if !errors.Is(errors.InvalidParam, gen.Err()) {
		t.Errorf("got %v, want invalid parameter", gen.Err())
	}
}

// diamond builds Const -> Pass -> {pickA, pickB} -> Mean and
// returns the nodes in topological order.
func diamond(t *testing.T) []*graph.Node {
	t.Helper()
	gen := mustNew(t, constDef("Array", []float64{4, 8, 15, 16, 23, 42}), nil)
	pass := mustNew(t, passDef(), nil)
	pickA := mustAlg(t, alg.ElementPicker, graph.Params{"Position": 0})
	pickB := mustAlg(t, alg.ElementPicker, graph.Params{"Position": 5})
	mean := mustAlg(t, alg.Mean, graph.Params{
		graph.PropagationRulesParam: graph.MakeRules([2]string{"PickedElement", "Array"}),
	})
	graph.Connect(gen, pass)
	graph.Connect(pass, pickA)
	graph.Connect(pass, pickB)
	graph.Connect(pickA, mean)
	graph.Connect(pickB, mean)
	return []*graph.Node{gen, pass, pickA, pickB, mean}
}

// Scenario: parallel and serial execution produce identical output
// slot values.
func TestParallelSerialEquivalence(t *testing.T) {
	outs := func(run func(s *graph.Scheduler, sink *graph.Node)) (picked [2]float64, mean float64) {
		nodes := diamond(t)
		sink := nodes[len(nodes)-1]
		s := graph.NewScheduler()
		run(s, sink)
		waitDone(t, s, sink)
		picked[0] = nodes[2].Out("PickedElement").(float64)
		picked[1] = nodes[3].Out("PickedElement").(float64)
		mean = sink.Out("Mean").(float64)
		return
	}
	ppicked, pmean := outs(func(s *graph.Scheduler, sink *graph.Node) { s.Parallel(sink) })
	spicked, smean := outs(func(s *graph.Scheduler, sink *graph.Node) { s.Serial(sink) })
	if ppicked != spicked {
		t.Errorf("picked: parallel %v, serial %v", ppicked, spicked)
	}
	if !near(pmean, smean) {
		t.Errorf("mean: parallel %v, serial %v", pmean, smean)
	}
	if got, want := pmean, (4.0+42.0)/2; !near(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

// Scenario: Improve changes scheduling only, not values.
func TestImproveEquivalence(t *testing.T) {
	nodes := diamond(t)
	sink := nodes[len(nodes)-1]
	s := graph.NewScheduler()
	s.Improve(sink)
	s.Parallel(sink)
	waitDone(t, s, sink)
	if got, want := sink.Out("Mean").(float64), (4.0+42.0)/2; !near(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestImproveCoalescesChain(t *testing.T) {
	a := mustNew(t, constDef("Array", []float64{1, 2, 3}), nil)
	b := mustNew(t, passDef(), nil)
	c := mustNew(t, passDef(), nil)
	d := mustNew(t, passDef(), nil)
	graph.Connect(a, b)
	graph.Connect(b, c)
	graph.Connect(c, d)

	s := graph.NewScheduler()
	s.Improve(d)
	for i, n := range []*graph.Node{a, b, c} {
		if n.Parallel() {
			t.Errorf("chain node %d should be serialized", i)
		}
	}
	if !d.Parallel() {
		t.Error("the last chain node is exempt")
	}

	s.Parallel(d)
	waitDone(t, s, d)
	got, _ := d.Out("Array").([]float64)
	if len(got) != 3 || got[0] != 1 {
		t.Errorf("got %v, want [1 2 3]", got)
	}
}

func TestImproveLeavesFansAlone(t *testing.T) {
	nodes := diamond(t)
	s := graph.NewScheduler()
	s.Improve(nodes[len(nodes)-1])
	// Only the gen -> pass edge is one-to-one.
	if nodes[0].Parallel() {
		t.Error("gen -> pass should be fused")
	}
	for i, n := range nodes[1:] {
		if !n.Parallel() {
			t.Errorf("node %d should stay parallel", i+1)
		}
	}
}

// Event ordering: just_started precedes just_finished, which
// precedes any descendant's just_started.
func TestEventOrdering(t *testing.T) {
	gen := mustNew(t, constDef("Array", []float64{1}), nil)
	mid := mustNew(t, passDef(), nil)
	sink := mustNew(t, passDef(), nil)
	graph.Connect(gen, mid)
	graph.Connect(mid, sink)

	var (
		mu     sync.Mutex
		events []string
	)
	record := func(ev string) func() {
		return func() {
			mu.Lock()
			events = append(events, ev)
			mu.Unlock()
		}
	}
	for _, nv := range []struct {
		name string
		n    *graph.Node
	}{{"gen", gen}, {"mid", mid}, {"sink", sink}} {
		nv.n.OnJustStarted(record(nv.name + ".started"))
		nv.n.OnJustFinished(record(nv.name + ".finished"))
	}

	s := graph.NewScheduler()
	s.Parallel(sink)
	waitDone(t, s, sink)

	index := make(map[string]int)
	mu.Lock()
	for i, ev := range events {
		index[ev] = i
	}
	mu.Unlock()
	for _, pair := range [][2]string{
		{"gen.started", "gen.finished"},
		{"gen.finished", "mid.started"},
		{"mid.started", "mid.finished"},
		{"mid.finished", "sink.started"},
		{"sink.started", "sink.finished"},
	} {
		before, bok := index[pair[0]]
		after, aok := index[pair[1]]
		if !bok || !aok {
			t.Fatalf("missing events in %v: %v", pair, events)
		}
		if before >= after {
			t.Errorf("%s did not precede %s: %v", pair[0], pair[1], events)
		}
	}
}

// At-most-once: a node's run executes exactly once even with
// racing parent completions.
func TestAtMostOnce(t *testing.T) {
	var runs int32
	countDef := graph.Def{
		Class: "Count",
		Slots: []graph.SlotDef{
			{Kind: graph.Input, Name: "Array", Type: floatType, List: true},
		},
		Run: func(n *graph.Node) {
			atomic.AddInt32(&runs, 1)
		},
	}
	sink := mustNew(t, countDef, nil)
	var parents []*graph.Node
	for i := 0; i < 8; i++ {
		p := mustAlg(t, alg.ElementPicker, graph.Params{"Array": []float64{float64(i)}, "Position": 0})
		p.SetNickname("p")
		graph.Connect(p, sink)
		parents = append(parents, p)
	}
	// All parents feed the same logical input.
	if err := sink.SetParams(graph.Params{
		graph.PropagationRulesParam: graph.MakeRules([2]string{"PickedElement", "Array"}),
	}); err != nil {
		t.Fatal(err)
	}

	s := graph.NewScheduler()
	s.Parallel(sink)
	waitDone(t, s, sink)
	if got, want := atomic.LoadInt32(&runs), int32(1); got != want {
		t.Errorf("got %v runs, want %v", got, want)
	}
	for _, p := range parents {
		if !p.Finished() {
			t.Error("parent did not finish")
		}
	}
}

// Memory release: with KeepInput off everywhere, quiescence leaves
// no edges behind, and nodes that propagated have released their
// inputs.
func TestMemoryRelease(t *testing.T) {
	gen := mustNew(t, constDef("Array", []float64{1, 2, 3}), nil)
	mid := mustNew(t, passDef(), nil)
	sink := mustNew(t, passDef(), nil)
	graph.Connect(gen, mid)
	graph.Connect(mid, sink)

	s := graph.NewScheduler()
	s.Parallel(sink)
	waitDone(t, s, sink)

	for _, pair := range [][2]*graph.Node{{gen, mid}, {mid, sink}} {
		if graph.Connected(pair[0], pair[1]) {
			t.Error("edge survived quiescence")
		}
	}
	// Input clearing happens on the way out: every node that
	// propagated to a descendant has released its inputs. A sink has
	// nothing downstream and keeps them.
	if mid.In("Array") != nil {
		t.Errorf("%s: input not cleared", mid.PrintName())
	}
}

func TestKeepInput(t *testing.T) {
	gen := mustNew(t, constDef("Array", []float64{1, 2, 3}), nil)
	mid := mustNew(t, passDef(), graph.Params{graph.KeepInputParam: true})
	sink := mustNew(t, passDef(), nil)
	graph.Connect(gen, mid)
	graph.Connect(mid, sink)

	s := graph.NewScheduler()
	s.Parallel(sink)
	waitDone(t, s, sink)

	// mid keeps its inputs, so its downstream edge survives too.
	if !graph.Connected(mid, sink) {
		t.Error("keep-input node should retain its edges")
	}
	if mid.In("Array") == nil {
		t.Error("keep-input node should retain its inputs")
	}
	// gen does not keep input: its edge to mid is gone.
	if graph.Connected(gen, mid) {
		t.Error("edge from a non-keep-input parent should be removed")
	}
}

// A refused dispatch aborts the node.
func TestDispatchRefused(t *testing.T) {
	gen := mustNew(t, constDef("Array", []float64{1}), nil)
	s := graph.NewScheduler()
	s.Pool = sched.New(1)
	s.Pool.Shutdown()
	s.Parallel(gen)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := gen.Wait(ctx, graph.Done); err != nil {
		t.Fatal(err)
	}
	if err := s.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	if !gen.Aborted() {
		t.Fatal("refused node should abort")
	}
	if !errors.Is(errors.Dispatch, gen.Err()) {
		t.Errorf("got %v, want dispatch error", gen.Err())
	}
}

// Serial execution runs inline: by the time Serial returns, the
// component has finished, and the synchronous discipline was forced
// on the way down.
func TestSerialInline(t *testing.T) {
	gen := mustNew(t, constDef("Array", []float64{1, 2}), nil)
	mid := mustNew(t, passDef(), nil)
	sink := mustNew(t, passDef(), nil)
	graph.Connect(gen, mid)
	graph.Connect(mid, sink)

	s := graph.NewScheduler()
	s.Serial(sink)
	for _, n := range []*graph.Node{gen, mid, sink} {
		if !n.Finished() {
			t.Fatalf("%s not finished after serial execution", n.PrintName())
		}
		if n.Parallel() {
			t.Errorf("%s: serial execution should force the serial flag", n.PrintName())
		}
	}
	got, _ := sink.Out("Array").([]float64)
	if len(got) != 2 {
		t.Errorf("got %v, want pass-through of 2 elements", got)
	}
}
