// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package alg provides a small library of numeric algorithm nodes
// for the dataflow engine: a random array generator, a moving
// average, a percentile, an element picker, and an arithmetic mean
// with a list input for fan-in aggregation. They serve both as
// usable building blocks and as worked examples of the node
// authoring API.
package alg

import (
	"math/rand"
	"reflect"
	"sort"
	"time"

	"github.com/grailbio/algograph/errors"
	"github.com/grailbio/algograph/graph"
	"github.com/grailbio/algograph/values"
)

var (
	intType    = reflect.TypeOf(int(0))
	int64Type  = reflect.TypeOf(int64(0))
	floatType  = reflect.TypeOf(float64(0))
	floatsType = reflect.TypeOf([]float64(nil))
)

var randomGeneratorDef = graph.Def{
	Class: "RandomGenerator",
	Slots: []graph.SlotDef{
		{Kind: graph.Param, Name: "Amount", Type: intType, Default: 10},
		{Kind: graph.Param, Name: "Seed", Type: int64Type, Default: int64(0)},
		{Kind: graph.Output, Name: "Numbers", Type: floatsType},
	},
	Run: func(n *graph.Node) {
		amount := n.Param("Amount").(int)
		if amount <= 0 {
			n.AbortErr(errors.E("run", errors.InvalidParam, errors.New("amount must be positive")))
			return
		}
		seed := n.Param("Seed").(int64)
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		r := rand.New(rand.NewSource(seed))
		numbers := make([]float64, amount)
		for i := range numbers {
			numbers[i] = r.Float64()
		}
		n.SetOut("Numbers", numbers)
	},
}

// RandomGenerator returns a node producing Amount uniform random
// numbers in [0, 1) on its Numbers output. A nonzero Seed parameter
// makes the output reproducible.
func RandomGenerator(params graph.Params) (*graph.Node, error) {
	return graph.New(randomGeneratorDef, params)
}

var movingAverageDef = graph.Def{
	Class: "MovingAverage",
	Slots: []graph.SlotDef{
		{Kind: graph.Input, Name: "Array", Type: floatsType},
		{Kind: graph.Param, Name: "Size", Type: intType, Default: 3},
		{Kind: graph.Output, Name: "Array", Type: floatsType},
	},
	Run: func(n *graph.Node) {
		array, _ := n.MoveIn("Array").([]float64)
		if len(array) == 0 {
			n.AbortErr(errors.E("run", errors.MissingInput, errors.New("input is empty")))
			return
		}
		size := n.Param("Size").(int)
		if size <= 0 || len(array) < size {
			n.AbortErr(errors.E("run", errors.InvalidParam, errors.New("moving average size is too low")))
			return
		}
		out := make([]float64, len(array)-size)
		for i := range out {
			var sum float64
			for _, v := range array[i : i+size] {
				sum += v
			}
			out[i] = sum / float64(size)
		}
		n.SetOut("Array", out)
	},
}

// MovingAverage returns a node computing the moving average of its
// Array input over windows of Size elements. The input array is
// consumed with a move read, so upstream values are not copied.
func MovingAverage(params graph.Params) (*graph.Node, error) {
	return graph.New(movingAverageDef, params)
}

var percentileDef = graph.Def{
	Class: "Percentile",
	Slots: []graph.SlotDef{
		{Kind: graph.Input, Name: "Array", Type: floatsType},
		{Kind: graph.Param, Name: "Order", Type: intType, Default: 50},
		{Kind: graph.Output, Name: "Percentile", Type: floatType},
	},
	Run: func(n *graph.Node) {
		array, _ := n.MoveIn("Array").([]float64)
		if len(array) == 0 {
			n.AbortErr(errors.E("run", errors.MissingInput, errors.New("input is empty")))
			return
		}
		// Sort a copy: the array may be shared with sibling
		// descendants of the same parent.
		array = append([]float64(nil), array...)
		sort.Float64s(array)
		pos := n.Param("Order").(int) * len(array) / 100
		if pos < 0 || pos >= len(array) {
			n.AbortErr(errors.E("run", errors.InvalidParam, errors.New("position out of range")))
			return
		}
		n.SetOut("Percentile", array[pos])
	},
}

// Percentile returns a node computing the Order-th percentile of
// its Array input.
func Percentile(params graph.Params) (*graph.Node, error) {
	return graph.New(percentileDef, params)
}

var elementPickerDef = graph.Def{
	Class: "ElementPicker",
	Slots: []graph.SlotDef{
		{Kind: graph.Input, Name: "Array", Type: floatsType},
		{Kind: graph.Param, Name: "Position", Type: intType, Default: 0},
		{Kind: graph.Output, Name: "PickedElement", Type: floatType},
	},
	Run: func(n *graph.Node) {
		array, _ := n.In("Array").([]float64)
		if len(array) == 0 {
			n.AbortErr(errors.E("run", errors.MissingInput, errors.New("input is empty")))
			return
		}
		pos := n.Param("Position").(int)
		if pos < 0 || pos >= len(array) {
			n.AbortErr(errors.E("run", errors.InvalidParam, errors.New("position out of range")))
			return
		}
		n.SetOut("PickedElement", array[pos])
	},
}

// ElementPicker returns a node picking the element at Position from
// its Array input.
func ElementPicker(params graph.Params) (*graph.Node, error) {
	return graph.New(elementPickerDef, params)
}

var meanDef = graph.Def{
	Class: "Mean",
	Slots: []graph.SlotDef{
		{Kind: graph.Input, Name: "Array", Type: floatType, List: true},
		{Kind: graph.Output, Name: "Mean", Type: floatType},
	},
	Run: func(n *graph.Node) {
		list, _ := n.In("Array").(values.List)
		floats, _ := list.Floats()
		if len(floats) == 0 {
			n.AbortErr(errors.E("run", errors.MissingInput, errors.New("input is empty")))
			return
		}
		var sum float64
		for _, v := range floats {
			sum += v
		}
		n.SetOut("Mean", sum/float64(len(floats)))
	},
}

// Mean returns a node computing the arithmetic mean of its Array
// list input. The list input lets many parents feed the same node:
// each parent's value is appended in completion order.
func Mean(params graph.Params) (*graph.Node, error) {
	return graph.New(meanDef, params)
}
