// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package graph

import (
	"reflect"

	"github.com/grailbio/algograph/errors"
	"github.com/grailbio/algograph/values"
)

// Kind partitions a node's slots into inputs, outputs and
// parameters.
type Kind int

const (
	// Input slots are written by propagation from ancestors, or by
	// the user before execution.
	Input Kind = 1 + iota
	// Output slots are written only by a node's run procedure.
	Output
	// Param slots carry configuration. Parameters have mandatory
	// defaults and are propagated only when a rule names them.
	Param
)

func (k Kind) String() string {
	switch k {
	case Input:
		return "input"
	case Output:
		return "output"
	case Param:
		return "parameter"
	default:
		return "invalid"
	}
}

// A SlotDef declares one named, typed slot of a node. Slot tables
// are static: they are fixed when the node is constructed.
type SlotDef struct {
	// Kind is the slot's kind.
	Kind Kind
	// Name is the slot's base name, unique among slots of its kind.
	Name string
	// Type is the declared type of the slot's value. For list
	// inputs, Type is the element type.
	Type reflect.Type
	// Default is the slot's default value. Defaults are mandatory
	// for parameters and ignored for other kinds.
	Default values.T
	// List marks an input slot as a list input: each incoming write
	// appends an element instead of replacing the value. A list
	// input's cell holds a values.List.
	List bool
}

// Reserved parameter names, present in every node's slot table.
const (
	// KeepInputParam inhibits post-run clearing of input slots.
	KeepInputParam = "KeepInput"
	// ParallelExecutionParam selects whether a node's descendants
	// are dispatched to worker threads or run inline.
	ParallelExecutionParam = "ParallelExecution"
	// PropagationRulesParam holds the node's propagation rules.
	PropagationRulesParam = "PropagationRules"
)

var (
	boolType  = reflect.TypeOf(false)
	rulesType = reflect.TypeOf(Rules(nil))
)

// engineSlots are prepended to every node's slot table.
func engineSlots() []SlotDef {
	return []SlotDef{
		{Kind: Param, Name: KeepInputParam, Type: boolType, Default: false},
		{Kind: Param, Name: ParallelExecutionParam, Type: boolType, Default: true},
		{Kind: Param, Name: PropagationRulesParam, Type: rulesType, Default: Rules(nil)},
	}
}

// A slot is a value cell together with its declaration. List inputs
// store a values.List in the cell.
type slot struct {
	SlotDef
	v values.T
}

func (s *slot) empty() bool {
	return s.v == nil
}

func (s *slot) clear() {
	s.v = nil
}

// set writes v into the slot, checking it against the declared
// type. For list inputs, v is appended.
func (s *slot) set(v values.T) error {
	t := values.Typeof(v)
	if !values.Assignable(t, s.Type) {
		return errors.E("set", errors.SlotType, s.Name,
			errors.Errorf("cannot store %v in %s slot of type %v", t, s.Kind, s.Type))
	}
	if s.List {
		list, _ := s.v.(values.List)
		s.v = append(list, v)
		return nil
	}
	s.v = v
	return nil
}

// value reads the slot's cell. List inputs read as a values.List.
func (s *slot) value() values.T {
	return s.v
}

// move performs a destructive read: the cell's value is returned
// and the cell is emptied.
func (s *slot) move() values.T {
	v := s.v
	s.v = nil
	return v
}
