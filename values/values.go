// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package values defines the data structures that flow along the
// edges of an algograph. Slot cells are dynamically typed: any Go
// value may be stored, and type agreement with a slot's declared
// type is enforced at write time with reflection.
//
// Values are represented by values.T, defined as
//
//	type T = interface{}
//
// which is done to clarify code that handles slot values.
package values

import (
	"fmt"
	"reflect"
	"strings"
)

// T is the type of value. It is just an alias to interface{},
// but is used throughout code for clarity.
type T = interface{}

// List is the type of list-input values. Each write to a list input
// appends one element; the order of the list is the order in which
// the writes were observed.
type List []T

// Typeof returns the reflected type of value v, or nil if v is an
// empty cell.
func Typeof(v T) reflect.Type {
	if v == nil {
		return nil
	}
	return reflect.TypeOf(v)
}

// Assignable tells whether a value of type t may be stored in a cell
// with declared type u.
func Assignable(t, u reflect.Type) bool {
	if t == nil || u == nil {
		return false
	}
	return t.AssignableTo(u)
}

// Floats interprets list l as a list of float64s, in order. It
// returns false if any element is not a float64.
func (l List) Floats() ([]float64, bool) {
	fs := make([]float64, len(l))
	for i, v := range l {
		f, ok := v.(float64)
		if !ok {
			return nil, false
		}
		fs[i] = f
	}
	return fs, true
}

// Pretty renders a human-readable representation of value v,
// suitable for debug output.
func Pretty(v T) string {
	switch v := v.(type) {
	case nil:
		return "<empty>"
	case List:
		elems := make([]string, len(v))
		for i := range v {
			elems[i] = Pretty(v[i])
		}
		return "[" + strings.Join(elems, ", ") + "]"
	case string:
		return fmt.Sprintf("%q", v)
	default:
		return fmt.Sprint(v)
	}
}
