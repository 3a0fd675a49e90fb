// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package errors provides a standard error definition for use in
// algograph. Each error is assigned a class of error (kind) and an
// operation with optional arguments. Errors may be chained, and thus
// can be used to annotate upstream errors.
//
// Package errors provides functions Errorf and New as convenience
// constructors, so that users need import only one error package.
//
// The API was inspired by package upspin.io/errors.
package errors

import (
	"bytes"
	"context"
	"fmt"
	"runtime"

	"github.com/grailbio/algograph/log"
)

// Separator is inserted between chained errors while rendering.
// The default value (":\n\t") is intended for interactive tools. A
// server can set this to a different value to be more log friendly.
var Separator = ":\n\t"

// Kind denotes the type of the error. The error's kind is used to
// render the error message and also for interpretation.
type Kind int

const (
	// Other denotes an unknown error.
	Other Kind = iota
	// Canceled denotes a cancellation error.
	Canceled
	// SlotType denotes a write to a slot with a mismatched value type.
	SlotType
	// MissingInput denotes a declared input slot that was read empty.
	MissingInput
	// InvalidParam denotes a parameter that failed a node's precondition.
	InvalidParam
	// RuleMiss denotes a propagation rule that resolved to a
	// nonexistent or incompatible slot. Rule misses are not fatal.
	RuleMiss
	// Loop denotes a (possible) cycle discovered while walking a
	// component. Loops are not fatal; the offending branch is cut.
	Loop
	// Dispatch denotes a worker pool that refused a task.
	Dispatch
	// Aborted denotes an abort propagated through the component.
	Aborted
	// Fatal denotes an unrecoverable error.
	Fatal

	maxKind
)

// String renders a human-readable description of kind k.
func (k Kind) String() string {
	switch k {
	default:
		return "unknown error"
	case Canceled:
		return "canceled"
	case SlotType:
		return "slot type mismatch"
	case MissingInput:
		return "input empty/invalid"
	case InvalidParam:
		return "parameter out of range"
	case RuleMiss:
		return "rule resolution miss"
	case Loop:
		return "possible loop"
	case Dispatch:
		return "dispatch refused"
	case Aborted:
		return "aborted"
	case Fatal:
		return "fatal"
	}
}

// Error defines an algograph error. It is used to indicate an error
// associated with an operation (and arguments), and may wrap another
// error.
//
// Errors should be constructed by errors.E.
type Error struct {
	// Kind is the error's type.
	Kind Kind
	// Op is a one-word description of the operation that errored.
	Op string
	// Arg is an (optional) list of arguments to the operation.
	Arg []string
	// Err is this error's underlying error: this error is caused
	// by Err.
	Err error
}

// E is used to construct errors. E constructs errors from a set of
// arguments; each of which must be one of the following types:
//
//	string
//		The first string argument is taken as the error's Op; subsequent
//		arguments are taken as the error's Arg.
//	Kind
//		Taken as the error's Kind.
//	error
//		Taken as the error's underlying error.
//
// If no Kind is provided and the underlying error is another *Error,
// the new error inherits its kind; if the underlying error is
// context.Canceled, the error's kind is set to Canceled.
func E(args ...interface{}) error {
	if len(args) == 0 {
		panic("no args")
	}
	e := new(Error)
	for _, arg := range args {
		switch arg := arg.(type) {
		case string:
			if e.Op == "" {
				e.Op = arg
			} else {
				e.Arg = append(e.Arg, arg)
			}
		case Kind:
			e.Kind = arg
		case *Error:
			copy := *arg
			e.Err = &copy
		case error:
			e.Err = arg
		default:
			_, file, line, _ := runtime.Caller(1)
			log.Errorf("errors.E: bad call (type %T) from %s:%d: %v", arg, file, line, args)
			return Errorf("unknown type %T, value %v in error call", arg, arg)
		}
	}
	if e.Err == nil {
		return e
	}
	switch prev := e.Err.(type) {
	case *Error:
		if e.Kind == Other {
			e.Kind = prev.Kind
			prev.Kind = Other
		}
		if prev.Op == "" && prev.Kind == Other {
			e.Err = prev.Err
		}
	default:
		if e.Kind == Other && e.Err == context.Canceled {
			e.Kind = Canceled
		}
	}
	return e
}

func pad(b *bytes.Buffer, s string) {
	if b.Len() == 0 {
		return
	}
	b.WriteString(s)
}

// Error renders this error and its chain of underlying errors,
// separated by Separator.
func (e *Error) Error() string {
	b := new(bytes.Buffer)
	if e.Op != "" {
		pad(b, ": ")
		b.WriteString(e.Op)
	}
	for _, arg := range e.Arg {
		pad(b, " ")
		b.WriteString(arg)
	}
	if e.Kind != Other {
		pad(b, ": ")
		b.WriteString(e.Kind.String())
	}
	if e.Err != nil {
		if prev, ok := e.Err.(*Error); ok {
			pad(b, Separator)
			b.WriteString(prev.Error())
		} else {
			pad(b, ": ")
			b.WriteString(e.Err.Error())
		}
	}
	if b.Len() == 0 {
		return "no error"
	}
	return b.String()
}

// Message returns the message associated with this error, without
// the operation chain: the message of the innermost error in the
// chain. If the innermost error wraps no message, Message returns its
// operation and arguments when it has arguments, and its kind
// description otherwise.
func (e *Error) Message() string {
	for {
		prev, ok := e.Err.(*Error)
		if !ok {
			break
		}
		e = prev
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if len(e.Arg) > 0 {
		return fmt.Sprint(e.Op, " ", e.Arg)
	}
	return e.Kind.String()
}

// Recover recovers any error into an *Error. If the passed-in Error
// is already an error, it is simply returned; otherwise it is wrapped
// in an error of kind Other.
func Recover(err error) *Error {
	if err == nil {
		return nil
	}
	if err, ok := err.(*Error); ok {
		return err
	}
	return &Error{Kind: Other, Err: err}
}

// New is synonymous with errors.New in the standard library.
func New(msg string) error {
	return &Error{Err: simpleError(msg)}
}

// Errorf is synonymous with fmt.Errorf in the standard library.
func Errorf(format string, args ...interface{}) error {
	return &Error{Err: simpleError(fmt.Sprintf(format, args...))}
}

type simpleError string

func (e simpleError) Error() string { return string(e) }

// Is tells whether an error has a specified kind, except for the
// indeterminate kind Other. In the case an error has kind Other, the
// chain is traversed until a non-Other error is encountered.
func Is(kind Kind, err error) bool {
	if err == nil {
		return false
	}
	return is(kind, Recover(err))
}

func is(kind Kind, e *Error) bool {
	if e.Kind != Other {
		return e.Kind == kind
	}
	if e.Err != nil {
		if e2, ok := e.Err.(*Error); ok {
			return is(kind, e2)
		}
	}
	return false
}

// Match tells whether every nonempty field in err1 matches the
// corresponding fields in err2. The comparison recurs on chained
// errors. Match is designed to aid in testing errors.
func Match(err1, err2 error) bool {
	if err1 == nil || err2 == nil {
		return err1 == err2
	}
	e1, e2 := Recover(err1), Recover(err2)
	if e1.Kind != Other && e1.Kind != e2.Kind {
		return false
	}
	if e1.Op != "" && e1.Op != e2.Op {
		return false
	}
	if len(e1.Arg) > 0 && fmt.Sprint(e1.Arg) != fmt.Sprint(e2.Arg) {
		return false
	}
	if e1.Err != nil {
		if e2.Err == nil {
			return false
		}
		if _, ok := e1.Err.(*Error); ok {
			return Match(e1.Err, e2.Err)
		}
		return e1.Err.Error() == e2.Err.Error()
	}
	return true
}
