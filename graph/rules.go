// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package graph

import (
	"strings"

	"github.com/grailbio/algograph/errors"
)

// Rules is a multimap from a parent slot base name to one or more
// child slot base names. When a parent finishes, its output and
// parameter slots cross each edge renamed according to the child's
// rules:
//
//   - a base name with no rule crosses under its own name;
//   - a base name with one rule value crosses under that name;
//   - a base name with several rule values crosses under the first
//     value whose string contains the parent's nickname, which
//     disambiguates children fed the same slot name by several
//     parents.
//
// Parameters are sticky: a parent's parameter crosses an edge only
// when the child's rules mention it.
type Rules map[string][]string

// MakeRules constructs rules from (parent, child) base name pairs.
// Pairs sharing a parent name accumulate in order.
func MakeRules(pairs ...[2]string) Rules {
	r := make(Rules, len(pairs))
	for _, p := range pairs {
		r.Add(p[0], p[1])
	}
	return r
}

// Add appends a mapping from a parent base name to a child base
// name.
func (r Rules) Add(parent, child string) {
	r[parent] = append(r[parent], child)
}

// Values returns the child base names mapped from the given parent
// base name, in insertion order.
func (r Rules) Values(parent string) []string {
	return r[parent]
}

// Mentions tells whether the rules contain the given parent base
// name.
func (r Rules) Mentions(parent string) bool {
	return len(r[parent]) > 0
}

// Resolve maps a parent slot base name to the child-side base name,
// using the parent's nickname to choose among multiple candidates.
// Resolution is deterministic for fixed rules and parent identity.
// An empty nickname matches no candidate: resolving an ambiguous
// name then returns an error of kind errors.RuleMiss.
func (r Rules) Resolve(base, nickname string) (string, error) {
	targets := r[base]
	switch len(targets) {
	case 0:
		return base, nil
	case 1:
		return targets[0], nil
	}
	if nickname == "" {
		return "", errors.E("resolve", errors.RuleMiss, base,
			errors.New("ambiguous rule and parent has no nickname"))
	}
	for _, t := range targets {
		if strings.Contains(t, nickname) {
			return t, nil
		}
	}
	return "", errors.E("resolve", errors.RuleMiss, base,
		errors.Errorf("no rule value matches nickname %q", nickname))
}
