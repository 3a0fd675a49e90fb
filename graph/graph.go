// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package graph

import (
	"github.com/grailbio/algograph/log"
)

// Connect records a directed edge from ancestor to descendant. The
// edge is recorded symmetrically: the descendant appears in the
// ancestor's descendant map and vice versa, each annotated with the
// neighbor's current completion. The edge also carries the abort
// channel in both directions, so that a raise on either side reaches
// the other.
func Connect(ancestor, descendant *Node) {
	afin, dfin := ancestor.Finished(), descendant.Finished()
	ancestor.mu.Lock()
	ancestor.descendants.add(descendant, dfin)
	ancestor.mu.Unlock()
	descendant.mu.Lock()
	descendant.ancestors.add(ancestor, afin)
	descendant.mu.Unlock()
}

// Disconnect removes the edge between ancestor and descendant,
// undoing Connect. Removing the edge also removes the abort channel
// between the two nodes.
func Disconnect(ancestor, descendant *Node) {
	ancestor.mu.Lock()
	ancestor.descendants.remove(descendant)
	ancestor.mu.Unlock()
	descendant.mu.Lock()
	descendant.ancestors.remove(ancestor)
	descendant.mu.Unlock()
}

// Connected tells whether an edge from ancestor to descendant
// exists, i.e., whether both adjacency entries are present.
func Connected(ancestor, descendant *Node) bool {
	ancestor.mu.Lock()
	down := ancestor.descendants.contains(descendant)
	ancestor.mu.Unlock()
	descendant.mu.Lock()
	up := descendant.ancestors.contains(ancestor)
	descendant.mu.Unlock()
	return down && up
}

// IsRemovable tells whether p1 and p2 are connected, in either
// orientation, by a removable edge: one where the parent has exactly
// one descendant and the child exactly one ancestor. Removable edges
// can be fused by Improve without changing the component's behavior.
func IsRemovable(p1, p2 *Node) bool {
	switch {
	case Connected(p2, p1):
		return p2.numDescendants() == 1 && p1.numAncestors() == 1
	case Connected(p1, p2):
		return p1.numDescendants() == 1 && p2.numAncestors() == 1
	default:
		return false
	}
}

func (n *Node) numAncestors() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ancestors.len()
}

func (n *Node) numDescendants() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.descendants.len()
}

// A Flat is a parent-to-direct-children snapshot of a weakly
// connected component, as produced by Flatten.
type Flat struct {
	order    []*Node
	children map[*Node][]*Node
}

// Nodes returns every node of the component, in visit order.
func (f *Flat) Nodes() []*Node {
	return f.order
}

// Children returns the direct children of n, in connection order.
func (f *Flat) Children(n *Node) []*Node {
	return f.children[n]
}

func (f *Flat) contains(n *Node) bool {
	_, ok := f.children[n]
	return ok
}

// Flatten produces the flat representation of the weakly connected
// component reachable from n: a map from each node to its direct
// children. The walk keeps a visited set and does not descend into a
// node it has already visited, so it terminates on any graph; such
// revisits are skipped without logging a possible loop. This is the
// engine's only cycle guard.
func Flatten(n *Node) *Flat {
	f := &Flat{children: make(map[*Node][]*Node)}
	n.flatten(f)
	return f
}

func (n *Node) flatten(f *Flat) {
	if f.contains(n) {
		log.Errorf("flatten: possible loop at %s", n.PrintName())
		return
	}
	descendants, ancestors := n.Descendants(), n.Ancestors()
	f.order = append(f.order, n)
	f.children[n] = descendants
	for _, relative := range append(descendants, ancestors...) {
		if !f.contains(relative) {
			relative.flatten(f)
		}
	}
}

// PrintTree logs the flat representation of the component reachable
// from n, one parent per line with its direct children.
func PrintTree(n *Node) {
	f := Flatten(n)
	for _, parent := range f.Nodes() {
		log.Printf("key %s", parent.PrintName())
		for _, child := range f.Children(parent) {
			log.Printf("\tvalue %s", child.PrintName())
		}
	}
}
