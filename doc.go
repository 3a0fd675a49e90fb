// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package algograph implements a dataflow execution engine: a DAG of
// compute nodes whose edges carry named, typed values. Outputs of a
// node become inputs of its descendants, renamed on the way by
// per-node propagation rules.
//
// Nodes are declared with a static slot table (package graph), wired
// together with graph.Connect, and driven either across a worker pool
// (Scheduler.Parallel) or inline on the calling goroutine
// (Scheduler.Serial). Completion is tracked per edge; a node runs
// exactly once, after all of its ancestors have finished and their
// outputs have been transferred to it. Errors raised by any node
// propagate along both directions of every edge until the whole
// connected component has been torn down.
//
// By default a node's input slots are cleared and its edges removed
// as soon as its descendants have consumed its outputs, so that large
// intermediate values are released as early as possible.
package algograph
