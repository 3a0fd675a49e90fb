// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package graph

import (
	"fmt"
	"io/ioutil"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/grailbio/algograph/errors"
	"github.com/grailbio/algograph/log"
	"gonum.org/v1/gonum/graph/encoding"
	"gonum.org/v1/gonum/graph/encoding/dot"
	"gonum.org/v1/gonum/graph/simple"
)

// dotNode wraps a Node for dot encoding.
type dotNode struct {
	*Node
}

// ID implements gonum's graph.Node.
func (d dotNode) ID() int64 {
	return d.seq
}

// DOTID implements dot.Node.
func (d dotNode) DOTID() string {
	return fmt.Sprintf("%s_%s", d.Class(), d.Node.ID().Short())
}

// Attributes implements encoding.Attributer.
func (d dotNode) Attributes() []encoding.Attribute {
	label := fmt.Sprintf("%s\\nID %s", d.Class(), d.Node.ID().Short())
	if nick := d.Nickname(); nick != "" {
		label += "\\nNick: " + nick
	}
	return []encoding.Attribute{{Key: "label", Value: label}}
}

// RenderGraph writes a Graphviz description of the component
// reachable from n to path (or to algograph.gv in the user's home
// directory when path is empty), then best-effort invokes a local
// Graphviz binary to convert it to SVG. Conversion failures are
// logged and not returned: the text description is the primary
// artifact.
func RenderGraph(n *Node, path string) error {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return errors.E("rendergraph", err)
		}
		path = filepath.Join(home, "algograph.gv")
	}
	g := simple.NewDirectedGraph()
	flat := Flatten(n)
	for _, parent := range flat.Nodes() {
		pn := dotNode{parent}
		if g.Node(pn.ID()) == nil {
			g.AddNode(pn)
		}
		for _, child := range flat.Children(parent) {
			cn := dotNode{child}
			if g.Node(cn.ID()) == nil {
				g.AddNode(cn)
			}
			if !g.HasEdgeFromTo(pn.ID(), cn.ID()) {
				g.SetEdge(g.NewEdge(pn, cn))
			}
		}
	}
	b, err := dot.Marshal(g, "algograph", "", "")
	if err != nil {
		return errors.E("rendergraph", err)
	}
	if err := ioutil.WriteFile(path, b, 0666); err != nil {
		return errors.E("rendergraph", path, err)
	}
	svg := strings.TrimSuffix(path, filepath.Ext(path)) + ".svg"
	if err := exec.Command("dot", "-Tsvg", "-o", svg, path).Run(); err != nil {
		log.Errorf("rendergraph: cannot convert %s to svg: %v", path, err)
	}
	return nil
}
