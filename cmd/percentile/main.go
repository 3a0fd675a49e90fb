// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Percentile is a demo pipeline for the algograph engine. It builds
// a number of repetitions of
//
//	RandomGenerator -> MovingAverage -> ElementPicker
//	RandomGenerator -> Percentile
//
// feeding two Mean sinks that aggregate the picked elements and the
// percentiles across repetitions, then runs the whole component in
// parallel and prints the two means.
package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/grailbio/algograph/alg"
	"github.com/grailbio/algograph/graph"
	"github.com/grailbio/algograph/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	var (
		repetitions = flag.Int("repetitions", 10, "number of pipeline repetitions to aggregate")
		length      = flag.Int("length", 100, "length of each random array")
		window      = flag.Int("window", 5, "moving average window size")
		position    = flag.Int("position", 30, "element position to pick")
		order       = flag.Int("order", 70, "percentile order")
	)
	flag.Parse()

	meanPosition, err := alg.Mean(graph.Params{
		graph.PropagationRulesParam: graph.MakeRules([2]string{"PickedElement", "Array"}),
	})
	if err != nil {
		log.Fatal(err)
	}
	meanPercentile, err := alg.Mean(graph.Params{
		graph.PropagationRulesParam: graph.MakeRules([2]string{"Percentile", "Array"}),
	})
	if err != nil {
		log.Fatal(err)
	}

	for k := 0; k < *repetitions; k++ {
		generator, err := alg.RandomGenerator(graph.Params{"Amount": *length})
		if err != nil {
			log.Fatal(err)
		}
		movAverage, err := alg.MovingAverage(graph.Params{
			graph.PropagationRulesParam: graph.MakeRules([2]string{"Numbers", "Array"}),
			"Size":                      *window,
		})
		if err != nil {
			log.Fatal(err)
		}
		picker, err := alg.ElementPicker(graph.Params{"Position": *position})
		if err != nil {
			log.Fatal(err)
		}
		percentile, err := alg.Percentile(graph.Params{
			graph.PropagationRulesParam: graph.MakeRules([2]string{"Numbers", "Array"}),
			"Order":                     *order,
		})
		if err != nil {
			log.Fatal(err)
		}
		graph.Connect(generator, movAverage)
		graph.Connect(movAverage, picker)
		graph.Connect(picker, meanPosition)
		graph.Connect(generator, percentile)
		graph.Connect(percentile, meanPercentile)
	}

	for _, sink := range []*graph.Node{meanPosition, meanPercentile} {
		sink.OnRaise(func(message string) {
			log.Errorf("pipeline compromised: %s", message)
		})
	}

	scheduler := graph.NewScheduler()
	scheduler.Parallel(meanPosition)
	scheduler.Parallel(meanPercentile)

	g, ctx := errgroup.WithContext(context.Background())
	g.Go(func() error { return meanPosition.Wait(ctx, graph.Done) })
	g.Go(func() error { return meanPercentile.Wait(ctx, graph.Done) })
	if err := g.Wait(); err != nil {
		log.Fatal(err)
	}
	for _, sink := range []*graph.Node{meanPosition, meanPercentile} {
		if err := sink.Err(); err != nil {
			log.Fatal(err)
		}
	}

	fmt.Printf("position %d: mean of the moving averages is %v\n",
		*position, meanPosition.Out("Mean"))
	fmt.Printf("percentile %d: mean over the random arrays is %v\n",
		*order, meanPercentile.Out("Mean"))
}
