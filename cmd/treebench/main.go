// treebench loads a decision-tree ensemble, either from a JSON forest
// description file or, absent one, a synthetic stump forest generated in
// process, evaluates it over a batch of random rows, and prints the tree,
// node, row and target counts, the first output row and, for a classifier,
// the first label. The chosen regime and the time of the evaluate step are
// recorded in a profiler.RuntimeProfiler, but that profiler is never
// started, so no report of them is printed; compilation is not timed.
//
// It exists to exercise the full ensemble pipeline end to end without
// depending on any serialized-model format (out of scope per the package's
// Non-goals).
package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"

	"github.com/nvr-ai/go-treebench/ensemble"
	"github.com/nvr-ai/go-treebench/internal/scratch"
	"github.com/nvr-ai/go-treebench/internal/workerpool"
	"github.com/nvr-ai/go-treebench/profiler"
	"github.com/nvr-ai/go-treebench/tensor"
	"github.com/nvr-ai/go-treebench/util"
)

func main() {
	var (
		forestPath = flag.String("forest", "", "path to a JSON forest description file (default: synthetic)")
		rows       = flag.Int("rows", 64, "number of rows to evaluate")
		features   = flag.Int("features", 8, "number of features per row (synthetic forest only)")
		workers    = flag.Int("workers", 4, "worker pool size")
		seed       = flag.Int64("seed", 1, "random seed for synthetic input")
	)
	flag.Parse()

	forest, cols, err := loadOrSynthesize(*forestPath, *features)
	if err != nil {
		log.Fatalf("load forest: %v", err)
	}

	rp := profiler.NewRuntimeProfiler(profiler.ProfilingOptions{})
	done := rp.StartOperation("evaluate")

	x := tensor.NewDense([]int{*rows, cols}, tensor.F64)
	xData := x.Float64s()
	rng := rand.New(rand.NewSource(*seed))
	for i := range xData {
		xData[i] = rng.Float64() * 10
	}

	opts := ensemble.EvalOptions{
		Pool:     workerpool.New(*workers),
		Scratch:  scratch.New(),
		Tunables: ensemble.DefaultTunables(),
		Profiler: rp,
	}

	y, labels, err := ensemble.Evaluate(forest, x, opts)
	if err != nil {
		log.Fatalf("evaluate: %v", err)
	}
	done()

	fmt.Printf("trees=%d nodes=%d rows=%d targets=%d\n", forest.NTrees(), len(forest.Nodes), *rows, forest.NTargets)
	fmt.Printf("y[0]=%v\n", y.Float64s()[:forest.NTargets])
	if labels != nil {
		fmt.Printf("label[0]=%d\n", labels.Index[0])
	}
	rp.Stop()
}

// loadOrSynthesize loads path if non-empty, otherwise builds a small
// synthetic forest of independent stumps, one per feature, each splitting
// on that feature's midpoint and contributing +1/-1 to a single target.
func loadOrSynthesize(path string, features int) (*ensemble.Forest, int, error) {
	if path != "" {
		f, err := util.LoadForestFile(path)
		if err != nil {
			return nil, 0, err
		}
		return f, int(f.MaxFeatureID) + 1, nil
	}
	return synthesizeStumpForest(features), features, nil
}

func synthesizeStumpForest(features int) *ensemble.Forest {
	in := ensemble.BuildInput{
		NTargets:      1,
		Aggregate:     ensemble.AggregateSum,
		PostTransform: ensemble.TransformNone,
		ThresholdBits: 64,
	}
	for t := 0; t < features; t++ {
		in.TreeID = append(in.TreeID, int32(t), int32(t), int32(t))
		in.NodeID = append(in.NodeID, 0, 1, 2)
		in.TrueID = append(in.TrueID, int32(len(in.TreeID)-2), -1, -1)
		in.FalseID = append(in.FalseID, int32(len(in.TreeID)-1), -1, -1)
		in.FeatureID = append(in.FeatureID, int32(t), 0, 0)
		in.Modes = append(in.Modes, ensemble.BranchLEQ, ensemble.Leaf, ensemble.Leaf)
		in.Threshold = append(in.Threshold, 5.0, 0, 0)
		in.MissingTrue = append(in.MissingTrue, false, false, false)

		in.WeightTreeID = append(in.WeightTreeID, int32(t), int32(t))
		in.WeightNodeID = append(in.WeightNodeID, 1, 2)
		in.WeightTargetIndex = append(in.WeightTargetIndex, 0, 0)
		in.WeightValue = append(in.WeightValue, 1.0, -1.0)
	}

	f, err := ensemble.Build(in)
	if err != nil {
		// The synthetic forest above is fixed and known-valid; a failure
		// here means this function itself is broken, not bad input.
		fmt.Fprintln(os.Stderr, "internal error building synthetic forest:", err)
		os.Exit(1)
	}
	return f
}
