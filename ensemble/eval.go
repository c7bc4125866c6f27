package ensemble

import (
	"math"

	"github.com/chewxy/math32"
	"github.com/nvr-ai/go-treebench/ensemble/kernelerr"
	"github.com/nvr-ai/go-treebench/internal/scratch"
	"github.com/nvr-ai/go-treebench/internal/workerpool"
	"github.com/nvr-ai/go-treebench/profiler"
	"github.com/nvr-ai/go-treebench/tensor"
)

// RowReader returns the value of one feature of one row of the input
// tensor, widened to float64, reading straight from its backing array.
// Keeping this as a function rather than an interface lets Evaluate accept
// f32/f64/i32/i64 backing storage without a type switch per feature read.
type RowReader func(row, feature int) float64

// EvalOptions configures a single Evaluate call: the thread pool to
// dispatch onto, the scratch allocator for per-evaluation temporaries, and
// the tunables governing regime selection.
type EvalOptions struct {
	Pool     workerpool.Pool
	Scratch  *scratch.Allocator
	Tunables Tunables
	// Labels, when non-nil, requests string class labels instead of
	// integer ones; index i is the label for class i.
	Labels []string
	// Profiler, when non-nil, records which regime this call took.
	Profiler *profiler.RuntimeProfiler
}

// Evaluate walks forest over every row of X, producing Y (one row of
// n_targets outputs per input row) and, for classifiers, a label column.
func Evaluate(f *Forest, x tensor.Tensor, opts EvalOptions) (tensor.Tensor, *LabelColumn, error) {
	shape := x.Shape()
	if len(shape) == 0 || len(shape) > 2 {
		return nil, nil, kernelerr.NewShapeError("input rank must be 1 or 2", kernelerr.WithDetail("rank", len(shape)))
	}

	var rows, cols int
	if len(shape) == 1 {
		rows, cols = 1, shape[0]
	} else {
		rows, cols = shape[0], shape[1]
	}
	if int32(cols) <= f.MaxFeatureID {
		return nil, nil, kernelerr.NewShapeError(
			"feature id exceeds input row width",
			kernelerr.WithDetail("max_feature_id", f.MaxFeatureID),
			kernelerr.WithDetail("row_width", cols),
		)
	}

	read, err := rowReaderFor(x, cols)
	if err != nil {
		return nil, nil, err
	}

	y := tensor.NewDense([]int{rows, int(f.NTargets)}, tensor.F64)
	yData := y.Float64s()

	regime := selectRegime(rows, f.NTrees(), opts.Pool.Workers(), opts.Tunables)
	if opts.Profiler != nil {
		opts.Profiler.RecordRegime(regime.String())
	}
	if err := regime.run(f, read, rows, yData, opts); err != nil {
		return nil, nil, err
	}

	var labels *LabelColumn
	if f.IsClassifier {
		labels, err = classify(f, yData, rows, opts)
		if err != nil {
			return nil, nil, err
		}
	}
	return y, labels, nil
}

func rowReaderFor(x tensor.Tensor, cols int) (RowReader, error) {
	switch x.DType() {
	case tensor.F32:
		data := x.Float32s()
		return func(row, feature int) float64 { return float64(data[row*cols+feature]) }, nil
	case tensor.F64:
		data := x.Float64s()
		return func(row, feature int) float64 { return data[row*cols+feature] }, nil
	case tensor.I32:
		data := x.Int32s()
		return func(row, feature int) float64 { return float64(data[row*cols+feature]) }, nil
	case tensor.I64:
		data := x.Int64s()
		return func(row, feature int) float64 { return float64(data[row*cols+feature]) }, nil
	default:
		return nil, kernelerr.NewConfigurationError("unsupported input element type", kernelerr.WithDetail("dtype", x.DType()))
	}
}

// walkTree performs the single-row walk: starting at root, follow
// comparator decisions down to a leaf and return its node index.
func walkTree(f *Forest, root int32, read RowReader, row int) int32 {
	idx := root
	for {
		node := f.Nodes[idx]
		if node.IsLeaf() {
			return idx
		}
		v := read(row, int(node.FeatureID))
		takeTrue := compare(node.Mode(), v, node.ThresholdOrWeight)
		if f.HasMissingTracks && math.IsNaN(v) && node.MissingGoesTrue() {
			takeTrue = true
		}
		if takeTrue {
			idx = node.TrueChild
		} else {
			idx++
		}
	}
}

func compare(mode Mode, v, t float64) bool {
	switch mode {
	case BranchLEQ:
		return v <= t
	case BranchLT:
		return v < t
	case BranchGTE:
		return v >= t
	case BranchGT:
		return v > t
	case BranchEQ:
		return v == t
	case BranchNEQ:
		return v != t
	case BranchMember:
		if v < 1 || math.Trunc(v) != v {
			return false
		}
		k := uint64(v) - 1
		if k >= 64 {
			return false
		}
		return uint64(t)&(1<<k) != 0
	default:
		return false
	}
}

// accumulate folds a leaf's weight record(s) into acc per the forest's
// aggregate rule. hasScore tracks, for MIN/MAX, whether acc[t] has
// received its first contribution yet.
func accumulate(f *Forest, leafIdx int32, acc []float64, hasScore []bool) {
	leaf := f.Nodes[leafIdx]
	contribute := func(target int32, weight float64) {
		switch f.Aggregate {
		case AggregateSum, AggregateAvg:
			acc[target] += weight
		case AggregateMin:
			if !hasScore[target] || weight < acc[target] {
				acc[target] = weight
			}
		case AggregateMax:
			if !hasScore[target] || weight > acc[target] {
				acc[target] = weight
			}
		}
		hasScore[target] = true
	}

	switch {
	case leaf.NWeights == 0:
		return
	case leaf.NWeights == 1 && f.singleTarget:
		// Only taken when the forest is single-target: build.go only
		// inlines a leaf's lone weight (losing its target index) in that
		// case, routing every other n_weights==1 leaf through the table.
		contribute(0, leaf.ThresholdOrWeight)
	default:
		base := leaf.TrueChild
		for i := int32(0); i < leaf.NWeights; i++ {
			w := f.Weights[base+i]
			contribute(w.TargetIndex, w.Weight)
		}
	}
}

// finalizeRow applies base_values, AVG normalization, the post-transform,
// and the binary-case score derivation to one row's accumulator. The
// binary case only ever carries one real score (target 1); the transform
// runs on that score alone, and target 0 is derived from the already-
// transformed result, not the raw one (the complement of a probability is
// not the probability of the complement of a logit).
func finalizeRow(f *Forest, acc []float64) {
	if f.Aggregate == AggregateAvg && f.NTrees() > 0 {
		for i := range acc {
			acc[i] /= float64(f.NTrees())
		}
	}
	for i, b := range f.BaseValues {
		acc[i] += b
	}
	if f.BinaryCase && len(acc) == 2 {
		applyPostTransform(f.PostTransform, acc[1:2])
		if f.WeightsAllPositive {
			acc[0] = 1 - acc[1]
		} else {
			acc[0] = -acc[1]
		}
		return
	}
	applyPostTransform(f.PostTransform, acc)
}

func applyPostTransform(pt PostTransform, acc []float64) {
	switch pt {
	case TransformNone:
		return
	case TransformLogistic:
		for i, z := range acc {
			acc[i] = logistic(z)
		}
	case TransformSoftmax:
		softmax(acc, acc)
	case TransformSoftmaxZero:
		softmaxZero(acc, acc)
	case TransformProbit:
		for i, z := range acc {
			acc[i] = probit(z)
		}
	}
}

func logistic(z float64) float64 {
	v := float64(1 / (1 + math32.Exp(-float32(z))))
	// Keep the result inside the open interval (0, 1): for large |z| the
	// division above rounds to exactly 0 or 1.
	return math.Min(math.Max(v, math.SmallestNonzeroFloat64), math.Nextafter(1, 0))
}

// softmax computes a numerically stable softmax of src into dst (which may
// alias src).
func softmax(dst, src []float64) {
	if len(src) == 0 {
		return
	}
	max := src[0]
	for _, v := range src[1:] {
		if v > max {
			max = v
		}
	}
	var sum float32
	exps := make([]float32, len(src))
	for i, v := range src {
		e := math32.Exp(float32(v - max))
		exps[i] = e
		sum += e
	}
	for i, e := range exps {
		dst[i] = float64(e / sum)
	}
}

// softmaxZero computes softmax only over entries that were non-zero going
// in, per the original runtime's ComputeSoftmaxZero: zero entries remain
// zero, and an all-zero row passes through unchanged (Open Question in
// spec, resolved by following the original implementation).
func softmaxZero(dst, src []float64) {
	var nonZero []int
	for i, v := range src {
		if v != 0 {
			nonZero = append(nonZero, i)
		}
	}
	if len(nonZero) == 0 {
		for i := range dst {
			dst[i] = 0
		}
		return
	}
	vals := make([]float64, len(nonZero))
	for i, idx := range nonZero {
		vals[i] = src[idx]
	}
	out := make([]float64, len(vals))
	softmax(out, vals)
	for i := range dst {
		dst[i] = 0
	}
	for i, idx := range nonZero {
		dst[idx] = out[i]
	}
}

// probit approximates the inverse standard-normal CDF via the relation to
// the inverse error function.
func probit(p float64) float64 {
	return math.Sqrt2 * math.Erfinv(2*p-1)
}

// LabelColumn holds one label per row: either an integer class index or,
// when a label table is configured, its string mapping. The two are
// mutually exclusive: a configured label table maps the per-row index
// straight into a string and the index itself is not kept.
type LabelColumn struct {
	Index  []int64
	String []string
}

// classify derives the argmax label for every row once the post-transform
// has been applied, optionally mapping through opts.Labels into a string
// column. Without a label table the index column is the result and is
// returned to the caller, so it is a plain allocation whose lifetime
// outlives this call. With a label table the index is only ever an
// intermediate used to look up the string for each row, so it is drawn
// from opts.Scratch and released once the string column is built.
func classify(f *Forest, y []float64, rows int, opts EvalOptions) (*LabelColumn, error) {
	n := int(f.NTargets)

	argmax := func(idx []int64) {
		for r := 0; r < rows; r++ {
			row := y[r*n : r*n+n]
			best := 0
			for t := 1; t < n; t++ {
				if row[t] > row[best] {
					best = t
				}
			}
			idx[r] = int64(best)
		}
	}

	if len(opts.Labels) == 0 {
		idx := make([]int64, rows)
		argmax(idx)
		return &LabelColumn{Index: idx}, nil
	}

	idx := opts.Scratch.Int64(rows)
	defer opts.Scratch.ReleaseInt64(idx)
	argmax(idx)

	strs := make([]string, rows)
	for r, i := range idx {
		if int(i) >= len(opts.Labels) {
			return nil, kernelerr.NewConfigurationError("label index out of range of configured label table", kernelerr.WithDetail("index", i))
		}
		strs[r] = opts.Labels[i]
	}
	return &LabelColumn{String: strs}, nil
}
