package ensemble

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-treebench/internal/scratch"
	"github.com/nvr-ai/go-treebench/internal/workerpool"
	"github.com/nvr-ai/go-treebench/tensor"
)

func evalOpts(workers int) EvalOptions {
	return EvalOptions{
		Pool:     workerpool.New(workers),
		Scratch:  scratch.New(),
		Tunables: DefaultTunables(),
	}
}

func newInputRow(rows, cols int, values []float64) tensor.Tensor {
	x := tensor.NewDense([]int{rows, cols}, tensor.F64)
	copy(x.Float64s(), values)
	return x
}

func TestEvaluateSingleStumpSum(t *testing.T) {
	f, err := Build(stumpInput())
	require.NoError(t, err)

	x := newInputRow(2, 1, []float64{0.1, 0.9})
	y, labels, err := Evaluate(f, x, evalOpts(1))
	require.NoError(t, err)
	assert.Nil(t, labels)
	assert.Equal(t, []float64{1, -1}, y.Float64s())
}

func TestEvaluateMissingGoesTrue(t *testing.T) {
	in := stumpInput()
	in.MissingTrue[0] = true

	f, err := Build(in)
	require.NoError(t, err)

	x := newInputRow(1, 1, []float64{math.NaN()})
	y, _, err := Evaluate(f, x, evalOpts(1))
	require.NoError(t, err)
	assert.Equal(t, []float64{1}, y.Float64s())
}

func TestEvaluateBinaryClassifierLogistic(t *testing.T) {
	in := BuildInput{
		TreeID:      []int32{0, 0, 0},
		NodeID:      []int32{0, 1, 2},
		TrueID:      []int32{1, -1, -1},
		FalseID:     []int32{2, -1, -1},
		FeatureID:   []int32{0, 0, 0},
		Modes:       []Mode{BranchLEQ, Leaf, Leaf},
		Threshold:   []float64{0.5, 0, 0},
		MissingTrue: []bool{false, false, false},

		WeightTreeID:      []int32{0, 0},
		WeightNodeID:      []int32{1, 2},
		WeightTargetIndex: []int32{1, 1},
		WeightValue:       []float64{2.0, 0.5},

		NTargets:      2,
		Aggregate:     AggregateSum,
		PostTransform: TransformLogistic,
		IsClassifier:  true,
		ThresholdBits: 64,
	}

	f, err := Build(in)
	require.NoError(t, err)
	assert.True(t, f.BinaryCase)
	assert.True(t, f.WeightsAllPositive)

	x := newInputRow(1, 1, []float64{0.1})
	y, labels, err := Evaluate(f, x, evalOpts(1))
	require.NoError(t, err)
	require.NotNil(t, labels)

	row := y.Float64s()
	assert.InDelta(t, 1-row[1], row[0], 1e-12)
	assert.Greater(t, row[1], 0.0)
	assert.Less(t, row[1], 1.0)
}

func TestEvaluateSoftmaxSumsToOne(t *testing.T) {
	in := BuildInput{
		TreeID:      []int32{0, 0, 0},
		NodeID:      []int32{0, 1, 2},
		TrueID:      []int32{1, -1, -1},
		FalseID:     []int32{2, -1, -1},
		FeatureID:   []int32{0, 0, 0},
		Modes:       []Mode{BranchLEQ, Leaf, Leaf},
		Threshold:   []float64{0.5, 0, 0},
		MissingTrue: []bool{false, false, false},

		WeightTreeID:      []int32{0, 0, 0, 0},
		WeightNodeID:      []int32{1, 1, 2, 2},
		WeightTargetIndex: []int32{0, 1, 0, 1},
		WeightValue:       []float64{2, -1, 0.2, 0.3},

		NTargets:      2,
		Aggregate:     AggregateSum,
		PostTransform: TransformSoftmax,
		IsClassifier:  true,
		ThresholdBits: 64,
	}

	f, err := Build(in)
	require.NoError(t, err)

	x := newInputRow(1, 1, []float64{0.1})
	y, _, err := Evaluate(f, x, evalOpts(1))
	require.NoError(t, err)

	row := y.Float64s()
	assert.InDelta(t, 1.0, row[0]+row[1], 1e-6)
}

func TestEvaluateRegimeDMatchesSerialSum(t *testing.T) {
	const nTrees = 20
	const rows = 40
	in := BuildInput{NTargets: 1, Aggregate: AggregateSum, PostTransform: TransformNone, ThresholdBits: 64}
	for t := 0; t < nTrees; t++ {
		base := int32(len(in.TreeID))
		in.TreeID = append(in.TreeID, int32(t), int32(t), int32(t))
		in.NodeID = append(in.NodeID, 0, 1, 2)
		in.TrueID = append(in.TrueID, base+1, -1, -1)
		in.FalseID = append(in.FalseID, base+2, -1, -1)
		in.FeatureID = append(in.FeatureID, 0, 0, 0)
		in.Modes = append(in.Modes, BranchLEQ, Leaf, Leaf)
		in.Threshold = append(in.Threshold, float64(t%5), 0, 0)
		in.MissingTrue = append(in.MissingTrue, false, false, false)

		in.WeightTreeID = append(in.WeightTreeID, int32(t), int32(t))
		in.WeightNodeID = append(in.WeightNodeID, 1, 2)
		in.WeightTargetIndex = append(in.WeightTargetIndex, 0, 0)
		in.WeightValue = append(in.WeightValue, float64(t), -float64(t))
	}

	f, err := Build(in)
	require.NoError(t, err)

	values := make([]float64, rows)
	for i := range values {
		values[i] = float64(i % 7)
	}
	x := newInputRow(rows, 1, values)

	serial, _, err := Evaluate(f, x, evalOpts(1))
	require.NoError(t, err)

	tun := NewTunables(WithTreeParallelThreshold(1), WithRowParallelThreshold(1), WithBatchChunkSize(8))
	parallel, _, err := Evaluate(f, x, EvalOptions{Pool: workerpool.New(8), Scratch: scratch.New(), Tunables: tun})
	require.NoError(t, err)

	assert.Equal(t, serial.Float64s(), parallel.Float64s())
}

func TestSelectRegimeConditionTable(t *testing.T) {
	tun := DefaultTunables()
	assert.Equal(t, regimeA, selectRegime(1, 10, 4, tun))
	assert.Equal(t, regimeB, selectRegime(1, 200, 4, tun))
	assert.Equal(t, regimeA, selectRegime(1, 200, 1, tun))
	assert.Equal(t, regimeC, selectRegime(10, 200, 4, tun))
	assert.Equal(t, regimeC, selectRegime(1000, 200, 1, tun))
	assert.Equal(t, regimeD, selectRegime(1000, 200, 4, tun))
	assert.Equal(t, regimeE, selectRegime(1000, 2, 4, tun))
}

func TestMergeIntoMinMaxFirstContributionWins(t *testing.T) {
	dst := []float64{0, 0}
	hasDst := []bool{false, false}
	mergeInto(AggregateMin, dst, hasDst, []float64{5, 0}, []bool{true, false})
	mergeInto(AggregateMin, dst, hasDst, []float64{3, 9}, []bool{true, true})
	assert.Equal(t, []float64{3, 9}, dst)
	assert.Equal(t, []bool{true, true}, hasDst)
}

func TestSoftmaxZeroPassesAllZeroRowThrough(t *testing.T) {
	src := []float64{0, 0, 0}
	dst := make([]float64, 3)
	softmaxZero(dst, src)
	assert.Equal(t, []float64{0, 0, 0}, dst)
}

func TestSoftmaxZeroLeavesZeroEntriesZero(t *testing.T) {
	src := []float64{1, 0, 2}
	dst := make([]float64, 3)
	softmaxZero(dst, src)
	assert.Equal(t, 0.0, dst[1])
	assert.InDelta(t, 1.0, dst[0]+dst[2], 1e-6)
}

func TestLogisticRangeIsOpenUnitInterval(t *testing.T) {
	for _, z := range []float64{-50, -1, 0, 1, 50} {
		v := logistic(z)
		assert.Greater(t, v, 0.0)
		assert.Less(t, v, 1.0)
	}
}
