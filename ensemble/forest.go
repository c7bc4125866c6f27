// Package ensemble compiles a flat decision-tree-ensemble description into
// a cache-friendly node layout and evaluates it in parallel over a batch of
// input rows, producing regression or classification outputs.
package ensemble

// Mode is the split test a branch node applies, or LEAF for a terminal
// node. Stored in the low bits of Node.Flags; the high bit of Flags is the
// missing-goes-true marker.
type Mode uint8

const (
	Leaf Mode = iota
	BranchLEQ
	BranchLT
	BranchGTE
	BranchGT
	BranchEQ
	BranchNEQ
	BranchMember
)

const (
	modeMask         = 0x7F
	missingGoesTrue  = 0x80
)

// Aggregate combines the leaf weights a row's trees contribute into a
// per-target accumulator.
type Aggregate uint8

const (
	AggregateSum Aggregate = iota
	AggregateAvg
	AggregateMin
	AggregateMax
)

// PostTransform is the final row-wise function applied to the accumulator
// vector after aggregation and base_values.
type PostTransform uint8

const (
	TransformNone PostTransform = iota
	TransformSoftmax
	TransformLogistic
	TransformSoftmaxZero
	TransformProbit
)

// WeightRecord is one (target_index, weight) pair in the forest-level
// weights table, owned by a leaf whose weights are not inlined: one with
// n_weights > 1, or with n_weights == 1 in a forest of more than one target.
type WeightRecord struct {
	TargetIndex int32
	Weight      float64
}

// Node is a fixed-size compiled tree node. The false-branch child of a
// branch node is always stored at self_index+1 in Forest.Nodes — the
// reordering pass in build.go guarantees this, so only the true-child link
// is kept explicit.
type Node struct {
	Flags             uint8
	FeatureID         int32
	ThresholdOrWeight float64
	TrueChild         int32
	NWeights          int32
}

// Mode returns the node's split mode, stripped of the missing-goes-true bit.
func (n Node) Mode() Mode {
	return Mode(n.Flags & modeMask)
}

// MissingGoesTrue reports whether a NaN feature value takes the true
// branch at this node.
func (n Node) MissingGoesTrue() bool {
	return n.Flags&missingGoesTrue != 0
}

// IsLeaf reports whether this node terminates a walk.
func (n Node) IsLeaf() bool {
	return n.Mode() == Leaf
}

// newFlags packs a mode and the missing-goes-true bit into Node.Flags.
func newFlags(mode Mode, missingTrue bool) uint8 {
	f := uint8(mode)
	if missingTrue {
		f |= missingGoesTrue
	}
	return f
}

// Forest is the compiled, immutable collection of decision trees produced
// by Build. All state is fixed at compile time; evaluation only reads it,
// and it may be shared by arbitrarily many concurrent Evaluate calls.
type Forest struct {
	// Trees holds, for each tree, the index into Nodes of its root.
	Trees []int32
	// Nodes is the single flat node array across all trees.
	Nodes []Node
	// Weights is the flat, append-only multi-target weights table.
	Weights []WeightRecord

	NTargets     int32
	MaxFeatureID int32
	// IsClassifier selects whether Evaluate derives a label column
	// (argmax over the post-transformed accumulator) in addition to Y.
	IsClassifier bool

	Aggregate     Aggregate
	PostTransform PostTransform
	BaseValues    []float64

	// SameMode is true iff every non-leaf node shares the same split mode.
	// Build computes it, but eval.go's tree walk does not read it: there is
	// one walk loop for every forest, and it switches on each node's mode.
	SameMode bool
	// HasMissingTracks is true iff any node sets MissingGoesTrue, gating
	// the NaN test in the hot loop.
	HasMissingTracks bool

	// BinaryCase is true when NTargets == 2 but the weight table only ever
	// references one class id — the single-logit ensemble shape.
	BinaryCase bool
	// WeightsAllPositive selects how the second score of a BinaryCase
	// forest is derived: 1-score1 when true, -score1 otherwise.
	WeightsAllPositive bool

	// singleTarget short-circuits weight lookup for the common NTargets==1
	// regression case: no weights-table indirection even for the k==1
	// inline case, matching the original runtime's dedicated fast path.
	singleTarget bool
}

// NTrees reports the number of trees in the forest.
func (f *Forest) NTrees() int {
	return len(f.Trees)
}
