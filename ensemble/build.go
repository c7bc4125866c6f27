package ensemble

import (
	"sort"

	"github.com/nvr-ai/go-treebench/ensemble/kernelerr"
)

// BuildInput is the classical flat ingest schema: parallel arrays indexed
// by a synthetic flat_id in [0, N), plus the weight table keyed by
// (tree_id, node_id). true_id/false_id are themselves flat_ids into these
// same arrays, which keeps same-tree validation a simple index lookup
// instead of a per-tree-local renumbering pass.
type BuildInput struct {
	TreeID      []int32
	NodeID      []int32
	TrueID      []int32
	FalseID     []int32
	FeatureID   []int32
	Modes       []Mode
	Threshold   []float64
	MissingTrue []bool

	WeightTreeID      []int32
	WeightNodeID      []int32
	WeightTargetIndex []int32
	WeightValue       []float64

	NTargets      int32
	Aggregate     Aggregate
	PostTransform PostTransform
	BaseValues    []float64
	IsClassifier  bool

	// ThresholdBits is the bit width of the threshold storage, which bounds
	// the largest category value a BRANCH_MEMBER bitmask can fold: 32 for
	// f32 storage, 64 for f64. Zero defaults to 64.
	ThresholdBits int
}

// rawTree is the per-tree recursive view built from the flat arrays before
// flattening; distinct from Node because it still holds explicit false
// pointers (needed for the fold pass) and has not yet been assigned final
// array positions.
type rawTree struct {
	flatID      int32
	mode        Mode
	featureID   int32
	threshold   float64
	missingTrue bool
	trueChild   *rawTree
	falseChild  *rawTree
	weights     []WeightRecord
}

// Build validates, compiles and flattens a classical flat-schema forest
// description. All structural defects are reported as a single error
// carrying the offending tree/node ids; there is no partial forest.
func Build(in BuildInput) (*Forest, error) {
	n := len(in.TreeID)
	if err := validateLengths(in, n); err != nil {
		return nil, err
	}

	thresholdBits := in.ThresholdBits
	if thresholdBits == 0 {
		thresholdBits = 64
	}

	keyOf := func(tree, node int32) int64 { return int64(tree)<<32 | int64(uint32(node)) }

	flatIDOf := make(map[int64]int32, n)
	for i := 0; i < n; i++ {
		k := keyOf(in.TreeID[i], in.NodeID[i])
		if _, dup := flatIDOf[k]; dup {
			return nil, kernelerr.NewStructureError("duplicate (tree_id, node_id)", in.TreeID[i], in.NodeID[i])
		}
		flatIDOf[k] = int32(i)
	}

	for i := 0; i < n; i++ {
		if in.Modes[i] == Leaf {
			continue
		}
		if in.TrueID[i] < 0 || int(in.TrueID[i]) >= n || in.FalseID[i] < 0 || int(in.FalseID[i]) >= n {
			return nil, kernelerr.NewStructureError("branch child reference out of range", in.TreeID[i], in.NodeID[i])
		}
		if in.TrueID[i] == int32(i) || in.FalseID[i] == int32(i) {
			return nil, kernelerr.NewStructureError("branch self-loop", in.TreeID[i], in.NodeID[i])
		}
		if in.TreeID[in.TrueID[i]] != in.TreeID[i] || in.TreeID[in.FalseID[i]] != in.TreeID[i] {
			return nil, kernelerr.NewStructureError("branch child belongs to a different tree", in.TreeID[i], in.NodeID[i])
		}
	}

	weightsByNode := make(map[int64][]WeightRecord)
	for i := range in.WeightTreeID {
		k := keyOf(in.WeightTreeID[i], in.WeightNodeID[i])
		flatID, ok := flatIDOf[k]
		if !ok || in.Modes[flatID] != Leaf {
			// Weights targeting a non-leaf (or unknown node) are silently
			// ignored; legacy converters emit these.
			continue
		}
		weightsByNode[k] = append(weightsByNode[k], WeightRecord{
			TargetIndex: in.WeightTargetIndex[i],
			Weight:      in.WeightValue[i],
		})
	}
	for k := range weightsByNode {
		sort.Slice(weightsByNode[k], func(a, b int) bool {
			return weightsByNode[k][a].TargetIndex < weightsByNode[k][b].TargetIndex
		})
	}

	var treeOrder []int32
	seenTree := make(map[int32]bool)
	rootFlatID := make(map[int32]int32)
	for i := 0; i < n; i++ {
		t := in.TreeID[i]
		if !seenTree[t] {
			seenTree[t] = true
			treeOrder = append(treeOrder, t)
		}
		if in.NodeID[i] == 0 {
			rootFlatID[t] = int32(i)
		}
	}

	b := &builder{in: in, flatIDOf: flatIDOf, weightsByNode: weightsByNode, thresholdBits: thresholdBits, memo: make(map[int32]*rawTree)}

	f := &Forest{
		NTargets:      in.NTargets,
		Aggregate:     in.Aggregate,
		PostTransform: in.PostTransform,
		BaseValues:    in.BaseValues,
		IsClassifier:  in.IsClassifier,
		singleTarget:  in.NTargets == 1,
	}

	targetsSeen := make(map[int32]bool)
	allPositive := true
	anyMode := Leaf
	sameMode := true
	hasMissing := false
	haveFirstBranchMode := false

	for _, t := range treeOrder {
		root, ok := rootFlatID[t]
		if !ok {
			return nil, kernelerr.NewStructureError("tree has no node with node_id == 0", t, -1)
		}
		raw, err := b.build(root, t, map[int32]bool{})
		if err != nil {
			return nil, err
		}
		raw = foldCategorical(raw, b.thresholdBits)

		idx := flatten(raw, &f.Nodes, &f.Weights, targetsSeen, &allPositive, f.singleTarget)
		f.Trees = append(f.Trees, idx)
	}

	var maxFeatureID int32 = -1
	for _, node := range f.Nodes {
		if node.IsLeaf() {
			continue
		}
		if !haveFirstBranchMode {
			anyMode = node.Mode()
			haveFirstBranchMode = true
		} else if node.Mode() != anyMode {
			sameMode = false
		}
		if node.MissingGoesTrue() {
			hasMissing = true
		}
		if node.FeatureID > maxFeatureID {
			maxFeatureID = node.FeatureID
		}
	}

	f.SameMode = sameMode
	f.HasMissingTracks = hasMissing
	f.BinaryCase = in.NTargets == 2 && len(targetsSeen) == 1
	f.WeightsAllPositive = allPositive
	f.MaxFeatureID = maxFeatureID

	return f, nil
}

func validateLengths(in BuildInput, n int) error {
	lists := []struct {
		name string
		l    int
	}{
		{"node_id", len(in.NodeID)},
		{"true_id", len(in.TrueID)},
		{"false_id", len(in.FalseID)},
		{"feature_id", len(in.FeatureID)},
		{"modes", len(in.Modes)},
		{"threshold", len(in.Threshold)},
		{"missing_true", len(in.MissingTrue)},
	}
	for _, l := range lists {
		if l.l != n {
			return kernelerr.NewConfigurationError(
				"parallel ingest arrays must share the same length",
				kernelerr.WithDetail("array", l.name),
				kernelerr.WithDetail("expected", n),
				kernelerr.WithDetail("actual", l.l),
			)
		}
	}
	wn := len(in.WeightTreeID)
	for _, l := range []int{len(in.WeightNodeID), len(in.WeightTargetIndex), len(in.WeightValue)} {
		if l != wn {
			return kernelerr.NewConfigurationError("weight arrays must share the same length")
		}
	}
	return nil
}

type builder struct {
	in            BuildInput
	flatIDOf      map[int64]int32
	weightsByNode map[int64][]WeightRecord
	thresholdBits int
	memo          map[int32]*rawTree
}

// build constructs the recursive per-tree view rooted at flatID, memoizing
// by flatID so that nodes shared by multiple parents (the documented
// BRANCH_EQ chain sharing a true subtree) are built exactly once rather
// than re-walked, and detecting true cycles via the in-progress set.
func (b *builder) build(flatID int32, treeID int32, inProgress map[int32]bool) (*rawTree, error) {
	if existing, ok := b.memo[flatID]; ok {
		return existing, nil
	}
	if inProgress[flatID] {
		return nil, kernelerr.NewStructureError("cycle detected", treeID, b.in.NodeID[flatID])
	}
	inProgress[flatID] = true
	defer delete(inProgress, flatID)

	mode := b.in.Modes[flatID]
	node := &rawTree{
		flatID:      flatID,
		mode:        mode,
		featureID:   b.in.FeatureID[flatID],
		threshold:   b.in.Threshold[flatID],
		missingTrue: b.in.MissingTrue[flatID],
	}

	if mode == Leaf {
		k := int64(treeID)<<32 | int64(uint32(b.in.NodeID[flatID]))
		node.weights = b.weightsByNode[k]
		b.memo[flatID] = node
		return node, nil
	}

	falseChild, err := b.build(b.in.FalseID[flatID], treeID, inProgress)
	if err != nil {
		return nil, err
	}
	trueChild, err := b.build(b.in.TrueID[flatID], treeID, inProgress)
	if err != nil {
		return nil, err
	}
	node.falseChild = falseChild
	node.trueChild = trueChild
	b.memo[flatID] = node
	return node, nil
}

// foldCategorical walks a tree bottom-up (it is called after the tree is
// fully built, and recurses into already-built children) collapsing
// consecutive BRANCH_EQ nodes sharing a feature, an integer threshold in
// [1, w], and a structurally identical true subtree into a single
// BRANCH_MEMBER bitmask node. A category outside [1, w] is left as
// BRANCH_EQ rather than folded, since it has no bit position in a
// w-bit mask.
func foldCategorical(node *rawTree, w int) *rawTree {
	if node == nil || node.mode == Leaf {
		return node
	}
	node.trueChild = foldCategorical(node.trueChild, w)
	node.falseChild = foldCategorical(node.falseChild, w)

	if node.mode != BranchEQ {
		return node
	}
	cat, ok := categoryOf(node.threshold, w)
	if !ok {
		return node
	}

	fc := node.falseChild
	switch {
	case fc.mode == BranchEQ:
		fcCat, ok := categoryOf(fc.threshold, w)
		if !ok || fc.featureID != node.featureID || !structurallyEqual(fc.trueChild, node.trueChild) {
			return node
		}
		return &rawTree{
			flatID:      node.flatID,
			mode:        BranchMember,
			featureID:   node.featureID,
			threshold:   float64(bit(cat) | bit(fcCat)),
			missingTrue: node.missingTrue,
			trueChild:   node.trueChild,
			falseChild:  fc.falseChild,
		}
	case fc.mode == BranchMember:
		if fc.featureID != node.featureID || !structurallyEqual(fc.trueChild, node.trueChild) {
			return node
		}
		return &rawTree{
			flatID:      node.flatID,
			mode:        BranchMember,
			featureID:   node.featureID,
			threshold:   float64(bit(cat) | uint64(fc.threshold)),
			missingTrue: node.missingTrue,
			trueChild:   node.trueChild,
			falseChild:  fc.falseChild,
		}
	default:
		return node
	}
}

func bit(category int) uint64 { return 1 << uint(category-1) }

// categoryOf reports whether t is an integer in [1, w] eligible for
// categorical folding, w being the declared threshold bit width that
// bounds how large a bitmask a single BRANCH_MEMBER node can carry.
func categoryOf(t float64, w int) (int, bool) {
	c := int(t)
	if float64(c) != t || c < 1 || c > w {
		return 0, false
	}
	return c, true
}

func structurallyEqual(a, b *rawTree) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.mode != b.mode || a.featureID != b.featureID || a.threshold != b.threshold || a.missingTrue != b.missingTrue {
		return false
	}
	if a.mode == Leaf {
		if len(a.weights) != len(b.weights) {
			return false
		}
		for i := range a.weights {
			if a.weights[i] != b.weights[i] {
				return false
			}
		}
		return true
	}
	return structurallyEqual(a.trueChild, b.trueChild) && structurallyEqual(a.falseChild, b.falseChild)
}

// flatten lays out the tree rooted at node in depth-first, false-first
// order: the false child is recursed into immediately after reserving the
// parent's slot, so it always lands at parent_index+1 and need not be
// stored explicitly; the true child is appended afterward as its own
// block, with its start index recorded in TrueChild.
func flatten(node *rawTree, nodes *[]Node, weights *[]WeightRecord, targetsSeen map[int32]bool, allPositive *bool, singleTarget bool) int32 {
	idx := int32(len(*nodes))
	*nodes = append(*nodes, Node{})

	if node.mode == Leaf {
		n := Node{Flags: newFlags(Leaf, false)}
		switch {
		case len(node.weights) == 0:
			// No targets for this leaf; leave the weight fields zeroed.
		case len(node.weights) == 1 && singleTarget:
			// The inline n_weights==1 fast path loses the target index, so
			// it is only sound for the single-target forest: with exactly
			// one target, that index is always 0.
			n.ThresholdOrWeight = node.weights[0].Weight
			n.NWeights = 1
			targetsSeen[node.weights[0].TargetIndex] = true
			if node.weights[0].Weight < 0 {
				*allPositive = false
			}
		default:
			n.TrueChild = int32(len(*weights))
			n.NWeights = int32(len(node.weights))
			for _, w := range node.weights {
				*weights = append(*weights, w)
				targetsSeen[w.TargetIndex] = true
				if w.Weight < 0 {
					*allPositive = false
				}
			}
		}
		(*nodes)[idx] = n
		return idx
	}

	flatten(node.falseChild, nodes, weights, targetsSeen, allPositive, singleTarget)
	trueIdx := flatten(node.trueChild, nodes, weights, targetsSeen, allPositive, singleTarget)

	(*nodes)[idx] = Node{
		Flags:             newFlags(node.mode, node.missingTrue),
		FeatureID:         node.featureID,
		ThresholdOrWeight: node.threshold,
		TrueChild:         trueIdx,
	}
	return idx
}
