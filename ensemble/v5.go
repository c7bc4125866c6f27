package ensemble

import "github.com/nvr-ai/go-treebench/ensemble/kernelerr"

// V5Input is the alternative recursive-style ingest schema. It represents
// already-parsed attribute values (this module does not parse a
// serialized model format — see Non-goals) using the v5 node/leaf naming:
// nodes are addressed by node index rather than a separate flat_id, leaves
// carry their weights directly on the node instead of via a
// (tree_id, node_id) side table, and BRANCH_MEMBER nodes carry their
// category set as membership_values rather than a pre-packed bitmask.
type V5Input struct {
	TreeRoots []int32

	NodesModes        []Mode
	NodesFeatureIDs   []int32
	NodesSplits       []float64
	NodesMissingTrue  []bool
	NodesTrueNodeIDs  []int32
	NodesFalseNodeIDs []int32

	// MembershipValues holds, for a node index whose mode is BranchMember,
	// the category values that take the true branch. Nil for other nodes.
	MembershipValues map[int32][]float64

	// LeafTargetIDs / LeafWeights hold, for a node index whose mode is
	// Leaf, the parallel (target_index, weight) pairs it contributes.
	LeafTargetIDs map[int32][]int32
	LeafWeights   map[int32][]float64

	NTargets      int32
	Aggregate     Aggregate
	PostTransform PostTransform
	BaseValues    []float64
	IsClassifier  bool
	ThresholdBits int
}

// NormalizeV5 lowers a V5Input into the canonical flat-array BuildInput by
// recursively unrolling every BRANCH_MEMBER node into a chain of
// single-value BRANCH_EQ nodes. Build's categorical-folding pass will
// collapse the chain straight back into a BRANCH_MEMBER node if the
// unrolled true subtrees are structurally identical, which they always
// are here since every link in the chain shares the same true child.
func NormalizeV5(in V5Input) (BuildInput, error) {
	out := BuildInput{
		NTargets:      in.NTargets,
		Aggregate:     in.Aggregate,
		PostTransform: in.PostTransform,
		BaseValues:    in.BaseValues,
		IsClassifier:  in.IsClassifier,
		ThresholdBits: in.ThresholdBits,
	}

	n := &v5Normalizer{in: in, out: &out, flatIDOf: make(map[int32]int32), nextNode: make(map[int32]int32)}

	for t, root := range in.TreeRoots {
		if root < 0 || int(root) >= len(in.NodesModes) {
			return BuildInput{}, kernelerr.NewStructureError("tree_roots entry out of range", int32(t), root)
		}
		if _, err := n.visit(root, int32(t), map[int32]bool{}); err != nil {
			return BuildInput{}, err
		}
	}
	return out, nil
}

type v5Normalizer struct {
	in       V5Input
	out      *BuildInput
	flatIDOf map[int32]int32 // v5 node index -> flat_id already appended to out (memoization)
	nextNode map[int32]int32 // treeID -> next local node_id to assign
}

// allocNodeID returns the next unused node_id within treeID, starting at
// zero so the first node visited in a tree (always its root, per visit's
// call order) becomes node_id 0.
func (n *v5Normalizer) allocNodeID(treeID int32) int32 {
	id := n.nextNode[treeID]
	n.nextNode[treeID] = id + 1
	return id
}

// visit appends v5 node index nodeIdx (and, transitively, every node it
// expands into) to out, returning its flat_id.
func (n *v5Normalizer) visit(nodeIdx int32, treeID int32, inProgress map[int32]bool) (int32, error) {
	if flatID, ok := n.flatIDOf[nodeIdx]; ok {
		return flatID, nil
	}
	if inProgress[nodeIdx] {
		return 0, kernelerr.NewStructureError("cycle detected in v5 input", treeID, nodeIdx)
	}
	inProgress[nodeIdx] = true
	defer delete(inProgress, nodeIdx)

	// Allocate this node's own id before recursing into its children, so
	// the root of each tree — visited first, before anything else — always
	// claims node_id 0, matching the classical schema's root convention.
	localNodeID := n.allocNodeID(treeID)
	mode := n.in.NodesModes[nodeIdx]

	if mode == Leaf {
		return n.appendLeaf(nodeIdx, treeID, localNodeID), nil
	}

	if mode == BranchMember {
		return n.unrollMember(nodeIdx, treeID, localNodeID, inProgress)
	}

	falseFlat, err := n.visit(n.in.NodesFalseNodeIDs[nodeIdx], treeID, inProgress)
	if err != nil {
		return 0, err
	}
	trueFlat, err := n.visit(n.in.NodesTrueNodeIDs[nodeIdx], treeID, inProgress)
	if err != nil {
		return 0, err
	}

	flatID := n.appendBranchWithID(mode, n.in.NodesFeatureIDs[nodeIdx], n.in.NodesSplits[nodeIdx], n.in.NodesMissingTrue[nodeIdx], treeID, localNodeID, trueFlat, falseFlat)
	n.flatIDOf[nodeIdx] = flatID
	return flatID, nil
}

// unrollMember expands a BRANCH_MEMBER node into a chain of BRANCH_EQ
// nodes, one per membership value, all sharing the same true child and
// chaining through the false branch to the node's real false child. The
// chain head reuses headID (already allocated by visit for nodeIdx); the
// remaining links allocate fresh ids.
func (n *v5Normalizer) unrollMember(nodeIdx int32, treeID int32, headID int32, inProgress map[int32]bool) (int32, error) {
	values := n.in.MembershipValues[nodeIdx]
	if len(values) == 0 {
		return 0, kernelerr.NewStructureError("BRANCH_MEMBER node has no membership values", treeID, nodeIdx)
	}

	trueFlat, err := n.visit(n.in.NodesTrueNodeIDs[nodeIdx], treeID, inProgress)
	if err != nil {
		return 0, err
	}
	falseFlat, err := n.visit(n.in.NodesFalseNodeIDs[nodeIdx], treeID, inProgress)
	if err != nil {
		return 0, err
	}

	ids := make([]int32, len(values))
	ids[0] = headID
	for i := 1; i < len(ids); i++ {
		ids[i] = n.allocNodeID(treeID)
	}

	// Build the chain tail-to-head so each link's false branch is already
	// resolved when the link itself is appended.
	nextFalse := falseFlat
	var headFlat int32
	for i := len(values) - 1; i >= 0; i-- {
		headFlat = n.appendBranchWithID(BranchEQ, n.in.NodesFeatureIDs[nodeIdx], values[i], n.in.NodesMissingTrue[nodeIdx], treeID, ids[i], trueFlat, nextFalse)
		nextFalse = headFlat
	}
	n.flatIDOf[nodeIdx] = headFlat
	return headFlat, nil
}

func (n *v5Normalizer) appendBranchWithID(mode Mode, featureID int32, threshold float64, missingTrue bool, treeID, localNodeID, trueFlat, falseFlat int32) int32 {
	flatID := int32(len(n.out.TreeID))
	n.out.TreeID = append(n.out.TreeID, treeID)
	n.out.NodeID = append(n.out.NodeID, localNodeID)
	n.out.TrueID = append(n.out.TrueID, trueFlat)
	n.out.FalseID = append(n.out.FalseID, falseFlat)
	n.out.FeatureID = append(n.out.FeatureID, featureID)
	n.out.Modes = append(n.out.Modes, mode)
	n.out.Threshold = append(n.out.Threshold, threshold)
	n.out.MissingTrue = append(n.out.MissingTrue, missingTrue)
	return flatID
}

func (n *v5Normalizer) appendLeaf(nodeIdx int32, treeID int32, localNodeID int32) int32 {
	flatID := int32(len(n.out.TreeID))
	n.out.TreeID = append(n.out.TreeID, treeID)
	n.out.NodeID = append(n.out.NodeID, localNodeID)
	n.out.TrueID = append(n.out.TrueID, -1)
	n.out.FalseID = append(n.out.FalseID, -1)
	n.out.FeatureID = append(n.out.FeatureID, 0)
	n.out.Modes = append(n.out.Modes, Leaf)
	n.out.Threshold = append(n.out.Threshold, 0)
	n.out.MissingTrue = append(n.out.MissingTrue, false)

	targets := n.in.LeafTargetIDs[nodeIdx]
	weights := n.in.LeafWeights[nodeIdx]
	for i := range targets {
		n.out.WeightTreeID = append(n.out.WeightTreeID, treeID)
		n.out.WeightNodeID = append(n.out.WeightNodeID, localNodeID)
		n.out.WeightTargetIndex = append(n.out.WeightTargetIndex, targets[i])
		n.out.WeightValue = append(n.out.WeightValue, weights[i])
	}
	n.flatIDOf[nodeIdx] = flatID
	return flatID
}
