// Package util holds small filesystem helpers shared by the ensemble
// tooling, in particular the JSON forest-description loader cmd/treebench
// uses to build a Forest without depending on any serialized-model format.
package util

import (
	"encoding/json"
	"os"

	"github.com/nvr-ai/go-treebench/ensemble"
)

// ForestNode is one row of a forest description file's node table, the
// JSON-friendly mirror of ensemble.BuildInput's parallel arrays.
type ForestNode struct {
	TreeID      int32   `json:"tree_id"`
	NodeID      int32   `json:"node_id"`
	TrueID      int32   `json:"true_id"`
	FalseID     int32   `json:"false_id"`
	FeatureID   int32   `json:"feature_id"`
	Mode        string  `json:"mode"`
	Threshold   float64 `json:"threshold"`
	MissingTrue bool    `json:"missing_true"`
}

// ForestWeight is one row of a forest description file's weight table.
type ForestWeight struct {
	TreeID      int32   `json:"tree_id"`
	NodeID      int32   `json:"node_id"`
	TargetIndex int32   `json:"target_index"`
	Weight      float64 `json:"weight"`
}

// ForestFile is the on-disk JSON shape a forest description file takes.
// It carries the same information as ensemble.BuildInput, spelled with
// JSON-friendly field names and string mode/aggregate/post-transform
// names, since an ingest source may emit either spelling.
type ForestFile struct {
	Nodes         []ForestNode   `json:"nodes"`
	Weights       []ForestWeight `json:"weights"`
	NTargets      int32          `json:"n_targets"`
	Aggregate     string         `json:"aggregate"`
	PostTransform string         `json:"post_transform"`
	BaseValues    []float64      `json:"base_values"`
	IsClassifier  bool           `json:"is_classifier"`
	ThresholdBits int            `json:"threshold_bits"`
}

// LoadForestFile reads a forest description file from path and compiles it
// into a Forest via ensemble.Build.
func LoadForestFile(path string) (*ensemble.Forest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var ff ForestFile
	if err := json.Unmarshal(data, &ff); err != nil {
		return nil, err
	}

	in, err := toBuildInput(ff)
	if err != nil {
		return nil, err
	}
	return ensemble.Build(in)
}

func toBuildInput(ff ForestFile) (ensemble.BuildInput, error) {
	n := len(ff.Nodes)
	in := ensemble.BuildInput{
		TreeID:      make([]int32, n),
		NodeID:      make([]int32, n),
		TrueID:      make([]int32, n),
		FalseID:     make([]int32, n),
		FeatureID:   make([]int32, n),
		Modes:       make([]ensemble.Mode, n),
		Threshold:   make([]float64, n),
		MissingTrue: make([]bool, n),

		NTargets:      ff.NTargets,
		BaseValues:    ff.BaseValues,
		IsClassifier:  ff.IsClassifier,
		ThresholdBits: ff.ThresholdBits,
	}

	for i, node := range ff.Nodes {
		mode, err := ensemble.ParseMode(node.Mode)
		if err != nil {
			return ensemble.BuildInput{}, err
		}
		in.TreeID[i] = node.TreeID
		in.NodeID[i] = node.NodeID
		in.TrueID[i] = node.TrueID
		in.FalseID[i] = node.FalseID
		in.FeatureID[i] = node.FeatureID
		in.Modes[i] = mode
		in.Threshold[i] = node.Threshold
		in.MissingTrue[i] = node.MissingTrue
	}

	agg, err := ensemble.ParseAggregate(ff.Aggregate)
	if err != nil {
		return ensemble.BuildInput{}, err
	}
	in.Aggregate = agg

	pt, err := ensemble.ParsePostTransform(ff.PostTransform)
	if err != nil {
		return ensemble.BuildInput{}, err
	}
	in.PostTransform = pt

	for _, w := range ff.Weights {
		in.WeightTreeID = append(in.WeightTreeID, w.TreeID)
		in.WeightNodeID = append(in.WeightNodeID, w.NodeID)
		in.WeightTargetIndex = append(in.WeightTargetIndex, w.TargetIndex)
		in.WeightValue = append(in.WeightValue, w.Weight)
	}

	return in, nil
}
