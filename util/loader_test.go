package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempForest(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "forest.json")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadForestFile(t *testing.T) {
	forest := `{
      "nodes": [
        {"tree_id": 0, "node_id": 0, "true_id": 1, "false_id": 2, "feature_id": 0, "mode": "BRANCH_LEQ", "threshold": 0.5},
        {"tree_id": 0, "node_id": 1, "mode": "LEAF"},
        {"tree_id": 0, "node_id": 2, "mode": "LEAF"}
      ],
      "weights": [
        {"tree_id": 0, "node_id": 1, "target_index": 0, "weight": 1.0},
        {"tree_id": 0, "node_id": 2, "target_index": 0, "weight": -1.0}
      ],
      "n_targets": 1,
      "aggregate": "SUM",
      "post_transform": "NONE",
      "threshold_bits": 64
    }`

	path := writeTempForest(t, forest)
	f, err := LoadForestFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, f.NTrees())
	assert.Equal(t, int32(1), f.NTargets)
}

func TestLoadForestFileUnknownMode(t *testing.T) {
	path := writeTempForest(t, `{"nodes":[{"tree_id":0,"node_id":0,"mode":"NOT_A_MODE"}],"n_targets":1,"aggregate":"SUM"}`)
	_, err := LoadForestFile(path)
	assert.Error(t, err)
}

func TestLoadForestFileMissingPath(t *testing.T) {
	_, err := LoadForestFile(filepath.Join(t.TempDir(), "does-not-exist.json"))
	assert.Error(t, err)
}
