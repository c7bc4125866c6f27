// Package kernelerr defines the error-kind taxonomy surfaced by the F8
// codec and tree-ensemble kernels: ConfigurationError for unsupported
// parameter combinations, StructureError for invalid ensemble topology,
// and ShapeError for malformed input/output tensors. Each kind carries
// structured detail (tree id, node id, parameter name, ...) rather than
// folding everything into an opaque string, and wraps with pkg/errors so
// a caller can still errors.As to the specific kind.
package kernelerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Detail is one piece of structured context attached to an error, such as
// ("tree_id", 3) or ("node_id", 17).
type Detail struct {
	Key   string
	Value any
}

// DetailOption appends structured context to an error at construction
// time.
type DetailOption func(*[]Detail)

// WithDetail attaches a key/value pair of structured context.
func WithDetail(key string, value any) DetailOption {
	return func(d *[]Detail) {
		*d = append(*d, Detail{Key: key, Value: value})
	}
}

func applyDetails(opts []DetailOption) []Detail {
	if len(opts) == 0 {
		return nil
	}
	var details []Detail
	for _, opt := range opts {
		opt(&details)
	}
	return details
}

func formatDetails(details []Detail) string {
	if len(details) == 0 {
		return ""
	}
	s := ""
	for _, d := range details {
		s += fmt.Sprintf(" %s=%v", d.Key, d.Value)
	}
	return s
}

// ConfigurationError reports an unsupported combination of kernel
// parameters, e.g. saturate=false requested for an integer quantize
// target, or an unknown aggregate/post-transform name.
type ConfigurationError struct {
	Reason  string
	Details []Detail
	cause   error
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason + formatDetails(e.Details)
}

// Cause returns the wrapped error, if any, for errors.Unwrap/pkg-errors
// style chains.
func (e *ConfigurationError) Cause() error { return e.cause }

// Unwrap supports errors.Is/errors.As against the wrapped cause.
func (e *ConfigurationError) Unwrap() error { return e.cause }

// NewConfigurationError builds a ConfigurationError with optional
// structured detail.
func NewConfigurationError(reason string, opts ...DetailOption) *ConfigurationError {
	return &ConfigurationError{Reason: reason, Details: applyDetails(opts)}
}

// StructureError reports an invalid ensemble topology discovered at
// build time: a dangling child reference, a true cycle, a duplicate
// (tree, node) key, or a self-loop. Always carries the offending tree
// and node ids so a build failure can be traced back to the input row
// that caused it.
type StructureError struct {
	Reason  string
	TreeID  int32
	NodeID  int32
	Details []Detail
	cause   error
}

func (e *StructureError) Error() string {
	return fmt.Sprintf("structure error: %s (tree=%d node=%d)%s", e.Reason, e.TreeID, e.NodeID, formatDetails(e.Details))
}

func (e *StructureError) Cause() error  { return e.cause }
func (e *StructureError) Unwrap() error { return e.cause }

// NewStructureError builds a StructureError for the given tree/node ids.
func NewStructureError(reason string, treeID, nodeID int32, opts ...DetailOption) *StructureError {
	return &StructureError{Reason: reason, TreeID: treeID, NodeID: nodeID, Details: applyDetails(opts)}
}

// ShapeError reports a malformed input or output tensor: rank above 2,
// a feature id beyond the row width, or an output buffer of the wrong
// size.
type ShapeError struct {
	Reason  string
	Details []Detail
	cause   error
}

func (e *ShapeError) Error() string {
	return "shape error: " + e.Reason + formatDetails(e.Details)
}

func (e *ShapeError) Cause() error  { return e.cause }
func (e *ShapeError) Unwrap() error { return e.cause }

// NewShapeError builds a ShapeError with optional structured detail.
func NewShapeError(reason string, opts ...DetailOption) *ShapeError {
	return &ShapeError{Reason: reason, Details: applyDetails(opts)}
}

// Wrap attaches additional context to an already-classified kernel error
// using pkg/errors, preserving the original kind for errors.As while
// adding a human-readable prefix and stack trace at the new boundary.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, message)
}

// ErrFeatureOutOfRange carries the same message as the *ShapeError that
// ensemble.Evaluate returns when a row's width is smaller than the forest's
// max_feature_id + 1. That ShapeError does not wrap it, so
// errors.Is(err, ErrFeatureOutOfRange) does not match it.
var ErrFeatureOutOfRange = errors.New("feature id exceeds input row width")
