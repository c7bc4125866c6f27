// Package tensor adapts gorgonia.org/tensor into the narrow contract the
// evaluator needs from an input or output buffer: shape, element-type
// tag, and const/mutable data access. The evaluator depends only on the
// Tensor interface here, never on *gorg.Dense directly, so a caller can
// supply any backing storage by implementing the same six methods.
package tensor

import (
	gorg "gorgonia.org/tensor"
)

// DType tags which element type backs a Tensor: f32, f64, i32, or i64 for
// evaluator inputs. Evaluator outputs are always f64, the accumulator's
// working width.
type DType uint8

const (
	F32 DType = iota
	F64
	I32
	I64
)

// Tensor is the evaluator's view of an N-D input or output buffer:
// shape, element type, and typed slice access to the contiguous,
// row-major backing array.
type Tensor interface {
	Shape() []int
	DType() DType
	Float32s() []float32
	Float64s() []float64
	Int32s() []int32
	Int64s() []int64
}

// Dense wraps a *gorgonia.org/tensor.Dense, reused here instead of a
// hand-rolled array-with-shape type.
type Dense struct {
	t *gorg.Dense
}

// NewDense allocates a zeroed Dense tensor of the given shape and dtype.
func NewDense(shape []int, dtype DType) *Dense {
	return &Dense{t: gorg.New(gorg.WithShape(shape...), gorg.Of(gorgDtype(dtype)))}
}

// Wrap adapts an existing *gorgonia.org/tensor.Dense, e.g. one produced by
// a caller's own loading code, into the Tensor contract.
func Wrap(t *gorg.Dense) *Dense {
	return &Dense{t: t}
}

func (d *Dense) Shape() []int {
	return []int(d.t.Shape())
}

func (d *Dense) DType() DType {
	switch d.t.Dtype() {
	case gorg.Float32:
		return F32
	case gorg.Float64:
		return F64
	case gorg.Int32:
		return I32
	case gorg.Int64:
		return I64
	default:
		return F64
	}
}

func (d *Dense) Float32s() []float32 {
	v, _ := d.t.Data().([]float32)
	return v
}

func (d *Dense) Float64s() []float64 {
	v, _ := d.t.Data().([]float64)
	return v
}

func (d *Dense) Int32s() []int32 {
	v, _ := d.t.Data().([]int32)
	return v
}

func (d *Dense) Int64s() []int64 {
	v, _ := d.t.Data().([]int64)
	return v
}

func gorgDtype(d DType) gorg.Dtype {
	switch d {
	case F32:
		return gorg.Float32
	case I32:
		return gorg.Int32
	case I64:
		return gorg.Int64
	default:
		return gorg.Float64
	}
}
