package f8

import (
	"github.com/nvr-ai/go-treebench/ensemble/kernelerr"
)

// Target names the element type a bulk quantize kernel narrows into.
type Target uint8

const (
	// TargetE4M3 quantizes into the E4M3 8-bit float encoding.
	TargetE4M3 Target = iota
	// TargetE5M2 quantizes into the E5M2 8-bit float encoding.
	TargetE5M2
	// TargetInt8 quantizes into a signed 8-bit integer.
	TargetInt8
	// TargetUint8 quantizes into an unsigned 8-bit integer.
	TargetUint8
)

func (t Target) isFloat8() bool {
	return t == TargetE4M3 || t == TargetE5M2
}

// QuantizeKernel is a configured, validated quantize/dequantize operator
// over a fixed target type, scale, and zero point. Constructing it up
// front, rather than threading saturate/scale/zp through every call,
// keeps the per-element hot loop free of validation and branching on
// options.
type QuantizeKernel struct {
	target   Target
	scale    float32
	zp       byte // zero point, encoded in the target type
	zpF32    float32
	saturate bool
}

// Option configures a QuantizeKernel at construction time.
type Option func(*quantizeOptions)

type quantizeOptions struct {
	saturate    bool
	saturateSet bool
}

// WithSaturate explicitly sets the saturating-overflow behavior of an 8-bit
// float target (TargetE4M3 / TargetE5M2). For an integer target,
// WithSaturate(false) is a ConfigurationError at construction time and
// WithSaturate(true) is accepted and changes nothing.
func WithSaturate(saturate bool) Option {
	return func(o *quantizeOptions) {
		o.saturate = saturate
		o.saturateSet = true
	}
}

// NewQuantizeKernel validates and builds a QuantizeKernel. For 8-bit float
// targets, saturate defaults to true (clamp on overflow) unless overridden.
// For integer targets, saturate is implicitly true and may not be
// overridden to false.
func NewQuantizeKernel(target Target, scale float32, zeroPoint byte, opts ...Option) (*QuantizeKernel, error) {
	cfg := quantizeOptions{saturate: true}
	for _, opt := range opts {
		opt(&cfg)
	}

	if !target.isFloat8() && cfg.saturateSet && !cfg.saturate {
		return nil, kernelerr.NewConfigurationError(
			"saturate=false is unsupported for integer quantize targets",
			kernelerr.WithDetail("target", target),
		)
	}

	if target > TargetUint8 {
		return nil, kernelerr.NewConfigurationError("unknown quantize target", kernelerr.WithDetail("target", target))
	}

	if scale == 0 {
		return nil, kernelerr.NewConfigurationError("scale must be non-zero")
	}

	k := &QuantizeKernel{
		target:   target,
		scale:    scale,
		zp:       zeroPoint,
		saturate: cfg.saturate,
	}
	k.zpF32 = k.rawWiden(zeroPoint)
	return k, nil
}

// Quantize computes y[i] = saturating_cast(x[i]/scale + zeroPoint) for
// every element, returning the raw target-width bytes. Embarrassingly
// parallel: safe to slice x into chunks and call narrowOne independently
// per chunk from any number of goroutines.
func (k *QuantizeKernel) Quantize(x []float32) []byte {
	y := make([]byte, len(x))
	for i, v := range x {
		y[i] = k.narrowOne(v/k.scale + k.zpF32)
	}
	return y
}

// QuantizeRange quantizes x[start:end] into y[start:end], for use by a
// thread-pool worker operating on a disjoint slice of a larger batch.
func (k *QuantizeKernel) QuantizeRange(x []float32, y []byte, start, end int) {
	for i := start; i < end; i++ {
		y[i] = k.narrowOne(x[i]/k.scale + k.zpF32)
	}
}

func (k *QuantizeKernel) narrowOne(v float32) byte {
	switch k.target {
	case TargetE4M3:
		if k.saturate {
			return byte(FromFloat32(v))
		}
		return byte(fromFloat32NonSaturating(v))
	case TargetE5M2:
		if k.saturate {
			return byte(fromFloat32ToE5M2Saturating(v))
		}
		return byte(FromFloat32ToE5M2(v))
	case TargetInt8:
		return byte(int8(clampFloat(v, -128, 127)))
	default: // TargetUint8
		return byte(uint8(clampFloat(v, 0, 255)))
	}
}

// Dequantize computes y[i] = (f32(x[i]) - f32(zeroPoint)) * scale in
// binary32, for every element.
func (k *QuantizeKernel) Dequantize(x []byte) []float32 {
	y := make([]float32, len(x))
	for i, b := range x {
		y[i] = k.widenOne(b)
	}
	return y
}

// DequantizeRange dequantizes x[start:end] into y[start:end].
func (k *QuantizeKernel) DequantizeRange(x []byte, y []float32, start, end int) {
	for i := start; i < end; i++ {
		y[i] = k.widenOne(x[i])
	}
}

func (k *QuantizeKernel) widenOne(b byte) float32 {
	return (k.rawWiden(b) - k.zpF32) * k.scale
}

// rawWiden widens a target-encoded byte to its float32 value with no
// zero-point or scale applied; used both by Dequantize and, at
// construction time, to resolve the zero point itself to float32 once.
func (k *QuantizeKernel) rawWiden(b byte) float32 {
	switch k.target {
	case TargetE4M3:
		return E4M3(b).ToFloat32()
	case TargetE5M2:
		return E5M2(b).ToFloat32()
	case TargetInt8:
		return float32(int8(b))
	default:
		return float32(b)
	}
}

func clampFloat(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
