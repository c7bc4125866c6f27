package f8

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestE4M3ConcreteVectors(t *testing.T) {
	cases := []struct {
		name string
		in   float32
		want E4M3
	}{
		{"positive zero", 0, E4M3(0x00)},
		{"negative zero", float32(math.Copysign(0, -1)), E4M3(0x80)},
		{"one", 1.0, E4M3(0x38)},
		{"max finite", 448.0, e4m3MaxFiniteBits},
		{"max finite negative", -448.0, e4m3MaxFiniteBits | 0x80},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, FromFloat32(c.in))
		})
	}
}

func TestE4M3OverflowSaturatesByDefault(t *testing.T) {
	got := FromFloat32(1e6)
	assert.False(t, got.IsNaN())
	assert.Equal(t, float32(E4M3MaxFinite), got.ToFloat32())
}

func TestE4M3NonSaturatingOverflowProducesNaN(t *testing.T) {
	got := fromFloat32NonSaturating(1e6)
	assert.True(t, got.IsNaN())
}

func TestE4M3RoundTripSmallIntegers(t *testing.T) {
	for _, v := range []float32{0, 1, 2, 4, 8, 16, 32, 64, 128, 256, -1, -2, -16} {
		got := FromFloat32(v).ToFloat32()
		assert.Equal(t, v, got)
	}
}

func TestE4M3NaNPropagates(t *testing.T) {
	assert.True(t, FromFloat32(float32(math.NaN())).IsNaN())
}

func TestE5M2InfinityRoundTrips(t *testing.T) {
	pos := FromFloat32ToE5M2(float32(math.Inf(1)))
	neg := FromFloat32ToE5M2(float32(math.Inf(-1)))
	assert.True(t, pos.IsInf())
	assert.True(t, neg.IsInf())
	assert.True(t, math.IsInf(float64(pos.ToFloat32()), 1))
	assert.True(t, math.IsInf(float64(neg.ToFloat32()), -1))
}

func TestE5M2SaturatingOverflowClampsInsteadOfInf(t *testing.T) {
	got := fromFloat32ToE5M2Saturating(1e6)
	assert.False(t, got.IsInf())
	assert.Equal(t, float32(E5M2MaxFinite), got.ToFloat32())
}

func TestE5M2RoundTripSmallIntegers(t *testing.T) {
	for _, v := range []float32{0, 1, 2, 4, 1024, -8, -256} {
		got := FromFloat32ToE5M2(v).ToFloat32()
		assert.Equal(t, v, got)
	}
}

func TestQuantizeKernelRejectsZeroScale(t *testing.T) {
	_, err := NewQuantizeKernel(TargetE4M3, 0, 0)
	require.Error(t, err)
}

func TestQuantizeKernelRejectsNonSaturatingInteger(t *testing.T) {
	_, err := NewQuantizeKernel(TargetInt8, 1.0, 0, WithSaturate(false))
	require.Error(t, err)
}

func TestQuantizeDequantizeRoundTripInt8(t *testing.T) {
	k, err := NewQuantizeKernel(TargetInt8, 1.0, 0)
	require.NoError(t, err)

	x := []float32{-10, -1, 0, 1, 10, 127, -128}
	q := k.Quantize(x)
	y := k.Dequantize(q)
	for i := range x {
		assert.Equal(t, x[i], y[i])
	}
}

func TestQuantizeIntegerSaturates(t *testing.T) {
	k, err := NewQuantizeKernel(TargetUint8, 1.0, 0)
	require.NoError(t, err)

	q := k.Quantize([]float32{-50, 1000})
	assert.Equal(t, byte(0), q[0])
	assert.Equal(t, byte(255), q[1])
}

func TestQuantizeRangeMatchesQuantize(t *testing.T) {
	k, err := NewQuantizeKernel(TargetE4M3, 2.0, 0)
	require.NoError(t, err)

	x := []float32{-4, -2, 0, 2, 4, 8}
	want := k.Quantize(x)

	got := make([]byte, len(x))
	k.QuantizeRange(x, got, 0, len(x))
	assert.Equal(t, want, got)
}
