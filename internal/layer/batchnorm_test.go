package layer

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchNormStatisticsOverValidRows(t *testing.T) {
	bn := NewBatchNorm(2)
	x := []float32{
		1, 10,
		3, 30,
		100, -100, // padding
		5, 50,
	}
	valid := []bool{true, true, false, true}
	out := bn.Forward(x, valid)

	assert.Equal(t, float32(100), out[4])
	assert.Equal(t, float32(-100), out[5])

	for c := 0; c < 2; c++ {
		var mean, sq float64
		for _, r := range []int{0, 1, 3} {
			mean += float64(out[r*2+c])
		}
		mean /= 3
		for _, r := range []int{0, 1, 3} {
			d := float64(out[r*2+c]) - mean
			sq += d * d
		}
		assert.InDelta(t, 0, mean, 1e-5)
		assert.InDelta(t, 1, sq/3, 1e-3)
	}
	assert.InDelta(t, -math.Sqrt(1.5), out[0], 1e-3)
}

func TestBatchNormAffine(t *testing.T) {
	bn := NewBatchNorm(1)
	bn.SetParams([]float32{2, 0.5})
	assert.Equal(t, []float32{2}, bn.GetGamma())
	assert.Equal(t, []float32{0.5}, bn.GetBeta())

	out := bn.Forward([]float32{-1, 1}, []bool{true, true})
	assert.InDelta(t, -1.5, out[0], 1e-4)
	assert.InDelta(t, 2.5, out[1], 1e-4)
}

func TestBatchNormNoValidRows(t *testing.T) {
	bn := NewBatchNorm(1)
	x := []float32{4, 5}
	assert.Equal(t, x, bn.Forward(x, []bool{false, false}))
	assert.Equal(t, []float32{1, 2}, bn.Backward([]float32{1, 2}))
}

func TestBatchNormBackwardMatchesFiniteDifferences(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	const features, rows = 3, 6
	bn := NewBatchNorm(features)
	bn.SetParams(randomSlice(rng, 2*features))
	x := randomSlice(rng, features*rows)
	valid := []bool{true, false, true, true, true, false}
	r := randomSlice(rng, features*rows)

	loss := func() float64 { return dot(bn.Forward(x, valid), r) }
	loss()
	dx := bn.Backward(r)

	const eps = 1e-2
	for i := range x {
		orig := x[i]
		x[i] = orig + eps
		up := loss()
		x[i] = orig - eps
		down := loss()
		x[i] = orig
		assert.InDelta(t, (up-down)/(2*eps), dx[i], 1e-2, "dx[%d]", i)
	}

	grads := bn.Gradients()
	params := bn.Params()
	for i := range params {
		orig := params[i]
		params[i] = orig + eps
		up := loss()
		params[i] = orig - eps
		down := loss()
		params[i] = orig
		assert.InDelta(t, (up-down)/(2*eps), grads[i], 1e-2, "param %d", i)
	}

	bn.ClearGradients()
	for _, g := range bn.Gradients() {
		require.Equal(t, float32(0), g)
	}
}
