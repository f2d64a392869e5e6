package kernels

import (
	"math/rand"
	"testing"

	"github.com/FlavioCFOliveira/GoNeuron2D/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomGrid(rng *rand.Rand, h, w, b, c int) *tensor.Grid {
	g := tensor.NewGrid(h, w, b, c)
	for i := range g.Data {
		g.Data[i] = rng.Float32()*2 - 1
	}
	return g
}

func randomSlice(rng *rand.Rand, n int, scale float32) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = (rng.Float32()*2 - 1) * scale
	}
	return s
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func TestMatMul(t *testing.T) {
	a := []float32{1, 2, 3, 4, 5, 6}
	b := []float32{7, 8, 9, 10, 11, 12}
	assert.Equal(t, []float32{58, 64, 139, 154}, MatMul(a, 2, 3, b, 2))

	c := []float32{1, 1, 1, 1}
	gemm(true, false, 2, 2, 3, []float32{1, 4, 2, 5, 3, 6}, b, 1, c)
	assert.Equal(t, []float32{59, 65, 140, 155}, c)
}

func TestSeqToGridColumnMajor(t *testing.T) {
	// sample 0 is 2x3 (6 steps), sample 1 is 1x2 (2 steps)
	x := tensor.NewSequence(6, 2, 1)
	for step := 0; step < 6; step++ {
		x.Set(step, 0, 0, float32(step+1))
		x.Set(step, 1, 0, float32(10*(step+1)))
	}
	sizes := tensor.NewSizes([2]int{2, 3}, [2]int{1, 2})
	g := SeqToGrid(x, sizes)

	assert.Equal(t, [4]int{2, 3, 2, 1}, g.Shape())
	assert.Equal(t, float32(1), g.At(0, 0, 0, 0))
	assert.Equal(t, float32(2), g.At(1, 0, 0, 0))
	assert.Equal(t, float32(3), g.At(0, 1, 0, 0))
	assert.Equal(t, float32(6), g.At(1, 2, 0, 0))
	assert.Equal(t, float32(10), g.At(0, 0, 1, 0))
	assert.Equal(t, float32(20), g.At(0, 1, 1, 0))
	assert.Equal(t, float32(0), g.At(1, 0, 1, 0))

	dx := SeqToGridBackward(g, 6, sizes)
	assert.Equal(t, x.Data[:4], dx.Data[:4])
	assert.Equal(t, float32(0), dx.At(2, 1, 0), "steps past h*w receive no gradient")
}

func directConv(x *tensor.Grid, w, bias []float32, s ConvShape) *tensor.Grid {
	oh, ow := s.OutputDims(x.H, x.W)
	out := tensor.NewGrid(oh, ow, x.B, s.Out)
	for y := 0; y < oh; y++ {
		for xx := 0; xx < ow; xx++ {
			for b := 0; b < x.B; b++ {
				for o := 0; o < s.Out; o++ {
					sum := bias[o]
					for c := 0; c < s.In; c++ {
						for ky := 0; ky < s.FH; ky++ {
							for kx := 0; kx < s.FW; kx++ {
								sum += x.At(y+ky, xx+kx, b, c) * w[((o*s.In+c)*s.FH+ky)*s.FW+kx]
							}
						}
					}
					out.Set(y, xx, b, o, sum)
				}
			}
		}
	}
	return out
}

func TestConvValidMatchesDirectLoops(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	s := ConvShape{Out: 3, In: 2, FH: 2, FW: 3}
	x := randomGrid(rng, 4, 5, 2, 2)
	w := randomSlice(rng, s.Size(), 1)
	bias := randomSlice(rng, 3, 1)

	got := ConvValid(x, w, bias, s)
	want := directConv(x, w, bias, s)
	require.Equal(t, want.Shape(), got.Shape())
	assert.InDeltaSlice(t, want.Data, got.Data, 1e-4)
}

func TestConvValidBackwardIsAdjoint(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	s := ConvShape{Out: 2, In: 3, FH: 3, FW: 2}
	x := randomGrid(rng, 5, 4, 2, 3)
	w := randomSlice(rng, s.Size(), 1)
	y := ConvValid(x, w, nil, s)
	dy := randomGrid(rng, y.H, y.W, y.B, y.C)

	dx, dw, db := ConvValidBackward(x, w, s, dy)

	// <dy, conv(x, w)> is bilinear in x and w, so both gradients satisfy
	// <dy, conv(x, w)> = <dx, x> = <dw, w>.
	lhs := dot(dy.Data, y.Data)
	assert.InDelta(t, lhs, dot(dx.Data, x.Data), 1e-3)
	assert.InDelta(t, lhs, dot(dw, w), 1e-3)

	var sum float32
	for _, v := range dy.Data {
		sum += v
	}
	var total float32
	for _, v := range db {
		total += v
	}
	assert.InDelta(t, sum, total, 1e-4)
}

func TestMaxPoolIgnoresBorder(t *testing.T) {
	x := tensor.NewGrid(3, 5, 1, 1)
	for i := range x.Data {
		x.Data[i] = float32(i)
	}
	p := MaxPool(x, 2, 2)
	assert.Equal(t, [4]int{1, 2, 1, 1}, p.Out.Shape())
	assert.Equal(t, []float32{6, 8}, p.Out.Data)

	dx := MaxPoolBackward(tensor.GridFrom(1, 2, 1, 1, []float32{1, 2}), p.Argmax, 3, 5)
	assert.Equal(t, float32(1), dx.At(1, 1, 0, 0))
	assert.Equal(t, float32(2), dx.At(1, 3, 0, 0))
	assert.Equal(t, float32(0), dx.At(2, 4, 0, 0))
}

func TestMaxPoolUnitWindowIsIdentity(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	x := randomGrid(rng, 3, 4, 2, 2)
	p := MaxPool(x, 1, 1)
	assert.Equal(t, x.Data, p.Out.Data)
}

func TestCropFillValues(t *testing.T) {
	x := tensor.NewGrid(2, 2, 2, 1)
	for i := range x.Data {
		x.Data[i] = 1
	}
	sizes := tensor.NewSizes([2]int{2, 2}, [2]int{1, 1})

	c := CropToSizes(x, sizes)
	assert.Equal(t, float32(1), c.At(1, 1, 0, 0))
	assert.Equal(t, CropFill, c.At(1, 1, 1, 0))
	assert.Equal(t, float32(1), c.At(0, 0, 1, 0))

	z := CropToSizesZero(x, sizes)
	assert.Equal(t, float32(0), z.At(0, 1, 1, 0))
	assert.Equal(t, float32(1), x.At(0, 1, 1, 0), "input untouched")
}

func TestFractionalBoundsCoverAxis(t *testing.T) {
	for in := 1; in < 40; in++ {
		for _, ratio := range []float64{1, 1.41421356, 2, 3.5} {
			out := FractionalSize(in, ratio)
			for _, u := range []float64{0, 0.3, 0.999} {
				b := fractionalBounds(in, out, u)
				assert.Equal(t, 0, b[0])
				assert.Equal(t, in, b[out])
				for i := 0; i < out; i++ {
					assert.True(t, b[i+1] > b[i], "in=%d ratio=%v u=%v region %d empty: %v", in, ratio, u, i, b)
				}
			}
		}
	}
}

func TestFractionalMaxPoolExtents(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	x := randomGrid(rng, 6, 7, 2, 2)
	sizes := tensor.NewSizes([2]int{6, 7}, [2]int{1, 3})

	p, out := FractionalMaxPool(x, sizes, 1.41421356, FixedSampler{U: 0.5})
	assert.Equal(t, [4]int{4, 4, 2, 2}, p.Out.Shape())
	assert.Equal(t, [2]int{4, 4}, out.Pair(0))
	assert.Equal(t, [2]int{1, 2}, out.Pair(1))
	assert.True(t, out.Fits(p.Out.H, p.Out.W))

	// the single row of sample 1 pools only within its 1x3 extent
	for xx := 0; xx < 2; xx++ {
		for c := 0; c < 2; c++ {
			idx := p.Argmax[p.Out.Index(0, xx, 1, c)]
			assert.True(t, idx >= 0)
			v := x.Data[idx]
			assert.Equal(t, v, p.Out.At(0, xx, 1, c))
		}
	}
	assert.Equal(t, -1, p.Argmax[p.Out.Index(1, 0, 1, 0)])
}

func TestFractionalMaxPoolRandomSamplerIsSeeded(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	x := randomGrid(rng, 9, 9, 1, 1)
	sizes := tensor.NewSizes([2]int{9, 9})
	a, _ := FractionalMaxPool(x, sizes, 1.5, NewRandomSampler(42))
	b, _ := FractionalMaxPool(x, sizes, 1.5, NewRandomSampler(42))
	assert.Equal(t, a.Out.Data, b.Out.Data)
}

func TestCircularConvolveMatchesDefinition(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	for _, n := range []int{1, 4, 5} {
		a := randomSlice(rng, n, 1)
		b := randomSlice(rng, n, 1)
		g := randomSlice(rng, n, 1)
		c := NewCircular(n)

		want := make([]float32, n)
		corr := make([]float32, n)
		for k := 0; k < n; k++ {
			for j := 0; j < n; j++ {
				want[k] += a[j] * b[((k-j)%n+n)%n]
				corr[j] += g[k] * b[((k-j)%n+n)%n]
			}
		}
		assert.InDeltaSlice(t, want, c.Convolve(a, b), 1e-5, "n=%d", n)
		assert.InDeltaSlice(t, corr, c.Correlate(g, b), 1e-5, "n=%d", n)
	}
}
