package layer

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/FlavioCFOliveira/GoNeuron2D/internal/diag"
	"github.com/FlavioCFOliveira/GoNeuron2D/internal/kernels"
	"github.com/FlavioCFOliveira/GoNeuron2D/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvPoolConfigValidation(t *testing.T) {
	cases := []ConvPoolConfig{
		{NIn: 0, NFeatures: 1, Filter: [2]int{1, 1}},
		{NIn: 1, NFeatures: 1, Filter: [2]int{0, 1}},
		{NIn: 1, NFeatures: 1, Filter: [2]int{1, 1}, PoolSize: [2]int{2, 0}},
		{NIn: 1, NFeatures: 1, Filter: [2]int{1, 1}, Activation: "swish"},
	}
	for i, cfg := range cases {
		_, err := NewConvPool(cfg)
		assert.True(t, errors.Is(err, ErrConfig), "case %d: %v", i, err)
	}
}

func TestConvPoolOutputExtents(t *testing.T) {
	l, err := NewConvPool(ConvPoolConfig{NIn: 2, NFeatures: 3, Filter: [2]int{3, 2}, PoolSize: [2]int{2, 2}})
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(1))
	sizes := tensor.NewSizes([2]int{8, 9}, [2]int{5, 4}, [2]int{7, 3})
	out, err := l.Forward(&Batch{Grid: randomGrid(rng, 8, 9, 3, 2), Sizes: sizes})
	require.NoError(t, err)

	want := tensor.NewSizes([2]int{3, 4}, [2]int{1, 1}, [2]int{2, 1})
	assert.True(t, out.Sizes.Equal(want), "got %v", out.Sizes)
	assert.True(t, out.Sizes.Fits(out.Grid.H, out.Grid.W))
	assert.True(t, out.Sizes.MinValue() >= 1)
	assert.Equal(t, [4]int{3, 4, 3, 3}, out.Grid.Shape())
	assert.Equal(t, tensor.MaskFromWidths(out.Grid.W, out.Sizes), out.Index)
	assert.Equal(t, []int{4, 1, 1}, out.Index.ColumnSums())

	for y := 0; y < out.Grid.H; y++ {
		for x := 0; x < out.Grid.W; x++ {
			for b := 0; b < 3; b++ {
				if y < out.Sizes.Height(b) && x < out.Sizes.Width(b) {
					continue
				}
				for _, v := range out.Grid.Vec(y, x, b) {
					assert.Equal(t, float32(0), v, "outside extent (%d,%d,%d)", y, x, b)
				}
			}
		}
	}
}

func TestConvPoolUnitPoolIsConvolution(t *testing.T) {
	requireFused(t)
	l, err := NewConvPool(ConvPoolConfig{NIn: 2, NFeatures: 2, Filter: [2]int{2, 2}, Activation: "linear"})
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(2))
	x := randomGrid(rng, 4, 5, 2, 2)
	sizes := tensor.NewSizes([2]int{4, 5}, [2]int{3, 3})
	out, err := l.Forward(&Batch{Grid: x, Sizes: sizes})
	require.NoError(t, err)

	conv := kernels.ConvValid(x, l.p.w, l.p.b, l.p.shape)
	want := kernels.CropToSizesZero(conv, tensor.NewSizes([2]int{3, 4}, [2]int{2, 2}))
	assert.Equal(t, want.Shape(), out.Grid.Shape())
	assert.InDeltaSlice(t, want.Data, out.Grid.Data, 1e-6)
}

func TestConvPoolPadsUndersizedBatch(t *testing.T) {
	reporter, hook := quietReporter()
	l, err := NewConvPool(ConvPoolConfig{NIn: 1, NFeatures: 2, Filter: [2]int{3, 3}, PoolSize: [2]int{2, 2}, Reporter: reporter})
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(3))
	sizes := tensor.NewSizes([2]int{2, 2}, [2]int{6, 6})
	x := randomGrid(rng, 6, 6, 2, 1)
	for i := 0; i < 2; i++ {
		out, err := l.Forward(&Batch{Grid: x, Sizes: sizes})
		require.NoError(t, err)
		assert.True(t, out.Sizes.Equal(tensor.NewSizes([2]int{1, 1}, [2]int{2, 2})), "got %v", out.Sizes)
		assert.True(t, out.Sizes.MinValue() >= 1)
		assert.True(t, out.Sizes.Fits(out.Grid.H, out.Grid.W))

		dx, err := l.Backward(make([]float32, len(out.Data())))
		require.NoError(t, err)
		assert.Len(t, dx, len(x.Data))
	}
	assert.Equal(t, 1, entriesFor(hook, diag.PadOnTheFly))
	assert.Equal(t, 2, reporter.Occurrences(diag.PadOnTheFly))
}

func TestConvPoolPaddingGrowsGrid(t *testing.T) {
	reporter, _ := quietReporter()
	l, err := NewConvPool(ConvPoolConfig{NIn: 1, NFeatures: 1, Filter: [2]int{2, 2}, PoolSize: [2]int{2, 1}, Reporter: reporter})
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(4))
	sizes := tensor.NewSizes([2]int{1, 2}, [2]int{2, 1})
	x := randomGrid(rng, 2, 2, 2, 1)
	out, err := l.Forward(&Batch{Grid: x, Sizes: sizes})
	require.NoError(t, err)

	// every extent is raised to at least (2+2-1, 1+2-1)
	assert.True(t, out.Sizes.Equal(tensor.NewSizes([2]int{1, 1}, [2]int{1, 1})), "got %v", out.Sizes)
	assert.Equal(t, [4]int{1, 1, 2, 1}, out.Grid.Shape())
	assert.True(t, reporter.Reported(diag.PadOnTheFly))

	r := randomSlice(rng, len(out.Data()))
	checkInputGradient(t, l, &Batch{Grid: x, Sizes: sizes}, x.Data, r, 1e-3, 1e-2)
}

func newConvPoolPair(t *testing.T, cfg ConvPoolConfig) (fused, composed *ConvPool, hook func() int) {
	t.Helper()
	requireFused(t)
	reporter, h := quietReporter()
	cfg.Seed = 11
	cfg.Device = NewFusedDevice()
	fused, err := NewConvPool(cfg)
	require.NoError(t, err)
	cfg.Device = &CPUDevice{}
	cfg.Reporter = reporter
	composed, err = NewConvPool(cfg)
	require.NoError(t, err)
	require.Equal(t, fused.Params(), composed.Params())
	return fused, composed, func() int { return len(h.AllEntries()) }
}

func TestConvPoolFusedMatchesComposed(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	for _, pool := range [][2]int{{1, 1}, {2, 2}, {2, 1}} {
		fused, composed, warnings := newConvPoolPair(t, ConvPoolConfig{NIn: 2, NFeatures: 3, Filter: [2]int{2, 3}, PoolSize: pool})
		_, ok := composed.path.(*composedConvPool)
		require.True(t, ok)

		x := randomGrid(rng, 6, 7, 3, 2)
		sizes := tensor.NewSizes([2]int{6, 7}, [2]int{4, 5}, [2]int{5, 4})
		in := &Batch{Grid: x, Sizes: sizes}

		a, err := fused.Forward(in)
		require.NoError(t, err)
		b, err := composed.Forward(in)
		require.NoError(t, err)
		assert.True(t, a.Sizes.Equal(b.Sizes))
		assert.Equal(t, a.Grid.Shape(), b.Grid.Shape())
		assert.InDeltaSlice(t, a.Grid.Data, b.Grid.Data, 1e-5, "pool %v", pool)
		assert.Equal(t, 1, warnings())

		r := randomSlice(rng, len(a.Data()))
		da, err := fused.Backward(r)
		require.NoError(t, err)
		db, err := composed.Backward(r)
		require.NoError(t, err)
		assert.InDeltaSlice(t, da, db, 1e-4, "pool %v", pool)
		assert.InDeltaSlice(t, fused.Gradients(), composed.Gradients(), 1e-4, "pool %v", pool)
	}
}

func TestConvPoolBackwardMatchesFiniteDifferences(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	for _, device := range []Device{NewFusedDevice(), &CPUDevice{}} {
		reporter, _ := quietReporter()
		l, err := NewConvPool(ConvPoolConfig{NIn: 2, NFeatures: 2, Filter: [2]int{2, 2}, Device: device, Reporter: reporter})
		require.NoError(t, err)
		x := randomGrid(rng, 3, 4, 2, 2)
		in := &Batch{Grid: x, Sizes: tensor.NewSizes([2]int{3, 4}, [2]int{2, 3})}
		out, err := l.Forward(in)
		require.NoError(t, err)
		checkInputGradient(t, l, in, x.Data, randomSlice(rng, len(out.Data())), 1e-2, 1e-2)
	}
}

func TestConvPoolParameterGradient(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	reporter, _ := quietReporter()
	l, err := NewConvPool(ConvPoolConfig{NIn: 1, NFeatures: 2, Filter: [2]int{2, 2}, Activation: "sigmoid", Reporter: reporter})
	require.NoError(t, err)
	x := randomGrid(rng, 3, 3, 1, 1)
	in := &Batch{Grid: x, Sizes: tensor.NewSizes([2]int{3, 3})}
	out, err := l.Forward(in)
	require.NoError(t, err)
	r := randomSlice(rng, len(out.Data()))

	l.ClearGradients()
	_, err = l.Backward(r)
	require.NoError(t, err)
	grads := l.Gradients()

	const eps = 1e-2
	params := l.Params()
	for i := range params {
		orig := params[i]
		params[i] = orig + eps
		l.SetParams(params)
		up, err := l.Forward(in)
		require.NoError(t, err)
		params[i] = orig - eps
		l.SetParams(params)
		down, err := l.Forward(in)
		require.NoError(t, err)
		params[i] = orig
		l.SetParams(params)
		assert.InDelta(t, (dot(up.Data(), r)-dot(down.Data(), r))/(2*eps), grads[i], 1e-2, "param %d", i)
	}
}

func TestConvPoolBatchNorm(t *testing.T) {
	rng := rand.New(rand.NewSource(8))
	reporter, _ := quietReporter()
	l, err := NewConvPool(ConvPoolConfig{NIn: 1, NFeatures: 2, Filter: [2]int{2, 2}, PoolSize: [2]int{1, 2}, BatchNorm: true, Reporter: reporter})
	require.NoError(t, err)
	assert.Equal(t, 2*1*2*2+2+4, len(l.Params()))

	sizes := tensor.NewSizes([2]int{4, 6}, [2]int{3, 3})
	out, err := l.Forward(&Batch{Grid: randomGrid(rng, 4, 6, 2, 1), Sizes: sizes})
	require.NoError(t, err)

	valid := out.Grid.Validity(out.Sizes)
	var sum [2]float64
	n := 0
	for row, ok := range valid {
		if !ok {
			continue
		}
		n++
		sum[0] += float64(out.Grid.Data[row*2])
		sum[1] += float64(out.Grid.Data[row*2+1])
	}
	require.Equal(t, 3*2+2*1, n)
	assert.InDelta(t, 0, sum[0]/float64(n), 1e-4)
	assert.InDelta(t, 0, sum[1]/float64(n), 1e-4)
}

func TestConvPoolToNCHWRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	g := randomGrid(rng, 2, 3, 4, 5)
	back := fromNCHW(toNCHW(g), 4, 5, 2, 3)
	assert.Equal(t, g.Data, back.Data)
	assert.Equal(t, g.At(1, 2, 3, 4), toNCHW(g)[((3*5+4)*2+1)*3+2])
}

func TestConvPoolParameterAccess(t *testing.T) {
	var _ Layer = (*ConvPool)(nil)
	rng := rand.New(rand.NewSource(12))
	reporter, _ := quietReporter()
	l, err := NewConvPool(ConvPoolConfig{NIn: 2, NFeatures: 3, Filter: [2]int{2, 2}, PoolSize: [2]int{1, 2}, BatchNorm: true, Reporter: reporter})
	require.NoError(t, err)

	// w, b, then gamma and beta
	n := 3*2*2*2 + 3 + 2*3
	params := l.Params()
	require.Len(t, params, n)
	for i := range params {
		params[i] = float32(i%5) / 10
	}
	l.SetParams(params)
	assert.Equal(t, params, l.Params())
	assert.Equal(t, params[:24], l.p.w)
	assert.Equal(t, params[24:27], l.p.b)

	out, err := l.Forward(&Batch{Grid: randomGrid(rng, 4, 5, 2, 2), Sizes: tensor.NewSizes([2]int{4, 5}, [2]int{3, 4})})
	require.NoError(t, err)
	_, err = l.Backward(randomSlice(rng, len(out.Data())))
	require.NoError(t, err)

	grads := l.Gradients()
	require.Len(t, grads, n)
	nonZero := 0
	for _, g := range grads {
		if g != 0 {
			nonZero++
		}
	}
	assert.True(t, nonZero > 0)

	l.ClearGradients()
	for _, g := range l.Gradients() {
		assert.Equal(t, float32(0), g)
	}
}

func TestConvPoolComposedReusesPrimitives(t *testing.T) {
	rng := rand.New(rand.NewSource(13))
	reporter, _ := quietReporter()
	l, err := NewConvPool(ConvPoolConfig{NIn: 1, NFeatures: 2, Filter: [2]int{2, 2}, PoolSize: [2]int{2, 2}, Device: &CPUDevice{}, Reporter: reporter})
	require.NoError(t, err)
	composed, ok := l.path.(*composedConvPool)
	require.True(t, ok)

	in := &Batch{Grid: randomGrid(rng, 5, 5, 1, 1), Sizes: tensor.NewSizes([2]int{5, 5})}
	_, err = l.Forward(in)
	require.NoError(t, err)
	conv, pool := composed.conv, composed.pool
	require.NotNil(t, conv)
	require.NotNil(t, pool)

	_, err = l.Forward(in)
	require.NoError(t, err)
	assert.True(t, conv == composed.conv)
	assert.True(t, pool == composed.pool)
}
