package layer

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/FlavioCFOliveira/GoNeuron2D/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCollapse(t *testing.T) {
	valid := map[string]CollapseMode{
		"":        {Kind: CollapseNone},
		"false":   {Kind: CollapseNone},
		"true":    {Kind: CollapseSum},
		"sum":     {Kind: CollapseSum},
		"mean":    {Kind: CollapseMean},
		"conv":    {Kind: CollapseConv},
		"flatten": {Kind: CollapseFlatten},
		"pad_1":   {Kind: CollapsePad, Length: 1},
		"pad_12":  {Kind: CollapsePad, Length: 12},
	}
	for s, want := range valid {
		got, err := ParseCollapse(s)
		require.NoError(t, err, s)
		assert.Equal(t, want, got, s)
	}

	for _, s := range []string{"max", "pad_", "pad_0", "pad_-2", "pad_x", "Sum"} {
		_, err := ParseCollapse(s)
		assert.True(t, errors.Is(err, ErrCollapse), "%q: %v", s, err)
	}

	assert.Equal(t, "pad_3", CollapseMode{Kind: CollapsePad, Length: 3}.String())
	assert.Equal(t, "false", CollapseMode{}.String())
	assert.False(t, CollapseMode{}.Enabled())
	assert.Equal(t, 12, CollapseMode{Kind: CollapsePad, Length: 4}.Features(3))
	assert.Equal(t, 3, CollapseMode{Kind: CollapseMean}.Features(3))
}

// collapseGrid builds a 2x3 grid of one sample with two features where
// element (y, x, 0, c) is 100*y + 10*x + c.
func collapseGrid() (*tensor.Grid, tensor.Sizes) {
	g := tensor.NewGrid(2, 3, 1, 2)
	for y := 0; y < 2; y++ {
		for x := 0; x < 3; x++ {
			for c := 0; c < 2; c++ {
				g.Set(y, x, 0, c, float32(100*y+10*x+c))
			}
		}
	}
	return g, tensor.NewSizes([2]int{2, 2})
}

func forwardCollapse(t *testing.T, mode string) *Batch {
	m, err := ParseCollapse(mode)
	require.NoError(t, err)
	g, sizes := collapseGrid()
	out, err := NewCollapse(2, m).Forward(&Batch{Grid: g, Sizes: sizes})
	require.NoError(t, err)
	return out
}

func TestCollapseNonePassesGridThrough(t *testing.T) {
	out := forwardCollapse(t, "")
	g, _ := collapseGrid()
	require.NotNil(t, out.Grid)
	assert.Nil(t, out.Seq)
	assert.Equal(t, g.Data, out.Grid.Data)
	assert.Equal(t, []int{2}, out.Index.ColumnSums())
}

func TestCollapseSumAndMean(t *testing.T) {
	sum := forwardCollapse(t, "sum")
	require.NotNil(t, sum.Seq)
	assert.Equal(t, [3]int{3, 1, 2}, sum.Seq.Shape())
	assert.Equal(t, float32(100+2*10), sum.Seq.At(1, 0, 0))
	assert.Equal(t, float32(100+2*20+2), sum.Seq.At(2, 0, 1))
	assert.Equal(t, []int{2}, sum.Index.ColumnSums())
	assert.True(t, sum.Index.Valid(1, 0))
	assert.False(t, sum.Index.Valid(2, 0))

	mean := forwardCollapse(t, "mean")
	assert.Equal(t, float32(60), mean.Seq.At(1, 0, 0))
}

func TestCollapseFlatten(t *testing.T) {
	out := forwardCollapse(t, "flatten")
	assert.Equal(t, [3]int{6, 1, 2}, out.Seq.Shape())
	assert.Equal(t, float32(110), out.Seq.At(4, 0, 0), "position y*W+x")
	assert.Equal(t, []int{6}, out.Index.ColumnSums())
}

func TestCollapsePadFoldsRowsIntoFeatures(t *testing.T) {
	out := forwardCollapse(t, "pad_3")
	assert.Equal(t, [3]int{3, 1, 6}, out.Seq.Shape())
	// feature c of row n lands at c*3+n; row 2 is padding
	assert.Equal(t, []float32{20, 120, 0, 21, 121, 0}, out.Seq.Vec(2, 0))

	out = forwardCollapse(t, "pad_1")
	assert.Equal(t, [3]int{3, 1, 2}, out.Seq.Shape())
	assert.Equal(t, []float32{10, 11}, out.Seq.Vec(1, 0), "extra rows are truncated")
}

func TestCollapseConvSingleFeature(t *testing.T) {
	g := tensor.NewGrid(3, 1, 1, 1)
	g.Data = []float32{2, 3, 5}
	out, err := NewCollapse(1, CollapseMode{Kind: CollapseConv}).Forward(&Batch{Grid: g, Sizes: tensor.NewSizes([2]int{3, 1})})
	require.NoError(t, err)
	// seed 2, then 2*2, 4*3, 12*5
	assert.InDelta(t, 60, out.Seq.At(0, 0, 0), 1e-4)
}

func TestCollapseLinearModesAreAdjoint(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, mode := range []string{"", "sum", "mean", "flatten", "pad_2", "pad_5"} {
		m, err := ParseCollapse(mode)
		require.NoError(t, err)
		c := NewCollapse(3, m)
		x := randomGrid(rng, 4, 3, 2, 3)
		out, err := c.Forward(&Batch{Grid: x, Sizes: tensor.NewSizes([2]int{4, 3}, [2]int{2, 1})})
		require.NoError(t, err)
		r := randomSlice(rng, len(out.Data()))
		dx, err := c.Backward(r)
		require.NoError(t, err)
		assert.InDelta(t, dot(out.Data(), r), dot(x.Data, dx), 1e-3, mode)
	}
}

func TestCollapseConvBackwardMatchesFiniteDifferences(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	for _, features := range []int{1, 3, 4} {
		c := NewCollapse(features, CollapseMode{Kind: CollapseConv})
		x := randomGrid(rng, 3, 2, 2, features)
		in := &Batch{Grid: x, Sizes: tensor.NewSizes([2]int{3, 2}, [2]int{3, 1})}
		out, err := c.Forward(in)
		require.NoError(t, err)
		checkInputGradient(t, c, in, x.Data, randomSlice(rng, len(out.Data())), 1e-2, 1e-2)
	}
}

func TestCollapseBackwardChecksLength(t *testing.T) {
	c := NewCollapse(2, CollapseMode{Kind: CollapseSum})
	g, sizes := collapseGrid()
	_, err := c.Forward(&Batch{Grid: g, Sizes: sizes})
	require.NoError(t, err)
	_, err = c.Backward(make([]float32, 5))
	assert.True(t, errors.Is(err, ErrShape))
}
