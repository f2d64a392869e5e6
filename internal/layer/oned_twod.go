package layer

import (
	"fmt"

	"github.com/FlavioCFOliveira/GoNeuron2D/internal/kernels"
	"github.com/FlavioCFOliveira/GoNeuron2D/internal/tensor"
)

// OneDToTwoD lays a sequence out as a grid using per-sample extents read
// from a side channel. The side channel holds all heights followed by all
// widths: flattened row-major, entry b is the height of sample b and entry
// B+b its width.
type OneDToTwoD struct {
	nIn int
	bn  *BatchNorm

	steps int
	sizes tensor.Sizes
	grid  [4]int
	ran   bool
}

// NewOneDToTwoD creates the transform for sequences of nIn features.
func NewOneDToTwoD(nIn int, batchNorm bool) (*OneDToTwoD, error) {
	if nIn <= 0 {
		return nil, fmt.Errorf("%w: 1D to 2D needs positive NIn, got %d", ErrConfig, nIn)
	}
	l := &OneDToTwoD{nIn: nIn}
	if batchNorm {
		l.bn = NewBatchNorm(nIn)
	}
	return l, nil
}

// UnpackSizes converts the packed side channel into an extent record.
func UnpackSizes(side *tensor.Matrix) (tensor.Sizes, error) {
	n := side.Len()
	if n%2 != 0 {
		return tensor.Sizes{}, fmt.Errorf("%w: side channel has odd element count %d", ErrShape, n)
	}
	half := n / 2
	flat := make([]float32, n)
	for b := 0; b < half; b++ {
		flat[2*b] = side.Data[b]
		flat[2*b+1] = side.Data[half+b]
	}
	sizes, err := tensor.SizesFromFloats(flat)
	if err != nil {
		return tensor.Sizes{}, fmt.Errorf("%w: %v", ErrShape, err)
	}
	return sizes, nil
}

// Forward reads in.Seq and in.Side. The grid is allocated at the largest
// extent and sample b's first h_b*w_b steps fill it column by column.
func (l *OneDToTwoD) Forward(in *Batch) (*Batch, error) {
	if in == nil || in.Seq == nil {
		return nil, fmt.Errorf("%w: expected a (time, batch, feature) sequence", ErrRank)
	}
	if in.Side == nil {
		return nil, fmt.Errorf("%w: 1D to 2D needs a sizes side channel", ErrSources)
	}
	seq := in.Seq
	if seq.F != l.nIn {
		return nil, fmt.Errorf("%w: sequence has %d features, layer expects %d", ErrShape, seq.F, l.nIn)
	}
	sizes, err := UnpackSizes(in.Side)
	if err != nil {
		return nil, err
	}
	if sizes.Batch() != seq.B {
		return nil, fmt.Errorf("%w: side channel describes %d samples, sequence has %d", ErrShape, sizes.Batch(), seq.B)
	}

	g := kernels.SeqToGrid(seq, sizes)
	if l.bn != nil {
		g = tensor.GridFrom(g.H, g.W, g.B, g.C, l.bn.Forward(g.Data, g.Validity(sizes)))
	}
	l.steps, l.sizes, l.grid, l.ran = seq.T, sizes, g.Shape(), true
	return &Batch{Grid: g, Sizes: sizes, Index: tensor.MaskFromWidths(g.W, sizes)}, nil
}

// Backward gathers the grid gradient back onto the sequence steps.
func (l *OneDToTwoD) Backward(grad []float32) ([]float32, error) {
	if !l.ran {
		return nil, ErrNoForward
	}
	if l.bn != nil {
		grad = l.bn.Backward(grad)
	}
	dy := tensor.GridFrom(l.grid[0], l.grid[1], l.grid[2], l.grid[3], grad)
	return kernels.SeqToGridBackward(dy, l.steps, l.sizes).Data, nil
}

func (l *OneDToTwoD) Params() []float32 {
	if l.bn == nil {
		return nil
	}
	return concatParams(l.bn.Params())
}

func (l *OneDToTwoD) SetParams(params []float32) {
	if l.bn != nil {
		l.bn.SetParams(params)
	}
}

func (l *OneDToTwoD) Gradients() []float32 {
	if l.bn == nil {
		return nil
	}
	return concatParams(l.bn.Gradients())
}

func (l *OneDToTwoD) ClearGradients() {
	if l.bn != nil {
		l.bn.ClearGradients()
	}
}

// NOut equals the sequence feature count.
func (l *OneDToTwoD) NOut() int { return l.nIn }

// OneDToTwoDFixedSize reinterprets a (time, batch, feature) sequence as a
// grid of height F and width T with a single channel. Every sample has
// height F and width max(valid steps, 1). NOut is 1 regardless of the input.
// The height axis is the feature axis, not time.
type OneDToTwoDFixedSize struct {
	seqShape [3]int
	ran      bool
}

// NewOneDToTwoDFixedSize creates the transform.
func NewOneDToTwoDFixedSize() *OneDToTwoDFixedSize {
	return &OneDToTwoDFixedSize{}
}

// Forward reads in.Seq and its index.
func (l *OneDToTwoDFixedSize) Forward(in *Batch) (*Batch, error) {
	seq, err := seqInput(in)
	if err != nil {
		return nil, err
	}
	widths := in.Index.ColumnSums()
	pairs := make([][2]int, seq.B)
	for b, w := range widths {
		if w < 1 {
			w = 1
		}
		pairs[b] = [2]int{seq.F, w}
	}
	sizes := tensor.NewSizes(pairs...)

	g := tensor.NewGrid(seq.F, seq.T, seq.B, 1)
	for t := 0; t < seq.T; t++ {
		for b := 0; b < seq.B; b++ {
			for f, v := range seq.Vec(t, b) {
				g.Set(f, t, b, 0, v)
			}
		}
	}
	l.seqShape, l.ran = seq.Shape(), true
	return &Batch{Grid: g, Sizes: sizes, Index: tensor.MaskFromWidths(g.W, sizes)}, nil
}

// Backward transposes the gradient back to (time, batch, feature).
func (l *OneDToTwoDFixedSize) Backward(grad []float32) ([]float32, error) {
	if !l.ran {
		return nil, ErrNoForward
	}
	t, b, f := l.seqShape[0], l.seqShape[1], l.seqShape[2]
	if len(grad) != t*b*f {
		return nil, fmt.Errorf("%w: gradient length %d, want %d", ErrShape, len(grad), t*b*f)
	}
	dy := tensor.GridFrom(f, t, b, 1, grad)
	dx := tensor.NewSequence(t, b, f)
	for ti := 0; ti < t; ti++ {
		for bi := 0; bi < b; bi++ {
			for fi := 0; fi < f; fi++ {
				dx.Set(ti, bi, fi, dy.At(fi, ti, bi, 0))
			}
		}
	}
	return dx.Data, nil
}

func (l *OneDToTwoDFixedSize) Params() []float32 { return nil }
func (l *OneDToTwoDFixedSize) SetParams([]float32) {}
func (l *OneDToTwoDFixedSize) Gradients() []float32 { return nil }
func (l *OneDToTwoDFixedSize) ClearGradients() {}
func (l *OneDToTwoDFixedSize) NOut() int { return 1 }
