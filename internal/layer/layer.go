// Package layer provides the layers of a 2D recurrent pipeline over ragged
// batches: layout transforms, the multi-directional 2D-LSTM, convolution
// with crop and pooling, fractional pooling and output collapse.
package layer

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/FlavioCFOliveira/GoNeuron2D/internal/tensor"
)

// Layer is a differentiable stage. Backward takes the gradient with respect
// to the flat data of the last output and returns the gradient with respect
// to the flat data of the last input.
type Layer interface {
	Forward(in *Batch) (*Batch, error)
	Backward(grad []float32) ([]float32, error)
	Params() []float32
	SetParams([]float32)
	Gradients() []float32
	ClearGradients()
	NOut() int
}

// Batch is the value passed between layers. 2D producers fill Grid and
// Sizes, 1D producers fill Seq and Index. Side carries the packed extents
// consumed by OneDToTwoD and Extra any additional sequence sources.
type Batch struct {
	Grid  *tensor.Grid
	Seq   *tensor.Sequence
	Extra []*tensor.Sequence
	Sizes tensor.Sizes
	Index *tensor.Mask
	Side  *tensor.Matrix
}

// Data returns the flat values of the primary tensor.
func (b *Batch) Data() []float32 {
	if b.Grid != nil {
		return b.Grid.Data
	}
	if b.Seq != nil {
		return b.Seq.Data
	}
	return nil
}

// gridInput checks that in carries a grid with the given feature count and
// extents matching its batch.
func gridInput(in *Batch, features int) (*tensor.Grid, error) {
	if in == nil || in.Grid == nil {
		return nil, fmt.Errorf("%w: expected a (height, width, batch, feature) grid", ErrRank)
	}
	g := in.Grid
	if g.C != features {
		return nil, fmt.Errorf("%w: grid has %d features, layer expects %d", ErrShape, g.C, features)
	}
	if in.Sizes.Batch() != g.B {
		return nil, fmt.Errorf("%w: %d extents for batch of %d", ErrShape, in.Sizes.Batch(), g.B)
	}
	if !in.Sizes.Fits(g.H, g.W) {
		return nil, fmt.Errorf("%w: extents %v exceed grid %dx%d", ErrShape, in.Sizes, g.H, g.W)
	}
	return g, nil
}

// seqInput checks that in carries a sequence with a matching index.
func seqInput(in *Batch) (*tensor.Sequence, error) {
	if in == nil || in.Seq == nil {
		return nil, fmt.Errorf("%w: expected a (time, batch, feature) sequence", ErrRank)
	}
	if in.Index == nil {
		return nil, fmt.Errorf("%w: sequence source has no index", ErrSources)
	}
	if err := in.Index.CheckShape(in.Seq.T, in.Seq.B); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrShape, err)
	}
	return in.Seq, nil
}

// defaultSeed derives a layer-specific seed from its dimensions so that
// layers of different shape start from different weights.
func defaultSeed(seed int64, in, out int) int64 {
	if seed != 0 {
		return seed
	}
	return int64(in*1000 + out*100 + 142)
}

// xavier fills a rows x cols matrix with uniform values in
// [-sqrt(6/(rows+cols)), sqrt(6/(rows+cols))].
func xavier(rng *rand.Rand, w []float32, rows, cols int) {
	scale := float32(math.Sqrt(6) / math.Sqrt(float64(rows+cols)))
	for i := range w {
		w[i] = rng.Float32()*2*scale - scale
	}
}

// concatParams copies the given blocks into one flat slice.
func concatParams(blocks ...[]float32) []float32 {
	total := 0
	for _, b := range blocks {
		total += len(b)
	}
	out := make([]float32, 0, total)
	for _, b := range blocks {
		out = append(out, b...)
	}
	return out
}

// splitParams copies src into the given blocks in order.
func splitParams(src []float32, blocks ...[]float32) {
	off := 0
	for _, b := range blocks {
		off += copy(b, src[off:])
	}
}

func clear32(blocks ...[]float32) {
	for _, b := range blocks {
		for i := range b {
			b[i] = 0
		}
	}
}
