package kernels

import (
	"fmt"

	"github.com/FlavioCFOliveira/GoNeuron2D/internal/tensor"
)

// SeqToGrid lays out the first h_b*w_b steps of every sample into a grid of
// (max height, max width). Steps fill a sample column by column: step t goes
// to y = t mod h_b, x = t div h_b. Steps past the sequence end stay zero.
func SeqToGrid(x *tensor.Sequence, sizes tensor.Sizes) *tensor.Grid {
	if sizes.Batch() != x.B {
		panic(fmt.Sprintf("kernels: %d extents for batch of %d", sizes.Batch(), x.B))
	}
	maxH, maxW := sizes.Max()
	out := tensor.NewGrid(maxH, maxW, x.B, x.F)
	for b := 0; b < x.B; b++ {
		h, w := sizes.Height(b), sizes.Width(b)
		n := h * w
		if n > x.T {
			n = x.T
		}
		for t := 0; t < n; t++ {
			copy(out.Vec(t%h, t/h, b), x.Vec(t, b))
		}
	}
	return out
}

// SeqToGridBackward scatters the gradient of a SeqToGrid output back onto a
// sequence of length steps.
func SeqToGridBackward(dy *tensor.Grid, steps int, sizes tensor.Sizes) *tensor.Sequence {
	dx := tensor.NewSequence(steps, dy.B, dy.C)
	for b := 0; b < dy.B; b++ {
		h, w := sizes.Height(b), sizes.Width(b)
		n := h * w
		if n > steps {
			n = steps
		}
		for t := 0; t < n; t++ {
			copy(dx.Vec(t, b), dy.Vec(t%h, t/h, b))
		}
	}
	return dx
}
