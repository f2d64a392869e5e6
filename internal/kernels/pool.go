package kernels

import (
	"fmt"

	"github.com/FlavioCFOliveira/GoNeuron2D/internal/tensor"
)

// Pooled is the result of a max-pooling kernel. Argmax holds, for every
// output element, the flat input offset that produced it.
type Pooled struct {
	Out    *tensor.Grid
	Argmax []int
}

// MaxPool applies non-overlapping ph x pw max-pooling. Trailing rows and
// columns that do not fill a whole window are dropped.
func MaxPool(x *tensor.Grid, ph, pw int) Pooled {
	if ph < 1 || pw < 1 {
		panic(fmt.Sprintf("kernels: invalid pool window %dx%d", ph, pw))
	}
	oh, ow := x.H/ph, x.W/pw
	out := tensor.NewGrid(oh, ow, x.B, x.C)
	argmax := make([]int, out.Len())
	for y := 0; y < oh; y++ {
		for xx := 0; xx < ow; xx++ {
			for b := 0; b < x.B; b++ {
				for c := 0; c < x.C; c++ {
					best := x.Index(y*ph, xx*pw, b, c)
					for ky := 0; ky < ph; ky++ {
						for kx := 0; kx < pw; kx++ {
							idx := x.Index(y*ph+ky, xx*pw+kx, b, c)
							if x.Data[idx] > x.Data[best] {
								best = idx
							}
						}
					}
					pos := out.Index(y, xx, b, c)
					out.Data[pos] = x.Data[best]
					argmax[pos] = best
				}
			}
		}
	}
	return Pooled{Out: out, Argmax: argmax}
}

// MaxPoolBackward routes dy to the positions recorded in argmax.
func MaxPoolBackward(dy *tensor.Grid, argmax []int, h, w int) *tensor.Grid {
	dx := tensor.NewGrid(h, w, dy.B, dy.C)
	for pos, g := range dy.Data {
		if idx := argmax[pos]; idx >= 0 {
			dx.Data[idx] += g
		}
	}
	return dx
}
