package kernels

import (
	"fmt"

	"github.com/FlavioCFOliveira/GoNeuron2D/internal/tensor"
)

// ConvShape describes a filter bank laid out as (out, in, height, width).
type ConvShape struct {
	Out, In, FH, FW int
}

// Size returns the number of filter weights.
func (s ConvShape) Size() int {
	return s.Out * s.In * s.FH * s.FW
}

// OutputDims returns the valid-mode output spatial size for an h x w input.
// Non-positive inputs yield zero.
func (s ConvShape) OutputDims(h, w int) (int, int) {
	oh, ow := h-s.FH+1, w-s.FW+1
	if oh < 0 {
		oh = 0
	}
	if ow < 0 {
		ow = 0
	}
	return oh, ow
}

// im2col gathers every (fh x fw x in) patch of x into one row. Rows follow
// the grid's (y, x, b) order so a gemm result is directly grid data.
func im2col(x *tensor.Grid, s ConvShape, oh, ow int) []float32 {
	k := s.FH * s.FW * s.In
	cols := make([]float32, oh*ow*x.B*k)
	row := 0
	for y := 0; y < oh; y++ {
		for xx := 0; xx < ow; xx++ {
			for b := 0; b < x.B; b++ {
				dst := cols[row*k : (row+1)*k]
				off := 0
				for ky := 0; ky < s.FH; ky++ {
					for kx := 0; kx < s.FW; kx++ {
						off += copy(dst[off:off+s.In], x.Vec(y+ky, xx+kx, b))
					}
				}
				row++
			}
		}
	}
	return cols
}

// col2im is the adjoint of im2col: it accumulates patch rows back into a grid.
func col2im(cols []float32, h, w, batch int, s ConvShape, oh, ow int) *tensor.Grid {
	k := s.FH * s.FW * s.In
	dx := tensor.NewGrid(h, w, batch, s.In)
	row := 0
	for y := 0; y < oh; y++ {
		for xx := 0; xx < ow; xx++ {
			for b := 0; b < batch; b++ {
				src := cols[row*k : (row+1)*k]
				off := 0
				for ky := 0; ky < s.FH; ky++ {
					for kx := 0; kx < s.FW; kx++ {
						dst := dx.Vec(y+ky, xx+kx, b)
						for c := range dst {
							dst[c] += src[off+c]
						}
						off += s.In
					}
				}
				row++
			}
		}
	}
	return dx
}

// filterMatrix reorders (out, in, fh, fw) weights into a (fh*fw*in) x out
// matrix matching the im2col patch order.
func filterMatrix(w []float32, s ConvShape) []float32 {
	m := make([]float32, s.Size())
	for o := 0; o < s.Out; o++ {
		for c := 0; c < s.In; c++ {
			for ky := 0; ky < s.FH; ky++ {
				for kx := 0; kx < s.FW; kx++ {
					row := (ky*s.FW+kx)*s.In + c
					m[row*s.Out+o] = w[((o*s.In+c)*s.FH+ky)*s.FW+kx]
				}
			}
		}
	}
	return m
}

func checkConv(x *tensor.Grid, w []float32, s ConvShape) {
	if x.C != s.In {
		panic(fmt.Sprintf("kernels: conv input has %d channels, filters expect %d", x.C, s.In))
	}
	if len(w) != s.Size() {
		panic(fmt.Sprintf("kernels: conv weights length %d, want %d", len(w), s.Size()))
	}
}

// ConvValid computes a valid-mode 2D convolution of x with filters w and adds
// bias (nil for none). The output is (h-fh+1, w-fw+1, B, out).
func ConvValid(x *tensor.Grid, w, bias []float32, s ConvShape) *tensor.Grid {
	checkConv(x, w, s)
	oh, ow := s.OutputDims(x.H, x.W)
	out := tensor.NewGrid(oh, ow, x.B, s.Out)
	rows := oh * ow * x.B
	if rows == 0 {
		return out
	}
	if bias != nil {
		for r := 0; r < rows; r++ {
			copy(out.Data[r*s.Out:(r+1)*s.Out], bias)
		}
	}
	cols := im2col(x, s, oh, ow)
	gemm(false, false, rows, s.Out, s.FH*s.FW*s.In, cols, filterMatrix(w, s), 1, out.Data)
	return out
}

// ConvValidBackward returns the gradients of ConvValid with respect to its
// input, filters and bias given the output gradient dy.
func ConvValidBackward(x *tensor.Grid, w []float32, s ConvShape, dy *tensor.Grid) (*tensor.Grid, []float32, []float32) {
	checkConv(x, w, s)
	oh, ow := s.OutputDims(x.H, x.W)
	if dy.H != oh || dy.W != ow || dy.B != x.B || dy.C != s.Out {
		panic(fmt.Sprintf("kernels: conv gradient shape %v, want (%d,%d,%d,%d)", dy.Shape(), oh, ow, x.B, s.Out))
	}
	k := s.FH * s.FW * s.In
	rows := oh * ow * x.B
	db := make([]float32, s.Out)
	dw := make([]float32, s.Size())
	if rows == 0 {
		return tensor.NewGrid(x.H, x.W, x.B, x.C), dw, db
	}
	for r := 0; r < rows; r++ {
		for o := 0; o < s.Out; o++ {
			db[o] += dy.Data[r*s.Out+o]
		}
	}

	cols := im2col(x, s, oh, ow)
	dwm := make([]float32, k*s.Out)
	gemm(true, false, k, s.Out, rows, cols, dy.Data, 0, dwm)
	for o := 0; o < s.Out; o++ {
		for c := 0; c < s.In; c++ {
			for ky := 0; ky < s.FH; ky++ {
				for kx := 0; kx < s.FW; kx++ {
					row := (ky*s.FW+kx)*s.In + c
					dw[((o*s.In+c)*s.FH+ky)*s.FW+kx] = dwm[row*s.Out+o]
				}
			}
		}
	}

	dcols := make([]float32, rows*k)
	gemm(false, true, rows, k, s.Out, dy.Data, filterMatrix(w, s), 0, dcols)
	return col2im(dcols, x.H, x.W, x.B, s, oh, ow), dw, db
}
