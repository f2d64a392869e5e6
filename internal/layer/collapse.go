package layer

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/FlavioCFOliveira/GoNeuron2D/internal/kernels"
	"github.com/FlavioCFOliveira/GoNeuron2D/internal/tensor"
)

// CollapseKind selects how the leading (height) axis of a grid is reduced.
type CollapseKind int

const (
	CollapseNone CollapseKind = iota
	CollapseSum
	CollapseMean
	CollapseConv
	CollapseFlatten
	CollapsePad
)

// CollapseMode is a parsed collapse setting. Length is the target of
// CollapsePad.
type CollapseMode struct {
	Kind   CollapseKind
	Length int
}

// ParseCollapse accepts "", "false", "true", "sum", "mean", "conv",
// "flatten" and "pad_<N>" with N >= 1.
func ParseCollapse(s string) (CollapseMode, error) {
	switch s {
	case "", "false":
		return CollapseMode{Kind: CollapseNone}, nil
	case "true", "sum":
		return CollapseMode{Kind: CollapseSum}, nil
	case "mean":
		return CollapseMode{Kind: CollapseMean}, nil
	case "conv":
		return CollapseMode{Kind: CollapseConv}, nil
	case "flatten":
		return CollapseMode{Kind: CollapseFlatten}, nil
	}
	if strings.HasPrefix(s, "pad_") {
		n, err := strconv.Atoi(strings.TrimPrefix(s, "pad_"))
		if err != nil || n < 1 {
			return CollapseMode{}, fmt.Errorf("%w: %q needs a positive length", ErrCollapse, s)
		}
		return CollapseMode{Kind: CollapsePad, Length: n}, nil
	}
	return CollapseMode{}, fmt.Errorf("%w: %q", ErrCollapse, s)
}

func (m CollapseMode) String() string {
	switch m.Kind {
	case CollapseSum:
		return "sum"
	case CollapseMean:
		return "mean"
	case CollapseConv:
		return "conv"
	case CollapseFlatten:
		return "flatten"
	case CollapsePad:
		return fmt.Sprintf("pad_%d", m.Length)
	}
	return "false"
}

// Enabled reports whether the mode changes the output.
func (m CollapseMode) Enabled() bool {
	return m.Kind != CollapseNone
}

// Features returns the output feature count for an input of n features.
func (m CollapseMode) Features(n int) int {
	if m.Kind == CollapsePad {
		return n * m.Length
	}
	return n
}

// Collapse reduces a grid to a sequence along its leading axis. The
// resulting index marks the first width_b positions of every sample, except
// for flatten, which marks every position valid.
type Collapse struct {
	mode CollapseMode
	nIn  int

	// Saved for the backward pass
	inShape [4]int
	input   *tensor.Grid
	folds   [][]float32 // conv: running value before each step, per (x, b)
}

// NewCollapse creates a collapse of grids with nIn features.
func NewCollapse(nIn int, mode CollapseMode) *Collapse {
	return &Collapse{mode: mode, nIn: nIn}
}

// Mode returns the configured mode.
func (c *Collapse) Mode() CollapseMode { return c.mode }

// Forward collapses in.Grid. With CollapseNone the batch is passed through.
func (c *Collapse) Forward(in *Batch) (*Batch, error) {
	y, err := gridInput(in, c.nIn)
	if err != nil {
		return nil, err
	}
	c.inShape = y.Shape()
	if !c.mode.Enabled() {
		return &Batch{Grid: y, Sizes: in.Sizes, Index: tensor.MaskFromWidths(y.W, in.Sizes)}, nil
	}
	seq := c.collapse(y)
	index := tensor.MaskFromWidths(y.W, in.Sizes)
	if c.mode.Kind == CollapseFlatten {
		index = tensor.OnesMask(seq.T, seq.B)
	}
	return &Batch{Seq: seq, Sizes: in.Sizes, Index: index}, nil
}

func (c *Collapse) collapse(y *tensor.Grid) *tensor.Sequence {
	switch c.mode.Kind {
	case CollapseSum, CollapseMean:
		out := tensor.NewSequence(y.W, y.B, y.C)
		for h := 0; h < y.H; h++ {
			off := h * len(out.Data)
			for i := range out.Data {
				out.Data[i] += y.Data[off+i]
			}
		}
		if c.mode.Kind == CollapseMean && y.H > 0 {
			inv := 1 / float32(y.H)
			for i := range out.Data {
				out.Data[i] *= inv
			}
		}
		return out
	case CollapseConv:
		return c.convFold(y)
	case CollapseFlatten:
		data := make([]float32, len(y.Data))
		copy(data, y.Data)
		return tensor.SequenceFrom(y.H*y.W, y.B, y.C, data)
	case CollapsePad:
		n := c.mode.Length
		out := tensor.NewSequence(y.W, y.B, y.C*n)
		rows := y.H
		if rows > n {
			rows = n
		}
		for h := 0; h < rows; h++ {
			for x := 0; x < y.W; x++ {
				for b := 0; b < y.B; b++ {
					src := y.Vec(h, x, b)
					dst := out.Vec(x, b)
					for f, v := range src {
						dst[f*n+h] = v
					}
				}
			}
		}
		return out
	}
	panic(fmt.Sprintf("layer: collapse mode %v", c.mode))
}

// convFold folds the leading axis with circular convolution over the
// features, seeded with the first slice: acc = y[0]; acc = acc (*) y[h].
func (c *Collapse) convFold(y *tensor.Grid) *tensor.Sequence {
	out := tensor.NewSequence(y.W, y.B, y.C)
	c.input = y
	c.folds = make([][]float32, y.W*y.B*y.H)
	if y.H == 0 {
		return out
	}
	circ := kernels.NewCircular(y.C)
	for x := 0; x < y.W; x++ {
		for b := 0; b < y.B; b++ {
			acc := append([]float32(nil), y.Vec(0, x, b)...)
			for h := 0; h < y.H; h++ {
				c.folds[(x*y.B+b)*y.H+h] = acc
				acc = circ.Convolve(acc, y.Vec(h, x, b))
			}
			copy(out.Vec(x, b), acc)
		}
	}
	return out
}

// Backward maps the gradient of the collapsed output back onto the grid.
func (c *Collapse) Backward(grad []float32) ([]float32, error) {
	h, w, b, f := c.inShape[0], c.inShape[1], c.inShape[2], c.inShape[3]
	dy := tensor.NewGrid(h, w, b, f)
	switch c.mode.Kind {
	case CollapseNone, CollapseFlatten:
		if len(grad) != len(dy.Data) {
			return nil, fmt.Errorf("%w: gradient length %d, want %d", ErrShape, len(grad), len(dy.Data))
		}
		copy(dy.Data, grad)
	case CollapseSum, CollapseMean:
		plane := w * b * f
		if len(grad) != plane {
			return nil, fmt.Errorf("%w: gradient length %d, want %d", ErrShape, len(grad), plane)
		}
		scale := float32(1)
		if c.mode.Kind == CollapseMean {
			scale = 1 / float32(h)
		}
		for y := 0; y < h; y++ {
			for i, g := range grad {
				dy.Data[y*plane+i] = g * scale
			}
		}
	case CollapseConv:
		if len(grad) != w*b*f {
			return nil, fmt.Errorf("%w: gradient length %d, want %d", ErrShape, len(grad), w*b*f)
		}
		if c.folds == nil {
			return nil, ErrNoForward
		}
		circ := kernels.NewCircular(f)
		for x := 0; x < w; x++ {
			for s := 0; s < b; s++ {
				g := append([]float32(nil), grad[(x*b+s)*f:(x*b+s+1)*f]...)
				for y := h - 1; y >= 0; y-- {
					acc := c.folds[(x*b+s)*h+y]
					dv := circ.Correlate(g, acc)
					dst := dy.Vec(y, x, s)
					for i := range dst {
						dst[i] += dv[i]
					}
					g = circ.Correlate(g, c.input.Vec(y, x, s))
				}
				// g is now the gradient of the seed y[0]
				dst := dy.Vec(0, x, s)
				for i := range dst {
					dst[i] += g[i]
				}
			}
		}
	case CollapsePad:
		n := c.mode.Length
		if len(grad) != w*b*f*n {
			return nil, fmt.Errorf("%w: gradient length %d, want %d", ErrShape, len(grad), w*b*f*n)
		}
		rows := h
		if rows > n {
			rows = n
		}
		for y := 0; y < rows; y++ {
			for x := 0; x < w; x++ {
				for s := 0; s < b; s++ {
					src := grad[(x*b+s)*f*n : (x*b+s+1)*f*n]
					dst := dy.Vec(y, x, s)
					for i := range dst {
						dst[i] = src[i*n+y]
					}
				}
			}
		}
	}
	return dy.Data, nil
}

func (c *Collapse) Params() []float32 { return nil }
func (c *Collapse) SetParams([]float32) {}
func (c *Collapse) Gradients() []float32 { return nil }
func (c *Collapse) ClearGradients() {}
func (c *Collapse) NOut() int { return c.mode.Features(c.nIn) }
