// Package tensor provides the dense float32 containers shared by the 2D layers.
package tensor

import "fmt"

// Grid is a batch of 2D feature maps.
// Layout is (height, width, batch, feature) row-major with the feature axis
// fastest: the element (y, x, b, c) lives at ((y*W+x)*B+b)*C+c.
type Grid struct {
	H, W, B, C int
	Data       []float32
}

// NewGrid allocates a zero-filled grid.
func NewGrid(h, w, b, c int) *Grid {
	if h < 0 || w < 0 || b < 0 || c < 0 {
		panic(fmt.Sprintf("tensor: negative grid shape (%d,%d,%d,%d)", h, w, b, c))
	}
	return &Grid{H: h, W: w, B: b, C: c, Data: make([]float32, h*w*b*c)}
}

// GridFrom wraps data without copying. len(data) must equal h*w*b*c.
func GridFrom(h, w, b, c int, data []float32) *Grid {
	if len(data) != h*w*b*c {
		panic(fmt.Sprintf("tensor: grid data length %d does not match shape (%d,%d,%d,%d)", len(data), h, w, b, c))
	}
	return &Grid{H: h, W: w, B: b, C: c, Data: data}
}

// Index returns the flat offset of (y, x, b, c).
func (g *Grid) Index(y, x, b, c int) int {
	return ((y*g.W+x)*g.B+b)*g.C + c
}

// At returns the element at (y, x, b, c).
func (g *Grid) At(y, x, b, c int) float32 {
	return g.Data[g.Index(y, x, b, c)]
}

// Set stores v at (y, x, b, c).
func (g *Grid) Set(y, x, b, c int, v float32) {
	g.Data[g.Index(y, x, b, c)] = v
}

// Vec returns the feature vector at (y, x, b). The slice aliases Data.
func (g *Grid) Vec(y, x, b int) []float32 {
	off := g.Index(y, x, b, 0)
	return g.Data[off : off+g.C]
}

// Shape returns (H, W, B, C).
func (g *Grid) Shape() [4]int {
	return [4]int{g.H, g.W, g.B, g.C}
}

// Len returns the number of elements.
func (g *Grid) Len() int {
	return len(g.Data)
}

// Clone returns a deep copy.
func (g *Grid) Clone() *Grid {
	out := NewGrid(g.H, g.W, g.B, g.C)
	copy(out.Data, g.Data)
	return out
}

// SameShape reports whether both grids have identical shapes.
func (g *Grid) SameShape(o *Grid) bool {
	return g.H == o.H && g.W == o.W && g.B == o.B && g.C == o.C
}

// Scale returns a new grid with every element multiplied by s.
func (g *Grid) Scale(s float32) *Grid {
	out := NewGrid(g.H, g.W, g.B, g.C)
	for i, v := range g.Data {
		out.Data[i] = v * s
	}
	return out
}

// Mul returns the element-wise product of g and o.
func (g *Grid) Mul(o *Grid) *Grid {
	if !g.SameShape(o) {
		panic(fmt.Sprintf("tensor: shape mismatch %v vs %v", g.Shape(), o.Shape()))
	}
	out := NewGrid(g.H, g.W, g.B, g.C)
	for i, v := range g.Data {
		out.Data[i] = v * o.Data[i]
	}
	return out
}

// FlipSample returns a copy of g in which, for every sample b, the region
// [0,h_b) x [0,w_b) is mirrored along the requested axes. Positions outside
// a sample's extent are zero in the result.
func (g *Grid) FlipSample(sizes Sizes, flipH, flipW bool) *Grid {
	out := NewGrid(g.H, g.W, g.B, g.C)
	for b := 0; b < g.B; b++ {
		h, w := sizes.Height(b), sizes.Width(b)
		for y := 0; y < h; y++ {
			sy := y
			if flipH {
				sy = h - 1 - y
			}
			for x := 0; x < w; x++ {
				sx := x
				if flipW {
					sx = w - 1 - x
				}
				copy(out.Vec(y, x, b), g.Vec(sy, sx, b))
			}
		}
	}
	return out
}

// ZeroOutside returns a copy of g with every position outside the per-sample
// extents set to zero.
func (g *Grid) ZeroOutside(sizes Sizes) *Grid {
	return g.FillOutside(sizes, 0)
}

// FillOutside returns a copy of g with every position outside the per-sample
// extents set to v.
func (g *Grid) FillOutside(sizes Sizes, v float32) *Grid {
	out := g.Clone()
	for y := 0; y < g.H; y++ {
		for x := 0; x < g.W; x++ {
			for b := 0; b < g.B; b++ {
				if y < sizes.Height(b) && x < sizes.Width(b) {
					continue
				}
				vec := out.Vec(y, x, b)
				for c := range vec {
					vec[c] = v
				}
			}
		}
	}
	return out
}

// Validity returns one flag per (y, x, b) row telling whether the position
// lies inside the sample's extent.
func (g *Grid) Validity(sizes Sizes) []bool {
	valid := make([]bool, g.H*g.W*g.B)
	for y := 0; y < g.H; y++ {
		for x := 0; x < g.W; x++ {
			for b := 0; b < g.B; b++ {
				valid[(y*g.W+x)*g.B+b] = y < sizes.Height(b) && x < sizes.Width(b)
			}
		}
	}
	return valid
}
