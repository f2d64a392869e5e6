package tensor

import "fmt"

// Sizes is the per-sample extent record: a (batch x 2) table of
// (height, width) pairs. Values are stored as float32 but always hold
// non-negative integers. A Sizes value is never modified after creation.
type Sizes struct {
	data []float32
}

// NewSizes builds an extent record from (height, width) pairs.
func NewSizes(pairs ...[2]int) Sizes {
	data := make([]float32, 2*len(pairs))
	for i, p := range pairs {
		if p[0] < 0 || p[1] < 0 {
			panic(fmt.Sprintf("tensor: negative extent %v for sample %d", p, i))
		}
		data[2*i] = float32(p[0])
		data[2*i+1] = float32(p[1])
	}
	return Sizes{data: data}
}

// SizesFromFloats builds an extent record from a flat [h0, w0, h1, w1, ...]
// slice. Fractional values are truncated.
func SizesFromFloats(flat []float32) (Sizes, error) {
	if len(flat)%2 != 0 {
		return Sizes{}, fmt.Errorf("tensor: extent table has odd length %d", len(flat))
	}
	data := make([]float32, len(flat))
	for i, v := range flat {
		if v < 0 {
			return Sizes{}, fmt.Errorf("tensor: negative extent %v at %d", v, i)
		}
		data[i] = float32(int(v))
	}
	return Sizes{data: data}, nil
}

// Batch returns the number of samples.
func (s Sizes) Batch() int {
	return len(s.data) / 2
}

// Height returns the valid height of sample b.
func (s Sizes) Height(b int) int {
	return int(s.data[2*b])
}

// Width returns the valid width of sample b.
func (s Sizes) Width(b int) int {
	return int(s.data[2*b+1])
}

// Pair returns (height, width) of sample b.
func (s Sizes) Pair(b int) [2]int {
	return [2]int{s.Height(b), s.Width(b)}
}

// Floats returns a copy of the flat table.
func (s Sizes) Floats() []float32 {
	out := make([]float32, len(s.data))
	copy(out, s.data)
	return out
}

// Widths returns the width column as ints.
func (s Sizes) Widths() []int {
	out := make([]int, s.Batch())
	for b := range out {
		out[b] = s.Width(b)
	}
	return out
}

// Max returns the largest height and the largest width in the batch.
func (s Sizes) Max() (int, int) {
	mh, mw := 0, 0
	for b := 0; b < s.Batch(); b++ {
		if h := s.Height(b); h > mh {
			mh = h
		}
		if w := s.Width(b); w > mw {
			mw = w
		}
	}
	return mh, mw
}

// MinValue returns the smallest entry across both columns. An empty record
// returns 0.
func (s Sizes) MinValue() int {
	if len(s.data) == 0 {
		return 0
	}
	m := int(s.data[0])
	for _, v := range s.data[1:] {
		if int(v) < m {
			m = int(v)
		}
	}
	return m
}

// Map returns a new record with fn applied to every (height, width) pair.
// Negative results are kept as-is so callers can detect degenerate sizes.
func (s Sizes) Map(fn func(h, w int) (int, int)) Sizes {
	data := make([]float32, len(s.data))
	for b := 0; b < s.Batch(); b++ {
		h, w := fn(s.Height(b), s.Width(b))
		data[2*b] = float32(h)
		data[2*b+1] = float32(w)
	}
	return Sizes{data: data}
}

// AtLeast returns a new record where every height is at least minH and
// every width at least minW.
func (s Sizes) AtLeast(minH, minW int) Sizes {
	return s.Map(func(h, w int) (int, int) {
		if h < minH {
			h = minH
		}
		if w < minW {
			w = minW
		}
		return h, w
	})
}

// Fits reports whether every extent lies within an h x w allocation.
func (s Sizes) Fits(h, w int) bool {
	for b := 0; b < s.Batch(); b++ {
		if s.Height(b) > h || s.Width(b) > w {
			return false
		}
	}
	return true
}

// Equal reports whether both records hold the same values.
func (s Sizes) Equal(o Sizes) bool {
	if len(s.data) != len(o.data) {
		return false
	}
	for i := range s.data {
		if s.data[i] != o.data[i] {
			return false
		}
	}
	return true
}

func (s Sizes) String() string {
	pairs := make([][2]int, s.Batch())
	for b := range pairs {
		pairs[b] = s.Pair(b)
	}
	return fmt.Sprint(pairs)
}
