package tensor

import "fmt"

// Sequence is a (time, batch, feature) tensor. Element (t, b, f) lives at
// (t*B+b)*F+f.
type Sequence struct {
	T, B, F int
	Data    []float32
}

// NewSequence allocates a zero-filled sequence.
func NewSequence(t, b, f int) *Sequence {
	if t < 0 || b < 0 || f < 0 {
		panic(fmt.Sprintf("tensor: negative sequence shape (%d,%d,%d)", t, b, f))
	}
	return &Sequence{T: t, B: b, F: f, Data: make([]float32, t*b*f)}
}

// SequenceFrom wraps data without copying.
func SequenceFrom(t, b, f int, data []float32) *Sequence {
	if len(data) != t*b*f {
		panic(fmt.Sprintf("tensor: sequence data length %d does not match shape (%d,%d,%d)", len(data), t, b, f))
	}
	return &Sequence{T: t, B: b, F: f, Data: data}
}

// Index returns the flat offset of (t, b, f).
func (s *Sequence) Index(t, b, f int) int {
	return (t*s.B+b)*s.F + f
}

// At returns the element at (t, b, f).
func (s *Sequence) At(t, b, f int) float32 {
	return s.Data[s.Index(t, b, f)]
}

// Set stores v at (t, b, f).
func (s *Sequence) Set(t, b, f int, v float32) {
	s.Data[s.Index(t, b, f)] = v
}

// Vec returns the feature vector at (t, b). The slice aliases Data.
func (s *Sequence) Vec(t, b int) []float32 {
	off := s.Index(t, b, 0)
	return s.Data[off : off+s.F]
}

// Shape returns (T, B, F).
func (s *Sequence) Shape() [3]int {
	return [3]int{s.T, s.B, s.F}
}

// Clone returns a deep copy.
func (s *Sequence) Clone() *Sequence {
	out := NewSequence(s.T, s.B, s.F)
	copy(out.Data, s.Data)
	return out
}

// ConcatFeatures joins sequences sharing (T, B) along the feature axis.
func ConcatFeatures(seqs ...*Sequence) (*Sequence, error) {
	if len(seqs) == 0 {
		return nil, fmt.Errorf("tensor: no sequences to concatenate")
	}
	t, b := seqs[0].T, seqs[0].B
	f := 0
	for i, s := range seqs {
		if s.T != t || s.B != b {
			return nil, fmt.Errorf("tensor: sequence %d has shape %v, want (%d,%d,*)", i, s.Shape(), t, b)
		}
		f += s.F
	}
	out := NewSequence(t, b, f)
	for ti := 0; ti < t; ti++ {
		for bi := 0; bi < b; bi++ {
			dst := out.Vec(ti, bi)
			off := 0
			for _, s := range seqs {
				off += copy(dst[off:], s.Vec(ti, bi))
			}
		}
	}
	return out, nil
}

// Matrix is a rank-2 tensor, used for side-channel inputs.
type Matrix struct {
	Rows, Cols int
	Data       []float32
}

// NewMatrix wraps data as a rows x cols matrix.
func NewMatrix(rows, cols int, data []float32) *Matrix {
	if data == nil {
		data = make([]float32, rows*cols)
	}
	if len(data) != rows*cols {
		panic(fmt.Sprintf("tensor: matrix data length %d does not match shape (%d,%d)", len(data), rows, cols))
	}
	return &Matrix{Rows: rows, Cols: cols, Data: data}
}

// Len returns the element count.
func (m *Matrix) Len() int {
	return m.Rows * m.Cols
}
