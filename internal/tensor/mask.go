package tensor

import "fmt"

// Mask is the validity mask ("index") over (position, batch). Element
// (p, b) lives at p*Batch+b.
type Mask struct {
	Rows, Batch int
	Data        []bool
}

// NewMask allocates an all-invalid mask.
func NewMask(rows, batch int) *Mask {
	return &Mask{Rows: rows, Batch: batch, Data: make([]bool, rows*batch)}
}

// OnesMask allocates an all-valid mask.
func OnesMask(rows, batch int) *Mask {
	m := NewMask(rows, batch)
	for i := range m.Data {
		m.Data[i] = true
	}
	return m
}

// MaskFromLengths marks the first lengths[b] positions of each sample valid.
// Lengths larger than rows are clipped.
func MaskFromLengths(rows int, lengths []int) *Mask {
	m := NewMask(rows, len(lengths))
	for b, n := range lengths {
		if n > rows {
			n = rows
		}
		for p := 0; p < n; p++ {
			m.Data[p*m.Batch+b] = true
		}
	}
	return m
}

// MaskFromWidths recomputes the index of a grid output: starting from a
// zeroed buffer, sample b gets its first width_b positions marked valid.
func MaskFromWidths(positions int, sizes Sizes) *Mask {
	return MaskFromLengths(positions, sizes.Widths())
}

// Valid reports whether position p of sample b holds real data.
func (m *Mask) Valid(p, b int) bool {
	return m.Data[p*m.Batch+b]
}

// Count returns the number of valid positions of sample b.
func (m *Mask) Count(b int) int {
	n := 0
	for p := 0; p < m.Rows; p++ {
		if m.Data[p*m.Batch+b] {
			n++
		}
	}
	return n
}

// ColumnSums returns Count for every sample.
func (m *Mask) ColumnSums() []int {
	out := make([]int, m.Batch)
	for b := range out {
		out[b] = m.Count(b)
	}
	return out
}

// Clone returns a deep copy.
func (m *Mask) Clone() *Mask {
	out := NewMask(m.Rows, m.Batch)
	copy(out.Data, m.Data)
	return out
}

// CheckShape returns an error unless the mask is rows x batch.
func (m *Mask) CheckShape(rows, batch int) error {
	if m.Rows != rows || m.Batch != batch {
		return fmt.Errorf("tensor: mask shape (%d,%d), want (%d,%d)", m.Rows, m.Batch, rows, batch)
	}
	return nil
}
