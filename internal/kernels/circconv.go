package kernels

import (
	"fmt"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Circular computes circular convolutions and correlations of fixed-length
// real vectors in the frequency domain. It is not safe for concurrent use.
type Circular struct {
	n   int
	fft *fourier.FFT
}

// NewCircular prepares transforms for vectors of length n.
func NewCircular(n int) *Circular {
	if n < 1 {
		panic(fmt.Sprintf("kernels: circular length %d", n))
	}
	c := &Circular{n: n}
	if n > 1 {
		c.fft = fourier.NewFFT(n)
	}
	return c
}

func (c *Circular) spectrum(v []float32) []complex128 {
	if len(v) != c.n {
		panic(fmt.Sprintf("kernels: vector length %d, want %d", len(v), c.n))
	}
	seq := make([]float64, c.n)
	for i, x := range v {
		seq[i] = float64(x)
	}
	return c.fft.Coefficients(nil, seq)
}

func (c *Circular) inverse(coeff []complex128) []float32 {
	seq := c.fft.Sequence(nil, coeff)
	out := make([]float32, c.n)
	scale := 1 / float64(c.n)
	for i, x := range seq {
		out[i] = float32(x * scale)
	}
	return out
}

// Convolve returns r[k] = sum_j a[j] * b[(k-j) mod n].
func (c *Circular) Convolve(a, b []float32) []float32 {
	if c.n == 1 {
		return []float32{a[0] * b[0]}
	}
	fa, fb := c.spectrum(a), c.spectrum(b)
	for i := range fa {
		fa[i] *= fb[i]
	}
	return c.inverse(fa)
}

// Correlate returns r[j] = sum_k g[k] * b[(k-j) mod n], the gradient of
// Convolve(a, b) with respect to a when g is the output gradient.
func (c *Circular) Correlate(g, b []float32) []float32 {
	if c.n == 1 {
		return []float32{g[0] * b[0]}
	}
	fg, fb := c.spectrum(g), c.spectrum(b)
	for i := range fg {
		fg[i] *= cmplx.Conj(fb[i])
	}
	return c.inverse(fg)
}
