// Package kernels implements the fused operations consumed by the 2D layers:
// sequence-to-grid layout, the multi-directional 2D-LSTM sweep, valid
// convolution, extent crops, window and fractional max-pooling and circular
// convolution. All tensors use the (height, width, batch, feature) layout of
// tensor.Grid.
package kernels

import (
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// gemm computes c = op(a)*op(b) + beta*c on row-major buffers where op(a) is
// m x k and op(b) is k x n.
func gemm(transA, transB bool, m, n, k int, a, b []float32, beta float32, c []float32) {
	if m == 0 || n == 0 {
		return
	}
	if k == 0 {
		for i := range c[:m*n] {
			c[i] *= beta
		}
		return
	}
	tA, ga := blas.NoTrans, blas32.General{Rows: m, Cols: k, Stride: k, Data: a[:m*k]}
	if transA {
		tA, ga = blas.Trans, blas32.General{Rows: k, Cols: m, Stride: m, Data: a[:m*k]}
	}
	tB, gb := blas.NoTrans, blas32.General{Rows: k, Cols: n, Stride: n, Data: b[:k*n]}
	if transB {
		tB, gb = blas.Trans, blas32.General{Rows: n, Cols: k, Stride: k, Data: b[:k*n]}
	}
	gc := blas32.General{Rows: m, Cols: n, Stride: n, Data: c[:m*n]}
	blas32.Gemm(tA, tB, 1, ga, gb, beta, gc)
}

// MatMul returns a*b for a (m x k) and b (k x n), both row-major.
func MatMul(a []float32, m, k int, b []float32, n int) []float32 {
	c := make([]float32, m*n)
	gemm(false, false, m, n, k, a, b, 0, c)
	return c
}
