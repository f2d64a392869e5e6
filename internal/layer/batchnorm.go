package layer

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// BatchNorm normalizes each feature over the valid rows of a batch and
// applies a learned scale and shift. Rows flagged invalid (padding) pass
// through unchanged and do not contribute to the statistics.
type BatchNorm struct {
	numFeatures int
	eps         float64

	params []float32 // Contiguous gamma + beta
	gamma  []float32 // View of params
	beta   []float32 // View of params

	grads        []float32
	gradGammaBuf []float32
	gradBetaBuf  []float32

	// Saved for the backward pass
	rows      []int       // valid row indices
	normed    [][]float64 // per feature, normalized values of the valid rows
	savedStd  []float64
	inputRows int
}

// NewBatchNorm creates a batch normalization over numFeatures features.
func NewBatchNorm(numFeatures int) *BatchNorm {
	b := &BatchNorm{
		numFeatures: numFeatures,
		eps:         1e-5,
		params:      make([]float32, numFeatures*2),
		grads:       make([]float32, numFeatures*2),
	}
	b.gamma = b.params[:numFeatures]
	b.beta = b.params[numFeatures:]
	b.gradGammaBuf = b.grads[:numFeatures]
	b.gradBetaBuf = b.grads[numFeatures:]
	for i := range b.gamma {
		b.gamma[i] = 1
	}
	return b
}

// Forward normalizes x, laid out as rows x numFeatures. valid has one flag
// per row.
func (b *BatchNorm) Forward(x []float32, valid []bool) []float32 {
	f := b.numFeatures
	if len(x) != len(valid)*f {
		panic(fmt.Sprintf("BatchNorm: input length %d does not match %d rows of %d features", len(x), len(valid), f))
	}
	b.inputRows = len(valid)
	b.rows = b.rows[:0]
	for r, ok := range valid {
		if ok {
			b.rows = append(b.rows, r)
		}
	}
	out := make([]float32, len(x))
	copy(out, x)
	n := len(b.rows)
	if n == 0 {
		b.normed = nil
		return out
	}

	b.normed = make([][]float64, f)
	b.savedStd = make([]float64, f)
	for c := 0; c < f; c++ {
		col := make([]float64, n)
		for i, r := range b.rows {
			col[i] = float64(x[r*f+c])
		}
		mean := floats.Sum(col) / float64(n)
		floats.AddConst(-mean, col)
		variance := floats.Dot(col, col) / float64(n)
		std := math.Sqrt(variance + b.eps)
		floats.Scale(1/std, col)

		b.normed[c] = col
		b.savedStd[c] = std
		g, s := float64(b.gamma[c]), float64(b.beta[c])
		for i, r := range b.rows {
			out[r*f+c] = float32(g*col[i] + s)
		}
	}
	return out
}

// Backward returns the input gradient and accumulates the gamma and beta
// gradients.
func (b *BatchNorm) Backward(grad []float32) []float32 {
	f := b.numFeatures
	gradIn := make([]float32, len(grad))
	copy(gradIn, grad)
	n := len(b.rows)
	if n == 0 || b.normed == nil {
		return gradIn
	}

	for c := 0; c < f; c++ {
		xhat := b.normed[c]
		g := make([]float64, n)
		for i, r := range b.rows {
			g[i] = float64(grad[r*f+c])
		}
		b.gradGammaBuf[c] += float32(floats.Dot(g, xhat))
		b.gradBetaBuf[c] += float32(floats.Sum(g))

		gamma := float64(b.gamma[c])
		floats.Scale(gamma, g)
		sum := floats.Sum(g)
		proj := floats.Dot(g, xhat)
		scale := 1 / (float64(n) * b.savedStd[c])
		for i, r := range b.rows {
			gradIn[r*f+c] = float32(scale * (float64(n)*g[i] - sum - xhat[i]*proj))
		}
	}
	return gradIn
}

func (b *BatchNorm) Params() []float32 { return b.params }

func (b *BatchNorm) SetParams(params []float32) {
	copy(b.params, params)
}

func (b *BatchNorm) Gradients() []float32 { return b.grads }

func (b *BatchNorm) ClearGradients() {
	clear32(b.grads)
}

// GetGamma returns the learned scale.
func (b *BatchNorm) GetGamma() []float32 { return b.gamma }

// GetBeta returns the learned shift.
func (b *BatchNorm) GetBeta() []float32 { return b.beta }
