package kernels

import (
	"fmt"
	"math"
	"sync"

	"github.com/FlavioCFOliveira/GoNeuron2D/internal/tensor"
)

// Gate blocks inside the 5n-wide pre-activation of a 2D-LSTM cell.
const (
	GateInput = iota
	GateForget
	GateLambda
	GateOutput
	GateCell
	NumGates
)

// Direction is the scan order of one 2D-LSTM sweep. Each direction starts in
// a corner of the sample's own extent.
type Direction int

const (
	DownRight Direction = iota // from the top-left corner
	DownLeft                   // from the top-right corner
	UpRight                    // from the bottom-left corner
	UpLeft                     // from the bottom-right corner
)

// Directions returns the first n scan orders.
func Directions(n int) []Direction {
	all := []Direction{DownRight, DownLeft, UpRight, UpLeft}
	return all[:n]
}

func (d Direction) flips() (flipH, flipW bool) {
	switch d {
	case DownLeft:
		return false, true
	case UpRight:
		return true, false
	case UpLeft:
		return true, true
	}
	return false, false
}

func (d Direction) String() string {
	return [...]string{"down-right", "down-left", "up-right", "up-left"}[d]
}

// LSTMWeights holds the parameters of one direction. Matrices are row-major:
// W is in x 5n, U (horizontal predecessor) and V (vertical predecessor) are
// n x 5n, B has 5n entries.
type LSTMWeights struct {
	In, N   int
	W, U, V []float32
	B       []float32
}

// NewLSTMWeights allocates zeroed parameters.
func NewLSTMWeights(in, n int) *LSTMWeights {
	g := NumGates * n
	return &LSTMWeights{
		In: in,
		N:  n,
		W:  make([]float32, in*g),
		U:  make([]float32, n*g),
		V:  make([]float32, n*g),
		B:  make([]float32, g),
	}
}

// Len returns the number of parameters.
func (w *LSTMWeights) Len() int {
	return len(w.W) + len(w.U) + len(w.V) + len(w.B)
}

// Slices returns the parameter blocks in storage order.
func (w *LSTMWeights) Slices() [][]float32 {
	return [][]float32{w.W, w.U, w.V, w.B}
}

// SweepCache keeps the forward state of one direction for the backward pass.
// Buffers are in the direction's canonical (flipped) frame.
type SweepCache struct {
	dir   Direction
	sizes tensor.Sizes
	x     *tensor.Grid
	gates []float32 // activated gates, rows x 5n
	cell  []float32 // rows x n
	hid   []float32 // rows x n
}

type cellPos struct {
	row, left, up int // -1 when the predecessor lies outside the grid
}

// diagonal lists the in-extent cells with y+x == d.
func diagonal(d, h, w int, sizes tensor.Sizes) []cellPos {
	var cells []cellPos
	b := sizes.Batch()
	y0 := 0
	if d-w+1 > 0 {
		y0 = d - w + 1
	}
	for y := y0; y < h && y <= d; y++ {
		x := d - y
		for s := 0; s < b; s++ {
			if y >= sizes.Height(s) || x >= sizes.Width(s) {
				continue
			}
			p := cellPos{row: (y*w+x)*b + s, left: -1, up: -1}
			if x > 0 {
				p.left = (y*w+x-1)*b + s
			}
			if y > 0 {
				p.up = ((y-1)*w+x)*b + s
			}
			cells = append(cells, p)
		}
	}
	return cells
}

func gather(dst, src []float32, rows []int, width int) {
	for j, r := range rows {
		d := dst[j*width : (j+1)*width]
		if r < 0 {
			for i := range d {
				d[i] = 0
			}
			continue
		}
		copy(d, src[r*width:(r+1)*width])
	}
}

func sigmoid32(x float32) float32 {
	return float32(1 / (1 + math.Exp(-float64(x))))
}

func tanh32(x float32) float32 {
	return float32(math.Tanh(float64(x)))
}

func checkSweep(x *tensor.Grid, sizes tensor.Sizes, w *LSTMWeights) {
	if x.C != w.In {
		panic(fmt.Sprintf("kernels: sweep input has %d features, weights expect %d", x.C, w.In))
	}
	if sizes.Batch() != x.B {
		panic(fmt.Sprintf("kernels: %d extents for batch of %d", sizes.Batch(), x.B))
	}
	if !sizes.Fits(x.H, x.W) {
		panic(fmt.Sprintf("kernels: extents %v exceed grid %dx%d", sizes, x.H, x.W))
	}
}

// Sweep runs one 2D-LSTM direction over x. Cells are visited one
// anti-diagonal at a time; every cell on a diagonal, across the whole batch,
// is updated with one gemm per recurrent matrix. Positions outside a
// sample's extent stay zero and never feed in-extent cells.
func Sweep(x *tensor.Grid, sizes tensor.Sizes, w *LSTMWeights, dir Direction) (*tensor.Grid, *SweepCache) {
	checkSweep(x, sizes, w)
	flipH, flipW := dir.flips()
	xc := x.FlipSample(sizes, flipH, flipW)
	n, g := w.N, NumGates*w.N
	rows := x.H * x.W * x.B

	pre := make([]float32, rows*g)
	for r := 0; r < rows; r++ {
		copy(pre[r*g:(r+1)*g], w.B)
	}
	gemm(false, false, rows, g, w.In, xc.Data, w.W, 1, pre)

	cache := &SweepCache{
		dir:   dir,
		sizes: sizes,
		x:     xc,
		gates: make([]float32, rows*g),
		cell:  make([]float32, rows*n),
		hid:   make([]float32, rows*n),
	}

	for d := 0; d < x.H+x.W-1; d++ {
		cells := diagonal(d, x.H, x.W, sizes)
		k := len(cells)
		if k == 0 {
			continue
		}
		left, up, self := make([]int, k), make([]int, k), make([]int, k)
		for j, c := range cells {
			left[j], up[j], self[j] = c.left, c.up, c.row
		}
		p := make([]float32, k*g)
		gather(p, pre, self, g)
		hl := make([]float32, k*n)
		gather(hl, cache.hid, left, n)
		gemm(false, false, k, g, n, hl, w.U, 1, p)
		hu := make([]float32, k*n)
		gather(hu, cache.hid, up, n)
		gemm(false, false, k, g, n, hu, w.V, 1, p)

		for j, c := range cells {
			pj := p[j*g : (j+1)*g]
			act := cache.gates[c.row*g : (c.row+1)*g]
			for u := 0; u < n; u++ {
				act[GateInput*n+u] = sigmoid32(pj[GateInput*n+u])
				act[GateForget*n+u] = sigmoid32(pj[GateForget*n+u])
				act[GateLambda*n+u] = sigmoid32(pj[GateLambda*n+u])
				act[GateOutput*n+u] = sigmoid32(pj[GateOutput*n+u])
				act[GateCell*n+u] = tanh32(pj[GateCell*n+u])

				var cl, cu float32
				if c.left >= 0 {
					cl = cache.cell[c.left*n+u]
				}
				if c.up >= 0 {
					cu = cache.cell[c.up*n+u]
				}
				lam := act[GateLambda*n+u]
				state := act[GateInput*n+u]*act[GateCell*n+u] + act[GateForget*n+u]*(lam*cl+(1-lam)*cu)
				cache.cell[c.row*n+u] = state
				cache.hid[c.row*n+u] = act[GateOutput*n+u] * tanh32(state)
			}
		}
	}

	out := tensor.GridFrom(x.H, x.W, x.B, n, cache.hid)
	return out.FlipSample(sizes, flipH, flipW), cache
}

// SweepBackward back-propagates dy (the gradient of Sweep's output) through
// the wavefront in reverse order. It returns the input gradient and the
// parameter gradients.
func SweepBackward(cache *SweepCache, w *LSTMWeights, dy *tensor.Grid) (*tensor.Grid, *LSTMWeights) {
	xc := cache.x
	if dy.H != xc.H || dy.W != xc.W || dy.B != xc.B || dy.C != w.N {
		panic(fmt.Sprintf("kernels: sweep gradient shape %v, want (%d,%d,%d,%d)", dy.Shape(), xc.H, xc.W, xc.B, w.N))
	}
	flipH, flipW := cache.dir.flips()
	n, g := w.N, NumGates*w.N
	rows := xc.H * xc.W * xc.B

	dh := dy.FlipSample(cache.sizes, flipH, flipW).Data
	dc := make([]float32, rows*n)
	dpre := make([]float32, rows*g)
	grads := NewLSTMWeights(w.In, n)

	for d := xc.H + xc.W - 2; d >= 0; d-- {
		cells := diagonal(d, xc.H, xc.W, cache.sizes)
		k := len(cells)
		if k == 0 {
			continue
		}
		left, up, self := make([]int, k), make([]int, k), make([]int, k)
		for j, c := range cells {
			left[j], up[j], self[j] = c.left, c.up, c.row
		}

		for _, c := range cells {
			act := cache.gates[c.row*g : (c.row+1)*g]
			dp := dpre[c.row*g : (c.row+1)*g]
			for u := 0; u < n; u++ {
				i, f := act[GateInput*n+u], act[GateForget*n+u]
				lam, o, z := act[GateLambda*n+u], act[GateOutput*n+u], act[GateCell*n+u]
				var cl, cu float32
				if c.left >= 0 {
					cl = cache.cell[c.left*n+u]
				}
				if c.up >= 0 {
					cu = cache.cell[c.up*n+u]
				}
				tc := tanh32(cache.cell[c.row*n+u])
				dhv := dh[c.row*n+u]
				dcv := dc[c.row*n+u] + dhv*o*(1-tc*tc)

				dp[GateOutput*n+u] = dhv * tc * o * (1 - o)
				dp[GateInput*n+u] = dcv * z * i * (1 - i)
				dp[GateCell*n+u] = dcv * i * (1 - z*z)
				dp[GateForget*n+u] = dcv * (lam*cl + (1-lam)*cu) * f * (1 - f)
				dp[GateLambda*n+u] = dcv * f * (cl - cu) * lam * (1 - lam)

				if c.left >= 0 {
					dc[c.left*n+u] += dcv * f * lam
				}
				if c.up >= 0 {
					dc[c.up*n+u] += dcv * f * (1 - lam)
				}
			}
		}

		p := make([]float32, k*g)
		gather(p, dpre, self, g)
		backRecurrent(p, k, n, g, left, cache.hid, w.U, grads.U, dh)
		backRecurrent(p, k, n, g, up, cache.hid, w.V, grads.V, dh)
	}

	gemm(true, false, w.In, g, rows, xc.Data, dpre, 0, grads.W)
	for r := 0; r < rows; r++ {
		for j := 0; j < g; j++ {
			grads.B[j] += dpre[r*g+j]
		}
	}
	dxc := tensor.NewGrid(xc.H, xc.W, xc.B, xc.C)
	gemm(false, true, rows, w.In, g, dpre, w.W, 0, dxc.Data)
	return dxc.FlipSample(cache.sizes, flipH, flipW), grads
}

// backRecurrent handles one recurrent matrix R for a diagonal: it adds
// pred^T * p to dR and scatters p * R^T into the predecessors' dh.
func backRecurrent(p []float32, k, n, g int, pred []int, hid, r, dr, dh []float32) {
	hp := make([]float32, k*n)
	gather(hp, hid, pred, n)
	gemm(true, false, n, g, k, hp, p, 1, dr)

	dhp := make([]float32, k*n)
	gemm(false, true, k, n, g, p, r, 0, dhp)
	for j, row := range pred {
		if row < 0 {
			continue
		}
		dst := dh[row*n : (row+1)*n]
		for u := range dst {
			dst[u] += dhp[j*n+u]
		}
	}
}

// MultiSweep runs one sweep per weight set, direction i using scan order
// dirs[i]. Directions are independent and run concurrently.
func MultiSweep(x *tensor.Grid, sizes tensor.Sizes, weights []*LSTMWeights, dirs []Direction) ([]*tensor.Grid, []*SweepCache) {
	if len(weights) != len(dirs) {
		panic(fmt.Sprintf("kernels: %d weight sets for %d directions", len(weights), len(dirs)))
	}
	outs := make([]*tensor.Grid, len(dirs))
	caches := make([]*SweepCache, len(dirs))
	var wg sync.WaitGroup
	for i := range dirs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outs[i], caches[i] = Sweep(x, sizes, weights[i], dirs[i])
		}(i)
	}
	wg.Wait()
	return outs, caches
}

// MultiSweepBackward runs SweepBackward for every direction concurrently and
// sums the input gradients.
func MultiSweepBackward(caches []*SweepCache, weights []*LSTMWeights, dys []*tensor.Grid) (*tensor.Grid, []*LSTMWeights) {
	dxs := make([]*tensor.Grid, len(caches))
	grads := make([]*LSTMWeights, len(caches))
	var wg sync.WaitGroup
	for i := range caches {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			dxs[i], grads[i] = SweepBackward(caches[i], weights[i], dys[i])
		}(i)
	}
	wg.Wait()

	dx := dxs[0]
	for _, d := range dxs[1:] {
		for i, v := range d.Data {
			dx.Data[i] += v
		}
	}
	return dx, grads
}
