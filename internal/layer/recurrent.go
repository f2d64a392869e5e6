package layer

import (
	"fmt"
	"math/rand"

	"github.com/FlavioCFOliveira/GoNeuron2D/internal/diag"
	"github.com/FlavioCFOliveira/GoNeuron2D/internal/kernels"
	"github.com/FlavioCFOliveira/GoNeuron2D/internal/tensor"
	"github.com/sirupsen/logrus"
)

// Initial gate biases. All other bias blocks start at zero.
const (
	forgetGateBias = 1.0
	lambdaGateBias = 0.0
)

// Projections combining the directional outputs of a 2D-LSTM.
const (
	ProjectionAverage = "average"
	ProjectionConcat  = "concat"
)

// newDirectionWeights creates one direction's parameters: Xavier weights and
// the gate bias layout.
func newDirectionWeights(rng *rand.Rand, nIn, n int) *kernels.LSTMWeights {
	w := kernels.NewLSTMWeights(nIn, n)
	g := kernels.NumGates * n
	xavier(rng, w.W, nIn, g)
	xavier(rng, w.U, n, g)
	xavier(rng, w.V, n, g)
	for i := 0; i < n; i++ {
		w.B[kernels.GateForget*n+i] = forgetGateBias
		w.B[kernels.GateLambda*n+i] = lambdaGateBias
	}
	return w
}

// sweeper runs the directional sweeps of a recurrent layer. It is chosen
// once at construction from the layer's device.
type sweeper interface {
	forward(x *tensor.Grid, sizes tensor.Sizes, weights []*kernels.LSTMWeights, dirs []kernels.Direction) []*tensor.Grid
	backward(dys []*tensor.Grid) (*tensor.Grid, []*kernels.LSTMWeights)
}

func newSweeper(device Device, reporter *diag.Reporter, layerName string) sweeper {
	if runsFused(device) {
		return &fusedSweeper{}
	}
	return &placeholderSweeper{reporter: reporter, layer: layerName}
}

// fusedSweeper runs the wavefront kernels.
type fusedSweeper struct {
	weights []*kernels.LSTMWeights
	caches  []*kernels.SweepCache
}

func (s *fusedSweeper) forward(x *tensor.Grid, sizes tensor.Sizes, weights []*kernels.LSTMWeights, dirs []kernels.Direction) []*tensor.Grid {
	outs, caches := kernels.MultiSweep(x, sizes, weights, dirs)
	s.weights, s.caches = weights, caches
	return outs
}

func (s *fusedSweeper) backward(dys []*tensor.Grid) (*tensor.Grid, []*kernels.LSTMWeights) {
	return kernels.MultiSweepBackward(s.caches, s.weights, dys)
}

// placeholderSweeper stands in when the fused kernels are missing. Its
// outputs are zeros of the right shape: it is meant for shape testing only
// and does not compute a 2D-LSTM.
type placeholderSweeper struct {
	reporter *diag.Reporter
	layer    string
	inShape  [4]int
	weights  []*kernels.LSTMWeights
}

func (s *placeholderSweeper) forward(x *tensor.Grid, sizes tensor.Sizes, weights []*kernels.LSTMWeights, dirs []kernels.Direction) []*tensor.Grid {
	s.reporter.Once(diag.RecurrentPlaceholder, logrus.Fields{"layer": s.layer},
		"fused 2D-LSTM kernels unavailable, emitting zeros; not suitable for training or inference")
	s.inShape = x.Shape()
	s.weights = weights
	outs := make([]*tensor.Grid, len(dirs))
	for i := range outs {
		outs[i] = tensor.NewGrid(x.H, x.W, x.B, weights[i].N)
	}
	return outs
}

func (s *placeholderSweeper) backward(dys []*tensor.Grid) (*tensor.Grid, []*kernels.LSTMWeights) {
	grads := make([]*kernels.LSTMWeights, len(s.weights))
	for i, w := range s.weights {
		grads[i] = kernels.NewLSTMWeights(w.In, w.N)
	}
	return tensor.NewGrid(s.inShape[0], s.inShape[1], s.inShape[2], s.inShape[3]), grads
}

// combineDirections merges directional outputs. One direction passes through
// unchanged; otherwise average takes the mean and concat interleaves the
// features so that feature c of direction d lands at c*D+d.
func combineDirections(outs []*tensor.Grid, projection string) *tensor.Grid {
	if len(outs) == 1 {
		return outs[0]
	}
	d := len(outs)
	first := outs[0]
	switch projection {
	case ProjectionConcat:
		out := tensor.NewGrid(first.H, first.W, first.B, first.C*d)
		for row := 0; row < first.H*first.W*first.B; row++ {
			dst := out.Data[row*out.C : (row+1)*out.C]
			for k, o := range outs {
				src := o.Data[row*first.C : (row+1)*first.C]
				for c, v := range src {
					dst[c*d+k] = v
				}
			}
		}
		return out
	default:
		out := tensor.NewGrid(first.H, first.W, first.B, first.C)
		for _, o := range outs {
			for i, v := range o.Data {
				out.Data[i] += v
			}
		}
		inv := 1 / float32(d)
		for i := range out.Data {
			out.Data[i] *= inv
		}
		return out
	}
}

// splitDirections is the adjoint of combineDirections.
func splitDirections(grad *tensor.Grid, d int, projection string) []*tensor.Grid {
	if d == 1 {
		return []*tensor.Grid{grad}
	}
	dys := make([]*tensor.Grid, d)
	if projection == ProjectionConcat {
		n := grad.C / d
		for k := range dys {
			dys[k] = tensor.NewGrid(grad.H, grad.W, grad.B, n)
		}
		for row := 0; row < grad.H*grad.W*grad.B; row++ {
			src := grad.Data[row*grad.C : (row+1)*grad.C]
			for k, dy := range dys {
				dst := dy.Data[row*n : (row+1)*n]
				for c := range dst {
					dst[c] = src[c*d+k]
				}
			}
		}
		return dys
	}
	scaled := grad.Scale(1 / float32(d))
	for k := range dys {
		dys[k] = scaled
	}
	return dys
}

// dropout multiplies every feature c of x by mass*mask[c]. A nil mask
// returns x unchanged.
func dropout(x *tensor.Grid, mask []float32, mass float32) *tensor.Grid {
	if mask == nil {
		return x
	}
	out := tensor.NewGrid(x.H, x.W, x.B, x.C)
	for i, v := range x.Data {
		out.Data[i] = v * mass * mask[i%x.C]
	}
	return out
}

func checkDropout(mask []float32, nIn int, mass float32) error {
	if mask != nil && len(mask) != nIn {
		return fmt.Errorf("%w: dropout mask has %d entries for %d inputs", ErrConfig, len(mask), nIn)
	}
	if mass < 0 {
		return fmt.Errorf("%w: negative dropout mass %v", ErrConfig, mass)
	}
	return nil
}

// weightsParams flattens per-direction parameters in storage order.
func weightsParams(ws []*kernels.LSTMWeights) []float32 {
	return concatParams(weightsBlocks(ws)...)
}

func weightsBlocks(ws []*kernels.LSTMWeights) [][]float32 {
	var blocks [][]float32
	for _, w := range ws {
		blocks = append(blocks, w.Slices()...)
	}
	return blocks
}

func accumulateWeights(dst, src []*kernels.LSTMWeights) {
	for i := range dst {
		d, s := dst[i].Slices(), src[i].Slices()
		for j := range d {
			for k, v := range s[j] {
				d[j][k] += v
			}
		}
	}
}
