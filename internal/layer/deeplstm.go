package layer

import (
	"fmt"
	"math/rand"

	"github.com/FlavioCFOliveira/GoNeuron2D/internal/diag"
	"github.com/FlavioCFOliveira/GoNeuron2D/internal/kernels"
	"github.com/FlavioCFOliveira/GoNeuron2D/internal/tensor"
)

// DeepLSTMConfig configures a DeepLSTM.
type DeepLSTMConfig struct {
	NIn   int // total features of all sources
	NOut  int // hidden units per direction
	Depth int

	DropoutMask []float32
	Mass        float32

	Device   Device
	Reporter *diag.Reporter
	Seed     int64
}

// Validate checks the configuration.
func (c DeepLSTMConfig) Validate() error {
	if c.NIn <= 0 || c.NOut <= 0 {
		return fmt.Errorf("%w: deep LSTM needs positive NIn and NOut, got %d and %d", ErrConfig, c.NIn, c.NOut)
	}
	if c.Depth < 1 {
		return fmt.Errorf("%w: deep LSTM depth %d", ErrConfig, c.Depth)
	}
	return checkDropout(c.DropoutMask, c.NIn, c.Mass)
}

// DeepLSTM runs a two-direction 2D-LSTM over a sequence repeated along a
// synthetic depth axis and returns the top depth slice. The output is a
// (time, batch, 2*NOut) sequence: the down-right direction's features come
// first.
type DeepLSTM struct {
	cfg     DeepLSTMConfig
	dirs    []kernels.Direction
	weights []*kernels.LSTMWeights
	grads   []*kernels.LSTMWeights
	sweep   sweeper

	steps, batch int
	ranFwd       bool
}

// NewDeepLSTM creates a DeepLSTM.
func NewDeepLSTM(cfg DeepLSTMConfig) (*DeepLSTM, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Mass == 0 {
		cfg.Mass = 1
	}
	if cfg.Device == nil {
		cfg.Device = GetDefaultDevice()
	}
	if cfg.Reporter == nil {
		cfg.Reporter = diag.NewReporter(nil)
	}
	rng := rand.New(rand.NewSource(defaultSeed(cfg.Seed, cfg.NIn, cfg.NOut)))
	l := &DeepLSTM{
		cfg:   cfg,
		dirs:  kernels.Directions(2),
		sweep: newSweeper(cfg.Device, cfg.Reporter, "deep_lstm"),
	}
	for range l.dirs {
		l.weights = append(l.weights, newDirectionWeights(rng, cfg.NIn, cfg.NOut))
		l.grads = append(l.grads, kernels.NewLSTMWeights(cfg.NIn, cfg.NOut))
	}
	return l, nil
}

// Forward concatenates in.Seq and in.Extra along the features. Every sample
// gets the extent (Depth, max(valid steps, 1)) taken from in.Index.
func (l *DeepLSTM) Forward(in *Batch) (*Batch, error) {
	seq, err := seqInput(in)
	if err != nil {
		return nil, err
	}
	if len(in.Extra) > 0 {
		seq, err = tensor.ConcatFeatures(append([]*tensor.Sequence{seq}, in.Extra...)...)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSources, err)
		}
	}
	if seq.F != l.cfg.NIn {
		return nil, fmt.Errorf("%w: sources have %d features, layer expects %d", ErrShape, seq.F, l.cfg.NIn)
	}
	l.steps, l.batch = seq.T, seq.B

	widths := in.Index.ColumnSums()
	pairs := make([][2]int, seq.B)
	for b, w := range widths {
		if w < 1 {
			w = 1
		}
		pairs[b] = [2]int{l.cfg.Depth, w}
	}
	sizes := tensor.NewSizes(pairs...)

	depth := l.cfg.Depth
	x := tensor.NewGrid(depth, seq.T, seq.B, seq.F)
	for d := 0; d < depth; d++ {
		copy(x.Data[d*len(seq.Data):(d+1)*len(seq.Data)], seq.Data)
	}
	if !sizes.Fits(x.H, x.W) {
		return nil, fmt.Errorf("%w: index marks more steps than the sequence has", ErrShape)
	}
	x = dropout(x, l.cfg.DropoutMask, l.cfg.Mass)

	outs := l.sweep.forward(x, sizes, l.weights, l.dirs)
	n := l.cfg.NOut
	out := tensor.NewSequence(seq.T, seq.B, 2*n)
	top := depth - 1
	for t := 0; t < seq.T; t++ {
		for b := 0; b < seq.B; b++ {
			dst := out.Vec(t, b)
			copy(dst[:n], outs[0].Vec(top, t, b))
			copy(dst[n:], outs[1].Vec(top, t, b))
		}
	}
	l.ranFwd = true
	return &Batch{Seq: out, Index: in.Index, Sizes: sizes}, nil
}

// Backward returns the gradient with respect to the concatenated sources.
func (l *DeepLSTM) Backward(grad []float32) ([]float32, error) {
	if !l.ranFwd {
		return nil, ErrNoForward
	}
	n := l.cfg.NOut
	if len(grad) != l.steps*l.batch*2*n {
		return nil, fmt.Errorf("%w: gradient length %d, want %d", ErrShape, len(grad), l.steps*l.batch*2*n)
	}
	depth := l.cfg.Depth
	dys := []*tensor.Grid{
		tensor.NewGrid(depth, l.steps, l.batch, n),
		tensor.NewGrid(depth, l.steps, l.batch, n),
	}
	g := tensor.SequenceFrom(l.steps, l.batch, 2*n, grad)
	for t := 0; t < l.steps; t++ {
		for b := 0; b < l.batch; b++ {
			src := g.Vec(t, b)
			copy(dys[0].Vec(depth-1, t, b), src[:n])
			copy(dys[1].Vec(depth-1, t, b), src[n:])
		}
	}

	dx, grads := l.sweep.backward(dys)
	accumulateWeights(l.grads, grads)
	dx = dropout(dx, l.cfg.DropoutMask, l.cfg.Mass)

	plane := l.steps * l.batch * l.cfg.NIn
	out := make([]float32, plane)
	for d := 0; d < depth; d++ {
		for i, v := range dx.Data[d*plane : (d+1)*plane] {
			out[i] += v
		}
	}
	return out, nil
}

func (l *DeepLSTM) Params() []float32 { return weightsParams(l.weights) }

func (l *DeepLSTM) SetParams(params []float32) {
	splitParams(params, weightsBlocks(l.weights)...)
}

func (l *DeepLSTM) Gradients() []float32 { return weightsParams(l.grads) }

func (l *DeepLSTM) ClearGradients() { clear32(weightsBlocks(l.grads)...) }

// NOut returns 2*NOut: both directions concatenated.
func (l *DeepLSTM) NOut() int { return 2 * l.cfg.NOut }
