package layer

import (
	"fmt"
	"math/rand"

	"github.com/FlavioCFOliveira/GoNeuron2D/internal/diag"
	"github.com/FlavioCFOliveira/GoNeuron2D/internal/kernels"
	"github.com/FlavioCFOliveira/GoNeuron2D/internal/tensor"
)

// TwoDLSTMConfig configures a multi-directional 2D-LSTM.
type TwoDLSTMConfig struct {
	NIn  int
	NOut int // hidden units per direction

	Directions int    // 1, 2 or 4; zero means 4
	Projection string // "average" (default) or "concat"
	Collapse   string // see ParseCollapse

	// DropoutMask scales input feature c by Mass*DropoutMask[c]. Nil
	// disables dropout.
	DropoutMask []float32
	Mass        float32

	BatchNorm bool
	Device    Device         // nil selects GetDefaultDevice
	Reporter  *diag.Reporter // nil logs to the standard logger
	Seed      int64          // zero derives a seed from the layer shape
}

func (c *TwoDLSTMConfig) withDefaults() {
	if c.Directions == 0 {
		c.Directions = 4
	}
	if c.Projection == "" {
		c.Projection = ProjectionAverage
	}
	if c.Mass == 0 {
		c.Mass = 1
	}
	if c.Device == nil {
		c.Device = GetDefaultDevice()
	}
	if c.Reporter == nil {
		c.Reporter = diag.NewReporter(nil)
	}
}

// Validate checks the configuration.
func (c TwoDLSTMConfig) Validate() error {
	if c.NIn <= 0 || c.NOut <= 0 {
		return fmt.Errorf("%w: 2D-LSTM needs positive NIn and NOut, got %d and %d", ErrConfig, c.NIn, c.NOut)
	}
	switch c.Directions {
	case 0, 1, 2, 4:
	default:
		return fmt.Errorf("%w: got %d", ErrDirections, c.Directions)
	}
	switch c.Projection {
	case "", ProjectionAverage, ProjectionConcat:
	default:
		return fmt.Errorf("%w: got %q", ErrProjection, c.Projection)
	}
	if _, err := ParseCollapse(c.Collapse); err != nil {
		return err
	}
	return checkDropout(c.DropoutMask, c.NIn, c.Mass)
}

// TwoDLSTM sweeps a grid with one gated 2D-LSTM per direction and combines
// the directional outputs. Every sweep starts in its corner of each sample's
// own extent; padding never feeds valid positions.
type TwoDLSTM struct {
	cfg      TwoDLSTMConfig
	dirs     []kernels.Direction
	weights  []*kernels.LSTMWeights
	grads    []*kernels.LSTMWeights
	sweep    sweeper
	collapse *Collapse
	bn       *BatchNorm
	nOut     int

	sizes  tensor.Sizes
	ranFwd bool
}

// NewTwoDLSTM creates a 2D-LSTM. Parameters exist only for the requested
// directions.
func NewTwoDLSTM(cfg TwoDLSTMConfig) (*TwoDLSTM, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.withDefaults()
	mode, _ := ParseCollapse(cfg.Collapse)

	rng := rand.New(rand.NewSource(defaultSeed(cfg.Seed, cfg.NIn, cfg.NOut)))
	l := &TwoDLSTM{
		cfg:   cfg,
		dirs:  kernels.Directions(cfg.Directions),
		sweep: newSweeper(cfg.Device, cfg.Reporter, "2d_lstm"),
	}
	for range l.dirs {
		l.weights = append(l.weights, newDirectionWeights(rng, cfg.NIn, cfg.NOut))
		l.grads = append(l.grads, kernels.NewLSTMWeights(cfg.NIn, cfg.NOut))
	}

	combined := cfg.NOut
	if cfg.Projection == ProjectionConcat {
		combined *= cfg.Directions
	}
	l.collapse = NewCollapse(combined, mode)
	l.nOut = mode.Features(combined)
	if cfg.BatchNorm {
		l.bn = NewBatchNorm(l.nOut)
	}
	return l, nil
}

// Forward runs the sweeps over in.Grid with extents in.Sizes. Without
// collapse the output is a grid with the input's extents; with collapse it
// is a sequence whose index is recomputed from the widths.
func (l *TwoDLSTM) Forward(in *Batch) (*Batch, error) {
	x, err := gridInput(in, l.cfg.NIn)
	if err != nil {
		return nil, err
	}
	l.sizes = in.Sizes
	x = dropout(x, l.cfg.DropoutMask, l.cfg.Mass)

	outs := l.sweep.forward(x, in.Sizes, l.weights, l.dirs)
	y := combineDirections(outs, l.cfg.Projection)
	out, err := l.collapse.Forward(&Batch{Grid: y, Sizes: in.Sizes})
	if err != nil {
		return nil, err
	}
	if l.bn != nil {
		normed := l.bn.Forward(out.Data(), l.validRows(out))
		if out.Grid != nil {
			out.Grid = tensor.GridFrom(y.H, y.W, y.B, l.nOut, normed)
		} else {
			out.Seq = tensor.SequenceFrom(out.Seq.T, out.Seq.B, out.Seq.F, normed)
		}
	}
	l.ranFwd = true
	return out, nil
}

// validRows selects the rows batch norm uses: the grid extents when the
// output is not collapsed, the recomputed index otherwise.
func (l *TwoDLSTM) validRows(out *Batch) []bool {
	if out.Grid != nil {
		return out.Grid.Validity(l.sizes)
	}
	return out.Index.Data
}

// Backward runs back-propagation through the sweeps and accumulates the
// parameter gradients.
func (l *TwoDLSTM) Backward(grad []float32) ([]float32, error) {
	if !l.ranFwd {
		return nil, ErrNoForward
	}
	if l.bn != nil {
		grad = l.bn.Backward(grad)
	}
	dyData, err := l.collapse.Backward(grad)
	if err != nil {
		return nil, err
	}
	shape := l.collapse.inShape
	dy := tensor.GridFrom(shape[0], shape[1], shape[2], shape[3], dyData)

	dx, grads := l.sweep.backward(splitDirections(dy, len(l.dirs), l.cfg.Projection))
	accumulateWeights(l.grads, grads)
	return dropout(dx, l.cfg.DropoutMask, l.cfg.Mass).Data, nil
}

// Params returns the parameters of every direction (W, U, V, b in turn)
// followed by the batch norm parameters.
func (l *TwoDLSTM) Params() []float32 {
	blocks := weightsBlocks(l.weights)
	if l.bn != nil {
		blocks = append(blocks, l.bn.Params())
	}
	return concatParams(blocks...)
}

func (l *TwoDLSTM) SetParams(params []float32) {
	blocks := weightsBlocks(l.weights)
	if l.bn != nil {
		blocks = append(blocks, l.bn.Params())
	}
	splitParams(params, blocks...)
}

func (l *TwoDLSTM) Gradients() []float32 {
	blocks := weightsBlocks(l.grads)
	if l.bn != nil {
		blocks = append(blocks, l.bn.Gradients())
	}
	return concatParams(blocks...)
}

func (l *TwoDLSTM) ClearGradients() {
	clear32(weightsBlocks(l.grads)...)
	if l.bn != nil {
		l.bn.ClearGradients()
	}
}

// NOut returns the output feature count after projection and collapse.
func (l *TwoDLSTM) NOut() int { return l.nOut }

// Directions returns the scan orders in use.
func (l *TwoDLSTM) Directions() []kernels.Direction { return l.dirs }

// Weights returns the parameters of direction i. The slices alias the layer.
func (l *TwoDLSTM) Weights(i int) *kernels.LSTMWeights { return l.weights[i] }
