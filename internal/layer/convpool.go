package layer

import (
	"fmt"
	"math/rand"

	"github.com/FlavioCFOliveira/GoNeuron2D/internal/activations"
	"github.com/FlavioCFOliveira/GoNeuron2D/internal/diag"
	"github.com/FlavioCFOliveira/GoNeuron2D/internal/kernels"
	"github.com/FlavioCFOliveira/GoNeuron2D/internal/tensor"
	"github.com/sirupsen/logrus"
)

// ConvPoolConfig configures a ConvPool layer.
type ConvPoolConfig struct {
	NIn       int
	NFeatures int
	Filter    [2]int // (height, width)
	PoolSize  [2]int // (height, width); zero means (1, 1)

	Activation string // see activations.Get; empty means "tanh"
	BatchNorm  bool

	Device   Device
	Reporter *diag.Reporter
	Seed     int64
}

func (c *ConvPoolConfig) withDefaults() {
	if c.PoolSize == [2]int{} {
		c.PoolSize = [2]int{1, 1}
	}
	if c.Activation == "" {
		c.Activation = "tanh"
	}
	if c.Device == nil {
		c.Device = GetDefaultDevice()
	}
	if c.Reporter == nil {
		c.Reporter = diag.NewReporter(nil)
	}
}

// Validate checks the configuration.
func (c ConvPoolConfig) Validate() error {
	if c.NIn <= 0 || c.NFeatures <= 0 {
		return fmt.Errorf("%w: conv needs positive NIn and NFeatures, got %d and %d", ErrConfig, c.NIn, c.NFeatures)
	}
	if c.Filter[0] < 1 || c.Filter[1] < 1 {
		return fmt.Errorf("%w: filter %v", ErrConfig, c.Filter)
	}
	if c.PoolSize != [2]int{} && (c.PoolSize[0] < 1 || c.PoolSize[1] < 1) {
		return fmt.Errorf("%w: pool size %v", ErrConfig, c.PoolSize)
	}
	if c.Activation != "" {
		if _, err := activations.Get(c.Activation); err != nil {
			return fmt.Errorf("%w: %v", ErrConfig, err)
		}
	}
	return nil
}

// convParams is a filter bank (features, in, fh, fw) with one bias per
// feature.
type convParams struct {
	shape kernels.ConvShape
	w, b  []float32
	gradW []float32
	gradB []float32
}

func newConvParams(rng *rand.Rand, nFeatures, nIn, fh, fw int) *convParams {
	s := kernels.ConvShape{Out: nFeatures, In: nIn, FH: fh, FW: fw}
	p := &convParams{
		shape: s,
		w:     make([]float32, s.Size()),
		b:     make([]float32, nFeatures),
		gradW: make([]float32, s.Size()),
		gradB: make([]float32, nFeatures),
	}
	xavier(rng, p.w, nFeatures, nIn*fh*fw)
	return p
}

func (p *convParams) accumulate(dw, db []float32) {
	for i, v := range dw {
		p.gradW[i] += v
	}
	for i, v := range db {
		p.gradB[i] += v
	}
}

// convPoolPath computes conv, crop, pool and the final zero crop. It is
// picked once at construction.
type convPoolPath interface {
	forward(x *tensor.Grid, p *convParams, convSizes, outSizes tensor.Sizes, poolH, poolW int) *tensor.Grid
	backward(dy *tensor.Grid) (dx *tensor.Grid, dw, db []float32)
}

// fusedConvPool runs the fused kernels with the bias inside the convolution.
type fusedConvPool struct {
	x         *tensor.Grid
	p         *convParams
	convSizes tensor.Sizes
	outSizes  tensor.Sizes
	convShape [4]int
	pooled    kernels.Pooled
}

func (f *fusedConvPool) forward(x *tensor.Grid, p *convParams, convSizes, outSizes tensor.Sizes, poolH, poolW int) *tensor.Grid {
	conv := kernels.ConvValid(x, p.w, p.b, p.shape)
	cropped := kernels.CropToSizes(conv, convSizes)
	f.pooled = kernels.MaxPool(cropped, poolH, poolW)
	f.x, f.p, f.convSizes, f.outSizes, f.convShape = x, p, convSizes, outSizes, conv.Shape()
	return kernels.CropToSizesZero(f.pooled.Out, outSizes)
}

func (f *fusedConvPool) backward(dy *tensor.Grid) (*tensor.Grid, []float32, []float32) {
	d := kernels.CropBackward(dy, f.outSizes)
	d = kernels.MaxPoolBackward(d, f.pooled.Argmax, f.convShape[0], f.convShape[1])
	d = kernels.CropBackward(d, f.convSizes)
	return kernels.ConvValidBackward(f.x, f.p.w, f.p.shape, d)
}

// composedConvPool reorders to (batch, channel, height, width), runs the
// generic Conv2D and MaxPool2D, adds the bias after pooling and reorders
// back.
type composedConvPool struct {
	reporter *diag.Reporter

	conv      *Conv2D
	pool      *MaxPool2D
	inShape   [4]int
	convShape [4]int
	poolShape [4]int
	convSizes tensor.Sizes
	outSizes  tensor.Sizes
	pooled    bool
}

func (c *composedConvPool) forward(x *tensor.Grid, p *convParams, convSizes, outSizes tensor.Sizes, poolH, poolW int) *tensor.Grid {
	c.reporter.Once(diag.FusedUnavailable, logrus.Fields{"layer": "conv_pool"},
		"fused convolution unavailable, using the composed implementation")
	s := p.shape
	if c.conv == nil {
		c.conv = NewConv2D(s.In, s.Out, s.FH, s.FW)
	}
	c.inShape, c.convSizes, c.outSizes = x.Shape(), convSizes, outSizes

	oh, ow := s.OutputDims(x.H, x.W)
	convOut := c.conv.Forward(toNCHW(x), p.w, x.B, x.H, x.W)
	conv := fromNCHW(convOut, x.B, s.Out, oh, ow)
	c.convShape = conv.Shape()
	y := kernels.CropToSizes(conv, convSizes)

	c.pooled = poolH != 1 || poolW != 1
	if c.pooled {
		if c.pool == nil {
			c.pool = NewMaxPool2D(poolH, poolW)
		}
		out := c.pool.Forward(toNCHW(y), y.B*y.C, y.H, y.W)
		y = fromNCHW(out, y.B, y.C, y.H/poolH, y.W/poolW)
	}
	c.poolShape = y.Shape()

	withBias := tensor.NewGrid(y.H, y.W, y.B, y.C)
	for i, v := range y.Data {
		withBias.Data[i] = v + p.b[i%y.C]
	}
	return kernels.CropToSizesZero(withBias, outSizes)
}

func (c *composedConvPool) backward(dy *tensor.Grid) (*tensor.Grid, []float32, []float32) {
	d := kernels.CropBackward(dy, c.outSizes)
	db := make([]float32, d.C)
	for i, v := range d.Data {
		db[i%d.C] += v
	}
	if c.pooled {
		g := c.pool.Backward(toNCHW(d))
		d = fromNCHW(g, c.convShape[2], c.convShape[3], c.convShape[0], c.convShape[1])
	}
	d = kernels.CropBackward(d, c.convSizes)
	dxData, dw := c.conv.Backward(toNCHW(d))
	return fromNCHW(dxData, c.inShape[2], c.inShape[3], c.inShape[0], c.inShape[1]), dw, db
}

// toNCHW reorders a grid to (batch, channel, height, width).
func toNCHW(g *tensor.Grid) []float32 {
	out := make([]float32, len(g.Data))
	for y := 0; y < g.H; y++ {
		for x := 0; x < g.W; x++ {
			for b := 0; b < g.B; b++ {
				for c, v := range g.Vec(y, x, b) {
					out[((b*g.C+c)*g.H+y)*g.W+x] = v
				}
			}
		}
	}
	return out
}

// fromNCHW is the inverse of toNCHW.
func fromNCHW(data []float32, batch, channels, h, w int) *tensor.Grid {
	g := tensor.NewGrid(h, w, batch, channels)
	for b := 0; b < batch; b++ {
		for c := 0; c < channels; c++ {
			for y := 0; y < h; y++ {
				for x := 0; x < w; x++ {
					g.Set(y, x, b, c, data[((b*channels+c)*h+y)*w+x])
				}
			}
		}
	}
	return g
}

// ConvPool applies a valid convolution, crops to the convolution extents,
// max-pools and crops to the pooled extents, then applies the activation.
// Batches where a sample would pool to an empty extent are padded first.
type ConvPool struct {
	cfg  ConvPoolConfig
	p    *convParams
	act  activations.Activation
	path convPoolPath
	bn   *BatchNorm

	// Saved for the backward pass
	rawShape [4]int
	rawSizes tensor.Sizes
	padded   bool
	preAct   *tensor.Grid
	outSizes tensor.Sizes
	ran      bool
}

// NewConvPool creates a ConvPool layer.
func NewConvPool(cfg ConvPoolConfig) (*ConvPool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.withDefaults()
	act, _ := activations.Get(cfg.Activation)
	rng := rand.New(rand.NewSource(defaultSeed(cfg.Seed, cfg.NIn, cfg.NFeatures)))
	l := &ConvPool{
		cfg: cfg,
		p:   newConvParams(rng, cfg.NFeatures, cfg.NIn, cfg.Filter[0], cfg.Filter[1]),
		act: act,
	}
	if runsFused(cfg.Device) {
		l.path = &fusedConvPool{}
	} else {
		l.path = &composedConvPool{reporter: cfg.Reporter}
	}
	if cfg.BatchNorm {
		l.bn = NewBatchNorm(cfg.NFeatures)
	}
	return l, nil
}

// OutputSizes returns the pooled extents for input extents sizes. Values may
// be non-positive for undersized samples.
func (l *ConvPool) OutputSizes(sizes tensor.Sizes) tensor.Sizes {
	fh, fw := l.cfg.Filter[0], l.cfg.Filter[1]
	ph, pw := l.cfg.PoolSize[0], l.cfg.PoolSize[1]
	return sizes.Map(func(h, w int) (int, int) {
		return floorDiv(h-fh+1, ph), floorDiv(w-fw+1, pw)
	})
}

func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

// fixSizes pads undersized batches. When any pooled extent would be
// non-positive, every extent is raised to at least (pool+filter-1) and the
// grid is reallocated at the new maximum with each sample's data copied in.
func (l *ConvPool) fixSizes(x *tensor.Grid, sizes tensor.Sizes) (*tensor.Grid, tensor.Sizes, bool) {
	if l.OutputSizes(sizes).MinValue() > 0 {
		return x, sizes, false
	}
	fh, fw := l.cfg.Filter[0], l.cfg.Filter[1]
	ph, pw := l.cfg.PoolSize[0], l.cfg.PoolSize[1]
	fixed := sizes.AtLeast(ph+fh-1, pw+fw-1)
	l.cfg.Reporter.Once(diag.PadOnTheFly, logrus.Fields{
		"layer": "conv_pool",
		"sizes": sizes.String(),
		"min_h": ph + fh - 1,
		"min_w": pw + fw - 1,
	}, "input too small for convolution and pooling, padding on the fly")

	return padToSizes(x, sizes, fixed), fixed, true
}

// padToSizes copies each sample's valid region of x into a zero grid
// allocated at the largest extent of fixed.
func padToSizes(x *tensor.Grid, sizes, fixed tensor.Sizes) *tensor.Grid {
	h, w := fixed.Max()
	out := tensor.NewGrid(h, w, x.B, x.C)
	for b := 0; b < x.B; b++ {
		for y := 0; y < sizes.Height(b); y++ {
			for xx := 0; xx < sizes.Width(b); xx++ {
				copy(out.Vec(y, xx, b), x.Vec(y, xx, b))
			}
		}
	}
	return out
}

// Forward runs the layer on in.Grid with extents in.Sizes.
func (l *ConvPool) Forward(in *Batch) (*Batch, error) {
	x, err := gridInput(in, l.cfg.NIn)
	if err != nil {
		return nil, err
	}
	l.rawShape, l.rawSizes = x.Shape(), in.Sizes
	x, sizes, padded := l.fixSizes(x, in.Sizes)
	l.padded = padded

	fh, fw := l.cfg.Filter[0], l.cfg.Filter[1]
	convSizes := sizes.Map(func(h, w int) (int, int) { return h - fh + 1, w - fw + 1 })
	outSizes := l.OutputSizes(sizes)

	z := l.path.forward(x, l.p, convSizes, outSizes, l.cfg.PoolSize[0], l.cfg.PoolSize[1])
	y := tensor.NewGrid(z.H, z.W, z.B, z.C)
	for i, v := range z.Data {
		y.Data[i] = l.act.Activate(v)
	}
	if l.bn != nil {
		y = tensor.GridFrom(y.H, y.W, y.B, y.C, l.bn.Forward(y.Data, y.Validity(outSizes)))
	}
	l.preAct, l.outSizes, l.ran = z, outSizes, true
	return &Batch{Grid: y, Sizes: outSizes, Index: tensor.MaskFromWidths(y.W, outSizes)}, nil
}

// Backward returns the gradient with respect to the unpadded input grid.
func (l *ConvPool) Backward(grad []float32) ([]float32, error) {
	if !l.ran {
		return nil, ErrNoForward
	}
	if len(grad) != len(l.preAct.Data) {
		return nil, fmt.Errorf("%w: gradient length %d, want %d", ErrShape, len(grad), len(l.preAct.Data))
	}
	if l.bn != nil {
		grad = l.bn.Backward(grad)
	}
	z := l.preAct
	dz := tensor.NewGrid(z.H, z.W, z.B, z.C)
	for i, g := range grad {
		dz.Data[i] = g * l.act.Derivative(z.Data[i])
	}
	dx, dw, db := l.path.backward(dz)
	l.p.accumulate(dw, db)
	if !l.padded {
		return dx.Data, nil
	}
	return unpad(dx, l.rawShape, l.rawSizes).Data, nil
}

// unpad is the adjoint of padToSizes: it gathers each sample's valid region
// of g into a zero grid of the given shape.
func unpad(g *tensor.Grid, shape [4]int, sizes tensor.Sizes) *tensor.Grid {
	raw := tensor.NewGrid(shape[0], shape[1], shape[2], shape[3])
	for b := 0; b < raw.B; b++ {
		for y := 0; y < sizes.Height(b); y++ {
			for xx := 0; xx < sizes.Width(b); xx++ {
				copy(raw.Vec(y, xx, b), g.Vec(y, xx, b))
			}
		}
	}
	return raw
}

// Params returns the filter bank and bias followed by the batch norm
// parameters.
func (l *ConvPool) Params() []float32 {
	blocks := [][]float32{l.p.w, l.p.b}
	if l.bn != nil {
		blocks = append(blocks, l.bn.Params())
	}
	return concatParams(blocks...)
}

func (l *ConvPool) SetParams(params []float32) {
	blocks := [][]float32{l.p.w, l.p.b}
	if l.bn != nil {
		blocks = append(blocks, l.bn.Params())
	}
	splitParams(params, blocks...)
}

func (l *ConvPool) Gradients() []float32 {
	blocks := [][]float32{l.p.gradW, l.p.gradB}
	if l.bn != nil {
		blocks = append(blocks, l.bn.Gradients())
	}
	return concatParams(blocks...)
}

func (l *ConvPool) ClearGradients() {
	clear32(l.p.gradW, l.p.gradB)
	if l.bn != nil {
		l.bn.ClearGradients()
	}
}

func (l *ConvPool) NOut() int { return l.cfg.NFeatures }
