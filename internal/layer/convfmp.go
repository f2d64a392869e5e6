package layer

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/FlavioCFOliveira/GoNeuron2D/internal/diag"
	"github.com/FlavioCFOliveira/GoNeuron2D/internal/kernels"
	"github.com/FlavioCFOliveira/GoNeuron2D/internal/tensor"
	"github.com/sirupsen/logrus"
)

// DefaultFMPRatio is the usual fractional pooling ratio.
var DefaultFMPRatio = math.Sqrt2

// ConvFMPConfig configures a ConvFMP layer.
type ConvFMPConfig struct {
	NIn       int
	NFeatures int
	Filter    [2]int
	Ratio     float64         // zero means DefaultFMPRatio
	Sampler   kernels.Sampler // nil draws offsets from a seeded generator

	Reporter *diag.Reporter
	Seed     int64
}

// Validate checks the configuration.
func (c ConvFMPConfig) Validate() error {
	if c.NIn <= 0 || c.NFeatures <= 0 {
		return fmt.Errorf("%w: conv needs positive NIn and NFeatures, got %d and %d", ErrConfig, c.NIn, c.NFeatures)
	}
	if c.Filter[0] < 1 || c.Filter[1] < 1 {
		return fmt.Errorf("%w: filter %v", ErrConfig, c.Filter)
	}
	if c.Ratio != 0 && c.Ratio < 1 {
		return fmt.Errorf("%w: fractional pooling ratio %v < 1", ErrConfig, c.Ratio)
	}
	return nil
}

// ConvFMP applies the fused valid convolution followed by fractional max
// pooling. No activation is applied.
type ConvFMP struct {
	cfg ConvFMPConfig
	p   *convParams

	x         *tensor.Grid
	rawShape  [4]int
	rawSizes  tensor.Sizes
	padded    bool
	convSizes tensor.Sizes
	convShape [4]int
	pooled    kernels.Pooled
	ran       bool
}

// NewConvFMP creates a ConvFMP layer.
func NewConvFMP(cfg ConvFMPConfig) (*ConvFMP, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Ratio == 0 {
		cfg.Ratio = DefaultFMPRatio
	}
	seed := defaultSeed(cfg.Seed, cfg.NIn, cfg.NFeatures)
	if cfg.Sampler == nil {
		cfg.Sampler = kernels.NewRandomSampler(seed)
	}
	if cfg.Reporter == nil {
		cfg.Reporter = diag.NewReporter(nil)
	}
	rng := rand.New(rand.NewSource(seed))
	return &ConvFMP{
		cfg: cfg,
		p:   newConvParams(rng, cfg.NFeatures, cfg.NIn, cfg.Filter[0], cfg.Filter[1]),
	}, nil
}

// Forward convolves in.Grid and pools every sample by the configured ratio.
// The output extents are max(1, floor(conv extent / ratio)).
func (l *ConvFMP) Forward(in *Batch) (*Batch, error) {
	x, err := gridInput(in, l.cfg.NIn)
	if err != nil {
		return nil, err
	}
	fh, fw := l.cfg.Filter[0], l.cfg.Filter[1]
	l.rawShape, l.rawSizes, l.padded = x.Shape(), in.Sizes, false
	sizes := in.Sizes
	if fixed := sizes.AtLeast(fh, fw); !fixed.Equal(sizes) {
		l.cfg.Reporter.Once(diag.PadOnTheFly, logrus.Fields{
			"layer": "conv_fmp",
			"sizes": sizes.String(),
			"min_h": fh,
			"min_w": fw,
		}, "input too small for convolution, padding on the fly")
		x, sizes, l.padded = padToSizes(x, sizes, fixed), fixed, true
	}

	conv := kernels.ConvValid(x, l.p.w, l.p.b, l.p.shape)
	l.convSizes = sizes.Map(func(h, w int) (int, int) { return h - fh + 1, w - fw + 1 })
	pooled, outSizes := kernels.FractionalMaxPool(conv, l.convSizes, l.cfg.Ratio, l.cfg.Sampler)
	l.pooled = pooled
	l.x, l.convShape, l.ran = x, conv.Shape(), true
	y := l.pooled.Out
	return &Batch{Grid: y, Sizes: outSizes, Index: tensor.MaskFromWidths(y.W, outSizes)}, nil
}

// Backward routes the gradient through the recorded pooling regions and the
// convolution.
func (l *ConvFMP) Backward(grad []float32) ([]float32, error) {
	if !l.ran {
		return nil, ErrNoForward
	}
	out := l.pooled.Out
	if len(grad) != len(out.Data) {
		return nil, fmt.Errorf("%w: gradient length %d, want %d", ErrShape, len(grad), len(out.Data))
	}
	dy := tensor.GridFrom(out.H, out.W, out.B, out.C, grad)
	d := kernels.MaxPoolBackward(dy, l.pooled.Argmax, l.convShape[0], l.convShape[1])
	dx, dw, db := kernels.ConvValidBackward(l.x, l.p.w, l.p.shape, d)
	l.p.accumulate(dw, db)
	if !l.padded {
		return dx.Data, nil
	}
	return unpad(dx, l.rawShape, l.rawSizes).Data, nil
}

func (l *ConvFMP) Params() []float32 { return concatParams(l.p.w, l.p.b) }

func (l *ConvFMP) SetParams(params []float32) { splitParams(params, l.p.w, l.p.b) }

func (l *ConvFMP) Gradients() []float32 { return concatParams(l.p.gradW, l.p.gradB) }

func (l *ConvFMP) ClearGradients() { clear32(l.p.gradW, l.p.gradB) }

func (l *ConvFMP) NOut() int { return l.cfg.NFeatures }
