// Package goneuron2d exposes the 2D recurrent layers and the pipeline that
// composes them.
package goneuron2d

import (
	"github.com/FlavioCFOliveira/GoNeuron2D/internal/diag"
	"github.com/FlavioCFOliveira/GoNeuron2D/internal/kernels"
	"github.com/FlavioCFOliveira/GoNeuron2D/internal/layer"
	"github.com/FlavioCFOliveira/GoNeuron2D/internal/net"
	"github.com/FlavioCFOliveira/GoNeuron2D/internal/tensor"
	"github.com/sirupsen/logrus"
)

// Re-export common types for easier access
type (
	Pipeline = net.Pipeline
	Layer    = layer.Layer
	Batch    = layer.Batch
	Device   = layer.Device

	Grid     = tensor.Grid
	Sequence = tensor.Sequence
	Matrix   = tensor.Matrix
	Sizes    = tensor.Sizes
	Mask     = tensor.Mask

	Reporter = diag.Reporter

	TwoDLSTMConfig = layer.TwoDLSTMConfig
	DeepLSTMConfig = layer.DeepLSTMConfig
	ConvPoolConfig = layer.ConvPoolConfig
	ConvFMPConfig  = layer.ConvFMPConfig

	Sampler      = kernels.Sampler
	FixedSampler = kernels.FixedSampler
)

// Projections
const (
	Average = layer.ProjectionAverage
	Concat  = layer.ProjectionConcat
)

// Errors
var (
	ErrRank       = layer.ErrRank
	ErrShape      = layer.ErrShape
	ErrSources    = layer.ErrSources
	ErrDirections = layer.ErrDirections
	ErrProjection = layer.ErrProjection
	ErrCollapse   = layer.ErrCollapse
	ErrConfig     = layer.ErrConfig
	ErrNoForward  = layer.ErrNoForward

	ErrParamLength = net.ErrParamLength
)

// Pipeline creation
func NewPipeline(layout Layer, stages ...Layer) *Pipeline {
	return net.New(layout, stages...)
}

// Tensors
func NewGrid(h, w, b, c int) *Grid { return tensor.NewGrid(h, w, b, c) }

func NewSequence(t, b, f int) *Sequence { return tensor.NewSequence(t, b, f) }

func NewMatrix(rows, cols int, data []float32) *Matrix { return tensor.NewMatrix(rows, cols, data) }

func NewSizes(pairs ...[2]int) Sizes { return tensor.NewSizes(pairs...) }

func MaskFromLengths(rows int, lengths []int) *Mask { return tensor.MaskFromLengths(rows, lengths) }

// NewReporter creates a one-shot warning reporter. A nil logger uses the
// logrus standard logger.
func NewReporter(logger logrus.FieldLogger) *Reporter { return diag.NewReporter(logger) }

// Devices
func DefaultDevice() Device { return layer.GetDefaultDevice() }

func ParseDevice(name string) (Device, error) { return layer.ParseDevice(name) }

// Layers
func OneDToTwoD(nIn int, batchNorm bool) (Layer, error) {
	l, err := layer.NewOneDToTwoD(nIn, batchNorm)
	if err != nil {
		return nil, err
	}
	return l, nil
}

func OneDToTwoDFixedSize() Layer {
	return layer.NewOneDToTwoDFixedSize()
}

func TwoDLSTM(cfg TwoDLSTMConfig) (Layer, error) {
	l, err := layer.NewTwoDLSTM(cfg)
	if err != nil {
		return nil, err
	}
	return l, nil
}

func DeepLSTM(cfg DeepLSTMConfig) (Layer, error) {
	l, err := layer.NewDeepLSTM(cfg)
	if err != nil {
		return nil, err
	}
	return l, nil
}

func ConvPool(cfg ConvPoolConfig) (Layer, error) {
	l, err := layer.NewConvPool(cfg)
	if err != nil {
		return nil, err
	}
	return l, nil
}

func ConvFMP(cfg ConvFMPConfig) (Layer, error) {
	l, err := layer.NewConvFMP(cfg)
	if err != nil {
		return nil, err
	}
	return l, nil
}

// NewRandomSampler returns a seeded fractional pooling sampler.
func NewRandomSampler(seed int64) Sampler { return kernels.NewRandomSampler(seed) }
