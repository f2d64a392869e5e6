package main

import (
	"math"
	"math/rand"
	"os"

	"github.com/FlavioCFOliveira/GoNeuron2D/internal/diag"
	"github.com/FlavioCFOliveira/GoNeuron2D/internal/layer"
	"github.com/FlavioCFOliveira/GoNeuron2D/internal/net"
	"github.com/FlavioCFOliveira/GoNeuron2D/internal/tensor"
	"github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"
)

var (
	features   = kingpin.Flag("features", "input features per step").Default("3").Int()
	hidden     = kingpin.Flag("hidden", "hidden units per direction").Default("4").Int()
	directions = kingpin.Flag("directions", "number of sweep directions (1, 2 or 4)").Default("4").Int()
	projection = kingpin.Flag("projection", "how directions are combined").Default("average").Enum("average", "concat")
	collapse   = kingpin.Flag("collapse", "collapse mode of the top layer (sum, mean, conv, flatten, pad_N, false)").Default("mean").String()
	filter     = kingpin.Flag("filter", "convolution filter height and width").Default("2").Int()
	pool       = kingpin.Flag("pool", "pooling width").Default("2").Int()
	batchSize  = kingpin.Flag("batch", "samples per batch").Default("4").Int()
	maxSize    = kingpin.Flag("max-size", "largest sample height and width").Default("8").Int()
	device     = kingpin.Flag("device", "compute device (auto, cpu, fused)").Default("auto").String()
	batchNorm  = kingpin.Flag("batch-norm", "normalize layer outputs").Default("false").Bool()
	seed       = kingpin.Flag("seed", "random seed for data and weights").Default("42").Int64()
	debug      = kingpin.Flag("debug", "use debug level of logging").Default("false").Bool()
)

func main() {
	kingpin.Parse()
	if *debug {
		logrus.SetLevel(logrus.DebugLevel)
		logrus.Debug("Log level set to debug")
	}
	dev, err := layer.ParseDevice(*device)
	if err != nil {
		logrus.WithError(err).Fatal("Parse device failed")
	}
	logrus.WithFields(logrus.Fields{
		"device":     dev.Type().String(),
		"directions": *directions,
		"projection": *projection,
		"collapse":   *collapse,
	}).Info("Building pipeline")

	reporter := diag.NewReporter(logrus.StandardLogger())
	pipeline, err := build(dev, reporter)
	if err != nil {
		logrus.WithError(err).Fatal("Build pipeline failed")
	}
	pipeline.Summary(os.Stdout)

	rng := rand.New(rand.NewSource(*seed))
	in := syntheticBatch(rng)
	out, err := pipeline.Forward(in)
	if err != nil {
		logrus.WithError(err).Fatal("Forward pass failed")
	}
	fields := logrus.Fields{"features": pipeline.NOut()}
	if out.Index != nil {
		fields["valid"] = out.Index.ColumnSums()
	}
	if out.Seq != nil {
		fields["shape"] = out.Seq.Shape()
	} else {
		fields["shape"] = out.Grid.Shape()
	}
	logrus.WithFields(fields).Info("Forward pass done")

	// gradient of half the squared output norm
	grad := append([]float32(nil), out.Data()...)
	if _, err := pipeline.Backward(grad); err != nil {
		logrus.WithError(err).Fatal("Backward pass failed")
	}
	logrus.WithFields(logrus.Fields{
		"params":    pipeline.NumParams(),
		"grad_norm": norm(pipeline.Gradients()),
	}).Info("Backward pass done")
}

func build(dev layer.Device, reporter *diag.Reporter) (*net.Pipeline, error) {
	layout, err := layer.NewOneDToTwoD(*features, false)
	if err != nil {
		return nil, err
	}
	bottom, err := layer.NewTwoDLSTM(layer.TwoDLSTMConfig{
		NIn:        *features,
		NOut:       *hidden,
		Directions: *directions,
		Projection: *projection,
		BatchNorm:  *batchNorm,
		Device:     dev,
		Reporter:   reporter,
		Seed:       *seed,
	})
	if err != nil {
		return nil, err
	}
	conv, err := layer.NewConvPool(layer.ConvPoolConfig{
		NIn:       bottom.NOut(),
		NFeatures: *hidden,
		Filter:    [2]int{*filter, *filter},
		PoolSize:  [2]int{1, *pool},
		BatchNorm: *batchNorm,
		Device:    dev,
		Reporter:  reporter,
		Seed:      *seed,
	})
	if err != nil {
		return nil, err
	}
	top, err := layer.NewTwoDLSTM(layer.TwoDLSTMConfig{
		NIn:        conv.NOut(),
		NOut:       *hidden,
		Directions: *directions,
		Projection: *projection,
		Collapse:   *collapse,
		BatchNorm:  *batchNorm,
		Device:     dev,
		Reporter:   reporter,
		Seed:       *seed + 1,
	})
	if err != nil {
		return nil, err
	}
	return net.New(layout, bottom, conv, top), nil
}

// syntheticBatch draws ragged (height, width) extents and a sequence long
// enough to fill the largest one, packed the way OneDToTwoD expects.
func syntheticBatch(rng *rand.Rand) *layer.Batch {
	b := *batchSize
	side := make([]float32, 2*b)
	steps := 0
	for i := 0; i < b; i++ {
		h, w := 1+rng.Intn(*maxSize), 1+rng.Intn(*maxSize)
		side[i], side[b+i] = float32(h), float32(w)
		if h*w > steps {
			steps = h * w
		}
	}
	seq := tensor.NewSequence(steps, b, *features)
	for i := range seq.Data {
		seq.Data[i] = float32(rng.NormFloat64())
	}
	logrus.WithField("sizes", side).Debug("Synthetic batch")
	return &layer.Batch{Seq: seq, Side: tensor.NewMatrix(2, b, side)}
}

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}
