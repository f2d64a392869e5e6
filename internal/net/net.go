// Package net composes layers into a pipeline: a layout transform followed
// by 2D stages and an optional head.
package net

import (
	"errors"
	"fmt"

	"github.com/FlavioCFOliveira/GoNeuron2D/internal/layer"
)

// ErrParamLength is returned by SetParams when the flat parameter vector
// does not match the pipeline.
var ErrParamLength = errors.New("net: parameter vector length mismatch")

// Pipeline chains a layout transform and a list of stages. Forward runs them
// eagerly in order and Backward in reverse. Parameters of all layers are
// exposed as one flat vector for an external optimizer.
type Pipeline struct {
	Layout layer.Layer
	Stages []layer.Layer
}

// New creates a pipeline. layout may be nil when the input already carries
// a grid.
func New(layout layer.Layer, stages ...layer.Layer) *Pipeline {
	return &Pipeline{Layout: layout, Stages: stages}
}

// Layers returns the layout transform (if any) followed by the stages.
func (p *Pipeline) Layers() []layer.Layer {
	layers := make([]layer.Layer, 0, len(p.Stages)+1)
	if p.Layout != nil {
		layers = append(layers, p.Layout)
	}
	return append(layers, p.Stages...)
}

// Forward performs a forward pass through all layers.
func (p *Pipeline) Forward(in *layer.Batch) (*layer.Batch, error) {
	curr := in
	for i, l := range p.Layers() {
		out, err := l.Forward(curr)
		if err != nil {
			return nil, fmt.Errorf("layer %d (%s): %w", i, layerName(l), err)
		}
		curr = out
	}
	return curr, nil
}

// Backward performs a backward pass through all layers and returns the
// gradient with respect to the pipeline input.
func (p *Pipeline) Backward(grad []float32) ([]float32, error) {
	layers := p.Layers()
	curr := grad
	for i := len(layers) - 1; i >= 0; i-- {
		next, err := layers[i].Backward(curr)
		if err != nil {
			return nil, fmt.Errorf("layer %d (%s): %w", i, layerName(layers[i]), err)
		}
		curr = next
	}
	return curr, nil
}

// Params returns all parameters, layer by layer.
func (p *Pipeline) Params() []float32 {
	var params []float32
	for _, l := range p.Layers() {
		params = append(params, l.Params()...)
	}
	return params
}

// SetParams distributes a flat vector laid out like Params.
func (p *Pipeline) SetParams(params []float32) error {
	if len(params) != p.NumParams() {
		return fmt.Errorf("%w: got %d, want %d", ErrParamLength, len(params), p.NumParams())
	}
	off := 0
	for _, l := range p.Layers() {
		n := len(l.Params())
		l.SetParams(params[off : off+n])
		off += n
	}
	return nil
}

// Gradients returns all accumulated gradients in Params order.
func (p *Pipeline) Gradients() []float32 {
	var grads []float32
	for _, l := range p.Layers() {
		grads = append(grads, l.Gradients()...)
	}
	return grads
}

// ClearGradients resets the gradients of every layer.
func (p *Pipeline) ClearGradients() {
	for _, l := range p.Layers() {
		l.ClearGradients()
	}
}

// NumParams returns the total parameter count.
func (p *Pipeline) NumParams() int {
	total := 0
	for _, l := range p.Layers() {
		total += len(l.Params())
	}
	return total
}

// NOut returns the feature count of the last layer.
func (p *Pipeline) NOut() int {
	layers := p.Layers()
	if len(layers) == 0 {
		return 0
	}
	return layers[len(layers)-1].NOut()
}
