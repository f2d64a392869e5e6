package layer

import "fmt"

// Conv2D is the generic valid-mode convolution used by the composed path.
// Tensors are laid out (batch, channel, height, width); stride is 1 and the
// filter bank (outChannels, inChannels, kernelH, kernelW) is owned by the
// caller and passed to every call. No bias is applied.
type Conv2D struct {
	inChannels  int
	outChannels int
	kernelH     int
	kernelW     int

	// Dimensions of the last forward pass
	batch       int
	inputHeight int
	inputWidth  int

	savedInput   []float32
	savedWeights []float32
}

// NewConv2D creates a convolution with a kernelH x kernelW window.
func NewConv2D(inChannels, outChannels, kernelH, kernelW int) *Conv2D {
	return &Conv2D{
		inChannels:  inChannels,
		outChannels: outChannels,
		kernelH:     kernelH,
		kernelW:     kernelW,
	}
}

// computeOutputSize calculates the output spatial dimensions
func (c *Conv2D) computeOutputSize(inputHeight, inputWidth int) (int, int) {
	outH := inputHeight - c.kernelH + 1
	outW := inputWidth - c.kernelW + 1
	if outH < 0 {
		outH = 0
	}
	if outW < 0 {
		outW = 0
	}
	return outH, outW
}

// Forward convolves input, flattened [batch, inChannels, height, width],
// with weights and returns [batch, outChannels, outH, outW].
func (c *Conv2D) Forward(input, weights []float32, batch, height, width int) []float32 {
	if len(input) != batch*c.inChannels*height*width {
		panic(fmt.Sprintf("Conv2D: input length %d does not match (%d,%d,%d,%d)", len(input), batch, c.inChannels, height, width))
	}
	if len(weights) != c.outChannels*c.inChannels*c.kernelH*c.kernelW {
		panic(fmt.Sprintf("Conv2D: weights length %d does not match filter bank", len(weights)))
	}
	c.batch, c.inputHeight, c.inputWidth = batch, height, width
	c.savedInput = input
	c.savedWeights = weights

	outH, outW := c.computeOutputSize(height, width)
	outSize := outH * outW
	output := make([]float32, batch*c.outChannels*outSize)

	// Pre-compute weight stride values
	icWeightStride := c.kernelH * c.kernelW
	ocWeightStride := c.inChannels * icWeightStride
	inSize := height * width

	for n := 0; n < batch; n++ {
		inBase := n * c.inChannels * inSize
		outBase := n * c.outChannels * outSize

		for oc := 0; oc < c.outChannels; oc++ {
			ocWeightBase := oc * ocWeightStride
			ocOutBase := outBase + oc*outSize

			for ic := 0; ic < c.inChannels; ic++ {
				icWeightBase := ocWeightBase + ic*icWeightStride
				inputChannelOffset := inBase + ic*inSize

				for kh := 0; kh < c.kernelH; kh++ {
					khWeightBase := icWeightBase + kh*c.kernelW

					for kw := 0; kw < c.kernelW; kw++ {
						wVal := weights[khWeightBase+kw]

						for oh := 0; oh < outH; oh++ {
							inHOffset := inputChannelOffset + (oh+kh)*width
							ohOffset := ocOutBase + oh*outW
							for ow := 0; ow < outW; ow++ {
								output[ohOffset+ow] += wVal * input[inHOffset+ow+kw]
							}
						}
					}
				}
			}
		}
	}

	return output
}

// Backward returns the gradients with respect to the input and the filter
// bank of the last forward pass.
func (c *Conv2D) Backward(grad []float32) ([]float32, []float32) {
	outH, outW := c.computeOutputSize(c.inputHeight, c.inputWidth)
	outSize := outH * outW
	inSize := c.inputHeight * c.inputWidth

	gradInput := make([]float32, len(c.savedInput))
	gradWeights := make([]float32, len(c.savedWeights))

	icWeightStride := c.kernelH * c.kernelW
	ocWeightStride := c.inChannels * icWeightStride

	for n := 0; n < c.batch; n++ {
		inBase := n * c.inChannels * inSize
		outBase := n * c.outChannels * outSize

		for oc := 0; oc < c.outChannels; oc++ {
			ocWeightBase := oc * ocWeightStride
			ocOutBase := outBase + oc*outSize

			for oh := 0; oh < outH; oh++ {
				for ow := 0; ow < outW; ow++ {
					g := grad[ocOutBase+oh*outW+ow]
					if g == 0 {
						continue
					}

					for ic := 0; ic < c.inChannels; ic++ {
						icWeightBase := ocWeightBase + ic*icWeightStride
						inputChannelOffset := inBase + ic*inSize

						for kh := 0; kh < c.kernelH; kh++ {
							inHOffset := inputChannelOffset + (oh+kh)*c.inputWidth
							khWeightBase := icWeightBase + kh*c.kernelW

							for kw := 0; kw < c.kernelW; kw++ {
								inputIdx := inHOffset + ow + kw
								weightIdx := khWeightBase + kw
								gradWeights[weightIdx] += g * c.savedInput[inputIdx]
								gradInput[inputIdx] += g * c.savedWeights[weightIdx]
							}
						}
					}
				}
			}
		}
	}

	return gradInput, gradWeights
}
