package layer

import (
	"fmt"
	"math"
)

// MaxPool2D implements non-overlapping max pooling for the composed path.
// Tensors are laid out (batch, channel, height, width). Trailing rows and
// columns that do not fill a window are dropped.
// Stores argmax indices for correct gradient flow during backward pass.
type MaxPool2D struct {
	poolH, poolW int

	inputLen     int
	outputHeight int
	outputWidth  int
	argmaxBuf    []int
}

// NewMaxPool2D creates a poolH x poolW max pooling with stride equal to the
// window.
func NewMaxPool2D(poolH, poolW int) *MaxPool2D {
	return &MaxPool2D{poolH: poolH, poolW: poolW}
}

// computeOutputSize calculates the output spatial dimensions
func (m *MaxPool2D) computeOutputSize(inputHeight, inputWidth int) (int, int) {
	return inputHeight / m.poolH, inputWidth / m.poolW
}

// Forward pools input, flattened [planes, height, width] where planes is
// batch*channels.
func (m *MaxPool2D) Forward(input []float32, planes, inputHeight, inputWidth int) []float32 {
	if len(input) != planes*inputHeight*inputWidth {
		panic(fmt.Sprintf("MaxPool2D: input length %d does not match (%d,%d,%d)", len(input), planes, inputHeight, inputWidth))
	}
	m.inputLen = len(input)
	m.outputHeight, m.outputWidth = m.computeOutputSize(inputHeight, inputWidth)
	outH, outW := m.outputHeight, m.outputWidth

	channelStride := inputHeight * inputWidth
	outputChannelStride := outH * outW
	output := make([]float32, planes*outputChannelStride)
	m.argmaxBuf = make([]int, len(output))

	for c := 0; c < planes; c++ {
		channelOffset := c * channelStride
		outputOffset := c * outputChannelStride

		for oh := 0; oh < outH; oh++ {
			for ow := 0; ow < outW; ow++ {
				maxVal := float32(math.Inf(-1))
				maxIdx := -1

				for kh := 0; kh < m.poolH; kh++ {
					for kw := 0; kw < m.poolW; kw++ {
						idx := channelOffset + (oh*m.poolH+kh)*inputWidth + ow*m.poolW + kw
						if input[idx] > maxVal {
							maxVal = input[idx]
							maxIdx = idx
						}
					}
				}

				pos := outputOffset + oh*outW + ow
				output[pos] = maxVal
				m.argmaxBuf[pos] = maxIdx
			}
		}
	}

	return output
}

// Backward passes each output gradient only to the max input position.
func (m *MaxPool2D) Backward(grad []float32) []float32 {
	gradIn := make([]float32, m.inputLen)
	for pos, g := range grad {
		if maxIdx := m.argmaxBuf[pos]; maxIdx >= 0 {
			gradIn[maxIdx] += g
		}
	}
	return gradIn
}

// GetArgmax returns the argmax indices of the last forward pass.
func (m *MaxPool2D) GetArgmax() []int {
	return m.argmaxBuf
}
