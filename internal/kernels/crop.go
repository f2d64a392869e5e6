package kernels

import "github.com/FlavioCFOliveira/GoNeuron2D/internal/tensor"

// CropFill is written outside the per-sample extents before pooling so that
// padding never wins a max.
const CropFill = float32(-1e20)

// CropToSizes returns a copy of x with positions outside each sample's extent
// set to CropFill.
func CropToSizes(x *tensor.Grid, sizes tensor.Sizes) *tensor.Grid {
	return x.FillOutside(sizes, CropFill)
}

// CropToSizesZero returns a copy of x with positions outside each sample's
// extent set to zero.
func CropToSizesZero(x *tensor.Grid, sizes tensor.Sizes) *tensor.Grid {
	return x.FillOutside(sizes, 0)
}

// CropBackward routes a crop gradient: positions that were overwritten get
// no gradient. It serves both crop variants.
func CropBackward(dy *tensor.Grid, sizes tensor.Sizes) *tensor.Grid {
	return dy.ZeroOutside(sizes)
}
