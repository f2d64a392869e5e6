package kernels

import (
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/FlavioCFOliveira/GoNeuron2D/internal/tensor"
)

// Sampler supplies the offset u in [0,1) that places the pooling regions of
// one axis of one sample.
type Sampler interface {
	Offset() float64
}

// FixedSampler always returns U. It makes fractional pooling deterministic.
type FixedSampler struct {
	U float64
}

// Offset returns U.
func (s FixedSampler) Offset() float64 { return s.U }

// RandomSampler draws offsets from a seeded source.
type RandomSampler struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomSampler creates a sampler seeded with seed.
func NewRandomSampler(seed int64) *RandomSampler {
	return &RandomSampler{rng: rand.New(rand.NewSource(seed))}
}

// Offset returns a uniform value in [0,1).
func (s *RandomSampler) Offset() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

// FractionalSize returns the pooled length of an axis of length n.
func FractionalSize(n int, ratio float64) int {
	if n <= 0 {
		return 0
	}
	m := int(math.Floor(float64(n) / ratio))
	if m < 1 {
		m = 1
	}
	if m > n {
		m = n
	}
	return m
}

// fractionalBounds splits [0,in) into out consecutive non-empty regions and
// returns the out+1 boundaries.
func fractionalBounds(in, out int, u float64) []int {
	bounds := make([]int, out+1)
	if out == 0 {
		return bounds
	}
	alpha := float64(in) / float64(out)
	base := math.Floor(alpha * u)
	for i := 1; i < out; i++ {
		bounds[i] = int(math.Floor(alpha*(float64(i)+u)) - base)
	}
	bounds[out] = in
	return bounds
}

// FractionalMaxPool pools x by a non-integer ratio. Every sample is split
// into its own pseudo-random regions derived from its extent; the returned
// extents are FractionalSize of the input extents.
func FractionalMaxPool(x *tensor.Grid, sizes tensor.Sizes, ratio float64, sampler Sampler) (Pooled, tensor.Sizes) {
	if ratio < 1 {
		panic(fmt.Sprintf("kernels: fractional pooling ratio %v < 1", ratio))
	}
	outSizes := sizes.Map(func(h, w int) (int, int) {
		return FractionalSize(h, ratio), FractionalSize(w, ratio)
	})
	out := tensor.NewGrid(FractionalSize(x.H, ratio), FractionalSize(x.W, ratio), x.B, x.C)
	argmax := make([]int, out.Len())
	for i := range argmax {
		argmax[i] = -1
	}
	for b := 0; b < x.B; b++ {
		oh, ow := outSizes.Height(b), outSizes.Width(b)
		rows := fractionalBounds(sizes.Height(b), oh, sampler.Offset())
		cols := fractionalBounds(sizes.Width(b), ow, sampler.Offset())
		for y := 0; y < oh; y++ {
			for xx := 0; xx < ow; xx++ {
				for c := 0; c < x.C; c++ {
					best := x.Index(rows[y], cols[xx], b, c)
					for iy := rows[y]; iy < rows[y+1]; iy++ {
						for ix := cols[xx]; ix < cols[xx+1]; ix++ {
							idx := x.Index(iy, ix, b, c)
							if x.Data[idx] > x.Data[best] {
								best = idx
							}
						}
					}
					pos := out.Index(y, xx, b, c)
					out.Data[pos] = x.Data[best]
					argmax[pos] = best
				}
			}
		}
	}
	return Pooled{Out: out, Argmax: argmax}, outSizes
}
