package attention

import "github.com/asrkit/spellout/internal/tensor"

// Location is additive attention extended with a location term: the previous
// step's weights are run through a 1-D convolution and the channel outputs
// are projected into the energy, which biases the mechanism towards moving
// monotonically over the input.
type Location struct {
	*Additive
	ConvW *tensor.Mat // [channels, kernel]
	Wf    *tensor.Mat // [attnDim, channels]

	channels int
	kernel   int
}

// NewLocation builds a location-aware scorer. kernel must be odd so the
// convolution is centered.
func NewLocation(encUnits, qdim, attnDim, channels, kernel int) *Location {
	if kernel%2 == 0 {
		panic("attention: location conv kernel must be odd")
	}
	return &Location{
		Additive: NewAdditive(encUnits, qdim, attnDim),
		ConvW:    tensor.NewMat(channels, kernel),
		Wf:       tensor.NewMat(attnDim, channels),
		channels: channels,
		kernel:   kernel,
	}
}

// InitUniform fills the weights with uniform values in (-bound, bound).
func (a *Location) InitUniform(seed int64, bound float32) {
	a.Additive.InitUniform(seed, bound)
	tensor.FillUniform(a.ConvW, seed+4, bound)
	tensor.FillUniform(a.Wf, seed+5, bound)
}

func (a *Location) Score(keys *tensor.Mat, elen int, query, prev *tensor.Mat, mode Mode, cache bool, trigger int) (*tensor.Mat, *tensor.Mat) {
	T := keys.R
	pk := a.projectedKeys(keys, cache)
	ctx := tensor.NewMat(query.R, keys.C)
	w := tensor.NewMat(query.R, T)
	pq := make([]float32, a.attnDim)
	mix := make([]float32, a.attnDim)
	conv := make([]float32, a.channels)
	loc := make([]float32, a.attnDim)
	half := a.kernel / 2
	for b := 0; b < query.R; b++ {
		tensor.MatVec(pq, a.Wq, query.Row(b))
		var prevRow []float32
		if prev != nil {
			prevRow = prev.Row(b)
		}
		e := w.Row(b)
		for t := 0; t < elen; t++ {
			// Convolve the previous weights around frame t.
			for ch := range conv {
				var sum float32
				if prevRow != nil {
					for k := 0; k < a.kernel; k++ {
						src := t + k - half
						if src >= 0 && src < elen {
							sum += a.ConvW.Row(ch)[k] * prevRow[src]
						}
					}
				}
				conv[ch] = sum
			}
			tensor.MatVec(loc, a.Wf, conv)
			pkRow := pk.Row(t)
			for i := range mix {
				mix[i] = tensor.Tanh(pkRow[i] + pq[i] + loc[i])
			}
			e[t] = tensor.Dot(a.V, mix) * a.Sharpening
		}
		if a.SigmoidSmoothing {
			sigmoidNormalize(e, elen)
		} else {
			maskedSoftmax(e, elen)
		}
		applyWeights(ctx.Row(b), keys, e, elen)
	}
	return ctx, w
}
