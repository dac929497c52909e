package attention

import (
	"github.com/asrkit/spellout/internal/tensor"
)

// Additive is single-head content-based attention: the energy for frame t is
// v . tanh(Wk k_t + Wq q + b). The projected keys are cached per utterance
// because they do not depend on the query.
type Additive struct {
	Wk *tensor.Mat // [attnDim, encUnits]
	Wq *tensor.Mat // [attnDim, qdim]
	V  []float32   // [attnDim]
	B  []float32   // [attnDim]

	// Sharpening scales energies before normalization; 1 leaves them
	// unchanged. SigmoidSmoothing replaces softmax with normalized
	// sigmoids, which spreads mass over long utterances.
	Sharpening       float32
	SigmoidSmoothing bool

	attnDim int
	cache   map[*tensor.Mat]*tensor.Mat
}

// NewAdditive allocates a zero-weight scorer for the given geometry.
func NewAdditive(encUnits, qdim, attnDim int) *Additive {
	return &Additive{
		Wk:         tensor.NewMat(attnDim, encUnits),
		Wq:         tensor.NewMat(attnDim, qdim),
		V:          make([]float32, attnDim),
		B:          make([]float32, attnDim),
		Sharpening: 1,
		attnDim:    attnDim,
		cache:      make(map[*tensor.Mat]*tensor.Mat),
	}
}

// InitUniform fills the weights with uniform values in (-bound, bound).
func (a *Additive) InitUniform(seed int64, bound float32) {
	tensor.FillUniform(a.Wk, seed+1, bound)
	tensor.FillUniform(a.Wq, seed+2, bound)
	buf := tensor.NewMat(1, len(a.V))
	tensor.FillUniform(buf, seed+3, bound)
	copy(a.V, buf.Data)
}

func (a *Additive) Reset() { a.cache = make(map[*tensor.Mat]*tensor.Mat) }

func (a *Additive) NumHeads() int { return 1 }

// projectedKeys returns Wk*keys (+b), cached per keys matrix while cache is
// requested.
func (a *Additive) projectedKeys(keys *tensor.Mat, cache bool) *tensor.Mat {
	if pk, ok := a.cache[keys]; ok {
		return pk
	}
	pk := tensor.NewMat(keys.R, a.attnDim)
	tensor.ProjectRows(pk, keys, a.Wk, a.B)
	if cache {
		a.cache[keys] = pk
	}
	return pk
}

func (a *Additive) Score(keys *tensor.Mat, elen int, query, prev *tensor.Mat, mode Mode, cache bool, trigger int) (*tensor.Mat, *tensor.Mat) {
	T := keys.R
	pk := a.projectedKeys(keys, cache)
	ctx := tensor.NewMat(query.R, keys.C)
	w := tensor.NewMat(query.R, T)
	pq := make([]float32, a.attnDim)
	mix := make([]float32, a.attnDim)
	for b := 0; b < query.R; b++ {
		tensor.MatVec(pq, a.Wq, query.Row(b))
		e := w.Row(b)
		for t := 0; t < elen; t++ {
			pkRow := pk.Row(t)
			for i := range mix {
				mix[i] = tensor.Tanh(pkRow[i] + pq[i])
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

// sigmoidNormalize replaces softmax with sigmoid(e_t) / sum(sigmoid(e)).
func sigmoidNormalize(e []float32, elen int) {
	var sum float32
	for t := 0; t < elen; t++ {
		e[t] = tensor.Sigmoid(e[t])
		sum += e[t]
	}
	if sum > 0 {
		inv := 1 / sum
		for t := 0; t < elen; t++ {
			e[t] *= inv
		}
	}
	for t := elen; t < len(e); t++ {
		e[t] = 0
	}
}
