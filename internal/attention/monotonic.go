package attention

import "github.com/asrkit/spellout/internal/tensor"

// Monotonic is hard monotonic chunkwise attention for streaming decoding.
// In Hard mode each query scans forward from its previous attention boundary
// until the selection probability sigmoid(e_t) crosses 0.5; that frame
// becomes the new boundary and soft chunk weights are computed over a fixed
// window ending there. When no frame in the supplied chunk triggers, the
// weights come back all zero, which the chunk-synchronous decoder reads as
// "wait for more input". In Parallel mode it degrades to soft attention over
// the whole utterance so the training path stays differentiable-shaped.
type Monotonic struct {
	// Selection energy network (additive, sigmoid output).
	Wk *tensor.Mat // [attnDim, encUnits]
	Wq *tensor.Mat // [attnDim, qdim]
	V  []float32
	B  []float32
	// Bias added to selection energies; negative values delay triggering.
	R float32

	// ChunkSize is the soft window length ending at the boundary.
	ChunkSize int

	attnDim int
	cache   map[*tensor.Mat]*tensor.Mat
}

// NewMonotonic allocates a zero-weight scorer with the given window size.
func NewMonotonic(encUnits, qdim, attnDim, chunkSize int) *Monotonic {
	if chunkSize < 1 {
		chunkSize = 1
	}
	return &Monotonic{
		Wk:        tensor.NewMat(attnDim, encUnits),
		Wq:        tensor.NewMat(attnDim, qdim),
		V:         make([]float32, attnDim),
		B:         make([]float32, attnDim),
		ChunkSize: chunkSize,
		attnDim:   attnDim,
		cache:     make(map[*tensor.Mat]*tensor.Mat),
	}
}

// InitUniform fills the weights with uniform values in (-bound, bound).
func (a *Monotonic) InitUniform(seed int64, bound float32) {
	tensor.FillUniform(a.Wk, seed+1, bound)
	tensor.FillUniform(a.Wq, seed+2, bound)
	buf := tensor.NewMat(1, len(a.V))
	tensor.FillUniform(buf, seed+3, bound)
	copy(a.V, buf.Data)
}

func (a *Monotonic) Reset() { a.cache = make(map[*tensor.Mat]*tensor.Mat) }

func (a *Monotonic) NumHeads() int { return 1 }

func (a *Monotonic) projectedKeys(keys *tensor.Mat, cache bool) *tensor.Mat {
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

func (a *Monotonic) energy(pk *tensor.Mat, pq []float32, t int, mix []float32) float32 {
	row := pk.Row(t)
	for i := range mix {
		mix[i] = tensor.Tanh(row[i] + pq[i])
	}
	return tensor.Dot(a.V, mix) + a.R
}

// boundary recovers a query's previous attention boundary from its previous
// weight row: the last frame carrying the row's maximum weight. -1 when the
// row is nil or all zero (no trigger yet).
func boundary(prevRow []float32, elen int) int {
	best := -1
	var bestW float32
	for t := 0; t < elen && t < len(prevRow); t++ {
		if prevRow[t] > 0 && prevRow[t] >= bestW {
			bestW = prevRow[t]
			best = t
		}
	}
	return best
}

func (a *Monotonic) Score(keys *tensor.Mat, elen int, query, prev *tensor.Mat, mode Mode, cache bool, trigger int) (*tensor.Mat, *tensor.Mat) {
	T := keys.R
	pk := a.projectedKeys(keys, cache)
	ctx := tensor.NewMat(query.R, keys.C)
	w := tensor.NewMat(query.R, T)
	pq := make([]float32, a.attnDim)
	mix := make([]float32, a.attnDim)
	for b := 0; b < query.R; b++ {
		tensor.MatVec(pq, a.Wq, query.Row(b))
		e := w.Row(b)

		if mode == Parallel && trigger < 0 {
			for t := 0; t < elen; t++ {
				e[t] = a.energy(pk, pq, t, mix)
			}
			maskedSoftmax(e, elen)
			applyWeights(ctx.Row(b), keys, e, elen)
			continue
		}

		// Hard mode: scan from the previous boundary for the first
		// frame whose selection probability crosses 0.5.
		start := 0
		if prev != nil {
			if tp := boundary(prev.Row(b), elen); tp >= 0 {
				start = tp
			}
		}
		point := -1
		if trigger >= 0 {
			point = trigger
		} else {
			for t := start; t < elen; t++ {
				if tensor.Sigmoid(a.energy(pk, pq, t, mix)) >= 0.5 {
					point = t
					break
				}
			}
		}
		if point < 0 {
			// No new trigger in the supplied frames: zero weights,
			// zero context.
			continue
		}

		// Soft weights over the chunk window ending at the boundary.
		lo := point - a.ChunkSize + 1
		if lo < 0 {
			lo = 0
		}
		for t := lo; t <= point; t++ {
			e[t] = a.energy(pk, pq, t, mix)
		}
		tensor.Softmax(e[lo : point+1])
		applyWeights(ctx.Row(b), keys, e, elen)
	}
	return ctx, w
}
