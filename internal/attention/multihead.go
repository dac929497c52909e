package attention

import (
	"math"

	"github.com/asrkit/spellout/internal/tensor"
)

// Multihead is scaled dot-product attention with H independent heads. Each
// head projects the query and keys into a headDim subspace; the per-head
// contexts are concatenated and projected back to the encoder width so the
// decoders see the same context geometry as with single-head scorers.
type Multihead struct {
	Wq []*tensor.Mat // per head [headDim, qdim]
	Wk []*tensor.Mat // per head [headDim, encUnits]
	Wv []*tensor.Mat // per head [headDim, encUnits]
	Wo *tensor.Mat   // [encUnits, heads*headDim]

	heads   int
	headDim int
	cache   map[*tensor.Mat][]*tensor.Mat
}

// NewMultihead allocates a zero-weight scorer with the given head count.
func NewMultihead(encUnits, qdim, headDim, heads int) *Multihead {
	m := &Multihead{
		Wq:      make([]*tensor.Mat, heads),
		Wk:      make([]*tensor.Mat, heads),
		Wv:      make([]*tensor.Mat, heads),
		Wo:      tensor.NewMat(encUnits, heads*headDim),
		heads:   heads,
		headDim: headDim,
		cache:   make(map[*tensor.Mat][]*tensor.Mat),
	}
	for h := 0; h < heads; h++ {
		m.Wq[h] = tensor.NewMat(headDim, qdim)
		m.Wk[h] = tensor.NewMat(headDim, encUnits)
		m.Wv[h] = tensor.NewMat(headDim, encUnits)
	}
	return m
}

// InitUniform fills the weights with uniform values in (-bound, bound).
func (m *Multihead) InitUniform(seed int64, bound float32) {
	for h := 0; h < m.heads; h++ {
		tensor.FillUniform(m.Wq[h], seed+int64(h)*3+1, bound)
		tensor.FillUniform(m.Wk[h], seed+int64(h)*3+2, bound)
		tensor.FillUniform(m.Wv[h], seed+int64(h)*3+3, bound)
	}
	tensor.FillUniform(m.Wo, seed, bound)
}

func (m *Multihead) Reset() { m.cache = make(map[*tensor.Mat][]*tensor.Mat) }

func (m *Multihead) NumHeads() int { return m.heads }

// projected returns the per-head projected keys and values for one utterance,
// cached per keys matrix. Index h holds keys, heads+h holds values.
func (m *Multihead) projected(keys *tensor.Mat, cache bool) []*tensor.Mat {
	if pk, ok := m.cache[keys]; ok {
		return pk
	}
	pk := make([]*tensor.Mat, 2*m.heads)
	for h := 0; h < m.heads; h++ {
		pk[h] = tensor.NewMat(keys.R, m.headDim)
		tensor.ProjectRows(pk[h], keys, m.Wk[h], nil)
		pk[m.heads+h] = tensor.NewMat(keys.R, m.headDim)
		tensor.ProjectRows(pk[m.heads+h], keys, m.Wv[h], nil)
	}
	if cache {
		m.cache[keys] = pk
	}
	return pk
}

func (m *Multihead) Score(keys *tensor.Mat, elen int, query, prev *tensor.Mat, mode Mode, cache bool, trigger int) (*tensor.Mat, *tensor.Mat) {
	T := keys.R
	pk := m.projected(keys, cache)
	ctx := tensor.NewMat(query.R, keys.C)
	w := tensor.NewMat(query.R, m.heads*T)
	scale := float32(1 / math.Sqrt(float64(m.headDim)))
	q := make([]float32, m.headDim)
	merged := make([]float32, m.heads*m.headDim)
	for b := 0; b < query.R; b++ {
		for h := 0; h < m.heads; h++ {
			tensor.MatVec(q, m.Wq[h], query.Row(b))
			e := w.Row(b)[h*T : (h+1)*T]
			for t := 0; t < elen; t++ {
				e[t] = tensor.Dot(q, pk[h].Row(t)) * scale
			}
			maskedSoftmax(e, elen)
			head := merged[h*m.headDim : (h+1)*m.headDim]
			applyWeights(head, pk[m.heads+h], e, elen)
		}
		tensor.MatVec(ctx.Row(b), m.Wo, merged)
	}
	return ctx, w
}
