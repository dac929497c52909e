// Package toy provides small deterministic acoustic models for tests,
// benchmarks and the bundled demo pipeline: a feed-forward frame encoder
// with subsampling and a CTC output head. They stand in for a real encoder
// so the decoding stack can be exercised end to end without trained weights.
package toy

import (
	"fmt"

	"github.com/asrkit/spellout/internal/tensor"
)

// Encoder maps feature frames to encoder outputs with a per-frame tanh
// projection after stacking Subsample consecutive frames.
type Encoder struct {
	InDim     int
	OutDim    int
	Subsample int

	W *tensor.Mat // [OutDim, InDim*Subsample]
	B []float32
}

// NewEncoder builds an encoder with weights drawn deterministically from
// seed. subsample < 1 is treated as 1.
func NewEncoder(inDim, outDim, subsample int, seed int64) (*Encoder, error) {
	if inDim < 1 || outDim < 1 {
		return nil, fmt.Errorf("toy: non-positive encoder dimension")
	}
	if subsample < 1 {
		subsample = 1
	}
	e := &Encoder{
		InDim:     inDim,
		OutDim:    outDim,
		Subsample: subsample,
		W:         tensor.NewMat(outDim, inDim*subsample),
		B:         make([]float32, outDim),
	}
	tensor.FillUniform(e.W, seed+1, 0.5)
	return e, nil
}

// Forward encodes a [T, InDim] frame matrix into [ceil(T/Subsample), OutDim].
// Trailing frames short of a full stack are zero-padded.
func (e *Encoder) Forward(frames *tensor.Mat) *tensor.Mat {
	if frames.C != e.InDim {
		panic("toy: frame width mismatch")
	}
	outT := (frames.R + e.Subsample - 1) / e.Subsample
	out := tensor.NewMat(outT, e.OutDim)
	stacked := make([]float32, e.InDim*e.Subsample)
	for t := 0; t < outT; t++ {
		for i := range stacked {
			stacked[i] = 0
		}
		for s := 0; s < e.Subsample; s++ {
			src := t*e.Subsample + s
			if src >= frames.R {
				break
			}
			copy(stacked[s*e.InDim:], frames.Row(src))
		}
		tensor.MatVecAdd(out.Row(t), e.W, stacked, e.B)
	}
	tensor.TanhInPlace(out.Data)
	return out
}

// CTCHead projects encoder outputs to a per-frame log-probability lattice
// over the vocabulary.
type CTCHead struct {
	Vocab int

	W *tensor.Mat // [Vocab, encDim]
	B []float32
}

// NewCTCHead builds a head with weights drawn deterministically from seed.
func NewCTCHead(encDim, vocab int, seed int64) (*CTCHead, error) {
	if encDim < 1 || vocab < 2 {
		return nil, fmt.Errorf("toy: bad ctc head geometry %dx%d", encDim, vocab)
	}
	h := &CTCHead{
		Vocab: vocab,
		W:     tensor.NewMat(vocab, encDim),
		B:     make([]float32, vocab),
	}
	tensor.FillUniform(h.W, seed+1, 0.5)
	return h, nil
}

// LogProbs returns the [T, Vocab] lattice with log-softmax rows.
func (h *CTCHead) LogProbs(eouts *tensor.Mat) *tensor.Mat {
	out := tensor.NewMat(eouts.R, h.Vocab)
	for t := 0; t < eouts.R; t++ {
		tensor.MatVecAdd(out.Row(t), h.W, eouts.Row(t), h.B)
		tensor.LogSoftmax(out.Row(t))
	}
	return out
}

// Frames synthesizes a deterministic [frames, dim] feature matrix, handy for
// benchmarks and demos that have no real audio front end.
func Frames(frames, dim int, seed int64) *tensor.Mat {
	m := tensor.NewMat(frames, dim)
	tensor.FillUniform(m, seed, 1)
	return m
}
