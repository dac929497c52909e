package decoder

import (
	"github.com/asrkit/spellout/internal/lm"
	"github.com/asrkit/spellout/internal/rnn"
	"github.com/asrkit/spellout/internal/tensor"
)

// beamBatch is the structure-of-arrays view of a live hypothesis list for
// one vectorized step: last tokens, context vectors, previous attention
// weights and recurrent/LM states, gathered into batched tensors. Results
// are scattered back per hypothesis when children are created.
type beamBatch struct {
	tokens  []int
	cv      *tensor.Mat
	prevW   *tensor.Mat // nil before the first step
	dstates *rnn.State
	lmstate *lm.State
}

// gatherBeam collects the step inputs from hyps. frames and heads fix the
// width of the previous-weights matrix; weight rows recorded against a
// different chunk length are truncated or zero-padded to fit.
func gatherBeam(hyps []*Hypothesis, frames, heads int) *beamBatch {
	n := len(hyps)
	b := &beamBatch{
		tokens: make([]int, n),
		cv:     tensor.NewMat(n, len(hyps[0].CV)),
	}
	states := make([]*rnn.State, n)
	lmStates := make([]*lm.State, n)
	havePrev := true
	for j, h := range hyps {
		b.tokens[j] = h.Seq[len(h.Seq)-1]
		b.cv.SetRow(j, h.CV)
		states[j] = h.DStates
		lmStates[j] = h.LMState
		if len(h.AWs) == 0 {
			havePrev = false
		}
	}
	b.dstates = rnn.Join(states)
	b.lmstate = lm.Join(lmStates)
	if havePrev {
		b.prevW = tensor.NewMat(n, heads*frames)
		for j, h := range hyps {
			last := h.AWs[len(h.AWs)-1]
			row := b.prevW.Row(j)
			if len(last) < len(row) {
				copy(row, last)
			} else {
				copy(row, last[:len(row)])
			}
		}
	}
	return b
}

// gatherEnsemble builds the step inputs of ensemble member i from the
// per-hypothesis ensemble states.
func gatherEnsemble(hyps []*Hypothesis, i, frames, heads int) *beamBatch {
	n := len(hyps)
	b := &beamBatch{
		tokens: make([]int, n),
		cv:     tensor.NewMat(n, len(hyps[0].Ensemble.CV[i])),
	}
	states := make([]*rnn.State, n)
	havePrev := true
	for j, h := range hyps {
		b.tokens[j] = h.Seq[len(h.Seq)-1]
		b.cv.SetRow(j, h.Ensemble.CV[i])
		states[j] = h.Ensemble.DStates[i]
		if h.Ensemble.AWs[i] == nil {
			havePrev = false
		}
	}
	b.dstates = rnn.Join(states)
	if havePrev {
		b.prevW = tensor.NewMat(n, heads*frames)
		for j, h := range hyps {
			last := h.Ensemble.AWs[i]
			row := b.prevW.Row(j)
			if len(last) < len(row) {
				copy(row, last)
			} else {
				copy(row, last[:len(row)])
			}
		}
	}
	return b
}
