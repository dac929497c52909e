package decoder

import (
	"fmt"
	"math"

	"github.com/asrkit/spellout/internal/attention"
	"github.com/asrkit/spellout/internal/ctc"
	"github.com/asrkit/spellout/internal/lm"
	"github.com/asrkit/spellout/internal/tensor"
)

// ChunkOptions configures one chunk-synchronous call.
type ChunkOptions struct {
	// LM is the shallow-fusion model, LM2nd the forward rescoring model.
	LM    lm.Model
	LM2nd lm.Model
	// CTCChunk is this chunk's CTC lattice slice, appended to the
	// session's streaming scorer.
	CTCChunk *tensor.Mat
	// StateCarryOver warm-starts the first chunk of an utterance from the
	// session's final states.
	StateCarryOver bool
}

// BeamSearchChunkSync advances the streaming beam search over one encoder
// chunk. Hypothesis state lives in sess between calls: sess.Segment holds
// the live hypotheses, sess.CTCScorer and sess.Frames the streaming CTC
// context. A nil sess.Segment marks the first chunk of an utterance.
//
// Hypotheses whose attention finds no new trigger in this chunk are passed
// through unchanged and flagged; the chunk's decoding halts once every live
// hypothesis is flagged. Returns the hypotheses completed in this chunk and
// the still-live segment. Final states are persisted only when something
// completed.
func (d *Decoder) BeamSearchChunkSync(chunk *tensor.Mat, p Params, opt ChunkOptions, sess *Session) (end, segment []*Hypothesis, err error) {
	if sess == nil {
		return nil, nil, fmt.Errorf("decoder: chunk-synchronous decoding needs a session")
	}
	if err := p.validate(1); err != nil {
		return nil, nil, err
	}
	if opt.LM != nil && p.LMWeight <= 0 {
		return nil, nil, fmt.Errorf("decoder: shallow-fusion LM without a positive lm weight")
	}
	if opt.LM2nd != nil && p.LMSecondWeight <= 0 {
		return nil, nil, fmt.Errorf("decoder: second-pass LM without a positive weight")
	}
	if opt.CTCChunk != nil && p.CTCWeight <= 0 {
		return nil, nil, fmt.Errorf("decoder: ctc lattice supplied without a positive ctc weight")
	}

	d.score.Reset()

	firstChunk := sess.Segment == nil
	if opt.CTCChunk != nil {
		if firstChunk {
			sess.CTCScorer, err = ctc.NewPrefixScorer(opt.CTCChunk, d.cfg.Blank, d.cfg.EOS)
			if err != nil {
				return nil, nil, err
			}
		} else if sess.CTCScorer == nil {
			return nil, nil, fmt.Errorf("decoder: ctc chunk after a first chunk without ctc")
		} else if err := sess.CTCScorer.RegisterNewChunk(opt.CTCChunk); err != nil {
			return nil, nil, err
		}
	}

	hyps := sess.Segment
	if firstChunk {
		sess.Frames = 0
		dstates := d.stack.ZeroState(1)
		var lmstate *lm.State
		if opt.StateCarryOver {
			if sess.DStates != nil {
				dstates = sess.DStates
			}
			lmstate = sess.LMState
		}
		root := &Hypothesis{
			Seq:     []int{d.cfg.EOS},
			DStates: dstates,
			CV:      make([]float32, d.cfg.EncUnits),
			LMState: lmstate,
		}
		if sess.CTCScorer != nil {
			root.CTC = &CTCHypState{State: sess.CTCScorer.InitialState()}
		}
		hyps = []*Hypothesis{root}
	}

	ytime := int(math.Floor(float64(chunk.R)*float64(p.MaxLenRatio))) + 1
	var endHyps []*Hypothesis
	for t := 0; t < ytime; t++ {
		if t > 0 && allNoTrigger(hyps) {
			break
		}

		batch := gatherBeam(hyps, chunk.R, d.score.NumHeads())
		if t == 0 && !firstChunk {
			// Carried weight rows index the previous chunk's frames;
			// the monotonic scan restarts at this chunk's first frame.
			batch.prevW = nil
		}

		var lmFeat, scoresLM *tensor.Mat
		var lmNext *lm.State
		if d.fusionLM != nil {
			lmFeat, lmNext, scoresLM = d.fusionLM.Predict(batch.tokens, batch.lmstate)
		} else if opt.LM != nil {
			lmFeat, lmNext, scoresLM = opt.LM.Predict(batch.tokens, batch.lmstate)
		}

		dstatesNext, cv, aw, attnV := d.decodeStep(chunk, chunk.R, batch.dstates, batch.cv,
			d.embedTokens(batch.tokens), batch.prevW, lmFeat, attention.Hard, true, -1)
		scoresAttn := d.stepLogProbs(attnV, 1, hyps, nil, batch.tokens)

		var newHyps []*Hypothesis
		for j, h := range hyps {
			if tensor.Sum(aw.Row(j)) == 0 {
				// No trigger point found in this chunk: pass the
				// hypothesis through so the next chunk can pick it
				// up, with a zero weight row standing in for this
				// chunk (the first token of the next chunk may
				// still be <eos>).
				newHyps = append(newHyps, h.passThrough(chunk.R*d.score.NumHeads()))
				continue
			}
			newHyps = d.expandHypothesis(newHyps, h, j, scoresAttn, scoresLM, aw, cv,
				dstatesNext, lmNext, sess.CTCScorer, streamParams(p), streamOptions(opt), chunk.R, chunk.R, t == 0)
		}
		sortByScore(newHyps)
		if len(newHyps) > p.BeamWidth {
			newHyps = newHyps[:p.BeamWidth]
		}

		hyps = hyps[:0]
		for _, h := range newHyps {
			if h.endsWith(d.cfg.EOS) {
				endHyps = append(endHyps, h)
			} else {
				hyps = append(hyps, h)
			}
		}
		if len(endHyps) >= p.BeamWidth {
			endHyps = endHyps[:p.BeamWidth]
			break
		}
		if len(hyps) == 0 {
			break
		}
	}

	if opt.LM2nd != nil && len(endHyps) > 0 {
		d.rescoreLM(endHyps, opt.LM2nd, p.LMSecondWeight, false)
	}
	sortByScore(endHyps)

	if len(endHyps) > 0 {
		sess.DStates = endHyps[0].DStates
		sess.LMState = endHyps[0].LMState
	}
	sess.Frames += chunk.R
	sess.Segment = hyps
	return endHyps, hyps, nil
}

func allNoTrigger(hyps []*Hypothesis) bool {
	for _, h := range hyps {
		if !h.NoTrigger {
			return false
		}
	}
	return len(hyps) > 0
}

// passThrough clones h for the next step with the no-trigger flag set and
// this chunk's zero weight row replacing the stale previous-chunk row.
func (h *Hypothesis) passThrough(weightLen int) *Hypothesis {
	c := *h
	c.NoTrigger = true
	if len(h.AWs) > 0 {
		c.AWs = make([][]float32, len(h.AWs))
		copy(c.AWs, h.AWs)
		c.AWs[len(c.AWs)-1] = make([]float32, weightLen)
	}
	return &c
}

// streamParams strips the whole-utterance-only terms from the parameter set:
// chunk mode always length-normalizes, uses the additive length penalty and
// no coverage penalty or minimum length.
func streamParams(p Params) Params {
	p.GNMTDecoding = false
	p.CoveragePenalty = 0
	p.MinLenRatio = 0
	p.LengthNorm = true
	p.SoftmaxSmoothing = 1
	return p
}

func streamOptions(opt ChunkOptions) Options {
	return Options{LM: opt.LM}
}
