package decoder

import (
	"fmt"
	"math"

	"github.com/asrkit/spellout/internal/attention"
	"github.com/asrkit/spellout/internal/ctc"
	"github.com/asrkit/spellout/internal/lm"
	"github.com/asrkit/spellout/internal/logits"
	"github.com/asrkit/spellout/internal/rnn"
	"github.com/asrkit/spellout/internal/tensor"
)

// EnsembleMember is an additional decoder voting on the token distribution,
// with its own encoder outputs.
type EnsembleMember struct {
	Dec   *Decoder
	Eouts []*tensor.Mat
	Elens []int
}

// Options bundles the per-call collaborators of a decoding run.
type Options struct {
	// NBest is the number of hypotheses returned per utterance
	// (1 <= NBest <= Params.BeamWidth).
	NBest int
	// ExcludeEOS strips the final end symbol from returned sequences.
	ExcludeEOS bool
	// RefsID supplies reference transcripts for oracle decoding and
	// start-symbol replacement.
	RefsID [][]int
	// Speakers gates state carry-over: states persist only while the
	// speaker matches the previous call.
	Speakers []string
	// LM is the first-pass shallow-fusion model; LM2nd and LM2ndRev
	// rescore completed hypotheses forward and reversed.
	LM       lm.Model
	LM2nd    lm.Model
	LM2ndRev lm.Model
	// CTCLogProbs holds one [T, vocab] lattice per utterance (the blank
	// column at Config.Blank) for joint CTC/attention scoring.
	CTCLogProbs []*tensor.Mat
	// Ensemble adds further decoders whose probabilities are averaged in.
	Ensemble []EnsembleMember
}

func (o Options) validate(p Params) error {
	if o.LM != nil && p.LMWeight <= 0 {
		return fmt.Errorf("decoder: shallow-fusion LM without a positive lm weight")
	}
	if o.LM2nd != nil && p.LMSecondWeight <= 0 {
		return fmt.Errorf("decoder: second-pass LM without a positive weight")
	}
	if o.LM2ndRev != nil && p.LMRevWeight <= 0 {
		return fmt.Errorf("decoder: reverse second-pass LM without a positive weight")
	}
	if o.CTCLogProbs != nil && p.CTCWeight <= 0 {
		return fmt.Errorf("decoder: ctc lattice supplied without a positive ctc weight")
	}
	return nil
}

// Result is the n-best output for one utterance.
type Result struct {
	NBest  [][]int      // token ids, leading start symbol stripped
	Aligns []*Alignment // per n-best hypothesis, [heads, L, T]
	Scores []float32    // attention-only cumulative log scores
}

// BeamSearch decodes every utterance independently with joint
// CTC/attention/LM scoring. sess carries cross-utterance state; pass nil for
// a one-shot call.
func (d *Decoder) BeamSearch(eouts []*tensor.Mat, elens []int, p Params, opt Options, sess *Session) ([]Result, error) {
	if opt.NBest == 0 {
		opt.NBest = 1
	}
	if err := p.validate(opt.NBest); err != nil {
		return nil, err
	}
	if err := opt.validate(p); err != nil {
		return nil, err
	}
	if p.Oracle && opt.RefsID == nil {
		return nil, fmt.Errorf("decoder: oracle decoding without references")
	}
	if sess == nil {
		sess = NewSession()
	}

	results := make([]Result, 0, len(eouts))
	var finalBest *Hypothesis
	for b, keys := range eouts {
		elen := elens[b]
		d.score.Reset()
		dstates := d.stack.ZeroState(1)
		var lmstate *lm.State

		var prefix *ctc.PrefixScorer
		if opt.CTCLogProbs != nil {
			lattice := opt.CTCLogProbs[b]
			if d.cfg.Backward {
				lattice = reverseRows(lattice)
			}
			var err error
			prefix, err = ctc.NewPrefixScorer(lattice, d.cfg.Blank, d.cfg.EOS)
			if err != nil {
				return nil, err
			}
		}

		if opt.Speakers != nil {
			if opt.Speakers[b] == sess.PrevSpeaker {
				if p.ASRStateCarryOver && sess.DStates != nil {
					dstates = sess.DStates
				}
				if p.LMStateCarryOver {
					lmstate = sess.LMState
				}
			}
			sess.PrevSpeaker = opt.Speakers[b]
		}

		root := &Hypothesis{
			Seq:     []int{d.startToken(opt.RefsID)},
			DStates: dstates,
			CV:      make([]float32, d.cfg.EncUnits),
			LMState: lmstate,
		}
		if prefix != nil {
			root.CTC = &CTCHypState{State: prefix.InitialState()}
		}
		if len(opt.Ensemble) > 0 {
			root.Ensemble = newEnsembleState(opt.Ensemble, d.cfg.EncUnits)
			for _, m := range opt.Ensemble {
				m.Dec.score.Reset()
			}
		}

		ytime := int(math.Floor(float64(elen)*float64(p.MaxLenRatio))) + 1
		if p.Oracle {
			ytime = len(opt.RefsID[b]) + 1
		}

		hyps := []*Hypothesis{root}
		lastAlive := hyps
		var endHyps []*Hypothesis
		for t := 0; t < ytime; t++ {
			lastAlive = hyps
			batch := gatherBeam(hyps, keys.R, d.score.NumHeads())
			if p.Oracle {
				forced := d.cfg.EOS
				if t > 0 {
					forced = opt.RefsID[b][t-1]
				}
				for j := range batch.tokens {
					batch.tokens[j] = forced
				}
			}

			var lmFeat, scoresLM *tensor.Mat
			var lmNext *lm.State
			if d.fusionLM != nil {
				lmFeat, lmNext, scoresLM = d.fusionLM.Predict(batch.tokens, batch.lmstate)
			} else if opt.LM != nil {
				lmFeat, lmNext, scoresLM = opt.LM.Predict(batch.tokens, batch.lmstate)
			}

			dstatesNext, cv, aw, attnV := d.decodeStep(keys, elen, batch.dstates, batch.cv,
				d.embedTokens(batch.tokens), batch.prevW, lmFeat, attention.Hard, true, -1)

			scoresAttn := d.stepLogProbs(attnV, p.SoftmaxSmoothing, hyps, opt.Ensemble, batch.tokens)

			var newHyps []*Hypothesis
			for j, h := range hyps {
				newHyps = d.expandHypothesis(newHyps, h, j, scoresAttn, scoresLM, aw, cv,
					dstatesNext, lmNext, prefix, p, opt, elen, keys.R, false)
			}
			sortByScore(newHyps)
			if len(newHyps) > p.BeamWidth {
				newHyps = newHyps[:p.BeamWidth]
			}

			hyps = hyps[:0]
			for _, h := range newHyps {
				done := h.endsWith(d.cfg.EOS)
				if p.Oracle {
					done = t == len(opt.RefsID[b])
				}
				if done {
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

		// The completed set must never come back empty.
		if len(endHyps) == 0 {
			endHyps = hyps
			if len(endHyps) == 0 {
				endHyps = lastAlive
			}
		} else if len(endHyps) < opt.NBest {
			endHyps = append(endHyps, hyps...)
			if len(endHyps) > p.BeamWidth {
				endHyps = endHyps[:p.BeamWidth]
			}
		}

		if opt.LM2nd != nil {
			d.rescoreLM(endHyps, opt.LM2nd, p.LMSecondWeight, false)
		}
		if opt.LM2ndRev != nil {
			d.rescoreLM(endHyps, opt.LM2ndRev, p.LMRevWeight, true)
		}
		sortByScore(endHyps)

		results = append(results, d.collectNBest(endHyps, opt.NBest, opt.ExcludeEOS, keys.R))
		finalBest = endHyps[0]
	}

	// Persist the final state for potential carry-over into the next call.
	if finalBest != nil {
		sess.DStates = finalBest.DStates
		sess.LMState = finalBest.LMState
	}
	return results, nil
}

// startToken is the sequence-initial symbol: <eos>-as-<sos>, or the first
// reference token when start replacement is configured.
func (d *Decoder) startToken(refs [][]int) int {
	if d.cfg.ReplaceSOS && len(refs) > 0 && len(refs[0]) > 0 {
		return refs[0][0]
	}
	return d.cfg.EOS
}

func newEnsembleState(members []EnsembleMember, encUnits int) *EnsembleState {
	es := &EnsembleState{
		DStates: make([]*rnn.State, len(members)),
		CV:      make([][]float32, len(members)),
		AWs:     make([][]float32, len(members)),
	}
	for i, m := range members {
		es.DStates[i] = m.Dec.stack.ZeroState(1)
		es.CV[i] = make([]float32, m.Dec.cfg.EncUnits)
	}
	return es
}

// stepLogProbs converts generator outputs into per-hypothesis token
// log-probabilities, averaging over ensemble members in the probability
// domain: probabilities are summed across models and a single log is taken,
// divided by the model count.
func (d *Decoder) stepLogProbs(attnV *tensor.Mat, smoothing float32, hyps []*Hypothesis,
	members []EnsembleMember, tokens []int) *tensor.Mat {
	probs := d.logits(attnV)
	for bb := 0; bb < probs.R; bb++ {
		row := probs.Row(bb)
		if smoothing != 1 {
			tensor.Scale(row, smoothing)
		}
		tensor.Softmax(row)
	}
	nModels := len(members) + 1
	for i, m := range members {
		mb := gatherEnsemble(hyps, i, m.Eouts[0].R, m.Dec.score.NumHeads())
		st, cvE, awE, attnVE := m.Dec.decodeStep(m.Eouts[0], m.Elens[0], mb.dstates, mb.cv,
			m.Dec.embedTokens(tokens), mb.prevW, nil, attention.Hard, true, -1)
		probsE := m.Dec.logits(attnVE)
		for bb := 0; bb < probsE.R; bb++ {
			row := probsE.Row(bb)
			tensor.Softmax(row)
			tensor.Add(probs.Row(bb), row)
		}
		// Scatter the member's new state back to the hypotheses so the
		// children can pick it up.
		for j, h := range hyps {
			h.Ensemble.DStates[i] = st.Slice(j)
			h.Ensemble.CV[i] = append([]float32(nil), cvE.Row(j)...)
			h.Ensemble.AWs[i] = append([]float32(nil), awE.Row(j)...)
		}
	}
	for bb := 0; bb < probs.R; bb++ {
		row := probs.Row(bb)
		for i, v := range row {
			if v <= 0 {
				row[i] = tensor.NegInf
			} else {
				row[i] = float32(math.Log(float64(v))) / float32(nModels)
			}
		}
	}
	return probs
}

// expandHypothesis scores hypothesis j's candidate extensions and appends
// the survivors to dst. The candidate set is the top beam-width tokens by
// attention score alone; LM, penalty and CTC terms are added to that set
// only, with one re-sort after the CTC addition.
func (d *Decoder) expandHypothesis(dst []*Hypothesis, h *Hypothesis, j int,
	scoresAttn, scoresLM, aw, cv *tensor.Mat, dstatesNext *rnn.State, lmNext *lm.State,
	prefix *ctc.PrefixScorer, p Params, opt Options, elen, frames int, newChunk bool) []*Hypothesis {

	attnRow := scoresAttn.Row(j)
	totalAttn := make([]float32, len(attnRow))
	for v := range attnRow {
		totalAttn[v] = h.ScoreAttn + attnRow[v]
	}
	scaled := make([]float32, len(totalAttn))
	for v := range totalAttn {
		scaled[v] = totalAttn[v] * (1 - p.CTCWeight)
	}
	candIDs, candScores := logits.TopK(scaled, p.BeamWidth)

	candLM := make([]float32, len(candIDs))
	if opt.LM != nil && scoresLM != nil {
		lmRow := scoresLM.Row(j)
		for k, id := range candIDs {
			candLM[k] = h.ScoreLM + lmRow[id]
			candScores[k] += candLM[k] * p.LMWeight
		}
	}

	for k := range candScores {
		candScores[k] = applyLengthPenalty(candScores[k], h.outputLen(), p.LengthPenalty, p.GNMTDecoding)
	}

	var cp float32
	if p.CoveragePenalty > 0 {
		cp = coverageScore(h.AWs, aw.Row(j), frames, d.score.NumHeads(), p.CoverageThreshold, p.GNMTDecoding)
		for k := range candScores {
			candScores[k] += cp * p.CoveragePenalty
		}
	}

	candCTC := make([]float32, len(candIDs))
	var candStates []*ctc.State
	if prefix != nil {
		var ctcScores []float32
		ctcScores, candStates = prefix.Score(h.Seq, candIDs, h.CTC.State, newChunk)
		for k := range candIDs {
			candCTC[k] = ctcScores[k]
			candScores[k] += ctcScores[k] * p.CTCWeight
		}
		// Re-sort the candidate set now that CTC scores are in.
		order, _ := logits.TopK(candScores, len(candScores))
		candIDs = reorderInts(candIDs, order)
		candScores = reorderF32(candScores, order)
		candLM = reorderF32(candLM, order)
		candCTC = reorderF32(candCTC, order)
		candStates = reorderStates(candStates, order)
	}

	for k, id := range candIDs {
		total := normalizeLength(candScores[k], h.outputLen()+1, p.LengthNorm)

		if id == d.cfg.EOS {
			if float32(h.outputLen()) < float32(elen)*p.MinLenRatio {
				continue
			}
			if best, ok := logits.MaxExcluding(attnRow, d.cfg.EOS); ok &&
				attnRow[d.cfg.EOS] <= p.EOSThreshold*best {
				continue
			}
		}

		child := h.extend(id)
		child.Score = total
		child.ScoreAttn = totalAttn[id]
		child.ScoreCP = cp
		child.ScoreCTC = candCTC[k]
		child.ScoreLM = candLM[k]
		child.DStates = dstatesNext.Slice(j)
		child.CV = append([]float32(nil), cv.Row(j)...)
		child.AWs = appendWeights(h.AWs, aw.Row(j))
		if lmNext != nil {
			child.LMState = lmNext.Slice(j)
		}
		if candStates != nil {
			child.CTC = &CTCHypState{State: candStates[k]}
		} else if h.CTC != nil {
			child.CTC = h.CTC
		}
		if h.Ensemble != nil {
			child.Ensemble = &EnsembleState{
				DStates: append([]*rnn.State(nil), h.Ensemble.DStates...),
				CV:      append([][]float32(nil), h.Ensemble.CV...),
				AWs:     append([][]float32(nil), h.Ensemble.AWs...),
			}
		}
		dst = append(dst, child)
	}
	return dst
}

// appendWeights copies the history slice headers and adds this step's row.
func appendWeights(aws [][]float32, row []float32) [][]float32 {
	out := make([][]float32, len(aws)+1)
	copy(out, aws)
	out[len(aws)] = append([]float32(nil), row...)
	return out
}

func reorderInts(x, order []int) []int {
	out := make([]int, len(order))
	for i, o := range order {
		out[i] = x[o]
	}
	return out
}

func reorderF32(x []float32, order []int) []float32 {
	out := make([]float32, len(order))
	for i, o := range order {
		out[i] = x[o]
	}
	return out
}

func reorderStates(x []*ctc.State, order []int) []*ctc.State {
	out := make([]*ctc.State, len(order))
	for i, o := range order {
		out[i] = x[o]
	}
	return out
}

// rescoreLM adds a weighted full-sequence LM log-probability to every
// completed hypothesis. The reverse pass scores the token sequence right to
// left with the end symbol re-appended.
func (d *Decoder) rescoreLM(hyps []*Hypothesis, model lm.Model, weight float32, reverse bool) {
	for _, h := range hyps {
		seq := append([]int(nil), h.Seq[1:]...)
		if reverse {
			if len(seq) > 0 && seq[len(seq)-1] == d.cfg.EOS {
				seq = seq[:len(seq)-1]
			}
			for i, j := 0, len(seq)-1; i < j; i, j = i+1, j-1 {
				seq[i], seq[j] = seq[j], seq[i]
			}
			seq = append(seq, d.cfg.EOS)
		}
		lp := sequenceLogProb(model, d.cfg.EOS, seq)
		if reverse {
			h.ScoreLM2ndRev = lp
		} else {
			h.ScoreLM2nd = lp
		}
		h.Score += lp * weight
	}
}

// collectNBest renders the top hypotheses of one utterance: stripped id
// sequences, alignments and attention-only scores, reversed for backward
// decoding.
func (d *Decoder) collectNBest(endHyps []*Hypothesis, nbest int, excludeEOS bool, frames int) Result {
	if nbest > len(endHyps) {
		nbest = len(endHyps)
	}
	res := Result{
		NBest:  make([][]int, nbest),
		Aligns: make([]*Alignment, nbest),
		Scores: make([]float32, nbest),
	}
	for n := 0; n < nbest; n++ {
		h := endHyps[n]
		seq := append([]int(nil), h.Seq[1:]...)
		if d.cfg.Backward {
			for i, j := 0, len(seq)-1; i < j; i, j = i+1, j-1 {
				seq[i], seq[j] = seq[j], seq[i]
			}
		}
		if excludeEOS && len(seq) > 0 {
			if d.cfg.Backward && seq[0] == d.cfg.EOS {
				seq = seq[1:]
			} else if !d.cfg.Backward && seq[len(seq)-1] == d.cfg.EOS {
				seq = seq[:len(seq)-1]
			}
		}
		res.NBest[n] = seq
		res.Aligns[n] = newAlignment(h.AWs, d.score.NumHeads(), frames, len(h.AWs), d.cfg.Backward)
		res.Scores[n] = h.ScoreAttn
	}
	return res
}

// reverseRows returns a row-reversed copy of m (backward decoding flips the
// time axis of the CTC lattice).
func reverseRows(m *tensor.Mat) *tensor.Mat {
	out := tensor.NewMat(m.R, m.C)
	for i := 0; i < m.R; i++ {
		copy(out.Row(i), m.Row(m.R-1-i))
	}
	return out
}
