package decoder

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/asrkit/spellout/internal/attention"
	"github.com/asrkit/spellout/internal/lm"
	"github.com/asrkit/spellout/internal/logits"
	"github.com/asrkit/spellout/internal/rnn"
	"github.com/asrkit/spellout/internal/tensor"
)

// Observation reports the components of one training forward pass.
type Observation struct {
	Loss float32
	Acc  float32
	PPL  float32
}

// Loss runs the teacher-forced forward pass and returns the label-smoothed
// cross-entropy over all utterances, with token accuracy and perplexity.
// Scheduled sampling, when armed, feeds the model's own argmax prediction
// instead of the reference token. sess enables discourse-aware state
// carry-over when the decoder was configured for it.
func (d *Decoder) Loss(eouts []*tensor.Mat, elens []int, ys [][]int, sess *Session) (float32, *Observation, error) {
	bs := len(eouts)
	if bs == 0 || len(ys) != bs {
		return 0, nil, fmt.Errorf("decoder: %d utterances with %d references", bs, len(ys))
	}

	ysIn, ysOut, ylens := d.appendSOSEOS(ys)
	maxLen := 0
	for _, n := range ylens {
		if n > maxLen {
			maxLen = n
		}
	}

	d.score.Reset()
	dstates := d.stack.ZeroState(bs)
	if d.cfg.DiscourseAware == "state_carry_over" && sess != nil && sess.DStates != nil &&
		sess.DStates.Batch() == bs {
		dstates = sess.DStates
	}
	cv := tensor.NewMat(bs, d.cfg.EncUnits)
	prevW := make([]*tensor.Mat, bs)
	var lmstate *lm.State

	var rng *rand.Rand
	if d.ssProb > 0 {
		rng = rand.New(rand.NewSource(1))
	}
	var carryOver []*rnn.State
	if d.cfg.DiscourseAware == "state_carry_over" && sess != nil {
		carryOver = make([]*rnn.State, bs)
	}

	var nll, nTokens float64
	var correct int
	tokens := make([]int, bs)
	lastPred := make([]int, bs)
	for t := 0; t < maxLen; t++ {
		sample := t > 0 && rng != nil && rng.Float32() < d.ssProb
		for b := 0; b < bs; b++ {
			if sample {
				tokens[b] = lastPred[b]
			} else if t < len(ysIn[b]) {
				tokens[b] = ysIn[b][t]
			} else {
				tokens[b] = d.cfg.PAD
			}
		}

		var lmFeat *tensor.Mat
		if d.fusionLM != nil {
			lmFeat, lmstate = d.fusionLM.Decode(tokens, lmstate)
		}

		yEmb := d.embedTokens(tokens)
		input := tensor.NewMat(bs, d.cfg.EmbDim+d.cfg.EncUnits)
		for b := 0; b < bs; b++ {
			row := input.Row(b)
			copy(row, yEmb.Row(b))
			copy(row[d.cfg.EmbDim:], cv.Row(b))
		}
		next, scoreView, genView := d.stack.Step(input, dstates)
		dstates = next

		attnV := tensor.NewMat(bs, d.cfg.BottleneckDim)
		for b := 0; b < bs; b++ {
			q := rowView(scoreView, b)
			ctx, w := d.score.Score(eouts[b], elens[b], q, prevW[b], attention.Parallel, true, -1)
			cv.SetRow(b, ctx.Row(0))
			prevW[b] = w
			var lmRow []float32
			if lmFeat != nil {
				lmRow = lmFeat.Row(b)
			}
			d.gen.generate(attnV.Row(b), ctx.Row(0), genView.Row(b), lmRow)
		}

		out := d.logits(attnV)
		for b := 0; b < bs; b++ {
			lastPred[b] = logits.Argmax(out.Row(b))
			if t >= len(ysOut[b]) {
				continue
			}
			target := ysOut[b][t]
			if target == d.cfg.PAD {
				continue
			}
			lp := append([]float32(nil), out.Row(b)...)
			tensor.LogSoftmax(lp)
			tokenNLL := -float64(lp[target])
			if eps := float64(d.cfg.LSMProb); eps > 0 {
				// Label smoothing mixes the uniform target in.
				var mean float64
				for _, v := range lp {
					mean += float64(v)
				}
				mean /= float64(len(lp))
				tokenNLL = (1-eps)*tokenNLL + eps*(-mean)
			}
			nll += tokenNLL
			nTokens++
			if lastPred[b] == target {
				correct++
			}
		}

		if carryOver != nil {
			// Snapshot each utterance's state at its own final step.
			for b := 0; b < bs; b++ {
				if t == ylens[b]-1 {
					carryOver[b] = dstates.Slice(b)
				}
			}
		}
	}
	if carryOver != nil {
		sess.DStates = rnn.Join(carryOver)
	}

	if nTokens == 0 {
		return 0, nil, fmt.Errorf("decoder: no reference tokens to score")
	}
	loss := float32(nll / nTokens)
	obs := &Observation{
		Loss: loss,
		Acc:  float32(correct) / float32(nTokens),
		PPL:  float32(math.Exp(nll / nTokens)),
	}
	return loss, obs, nil
}

// appendSOSEOS builds the shifted input and target sequences: input is
// start+y, target is y+end, with the token order reversed first for
// backward decoders. ylens counts targets including the end symbol.
func (d *Decoder) appendSOSEOS(ys [][]int) (ysIn, ysOut [][]int, ylens []int) {
	ysIn = make([][]int, len(ys))
	ysOut = make([][]int, len(ys))
	ylens = make([]int, len(ys))
	for b, y := range ys {
		seq := append([]int(nil), y...)
		if d.cfg.Backward {
			for i, j := 0, len(seq)-1; i < j; i, j = i+1, j-1 {
				seq[i], seq[j] = seq[j], seq[i]
			}
		}
		ysIn[b] = append([]int{d.cfg.EOS}, seq...)
		ysOut[b] = append(append([]int(nil), seq...), d.cfg.EOS)
		ylens[b] = len(seq) + 1
	}
	return ysIn, ysOut, ylens
}
