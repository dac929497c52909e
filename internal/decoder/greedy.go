package decoder

import (
	"fmt"
	"math"

	"github.com/asrkit/spellout/internal/attention"
	"github.com/asrkit/spellout/internal/lm"
	"github.com/asrkit/spellout/internal/logits"
	"github.com/asrkit/spellout/internal/tensor"
)

// GreedyOptions configures a greedy decoding run.
type GreedyOptions struct {
	// MaxLenRatio caps the step count at floor(elen*ratio)+1.
	MaxLenRatio float32
	// ExcludeEOS strips the final end symbol from returned sequences.
	ExcludeEOS bool
	// Oracle teacher-forces the reference tokens.
	Oracle bool
	RefsID [][]int
}

// Greedy decodes every utterance with a single hypothesis, keeping the whole
// batch stepped together: per-utterance lengths are tracked independently
// and frozen once that utterance emits the end symbol, while computation
// continues until all utterances finish or the longest bound is reached.
// sess receives the final LM state; pass nil to discard it.
func (d *Decoder) Greedy(eouts []*tensor.Mat, elens []int, opt GreedyOptions, sess *Session) ([][]int, []*Alignment, error) {
	if opt.MaxLenRatio <= 0 {
		opt.MaxLenRatio = 1
	}
	if opt.Oracle && opt.RefsID == nil {
		return nil, nil, fmt.Errorf("decoder: oracle decoding without references")
	}
	bs := len(eouts)
	if bs == 0 {
		return nil, nil, nil
	}

	d.score.Reset()
	dstates := d.stack.ZeroState(bs)
	cv := tensor.NewMat(bs, d.cfg.EncUnits)
	var lmstate *lm.State
	var prevW []*tensor.Mat // per utterance, 1 x heads*T

	tokens := make([]int, bs)
	start := d.startToken(opt.RefsID)
	for b := range tokens {
		tokens[b] = start
	}

	ytime := 0
	if opt.Oracle {
		for b := range opt.RefsID {
			if n := len(opt.RefsID[b]) + 1; n > ytime {
				ytime = n
			}
		}
	} else {
		for _, elen := range elens {
			if n := int(math.Floor(float64(elen)*float64(opt.MaxLenRatio))) + 1; n > ytime {
				ytime = n
			}
		}
	}

	heads := d.score.NumHeads()
	hyps := make([][]int, bs)
	aws := make([][][]float32, bs)
	ylens := make([]int, bs)
	eosFlags := make([]bool, bs)
	prevW = make([]*tensor.Mat, bs)

	for t := 0; t < ytime; t++ {
		var lmFeat *tensor.Mat
		if d.fusionLM != nil {
			lmFeat, lmstate, _ = d.fusionLM.Predict(tokens, lmstate)
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

		// Attention runs per utterance: each has its own encoder output.
		attnV := tensor.NewMat(bs, d.cfg.BottleneckDim)
		for b := 0; b < bs; b++ {
			q := rowView(scoreView, b)
			ctx, w := d.score.Score(eouts[b], elens[b], q, prevW[b], attention.Hard, true, -1)
			cv.SetRow(b, ctx.Row(0))
			prevW[b] = w
			aws[b] = append(aws[b], append([]float32(nil), w.Row(0)...))
			var lmRow []float32
			if lmFeat != nil {
				lmRow = lmFeat.Row(b)
			}
			d.gen.generate(attnV.Row(b), ctx.Row(0), genView.Row(b), lmRow)
		}

		out := d.logits(attnV)
		done := 0
		for b := 0; b < bs; b++ {
			y := logits.Argmax(out.Row(b))
			hyps[b] = append(hyps[b], y)
			if !eosFlags[b] {
				if y == d.cfg.EOS {
					eosFlags[b] = true
				}
				ylens[b]++ // includes <eos>
			}
			if eosFlags[b] {
				done++
			}
			tokens[b] = y
		}
		if done == bs || t == ytime-1 {
			break
		}
		if opt.Oracle {
			for b := 0; b < bs; b++ {
				if t < len(opt.RefsID[b]) {
					tokens[b] = opt.RefsID[b][t]
				} else {
					tokens[b] = d.cfg.EOS
				}
			}
		}
	}

	if sess != nil {
		sess.LMState = lmstate
	}

	outHyps := make([][]int, bs)
	outAligns := make([]*Alignment, bs)
	for b := 0; b < bs; b++ {
		seq := append([]int(nil), hyps[b][:ylens[b]]...)
		if d.cfg.Backward {
			for i, j := 0, len(seq)-1; i < j; i, j = i+1, j-1 {
				seq[i], seq[j] = seq[j], seq[i]
			}
		}
		if opt.ExcludeEOS && eosFlags[b] && len(seq) > 0 {
			if d.cfg.Backward {
				seq = seq[1:]
			} else {
				seq = seq[:len(seq)-1]
			}
		}
		outHyps[b] = seq
		outAligns[b] = newAlignment(aws[b], heads, eouts[b].R, ylens[b], d.cfg.Backward)
	}
	return outHyps, outAligns, nil
}

// rowView wraps row b of m as a 1-row matrix sharing storage.
func rowView(m *tensor.Mat, b int) *tensor.Mat {
	return &tensor.Mat{R: 1, C: m.C, Stride: m.C, Data: m.Row(b)}
}
