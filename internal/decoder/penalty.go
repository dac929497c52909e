package decoder

import (
	"math"

	"github.com/asrkit/spellout/internal/lm"
)

// applyLengthPenalty rescales a fused candidate score for a hypothesis that
// had prevLen output tokens before this extension. The GNMT variant divides
// by ((6+len)^w / 6^w); the additive variant rewards every token with a
// constant bonus, so larger weights strictly favor longer hypotheses.
func applyLengthPenalty(score float32, prevLen int, weight float32, gnmt bool) float32 {
	if weight <= 0 {
		return score
	}
	if gnmt {
		lp := math.Pow(float64(6+prevLen), float64(weight)) / math.Pow(6, float64(weight))
		return score / float32(lp)
	}
	return score + float32(prevLen+1)*weight
}

// coverageScore recomputes a hypothesis's coverage term from its full
// attention history plus the current step's weights cur. The raw variant
// sums every per-step weight above the threshold (all of them when the
// threshold is 0); the GNMT variant sums log of per-frame cumulative mass
// clipped at zero. Both are normalized by the head count.
//
// For normalized attention the unthresholded sum equals the step count for
// every hypothesis, so with threshold 0 the term cancels out of the ranking;
// a positive threshold rewards peaked distributions.
func coverageScore(aws [][]float32, cur []float32, frames, heads int, threshold float32, gnmt bool) float32 {
	steps := make([][]float32, 0, len(aws)+1)
	steps = append(steps, aws...)
	if cur != nil {
		steps = append(steps, cur)
	}
	var cp float32
	if gnmt {
		for h := 0; h < heads; h++ {
			for f := 0; f < frames; f++ {
				var cum float32
				for _, w := range steps {
					if i := h*frames + f; i < len(w) {
						cum += w[i]
					}
				}
				if cum > 0 {
					if lg := float32(math.Log(float64(cum))); lg < 0 {
						cp += lg
					}
				}
			}
		}
	} else {
		for _, w := range steps {
			for h := 0; h < heads; h++ {
				for f := 0; f < frames; f++ {
					i := h*frames + f
					if i >= len(w) {
						continue
					}
					if threshold == 0 || w[i] > threshold {
						cp += w[i]
					}
				}
			}
		}
	}
	return cp / float32(heads)
}

// normalizeLength divides a fused score by the output length when length
// normalization is on, guarding against zero-length division.
func normalizeLength(score float32, outLen int, enabled bool) float32 {
	if !enabled {
		return score
	}
	if outLen < 1 {
		outLen = 1
	}
	return score / float32(outLen)
}

// sequenceLogProb scores seq under model, conditioning on the start token.
func sequenceLogProb(model lm.Model, start int, seq []int) float32 {
	var st *lm.State
	var total float32
	prev := start
	for _, tok := range seq {
		_, next, lp := model.Predict([]int{prev}, st)
		total += lp.Row(0)[tok]
		st = next
		prev = tok
	}
	return total
}
