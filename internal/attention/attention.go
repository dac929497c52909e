// Package attention implements the scoring mechanisms consumed by the
// decoders. Every Scorer turns encoder outputs and a decoder query into a
// context vector and a weight distribution over encoder frames; decoders only
// depend on this contract and treat the mechanism itself as a black box.
package attention

import "github.com/asrkit/spellout/internal/tensor"

// Mode selects how a Scorer is driven.
type Mode int

const (
	// Parallel is the teacher-forced mode: every step sees the full
	// encoder output and attends softly.
	Parallel Mode = iota
	// Hard is the incremental search mode used during decoding. Monotonic
	// scorers scan for a trigger frame here; soft scorers behave the same
	// as Parallel.
	Hard
)

// Scorer computes attention for a batch of queries against one utterance's
// encoder output.
//
// keys is [T, encUnits] and doubles as the value matrix. elen bounds the
// valid frames (frames >= elen carry zero weight). query is [batch, qdim],
// one row per live hypothesis. prev holds the previous step's weights,
// [batch, heads*T], or nil on the first step. cache allows the scorer to
// reuse per-utterance projections between calls with the same keys; Reset
// drops all such state at utterance boundaries. trigger, when >= 0, forces
// the attention boundary to that frame (monotonic scorers only; others
// ignore it).
//
// The returned context is [batch, encUnits] and the weights are
// [batch, heads*T] with frame index varying fastest.
type Scorer interface {
	Reset()
	NumHeads() int
	Score(keys *tensor.Mat, elen int, query, prev *tensor.Mat, mode Mode, cache bool, trigger int) (ctx, w *tensor.Mat)
}

// applyWeights fills ctx row b with the weight-averaged encoder frames for
// one head's weight slice wRow of length T.
func applyWeights(ctx []float32, keys *tensor.Mat, wRow []float32, elen int) {
	for i := range ctx {
		ctx[i] = 0
	}
	for t := 0; t < elen; t++ {
		wt := wRow[t]
		if wt == 0 {
			continue
		}
		row := keys.Row(t)
		for i := range ctx {
			ctx[i] += wt * row[i]
		}
	}
}

// maskedSoftmax normalizes e[0:elen] in place and zeroes the tail.
func maskedSoftmax(e []float32, elen int) {
	tensor.Softmax(e[:elen])
	for t := elen; t < len(e); t++ {
		e[t] = 0
	}
}
