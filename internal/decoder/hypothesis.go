package decoder

import (
	"sort"

	"github.com/asrkit/spellout/internal/ctc"
	"github.com/asrkit/spellout/internal/lm"
	"github.com/asrkit/spellout/internal/rnn"
)

// Hypothesis is one partial or completed output candidate. Seq always starts
// with the start symbol (<eos> doubling as <sos>); extension appends exactly
// one token and never mutates an existing hypothesis, so snapshots shared
// with the completed set stay valid.
//
// Score is the fused score used for pruning, recomputed at every step from
// the cumulative component scores plus the penalties. ScoreAttn, ScoreCTC
// and ScoreLM accumulate per-source log-probabilities across extensions.
type Hypothesis struct {
	Seq       []int
	Score     float32
	ScoreAttn float32
	ScoreCP   float32
	ScoreCTC  float32
	ScoreLM   float32
	// Second-pass rescoring log-probabilities, filled in after search.
	ScoreLM2nd    float32
	ScoreLM2ndRev float32

	DStates *rnn.State
	CV      []float32
	// AWs holds one attention-weight row (heads*frames) per emitted token.
	AWs     [][]float32
	LMState *lm.State

	// Optional per-feature state; nil when the feature is off.
	CTC      *CTCHypState
	Ensemble *EnsembleState

	// NoTrigger marks a streaming hypothesis that found no new attention
	// boundary in the current chunk and was passed through unchanged.
	NoTrigger bool
}

// CTCHypState carries the opaque prefix-scorer state of one hypothesis.
type CTCHypState struct {
	State *ctc.State
}

// EnsembleState carries the per-member decoder state of one hypothesis when
// an ensemble is active. Indexes follow the ensemble member order.
type EnsembleState struct {
	DStates []*rnn.State
	CV      [][]float32
	AWs     [][]float32 // last weight row per member
}

// extend forks h with one more token. Component scores and per-feature state
// are filled in by the caller.
func (h *Hypothesis) extend(tok int) *Hypothesis {
	seq := make([]int, len(h.Seq)+1)
	copy(seq, h.Seq)
	seq[len(h.Seq)] = tok
	return &Hypothesis{Seq: seq}
}

// outputLen is the token count excluding the leading start symbol.
func (h *Hypothesis) outputLen() int { return len(h.Seq) - 1 }

// endsWith reports whether the hypothesis has emitted tok as its last token
// (beyond the leading start symbol).
func (h *Hypothesis) endsWith(tok int) bool {
	return len(h.Seq) > 1 && h.Seq[len(h.Seq)-1] == tok
}

// sortByScore orders hypotheses by fused score, best first. Stable so equal
// scores keep their generation order.
func sortByScore(hyps []*Hypothesis) {
	sort.SliceStable(hyps, func(i, j int) bool { return hyps[i].Score > hyps[j].Score })
}

// Alignment is the attention-weight history of one hypothesis, indexed
// [head, output step, encoder frame].
type Alignment struct {
	Heads  int
	Steps  int
	Frames int
	Data   []float32
}

// At returns the weight of frame t at output step l for head h.
func (a *Alignment) At(h, l, t int) float32 {
	return a.Data[(h*a.Steps+l)*a.Frames+t]
}

// newAlignment lays out a hypothesis's weight rows as [heads, steps, frames].
// reverse flips the step order for backward decoding. steps bounds how many
// rows are taken (rows beyond the emitted length are dropped).
func newAlignment(aws [][]float32, heads, frames, steps int, reverse bool) *Alignment {
	if steps > len(aws) {
		steps = len(aws)
	}
	a := &Alignment{Heads: heads, Steps: steps, Frames: frames, Data: make([]float32, heads*steps*frames)}
	for l := 0; l < steps; l++ {
		src := aws[l]
		dst := l
		if reverse {
			dst = steps - 1 - l
		}
		for h := 0; h < heads; h++ {
			row := a.Data[(h*a.Steps+dst)*a.Frames : (h*a.Steps+dst)*a.Frames+frames]
			if h*frames < len(src) {
				copy(row, src[h*frames:])
			}
		}
	}
	return a
}
