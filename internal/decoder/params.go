package decoder

import "fmt"

// Params bundles the knobs of one decoding run. Zero values are not usable
// directly; start from DefaultParams.
type Params struct {
	// BeamWidth bounds the live hypothesis set. 1 degenerates to greedy.
	BeamWidth int
	// MaxLenRatio caps the output length at floor(elen*ratio)+1 steps.
	MaxLenRatio float32
	// MinLenRatio rejects <eos> before elen*ratio tokens were emitted.
	MinLenRatio float32
	// LengthPenalty weight: additive per-token bonus, or the GNMT divisor
	// exponent when GNMTDecoding is set.
	LengthPenalty float32
	// CoveragePenalty weight over accumulated attention mass.
	CoveragePenalty float32
	// CoverageThreshold drops per-frame mass at or below it from the
	// penalty; 0 counts everything.
	CoverageThreshold float32
	// LengthNorm divides the fused score by the output length.
	LengthNorm bool
	// LMWeight scales the first-pass (shallow fusion) LM score.
	LMWeight float32
	// LMSecondWeight / LMRevWeight scale the second-pass forward and
	// reverse rescoring LMs.
	LMSecondWeight float32
	// LMRevWeight scales the reverse second-pass LM.
	LMRevWeight float32
	// GNMTDecoding switches length and coverage penalties to the GNMT
	// formulations.
	GNMTDecoding bool
	// EOSThreshold: <eos> is only admitted when its attention log-prob
	// exceeds this multiple of the best non-eos log-prob.
	EOSThreshold float32
	// SoftmaxSmoothing scales logits before the probability conversion.
	SoftmaxSmoothing float32
	// CTCWeight balances the CTC prefix score against the attention score.
	CTCWeight float32
	// Oracle teacher-forces the reference tokens instead of searching.
	Oracle bool
	// ASRStateCarryOver / LMStateCarryOver warm-start from the session's
	// final states when the speaker is unchanged.
	ASRStateCarryOver bool
	LMStateCarryOver  bool
}

// DefaultParams returns the neutral parameter set: plain attention beam
// search with no penalties, no fusion and no carry-over.
func DefaultParams() Params {
	return Params{
		BeamWidth:        1,
		MaxLenRatio:      1,
		EOSThreshold:     1.5,
		SoftmaxSmoothing: 1,
	}
}

// validate fails fast on configuration errors before any decoding state is
// touched.
func (p Params) validate(nbest int) error {
	if p.BeamWidth < 1 {
		return fmt.Errorf("decoder: beam width %d out of range", p.BeamWidth)
	}
	if nbest < 1 || nbest > p.BeamWidth {
		return fmt.Errorf("decoder: nbest %d outside [1, %d]", nbest, p.BeamWidth)
	}
	if p.MaxLenRatio <= 0 {
		return fmt.Errorf("decoder: max length ratio %v out of range", p.MaxLenRatio)
	}
	if p.CTCWeight < 0 || p.CTCWeight > 1 {
		return fmt.Errorf("decoder: ctc weight %v outside [0, 1]", p.CTCWeight)
	}
	if p.SoftmaxSmoothing <= 0 {
		return fmt.Errorf("decoder: softmax smoothing %v out of range", p.SoftmaxSmoothing)
	}
	return nil
}
