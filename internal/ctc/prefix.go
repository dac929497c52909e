// Package ctc implements incremental CTC prefix scoring for joint
// CTC/attention decoding. A PrefixScorer is built from one utterance's
// log-probability lattice over the vocabulary plus the blank symbol and
// scores beam-search prefixes extended by candidate tokens, keeping the
// forward probabilities of each prefix as opaque per-hypothesis state.
// The streaming variant grows the lattice chunk by chunk.
package ctc

import (
	"fmt"

	"github.com/asrkit/spellout/internal/tensor"
)

// State holds the CTC forward probabilities of one hypothesis prefix:
// R[t][0] is the log probability of all paths emitting the prefix and ending
// at frame t with a non-blank, R[t][1] the same ending with a blank. States
// are owned by the scorer's callers but only ever produced here.
type State struct {
	R [][2]float32
}

// PrefixScorer scores hypothesis prefixes against a CTC output lattice.
type PrefixScorer struct {
	x     *tensor.Mat // [T, vocab+? ] log-probs; column blank is the blank symbol
	blank int
	eos   int
}

// NewPrefixScorer wraps one utterance's log-probability lattice. The lattice
// columns index the decoder vocabulary, with column blank holding the blank
// symbol; eos marks the end symbol whose score is the probability that the
// prefix already explains the whole utterance.
func NewPrefixScorer(logProbs *tensor.Mat, blank, eos int) (*PrefixScorer, error) {
	if logProbs == nil || logProbs.R == 0 {
		return nil, fmt.Errorf("ctc: empty lattice")
	}
	if blank < 0 || blank >= logProbs.C || eos < 0 || eos >= logProbs.C {
		return nil, fmt.Errorf("ctc: blank %d / eos %d outside lattice width %d", blank, eos, logProbs.C)
	}
	return &PrefixScorer{x: logProbs, blank: blank, eos: eos}, nil
}

// Frames reports the current lattice length.
func (s *PrefixScorer) Frames() int { return s.x.R }

// RegisterNewChunk appends a chunk of lattice frames for streaming decoding.
func (s *PrefixScorer) RegisterNewChunk(logProbs *tensor.Mat) error {
	if logProbs == nil || logProbs.R == 0 {
		return nil
	}
	if logProbs.C != s.x.C {
		return fmt.Errorf("ctc: chunk width %d, lattice width %d", logProbs.C, s.x.C)
	}
	s.x = tensor.ConcatRows(s.x, logProbs)
	return nil
}

// InitialState returns the state of the empty prefix: only blank paths are
// alive, with the cumulative blank probability per frame.
func (s *PrefixScorer) InitialState() *State {
	T := s.x.R
	st := &State{R: make([][2]float32, T)}
	st.R[0][0] = tensor.NegInf
	st.R[0][1] = s.x.Row(0)[s.blank]
	for t := 1; t < T; t++ {
		st.R[t][0] = tensor.NegInf
		st.R[t][1] = st.R[t-1][1] + s.x.Row(t)[s.blank]
	}
	return st
}

// extendState pads a state carried over from a shorter lattice out to the
// current frame count by propagating the blank path, so hypotheses survive
// chunk boundaries unchanged.
func (s *PrefixScorer) extendState(prev *State) *State {
	T := s.x.R
	if len(prev.R) >= T {
		return prev
	}
	st := &State{R: make([][2]float32, T)}
	copy(st.R, prev.R)
	for t := len(prev.R); t < T; t++ {
		st.R[t][0] = tensor.NegInf
		st.R[t][1] = tensor.LogAdd(st.R[t-1][0], st.R[t-1][1]) + s.x.Row(t)[s.blank]
	}
	return st
}

// Score extends prefix (which begins with the start symbol) by every token in
// cands and returns, per candidate, the log prefix probability of the
// extended sequence and its new forward state. newChunk asks the scorer to
// first stretch prev over frames appended since the state was produced.
//
// The end symbol is scored as the probability that the unextended prefix
// already covers the whole lattice; the blank symbol is never a valid label
// and scores log-zero.
func (s *PrefixScorer) Score(prefix []int, cands []int, prev *State, newChunk bool) ([]float32, []*State) {
	if newChunk {
		prev = s.extendState(prev)
	}
	T := s.x.R
	outLen := len(prefix) - 1 // leading start symbol is not an output
	scores := make([]float32, len(cands))
	states := make([]*State, len(cands))

	// log(r_t^n(g) + r_t^b(g)) for the unextended prefix.
	rSum := make([]float32, T)
	for t := 0; t < T; t++ {
		rSum[t] = tensor.LogAdd(prev.R[t][0], prev.R[t][1])
	}
	last := prefix[len(prefix)-1]

	start := outLen
	if start < 1 {
		start = 1
	}
	for i, c := range cands {
		if c == s.eos {
			scores[i] = rSum[T-1]
			states[i] = prev
			continue
		}
		if c == s.blank {
			scores[i] = tensor.NegInf
			states[i] = prev
			continue
		}
		st := &State{R: make([][2]float32, T)}
		// phi_t: probability mass of the unextended prefix usable to
		// start the new label at frame t+1. When the new label repeats
		// the previous one, only blank-terminated paths qualify.
		phi := rSum
		if outLen > 0 && c == last {
			phi = make([]float32, T)
			for t := 0; t < T; t++ {
				phi[t] = prev.R[t][1]
			}
		}
		if outLen == 0 {
			st.R[0][0] = s.x.Row(0)[c]
			st.R[0][1] = tensor.NegInf
		} else {
			for t := 0; t < start; t++ {
				st.R[t][0] = tensor.NegInf
				st.R[t][1] = tensor.NegInf
			}
		}
		psi := st.R[start-1][0]
		for t := start; t < T; t++ {
			xc := s.x.Row(t)[c]
			st.R[t][0] = tensor.LogAdd(st.R[t-1][0], phi[t-1]) + xc
			st.R[t][1] = tensor.LogAdd(st.R[t-1][0], st.R[t-1][1]) + s.x.Row(t)[s.blank]
			psi = tensor.LogAdd(psi, phi[t-1]+xc)
		}
		scores[i] = psi
		states[i] = st
	}
	return scores, states
}
