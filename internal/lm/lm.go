// Package lm defines the language-model contract consumed by the decoders
// and a recurrent implementation of it. The decoders use Predict for shallow
// fusion and rescoring (they need token log-probabilities) and Decode inside
// the generator for cold/deep fusion (they only need the hidden features).
package lm

import (
	"github.com/asrkit/spellout/internal/rnn"
	"github.com/asrkit/spellout/internal/tensor"
)

// State is an opaque per-hypothesis LM state. For the recurrent model it is
// the stacked hidden/cell state; nil means "before the first token".
type State struct {
	D *rnn.State
}

// Slice extracts row j as a batch-1 state; nil-safe.
func (s *State) Slice(j int) *State {
	if s == nil {
		return nil
	}
	return &State{D: s.D.Slice(j)}
}

// Join re-batches per-hypothesis states, in order. Returns nil when the
// first entry is nil (states are uniformly nil before the first step).
func Join(states []*State) *State {
	if len(states) == 0 || states[0] == nil {
		return nil
	}
	ds := make([]*rnn.State, len(states))
	for i, st := range states {
		ds[i] = st.D
	}
	return &State{D: rnn.Join(ds)}
}

// Model is the external language-model interface.
//
// Predict consumes the last emitted token per batch row and returns the LM
// hidden features [batch, units], the advanced state, and next-token
// log-probabilities [batch, vocab]. Decode is the same step without the
// output projection, for fusion inside the token generator.
type Model interface {
	Predict(tokens []int, st *State) (*tensor.Mat, *State, *tensor.Mat)
	Decode(tokens []int, st *State) (*tensor.Mat, *State)
	Vocab() int
	Units() int
	EmbDim() int
}
