package rnn

import "github.com/asrkit/spellout/internal/tensor"

// State holds the stacked recurrent state of a cell stack: one hidden matrix
// per layer, shaped [batch, units], plus a cell matrix per layer for LSTM
// stacks (nil for GRU). The batch dimension is the set of live hypotheses
// during search, or the utterance batch in teacher-forced mode.
type State struct {
	H []*tensor.Mat
	C []*tensor.Mat
}

// NewState returns an all-zero state for the given geometry. withCell selects
// whether per-layer cell matrices are allocated (LSTM) or left nil (GRU).
func NewState(layers, batch, units int, withCell bool) *State {
	st := &State{
		H: make([]*tensor.Mat, layers),
	}
	if withCell {
		st.C = make([]*tensor.Mat, layers)
	}
	for l := 0; l < layers; l++ {
		st.H[l] = tensor.NewMat(batch, units)
		if withCell {
			st.C[l] = tensor.NewMat(batch, units)
		}
	}
	return st
}

// Batch returns the batch size of the state.
func (s *State) Batch() int {
	if len(s.H) == 0 {
		return 0
	}
	return s.H[0].R
}

// Layers returns the layer count of the state.
func (s *State) Layers() int { return len(s.H) }

// Slice copies row j of every layer into a batch-1 state. During search each
// hypothesis keeps such a snapshot; extension never mutates it.
func (s *State) Slice(j int) *State {
	out := &State{H: make([]*tensor.Mat, len(s.H))}
	if s.C != nil {
		out.C = make([]*tensor.Mat, len(s.C))
	}
	for l := range s.H {
		out.H[l] = s.H[l].SliceRows(j, j+1)
		if s.C != nil {
			out.C[l] = s.C[l].SliceRows(j, j+1)
		}
	}
	return out
}

// Join stacks per-hypothesis snapshots back into one batched state, in order.
func Join(states []*State) *State {
	if len(states) == 0 {
		return nil
	}
	layers := states[0].Layers()
	out := &State{H: make([]*tensor.Mat, layers)}
	if states[0].C != nil {
		out.C = make([]*tensor.Mat, layers)
	}
	for l := 0; l < layers; l++ {
		hs := make([]*tensor.Mat, len(states))
		for i, st := range states {
			hs[i] = st.H[l]
		}
		out.H[l] = tensor.ConcatRows(hs...)
		if out.C != nil {
			cs := make([]*tensor.Mat, len(states))
			for i, st := range states {
				cs[i] = st.C[l]
			}
			out.C[l] = tensor.ConcatRows(cs...)
		}
	}
	return out
}

// Clone returns a deep copy of the state.
func (s *State) Clone() *State {
	out := &State{H: make([]*tensor.Mat, len(s.H))}
	if s.C != nil {
		out.C = make([]*tensor.Mat, len(s.C))
	}
	for l := range s.H {
		out.H[l] = s.H[l].Clone()
		if s.C != nil {
			out.C[l] = s.C[l].Clone()
		}
	}
	return out
}
