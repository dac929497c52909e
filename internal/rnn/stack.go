package rnn

import (
	"fmt"
	"math/rand"

	"github.com/asrkit/spellout/internal/tensor"
)

// Stack is a column of recurrent layers with optional per-layer projection.
// Layer 0 consumes the step input; every later layer consumes the previous
// layer's (dropped-out, projected) output. Two views of the step output are
// exposed: the score view is layer 0's post-dropout output and feeds the
// attention query, the generation view is the last layer's output (after
// projection when configured) and feeds the token generator.
type Stack struct {
	Cells []Cell
	Proj  []*tensor.Mat
	ProjB [][]float32

	cellType CellType
	inDim    int
	units    int
	projs    int
	dropout  float32
	rng      *rand.Rand
}

// NewStack builds a zero-weight stack. inDim is the layer-0 input width
// (token embedding plus attention context), projs selects an affine+tanh
// projection after each layer (0 disables it).
func NewStack(cellType CellType, layers, inDim, units, projs int, dropout float32) (*Stack, error) {
	if !cellType.Valid() {
		return nil, fmt.Errorf("rnn: unknown cell type %q", cellType)
	}
	if layers < 1 {
		return nil, fmt.Errorf("rnn: layer count %d out of range", layers)
	}
	if inDim < 1 || units < 1 {
		return nil, fmt.Errorf("rnn: non-positive dimensions %d/%d", inDim, units)
	}
	s := &Stack{
		Cells:    make([]Cell, layers),
		cellType: cellType,
		inDim:    inDim,
		units:    units,
		projs:    projs,
		dropout:  dropout,
	}
	dim := inDim
	for l := 0; l < layers; l++ {
		if cellType == LSTM {
			s.Cells[l] = NewLSTMCell(dim, units)
		} else {
			s.Cells[l] = NewGRUCell(dim, units)
		}
		dim = units
		if projs > 0 {
			dim = projs
		}
	}
	if projs > 0 {
		s.Proj = make([]*tensor.Mat, layers)
		s.ProjB = make([][]float32, layers)
		for l := 0; l < layers; l++ {
			s.Proj[l] = tensor.NewMat(projs, units)
			s.ProjB[l] = make([]float32, projs)
		}
	}
	return s, nil
}

// InitUniform fills every weight matrix with uniform values in
// (-bound, bound) and zeroes the biases.
func (s *Stack) InitUniform(seed int64, bound float32) {
	for l, c := range s.Cells {
		switch cell := c.(type) {
		case *LSTMCell:
			tensor.FillUniform(cell.Wx, seed+int64(l)*4+1, bound)
			tensor.FillUniform(cell.Wh, seed+int64(l)*4+2, bound)
		case *GRUCell:
			tensor.FillUniform(cell.Wx, seed+int64(l)*4+1, bound)
			tensor.FillUniform(cell.Wh, seed+int64(l)*4+2, bound)
		}
		if s.Proj != nil {
			tensor.FillUniform(s.Proj[l], seed+int64(l)*4+3, bound)
		}
	}
}

// CellType reports the recurrence used by the stack.
func (s *Stack) CellType() CellType { return s.cellType }

// Layers reports the layer count.
func (s *Stack) Layers() int { return len(s.Cells) }

// InputDim reports the layer-0 input width.
func (s *Stack) InputDim() int { return s.inDim }

// Units reports the per-layer hidden width (the score view width).
func (s *Stack) Units() int { return s.units }

// OutDim reports the generation view width.
func (s *Stack) OutDim() int {
	if s.projs > 0 {
		return s.projs
	}
	return s.units
}

// ZeroState returns an all-zero state sized for this stack.
func (s *Stack) ZeroState(batch int) *State {
	return NewState(len(s.Cells), batch, s.units, s.cellType == LSTM)
}

// SetTrainRNG arms dropout with a seeded source. Dropout is inert (identity)
// until this is called, so inference is always deterministic.
func (s *Stack) SetTrainRNG(seed int64) {
	s.rng = rand.New(rand.NewSource(seed))
}

// Step advances every layer one frame for all batch rows of input.
// input is [batch, inDim]; the returned state is freshly allocated and the
// previous state is left untouched, so per-hypothesis snapshots stay valid.
func (s *Stack) Step(input *tensor.Mat, st *State) (*State, *tensor.Mat, *tensor.Mat) {
	if input.C != s.inDim {
		panic(fmt.Sprintf("rnn: step input width %d, want %d", input.C, s.inDim))
	}
	batch := input.R
	next := NewState(len(s.Cells), batch, s.units, s.cellType == LSTM)

	var scoreView *tensor.Mat
	out := input
	for l, cell := range s.Cells {
		h := next.H[l]
		var c, cPrev *tensor.Mat
		if next.C != nil {
			c = next.C[l]
			cPrev = st.C[l]
		}
		for b := 0; b < batch; b++ {
			var cPrevRow, cRow []float32
			if c != nil {
				cPrevRow = cPrev.Row(b)
				cRow = c.Row(b)
			}
			cell.Step(out.Row(b), st.H[l].Row(b), cPrevRow, h.Row(b), cRow)
		}
		dropped := s.applyDropout(h)
		if l == 0 {
			scoreView = dropped
		}
		if s.Proj != nil {
			projected := tensor.NewMat(batch, s.projs)
			tensor.ProjectRows(projected, dropped, s.Proj[l], s.ProjB[l])
			for b := 0; b < batch; b++ {
				tensor.TanhInPlace(projected.Row(b))
			}
			out = projected
		} else {
			out = dropped
		}
	}
	return next, scoreView, out
}

// applyDropout returns h unchanged at inference; with an armed RNG it applies
// inverted dropout on a copy.
func (s *Stack) applyDropout(h *tensor.Mat) *tensor.Mat {
	if s.rng == nil || s.dropout <= 0 {
		return h
	}
	out := h.Clone()
	keep := 1 - s.dropout
	inv := 1 / keep
	for i := range out.Data {
		if s.rng.Float32() < s.dropout {
			out.Data[i] = 0
		} else {
			out.Data[i] *= inv
		}
	}
	return out
}
