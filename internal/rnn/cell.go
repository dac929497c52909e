package rnn

import (
	"fmt"

	"github.com/asrkit/spellout/internal/tensor"
)

// CellType selects the recurrence used by a Stack.
type CellType string

const (
	LSTM CellType = "lstm"
	GRU  CellType = "gru"
)

// Valid reports whether t names a supported cell type.
func (t CellType) Valid() bool { return t == LSTM || t == GRU }

// Cell is a single recurrent layer. Step advances one frame for one batch
// row: x is the layer input, h (and c for LSTM) the previous state, and the
// results are written into hOut (and cOut). Implementations panic on shape
// mismatches; geometry is fixed at construction.
type Cell interface {
	Step(x, h, c, hOut, cOut []float32)
	InputDim() int
	Units() int
}

// LSTMCell implements the standard LSTM recurrence with gate order
// input, forget, cell, output. Weights are laid out as stacked gate blocks:
// Wx is [4*units, inDim], Wh is [4*units, units], Bx and Bh are [4*units].
type LSTMCell struct {
	Wx, Wh *tensor.Mat
	Bx, Bh []float32

	inDim, units int
	gates        []float32
}

// NewLSTMCell allocates a zero-weight cell for the given geometry.
func NewLSTMCell(inDim, units int) *LSTMCell {
	return &LSTMCell{
		Wx:    tensor.NewMat(4*units, inDim),
		Wh:    tensor.NewMat(4*units, units),
		Bx:    make([]float32, 4*units),
		Bh:    make([]float32, 4*units),
		inDim: inDim,
		units: units,
		gates: make([]float32, 4*units),
	}
}

func (c *LSTMCell) InputDim() int { return c.inDim }
func (c *LSTMCell) Units() int    { return c.units }

func (c *LSTMCell) Step(x, h, cPrev, hOut, cOut []float32) {
	if len(x) != c.inDim || len(h) != c.units {
		panic(fmt.Sprintf("rnn: lstm step input %d/%d, want %d/%d", len(x), len(h), c.inDim, c.units))
	}
	g := c.gates
	tensor.MatVec(g, c.Wx, x)
	tensor.MatVecAcc(g, c.Wh, h)
	u := c.units
	for k := range g {
		g[k] += c.Bx[k] + c.Bh[k]
	}
	for j := 0; j < u; j++ {
		i := tensor.Sigmoid(g[j])
		f := tensor.Sigmoid(g[u+j])
		cand := tensor.Tanh(g[2*u+j])
		o := tensor.Sigmoid(g[3*u+j])
		cv := f*cPrev[j] + i*cand
		cOut[j] = cv
		hOut[j] = o * tensor.Tanh(cv)
	}
}

// GRUCell implements the gated recurrent unit with gate order reset, update,
// candidate. The reset gate is applied to the recurrent contribution of the
// candidate before its bias, matching the usual cuDNN formulation. Wx is
// [3*units, inDim], Wh is [3*units, units].
type GRUCell struct {
	Wx, Wh *tensor.Mat
	Bx, Bh []float32

	inDim, units int
	gx, gh       []float32
}

// NewGRUCell allocates a zero-weight cell for the given geometry.
func NewGRUCell(inDim, units int) *GRUCell {
	return &GRUCell{
		Wx:    tensor.NewMat(3*units, inDim),
		Wh:    tensor.NewMat(3*units, units),
		Bx:    make([]float32, 3*units),
		Bh:    make([]float32, 3*units),
		inDim: inDim,
		units: units,
		gx:    make([]float32, 3*units),
		gh:    make([]float32, 3*units),
	}
}

func (c *GRUCell) InputDim() int { return c.inDim }
func (c *GRUCell) Units() int    { return c.units }

func (c *GRUCell) Step(x, h, _ []float32, hOut, _ []float32) {
	if len(x) != c.inDim || len(h) != c.units {
		panic(fmt.Sprintf("rnn: gru step input %d/%d, want %d/%d", len(x), len(h), c.inDim, c.units))
	}
	gx, gh := c.gx, c.gh
	tensor.MatVec(gx, c.Wx, x)
	tensor.MatVec(gh, c.Wh, h)
	u := c.units
	for j := 0; j < u; j++ {
		r := tensor.Sigmoid(gx[j] + c.Bx[j] + gh[j] + c.Bh[j])
		z := tensor.Sigmoid(gx[u+j] + c.Bx[u+j] + gh[u+j] + c.Bh[u+j])
		n := tensor.Tanh(gx[2*u+j] + c.Bx[2*u+j] + r*(gh[2*u+j]+c.Bh[2*u+j]))
		hOut[j] = (1-z)*n + z*h[j]
	}
}
