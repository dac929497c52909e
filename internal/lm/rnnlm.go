package lm

import (
	"fmt"

	"github.com/asrkit/spellout/internal/rnn"
	"github.com/asrkit/spellout/internal/tensor"
)

// RNNLM is a recurrent language model: embedding, a cell stack, and an
// output projection to the vocabulary.
type RNNLM struct {
	Embed  *tensor.Mat // [vocab, embDim]
	Stack  *rnn.Stack
	Output *tensor.Mat // [vocab, units]
	OutB   []float32

	vocab  int
	embDim int
}

// NewRNNLM builds a zero-weight model.
func NewRNNLM(cellType rnn.CellType, layers, vocab, embDim, units int) (*RNNLM, error) {
	if vocab < 2 {
		return nil, fmt.Errorf("lm: vocabulary size %d out of range", vocab)
	}
	stack, err := rnn.NewStack(cellType, layers, embDim, units, 0, 0)
	if err != nil {
		return nil, err
	}
	return &RNNLM{
		Embed:  tensor.NewMat(vocab, embDim),
		Stack:  stack,
		Output: tensor.NewMat(vocab, units),
		OutB:   make([]float32, vocab),
		vocab:  vocab,
		embDim: embDim,
	}, nil
}

// InitUniform fills all weights with uniform values in (-bound, bound).
func (m *RNNLM) InitUniform(seed int64, bound float32) {
	tensor.FillUniform(m.Embed, seed+1, bound)
	tensor.FillUniform(m.Output, seed+2, bound)
	m.Stack.InitUniform(seed+3, bound)
}

func (m *RNNLM) Vocab() int  { return m.vocab }
func (m *RNNLM) Units() int  { return m.Stack.Units() }
func (m *RNNLM) EmbDim() int { return m.embDim }
func (m *RNNLM) Layers() int { return m.Stack.Layers() }

func (m *RNNLM) step(tokens []int, st *State) (*tensor.Mat, *State) {
	in := tensor.NewMat(len(tokens), m.embDim)
	for b, tok := range tokens {
		copy(in.Row(b), m.Embed.Row(tok))
	}
	var prev *rnn.State
	if st != nil {
		prev = st.D
	} else {
		prev = m.Stack.ZeroState(len(tokens))
	}
	next, _, out := m.Stack.Step(in, prev)
	return out, &State{D: next}
}

// Decode advances the LM one token without computing output probabilities.
func (m *RNNLM) Decode(tokens []int, st *State) (*tensor.Mat, *State) {
	return m.step(tokens, st)
}

// Predict advances the LM one token and additionally returns next-token
// log-probabilities per batch row.
func (m *RNNLM) Predict(tokens []int, st *State) (*tensor.Mat, *State, *tensor.Mat) {
	out, next := m.step(tokens, st)
	logProbs := tensor.NewMat(out.R, m.vocab)
	for b := 0; b < out.R; b++ {
		tensor.MatVecAdd(logProbs.Row(b), m.Output, out.Row(b), m.OutB)
		tensor.LogSoftmax(logProbs.Row(b))
	}
	return out, next, logProbs
}

// SequenceLogProb scores a full token sequence: the summed log-probability
// of seq given a start token, consuming seq left to right. Used for
// second-pass rescoring of completed hypotheses.
func (m *RNNLM) SequenceLogProb(start int, seq []int) float32 {
	var st *State
	var total float32
	prev := start
	for _, tok := range seq {
		_, next, lp := m.Predict([]int{prev}, st)
		total += lp.Row(0)[tok]
		st = next
		prev = tok
	}
	return total
}
