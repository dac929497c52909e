package decoder

import (
	"testing"

	"github.com/asrkit/spellout/internal/attention"
	"github.com/asrkit/spellout/internal/rnn"
	"github.com/asrkit/spellout/internal/tensor"
)

const (
	tVocab = 5
	tEOS   = 0
	tUNK   = 1
	tPAD   = 2
	tBlank = 4
	tEnc   = 6
	tUnits = 8
)

func testConfig() Config {
	return Config{
		Vocab: tVocab, EOS: tEOS, UNK: tUNK, PAD: tPAD, Blank: tBlank,
		EncUnits: tEnc, Units: tUnits, Layers: 1,
		BottleneckDim: tUnits, EmbDim: tUnits,
		CellType: rnn.LSTM,
	}
}

func newTestDecoder(t *testing.T, seed int64) *Decoder {
	t.Helper()
	d, err := New(testConfig(), attention.NewAdditive(tEnc, tUnits, tUnits), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	d.InitUniform(seed, 0.5)
	return d
}

func testEouts(seed int64, frames int) *tensor.Mat {
	m := tensor.NewMat(frames, tEnc)
	tensor.FillUniform(m, seed, 1)
	return m
}

// constEouts repeats one random frame so attention drift cannot change the
// context vector.
func constEouts(seed int64, frames int) *tensor.Mat {
	m := tensor.NewMat(frames, tEnc)
	row := tensor.NewMat(1, tEnc)
	tensor.FillUniform(row, seed, 1)
	for i := 0; i < frames; i++ {
		m.SetRow(i, row.Data)
	}
	return m
}

func testLattice(seed int64, frames int) *tensor.Mat {
	m := tensor.NewMat(frames, tVocab)
	tensor.FillUniform(m, seed, 2)
	for i := 0; i < frames; i++ {
		tensor.LogSoftmax(m.Row(i))
	}
	return m
}

func intsEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
