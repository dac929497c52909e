package ctc

import (
	"math"
	"testing"

	"github.com/asrkit/spellout/internal/tensor"
)

// Test vocabulary: 0 = <eos>, 1..2 = labels, 3 = blank.
const (
	tEOS   = 0
	tBlank = 3
	tVocab = 4
)

func testLattice(T int, seed int64) *tensor.Mat {
	m := tensor.NewMat(T, tVocab)
	tensor.FillRand(m, seed)
	for t := 0; t < T; t++ {
		row := m.Row(t)
		tensor.Scale(row, 40) // spread the distribution a little
		tensor.LogSoftmax(row)
	}
	return m
}

// collapse removes blanks and repeated frames from a path.
func collapse(path []int) []int {
	var out []int
	prev := -1
	for _, v := range path {
		if v != tBlank && v != prev {
			out = append(out, v)
		}
		prev = v
	}
	return out
}

// brutePrefixProb sums the probability of every full-length path whose
// collapsed labeling starts with prefix (exact == true demands equality).
func brutePrefixProb(x *tensor.Mat, prefix []int, exact bool) float64 {
	T := x.R
	var total float64
	path := make([]int, T)
	var rec func(t int, logp float64)
	rec = func(t int, logp float64) {
		if t == T {
			c := collapse(path)
			if exact {
				if len(c) != len(prefix) {
					return
				}
			} else if len(c) < len(prefix) {
				return
			}
			for i := range prefix {
				if c[i] != prefix[i] {
					return
				}
			}
			total += math.Exp(logp)
			return
		}
		for v := 0; v < tVocab; v++ {
			if v == tEOS {
				continue // eos is not a CTC output label here
			}
			path[t] = v
			rec(t+1, logp+float64(x.Row(t)[v]))
		}
	}
	rec(0, 0)
	return total
}

func TestScoreMatchesBruteForce(t *testing.T) {
	x := testLattice(4, 3)
	s, err := NewPrefixScorer(x, tBlank, tEOS)
	if err != nil {
		t.Fatal(err)
	}

	// First extension from the empty prefix.
	scores, states := s.Score([]int{tEOS}, []int{1, 2}, s.InitialState(), false)
	for i, c := range []int{1, 2} {
		want := math.Log(brutePrefixProb(x, []int{c}, false))
		if math.Abs(float64(scores[i])-want) > 1e-4 {
			t.Fatalf("score(%d) = %v, want %v", c, scores[i], want)
		}
	}

	// Second extension, including a repeated label.
	scores2, _ := s.Score([]int{tEOS, 1}, []int{1, 2, tEOS, tBlank}, states[0], false)
	for i, c := range []int{1, 2} {
		want := math.Log(brutePrefixProb(x, []int{1, c}, false))
		if math.Abs(float64(scores2[i])-want) > 1e-4 {
			t.Fatalf("score(1, %d) = %v, want %v", c, scores2[i], want)
		}
	}
	// eos scores the probability that the prefix is the full labeling.
	wantEOS := math.Log(brutePrefixProb(x, []int{1}, true))
	if math.Abs(float64(scores2[2])-wantEOS) > 1e-4 {
		t.Fatalf("eos score %v, want %v", scores2[2], wantEOS)
	}
	if scores2[3] > tensor.NegInf/2 {
		t.Fatalf("blank must score log-zero, got %v", scores2[3])
	}
}

func TestStreamingMatchesWholeUtterance(t *testing.T) {
	// Chunk carry-over extends only the blank path, so equality with the
	// whole-utterance scorer requires the already-emitted label's mass to
	// live in the first chunk. Frames 3..5 give label 1 negligible mass.
	whole := tensor.NewMat(6, tVocab)
	for t := 0; t < 3; t++ {
		whole.SetRow(t, []float32{-3, -0.3, -3, -1.6})
	}
	for t := 3; t < 6; t++ {
		whole.SetRow(t, []float32{-2, -30, -1, -0.4})
	}
	sWhole, _ := NewPrefixScorer(whole, tBlank, tEOS)

	sStream, _ := NewPrefixScorer(whole.SliceRows(0, 3), tBlank, tEOS)
	_, states1 := sStream.Score([]int{tEOS}, []int{1}, sStream.InitialState(), false)
	if err := sStream.RegisterNewChunk(whole.SliceRows(3, 6)); err != nil {
		t.Fatal(err)
	}
	if sStream.Frames() != 6 {
		t.Fatalf("frames after chunk = %d, want 6", sStream.Frames())
	}

	gotScores, _ := sStream.Score([]int{tEOS, 1}, []int{2, tEOS}, states1[0], true)

	_, statesW := sWhole.Score([]int{tEOS}, []int{1}, sWhole.InitialState(), false)
	wantScores, _ := sWhole.Score([]int{tEOS, 1}, []int{2, tEOS}, statesW[0], false)

	for i := range gotScores {
		if math.Abs(float64(gotScores[i]-wantScores[i])) > 1e-4 {
			t.Fatalf("streaming score[%d] = %v, whole-utterance %v", i, gotScores[i], wantScores[i])
		}
	}
}

func TestNewPrefixScorerRejectsBadGeometry(t *testing.T) {
	if _, err := NewPrefixScorer(nil, 0, 1); err == nil {
		t.Fatal("expected error for nil lattice")
	}
	if _, err := NewPrefixScorer(tensor.NewMat(3, 4), 9, 0); err == nil {
		t.Fatal("expected error for blank outside lattice")
	}
}
