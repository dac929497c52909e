package toy

import (
	"math"
	"testing"
)

func TestEncoderShapesAndDeterminism(t *testing.T) {
	enc, err := NewEncoder(4, 6, 2, 7)
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}
	frames := Frames(9, 4, 8)

	out := enc.Forward(frames)
	if out.R != 5 || out.C != 6 {
		t.Fatalf("output shape [%d, %d], want [5, 6]", out.R, out.C)
	}
	for _, v := range out.Data {
		if v < -1 || v > 1 {
			t.Fatalf("tanh output %v out of range", v)
		}
	}

	enc2, err := NewEncoder(4, 6, 2, 7)
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}
	again := enc2.Forward(Frames(9, 4, 8))
	for i := range out.Data {
		if out.Data[i] != again.Data[i] {
			t.Fatalf("same seed diverged at %d", i)
		}
	}

	if _, err := NewEncoder(0, 6, 1, 7); err == nil {
		t.Fatal("zero input dim accepted")
	}
}

func TestCTCHeadRowsNormalize(t *testing.T) {
	enc, err := NewEncoder(4, 6, 1, 11)
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}
	head, err := NewCTCHead(6, 5, 12)
	if err != nil {
		t.Fatalf("NewCTCHead: %v", err)
	}
	lattice := head.LogProbs(enc.Forward(Frames(7, 4, 13)))
	if lattice.R != 7 || lattice.C != 5 {
		t.Fatalf("lattice shape [%d, %d]", lattice.R, lattice.C)
	}
	for tt := 0; tt < lattice.R; tt++ {
		var sum float64
		for _, lp := range lattice.Row(tt) {
			sum += math.Exp(float64(lp))
		}
		if sum < 0.99 || sum > 1.01 {
			t.Fatalf("row %d mass %v", tt, sum)
		}
	}

	if _, err := NewCTCHead(6, 1, 12); err == nil {
		t.Fatal("single-symbol vocabulary accepted")
	}
}
