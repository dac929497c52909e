package logits

import "testing"

func TestArgmax(t *testing.T) {
	if got := Argmax([]float32{-1, 5, 3, 7, 2}); got != 3 {
		t.Fatalf("expected index 3, got %d", got)
	}
}

func TestTopKOrdered(t *testing.T) {
	idx, val := TopK([]float32{0.1, 0.9, -0.5, 0.9, 0.3}, 3)
	if len(idx) != 3 {
		t.Fatalf("expected 3 results, got %d", len(idx))
	}
	wantIdx := []int{1, 3, 4}
	wantVal := []float32{0.9, 0.9, 0.3}
	for i := range wantIdx {
		if idx[i] != wantIdx[i] || val[i] != wantVal[i] {
			t.Fatalf("topk[%d] = (%d, %v), want (%d, %v)", i, idx[i], val[i], wantIdx[i], wantVal[i])
		}
	}
}

func TestTopKClampsToLength(t *testing.T) {
	idx, _ := TopK([]float32{2, 1}, 5)
	if len(idx) != 2 || idx[0] != 0 || idx[1] != 1 {
		t.Fatalf("unexpected shortlist %v", idx)
	}
}

func TestMaxExcluding(t *testing.T) {
	v, ok := MaxExcluding([]float32{9, 1, 4}, 0)
	if !ok || v != 4 {
		t.Fatalf("got (%v, %v), want (4, true)", v, ok)
	}
	if _, ok := MaxExcluding([]float32{9}, 0); ok {
		t.Fatal("expected no candidate when the only entry is skipped")
	}
}
