package decoder

import (
	"testing"

	"github.com/asrkit/spellout/internal/attention"
	"github.com/asrkit/spellout/internal/tensor"
)

// newStreamDecoder builds a decoder with hard monotonic attention whose
// selection bias is fixed: a large positive bias triggers on the first frame
// scanned, a large negative one never triggers.
func newStreamDecoder(t *testing.T, seed int64, bias float32) *Decoder {
	t.Helper()
	score := attention.NewMonotonic(tEnc, tUnits, tUnits, 1)
	d, err := New(testConfig(), score, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	d.InitUniform(seed, 0.5)
	score.R = bias
	return d
}

func bestHyp(t *testing.T, end, segment []*Hypothesis) *Hypothesis {
	t.Helper()
	if len(end) > 0 {
		return end[0]
	}
	if len(segment) == 0 {
		t.Fatal("no hypotheses at all")
	}
	return segment[0]
}

func TestChunkSyncMatchesWholeUtterance(t *testing.T) {
	// With a constant encoder output and an always-triggering scorer the
	// context vector never drifts, so splitting the input into chunks must
	// not change the token stream.
	whole := newStreamDecoder(t, 53, 100)
	split := newStreamDecoder(t, 53, 100)
	frames := constEouts(100, 10)

	p := DefaultParams()
	p.BeamWidth = 2
	p.EOSThreshold = 1

	sessA := NewSession()
	endA, segA, err := whole.BeamSearchChunkSync(frames, p, ChunkOptions{}, sessA)
	if err != nil {
		t.Fatalf("whole-utterance pass: %v", err)
	}
	seqA := bestHyp(t, endA, segA).Seq

	sessB := NewSession()
	first := tensor.NewMat(5, tEnc)
	second := tensor.NewMat(5, tEnc)
	for i := 0; i < 5; i++ {
		first.SetRow(i, frames.Row(i))
		second.SetRow(i, frames.Row(i+5))
	}
	if _, _, err := split.BeamSearchChunkSync(first, p, ChunkOptions{}, sessB); err != nil {
		t.Fatalf("first chunk: %v", err)
	}
	endB, segB, err := split.BeamSearchChunkSync(second, p, ChunkOptions{}, sessB)
	if err != nil {
		t.Fatalf("second chunk: %v", err)
	}
	seqB := bestHyp(t, endB, segB).Seq

	n := len(seqA)
	if len(seqB) < n {
		n = len(seqB)
	}
	if n < 2 {
		t.Fatalf("too few tokens to compare: %v vs %v", seqA, seqB)
	}
	if !intsEqual(seqA[:n], seqB[:n]) {
		t.Fatalf("chunked decoding diverged: %v vs %v", seqA, seqB)
	}
	if sessB.Frames != 10 {
		t.Fatalf("session frame count %d, want 10", sessB.Frames)
	}
}

// newGateDecoder builds a decoder whose monotonic scorer triggers exactly on
// frames with a positive first encoder feature: the selection energy reduces
// to tanh(k[0]), so sigmoid crosses 0.5 iff k[0] > 0.
func newGateDecoder(t *testing.T, seed int64) *Decoder {
	t.Helper()
	score := attention.NewMonotonic(tEnc, tUnits, 1, 1)
	d, err := New(testConfig(), score, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	d.InitUniform(seed, 0.5)
	for i := range score.Wk.Data {
		score.Wk.Data[i] = 0
	}
	for i := range score.Wq.Data {
		score.Wq.Data[i] = 0
	}
	score.Wk.Row(0)[0] = 1
	score.V[0] = 1
	score.B[0] = 0
	score.R = 0
	return d
}

// gateEouts forces the first feature of each frame to sign*10 so the gate
// decoder's trigger pattern is exactly the sign pattern.
func gateEouts(seed int64, signs []float32) *tensor.Mat {
	m := testEouts(seed, len(signs))
	for i, s := range signs {
		m.Row(i)[0] = s * 10
	}
	return m
}

func maxOutputLen(end, segment []*Hypothesis) int {
	best := 0
	for _, h := range append(append([]*Hypothesis(nil), end...), segment...) {
		if n := h.outputLen(); n > best {
			best = n
		}
	}
	return best
}

func TestChunkSyncScanRestartsAtChunkStart(t *testing.T) {
	// The attention boundary of a carried hypothesis indexes the previous
	// chunk's frames. When chunk 1 triggers on its last frame and chunk 2
	// triggers only on its first, reusing the stale boundary as a scan
	// start would skip that frame and stall the beam.
	d := newGateDecoder(t, 83)
	p := DefaultParams()
	p.BeamWidth = 2
	p.EOSThreshold = 1

	sess := NewSession()
	end1, seg1, err := d.BeamSearchChunkSync(gateEouts(84, []float32{-1, 1}), p, ChunkOptions{}, sess)
	if err != nil {
		t.Fatalf("first chunk: %v", err)
	}
	out1 := maxOutputLen(end1, seg1)
	if out1 == 0 {
		t.Fatal("first chunk emitted nothing although its last frame triggers")
	}

	end2, seg2, err := d.BeamSearchChunkSync(gateEouts(84, []float32{1, -1}), p, ChunkOptions{}, sess)
	if err != nil {
		t.Fatalf("second chunk: %v", err)
	}
	if got := maxOutputLen(end2, seg2); got <= out1 {
		t.Fatalf("beam stalled at %d tokens although chunk 2 frame 0 triggers", got)
	}
}

func TestChunkSyncMatchesWholeUtteranceAdvancingTrigger(t *testing.T) {
	// Unlike the constant-frame case above, here the trigger point moves:
	// frame 0 never triggers, frames 1 and 2 do. Rows 1 and 2 are
	// identical, so the context vector stream must match between the
	// whole-utterance pass (boundary stays at frame 1) and the chunked
	// pass (chunk 2 re-triggers on its own first frame).
	whole := newGateDecoder(t, 89)
	split := newGateDecoder(t, 89)

	base := testEouts(90, 2)
	neg := make([]float32, tEnc)
	pos := make([]float32, tEnc)
	copy(neg, base.Row(0))
	copy(pos, base.Row(1))
	neg[0] = -10
	pos[0] = 10

	frames := tensor.NewMat(4, tEnc)
	frames.SetRow(0, neg)
	frames.SetRow(1, pos)
	frames.SetRow(2, pos)
	frames.SetRow(3, neg)

	p := DefaultParams()
	p.BeamWidth = 2
	p.EOSThreshold = 1

	sessA := NewSession()
	endA, segA, err := whole.BeamSearchChunkSync(frames, p, ChunkOptions{}, sessA)
	if err != nil {
		t.Fatalf("whole-utterance pass: %v", err)
	}
	seqA := bestHyp(t, endA, segA).Seq

	sessB := NewSession()
	end1, seg1, err := split.BeamSearchChunkSync(frames.SliceRows(0, 2), p, ChunkOptions{}, sessB)
	if err != nil {
		t.Fatalf("first chunk: %v", err)
	}
	out1 := maxOutputLen(end1, seg1)
	endB, segB, err := split.BeamSearchChunkSync(frames.SliceRows(2, 4), p, ChunkOptions{}, sessB)
	if err != nil {
		t.Fatalf("second chunk: %v", err)
	}
	if got := maxOutputLen(endB, segB); got <= out1 {
		t.Fatalf("chunk 2 emitted nothing: %d tokens after chunk 1, %d after chunk 2", out1, got)
	}
	seqB := bestHyp(t, endB, segB).Seq

	n := len(seqA)
	if len(seqB) < n {
		n = len(seqB)
	}
	if n < 2 {
		t.Fatalf("too few tokens to compare: %v vs %v", seqA, seqB)
	}
	if !intsEqual(seqA[:n], seqB[:n]) {
		t.Fatalf("chunked decoding diverged: %v vs %v", seqA, seqB)
	}
}

func TestChunkSyncNoTriggerPassesThrough(t *testing.T) {
	d := newStreamDecoder(t, 59, -100)
	chunk := testEouts(60, 5)

	p := DefaultParams()
	p.BeamWidth = 2
	sess := NewSession()
	end, segment, err := d.BeamSearchChunkSync(chunk, p, ChunkOptions{}, sess)
	if err != nil {
		t.Fatalf("BeamSearchChunkSync: %v", err)
	}
	if len(end) != 0 {
		t.Fatalf("%d hypotheses completed without a trigger", len(end))
	}
	if len(segment) != 1 || !segment[0].NoTrigger {
		t.Fatalf("expected one passed-through hypothesis, got %+v", segment)
	}
	if got := segment[0].outputLen(); got != 0 {
		t.Fatalf("pass-through emitted %d tokens", got)
	}
	if sess.Frames != 5 {
		t.Fatalf("session frame count %d, want 5", sess.Frames)
	}
	if sess.DStates != nil {
		t.Fatal("final state persisted although nothing completed")
	}
}

func TestChunkSyncValidation(t *testing.T) {
	d := newStreamDecoder(t, 61, -100)
	chunk := testEouts(62, 5)
	p := DefaultParams()

	if _, _, err := d.BeamSearchChunkSync(chunk, p, ChunkOptions{}, nil); err == nil {
		t.Fatal("nil session accepted")
	}
	if _, _, err := d.BeamSearchChunkSync(chunk, p, ChunkOptions{CTCChunk: testLattice(63, 5)}, NewSession()); err == nil {
		t.Fatal("ctc lattice without a ctc weight accepted")
	}

	// A ctc chunk arriving after a first chunk decoded without ctc cannot
	// be scored consistently.
	sess := NewSession()
	if _, _, err := d.BeamSearchChunkSync(chunk, p, ChunkOptions{}, sess); err != nil {
		t.Fatalf("first chunk: %v", err)
	}
	p.CTCWeight = 0.5
	if _, _, err := d.BeamSearchChunkSync(chunk, p, ChunkOptions{CTCChunk: testLattice(63, 5)}, sess); err == nil {
		t.Fatal("late ctc chunk accepted")
	}
}

func TestChunkSyncStreamingCTC(t *testing.T) {
	d := newStreamDecoder(t, 67, 100)
	p := DefaultParams()
	p.BeamWidth = 2
	p.CTCWeight = 0.3

	sess := NewSession()
	for i := 0; i < 2; i++ {
		chunk := constEouts(100, 5)
		opt := ChunkOptions{CTCChunk: testLattice(int64(68+i), 5)}
		if _, _, err := d.BeamSearchChunkSync(chunk, p, opt, sess); err != nil {
			t.Fatalf("chunk %d: %v", i, err)
		}
	}
	if sess.CTCScorer == nil || sess.CTCScorer.Frames() != 10 {
		t.Fatal("streaming ctc scorer did not accumulate both chunks")
	}
	if sess.Frames != 10 {
		t.Fatalf("session frame count %d, want 10", sess.Frames)
	}
}

func TestSessionResetStream(t *testing.T) {
	d := newStreamDecoder(t, 71, 100)
	p := DefaultParams()
	p.BeamWidth = 2

	sess := NewSession()
	if _, _, err := d.BeamSearchChunkSync(constEouts(72, 5), p, ChunkOptions{}, sess); err != nil {
		t.Fatalf("BeamSearchChunkSync: %v", err)
	}
	if sess.Segment == nil {
		t.Fatal("no live segment after a chunk")
	}
	sess.ResetStream()
	if sess.Segment != nil || sess.Frames != 0 || sess.CTCScorer != nil {
		t.Fatal("stream state survived ResetStream")
	}
	// The next chunk starts a fresh utterance.
	if _, _, err := d.BeamSearchChunkSync(constEouts(73, 5), p, ChunkOptions{StateCarryOver: true}, sess); err != nil {
		t.Fatalf("fresh utterance after reset: %v", err)
	}
}
