package decoder

import (
	"math"
	"testing"

	"github.com/asrkit/spellout/internal/attention"
	"github.com/asrkit/spellout/internal/lm"
	"github.com/asrkit/spellout/internal/rnn"
	"github.com/asrkit/spellout/internal/tensor"
)

func TestBeamSearchValidation(t *testing.T) {
	d := newTestDecoder(t, 1)
	eouts := []*tensor.Mat{testEouts(2, 10)}
	elens := []int{10}
	fusionLM, err := lm.NewRNNLM(rnn.LSTM, 1, tVocab, tUnits, tUnits)
	if err != nil {
		t.Fatalf("NewRNNLM: %v", err)
	}

	tests := []struct {
		name string
		p    func(*Params)
		opt  func(*Options)
	}{
		{"zero beam", func(p *Params) { p.BeamWidth = 0 }, nil},
		{"nbest beyond beam", func(p *Params) { p.BeamWidth = 2 }, func(o *Options) { o.NBest = 3 }},
		{"zero max length ratio", func(p *Params) { p.MaxLenRatio = 0 }, nil},
		{"ctc weight out of range", func(p *Params) { p.CTCWeight = 1.5 }, nil},
		{"zero softmax smoothing", func(p *Params) { p.SoftmaxSmoothing = 0 }, nil},
		{"lm without weight", nil, func(o *Options) { o.LM = fusionLM }},
		{"second-pass lm without weight", nil, func(o *Options) { o.LM2nd = fusionLM }},
		{"ctc lattice without weight", nil, func(o *Options) { o.CTCLogProbs = []*tensor.Mat{testLattice(3, 10)} }},
		{"oracle without references", func(p *Params) { p.Oracle = true }, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParams()
			p.BeamWidth = 4
			if tt.p != nil {
				tt.p(&p)
			}
			var opt Options
			if tt.opt != nil {
				tt.opt(&opt)
			}
			if _, err := d.BeamSearch(eouts, elens, p, opt, nil); err == nil {
				t.Fatal("expected a validation error")
			}
		})
	}
}

func TestGreedyMatchesBeamWidthOne(t *testing.T) {
	d := newTestDecoder(t, 7)
	eouts := []*tensor.Mat{testEouts(20, 10), testEouts(21, 10)}
	elens := []int{10, 10}

	hyps, aligns, err := d.Greedy(eouts, elens, GreedyOptions{MaxLenRatio: 1}, nil)
	if err != nil {
		t.Fatalf("Greedy: %v", err)
	}

	p := DefaultParams()
	p.EOSThreshold = 1 // admit <eos> exactly when it is the argmax, as greedy does
	res, err := d.BeamSearch(eouts, elens, p, Options{}, nil)
	if err != nil {
		t.Fatalf("BeamSearch: %v", err)
	}

	for b := range eouts {
		if !intsEqual(hyps[b], res[b].NBest[0]) {
			t.Errorf("utterance %d: greedy %v, beam-1 %v", b, hyps[b], res[b].NBest[0])
		}
		if aligns[b].Steps != res[b].Aligns[0].Steps {
			t.Errorf("utterance %d: alignment steps %d vs %d", b, aligns[b].Steps, res[b].Aligns[0].Steps)
		}
	}
}

func TestBeamSearchEndToEnd(t *testing.T) {
	d := newTestDecoder(t, 9)
	eouts := []*tensor.Mat{testEouts(30, 10)}
	elens := []int{10}

	p := DefaultParams()
	p.BeamWidth = 2
	res, err := d.BeamSearch(eouts, elens, p, Options{NBest: 1}, nil)
	if err != nil {
		t.Fatalf("BeamSearch: %v", err)
	}
	if len(res) != 1 || len(res[0].NBest) != 1 {
		t.Fatalf("got %d results", len(res))
	}
	seq := res[0].NBest[0]
	if len(seq) == 0 || len(seq) > 11 {
		t.Fatalf("sequence length %d outside (0, 11]", len(seq))
	}
	for i, tok := range seq {
		if tok < 0 || tok >= tVocab {
			t.Fatalf("token %d out of vocabulary at %d", tok, i)
		}
		if tok == tEOS && i != len(seq)-1 {
			t.Fatalf("interior <eos> at %d in %v", i, seq)
		}
	}
	a := res[0].Aligns[0]
	if a.Heads != 1 || a.Frames != 10 || a.Steps != len(seq) {
		t.Fatalf("alignment shape [%d, %d, %d], want [1, %d, 10]", a.Heads, a.Steps, a.Frames, len(seq))
	}
	// Every attention row is a distribution over the 10 frames.
	for l := 0; l < a.Steps; l++ {
		var sum float32
		for f := 0; f < a.Frames; f++ {
			sum += a.At(0, l, f)
		}
		if sum < 0.99 || sum > 1.01 {
			t.Fatalf("step %d attention mass %v", l, sum)
		}
	}
}

func TestBeamSearchAllPaddingTerminates(t *testing.T) {
	d := newTestDecoder(t, 13)
	eouts := []*tensor.Mat{tensor.NewMat(8, tEnc)}
	elens := []int{8}

	p := DefaultParams()
	p.BeamWidth = 2
	res, err := d.BeamSearch(eouts, elens, p, Options{}, nil)
	if err != nil {
		t.Fatalf("BeamSearch: %v", err)
	}
	seq := res[0].NBest[0]
	if len(seq) == 0 || len(seq) > 9 {
		t.Fatalf("sequence length %d outside (0, 9]", len(seq))
	}
	for i, tok := range seq[:len(seq)-1] {
		if tok == tEOS {
			t.Fatalf("interior <eos> at %d in %v", i, seq)
		}
	}
}

func TestBeamSearchNBestOrdering(t *testing.T) {
	d := newTestDecoder(t, 17)
	eouts := []*tensor.Mat{testEouts(40, 12)}
	elens := []int{12}

	p := DefaultParams()
	p.BeamWidth = 4
	res, err := d.BeamSearch(eouts, elens, p, Options{NBest: 3}, nil)
	if err != nil {
		t.Fatalf("BeamSearch: %v", err)
	}
	scores := res[0].Scores
	if len(scores) == 0 {
		t.Fatal("no n-best hypotheses")
	}
	for i := 1; i < len(scores); i++ {
		if scores[i] > scores[i-1] {
			t.Fatalf("n-best scores not descending: %v", scores)
		}
	}
}

func TestBeamSearchExcludeEOS(t *testing.T) {
	d := newTestDecoder(t, 19)
	eouts := []*tensor.Mat{testEouts(50, 10)}
	elens := []int{10}

	p := DefaultParams()
	p.BeamWidth = 2
	res, err := d.BeamSearch(eouts, elens, p, Options{ExcludeEOS: true}, nil)
	if err != nil {
		t.Fatalf("BeamSearch: %v", err)
	}
	for _, tok := range res[0].NBest[0] {
		if tok == tEOS {
			t.Fatalf("<eos> left in %v", res[0].NBest[0])
		}
	}
}

func TestBeamSearchOracle(t *testing.T) {
	d := newTestDecoder(t, 23)
	eouts := []*tensor.Mat{testEouts(60, 10)}
	elens := []int{10}
	refs := [][]int{{3, 4, 2}}

	p := DefaultParams()
	p.BeamWidth = 2
	p.Oracle = true
	res, err := d.BeamSearch(eouts, elens, p, Options{RefsID: refs}, nil)
	if err != nil {
		t.Fatalf("BeamSearch: %v", err)
	}
	// Oracle decoding runs exactly one step per reference token plus the
	// closing step.
	if got := len(res[0].NBest[0]); got != len(refs[0])+1 {
		t.Fatalf("oracle output length %d, want %d", got, len(refs[0])+1)
	}
}

func TestBeamSearchJointCTC(t *testing.T) {
	d := newTestDecoder(t, 29)
	eouts := []*tensor.Mat{testEouts(70, 10)}
	elens := []int{10}

	p := DefaultParams()
	p.BeamWidth = 3
	p.CTCWeight = 0.5
	opt := Options{CTCLogProbs: []*tensor.Mat{testLattice(71, 10)}}
	res, err := d.BeamSearch(eouts, elens, p, opt, nil)
	if err != nil {
		t.Fatalf("BeamSearch: %v", err)
	}
	seq := res[0].NBest[0]
	if len(seq) == 0 {
		t.Fatal("empty joint-decoding output")
	}
	for _, tok := range seq {
		if tok == tBlank {
			t.Fatalf("blank emitted in %v", seq)
		}
	}
	if s := res[0].Scores[0]; math.IsNaN(float64(s)) || s <= tensor.NegInf/2 {
		t.Fatalf("degenerate score %v", s)
	}
}

func TestBeamSearchShallowFusion(t *testing.T) {
	d := newTestDecoder(t, 31)
	eouts := []*tensor.Mat{testEouts(80, 10)}
	elens := []int{10}

	shallow, err := lm.NewRNNLM(rnn.LSTM, 1, tVocab, tUnits, tUnits)
	if err != nil {
		t.Fatalf("NewRNNLM: %v", err)
	}
	shallow.InitUniform(81, 0.5)

	p := DefaultParams()
	p.BeamWidth = 2
	p.LMWeight = 0.4
	res, err := d.BeamSearch(eouts, elens, p, Options{LM: shallow}, nil)
	if err != nil {
		t.Fatalf("BeamSearch: %v", err)
	}
	if len(res[0].NBest[0]) == 0 {
		t.Fatal("empty fused output")
	}
}

func TestRescoreLM(t *testing.T) {
	d := newTestDecoder(t, 37)
	model, err := lm.NewRNNLM(rnn.LSTM, 1, tVocab, tUnits, tUnits)
	if err != nil {
		t.Fatalf("NewRNNLM: %v", err)
	}
	model.InitUniform(38, 0.5)

	h := &Hypothesis{Seq: []int{tEOS, 3, 4, tEOS}, Score: -2}
	d.rescoreLM([]*Hypothesis{h}, model, 0.5, false)
	want := model.SequenceLogProb(tEOS, []int{3, 4, tEOS})
	if h.ScoreLM2nd != want {
		t.Fatalf("forward rescore %v, want %v", h.ScoreLM2nd, want)
	}
	if h.Score != -2+0.5*want {
		t.Fatalf("fused score %v after forward rescore", h.Score)
	}

	h = &Hypothesis{Seq: []int{tEOS, 3, 4, tEOS}}
	d.rescoreLM([]*Hypothesis{h}, model, 0.5, true)
	want = model.SequenceLogProb(tEOS, []int{4, 3, tEOS})
	if h.ScoreLM2ndRev != want {
		t.Fatalf("reverse rescore %v, want %v", h.ScoreLM2ndRev, want)
	}
}

func TestBeamSearchEnsembleOfSelf(t *testing.T) {
	// Two copies of the same model must agree with the single model under a
	// width-1 beam: averaging identical distributions is a monotone map.
	d := newTestDecoder(t, 41)
	twin := newTestDecoder(t, 41)
	eouts := []*tensor.Mat{testEouts(90, 10)}
	elens := []int{10}

	p := DefaultParams()
	p.EOSThreshold = 1
	single, err := d.BeamSearch(eouts, elens, p, Options{}, nil)
	if err != nil {
		t.Fatalf("BeamSearch: %v", err)
	}
	opt := Options{Ensemble: []EnsembleMember{{Dec: twin, Eouts: eouts, Elens: elens}}}
	joint, err := d.BeamSearch(eouts, elens, p, opt, nil)
	if err != nil {
		t.Fatalf("BeamSearch (ensemble): %v", err)
	}
	if !intsEqual(single[0].NBest[0], joint[0].NBest[0]) {
		t.Fatalf("ensemble of self diverged: %v vs %v", single[0].NBest[0], joint[0].NBest[0])
	}
}

func TestBeamSearchStateCarryOver(t *testing.T) {
	d := newTestDecoder(t, 43)
	eouts := []*tensor.Mat{testEouts(95, 10)}
	elens := []int{10}

	p := DefaultParams()
	p.BeamWidth = 2
	p.ASRStateCarryOver = true

	sess := NewSession()
	if _, err := d.BeamSearch(eouts, elens, p, Options{Speakers: []string{"spk1"}}, sess); err != nil {
		t.Fatalf("BeamSearch: %v", err)
	}
	if sess.DStates == nil {
		t.Fatal("session did not record the final recurrent state")
	}
	if sess.PrevSpeaker != "spk1" {
		t.Fatalf("session speaker %q", sess.PrevSpeaker)
	}
	// Second utterance from the same speaker warm-starts from the session.
	if _, err := d.BeamSearch(eouts, elens, p, Options{Speakers: []string{"spk1"}}, sess); err != nil {
		t.Fatalf("BeamSearch (carry-over): %v", err)
	}
}

func TestBeamSearchBackward(t *testing.T) {
	cfg := testConfig()
	cfg.Backward = true
	d, err := New(cfg, attention.NewAdditive(tEnc, tUnits, tUnits), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	d.InitUniform(47, 0.5)
	eouts := []*tensor.Mat{testEouts(99, 10)}
	elens := []int{10}

	p := DefaultParams()
	p.BeamWidth = 2
	res, err := d.BeamSearch(eouts, elens, p, Options{}, nil)
	if err != nil {
		t.Fatalf("BeamSearch: %v", err)
	}
	// Right-to-left decoding reverses the output, so the end symbol, when
	// present, sits at the front.
	seq := res[0].NBest[0]
	for i, tok := range seq {
		if tok == tEOS && i != 0 {
			t.Fatalf("reversed output has <eos> at %d: %v", i, seq)
		}
	}
}
