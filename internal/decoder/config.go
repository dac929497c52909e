package decoder

import (
	"fmt"

	"github.com/asrkit/spellout/internal/attention"
	"github.com/asrkit/spellout/internal/lm"
	"github.com/asrkit/spellout/internal/rnn"
	"github.com/asrkit/spellout/internal/tensor"
)

// FusionType selects how a fused LM feeds the token generator.
type FusionType string

const (
	// FusionNone disables LM fusion.
	FusionNone FusionType = ""
	// FusionCold and FusionDeep gate the LM hidden features.
	FusionCold FusionType = "cold"
	FusionDeep FusionType = "deep"
	// FusionColdProb gates the LM output-vocabulary distribution instead
	// of the hidden features.
	FusionColdProb FusionType = "cold_prob"
)

func (f FusionType) valid() bool {
	switch f {
	case FusionNone, FusionCold, FusionDeep, FusionColdProb:
		return true
	}
	return false
}

// Config fixes a decoder's geometry and training-time behavior. All checks
// happen in New; decoding never revalidates.
type Config struct {
	Vocab int
	EOS   int
	UNK   int
	PAD   int
	Blank int

	EncUnits      int
	Units         int
	Projs         int
	Layers        int
	BottleneckDim int
	EmbDim        int
	CellType      rnn.CellType

	Dropout    float32
	DropoutEmb float32

	// TieEmbedding shares the embedding matrix with the output layer;
	// requires EmbDim == BottleneckDim.
	TieEmbedding bool

	// Backward decodes right to left; outputs are reversed on return.
	Backward bool
	// ReplaceSOS substitutes the first reference token for the start
	// symbol (multilingual language-id conditioning).
	ReplaceSOS bool

	// Fusion selects the cold/deep fusion variant when a fused LM is
	// attached at construction.
	Fusion FusionType

	// DiscourseAware enables cross-utterance state carry-over in the
	// training forward ("state_carry_over").
	DiscourseAware string

	// LSMProb is the label-smoothing mass for the training loss; SSProb
	// and SSType ("constant" or "saturation") control scheduled sampling.
	LSMProb float32
	SSProb  float32
	SSType  string
}

func (c Config) validate(fusion lm.Model) error {
	if c.Vocab < 2 {
		return fmt.Errorf("decoder: vocabulary size %d out of range", c.Vocab)
	}
	for _, id := range []int{c.EOS, c.UNK, c.PAD, c.Blank} {
		if id < 0 || id >= c.Vocab {
			return fmt.Errorf("decoder: special id %d outside vocabulary of %d", id, c.Vocab)
		}
	}
	if c.EncUnits < 1 || c.Units < 1 || c.BottleneckDim < 1 || c.EmbDim < 1 {
		return fmt.Errorf("decoder: non-positive dimension in config")
	}
	if !c.Fusion.valid() {
		return fmt.Errorf("decoder: unknown fusion type %q", c.Fusion)
	}
	if c.Fusion != FusionNone && fusion == nil {
		return fmt.Errorf("decoder: fusion type %q set without a fused LM", c.Fusion)
	}
	if fusion != nil && c.Fusion == FusionNone {
		return fmt.Errorf("decoder: fused LM attached without a fusion type")
	}
	if fusion != nil && fusion.Vocab() != c.Vocab {
		return fmt.Errorf("decoder: fused LM vocabulary %d, decoder %d", fusion.Vocab(), c.Vocab)
	}
	if c.TieEmbedding && c.EmbDim != c.BottleneckDim {
		return fmt.Errorf("decoder: tied embedding needs emb dim %d == bottleneck dim %d", c.EmbDim, c.BottleneckDim)
	}
	if c.SSType != "" && c.SSType != "constant" && c.SSType != "saturation" {
		return fmt.Errorf("decoder: unknown scheduled sampling type %q", c.SSType)
	}
	return nil
}

// Decoder is the attention decoding core: embedding, recurrent stack,
// attention scorer, token generator and output projection.
type Decoder struct {
	cfg   Config
	score attention.Scorer
	stack *rnn.Stack
	embed *tensor.Mat // [vocab, embDim]
	gen   *generator
	// output projects the generator bottleneck to the vocabulary;
	// shares storage with embed when tied.
	output *tensor.Mat // [vocab, bottleneckDim]
	outB   []float32

	fusionLM lm.Model

	ssProb float32 // active scheduled-sampling rate
}

// New builds a decoder around an attention scorer and an optional fused LM.
// Weights start at zero; use InitUniform, InitFromLM or a weight loader.
func New(cfg Config, score attention.Scorer, fusion lm.Model) (*Decoder, error) {
	if err := cfg.validate(fusion); err != nil {
		return nil, err
	}
	if score == nil {
		return nil, fmt.Errorf("decoder: nil attention scorer")
	}
	stack, err := rnn.NewStack(cfg.CellType, cfg.Layers, cfg.EmbDim+cfg.EncUnits, cfg.Units, cfg.Projs, cfg.Dropout)
	if err != nil {
		return nil, err
	}
	d := &Decoder{
		cfg:      cfg,
		score:    score,
		stack:    stack,
		embed:    tensor.NewMat(cfg.Vocab, cfg.EmbDim),
		outB:     make([]float32, cfg.Vocab),
		fusionLM: fusion,
	}
	d.gen, err = newGenerator(cfg, stack.OutDim(), fusion)
	if err != nil {
		return nil, err
	}
	if cfg.TieEmbedding {
		d.output = d.embed
	} else {
		d.output = tensor.NewMat(cfg.Vocab, cfg.BottleneckDim)
	}
	if cfg.SSType == "constant" {
		d.ssProb = cfg.SSProb
	}
	return d, nil
}

// Config returns the construction-time configuration.
func (d *Decoder) Config() Config { return d.cfg }

// Scorer returns the attached attention scorer.
func (d *Decoder) Scorer() attention.Scorer { return d.score }

// InitUniform fills every trainable matrix with uniform values in
// (-bound, bound), deterministically from seed.
func (d *Decoder) InitUniform(seed int64, bound float32) {
	tensor.FillUniform(d.embed, seed+1, bound)
	if !d.cfg.TieEmbedding {
		tensor.FillUniform(d.output, seed+2, bound)
	}
	d.stack.InitUniform(seed+3, bound)
	d.gen.initUniform(seed+4, bound)
	type uniformInit interface {
		InitUniform(seed int64, bound float32)
	}
	if s, ok := d.score.(uniformInit); ok {
		s.InitUniform(seed+5, bound)
	}
}

// InitFromLM overwrites the recurrent stack and embedding with a pretrained
// RNN LM's weights. The LM must share the decoder's geometry, including the
// layer-0 input width (an LM pretrained with a null context of encoder
// width). Dimension mismatches fail fast.
func (d *Decoder) InitFromLM(m *lm.RNNLM) error {
	if m.Vocab() != d.cfg.Vocab {
		return fmt.Errorf("decoder: pretrained LM vocabulary %d, decoder %d", m.Vocab(), d.cfg.Vocab)
	}
	if m.Units() != d.cfg.Units {
		return fmt.Errorf("decoder: pretrained LM units %d, decoder %d", m.Units(), d.cfg.Units)
	}
	if m.EmbDim() != d.cfg.EmbDim {
		return fmt.Errorf("decoder: pretrained LM embedding dim %d, decoder %d", m.EmbDim(), d.cfg.EmbDim)
	}
	if d.cfg.Projs != 0 {
		return fmt.Errorf("decoder: LM initialization requires a projection-free stack")
	}
	if m.Stack.CellType() != d.stack.CellType() {
		return fmt.Errorf("decoder: pretrained LM cell %q, decoder %q", m.Stack.CellType(), d.stack.CellType())
	}
	if m.Layers() != d.stack.Layers() {
		return fmt.Errorf("decoder: pretrained LM has %d layers, decoder %d", m.Layers(), d.stack.Layers())
	}
	for l := range d.stack.Cells {
		copyCell(d.stack.Cells[l], m.Stack.Cells[l], d.cfg.EmbDim)
	}
	copy(d.embed.Data, m.Embed.Data)
	return nil
}

// copyCell overwrites dst with src's weights. Layer 0 of the decoder sees
// the embedding plus the attention context while the LM saw the embedding
// alone, so only the leading embCols input columns are copied there and the
// context columns are zeroed, the null-context equivalent.
func copyCell(dst, src rnn.Cell, embCols int) {
	var dWx, dWh, sWx, sWh *tensor.Mat
	var dBx, dBh, sBx, sBh []float32
	switch dc := dst.(type) {
	case *rnn.LSTMCell:
		sc := src.(*rnn.LSTMCell)
		dWx, dWh, dBx, dBh = dc.Wx, dc.Wh, dc.Bx, dc.Bh
		sWx, sWh, sBx, sBh = sc.Wx, sc.Wh, sc.Bx, sc.Bh
	case *rnn.GRUCell:
		sc := src.(*rnn.GRUCell)
		dWx, dWh, dBx, dBh = dc.Wx, dc.Wh, dc.Bx, dc.Bh
		sWx, sWh, sBx, sBh = sc.Wx, sc.Wh, sc.Bx, sc.Bh
	default:
		return
	}
	if dWx.C == sWx.C {
		copy(dWx.Data, sWx.Data)
	} else {
		for i := range dWx.Data {
			dWx.Data[i] = 0
		}
		for r := 0; r < dWx.R; r++ {
			copy(dWx.Row(r)[:embCols], sWx.Row(r)[:embCols])
		}
	}
	copy(dWh.Data, sWh.Data)
	copy(dBx, sBx)
	copy(dBh, sBh)
}

// StartScheduledSampling activates the configured sampling rate; for the
// saturation schedule the rate stays 0 until this is called.
func (d *Decoder) StartScheduledSampling() { d.ssProb = d.cfg.SSProb }

// embedTokens looks up the embeddings of one token per batch row.
func (d *Decoder) embedTokens(tokens []int) *tensor.Mat {
	out := tensor.NewMat(len(tokens), d.cfg.EmbDim)
	for b, tok := range tokens {
		if tok == d.cfg.PAD {
			continue // padding embeds to zero
		}
		copy(out.Row(b), d.embed.Row(tok))
	}
	return out
}

// logits projects generator outputs to the vocabulary, one row per batch row.
func (d *Decoder) logits(attnV *tensor.Mat) *tensor.Mat {
	out := tensor.NewMat(attnV.R, d.cfg.Vocab)
	for b := 0; b < attnV.R; b++ {
		tensor.MatVecAdd(out.Row(b), d.output, attnV.Row(b), d.outB)
	}
	return out
}

// decodeStep runs recurrency, attention and generation for one step. All
// batch rows attend the same keys matrix (one utterance). lmFeat may be nil
// when no LM is fused.
func (d *Decoder) decodeStep(keys *tensor.Mat, elen int, st *rnn.State, cv, yEmb, prevW, lmFeat *tensor.Mat,
	mode attention.Mode, cache bool, trigger int) (*rnn.State, *tensor.Mat, *tensor.Mat, *tensor.Mat) {
	batch := yEmb.R
	input := tensor.NewMat(batch, d.cfg.EmbDim+d.cfg.EncUnits)
	for b := 0; b < batch; b++ {
		row := input.Row(b)
		copy(row, yEmb.Row(b))
		copy(row[d.cfg.EmbDim:], cv.Row(b))
	}
	next, scoreView, genView := d.stack.Step(input, st)
	newCV, w := d.score.Score(keys, elen, scoreView, prevW, mode, cache, trigger)
	attnV := tensor.NewMat(batch, d.cfg.BottleneckDim)
	for b := 0; b < batch; b++ {
		var lmRow []float32
		if lmFeat != nil {
			lmRow = lmFeat.Row(b)
		}
		d.gen.generate(attnV.Row(b), newCV.Row(b), genView.Row(b), lmRow)
	}
	return next, newCV, w, attnV
}
