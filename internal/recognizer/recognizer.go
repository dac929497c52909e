// Package recognizer wires the acoustic front end and the attention decoder
// into transcription calls: feature frames in, n-best transcripts out.
package recognizer

import (
	"context"
	"fmt"

	"github.com/asrkit/spellout/internal/attention"
	"github.com/asrkit/spellout/internal/decoder"
	"github.com/asrkit/spellout/internal/logger"
	"github.com/asrkit/spellout/internal/rnn"
	"github.com/asrkit/spellout/internal/tensor"
	"github.com/asrkit/spellout/internal/toy"
	"github.com/asrkit/spellout/internal/vocab"
	"github.com/asrkit/spellout/pkg/feat"
)

// Config fixes the model geometry. Zero fields fall back to small defaults
// so a config file only needs to name what it changes.
type Config struct {
	FeatDim    int    `yaml:"feat_dim"`
	Subsample  int    `yaml:"subsample"`
	EncUnits   int    `yaml:"enc_units"`
	Units      int    `yaml:"units"`
	Layers     int    `yaml:"layers"`
	Bottleneck int    `yaml:"bottleneck"`
	EmbDim     int    `yaml:"emb_dim"`
	Cell       string `yaml:"cell"`      // lstm or gru
	Attention  string `yaml:"attention"` // additive, location, multihead, monotonic
	AttnDim    int    `yaml:"attn_dim"`
	Heads      int    `yaml:"heads"`
	ChunkSize  int    `yaml:"chunk_size"`
	Seed       int64  `yaml:"seed"`
}

func (c *Config) setDefaults() {
	if c.FeatDim == 0 {
		c.FeatDim = 80
	}
	if c.Subsample == 0 {
		c.Subsample = 4
	}
	if c.EncUnits == 0 {
		c.EncUnits = 128
	}
	if c.Units == 0 {
		c.Units = 128
	}
	if c.Layers == 0 {
		c.Layers = 1
	}
	if c.Bottleneck == 0 {
		c.Bottleneck = c.Units
	}
	if c.EmbDim == 0 {
		c.EmbDim = c.Units
	}
	if c.Cell == "" {
		c.Cell = string(rnn.LSTM)
	}
	if c.Attention == "" {
		c.Attention = "additive"
	}
	if c.AttnDim == 0 {
		c.AttnDim = c.Units
	}
	if c.Heads == 0 {
		c.Heads = 4
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = 1
	}
	if c.Seed == 0 {
		c.Seed = 1
	}
}

// Candidate is one transcription hypothesis.
type Candidate struct {
	Tokens []int   `json:"tokens"`
	Text   string  `json:"text"`
	Score  float32 `json:"score"`
}

// Transcription is the result of one utterance.
type Transcription struct {
	Best   Candidate   `json:"best"`
	NBest  []Candidate `json:"nbest"`
	Frames int         `json:"frames"` // encoder frames consumed
}

// Recognizer bundles the encoder, CTC head, decoder and vocabulary. Weights
// are seeded deterministically; a trained system would load them instead.
type Recognizer struct {
	cfg   Config
	vocab *vocab.Table
	enc   *toy.Encoder
	ctc   *toy.CTCHead
	dec   *decoder.Decoder
	log   logger.Logger
}

// New builds a recognizer for the given vocabulary.
func New(cfg Config, tbl *vocab.Table, log logger.Logger) (*Recognizer, error) {
	cfg.setDefaults()
	if tbl == nil {
		return nil, fmt.Errorf("recognizer: nil vocabulary")
	}
	if log == nil {
		log = logger.Default()
	}

	enc, err := toy.NewEncoder(cfg.FeatDim, cfg.EncUnits, cfg.Subsample, cfg.Seed+100)
	if err != nil {
		return nil, err
	}
	head, err := toy.NewCTCHead(cfg.EncUnits, tbl.Size(), cfg.Seed+200)
	if err != nil {
		return nil, err
	}

	var score attention.Scorer
	switch cfg.Attention {
	case "additive":
		score = attention.NewAdditive(cfg.EncUnits, cfg.Units, cfg.AttnDim)
	case "location":
		score = attention.NewLocation(cfg.EncUnits, cfg.Units, cfg.AttnDim, 10, 5)
	case "multihead":
		score = attention.NewMultihead(cfg.EncUnits, cfg.Units, cfg.EncUnits/cfg.Heads, cfg.Heads)
	case "monotonic":
		score = attention.NewMonotonic(cfg.EncUnits, cfg.Units, cfg.AttnDim, cfg.ChunkSize)
	default:
		return nil, fmt.Errorf("recognizer: unknown attention type %q", cfg.Attention)
	}

	sp := tbl.Specials
	dec, err := decoder.New(decoder.Config{
		Vocab: tbl.Size(), EOS: sp.EOS, UNK: sp.UNK, PAD: sp.PAD, Blank: sp.Blank,
		EncUnits: cfg.EncUnits, Units: cfg.Units, Layers: cfg.Layers,
		BottleneckDim: cfg.Bottleneck, EmbDim: cfg.EmbDim,
		CellType: rnn.CellType(cfg.Cell),
	}, score, nil)
	if err != nil {
		return nil, err
	}
	dec.InitUniform(cfg.Seed, 0.1)

	return &Recognizer{cfg: cfg, vocab: tbl, enc: enc, ctc: head, dec: dec, log: log}, nil
}

// LoadWeights replaces the decoder weights with matrices from an FEA
// container. A failed load can leave the decoder partially overwritten;
// rebuild the recognizer in that case.
func (r *Recognizer) LoadWeights(path string) error {
	f, err := feat.Open(path)
	if err != nil {
		return fmt.Errorf("recognizer: open weights %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	if err := r.dec.LoadWeights(f); err != nil {
		return err
	}
	r.log.Info("decoder weights loaded", "path", path)
	return nil
}

// Config returns the resolved configuration.
func (r *Recognizer) Config() Config { return r.cfg }

// Vocab returns the vocabulary table.
func (r *Recognizer) Vocab() *vocab.Table { return r.vocab }

// Decoder exposes the decoding core, mainly for benchmarks.
func (r *Recognizer) Decoder() *decoder.Decoder { return r.dec }

// Encode runs the front end over one utterance of feature frames.
func (r *Recognizer) Encode(frames *tensor.Mat) (*tensor.Mat, error) {
	if frames == nil || frames.R == 0 {
		return nil, fmt.Errorf("recognizer: empty utterance")
	}
	if frames.C != r.cfg.FeatDim {
		return nil, fmt.Errorf("recognizer: feature width %d, model expects %d", frames.C, r.cfg.FeatDim)
	}
	return r.enc.Forward(frames), nil
}

// Recognize decodes one utterance with the given search parameters.
func (r *Recognizer) Recognize(ctx context.Context, frames *tensor.Mat, p decoder.Params, nbest int) (*Transcription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	eouts, err := r.Encode(frames)
	if err != nil {
		return nil, err
	}
	r.log.Debug("encoded utterance", "in_frames", frames.R, "enc_frames", eouts.R)

	opt := decoder.Options{NBest: nbest, ExcludeEOS: true}
	if p.CTCWeight > 0 {
		opt.CTCLogProbs = []*tensor.Mat{r.ctc.LogProbs(eouts)}
	}
	res, err := r.dec.BeamSearch([]*tensor.Mat{eouts}, []int{eouts.R}, p, opt, nil)
	if err != nil {
		return nil, err
	}
	return r.transcription(res[0], eouts.R), nil
}

func (r *Recognizer) transcription(res decoder.Result, frames int) *Transcription {
	out := &Transcription{Frames: frames}
	for n, ids := range res.NBest {
		cand := Candidate{
			Tokens: ids,
			Text:   r.vocab.Decode(ids),
			Score:  res.Scores[n],
		}
		out.NBest = append(out.NBest, cand)
	}
	if len(out.NBest) > 0 {
		out.Best = out.NBest[0]
	}
	return out
}
