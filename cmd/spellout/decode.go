package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/asrkit/spellout/internal/decoder"
	"github.com/asrkit/spellout/internal/recognizer"
	"github.com/asrkit/spellout/internal/tensor"
	"github.com/asrkit/spellout/pkg/feat"
)

func decodeCmd() *cli.Command {
	var (
		input            string
		beam             int64
		nbest            int64
		maxLenRatio      float64
		minLenRatio      float64
		lengthPenalty    float64
		coveragePenalty  float64
		gnmt             bool
		lengthNorm       bool
		ctcWeight        float64
		softmaxSmoothing float64
		stream           bool
		chunkFrames      int64
	)

	flags := append([]cli.Flag{}, commonModelFlags()...)
	flags = append(flags, loggingFlags()...)
	flags = append(flags,
		&cli.StringFlag{
			Name:        "input",
			Aliases:     []string{"i"},
			Usage:       "path to .fea feature container",
			Required:    true,
			Destination: &input,
		},
		&cli.Int64Flag{
			Name:        "beam",
			Aliases:     []string{"b"},
			Usage:       "beam width",
			Value:       4,
			Destination: &beam,
		},
		&cli.Int64Flag{
			Name:        "nbest",
			Usage:       "number of hypotheses to print per utterance",
			Value:       1,
			Destination: &nbest,
		},
		&cli.Float64Flag{
			Name:        "max-len-ratio",
			Usage:       "output length cap as a fraction of encoder frames",
			Value:       1,
			Destination: &maxLenRatio,
		},
		&cli.Float64Flag{
			Name:        "min-len-ratio",
			Usage:       "minimum output length as a fraction of encoder frames",
			Destination: &minLenRatio,
		},
		&cli.Float64Flag{
			Name:        "length-penalty",
			Usage:       "length penalty weight",
			Destination: &lengthPenalty,
		},
		&cli.Float64Flag{
			Name:        "coverage-penalty",
			Usage:       "coverage penalty weight",
			Destination: &coveragePenalty,
		},
		&cli.BoolFlag{
			Name:        "gnmt",
			Usage:       "use GNMT length and coverage penalty formulations",
			Destination: &gnmt,
		},
		&cli.BoolFlag{
			Name:        "length-norm",
			Usage:       "normalize fused scores by output length",
			Destination: &lengthNorm,
		},
		&cli.Float64Flag{
			Name:        "ctc-weight",
			Usage:       "CTC prefix score weight in [0, 1]",
			Destination: &ctcWeight,
		},
		&cli.Float64Flag{
			Name:        "softmax-smoothing",
			Usage:       "logit scale before the probability conversion",
			Value:       1,
			Destination: &softmaxSmoothing,
		},
		&cli.BoolFlag{
			Name:        "stream",
			Usage:       "decode chunk-synchronously (requires monotonic attention)",
			Destination: &stream,
		},
		&cli.Int64Flag{
			Name:        "chunk-frames",
			Usage:       "feature frames per streaming chunk",
			Value:       64,
			Destination: &chunkFrames,
		},
	)

	return &cli.Command{
		Name:  "decode",
		Usage: "Decode utterances from a feature container",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := LoadConfig()
			applyModelConfig(cmd, cfg)
			applyDecodeConfig(cmd, cfg, &beam, &nbest, &ctcWeight)
			log := newLogger()

			rec, err := buildRecognizer(log)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: build recognizer: %v", err), 1)
			}
			f, err := feat.Open(input)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: open %s: %v", input, err), 1)
			}
			defer func() { _ = f.Close() }()

			p := decoder.DefaultParams()
			p.BeamWidth = int(beam)
			p.MaxLenRatio = float32(maxLenRatio)
			p.MinLenRatio = float32(minLenRatio)
			p.LengthPenalty = float32(lengthPenalty)
			p.CoveragePenalty = float32(coveragePenalty)
			p.GNMTDecoding = gnmt
			p.LengthNorm = lengthNorm
			p.CTCWeight = float32(ctcWeight)
			p.SoftmaxSmoothing = float32(softmaxSmoothing)

			names := utteranceNames(f)
			if len(names) == 0 {
				return cli.Exit("error: no feature matrices in container", 1)
			}
			log.Info("decoding", "utterances", len(names), "beam", p.BeamWidth, "stream", stream)

			start := time.Now()
			for _, name := range names {
				frames, err := f.Matrix(name)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: read %s: %v", name, err), 1)
				}
				if stream {
					err = decodeStreaming(ctx, rec, p, name, frames, int(chunkFrames))
				} else {
					err = decodeUtterance(ctx, rec, p, name, frames, int(nbest))
				}
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: decode %s: %v", name, err), 1)
				}
			}
			log.Info("done", "utterances", len(names), "elapsed", time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
}

// utteranceNames lists the feature matrices of the container in a stable
// order, skipping any auxiliary lattices stored alongside them.
func utteranceNames(f *feat.File) []string {
	var names []string
	for _, name := range f.Names() {
		if strings.HasSuffix(name, "/ctc") {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func decodeUtterance(ctx context.Context, rec *recognizer.Recognizer, p decoder.Params, name string, frames *tensor.Mat, nbest int) error {
	out, err := rec.Recognize(ctx, frames, p, nbest)
	if err != nil {
		return err
	}
	for n, cand := range out.NBest {
		fmt.Printf("%s\t%d\t%.4f\t%s\n", name, n+1, cand.Score, cand.Text)
	}
	return nil
}

func decodeStreaming(ctx context.Context, rec *recognizer.Recognizer, p decoder.Params, name string, frames *tensor.Mat, chunkFrames int) error {
	if chunkFrames < 1 {
		return fmt.Errorf("chunk size %d out of range", chunkFrames)
	}
	st := rec.NewStream(p)
	for lo := 0; lo < frames.R; lo += chunkFrames {
		hi := min(lo+chunkFrames, frames.R)
		if _, err := st.Feed(ctx, frames.SliceRows(lo, hi)); err != nil {
			return err
		}
	}
	out := st.Final()
	fmt.Printf("%s\t1\t%.4f\t%s\n", name, out.Best.Score, out.Best.Text)
	return nil
}
