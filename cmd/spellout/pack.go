package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/asrkit/spellout/internal/toy"
	"github.com/asrkit/spellout/pkg/feat"
)

type packMeta struct {
	Corpus       string  `json:"corpus"`
	FeatDim      int     `json:"feat_dim"`
	FrameShiftMS float64 `json:"frame_shift_ms"`
	CreatedAt    string  `json:"created_at"`
}

func packCmd() *cli.Command {
	var (
		out      string
		utts     int64
		frames   int64
		dim      int64
		packSeed int64
	)

	return &cli.Command{
		Name:  "pack",
		Usage: "Write a feature container of synthetic utterances",
		Flags: append(loggingFlags(),
			&cli.StringFlag{
				Name:        "out",
				Aliases:     []string{"o"},
				Usage:       "output .fea path",
				Required:    true,
				Destination: &out,
			},
			&cli.Int64Flag{
				Name:        "utts",
				Usage:       "number of utterances",
				Value:       4,
				Destination: &utts,
			},
			&cli.Int64Flag{
				Name:        "frames",
				Usage:       "feature frames per utterance",
				Value:       200,
				Destination: &frames,
			},
			&cli.Int64Flag{
				Name:        "feat-dim",
				Usage:       "feature width",
				Value:       80,
				Destination: &dim,
			},
			&cli.Int64Flag{
				Name:        "seed",
				Usage:       "feature generation seed",
				Value:       1,
				Destination: &packSeed,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := newLogger()

			f, err := os.Create(out)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: create %s: %v", out, err), 1)
			}
			defer func() { _ = f.Close() }()

			w, err := feat.NewWriter(f)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: open writer: %v", err), 1)
			}
			for i := range int(utts) {
				name := fmt.Sprintf("utt%04d/feats", i+1)
				m := toy.Frames(int(frames), int(dim), packSeed+int64(i))
				if err := w.Add(name, m); err != nil {
					return cli.Exit(fmt.Sprintf("error: add %s: %v", name, err), 1)
				}
			}
			w.SetMeta(packMeta{
				Corpus:       "synthetic",
				FeatDim:      int(dim),
				FrameShiftMS: 10,
				CreatedAt:    time.Now().UTC().Format(time.RFC3339),
			})
			if err := w.Finalise(); err != nil {
				return cli.Exit(fmt.Sprintf("error: finalise: %v", err), 1)
			}
			log.Info("container written", "path", out, "utterances", utts, "frames", frames, "dim", dim)
			return nil
		},
	}
}
