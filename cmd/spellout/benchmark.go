package main

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/asrkit/spellout/internal/decoder"
	"github.com/asrkit/spellout/internal/toy"
)

func benchmarkCmd() *cli.Command {
	var (
		warmupRuns int64
		benchRuns  int64
		frames     int64
		beam       int64
	)

	flags := append([]cli.Flag{}, commonModelFlags()...)
	flags = append(flags, loggingFlags()...)
	flags = append(flags,
		&cli.Int64Flag{
			Name:        "warmup",
			Usage:       "number of warmup runs",
			Value:       1,
			Destination: &warmupRuns,
		},
		&cli.Int64Flag{
			Name:        "runs",
			Usage:       "number of benchmark runs",
			Value:       5,
			Destination: &benchRuns,
		},
		&cli.Int64Flag{
			Name:        "frames",
			Usage:       "feature frames per synthetic utterance",
			Value:       1000,
			Destination: &frames,
		},
		&cli.Int64Flag{
			Name:        "beam",
			Aliases:     []string{"b"},
			Usage:       "beam width",
			Value:       4,
			Destination: &beam,
		},
	)

	return &cli.Command{
		Name:  "benchmark",
		Usage: "Run standardized decoding benchmarks",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := LoadConfig()
			applyModelConfig(cmd, cfg)
			log := newLogger()

			rec, err := buildRecognizer(log)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: build recognizer: %v", err), 1)
			}
			utt := toy.Frames(int(frames), int(featDim), seed+1000)

			p := decoder.DefaultParams()
			p.BeamWidth = int(beam)

			fmt.Println("=== Spellout Benchmark ===")
			fmt.Printf("Attention:  %s\n", attnType)
			fmt.Printf("Beam:       %d\n", p.BeamWidth)
			fmt.Printf("Frames:     %d (dim %d, subsample %d)\n", frames, featDim, subsample)
			fmt.Printf("CPUs:       %d\n", runtime.NumCPU())
			fmt.Printf("GOMAXPROCS: %d\n", runtime.GOMAXPROCS(0))
			fmt.Printf("Warmup:     %d runs\n", warmupRuns)
			fmt.Printf("Runs:       %d\n", benchRuns)
			fmt.Println()

			for i := range int(warmupRuns) {
				log.Info("warmup run", "run", i+1)
				if _, err := rec.Recognize(ctx, utt, p, 1); err != nil {
					return cli.Exit(fmt.Sprintf("error: warmup: %v", err), 1)
				}
			}

			var total time.Duration
			var tokens int
			for i := range int(benchRuns) {
				start := time.Now()
				out, err := rec.Recognize(ctx, utt, p, 1)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: run %d: %v", i+1, err), 1)
				}
				elapsed := time.Since(start)
				total += elapsed
				tokens += len(out.Best.Tokens)
				fmt.Printf("run %d: %s (%d tokens)\n", i+1, elapsed.Round(time.Millisecond), len(out.Best.Tokens))
			}

			mean := total / time.Duration(benchRuns)
			fmt.Println()
			fmt.Printf("mean latency:  %s\n", mean.Round(time.Millisecond))
			fmt.Printf("frames/sec:    %.0f\n", float64(frames)*float64(benchRuns)/total.Seconds())
			if tokens > 0 {
				fmt.Printf("tokens/sec:    %.1f\n", float64(tokens)/total.Seconds())
			}
			return nil
		},
	}
}
