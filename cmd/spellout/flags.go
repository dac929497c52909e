package main

import "github.com/urfave/cli/v3"

var (
	vocabPath   string
	weightsPath string
	attnType    string
	cellType    string
	featDim     int64
	subsample   int64
	encUnits    int64
	units       int64
	seed        int64
	logLevel    string
	logFormat   string
	debug       bool
)

func commonModelFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "vocab",
			Aliases:     []string{"v"},
			Usage:       "path to vocabulary file (.json or plain text, one token per line)",
			Destination: &vocabPath,
		},
		&cli.StringFlag{
			Name:        "weights",
			Aliases:     []string{"w"},
			Usage:       "path to .fea decoder weight container (seeded weights when empty)",
			Destination: &weightsPath,
		},
		&cli.StringFlag{
			Name:        "attention",
			Usage:       "attention type (additive, location, multihead, monotonic)",
			Value:       "additive",
			Destination: &attnType,
		},
		&cli.StringFlag{
			Name:        "cell",
			Usage:       "recurrent cell type (lstm, gru)",
			Value:       "lstm",
			Destination: &cellType,
		},
		&cli.Int64Flag{
			Name:        "feat-dim",
			Usage:       "acoustic feature width",
			Value:       80,
			Destination: &featDim,
		},
		&cli.Int64Flag{
			Name:        "subsample",
			Usage:       "frame subsampling factor of the encoder",
			Value:       4,
			Destination: &subsample,
		},
		&cli.Int64Flag{
			Name:        "enc-units",
			Usage:       "encoder output width",
			Value:       128,
			Destination: &encUnits,
		},
		&cli.Int64Flag{
			Name:        "units",
			Usage:       "decoder hidden units",
			Value:       128,
			Destination: &units,
		},
		&cli.Int64Flag{
			Name:        "seed",
			Usage:       "weight initialisation seed",
			Value:       1,
			Destination: &seed,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}
