package main

import (
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the spellout configuration file
// (~/.config/spellout/config.yaml). Pointer fields distinguish "not set"
// from zero values.
type Config struct {
	VocabPath   string `yaml:"vocab"`
	WeightsPath string `yaml:"weights"`
	Attention   string `yaml:"attention"`
	Cell        string `yaml:"cell"`
	FeatDim     *int64 `yaml:"feat_dim"`
	Subsample   *int64 `yaml:"subsample"`
	EncUnits    *int64 `yaml:"enc_units"`
	Units       *int64 `yaml:"units"`
	Seed        *int64 `yaml:"seed"`

	// Search defaults
	BeamWidth *int64   `yaml:"beam_width"`
	NBest     *int64   `yaml:"nbest"`
	CTCWeight *float64 `yaml:"ctc_weight"`

	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Server
	ServerAddress string `yaml:"server_address"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "spellout", "config.yaml")
}

// applyModelConfig applies config file defaults to the shared model flags
// when the corresponding CLI flag was not explicitly set.
func applyModelConfig(c *cli.Command, cfg Config) {
	if cfg.VocabPath != "" && !c.IsSet("vocab") {
		vocabPath = cfg.VocabPath
	}
	if cfg.WeightsPath != "" && !c.IsSet("weights") {
		weightsPath = cfg.WeightsPath
	}
	if cfg.Attention != "" && !c.IsSet("attention") {
		attnType = cfg.Attention
	}
	if cfg.Cell != "" && !c.IsSet("cell") {
		cellType = cfg.Cell
	}
	if cfg.FeatDim != nil && !c.IsSet("feat-dim") {
		featDim = *cfg.FeatDim
	}
	if cfg.Subsample != nil && !c.IsSet("subsample") {
		subsample = *cfg.Subsample
	}
	if cfg.EncUnits != nil && !c.IsSet("enc-units") {
		encUnits = *cfg.EncUnits
	}
	if cfg.Units != nil && !c.IsSet("units") {
		units = *cfg.Units
	}
	if cfg.Seed != nil && !c.IsSet("seed") {
		seed = *cfg.Seed
	}
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// applyDecodeConfig applies config file defaults to decode command variables.
func applyDecodeConfig(c *cli.Command, cfg Config, beam, nbest *int64, ctcWeight *float64) {
	if cfg.BeamWidth != nil && !c.IsSet("beam") {
		*beam = *cfg.BeamWidth
	}
	if cfg.NBest != nil && !c.IsSet("nbest") {
		*nbest = *cfg.NBest
	}
	if cfg.CTCWeight != nil && !c.IsSet("ctc-weight") {
		*ctcWeight = *cfg.CTCWeight
	}
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c *cli.Command, cfg Config, addr *string) {
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
}

// LoadConfig reads the config file. Returns a zero Config if the file
// doesn't exist.
func LoadConfig() Config {
	path := configPath()
	if path == "" {
		return Config{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}
	}
	return cfg
}
