package main

import (
	"context"
	"testing"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

func TestConfigUnmarshal(t *testing.T) {
	raw := `
vocab: /data/vocab.json
weights: /data/decoder.fea
attention: monotonic
units: 256
beam_width: 8
ctc_weight: 0.3
server_address: 0.0.0.0:9090
`
	var cfg Config
	if err := yaml.Unmarshal([]byte(raw), &cfg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if cfg.VocabPath != "/data/vocab.json" || cfg.Attention != "monotonic" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.Units == nil || *cfg.Units != 256 {
		t.Fatal("units not decoded")
	}
	if cfg.BeamWidth == nil || *cfg.BeamWidth != 8 {
		t.Fatal("beam width not decoded")
	}
	if cfg.FeatDim != nil {
		t.Fatal("absent field decoded as set")
	}
}

func TestApplyModelConfigRespectsFlags(t *testing.T) {
	sixtyFour := int64(64)
	nine := int64(9)
	cfg := Config{
		Attention: "location",
		Units:     &sixtyFour,
		Seed:      &nine,
	}

	ran := false
	cmd := &cli.Command{
		Name:  "test",
		Flags: append(commonModelFlags(), loggingFlags()...),
		Action: func(ctx context.Context, c *cli.Command) error {
			ran = true
			applyModelConfig(c, cfg)
			return nil
		},
	}
	if err := cmd.Run(context.Background(), []string{"test", "--units", "32"}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !ran {
		t.Fatal("action did not run")
	}
	if units != 32 {
		t.Fatalf("explicit flag overridden: units = %d", units)
	}
	if attnType != "location" {
		t.Fatalf("config default not applied: attention = %q", attnType)
	}
	if seed != 9 {
		t.Fatalf("config default not applied: seed = %d", seed)
	}
}
