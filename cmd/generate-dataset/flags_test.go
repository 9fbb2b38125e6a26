package main

import (
	"flag"
	"io"
	"path/filepath"
	"testing"

	"github.com/menta2k/tag-trainset/internal/config"
)

func parseFlags(t *testing.T, args ...string) (*cliFlags, *flag.FlagSet) {
	t.Helper()
	var cli cliFlags
	fs := flag.NewFlagSet("generate-dataset", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	cli.register(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return &cli, fs
}

func TestSamplingFlagsOverride(t *testing.T) {
	cli, fs := parseFlags(t,
		"-sample-rate", "12",
		"-acceptance-rate", "0.25",
		"-samples-per-tag", "5",
		"-ratio-true-false", "0.5",
		"-ratio-around-uniform", "2",
		"-scale", "0.5",
		"-rotation=false",
		"-hist-eq",
	)
	cfg, err := cli.loadConfig(fs, filepath.Join(t.TempDir(), "none.json"))
	if err != nil {
		t.Fatal(err)
	}

	s := cfg.Sampling
	if s.SampleRate != 12 || s.AcceptanceRate != 0.25 || s.SamplesPerTag != 5 {
		t.Errorf("Unexpected sampling config %+v", s)
	}
	if s.RatioTrueToFalse != 0.5 || s.RatioAroundToUniform != 2 || s.Scale != 0.5 {
		t.Errorf("Unexpected sampling config %+v", s)
	}
	if s.UseRotation || !s.HistEq {
		t.Errorf("Expected rotation off and hist-eq on, got %+v", s)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Overridden config invalid: %v", err)
	}
}

func TestUnsetFlagsKeepConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	c := config.Default()
	c.Sampling.SampleRate = 7
	c.Sampling.UseRotation = true
	if err := c.SaveToFile(path); err != nil {
		t.Fatal(err)
	}

	cli, fs := parseFlags(t, "-mode", "discrete")
	cfg, err := cli.loadConfig(fs, path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Sampling.SampleRate != 7 || !cfg.Sampling.UseRotation {
		t.Errorf("Expected values from the default config file, got %+v", cfg.Sampling)
	}
	if cfg.Sampling.Mode != "discrete" {
		t.Errorf("Expected mode discrete, got %s", cfg.Sampling.Mode)
	}
}

func TestExplicitConfigWins(t *testing.T) {
	dir := t.TempDir()
	fallback := filepath.Join(dir, "fallback.json")
	explicit := filepath.Join(dir, "explicit.json")
	for path, rate := range map[string]int{fallback: 3, explicit: 9} {
		c := config.Default()
		c.Sampling.SampleRate = rate
		if err := c.SaveToFile(path); err != nil {
			t.Fatal(err)
		}
	}

	cli, fs := parseFlags(t, "-config", explicit)
	cfg, err := cli.loadConfig(fs, fallback)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Sampling.SampleRate != 9 {
		t.Errorf("Expected sample rate 9 from -config, got %d", cfg.Sampling.SampleRate)
	}
}
