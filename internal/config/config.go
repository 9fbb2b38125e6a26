package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/menta2k/tag-trainset/pkg/preprocess"
	"github.com/menta2k/tag-trainset/pkg/trainset"
	"github.com/menta2k/tag-trainset/pkg/writer"
)

// Config holds the application configuration
type Config struct {
	Sampling   SamplingConfig   `json:"sampling"`
	Output     OutputConfig     `json:"output"`
	Preprocess PreprocessConfig `json:"preprocess"`
	Proposal   ProposalConfig   `json:"proposal"`
	Metrics    MetricsConfig    `json:"metrics"`
	Export     ExportConfig     `json:"export"`
}

// SamplingConfig holds configuration for sample synthesis
type SamplingConfig struct {
	Mode                 string  `json:"mode"`
	SampleRate           int     `json:"sample_rate"`
	AcceptanceRate       float64 `json:"acceptance_rate"`
	Bandwidth            float64 `json:"bandwidth"`
	SamplesPerTag        int     `json:"samples_per_tag"`
	RatioTrueToFalse     float64 `json:"ratio_true_to_false"`
	RatioAroundToUniform float64 `json:"ratio_around_to_uniform"`
	MaxIntersection      float64 `json:"max_intersection"`
	Scale                float64 `json:"scale"`
	UseRotation          bool    `json:"use_rotation"`
	Seed                 uint64  `json:"seed"`
	Workers              int     `json:"workers"`
	SkipEmpty            bool    `json:"skip_empty"`
	HistEq               bool    `json:"hist_eq"` // equalize each image before sampling
}

// OutputConfig holds configuration for dataset writing
type OutputConfig struct {
	Format        string `json:"format"`
	OutputDir     string `json:"output_dir"`
	Label         string `json:"label"`
	ImageFormat   string `json:"image_format"`
	Quality       int    `json:"quality"`
	MaxShardBytes int64  `json:"max_shard_bytes"`
}

// PreprocessConfig selects the image filters
type PreprocessConfig struct {
	Border      bool   `json:"border"`
	HistEq      bool   `json:"hist_eq"`
	Threshold   bool   `json:"threshold"`
	BinaryImage bool   `json:"binary_image"`
	Format      string `json:"format"`
}

// ProposalConfig holds configuration for the tag localizer backends
type ProposalConfig struct {
	Backend       string  `json:"backend"`
	ServerURL     string  `json:"server_url"`
	Model         string  `json:"model"`
	MaxDim        int     `json:"max_dim"`
	MinConfidence float64 `json:"min_confidence"`
	Refine        bool    `json:"refine"`
	QueueSize     int     `json:"queue_size"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Addr string `json:"addr"`
}

// ExportConfig configures the optional S3 upload
type ExportConfig struct {
	Bucket string `json:"bucket"`
	Prefix string `json:"prefix"`
	Region string `json:"region"`
}

// Default returns a configuration with default values
func Default() *Config {
	opts := trainset.DefaultOptions()
	return &Config{
		Sampling: SamplingConfig{
			Mode:                 opts.Mode.String(),
			SampleRate:           opts.SampleRate,
			AcceptanceRate:       opts.AcceptanceRate,
			Bandwidth:            opts.Bandwidth,
			SamplesPerTag:        opts.SamplesPerTag,
			RatioTrueToFalse:     opts.RatioTrueToFalse,
			RatioAroundToUniform: opts.RatioAroundToUniform,
			MaxIntersection:      opts.MaxIntersection,
			Scale:                opts.Scale,
			UseRotation:          opts.UseRotation,
		},
		Output: OutputConfig{
			Format:        writer.FormatImages.String(),
			OutputDir:     "./dataset",
			Label:         trainset.LabelTaginess.String(),
			ImageFormat:   "jpeg",
			Quality:       95,
			MaxShardBytes: writer.DefaultMaxShardBytes,
		},
		Preprocess: PreprocessConfig{
			Format: "png",
		},
		Proposal: ProposalConfig{
			Backend:       "local",
			ServerURL:     "http://localhost:11434",
			Model:         "llava",
			MaxDim:        1536,
			MinConfidence: 0.05,
			QueueSize:     16,
		},
		Export: ExportConfig{
			Prefix: "datasets",
		},
	}
}

// LoadFromFile loads configuration from a JSON file. Missing fields keep
// their default values.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return config, nil
}

// SaveToFile saves configuration to a JSON file
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// TrainsetOptions converts the sampling section into generator options.
func (c *Config) TrainsetOptions() (trainset.Options, error) {
	mode, err := trainset.ParseMode(c.Sampling.Mode)
	if err != nil {
		return trainset.Options{}, err
	}
	opts := trainset.DefaultOptions()
	opts.Mode = mode
	opts.SampleRate = c.Sampling.SampleRate
	opts.AcceptanceRate = c.Sampling.AcceptanceRate
	opts.Bandwidth = c.Sampling.Bandwidth
	opts.SamplesPerTag = c.Sampling.SamplesPerTag
	opts.RatioTrueToFalse = c.Sampling.RatioTrueToFalse
	opts.RatioAroundToUniform = c.Sampling.RatioAroundToUniform
	opts.MaxIntersection = c.Sampling.MaxIntersection
	opts.Scale = c.Sampling.Scale
	opts.UseRotation = c.Sampling.UseRotation
	opts.Seed = c.Sampling.Seed
	if c.Sampling.HistEq {
		opts.Filter = preprocess.LocalHistogramEq
	}
	return opts, nil
}

// WriterOptions converts the output section into writer options.
func (c *Config) WriterOptions() (writer.Format, writer.Options, error) {
	format, err := writer.ParseFormat(c.Output.Format)
	if err != nil {
		return 0, writer.Options{}, err
	}
	label, err := trainset.ParseLabelMode(c.Output.Label)
	if err != nil {
		return 0, writer.Options{}, err
	}
	return format, writer.Options{
		Label:         label,
		ImageFormat:   c.Output.ImageFormat,
		Quality:       c.Output.Quality,
		MaxShardBytes: c.Output.MaxShardBytes,
		Seed:          c.Sampling.Seed,
	}, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	opts, err := c.TrainsetOptions()
	if err != nil {
		return fmt.Errorf("sampling: %w", err)
	}
	if err := opts.Validate(); err != nil {
		return fmt.Errorf("sampling: %w", err)
	}
	if _, _, err := c.WriterOptions(); err != nil {
		return fmt.Errorf("output: %w", err)
	}

	switch c.Output.ImageFormat {
	case "jpeg", "jpg", "png", "webp":
	default:
		return fmt.Errorf("output.image_format must be jpeg, png or webp")
	}
	if c.Output.Quality < 1 || c.Output.Quality > 100 {
		return fmt.Errorf("output.quality must be between 1 and 100")
	}
	if c.Output.MaxShardBytes < 0 {
		return fmt.Errorf("output.max_shard_bytes must not be negative")
	}
	if c.Output.OutputDir == "" {
		return fmt.Errorf("output.output_dir cannot be empty")
	}

	switch c.Proposal.Backend {
	case "local", "ollama", "llamacpp":
	default:
		return fmt.Errorf("proposal.backend must be local, ollama or llamacpp")
	}
	if c.Proposal.MinConfidence < 0 || c.Proposal.MinConfidence > 1 {
		return fmt.Errorf("proposal.min_confidence must be between 0 and 1")
	}
	if c.Proposal.QueueSize < 0 {
		return fmt.Errorf("proposal.queue_size must not be negative")
	}
	if c.Sampling.Workers < 0 {
		return fmt.Errorf("sampling.workers must not be negative")
	}
	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "tag-trainset", "config.json")
}
