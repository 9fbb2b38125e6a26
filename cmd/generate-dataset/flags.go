package main

import (
	"flag"

	"github.com/menta2k/tag-trainset/internal/config"
	"github.com/menta2k/tag-trainset/internal/utils"
)

// cliFlags holds every command line setting. Only the flags given on the
// command line override the config file.
type cliFlags struct {
	pathfile, configPath, saveConfig string

	outDir, format, mode, label, imageFormat string
	seed                                     uint64
	workers                                  int
	skipEmpty                                bool

	sampleRate, samplesPerTag, quality int
	acceptanceRate, bandwidth          float64
	ratioTrueFalse, ratioAroundUniform float64
	maxIntersection, scale             float64
	rotation, histEq                   bool
	maxShardBytes                      int64

	metricsAddr string

	bucket, prefix, region, endpoint string
	pathStyle                        bool
}

func (c *cliFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.pathfile, "paths", "", "text file listing one annotated image per line")
	fs.StringVar(&c.configPath, "config", "", "JSON config file (default: "+config.GetConfigPath()+" if present, else built-in defaults)")
	fs.StringVar(&c.saveConfig, "save-config", "", "write the effective config to this file and exit")

	fs.StringVar(&c.outDir, "out", "", "output directory")
	fs.StringVar(&c.format, "format", "", "dataset format: images|hdf5|kv|all|none")
	fs.StringVar(&c.mode, "mode", "", "sampling mode: density|discrete")
	fs.StringVar(&c.label, "label", "", "label written per sample: taginess|binary")
	fs.StringVar(&c.imageFormat, "image-format", "", "patch encoding of the images format: jpeg|png|webp")
	fs.Uint64Var(&c.seed, "seed", 0, "random seed, 0 for a random run")
	fs.IntVar(&c.workers, "workers", 0, "synthesis slices, 0 for twice the CPUs")
	fs.BoolVar(&c.skipEmpty, "skip-empty", false, "skip images without true tags instead of failing")

	fs.IntVar(&c.sampleRate, "sample-rate", 0, "density mode: samples per true tag")
	fs.Float64Var(&c.acceptanceRate, "acceptance-rate", 0, "density mode: acceptance of non-tag points in [0,1]")
	fs.Float64Var(&c.bandwidth, "bandwidth", 0, "density mode: taginess bandwidth in pixels")
	fs.IntVar(&c.samplesPerTag, "samples-per-tag", 0, "discrete mode: positives per true tag")
	fs.Float64Var(&c.ratioTrueFalse, "ratio-true-false", 0, "discrete mode: positives per negative")
	fs.Float64Var(&c.ratioAroundUniform, "ratio-around-uniform", 0, "discrete mode: near-tag negatives per uniform negative")
	fs.Float64Var(&c.maxIntersection, "max-intersection", 0, "discrete mode: max overlap of a negative with a true tag")
	fs.Float64Var(&c.scale, "scale", 0, "resize factor applied to every image")
	fs.BoolVar(&c.rotation, "rotation", false, "rotate positive samples")
	fs.BoolVar(&c.histEq, "hist-eq", false, "apply local histogram equalization before sampling")
	fs.IntVar(&c.quality, "quality", 0, "jpeg/webp quality of written patches")
	fs.Int64Var(&c.maxShardBytes, "max-shard-bytes", 0, "hdf5 shard size limit")

	fs.StringVar(&c.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")

	fs.StringVar(&c.bucket, "s3-bucket", "", "upload the finished dataset to this bucket")
	fs.StringVar(&c.prefix, "s3-prefix", "", "key prefix for the upload")
	fs.StringVar(&c.region, "s3-region", "", "bucket region")
	fs.StringVar(&c.endpoint, "s3-endpoint", "", "custom S3 endpoint, e.g. MinIO")
	fs.BoolVar(&c.pathStyle, "s3-path-style", false, "use path-style bucket addressing")
}

// loadConfig reads -config, or defaultPath when it exists, or the built-in
// defaults, and applies the flags set on fs.
func (c *cliFlags) loadConfig(fs *flag.FlagSet, defaultPath string) (*config.Config, error) {
	path := c.configPath
	if path == "" && utils.FileExists(defaultPath) {
		path = defaultPath
	}
	cfg := config.Default()
	if path != "" {
		loaded, err := config.LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	c.apply(fs, cfg)
	return cfg, nil
}

func (c *cliFlags) apply(fs *flag.FlagSet, cfg *config.Config) {
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "out":
			cfg.Output.OutputDir = c.outDir
		case "format":
			cfg.Output.Format = c.format
		case "mode":
			cfg.Sampling.Mode = c.mode
		case "label":
			cfg.Output.Label = c.label
		case "image-format":
			cfg.Output.ImageFormat = c.imageFormat
		case "seed":
			cfg.Sampling.Seed = c.seed
		case "workers":
			cfg.Sampling.Workers = c.workers
		case "skip-empty":
			cfg.Sampling.SkipEmpty = c.skipEmpty
		case "sample-rate":
			cfg.Sampling.SampleRate = c.sampleRate
		case "acceptance-rate":
			cfg.Sampling.AcceptanceRate = c.acceptanceRate
		case "bandwidth":
			cfg.Sampling.Bandwidth = c.bandwidth
		case "samples-per-tag":
			cfg.Sampling.SamplesPerTag = c.samplesPerTag
		case "ratio-true-false":
			cfg.Sampling.RatioTrueToFalse = c.ratioTrueFalse
		case "ratio-around-uniform":
			cfg.Sampling.RatioAroundToUniform = c.ratioAroundUniform
		case "max-intersection":
			cfg.Sampling.MaxIntersection = c.maxIntersection
		case "scale":
			cfg.Sampling.Scale = c.scale
		case "rotation":
			cfg.Sampling.UseRotation = c.rotation
		case "hist-eq":
			cfg.Sampling.HistEq = c.histEq
		case "quality":
			cfg.Output.Quality = c.quality
		case "max-shard-bytes":
			cfg.Output.MaxShardBytes = c.maxShardBytes
		case "metrics-addr":
			cfg.Metrics.Addr = c.metricsAddr
		case "s3-bucket":
			cfg.Export.Bucket = c.bucket
		case "s3-prefix":
			cfg.Export.Prefix = c.prefix
		case "s3-region":
			cfg.Export.Region = c.region
		}
	})
}
