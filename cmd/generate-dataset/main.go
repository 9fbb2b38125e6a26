package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	tagtrainset "github.com/menta2k/tag-trainset"
	"github.com/menta2k/tag-trainset/internal/config"
	"github.com/menta2k/tag-trainset/internal/metrics"
	"github.com/menta2k/tag-trainset/internal/objectstore"
	"github.com/menta2k/tag-trainset/internal/utils"
)

func main() {
	var cli cliFlags
	cli.register(flag.CommandLine)
	flag.Parse()

	cfg, err := cli.loadConfig(flag.CommandLine, config.GetConfigPath())
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if cli.saveConfig != "" {
		if err := cfg.SaveToFile(cli.saveConfig); err != nil {
			log.Fatal(err)
		}
		log.Printf("wrote %s", cli.saveConfig)
		return
	}
	if cli.pathfile == "" {
		log.Fatalf("usage: %s -paths frames.txt [-config config.json] [-out dir] [-format images|hdf5|kv|all|none] [-mode density|discrete]", filepath.Base(os.Args[0]))
	}

	sampling, err := cfg.TrainsetOptions()
	if err != nil {
		log.Fatal(err)
	}
	dsFormat, wopts, err := cfg.WriterOptions()
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	recorder := metrics.New(dsFormat.String())
	wopts.OnShard = func(path string) {
		recorder.ShardFlushed(path)
		log.Printf("wrote %s", path)
	}
	if cfg.Metrics.Addr != "" {
		go func() {
			if err := recorder.Serve(ctx, cfg.Metrics.Addr); err != nil {
				log.Printf("metrics server failed: %v", err)
			}
		}()
	}

	descs, err := tagtrainset.LoadDescriptors(cli.pathfile)
	if err != nil {
		log.Fatalf("Failed to load descriptors: %v", err)
	}
	log.Printf("Loaded %d annotated images, mode=%s format=%s", len(descs), sampling.Mode, dsFormat)

	stats, err := tagtrainset.Generate(ctx, descs, tagtrainset.Job{
		OutputDir: cfg.Output.OutputDir,
		Format:    dsFormat,
		Sampling:  sampling,
		Writer:    wopts,
		Workers:   cfg.Sampling.Workers,
		SkipEmpty: cfg.Sampling.SkipEmpty,
		Progress:  os.Stdout,
		Observer:  recorder,
	})
	if err != nil {
		log.Fatalf("Dataset generation failed: %v", err)
	}
	log.Printf("descriptors=%d skipped=%d samples=%d positives=%d mean taginess=%.4f",
		stats.Descriptors, stats.Skipped, stats.Samples, stats.Positives, stats.MeanTaginess)

	if size, err := utils.DirSize(cfg.Output.OutputDir); err == nil {
		log.Printf("dataset size: %s", utils.FormatFileSize(size))
	}

	if cfg.Export.Bucket == "" {
		return
	}
	uploader, err := objectstore.New(ctx, objectstore.Config{
		Bucket:    cfg.Export.Bucket,
		Prefix:    cfg.Export.Prefix,
		Region:    cfg.Export.Region,
		Endpoint:  cli.endpoint,
		PathStyle: cli.pathStyle,
	})
	if err != nil {
		log.Fatalf("Failed to create uploader: %v", err)
	}
	keys, err := uploader.UploadDir(ctx, cfg.Output.OutputDir)
	if err != nil {
		log.Fatalf("Upload failed after %d objects: %v", len(keys), err)
	}
	log.Printf("uploaded %d objects to s3://%s/%s", len(keys), cfg.Export.Bucket, uploader.Key(""))
}
