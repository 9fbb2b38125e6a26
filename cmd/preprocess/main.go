package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/menta2k/tag-trainset/internal/config"
	"github.com/menta2k/tag-trainset/internal/utils"
	"github.com/menta2k/tag-trainset/pkg/preprocess"
)

func main() {
	var pathfile, inDir, outDir, outList, configPath string
	var format string
	var quality, workers int
	var border, histEq, threshold, binary bool

	flag.StringVar(&pathfile, "paths", "", "text file listing one image per line")
	flag.StringVar(&inDir, "dir", "", "directory of images, used when -paths is not given")
	flag.StringVar(&outDir, "out", "preprocessed", "output directory")
	flag.StringVar(&outList, "out-paths", "", "path file listing the outputs (default: <out>/<paths base>_wb.txt, or <out>/images_wb.txt)")
	flag.StringVar(&configPath, "config", "", "JSON config file; its preprocess section sets the filters")

	flag.BoolVar(&border, "border", false, "add a replicated border of half a tag")
	flag.BoolVar(&histEq, "histeq", false, "local histogram equalization (CLAHE)")
	flag.BoolVar(&threshold, "threshold", false, "adaptive threshold blended into the image")
	flag.BoolVar(&binary, "binary", false, "keep the thresholded image only")

	flag.StringVar(&format, "format", "", "output format: png|jpg|webp")
	flag.IntVar(&quality, "quality", 95, "JPEG/WebP output quality (1-100)")
	flag.IntVar(&workers, "workers", 0, "images filtered concurrently, 0 for NumCPU")

	flag.Parse()
	if pathfile == "" && inDir == "" {
		log.Fatalf("usage: %s -paths frames.txt|-dir images [-out dir] [-border] [-histeq] [-threshold [-binary]] [-format png|jpg|webp]", filepath.Base(os.Args[0]))
	}

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.LoadFromFile(configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}
	pc := cfg.Preprocess
	filters := preprocess.Options{
		Border:      pc.Border || border,
		HistEq:      pc.HistEq || histEq,
		Threshold:   pc.Threshold || threshold,
		BinaryImage: pc.BinaryImage || binary,
	}
	if format == "" {
		format = pc.Format
	}
	if !filters.Border && !filters.HistEq && !filters.Threshold {
		log.Fatal("no filter selected: use -border, -histeq or -threshold")
	}

	paths, err := utils.InputImages(pathfile, inDir)
	if err != nil {
		log.Fatalf("Failed to list input images: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	outputs, err := preprocess.Run(ctx, paths, outDir, preprocess.RunOptions{
		Filters:  filters,
		Format:   format,
		Quality:  quality,
		Workers:  workers,
		Progress: os.Stdout,
	})
	if err != nil {
		log.Fatalf("Preprocessing failed: %v", err)
	}

	if outList == "" {
		base := "images"
		if pathfile != "" {
			base = strings.TrimSuffix(filepath.Base(pathfile), filepath.Ext(pathfile))
		}
		outList = filepath.Join(outDir, base+preprocess.OutputSuffix+".txt")
	}
	if err := utils.WriteLines(outList, outputs); err != nil {
		log.Fatalf("Failed to write path file: %v", err)
	}
	log.Printf("wrote %d images, listed in %s", len(outputs), outList)
}
