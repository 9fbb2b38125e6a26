package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/menta2k/tag-trainset/internal/config"
	"github.com/menta2k/tag-trainset/internal/utils"
	"github.com/menta2k/tag-trainset/pkg/client"
	"github.com/menta2k/tag-trainset/pkg/detection"
	"github.com/menta2k/tag-trainset/pkg/imagedesc"
	"github.com/menta2k/tag-trainset/pkg/llamacpp"
	"github.com/menta2k/tag-trainset/pkg/ollama"
	"github.com/menta2k/tag-trainset/pkg/processing"
	"github.com/menta2k/tag-trainset/pkg/proposal"
	"github.com/menta2k/tag-trainset/pkg/vision"
)

func main() {
	var pathfile, inDir, configPath string
	var backend, url, model string
	var maxDim, queueSize int
	var minConfidence float64
	var refine, check bool
	var debugDir string

	flag.StringVar(&pathfile, "paths", "", "text file listing one image per line")
	flag.StringVar(&inDir, "dir", "", "directory of images, used when -paths is not given")
	flag.StringVar(&configPath, "config", "", "JSON config file (default: built-in defaults)")
	flag.StringVar(&backend, "backend", "", "tag localizer: local, ollama or llamacpp")
	flag.StringVar(&url, "url", "", "server URL (defaults: ollama=http://localhost:11434, llamacpp=http://localhost:8080)")
	flag.StringVar(&model, "model", "", "vision model name")
	flag.IntVar(&maxDim, "maxdim", 0, "max long side sent to the model (px), 0=config value")
	flag.Float64Var(&minConfidence, "min-confidence", -1, "drop model candidates below this confidence")
	flag.BoolVar(&refine, "refine", false, "fit an ellipse on every proposed tag")
	flag.IntVar(&queueSize, "queue", 0, "bounded request queue size")
	flag.BoolVar(&check, "check", false, "ask the model to describe the first image and exit")
	flag.StringVar(&debugDir, "debug", "", "write tag overlay images to this directory")

	flag.Parse()
	if pathfile == "" && inDir == "" {
		log.Fatalf("usage: %s -paths frames.txt|-dir images [-backend local|ollama|llamacpp] [-url server_url] [-model name] [-refine] [-debug dir]", filepath.Base(os.Args[0]))
	}

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.LoadFromFile(configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}
	p := &cfg.Proposal
	if backend != "" {
		p.Backend = backend
	}
	if url != "" {
		p.ServerURL = url
	} else if p.Backend == "llamacpp" && configPath == "" {
		p.ServerURL = llamacpp.DefaultURL
	}
	if model != "" {
		p.Model = model
	}
	if maxDim > 0 {
		p.MaxDim = maxDim
	}
	if minConfidence >= 0 {
		p.MinConfidence = minConfidence
	}
	if refine {
		p.Refine = true
	}
	if queueSize > 0 {
		p.QueueSize = queueSize
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	paths, err := utils.InputImages(pathfile, inDir)
	if err != nil {
		log.Fatalf("Failed to list input images: %v", err)
	}
	descs, err := imagedesc.FromPaths(paths, imagedesc.ProposalExt)
	if err != nil {
		log.Fatalf("Failed to load images: %v", err)
	}

	var proposer proposal.Proposer
	if p.Backend == "local" {
		proposer = vision.New()
	} else {
		var visionClient client.VisionClient
		switch p.Backend {
		case "ollama":
			visionClient, err = ollama.NewClient(p.ServerURL)
		case "llamacpp":
			visionClient, err = llamacpp.NewClient(p.ServerURL)
		}
		if err != nil {
			log.Fatalf("Failed to create %s client: %v", p.Backend, err)
		}
		detector := detection.NewDetector(visionClient, p.Model).
			WithMaxDim(p.MaxDim).
			WithMinConfidence(p.MinConfidence)

		if check {
			runCheck(ctx, detector, descs, p.MaxDim)
			return
		}
		proposer = detector
	}
	log.Printf("Proposing tags for %d images with the %s backend", len(descs), p.Backend)

	worker := proposal.NewWorker(proposer, p.QueueSize)
	defer worker.Close()

	gen := proposal.NewGenerator(worker,
		proposal.WithRefine(p.Refine),
		proposal.WithProgress(os.Stdout))
	saved, err := gen.Run(ctx, descs)
	if err != nil {
		log.Fatalf("Proposal failed after %d images: %v", len(saved), err)
	}

	var total, positives int
	for _, d := range saved {
		total += len(d.Tags)
		positives += len(d.TrueTags())
	}
	log.Printf("wrote %d proposal files, %d tags (%d classified IsTag)", len(saved), total, positives)

	if debugDir != "" {
		writeOverlays(saved, debugDir)
	}
}

// runCheck verifies the model receives images before a long run.
func runCheck(ctx context.Context, detector *detection.Detector, descs []*imagedesc.Desc, maxDim int) {
	if len(descs) == 0 {
		log.Fatal("no images to check")
	}
	img, err := processing.Load(descs[0].Filename)
	if err != nil {
		log.Fatal(err)
	}
	b64, _, err := processing.EncodeForModel(img.Gray, "jpg", maxDim, 85)
	if err != nil {
		log.Fatal(err)
	}
	answer, err := detector.TestVision(ctx, b64)
	if err != nil {
		log.Fatalf("Vision check failed: %v", err)
	}
	log.Printf("%s: %s", descs[0].Filename, answer)
}

func writeOverlays(descs []*imagedesc.Desc, dir string) {
	if err := utils.EnsureDir(dir); err != nil {
		log.Printf("debug overlay directory: %v", err)
		return
	}
	for _, d := range descs {
		img, err := processing.Load(d.Filename)
		if err != nil {
			log.Printf("debug overlay %s: %v", d.Filename, err)
			continue
		}
		out := filepath.Join(dir, utils.BaseNameWithoutExt(d.Filename)+"_tags.png")
		if err := processing.Save(processing.DrawTags(img.Gray, d.Tags), out, "png", 0, false); err != nil {
			log.Printf("debug save %s failed: %v", out, err)
		} else {
			log.Printf("wrote %s", out)
		}
	}
}
