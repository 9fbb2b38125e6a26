// Package tagtrainset turns tag-annotated images into augmented training
// datasets for tag classifiers.
//
// Basic usage:
//
//	package main
//
//	import (
//		"context"
//		"log"
//		"os"
//
//		tagtrainset "github.com/menta2k/tag-trainset"
//		"github.com/menta2k/tag-trainset/pkg/trainset"
//		"github.com/menta2k/tag-trainset/pkg/writer"
//	)
//
//	func main() {
//		descs, err := tagtrainset.LoadDescriptors("frames.txt")
//		if err != nil {
//			log.Fatal(err)
//		}
//		stats, err := tagtrainset.Generate(context.Background(), descs, tagtrainset.Job{
//			OutputDir: "dataset",
//			Format:    writer.FormatHDF5,
//			Sampling:  trainset.DefaultOptions(),
//			Progress:  os.Stdout,
//		})
//		if err != nil {
//			log.Fatal(err)
//		}
//		log.Printf("wrote %d samples", stats.Samples)
//	}
//
// The package wires together the main components:
//
// 1. Descriptors (pkg/imagedesc): image paths with their annotated tags
// 2. Synthesis (pkg/trainset): density and discrete sample generation, parallel driver
// 3. Writers (pkg/writer): image manifest, HDF5 shards, ordered key-value store
//
// Tags can be proposed for unannotated images with pkg/proposal, backed by
// the local detector in pkg/vision or a vision model through pkg/detection.
package tagtrainset

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/menta2k/tag-trainset/pkg/imagedesc"
	"github.com/menta2k/tag-trainset/pkg/trainset"
	"github.com/menta2k/tag-trainset/pkg/writer"
)

// Version of the tag trainset library
const Version = "1.0.0"

// Job describes one dataset run.
type Job struct {
	OutputDir string
	Format    writer.Format
	Sampling  trainset.Options
	Writer    writer.Options

	// Workers is the number of synthesis slices. Zero means twice the CPUs.
	Workers   int
	SkipEmpty bool
	Progress  io.Writer
	Observer  trainset.Observer
}

// LoadDescriptors reads a path file and loads the annotations stored next
// to each listed image.
func LoadDescriptors(pathfile string) ([]*imagedesc.Desc, error) {
	return imagedesc.FromPathFile(pathfile, imagedesc.DefaultExt)
}

// Generate synthesizes samples for descs and writes them in job.Format
// below job.OutputDir. The writer is closed before Generate returns, so
// partial HDF5 buffers are flushed even when synthesis fails.
func Generate(ctx context.Context, descs []*imagedesc.Desc, job Job) (trainset.Stats, error) {
	gen, err := trainset.NewGenerator(job.Sampling)
	if err != nil {
		return trainset.Stats{}, err
	}

	w, err := writer.New(job.OutputDir, job.Format, job.Writer)
	if err != nil {
		return trainset.Stats{}, fmt.Errorf("failed to create %v writer: %w", job.Format, err)
	}

	opts := []trainset.DriverOption{
		trainset.WithWorkers(job.Workers),
		trainset.WithSkipEmpty(job.SkipEmpty),
	}
	if job.Progress != nil {
		opts = append(opts, trainset.WithProgress(job.Progress))
	}
	if job.Observer != nil {
		opts = append(opts, trainset.WithObserver(job.Observer))
	}
	driver := trainset.NewDriver(gen, w, opts...)

	runErr := driver.ProcessParallel(ctx, descs)
	if err := w.Close(); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("failed to close writer: %w", err))
	}
	return driver.Stats(), runErr
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
