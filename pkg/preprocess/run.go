package preprocess

import (
	"context"
	"fmt"
	"image"
	"io"
	"path/filepath"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/menta2k/tag-trainset/internal/utils"
	"github.com/menta2k/tag-trainset/pkg/imagedesc"
	"github.com/menta2k/tag-trainset/pkg/processing"
	"github.com/menta2k/tag-trainset/pkg/tag"
	"github.com/menta2k/tag-trainset/pkg/trainset"
)

// OutputSuffix is appended to the base name of every preprocessed image.
const OutputSuffix = "_wb"

// RunOptions configures a batch run.
type RunOptions struct {
	Filters Options
	// Format is the output encoding: jpeg, png or webp.
	Format  string
	Quality int
	// Workers bounds concurrent images. Values below one mean NumCPU.
	Workers  int
	Progress io.Writer
}

// OutputPath returns the file Run writes for input path.
func OutputPath(outDir, path, format string) string {
	base := utils.BaseNameWithoutExt(path)
	return filepath.Join(outDir, base+OutputSuffix+"."+processing.FormatExt(format))
}

// Run filters every image in paths and writes the results to outDir. The
// returned paths follow the input order. Annotations found next to an input
// are carried over, moved by the border offset when a border is added.
func Run(ctx context.Context, paths []string, outDir string, opts RunOptions) ([]string, error) {
	if err := utils.EnsureDir(outDir); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	if opts.Format == "" {
		opts.Format = "png"
	}
	if opts.Quality <= 0 {
		opts.Quality = 95
	}
	workers := opts.Workers
	if workers < 1 {
		workers = runtime.NumCPU()
	}
	filter := Chain(opts.Filters)

	out := make([]string, len(paths))
	progress := trainset.NewProgress(opts.Progress, len(paths))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)
	for i, p := range paths {
		if egCtx.Err() != nil {
			break
		}
		eg.Go(func() error {
			dst := OutputPath(outDir, p, opts.Format)
			if err := processFile(p, dst, filter, opts); err != nil {
				return err
			}
			out[i] = dst
			progress.Increment()
			return nil
		})
	}
	err := eg.Wait()
	if len(paths) > 0 {
		progress.Finish()
	}
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func processFile(src, dst string, filter processing.Filter, opts RunOptions) error {
	img, err := processing.Load(src)
	if err != nil {
		return err
	}
	if err := img.Apply(filter); err != nil {
		return err
	}
	if err := processing.Save(img.Gray, dst, opts.Format, opts.Quality, false); err != nil {
		return fmt.Errorf("failed to save %s: %w", dst, err)
	}

	side := imagedesc.New(src)
	if !utils.FileExists(side.SavePath()) {
		return nil
	}
	loaded, err := imagedesc.Load(side.SavePath())
	if err != nil {
		return err
	}
	moved := imagedesc.New(dst)
	var offset image.Point
	if opts.Filters.Border {
		offset = image.Pt(tag.Width/2, tag.Height/2)
	}
	for _, t := range loaded.Tags {
		t.Box = t.Box.Add(offset)
		moved.AddTag(t)
	}
	return moved.Save()
}
