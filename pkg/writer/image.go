package writer

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/menta2k/tag-trainset/internal/utils"
	"github.com/menta2k/tag-trainset/pkg/processing"
	"github.com/menta2k/tag-trainset/pkg/trainset"
)

// ImageWriter saves every sample as an image file and lists it with its
// label in a manifest `<dir>/<base(dir)>.txt`.
type ImageWriter struct {
	dir  string
	opts Options
	seq  atomic.Int64

	mu       sync.Mutex
	file     *os.File
	manifest *bufio.Writer
}

// NewImageWriter creates dir and the manifest.
func NewImageWriter(dir string, opts Options) (*ImageWriter, error) {
	if err := utils.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	path := ManifestPath(dir)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	return &ImageWriter{dir: dir, opts: opts.withDefaults(), file: f, manifest: bufio.NewWriter(f)}, nil
}

// ManifestPath returns `<dir>/<base(dir)>.txt`.
func ManifestPath(dir string) string {
	return filepath.Join(dir, filepath.Base(filepath.Clean(dir))+".txt")
}

// ImagePath returns the file the seq-th written sample is saved to.
// Descriptions repeat when two samples share center, rotation and
// taginess, so the sequence number keeps the names apart.
func (w *ImageWriter) ImagePath(d trainset.TrainDatum, seq int64) string {
	name := fmt.Sprintf("%s_%d.%s", utils.SanitizeFilename(d.Description), seq, processing.FormatExt(w.opts.ImageFormat))
	return filepath.Join(w.dir, name)
}

// save writes d under the next free sequence number. Files left by an
// earlier run in the same directory are skipped.
func (w *ImageWriter) save(d trainset.TrainDatum) (string, error) {
	for {
		path := w.ImagePath(d, w.seq.Add(1)-1)
		err := processing.SaveNew(d.Patch, path, w.opts.ImageFormat, w.opts.Quality, false)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to save %s: %w", path, err)
		}
		return path, nil
	}
}

// Write encodes the images without holding the lock, then appends the
// manifest lines for the whole batch under it. Existing files are never
// replaced.
func (w *ImageWriter) Write(batch []trainset.TrainDatum) error {
	paths := make([]string, len(batch))
	for i, d := range batch {
		path, err := w.save(d)
		if err != nil {
			return err
		}
		paths[i] = path
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.manifest == nil {
		return os.ErrClosed
	}
	for i, d := range batch {
		if _, err := fmt.Fprintf(w.manifest, "%s %g\n", paths[i], d.Label(w.opts.Label)); err != nil {
			return fmt.Errorf("failed to write manifest: %w", err)
		}
	}
	if err := w.manifest.Flush(); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

func (w *ImageWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.manifest == nil {
		return nil
	}
	err := w.manifest.Flush()
	w.manifest = nil
	if cerr := w.file.Close(); err == nil {
		err = cerr
	}
	return err
}
