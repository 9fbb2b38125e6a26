package writer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gonum.org/v1/hdf5"

	"github.com/menta2k/tag-trainset/internal/utils"
	"github.com/menta2k/tag-trainset/pkg/trainset"
)

// DefaultMaxShardBytes bounds the float payload of one shard (~512 MiB).
const DefaultMaxShardBytes = 1 << 29

var (
	// ErrShapeMismatch is returned for a sample whose patch size differs from
	// the first sample written.
	ErrShapeMismatch = errors.New("sample shape differs from dataset shape")
	// ErrShardExists is returned instead of overwriting a shard file.
	ErrShardExists = errors.New("shard file already exists")
)

// HDF5Writer buffers samples and writes them to numbered HDF5 shards. Every
// shard holds a float dataset "data" of shape (n, 1, rows, cols) with raw
// 0-255 pixel values and a float dataset "labels" of shape (n). Shard file
// names are appended to `<dir>/<base(dir)>.txt` in creation order.
type HDF5Writer struct {
	dir  string
	base string
	opts Options

	mu        sync.Mutex
	index     *os.File
	rows      int
	cols      int
	maxBuffer int
	data      []float32
	labels    []float32
	nextShard int
	shards    []string
	closed    bool
	failed    bool // a shard write failed, the buffer is not flushed on Close
}

// NewHDF5Writer creates dir and the shard index.
func NewHDF5Writer(dir string, opts Options) (*HDF5Writer, error) {
	if err := utils.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	base := filepath.Base(filepath.Clean(dir))
	index, err := os.OpenFile(filepath.Join(dir, base+".txt"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open shard index: %w", err)
	}
	return &HDF5Writer{dir: dir, base: base, opts: opts.withDefaults(), index: index}, nil
}

// MaxBuffer returns the number of samples per shard, zero before the first
// write.
func (w *HDF5Writer) MaxBuffer() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.maxBuffer
}

// Shards returns the shard paths written so far.
func (w *HDF5Writer) Shards() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.shards...)
}

func (w *HDF5Writer) Write(batch []trainset.TrainDatum) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return os.ErrClosed
	}
	if len(batch) == 0 {
		return nil
	}

	rows, cols := w.rows, w.cols
	if w.maxBuffer == 0 {
		size := batch[0].Patch.Rect.Size()
		rows, cols = size.Y, size.X
	}
	// The whole batch is checked before anything is buffered.
	for _, d := range batch {
		size := d.Patch.Rect.Size()
		if size.X != cols || size.Y != rows {
			return fmt.Errorf("%w: %s is %dx%d, expected %dx%d",
				ErrShapeMismatch, d.Description, size.X, size.Y, cols, rows)
		}
	}
	if w.maxBuffer == 0 {
		w.rows, w.cols = rows, cols
		w.maxBuffer = int(w.opts.MaxShardBytes / int64(w.rows*w.cols*4))
		if w.maxBuffer < 1 {
			w.maxBuffer = 1
		}
	}

	for _, d := range batch {
		w.appendPixels(d)
		w.labels = append(w.labels, d.Label(w.opts.Label))
		if len(w.labels) >= w.maxBuffer {
			if err := w.flush(); err != nil {
				w.failed = true
				return err
			}
		}
	}
	return nil
}

func (w *HDF5Writer) appendPixels(d trainset.TrainDatum) {
	p := d.Patch
	for y := 0; y < w.rows; y++ {
		row := p.Pix[y*p.Stride : y*p.Stride+w.cols]
		for _, v := range row {
			w.data = append(w.data, float32(v))
		}
	}
}

func (w *HDF5Writer) nextFilename() string {
	name := fmt.Sprintf("%s_%d.hdf5", w.base, w.nextShard)
	w.nextShard++
	return name
}

// flush writes the buffer to the next shard.
func (w *HDF5Writer) flush() error {
	name := w.nextFilename()
	path := filepath.Join(w.dir, name)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrShardExists, path)
	}

	if err := w.writeShard(path); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w.index, name); err != nil {
		return fmt.Errorf("failed to update shard index: %w", err)
	}

	w.shards = append(w.shards, path)
	w.data = w.data[:0]
	w.labels = w.labels[:0]
	if w.opts.OnShard != nil {
		w.opts.OnShard(path)
	}
	return nil
}

func (w *HDF5Writer) writeShard(path string) error {
	f, err := hdf5.CreateFile(path, hdf5.F_ACC_EXCL)
	if err != nil {
		return fmt.Errorf("failed to create shard %s: %w", path, err)
	}
	n := uint(len(w.labels))
	if err := writeFloatDataset(f, "data", []uint{n, 1, uint(w.rows), uint(w.cols)}, w.data); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := writeFloatDataset(f, "labels", []uint{n}, w.labels); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	return nil
}

func writeFloatDataset(f *hdf5.File, name string, dims []uint, values []float32) error {
	space, err := hdf5.CreateSimpleDataspace(dims, nil)
	if err != nil {
		return err
	}
	defer space.Close()

	dset, err := f.CreateDataset(name, hdf5.T_NATIVE_FLOAT, space)
	if err != nil {
		return err
	}
	if err := dset.Write(&values); err != nil {
		dset.Close()
		return err
	}
	return dset.Close()
}

// Close flushes the partially filled buffer and closes the index. After a
// failed shard write the buffer is dropped.
func (w *HDF5Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	var err error
	if len(w.labels) > 0 && !w.failed {
		err = w.flush()
	}
	if cerr := w.index.Close(); err == nil {
		err = cerr
	}
	return err
}
