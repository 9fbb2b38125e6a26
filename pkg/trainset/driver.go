package trainset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"github.com/menta2k/tag-trainset/pkg/imagedesc"
	"github.com/menta2k/tag-trainset/pkg/tag"
)

// Sink receives synthesized batches. Implementations must be safe for
// concurrent use.
type Sink interface {
	Write(batch []TrainDatum) error
}

// Observer is notified as the driver makes progress. Calls come from
// worker goroutines.
type Observer interface {
	Processed(desc *imagedesc.Desc, batch []TrainDatum)
	Progress(ratio float64)
}

// Stats summarizes a finished run.
type Stats struct {
	Descriptors  int
	Skipped      int
	Samples      int
	Positives    int
	MeanTaginess float64
}

// Driver runs one Generator clone per slice of descriptors and feeds a
// shared Sink.
type Driver struct {
	gen       *Generator
	sink      Sink
	progress  io.Writer
	observer  Observer
	skipEmpty bool
	workers   int

	mu      sync.Mutex
	stats   Stats
	means   []float64
	weights []float64
}

// DriverOption configures a Driver.
type DriverOption func(*Driver)

// WithProgress renders a progress bar to w.
func WithProgress(w io.Writer) DriverOption {
	return func(d *Driver) { d.progress = w }
}

// WithObserver registers an observer for metrics or logging.
func WithObserver(o Observer) DriverOption {
	return func(d *Driver) { d.observer = o }
}

// WithSkipEmpty logs and skips images without true tags instead of failing.
func WithSkipEmpty(skip bool) DriverOption {
	return func(d *Driver) { d.skipEmpty = skip }
}

// WithWorkers overrides the number of slices. Values below one mean twice
// the number of CPUs.
func WithWorkers(n int) DriverOption {
	return func(d *Driver) { d.workers = n }
}

// NewDriver creates a driver writing to sink.
func NewDriver(gen *Generator, sink Sink, opts ...DriverOption) *Driver {
	d := &Driver{gen: gen, sink: sink}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// partition splits n items into contiguous ranges, the last one taking the
// remainder.
func partition(n, workers int) [][2]int {
	if n == 0 {
		return nil
	}
	if workers > n {
		workers = n
	}
	per := n / workers
	ranges := make([][2]int, workers)
	for i := range ranges {
		begin, end := i*per, (i+1)*per
		if i == workers-1 {
			end = n
		}
		ranges[i] = [2]int{begin, end}
	}
	return ranges
}

// ProcessParallel synthesizes and writes every descriptor. Slices are
// assigned up front; within a slice descriptors run in input order. The
// first error stops the remaining workers before their next descriptor and
// is returned.
func (d *Driver) ProcessParallel(ctx context.Context, descs []*imagedesc.Desc) error {
	if len(descs) == 0 {
		return nil
	}
	workers := d.workers
	if workers < 1 {
		workers = 2 * runtime.NumCPU()
	}

	progress := NewProgress(d.progress, len(descs))
	defer progress.Finish()

	eg, ctx := errgroup.WithContext(ctx)
	for _, r := range partition(len(descs), workers) {
		part := descs[r[0]:r[1]]
		gen := d.gen.Clone()
		eg.Go(func() error {
			for _, desc := range part {
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := d.processOne(gen, desc); err != nil {
					return err
				}
				ratio := progress.Increment()
				if d.observer != nil {
					d.observer.Progress(ratio)
				}
			}
			return nil
		})
	}
	return eg.Wait()
}

func (d *Driver) processOne(gen *Generator, desc *imagedesc.Desc) error {
	data, err := gen.Process(desc)
	if errors.Is(err, ErrNoTrueTags) && d.skipEmpty {
		log.Printf("Skipping %s: no true tags", desc.Filename)
		d.mu.Lock()
		d.stats.Skipped++
		d.mu.Unlock()
		return nil
	}
	if err != nil {
		return err
	}

	data = gen.PostProcess(data)
	if err := d.sink.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", desc.Filename, err)
	}

	d.record(data)
	if d.observer != nil {
		d.observer.Processed(desc, data)
	}
	return nil
}

func (d *Driver) record(data []TrainDatum) {
	if len(data) == 0 {
		return
	}
	taginess := make([]float64, len(data))
	positives := 0
	for i, datum := range data {
		taginess[i] = datum.Taginess
		if datum.Type == tag.IsTag {
			positives++
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats.Descriptors++
	d.stats.Samples += len(data)
	d.stats.Positives += positives
	d.means = append(d.means, stat.Mean(taginess, nil))
	d.weights = append(d.weights, float64(len(data)))
}

// Stats returns the totals accumulated so far.
func (d *Driver) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.stats
	if len(d.means) > 0 {
		s.MeanTaginess = stat.Mean(d.means, d.weights)
	}
	return s
}
