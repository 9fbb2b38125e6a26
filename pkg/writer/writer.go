// Package writer persists synthesized training samples. Every Writer is safe
// for concurrent use by several synthesis workers.
package writer

import (
	"fmt"
	"strings"

	"github.com/menta2k/tag-trainset/pkg/trainset"
)

// Writer buffers and persists batches of samples. Close flushes anything
// still buffered; a Writer must not be used after Close.
type Writer interface {
	Write(batch []trainset.TrainDatum) error
	Close() error
}

// Format selects the dataset container.
type Format int

const (
	FormatImages Format = iota
	FormatHDF5
	FormatKV
	FormatAll
	FormatNone
)

var formatNames = map[Format]string{
	FormatImages: "images",
	FormatHDF5:   "hdf5",
	FormatKV:     "kv",
	FormatAll:    "all",
	FormatNone:   "none",
}

func (f Format) String() string {
	if name, ok := formatNames[f]; ok {
		return name
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

// ParseFormat parses a format name, case-insensitively.
func ParseFormat(s string) (Format, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for f, name := range formatNames {
		if name == s {
			return f, nil
		}
	}
	return 0, fmt.Errorf("unknown dataset format %q: must be one of images, hdf5, kv, all, none", s)
}

// Options tunes the concrete writers. The zero value is usable.
type Options struct {
	// Label selects the scalar label written per sample.
	Label trainset.LabelMode

	// ImageFormat is the patch encoding of the image writer: jpeg, png or webp.
	ImageFormat string
	Quality     int

	// MaxShardBytes bounds the float payload of one HDF5 shard.
	MaxShardBytes int64
	// OnShard is called with the path of every shard written.
	OnShard func(path string)

	// TxnSize bounds the records committed per KV transaction.
	TxnSize int
	// Seed makes the KV per-batch shuffle deterministic. Zero seeds from
	// the runtime.
	Seed uint64
}

func (o Options) withDefaults() Options {
	if o.ImageFormat == "" {
		o.ImageFormat = "jpeg"
	}
	if o.Quality <= 0 {
		o.Quality = 95
	}
	if o.MaxShardBytes <= 0 {
		o.MaxShardBytes = DefaultMaxShardBytes
	}
	if o.TxnSize <= 0 {
		o.TxnSize = DefaultTxnSize
	}
	return o
}

// New creates the writer for format under dir.
func New(dir string, format Format, opts Options) (Writer, error) {
	switch format {
	case FormatImages:
		return NewImageWriter(dir, opts)
	case FormatHDF5:
		return NewHDF5Writer(dir, opts)
	case FormatKV:
		return NewKVWriter(dir, opts)
	case FormatAll:
		return NewAllFormatWriter(dir, opts)
	case FormatNone:
		return DevNullWriter{}, nil
	}
	return nil, fmt.Errorf("unknown dataset format %v", format)
}

// DevNullWriter discards everything. It is used for dry runs.
type DevNullWriter struct{}

func (DevNullWriter) Write([]trainset.TrainDatum) error { return nil }
func (DevNullWriter) Close() error                      { return nil }

// AllFormatWriter writes every batch to a KV store and as loose images.
type AllFormatWriter struct {
	kv     *KVWriter
	images *ImageWriter
}

// NewAllFormatWriter opens both writers in the same directory.
func NewAllFormatWriter(dir string, opts Options) (*AllFormatWriter, error) {
	kv, err := NewKVWriter(dir, opts)
	if err != nil {
		return nil, err
	}
	images, err := NewImageWriter(dir, opts)
	if err != nil {
		kv.Close()
		return nil, err
	}
	return &AllFormatWriter{kv: kv, images: images}, nil
}

func (w *AllFormatWriter) Write(batch []trainset.TrainDatum) error {
	if err := w.kv.Write(batch); err != nil {
		return err
	}
	return w.images.Write(batch)
}

func (w *AllFormatWriter) Close() error {
	kvErr := w.kv.Close()
	if err := w.images.Close(); err != nil {
		return err
	}
	return kvErr
}
