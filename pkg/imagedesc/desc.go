// Package imagedesc pairs an image path with its annotated tags and persists
// them as a JSON side-file next to the image.
package imagedesc

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/menta2k/tag-trainset/internal/utils"
	"github.com/menta2k/tag-trainset/pkg/tag"
)

const (
	// DefaultExt is the side-file extension for annotated descriptors.
	DefaultExt = "tagger.json"
	// ProposalExt is the side-file extension written by the proposal pipeline.
	ProposalExt = "proposal.json"
)

// ErrMissingImage is returned when a listed image path does not exist.
var ErrMissingImage = errors.New("image file does not exist")

// Desc is an image path plus the ordered tags annotated on it.
type Desc struct {
	Filename string    `json:"filename"`
	Tags     []tag.Tag `json:"tags"`

	ext string
}

// New creates an empty descriptor saved with the default extension.
func New(filename string) *Desc {
	return &Desc{Filename: filename, ext: DefaultExt}
}

// NewWithExt creates an empty descriptor with a custom side-file extension.
func NewWithExt(filename, ext string) *Desc {
	return &Desc{Filename: filename, ext: ext}
}

// SaveExt returns the side-file extension.
func (d *Desc) SaveExt() string {
	if d.ext == "" {
		return DefaultExt
	}
	return d.ext
}

// SetSaveExt changes the side-file extension used by SavePath and Save.
func (d *Desc) SetSaveExt(ext string) {
	d.ext = ext
}

// SavePath is the image path with the side-file extension appended.
func (d *Desc) SavePath() string {
	return d.Filename + "." + d.SaveExt()
}

// AddTag appends a tag.
func (d *Desc) AddTag(t tag.Tag) {
	d.Tags = append(d.Tags, t)
}

// TrueTags returns the tags classified IsTag, in order.
func (d *Desc) TrueTags() []tag.Tag {
	var out []tag.Tag
	for _, t := range d.Tags {
		if t.IsTag() {
			out = append(out, t)
		}
	}
	return out
}

// Equal compares filename and tags in order.
func (d *Desc) Equal(o *Desc) bool {
	if d == nil || o == nil {
		return d == o
	}
	if d.Filename != o.Filename || len(d.Tags) != len(o.Tags) {
		return false
	}
	for i := range d.Tags {
		if !d.Tags[i].Equal(o.Tags[i]) {
			return false
		}
	}
	return true
}

// Save writes the descriptor to SavePath. The file is written to a temporary
// name in the same directory and renamed, so readers never see a partial file.
func (d *Desc) Save() error {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal descriptor: %w", err)
	}

	path := d.SavePath()
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to rename %s: %w", path, err)
	}
	return nil
}

// Load reads a descriptor side-file.
func Load(path string) (*Desc, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read descriptor: %w", err)
	}
	d := &Desc{}
	if err := json.Unmarshal(data, d); err != nil {
		return nil, fmt.Errorf("failed to parse descriptor %s: %w", path, err)
	}
	return d, nil
}

// FromPaths builds one descriptor per image path. Every path must exist.
// When a side-file with extension ext exists, its tags are loaded; the
// filename stays as listed.
func FromPaths(paths []string, ext string) ([]*Desc, error) {
	descs := make([]*Desc, 0, len(paths))
	for _, p := range paths {
		if !utils.FileExists(p) {
			return nil, fmt.Errorf("%w: %s", ErrMissingImage, p)
		}
		d := NewWithExt(p, ext)
		if utils.FileExists(d.SavePath()) {
			loaded, err := Load(d.SavePath())
			if err != nil {
				return nil, err
			}
			d.Tags = loaded.Tags
		}
		descs = append(descs, d)
	}
	return descs, nil
}

// FromPathFile reads a path list (one image per line) and calls FromPaths.
func FromPathFile(pathfile, ext string) ([]*Desc, error) {
	paths, err := utils.ReadLines(pathfile)
	if err != nil {
		return nil, fmt.Errorf("failed to read path file: %w", err)
	}
	return FromPaths(paths, ext)
}
