// Package trainset synthesizes augmented training samples from annotated
// images and drives the synthesis in parallel into a dataset writer.
package trainset

import (
	"errors"
	"fmt"
	"image"
	"math/rand/v2"

	"github.com/menta2k/tag-trainset/pkg/imagedesc"
	"github.com/menta2k/tag-trainset/pkg/processing"
	"github.com/menta2k/tag-trainset/pkg/tag"
)

var (
	// ErrDecode wraps failures to read or decode a source image.
	ErrDecode = errors.New("failed to decode image")
	// ErrNoTrueTags is returned for images without any IsTag annotation,
	// for which no sample quota can be derived.
	ErrNoTrueTags = errors.New("image has no true tags")
	// ErrAttemptBudget is returned when random sampling cannot find an
	// acceptable sample within Options.MaxAttempts draws.
	ErrAttemptBudget = errors.New("sampling attempt budget exhausted")
)

// Generator turns image descriptors into training samples. A Generator is
// not safe for concurrent use; give every worker its own via Clone.
type Generator struct {
	opts Options
	rng  *rand.Rand
}

// NewGenerator creates a generator. Options are validated.
func NewGenerator(opts Options) (*Generator, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Generator{opts: opts, rng: newRand(opts.Seed)}, nil
}

func newRand(seed uint64) *rand.Rand {
	if seed == 0 {
		return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Options returns the generator configuration.
func (g *Generator) Options() Options {
	return g.opts
}

// Clone returns a generator with the same options and an independent random
// stream. Clones of a seeded generator are deterministic.
func (g *Generator) Clone() *Generator {
	opts := g.opts
	if opts.Seed != 0 {
		opts.Seed = g.rng.Uint64() | 1
	}
	return &Generator{opts: opts, rng: newRand(opts.Seed)}
}

// Process decodes the descriptor's image and samples it.
func (g *Generator) Process(desc *imagedesc.Desc) ([]TrainDatum, error) {
	img, err := processing.Load(desc.Filename)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %v", ErrDecode, desc.Filename, err)
	}
	if err := img.Apply(g.opts.Filter); err != nil {
		return nil, err
	}
	return g.ProcessImage(desc, img)
}

// ProcessImage samples an already decoded image.
func (g *Generator) ProcessImage(desc *imagedesc.Desc, img *processing.Image) ([]TrainDatum, error) {
	trueTags := desc.TrueTags()
	if len(trueTags) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoTrueTags, desc.Filename)
	}
	if g.opts.Mode == ModeDiscrete {
		return g.discrete(desc, img, trueTags)
	}
	return g.density(desc, img, trueTags)
}

// density draws batches of uniform points and keeps each one with a
// probability growing with its taginess. The loop ends after the batch in
// which SampleRate samples per true tag have been collected.
func (g *Generator) density(desc *imagedesc.Desc, img *processing.Image, trueTags []tag.Tag) ([]TrainDatum, error) {
	idx := newTagIndex(trueTags, g.opts.Bandwidth)
	quota := g.opts.SampleRate * len(trueTags)
	bounds := img.Bounds()
	batch := len(desc.Tags)

	data := make([]TrainDatum, 0, quota)
	attempts := 0
	for len(data) < quota {
		for i := 0; i < batch; i++ {
			attempts++
			p := g.uniformPoint(bounds)
			taginess := idx.taginess(p)
			if taginess*taginess+g.rng.Float64() < 1-g.opts.AcceptanceRate {
				continue
			}

			rotation := 0.0
			typ := tag.NoTag
			if taginess >= TaginessThreshold {
				typ = tag.IsTag
				if g.opts.UseRotation {
					rotation = g.rng.Float64() * 360
				}
			}
			patch, err := img.RotatedSubimage(p, rotation)
			if err != nil {
				return nil, fmt.Errorf("sample %s at %v: %w", desc.Filename, p, err)
			}
			data = append(data, NewTrainDatum(desc.Filename, patch, p, rotation, taginess, typ))
			attempts = 0
		}
		if attempts > g.opts.MaxAttempts {
			return nil, fmt.Errorf("%w: %s accepted %d of %d samples", ErrAttemptBudget, desc.Filename, len(data), quota)
		}
	}
	return data, nil
}

func (g *Generator) uniformPoint(bounds image.Rectangle) image.Point {
	return image.Pt(
		bounds.Min.X+g.rng.IntN(bounds.Dx()),
		bounds.Min.Y+g.rng.IntN(bounds.Dy()),
	)
}
