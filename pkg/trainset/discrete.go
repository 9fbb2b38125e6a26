package trainset

import (
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"

	"github.com/menta2k/tag-trainset/pkg/imagedesc"
	"github.com/menta2k/tag-trainset/pkg/processing"
	"github.com/menta2k/tag-trainset/pkg/tag"
)

const (
	maxTranslation = tag.Width / 7
	// Jitter draws with |dx·dy| above this bound distort the tag shape too
	// much and are redrawn.
	maxTranslationProduct = maxTranslation * maxTranslation / 2

	minAroundRadius = tag.Width / 2
	maxAroundRadius = tag.Width/2 + 80
)

// discrete emits exactly SamplesPerTag jittered positives per true tag and
// tops them up with negatives around the tags and uniformly over the image
// until the true:false ratio is met.
func (g *Generator) discrete(desc *imagedesc.Desc, img *processing.Image, trueTags []tag.Tag) ([]TrainDatum, error) {
	bounds := img.Bounds()
	if bounds.Dx() < tag.Width || bounds.Dy() < tag.Height {
		return nil, fmt.Errorf("%s: %w", desc.Filename, processing.ErrTooSmall)
	}
	idx := newTagIndex(trueTags, g.opts.Bandwidth)

	data := make([]TrainDatum, 0, 2*g.opts.SamplesPerTag*len(trueTags))
	for _, t := range trueTags {
		samples, err := g.trueSamples(desc, img, idx, t)
		if err != nil {
			return nil, err
		}
		data = append(data, samples...)
	}

	nAround, nUniform := g.negativeSplit(len(data))
	trueBoxes := tag.TrueBoxes(desc.Tags)
	allBoxes := make([]image.Rectangle, 0, len(desc.Tags))
	for _, t := range desc.Tags {
		allBoxes = append(allBoxes, t.Box)
	}

	around, err := g.wrongSamplesAround(desc, img, idx, trueTags, trueBoxes, nAround)
	if err != nil {
		return nil, err
	}
	data = append(data, around...)

	uniform, err := g.wrongSamplesUniform(desc, img, idx, allBoxes, nUniform)
	if err != nil {
		return nil, err
	}
	return append(data, uniform...), nil
}

// negativeSplit derives how many negatives are mined around tags and how
// many uniformly from the number of positives.
func (g *Generator) negativeSplit(positives int) (around, uniform int) {
	target := int(math.Round(float64(positives) / g.opts.RatioTrueToFalse))
	r := g.opts.RatioAroundToUniform
	around = int(math.Round(float64(target) * r / (1 + r)))
	return around, target - around
}

func (g *Generator) trueSamples(desc *imagedesc.Desc, img *processing.Image, idx *tagIndex, t tag.Tag) ([]TrainDatum, error) {
	samples := make([]TrainDatum, 0, g.opts.SamplesPerTag)
	for len(samples) < g.opts.SamplesPerTag {
		dx := g.rng.IntN(2*maxTranslation+1) - maxTranslation
		dy := g.rng.IntN(2*maxTranslation+1) - maxTranslation
		if abs(dx*dy) > maxTranslationProduct {
			continue
		}
		rotation := 0.0
		if g.opts.UseRotation {
			rotation = g.rng.Float64() * 360
		}
		center := t.Center().Add(image.Pt(dx, dy))
		patch, err := img.RotatedSubimage(center, rotation)
		if err != nil {
			return nil, fmt.Errorf("sample %s at %v: %w", desc.Filename, center, err)
		}
		samples = append(samples, NewTrainDatum(desc.Filename, patch, center, rotation, idx.taginess(center), tag.IsTag))
	}
	return samples, nil
}

// wrongSamplesAround proposes boxes at a random distance from the true tags
// in turn. Each accepted box contributes its four 90° rotations; the last
// group is cut short to hit n exactly.
func (g *Generator) wrongSamplesAround(desc *imagedesc.Desc, img *processing.Image, idx *tagIndex, trueTags []tag.Tag, trueBoxes []image.Rectangle, n int) ([]TrainDatum, error) {
	bounds := img.Bounds()
	samples := make([]TrainDatum, 0, n)
	attempts := 0
	for i := 0; len(samples) < n; i++ {
		if attempts > g.opts.MaxAttempts {
			return nil, fmt.Errorf("%w: %s found %d of %d negatives around tags", ErrAttemptBudget, desc.Filename, len(samples), n)
		}
		attempts++

		t := trueTags[i%len(trueTags)]
		box := tag.BoxForCenter(t.Center().Add(g.aroundOffset()))
		if !box.In(bounds) || !g.intersectsAtMost(trueBoxes, box) {
			continue
		}
		attempts = 0

		rotated, err := rot90Patches(img, box)
		if err != nil {
			return nil, err
		}
		center := box.Min.Add(image.Pt(tag.Width/2, tag.Height/2))
		taginess := idx.taginess(center)
		for k := 0; k < len(rotated) && len(samples) < n; k++ {
			samples = append(samples, NewTrainDatum(desc.Filename, rotated[k], center, float64(90*k), taginess, tag.NoTag))
		}
	}
	return samples, nil
}

func (g *Generator) wrongSamplesUniform(desc *imagedesc.Desc, img *processing.Image, idx *tagIndex, tagBoxes []image.Rectangle, n int) ([]TrainDatum, error) {
	bounds := img.Bounds()
	inner := image.Rect(
		bounds.Min.X+tag.Width/2, bounds.Min.Y+tag.Height/2,
		bounds.Max.X-tag.Width/2+1, bounds.Max.Y-tag.Height/2+1,
	)
	samples := make([]TrainDatum, 0, n)
	attempts := 0
	for len(samples) < n {
		if attempts > g.opts.MaxAttempts {
			return nil, fmt.Errorf("%w: %s found %d of %d uniform negatives", ErrAttemptBudget, desc.Filename, len(samples), n)
		}
		attempts++

		center := g.uniformPoint(inner)
		box := tag.BoxForCenter(center)
		if !g.intersectsAtMost(tagBoxes, box) {
			continue
		}
		attempts = 0

		patch, err := img.Subimage(box, 0)
		if err != nil {
			return nil, err
		}
		samples = append(samples, NewTrainDatum(desc.Filename, patch, center, 0, idx.taginess(center), tag.NoTag))
	}
	return samples, nil
}

// aroundOffset draws an offset with a radius between minAroundRadius and
// maxAroundRadius in a uniformly random direction.
func (g *Generator) aroundOffset() image.Point {
	r := float64(minAroundRadius) + g.rng.Float64()*float64(maxAroundRadius-minAroundRadius)
	phi := g.rng.Float64() * 2 * math.Pi
	return image.Pt(int(math.Round(r*math.Cos(phi))), int(math.Round(r*math.Sin(phi))))
}

// intersectsAtMost reports whether box overlaps every box in boxes by at most
// MaxIntersection of that box's area. A zero MaxIntersection forbids any
// overlap.
func (g *Generator) intersectsAtMost(boxes []image.Rectangle, box image.Rectangle) bool {
	for _, b := range boxes {
		if ratio := tag.IntersectionRatio(box, b); ratio > g.opts.MaxIntersection {
			return false
		}
	}
	return true
}

// rot90Patches crops box and returns it rotated by 0, 90, 180 and 270
// degrees counter-clockwise.
func rot90Patches(img *processing.Image, box image.Rectangle) ([]*image.Gray, error) {
	patch, err := img.Subimage(box, 0)
	if err != nil {
		return nil, err
	}
	return []*image.Gray{
		patch,
		processing.ToGray(imaging.Rotate90(patch)),
		processing.ToGray(imaging.Rotate180(patch)),
		processing.ToGray(imaging.Rotate270(patch)),
	}, nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
