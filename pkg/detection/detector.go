package detection

import (
	"context"
	"fmt"
	"image"
	"math"

	"github.com/menta2k/tag-trainset/pkg/client"
	"github.com/menta2k/tag-trainset/pkg/processing"
	"github.com/menta2k/tag-trainset/pkg/tag"
	"github.com/menta2k/tag-trainset/pkg/types"
)

// SimpleTestPrompt for testing if the model can see images
const SimpleTestPrompt = `What do you see in this image? Describe it briefly.`

// DefaultPrompt asks the model to locate every tag in a full frame.
const DefaultPrompt = `You are a locator for small circular markers ("tags") glued onto insects.

Return JSON only:
{
  "candidates": [
    {
      "box": {"x": 0.0, "y": 0.0, "w": 0.0, "h": 0.0},
      "confidence": 0.0,
      "ellipse": {"cx": 0.0, "cy": 0.0, "w": 0.0, "h": 0.0, "angle": 0.0}
    }
  ],
  "description": "short neutral sentence"
}

HARD RULES
- All coordinates are normalized to [0,1] of the whole image (NOT pixels).
- One candidate per visible tag. Boxes tightly include the tag.
- confidence is in [0,1]: 1 for a clearly readable tag, low for blurry or partially hidden ones.
- ellipse is optional and describes the tag outline; angle in degrees.
- If no tag is visible, return {"candidates": [], "description": "no tags"}.
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// EllipsePrompt asks the model to fit the outline of the tag in a patch.
const EllipsePrompt = `The image shows one small circular marker ("tag") near its center.

Return JSON only:
{
  "candidates": [
    {
      "box": {"x": 0.0, "y": 0.0, "w": 0.0, "h": 0.0},
      "confidence": 0.0,
      "ellipse": {"cx": 0.5, "cy": 0.5, "w": 0.0, "h": 0.0, "angle": 0.0}
    }
  ]
}

HARD RULES
- Coordinates are normalized to [0,1] of this image.
- The ellipse is the outline of the tag; w and h are full axis lengths; angle in degrees.
- If there is no tag, return {"candidates": []}.
- JSON only.`

const (
	// DefaultMaxDim bounds the longer image side sent to the model.
	DefaultMaxDim = 1536
	// DefaultMinConfidence drops candidates the model is unsure about.
	DefaultMinConfidence = 0.05
)

// Detector proposes tags by prompting a vision model.
type Detector struct {
	client        client.VisionClient
	model         string
	prompt        string
	maxDim        int
	minConfidence float64
}

// NewDetector creates a new detector with a vision client
func NewDetector(client client.VisionClient, model string) *Detector {
	return &Detector{
		client:        client,
		model:         model,
		prompt:        DefaultPrompt,
		maxDim:        DefaultMaxDim,
		minConfidence: DefaultMinConfidence,
	}
}

// WithPrompt replaces the frame prompt.
func (d *Detector) WithPrompt(prompt string) *Detector {
	d.prompt = prompt
	return d
}

// WithMaxDim sets the longer side of the image sent to the model. Zero keeps
// the full resolution.
func (d *Detector) WithMaxDim(n int) *Detector {
	d.maxDim = n
	return d
}

// WithMinConfidence sets the confidence below which candidates are dropped.
func (d *Detector) WithMinConfidence(c float64) *Detector {
	d.minConfidence = c
	return d
}

// TestVision tests if the model can actually see the image with a simple prompt
func (d *Detector) TestVision(ctx context.Context, imageB64 string) (string, error) {
	return d.client.SimpleQuery(ctx, d.model, SimpleTestPrompt, imageB64)
}

// ProposeTags asks the model for tag candidates in img and converts them
// into tags. Candidates are classified from their confidence.
func (d *Detector) ProposeTags(ctx context.Context, img *processing.Image) ([]tag.Tag, error) {
	b64, scale, err := processing.EncodeForModel(img.Gray, "jpg", d.maxDim, 90)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", img.Filename, err)
	}
	res, err := d.client.DetectTags(ctx, d.model, d.prompt, b64)
	if err != nil {
		return nil, fmt.Errorf("detect tags in %s: %w", img.Filename, err)
	}

	bounds := img.Bounds()
	sentW := int(math.Round(float64(bounds.Dx()) * scale))
	sentH := int(math.Round(float64(bounds.Dy()) * scale))

	tags := make([]tag.Tag, 0, len(res.Candidates))
	for _, c := range res.Candidates {
		if c.Confidence < d.minConfidence {
			continue
		}
		box := normalizeBox(c.Box, sentW, sentH)
		if box.W == 0 || box.H == 0 {
			continue
		}
		px := toPixels(box, bounds)
		e := ellipseFor(c, box, px, bounds)
		t := tag.FromCandidate(px, []tag.Ellipse{e})
		t.GuessIsTag(tag.IsTagVoteThreshold)
		tags = append(tags, t)
	}
	return tags, nil
}

// RefineEllipse fits the tag outline in patch, which covers t.Box. The tag
// keeps its id and classification; when the model finds nothing the tag is
// returned unchanged.
func (d *Detector) RefineEllipse(ctx context.Context, patch *image.Gray, t tag.Tag) (tag.Tag, error) {
	b64, _, err := processing.EncodeForModel(patch, "png", 0, 0)
	if err != nil {
		return t, fmt.Errorf("failed to encode patch: %w", err)
	}
	res, err := d.client.DetectTags(ctx, d.model, EllipsePrompt, b64)
	if err != nil {
		return t, fmt.Errorf("refine ellipse: %w", err)
	}

	var best *types.Candidate
	for i := range res.Candidates {
		c := &res.Candidates[i]
		if c.Ellipse == nil || c.Confidence < d.minConfidence {
			continue
		}
		if best == nil || c.Confidence > best.Confidence {
			best = c
		}
	}
	if best == nil {
		return t, nil
	}

	pw, ph := float64(patch.Rect.Dx()), float64(patch.Rect.Dy())
	e := tag.Ellipse{
		Center: image.Pt(int(math.Round(clamp(best.Ellipse.Cx, 0, 1)*pw)), int(math.Round(clamp(best.Ellipse.Cy, 0, 1)*ph))),
		Axes:   tag.Axes{Width: best.Ellipse.W * pw / 2, Height: best.Ellipse.H * ph / 2},
		Angle:  best.Ellipse.Angle,
		Vote:   confidenceVote(best.Confidence),
	}
	t.Ellipse = &e
	return t, nil
}

// confidenceVote maps a confidence in [0,1] onto the localizer vote scale,
// with 0.5 landing on the IsTag threshold.
func confidenceVote(c float64) int {
	return int(math.Round(clamp(c, 0, 1) * 2 * tag.IsTagVoteThreshold))
}

// ellipseFor builds the ellipse of a candidate relative to its pixel box.
func ellipseFor(c types.Candidate, box types.Box, px, bounds image.Rectangle) tag.Ellipse {
	w, h := float64(bounds.Dx()), float64(bounds.Dy())
	e := tag.Ellipse{
		Center: image.Pt(px.Dx()/2, px.Dy()/2),
		Axes:   tag.Axes{Width: box.W * w / 2, Height: box.H * h / 2},
		Vote:   confidenceVote(c.Confidence),
	}
	if c.Ellipse != nil {
		cx := int(math.Round(clamp(c.Ellipse.Cx, 0, 1) * w))
		cy := int(math.Round(clamp(c.Ellipse.Cy, 0, 1) * h))
		e.Center = image.Pt(cx, cy).Sub(px.Min)
		e.Axes = tag.Axes{Width: c.Ellipse.W * w / 2, Height: c.Ellipse.H * h / 2}
		e.Angle = c.Ellipse.Angle
	}
	return e
}

func toPixels(b types.Box, bounds image.Rectangle) image.Rectangle {
	w, h := float64(bounds.Dx()), float64(bounds.Dy())
	return image.Rect(
		int(math.Round(b.X*w)), int(math.Round(b.Y*h)),
		int(math.Round((b.X+b.W)*w)), int(math.Round((b.Y+b.H)*h)),
	).Add(bounds.Min)
}

// clamp ensures a value is within the given bounds
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// normalizeBox ensures box coordinates are within [0,1] bounds. Boxes that
// look like pixel coordinates of the imgW x imgH image are converted.
func normalizeBox(b types.Box, imgW, imgH int) types.Box {
	if imgW > 0 && imgH > 0 && (b.X > 1 || b.Y > 1 || b.W > 1 || b.H > 1) {
		b = types.Box{
			X: b.X / float64(imgW),
			Y: b.Y / float64(imgH),
			W: b.W / float64(imgW),
			H: b.H / float64(imgH),
		}
	}
	x, y := clamp(b.X, 0, 1), clamp(b.Y, 0, 1)
	return types.Box{
		X: x,
		Y: y,
		W: clamp(b.W, 0, 1-x),
		H: clamp(b.H, 0, 1-y),
	}
}
