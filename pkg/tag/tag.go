// Package tag defines annotated tag regions: a fixed-size bounding box, a
// classification and an optional quality ellipse.
package tag

import (
	"fmt"
	"image"
	"math/rand/v2"
)

// Fixed tag geometry. Every tag box has exactly this size.
const (
	Width  = 64
	Height = 64
)

// IsTagVoteThreshold is the default ellipse vote above which a proposed
// candidate is considered a real tag.
const IsTagVoteThreshold = 1200

// Size is the fixed tag size as a point.
var Size = image.Pt(Width, Height)

// Type is the classification of an annotated region.
type Type int

const (
	IsTag Type = iota
	NoTag
	Exclude
	BeeWithoutTag
)

var typeNames = map[Type]string{
	IsTag:         "IsTag",
	NoTag:         "NoTag",
	Exclude:       "Exclude",
	BeeWithoutTag: "BeeWithoutTag",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

// ParseType parses the textual form produced by Type.String.
func ParseType(s string) (Type, error) {
	for t, name := range typeNames {
		if name == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown tag type %q", s)
}

// Axes holds the ellipse half axes in pixels.
type Axes struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Ellipse is the quality ellipse fitted by the localizer. Center is relative
// to the top-left corner of the tag box.
type Ellipse struct {
	Center image.Point `json:"center"`
	Axes   Axes        `json:"axes"`
	Angle  float64     `json:"angle"`
	Vote   int         `json:"vote"`
}

// Tag is an annotated region of an image.
type Tag struct {
	ID      uint64
	Box     image.Rectangle
	Ellipse *Ellipse
	Type    Type
}

// NewID draws a random 64-bit identifier. The global generator of
// math/rand/v2 keeps per-thread state, so no locking is involved. Ids are not
// checked for uniqueness.
func NewID() uint64 {
	return rand.Uint64()
}

// BoxForCenter returns the tag box centered at p.
func BoxForCenter(p image.Point) image.Rectangle {
	tl := image.Pt(p.X-Width/2, p.Y-Height/2)
	return image.Rectangle{Min: tl, Max: tl.Add(Size)}
}

// New creates a tag of type IsTag for the given box.
func New(box image.Rectangle) Tag {
	return Tag{ID: NewID(), Box: box, Type: IsTag}
}

// NewWithEllipse creates a tag of type IsTag with a quality ellipse.
func NewWithEllipse(box image.Rectangle, e Ellipse) Tag {
	t := New(box)
	t.Ellipse = &e
	return t
}

// FromCandidate builds a tag from a localizer candidate box and its fitted
// ellipses. The best-voted ellipse re-centers the box; without any ellipse
// the box is centered on the candidate and classified NoTag.
func FromCandidate(box image.Rectangle, ellipses []Ellipse) Tag {
	t := Tag{ID: NewID(), Type: IsTag}
	var best *Ellipse
	for i := range ellipses {
		if best == nil || best.Vote < ellipses[i].Vote {
			best = &ellipses[i]
		}
	}
	if best == nil {
		t.Box = BoxForCenter(rectCenter(box))
		t.Type = NoTag
		return t
	}
	e := *best
	t.Box = BoxForCenter(box.Min.Add(e.Center))
	e.Center = image.Pt(Width/2, Height/2)
	t.Ellipse = &e
	return t
}

func rectCenter(r image.Rectangle) image.Point {
	return image.Pt(r.Min.X+r.Dx()/2, r.Min.Y+r.Dy()/2)
}

// Center returns the center of the tag box.
func (t Tag) Center() image.Point {
	return rectCenter(t.Box)
}

func (t Tag) IsTag() bool           { return t.Type == IsTag }
func (t Tag) IsNoTag() bool         { return t.Type == NoTag }
func (t Tag) IsExclude() bool       { return t.Type == Exclude }
func (t Tag) IsBeeWithoutTag() bool { return t.Type == BeeWithoutTag }

// SetType changes the classification.
func (t *Tag) SetType(typ Type) {
	t.Type = typ
}

// Toggle flips IsTag and NoTag. Other classifications are left alone.
func (t *Tag) Toggle() {
	switch t.Type {
	case IsTag:
		t.Type = NoTag
	case NoTag:
		t.Type = IsTag
	}
}

// GuessIsTag classifies the tag from its ellipse vote.
func (t *Tag) GuessIsTag(threshold int) {
	if t.Ellipse != nil && t.Ellipse.Vote > threshold {
		t.Type = IsTag
	} else {
		t.Type = NoTag
	}
}

// Equal compares box, classification and ellipse. Ids are not compared.
func (t Tag) Equal(o Tag) bool {
	if t.Box != o.Box || t.Type != o.Type {
		return false
	}
	if (t.Ellipse == nil) != (o.Ellipse == nil) {
		return false
	}
	if t.Ellipse == nil {
		return true
	}
	return *t.Ellipse == *o.Ellipse
}

// TrueBoxes returns the boxes of all tags classified IsTag.
func TrueBoxes(tags []Tag) []image.Rectangle {
	var boxes []image.Rectangle
	for _, t := range tags {
		if t.IsTag() {
			boxes = append(boxes, t.Box)
		}
	}
	return boxes
}

// IntersectionRatio returns the area of a∩b divided by the area of b.
func IntersectionRatio(a, b image.Rectangle) float64 {
	area := b.Dx() * b.Dy()
	if area == 0 {
		return 0
	}
	in := a.Intersect(b)
	return float64(in.Dx()*in.Dy()) / float64(area)
}
