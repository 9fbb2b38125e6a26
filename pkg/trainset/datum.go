package trainset

import (
	"fmt"
	"image"
	"math"

	"github.com/menta2k/tag-trainset/internal/utils"
	"github.com/menta2k/tag-trainset/pkg/tag"
)

// TaginessThreshold is the taginess above which a sample counts as a tag.
const TaginessThreshold = 0.8

// LabelMode selects the scalar label a writer stores per sample.
type LabelMode int

const (
	// LabelTaginess stores the continuous taginess score.
	LabelTaginess LabelMode = iota
	// LabelBinary stores 1 for tag samples and 0 otherwise.
	LabelBinary
)

func (m LabelMode) String() string {
	if m == LabelBinary {
		return "binary"
	}
	return "taginess"
}

// ParseLabelMode parses "taginess" or "binary".
func ParseLabelMode(s string) (LabelMode, error) {
	switch s {
	case "", "taginess":
		return LabelTaginess, nil
	case "binary":
		return LabelBinary, nil
	}
	return 0, fmt.Errorf("unknown label mode %q", s)
}

// TrainDatum is one synthesized training sample.
type TrainDatum struct {
	Patch       *image.Gray
	Center      image.Point
	Rotation    float64
	Taginess    float64
	Type        tag.Type
	Description string
}

// NewTrainDatum builds a sample taken from filename and derives its
// description from the sampling parameters.
func NewTrainDatum(filename string, patch *image.Gray, center image.Point, rotation, taginess float64, typ tag.Type) TrainDatum {
	return TrainDatum{
		Patch:       patch,
		Center:      center,
		Rotation:    rotation,
		Taginess:    taginess,
		Type:        typ,
		Description: Describe(filename, center, rotation, taginess),
	}
}

// Describe formats `<base>_<x>_<y>_<rotation>_<taginess>`.
func Describe(filename string, center image.Point, rotation, taginess float64) string {
	return fmt.Sprintf("%s_%d_%d_%d_%.4f",
		utils.BaseNameWithoutExt(filename), center.X, center.Y,
		int(math.Round(rotation)), taginess)
}

// IsTag reports whether the sample is a positive.
func (d TrainDatum) IsTag() bool {
	return d.Type == tag.IsTag
}

// Label returns the scalar label for mode.
func (d TrainDatum) Label(mode LabelMode) float32 {
	if mode == LabelBinary {
		if d.IsTag() {
			return 1
		}
		return 0
	}
	return float32(d.Taginess)
}

// Box is the tag box the sample was cut from, ignoring rotation.
func (d TrainDatum) Box() image.Rectangle {
	return tag.BoxForCenter(d.Center)
}
