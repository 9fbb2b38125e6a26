package trainset

import (
	"image"
	"testing"

	"github.com/menta2k/tag-trainset/pkg/tag"
)

func TestDescribe(t *testing.T) {
	got := Describe("/data/cam0/frame_01.jpeg", image.Pt(10, 20), 89.6, 0.5)
	if got != "frame_01_10_20_90_0.5000" {
		t.Errorf("Expected frame_01_10_20_90_0.5000, got %s", got)
	}
}

func TestLabel(t *testing.T) {
	pos := NewTrainDatum("a.png", nil, image.Pt(0, 0), 0, 0.9, tag.IsTag)
	neg := NewTrainDatum("a.png", nil, image.Pt(0, 0), 0, 0.3, tag.NoTag)

	if pos.Label(LabelBinary) != 1 || neg.Label(LabelBinary) != 0 {
		t.Error("Binary labels mismatch")
	}
	if pos.Label(LabelTaginess) != float32(0.9) {
		t.Errorf("Expected taginess label 0.9, got %f", pos.Label(LabelTaginess))
	}
}

func TestParseLabelMode(t *testing.T) {
	if m, err := ParseLabelMode("binary"); err != nil || m != LabelBinary {
		t.Errorf("Expected binary, got %v (%v)", m, err)
	}
	if m, err := ParseLabelMode(""); err != nil || m != LabelTaginess {
		t.Errorf("Expected taginess default, got %v (%v)", m, err)
	}
	if _, err := ParseLabelMode("soft"); err == nil {
		t.Error("Expected error")
	}
}

func TestTaginessKernel(t *testing.T) {
	idx := newTagIndex([]tag.Tag{tag.New(tag.BoxForCenter(image.Pt(100, 100)))}, 28)

	if got := idx.taginess(image.Pt(100, 100)); got != 1 {
		t.Errorf("Expected taginess 1 at center, got %f", got)
	}
	if got := idx.sqDist(image.Pt(103, 104)); got != 25 {
		t.Errorf("Expected squared distance 25, got %f", got)
	}
	near := idx.taginess(image.Pt(110, 100))
	far := idx.taginess(image.Pt(160, 100))
	if !(near > far && far > 0) {
		t.Errorf("Expected decreasing taginess, got %f then %f", near, far)
	}
}
