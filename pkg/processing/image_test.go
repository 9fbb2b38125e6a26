package processing

import (
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/menta2k/tag-trainset/pkg/tag"
)

// createHalfImage creates a gray image whose left half is white.
func createHalfImage(width, height int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if x < width/2 {
				img.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return img
}

// createTopImage creates a gray image whose top half is white.
func createTopImage(width, height int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, width, height))
	for y := 0; y < height/2; y++ {
		for x := 0; x < width; x++ {
			img.SetGray(x, y, color.Gray{Y: 255})
		}
	}
	return img
}

func TestSubimageShiftsInside(t *testing.T) {
	img := NewImage("test.png", createHalfImage(200, 200))

	patch, err := img.Subimage(image.Rect(-10, -10, 54, 54), 0)
	if err != nil {
		t.Fatalf("Subimage failed: %v", err)
	}
	if patch.Rect != image.Rect(0, 0, 64, 64) {
		t.Errorf("Expected 64x64 zero-origin patch, got %v", patch.Rect)
	}
	if patch.GrayAt(0, 0).Y != 255 {
		t.Errorf("Expected white top-left after shift, got %d", patch.GrayAt(0, 0).Y)
	}

	if _, err := img.Subimage(image.Rect(0, 0, 300, 64), 0); !errors.Is(err, ErrTooSmall) {
		t.Errorf("Expected ErrTooSmall, got %v", err)
	}
}

func TestRotatedSubimageZero(t *testing.T) {
	img := NewImage("test.png", createHalfImage(256, 256))
	center := image.Pt(128, 128)

	patch, err := img.RotatedSubimage(center, 0)
	if err != nil {
		t.Fatalf("RotatedSubimage failed: %v", err)
	}
	want, _ := img.Subimage(tag.BoxForCenter(center), 0)
	for i := range want.Pix {
		if patch.Pix[i] != want.Pix[i] {
			t.Fatalf("Rotation by 0 differs from plain crop at %d", i)
		}
	}
}

func TestRotatedSubimage180(t *testing.T) {
	img := NewImage("test.png", createHalfImage(256, 256))

	patch, err := img.RotatedSubimage(image.Pt(128, 128), 180)
	if err != nil {
		t.Fatalf("RotatedSubimage failed: %v", err)
	}
	if patch.Rect.Size() != tag.Size {
		t.Fatalf("Expected tag-sized patch, got %v", patch.Rect.Size())
	}
	if got := patch.GrayAt(10, 32).Y; got != 0 {
		t.Errorf("Expected dark left side after 180 degrees, got %d", got)
	}
	if got := patch.GrayAt(54, 32).Y; got != 255 {
		t.Errorf("Expected bright right side after 180 degrees, got %d", got)
	}
}

func TestRotatedSubimageCounterClockwise(t *testing.T) {
	img := NewImage("test.png", createTopImage(256, 256))

	patch, err := img.RotatedSubimage(image.Pt(128, 128), 90)
	if err != nil {
		t.Fatalf("RotatedSubimage failed: %v", err)
	}
	if got := patch.GrayAt(10, 32).Y; got != 255 {
		t.Errorf("Expected top half rotated to the left, got %d", got)
	}
	if got := patch.GrayAt(54, 32).Y; got != 0 {
		t.Errorf("Expected right side dark, got %d", got)
	}
}

func TestRescale(t *testing.T) {
	g := createHalfImage(64, 64)

	if got := Rescale(g, 1); got != g {
		t.Error("Rescale by 1 must return the input")
	}

	half := Rescale(g, 0.5)
	if half.Rect.Dx() != 32 || half.Rect.Dy() != 32 {
		t.Errorf("Expected 32x32, got %v", half.Rect.Size())
	}
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	g := createHalfImage(80, 60)

	for _, format := range []string{"png", "jpeg", "webp"} {
		path := filepath.Join(dir, "img."+FormatExt(format))
		if err := Save(g, path, format, 95, true); err != nil {
			t.Fatalf("Save %s failed: %v", format, err)
		}
		img, err := Load(path)
		if err != nil {
			t.Fatalf("Load %s failed: %v", format, err)
		}
		if img.Bounds().Size() != image.Pt(80, 60) {
			t.Errorf("%s: expected 80x60, got %v", format, img.Bounds().Size())
		}
		if img.Gray.GrayAt(5, 30).Y < 200 {
			t.Errorf("%s: expected bright pixel, got %d", format, img.Gray.GrayAt(5, 30).Y)
		}
	}
}

func TestLoadInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.png")
	if err := os.WriteFile(path, []byte("not an image"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Expected decode error")
	}
}

func TestApplyFilter(t *testing.T) {
	img := NewImage("x", createHalfImage(10, 10))
	invert := func(g *image.Gray) (*image.Gray, error) {
		out := image.NewGray(g.Rect)
		for i, p := range g.Pix {
			out.Pix[i] = 255 - p
		}
		return out, nil
	}
	if err := img.Apply(invert); err != nil {
		t.Fatal(err)
	}
	if img.Gray.GrayAt(0, 0).Y != 0 {
		t.Errorf("Expected inverted pixel, got %d", img.Gray.GrayAt(0, 0).Y)
	}

	failing := func(*image.Gray) (*image.Gray, error) { return nil, errors.New("boom") }
	if err := img.Apply(failing); err == nil {
		t.Error("Expected filter error")
	}
}

func TestDrawTags(t *testing.T) {
	g := image.NewGray(image.Rect(0, 0, 200, 200))
	tags := []tag.Tag{tag.New(tag.BoxForCenter(image.Pt(100, 100)))}

	out := DrawTags(g, tags)
	c := out.NRGBAAt(68, 100)
	if c.G != 255 || c.R != 0 {
		t.Errorf("Expected green box edge, got %+v", c)
	}
}

func TestEncodeForModel(t *testing.T) {
	g := createHalfImage(400, 200)
	data, scale, err := EncodeForModel(g, "jpg", 100, 80)
	if err != nil {
		t.Fatalf("EncodeForModel failed: %v", err)
	}
	if data == "" {
		t.Error("Expected encoded data")
	}
	if scale != 0.25 {
		t.Errorf("Expected scale 0.25, got %f", scale)
	}
}
