package processing

import (
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"os"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/tag-trainset/pkg/tag"
)

// ErrTooSmall is returned when a crop does not fit into the image.
var ErrTooSmall = errors.New("image smaller than requested crop")

// Filter transforms a decoded image before sampling. Implementations may
// return their input.
type Filter func(*image.Gray) (*image.Gray, error)

// Image is a decoded grayscale image together with the file it came from.
type Image struct {
	Filename string
	Gray     *image.Gray
}

// NewImage wraps an already decoded grayscale buffer.
func NewImage(filename string, g *image.Gray) *Image {
	return &Image{Filename: filename, Gray: g}
}

// Load decodes an image file into an 8-bit grayscale buffer.
func Load(path string) (*Image, error) {
	img, err := decodeFile(path)
	if err != nil {
		return nil, err
	}
	return &Image{Filename: path, Gray: ToGray(img)}, nil
}

// decodeFile tries the registered decoders first and falls back to an
// explicit WebP decode.
func decodeFile(path string) (image.Image, error) {
	if img, err := imaging.Open(path); err == nil {
		return img, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if strings.Contains(strings.ToLower(path), ".webp") {
		if img, err := webp.Decode(f); err == nil {
			return img, nil
		}
	}
	if _, err := f.Seek(0, 0); err == nil {
		if img, _, err := image.Decode(f); err == nil {
			return img, nil
		}
	}
	return nil, fmt.Errorf("image: unknown format for %s", path)
}

// ToGray converts any image into a zero-origin *image.Gray. Zero-origin gray
// images are returned as is.
func ToGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok && g.Rect.Min == (image.Point{}) {
		return g
	}
	b := img.Bounds()
	g := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(g, g.Rect, img, b.Min, draw.Src)
	return g
}

// Bounds returns the pixel bounds of the image.
func (img *Image) Bounds() image.Rectangle {
	return img.Gray.Rect
}

// Apply runs a filter over the pixel buffer.
func (img *Image) Apply(f Filter) error {
	if f == nil {
		return nil
	}
	g, err := f(img.Gray)
	if err != nil {
		return fmt.Errorf("filter %s: %w", img.Filename, err)
	}
	img.Gray = g
	return nil
}

// cropRect grows box by border on every side and shifts the result so it
// lies within bounds.
func cropRect(bounds, box image.Rectangle, border int) (image.Rectangle, error) {
	r := box.Inset(-border)
	if r.Dx() > bounds.Dx() || r.Dy() > bounds.Dy() {
		return image.Rectangle{}, fmt.Errorf("%w: crop %v in %v", ErrTooSmall, r.Size(), bounds.Size())
	}
	shift := image.Point{}
	if r.Min.X < bounds.Min.X {
		shift.X = bounds.Min.X - r.Min.X
	} else if r.Max.X > bounds.Max.X {
		shift.X = bounds.Max.X - r.Max.X
	}
	if r.Min.Y < bounds.Min.Y {
		shift.Y = bounds.Min.Y - r.Min.Y
	} else if r.Max.Y > bounds.Max.Y {
		shift.Y = bounds.Max.Y - r.Max.Y
	}
	return r.Add(shift), nil
}

// Subimage copies box grown by border, shifted to stay inside the image.
func (img *Image) Subimage(box image.Rectangle, border int) (*image.Gray, error) {
	r, err := cropRect(img.Bounds(), box, border)
	if err != nil {
		return nil, err
	}
	out := image.NewGray(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(out, out.Rect, img.Gray, r.Min, draw.Src)
	return out, nil
}

// RotatedSubimage returns the tag-sized patch centered at center, rotated
// counter-clockwise by degrees. The patch is taken from a crop with a border
// of half a tag, so corners never sample outside the crop; pixels that fall
// outside it stay black.
func (img *Image) RotatedSubimage(center image.Point, degrees float64) (*image.Gray, error) {
	if math.Mod(degrees, 360) == 0 {
		return img.Subimage(tag.BoxForCenter(center), 0)
	}

	r, err := cropRect(img.Bounds(), tag.BoxForCenter(center), tag.Width/2)
	if err != nil {
		return nil, err
	}
	src := img.Gray.SubImage(r).(*image.Gray)
	dst := image.NewGray(image.Rect(0, 0, tag.Width, tag.Height))
	draw.BiLinear.Transform(dst, rotation(r, degrees), src, src.Rect, draw.Src, nil)
	return dst, nil
}

// rotation builds the source-to-destination transform rotating around the
// center of r and moving that center onto the center of a tag-sized patch.
func rotation(r image.Rectangle, degrees float64) f64.Aff3 {
	rad := degrees * math.Pi / 180
	a, b := math.Cos(rad), math.Sin(rad)
	cx := float64(r.Min.X) + float64(r.Dx())/2
	cy := float64(r.Min.Y) + float64(r.Dy())/2
	tx := float64(tag.Width)/2 - cx
	ty := float64(tag.Height)/2 - cy
	return f64.Aff3{
		a, b, (1-a)*cx - b*cy + tx,
		-b, a, b*cx + (1-a)*cy + ty,
	}
}

// Rescale resizes g by factor with Lanczos resampling. A factor of 1 returns
// g itself.
func Rescale(g *image.Gray, factor float64) *image.Gray {
	if factor == 1 {
		return g
	}
	w := int(math.Round(float64(g.Rect.Dx()) * factor))
	h := int(math.Round(float64(g.Rect.Dy()) * factor))
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return ToGray(imaging.Resize(g, w, h, imaging.Lanczos))
}

// Save writes img with the given format and quality
func Save(img image.Image, path, format string, quality int, lossless bool) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	return encodeAndClose(f, img, format, quality, lossless)
}

// SaveNew is Save but fails with os.ErrExist instead of replacing path.
func SaveNew(img image.Image, path, format string, quality int, lossless bool) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	return encodeAndClose(f, img, format, quality, lossless)
}

func encodeAndClose(f *os.File, img image.Image, format string, quality int, lossless bool) error {
	if err := Encode(f, img, format, quality, lossless); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Encode writes img to w in the given format.
func Encode(w io.Writer, img image.Image, format string, quality int, lossless bool) error {
	switch strings.ToLower(format) {
	case "webp":
		return webp.Encode(w, img, &webp.Options{Lossless: lossless, Quality: float32(quality)})
	case "png":
		return imaging.Encode(w, img, imaging.PNG)
	default: // jpg/jpeg
		return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(quality))
	}
}

// FormatExt maps a patch format to its file extension.
func FormatExt(format string) string {
	switch strings.ToLower(format) {
	case "png":
		return "png"
	case "webp":
		return "webp"
	default:
		return "jpeg"
	}
}
