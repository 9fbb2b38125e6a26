package processing

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/menta2k/tag-trainset/pkg/tag"
)

// EncodeForModel fits img into maxDim×maxDim and returns it base64 encoded
// for vision model requests, together with the scale factor applied so
// model coordinates can be mapped back. maxDim 0 keeps the full size.
func EncodeForModel(img image.Image, format string, maxDim int, quality int) (string, float64, error) {
	scale := 1.0
	if w := img.Bounds().Dx(); maxDim > 0 && w > 0 {
		img = imaging.Fit(img, maxDim, maxDim, imaging.Lanczos)
		scale = float64(img.Bounds().Dx()) / float64(w)
	}

	var buf bytes.Buffer
	var err error
	switch strings.ToLower(format) {
	case "png":
		err = (&png.Encoder{CompressionLevel: png.BestCompression}).Encode(&buf, img)
	case "jpg", "jpeg", "":
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality})
	default:
		return "", 0, fmt.Errorf("unsupported model image format %q", format)
	}
	if err != nil {
		return "", 0, err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), scale, nil
}

var typeColors = map[tag.Type]color.NRGBA{
	tag.IsTag:         {0, 255, 0, 255},
	tag.NoTag:         {255, 0, 0, 255},
	tag.Exclude:       {128, 128, 128, 255},
	tag.BeeWithoutTag: {255, 204, 0, 255},
}

// DrawTags renders tag boxes onto a color copy of img, one color per
// classification, with a cross on every ellipse center.
func DrawTags(img image.Image, tags []tag.Tag) *image.NRGBA {
	out := imaging.Clone(img)
	origin := img.Bounds().Min
	stroke := max(1, min(out.Rect.Dx(), out.Rect.Dy())/500)

	for _, t := range tags {
		fill := &image.Uniform{C: typeColors[t.Type]}
		box := t.Box.Sub(origin)
		for _, edge := range []image.Rectangle{
			image.Rect(box.Min.X, box.Min.Y, box.Max.X, box.Min.Y+stroke),
			image.Rect(box.Min.X, box.Max.Y-stroke, box.Max.X, box.Max.Y),
			image.Rect(box.Min.X, box.Min.Y, box.Min.X+stroke, box.Max.Y),
			image.Rect(box.Max.X-stroke, box.Min.Y, box.Max.X, box.Max.Y),
		} {
			draw.Draw(out, edge, fill, image.Point{}, draw.Src)
		}
		if t.Ellipse != nil {
			p := box.Min.Add(t.Ellipse.Center)
			draw.Draw(out, image.Rect(p.X-4, p.Y, p.X+5, p.Y+1), fill, image.Point{}, draw.Src)
			draw.Draw(out, image.Rect(p.X, p.Y-4, p.X+1, p.Y+5), fill, image.Point{}, draw.Src)
		}
	}
	return out
}
