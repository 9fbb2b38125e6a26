// Package preprocess implements the OpenCV-backed pixel filters applied to
// whole images before sampling: replicate border, local histogram
// equalization and adaptive thresholding.
package preprocess

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/menta2k/tag-trainset/pkg/processing"
	"github.com/menta2k/tag-trainset/pkg/tag"
)

const (
	claheClipLimit = 2

	thresholdMax       = 255
	thresholdBlockSize = 51
	weightOriginal     = 0.7
	weightThreshold    = 0.3
)

// Options selects which filters run, in the order border, equalization,
// threshold.
type Options struct {
	Border      bool
	HistEq      bool
	Threshold   bool
	BinaryImage bool
}

func toMat(g *image.Gray) (gocv.Mat, error) {
	g = processing.ToGray(g)
	w, h := g.Rect.Dx(), g.Rect.Dy()
	data := make([]byte, w*h)
	for y := 0; y < h; y++ {
		copy(data[y*w:(y+1)*w], g.Pix[y*g.Stride:])
	}
	return gocv.NewMatFromBytes(h, w, gocv.MatTypeCV8U, data)
}

func fromMat(m gocv.Mat) *image.Gray {
	g := image.NewGray(image.Rect(0, 0, m.Cols(), m.Rows()))
	copy(g.Pix, m.ToBytes())
	return g
}

// withMat runs fn on a Mat copy of g and converts the result back.
func withMat(g *image.Gray, fn func(src gocv.Mat, dst *gocv.Mat)) (*image.Gray, error) {
	src, err := toMat(g)
	if err != nil {
		return nil, fmt.Errorf("failed to convert image: %w", err)
	}
	defer src.Close()

	dst := gocv.NewMat()
	defer dst.Close()

	fn(src, &dst)
	if dst.Empty() {
		return nil, fmt.Errorf("opencv returned an empty image")
	}
	return fromMat(dst), nil
}

// LocalHistogramEq applies CLAHE with a tag-sized tile grid.
func LocalHistogramEq(g *image.Gray) (*image.Gray, error) {
	return withMat(g, func(src gocv.Mat, dst *gocv.Mat) {
		clahe := gocv.NewCLAHEWithParams(claheClipLimit, image.Pt(tag.Width, tag.Height))
		defer clahe.Close()
		clahe.Apply(src, dst)
	})
}

// AddBorder pads the image by half a tag on every side, replicating the edge
// pixels, so tags at the image border can still be sampled.
func AddBorder(g *image.Gray) (*image.Gray, error) {
	return withMat(g, func(src gocv.Mat, dst *gocv.Mat) {
		gocv.CopyMakeBorder(src, dst,
			tag.Height/2, tag.Height/2,
			tag.Width/2, tag.Width/2,
			gocv.BorderReplicate, color.RGBA{})
	})
}

// AdaptiveThreshold runs a Gaussian adaptive threshold. Unless binary is set,
// the thresholded image is blended with the original.
func AdaptiveThreshold(binary bool) processing.Filter {
	return func(g *image.Gray) (*image.Gray, error) {
		return withMat(g, func(src gocv.Mat, dst *gocv.Mat) {
			thresh := gocv.NewMat()
			defer thresh.Close()
			gocv.AdaptiveThreshold(src, &thresh, thresholdMax,
				gocv.AdaptiveThresholdGaussian, gocv.ThresholdBinary, thresholdBlockSize, 0)
			if binary {
				thresh.CopyTo(dst)
				return
			}
			gocv.AddWeighted(src, weightOriginal, thresh, weightThreshold, 0, dst)
		})
	}
}

// Chain composes the filters selected by opts. It returns nil when nothing is
// selected.
func Chain(opts Options) processing.Filter {
	var filters []processing.Filter
	if opts.Border {
		filters = append(filters, AddBorder)
	}
	if opts.HistEq {
		filters = append(filters, LocalHistogramEq)
	}
	if opts.Threshold {
		filters = append(filters, AdaptiveThreshold(opts.BinaryImage))
	}
	if len(filters) == 0 {
		return nil
	}
	return func(g *image.Gray) (*image.Gray, error) {
		var err error
		for _, f := range filters {
			if g, err = f(g); err != nil {
				return nil, err
			}
		}
		return g, nil
	}
}
