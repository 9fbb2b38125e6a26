package vision

import (
	"context"
	"image"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/menta2k/tag-trainset/pkg/processing"
	"github.com/menta2k/tag-trainset/pkg/tag"
)

// TagDetector proposes tags without a model: tag-sized windows with high
// local contrast become candidates and the ellipse comes from the second
// moments of the window's structure pixels.
type TagDetector struct {
	config DetectionConfig
}

// DetectionConfig holds configuration for tag detection
type DetectionConfig struct {
	// ContrastThreshold is the minimum window standard deviation, as a
	// fraction of 128, for a window to become a candidate.
	ContrastThreshold float64
	// Stride is the window step in pixels.
	Stride int
	// MaxCandidates limits the proposals per image.
	MaxCandidates int
	// MaxOverlap suppresses a proposal overlapping an accepted one by more
	// than this fraction.
	MaxOverlap float64
	// VoteScale converts the contrast score into an ellipse vote.
	VoteScale float64
	// VoteThreshold classifies proposals with GuessIsTag.
	VoteThreshold int
}

// DefaultConfig returns the configuration used by New.
func DefaultConfig() DetectionConfig {
	return DetectionConfig{
		ContrastThreshold: 0.1,
		Stride:            tag.Width / 4,
		MaxCandidates:     200,
		MaxOverlap:        0.25,
		VoteScale:         4000,
		VoteThreshold:     tag.IsTagVoteThreshold,
	}
}

// New creates a new TagDetector with default configuration
func New() *TagDetector {
	return &TagDetector{config: DefaultConfig()}
}

// NewWithConfig creates a new TagDetector with custom configuration
func NewWithConfig(config DetectionConfig) *TagDetector {
	if config.Stride < 1 {
		config.Stride = 1
	}
	return &TagDetector{config: config}
}

// Region is a scored candidate window.
type Region struct {
	Rect  image.Rectangle
	Score float64
}

// ProposeTags returns one tag per distinct high contrast window of img.
func (d *TagDetector) ProposeTags(ctx context.Context, img *processing.Image) ([]tag.Tag, error) {
	regions := d.FindRegions(img.Gray)

	var tags []tag.Tag
	for _, r := range regions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var ellipses []tag.Ellipse
		if e, ok := FitEllipse(img.Gray, r.Rect, d.vote(r.Score)); ok {
			ellipses = append(ellipses, e)
		}
		t := tag.FromCandidate(r.Rect, ellipses)
		t.GuessIsTag(d.config.VoteThreshold)
		if d.overlaps(t, tags) {
			continue
		}
		tags = append(tags, t)
		if d.config.MaxCandidates > 0 && len(tags) >= d.config.MaxCandidates {
			break
		}
	}
	return tags, nil
}

// RefineEllipse fits the ellipse of t from patch, which covers t.Box. Id,
// box and classification are kept. A patch without structure leaves the tag
// unchanged.
func (d *TagDetector) RefineEllipse(ctx context.Context, patch *image.Gray, t tag.Tag) (tag.Tag, error) {
	if err := ctx.Err(); err != nil {
		return t, err
	}
	_, std := windowStats(patch, patch.Rect)
	e, ok := FitEllipse(patch, patch.Rect, d.vote(std/128))
	if !ok {
		return t, nil
	}
	t.Ellipse = &e
	return t, nil
}

func (d *TagDetector) vote(score float64) int {
	return int(math.Round(score * d.config.VoteScale))
}

func (d *TagDetector) overlaps(t tag.Tag, accepted []tag.Tag) bool {
	for _, a := range accepted {
		if tag.IntersectionRatio(a.Box, t.Box) > d.config.MaxOverlap {
			return true
		}
	}
	return false
}

// FindRegions scores every tag-sized window on the stride grid and returns
// those above the contrast threshold, best first.
func (d *TagDetector) FindRegions(g *image.Gray) []Region {
	b := g.Rect
	if b.Dx() < tag.Width || b.Dy() < tag.Height {
		return nil
	}
	ii := newIntegral(g)

	var regions []Region
	for y := b.Min.Y; y+tag.Height <= b.Max.Y; y += d.config.Stride {
		for x := b.Min.X; x+tag.Width <= b.Max.X; x += d.config.Stride {
			r := image.Rect(x, y, x+tag.Width, y+tag.Height)
			_, std := ii.stats(r)
			score := std / 128
			if score > d.config.ContrastThreshold {
				regions = append(regions, Region{Rect: r, Score: score})
			}
		}
	}
	sort.SliceStable(regions, func(i, j int) bool {
		return regions[i].Score > regions[j].Score
	})
	return regions
}

// integral holds summed-area tables of intensities and squared intensities.
type integral struct {
	rect  image.Rectangle
	w     int
	sum   []float64
	sqSum []float64
}

func newIntegral(g *image.Gray) *integral {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	ii := &integral{
		rect:  g.Rect,
		w:     w + 1,
		sum:   make([]float64, (w+1)*(h+1)),
		sqSum: make([]float64, (w+1)*(h+1)),
	}
	for y := 0; y < h; y++ {
		var row, rowSq float64
		for x := 0; x < w; x++ {
			v := float64(g.Pix[y*g.Stride+x])
			row += v
			rowSq += v * v
			i := (y+1)*ii.w + x + 1
			ii.sum[i] = ii.sum[i-ii.w] + row
			ii.sqSum[i] = ii.sqSum[i-ii.w] + rowSq
		}
	}
	return ii
}

func (ii *integral) area(table []float64, r image.Rectangle) float64 {
	r = r.Sub(ii.rect.Min)
	return table[r.Max.Y*ii.w+r.Max.X] - table[r.Min.Y*ii.w+r.Max.X] -
		table[r.Max.Y*ii.w+r.Min.X] + table[r.Min.Y*ii.w+r.Min.X]
}

// stats returns mean and standard deviation of the pixels in r.
func (ii *integral) stats(r image.Rectangle) (float64, float64) {
	n := float64(r.Dx() * r.Dy())
	mean := ii.area(ii.sum, r) / n
	variance := ii.area(ii.sqSum, r)/n - mean*mean
	if variance < 0 {
		variance = 0
	}
	return mean, math.Sqrt(variance)
}

func windowStats(g *image.Gray, r image.Rectangle) (float64, float64) {
	r = r.Intersect(g.Rect)
	vals := make([]float64, 0, r.Dx()*r.Dy())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		off := g.PixOffset(r.Min.X, y)
		for _, v := range g.Pix[off : off+r.Dx()] {
			vals = append(vals, float64(v))
		}
	}
	if len(vals) == 0 {
		return 0, 0
	}
	return stat.PopMeanStdDev(vals, nil)
}

// FitEllipse fits an ellipse to the structure pixels of r, the pixels that
// deviate from the window mean by more than one standard deviation. The
// returned center is relative to r.Min, axes are half lengths and the angle
// of the major axis is in degrees in [0, 180).
func FitEllipse(g *image.Gray, r image.Rectangle, vote int) (tag.Ellipse, bool) {
	r = r.Intersect(g.Rect)
	mean, std := windowStats(g, r)
	if std == 0 {
		return tag.Ellipse{}, false
	}

	var xs, ys, ws []float64
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			dev := math.Abs(float64(g.GrayAt(x, y).Y) - mean)
			if dev > std {
				xs = append(xs, float64(x-r.Min.X))
				ys = append(ys, float64(y-r.Min.Y))
				ws = append(ws, 1)
			}
		}
	}
	if len(xs) < 3 {
		return tag.Ellipse{}, false
	}

	cx := stat.Mean(xs, ws)
	cy := stat.Mean(ys, ws)
	cov := mat.NewSymDense(2, []float64{
		stat.Covariance(xs, xs, ws), stat.Covariance(xs, ys, ws),
		stat.Covariance(ys, xs, ws), stat.Covariance(ys, ys, ws),
	})

	var eig mat.EigenSym
	if !eig.Factorize(cov, true) {
		return tag.Ellipse{}, false
	}
	values := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	// Values are ascending; the last vector is the major axis. A uniformly
	// filled ellipse has variance a²/4 along a half axis a.
	major, minor := math.Max(values[1], 0), math.Max(values[0], 0)
	angle := math.Atan2(vecs.At(1, 1), vecs.At(0, 1)) * 180 / math.Pi
	angle = math.Mod(angle+360, 180)

	return tag.Ellipse{
		Center: image.Pt(int(math.Round(cx)), int(math.Round(cy))),
		Axes:   tag.Axes{Width: 2 * math.Sqrt(major), Height: 2 * math.Sqrt(minor)},
		Angle:  angle,
		Vote:   vote,
	}, true
}
