package trainset

import (
	"image"
	"math"

	"gonum.org/v1/gonum/spatial/kdtree"

	"github.com/menta2k/tag-trainset/pkg/tag"
)

// tagIndex answers nearest-true-tag queries.
type tagIndex struct {
	tree      *kdtree.Tree
	bandwidth float64
}

func newTagIndex(tags []tag.Tag, bandwidth float64) *tagIndex {
	pts := make(kdtree.Points, 0, len(tags))
	for _, t := range tags {
		c := t.Center()
		pts = append(pts, kdtree.Point{float64(c.X), float64(c.Y)})
	}
	return &tagIndex{tree: kdtree.New(pts, false), bandwidth: bandwidth}
}

// sqDist returns the squared Euclidean distance from p to the nearest center.
func (idx *tagIndex) sqDist(p image.Point) float64 {
	_, d := idx.tree.Nearest(kdtree.Point{float64(p.X), float64(p.Y)})
	return d
}

// taginess scores p by exp(-0.5·d²/k²), 1 on a tag center.
func (idx *tagIndex) taginess(p image.Point) float64 {
	return math.Exp(-0.5 * idx.sqDist(p) / (idx.bandwidth * idx.bandwidth))
}
