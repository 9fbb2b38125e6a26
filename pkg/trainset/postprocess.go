package trainset

import "github.com/menta2k/tag-trainset/pkg/processing"

// PostProcess rescales every patch by Options.Scale. Labels, geometry and
// descriptions are kept. With a scale of 1 the slice is returned untouched.
func (g *Generator) PostProcess(data []TrainDatum) []TrainDatum {
	if g.opts.Scale == 1 {
		return data
	}
	out := make([]TrainDatum, len(data))
	for i, d := range data {
		d.Patch = processing.Rescale(d.Patch, g.opts.Scale)
		out[i] = d
	}
	return out
}
