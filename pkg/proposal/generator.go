package proposal

import (
	"context"
	"fmt"
	"io"
	"log"

	"golang.org/x/sync/errgroup"

	"github.com/menta2k/tag-trainset/pkg/imagedesc"
	"github.com/menta2k/tag-trainset/pkg/tag"
	"github.com/menta2k/tag-trainset/pkg/trainset"
)

// Generator feeds images through a Worker and saves every result as a
// proposal side-file.
type Generator struct {
	worker    *Worker
	refine    bool
	threshold int
	progress  io.Writer
	queue     int
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithRefine fits the ellipse of every proposed tag in a second pass and
// reclassifies the tag from the ellipse vote.
func WithRefine(refine bool) GeneratorOption {
	return func(g *Generator) { g.refine = refine }
}

// WithVoteThreshold sets the vote used to reclassify refined tags.
func WithVoteThreshold(threshold int) GeneratorOption {
	return func(g *Generator) { g.threshold = threshold }
}

// WithProgress renders a progress bar to w.
func WithProgress(w io.Writer) GeneratorOption {
	return func(g *Generator) { g.progress = w }
}

// NewGenerator creates a generator on top of w. The caller owns w and
// closes it after Run.
func NewGenerator(w *Worker, opts ...GeneratorOption) *Generator {
	g := &Generator{
		worker:    w,
		threshold: tag.IsTagVoteThreshold,
		queue:     DefaultQueueSize,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Run proposes tags for every descriptor, in order, and saves each result
// next to its image with imagedesc.ProposalExt. It returns the saved
// descriptors and stops at the first error.
func (g *Generator) Run(ctx context.Context, descs []*imagedesc.Desc) ([]*imagedesc.Desc, error) {
	eg, ctx := errgroup.WithContext(ctx)
	pending := make(chan (<-chan Result), g.queue)

	eg.Go(func() error {
		defer close(pending)
		for _, d := range descs {
			ch, err := g.worker.Propose(ctx, d)
			if err != nil {
				return err
			}
			select {
			case pending <- ch:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	out := make([]*imagedesc.Desc, 0, len(descs))
	progress := trainset.NewProgress(g.progress, len(descs))
	eg.Go(func() error {
		for ch := range pending {
			res := <-ch
			if res.Err != nil {
				return res.Err
			}
			if g.refine {
				if err := g.refineTags(ctx, res); err != nil {
					return err
				}
			}
			if err := res.Desc.Save(); err != nil {
				return fmt.Errorf("save proposal for %s: %w", res.Desc.Filename, err)
			}
			out = append(out, res.Desc)
			progress.Increment()
		}
		return nil
	})

	err := eg.Wait()
	if len(descs) > 0 {
		progress.Finish()
	}
	return out, err
}

func (g *Generator) refineTags(ctx context.Context, res Result) error {
	chans := make([]<-chan TagResult, len(res.Desc.Tags))
	for i, t := range res.Desc.Tags {
		patch, err := res.Image.Subimage(t.Box, 0)
		if err != nil {
			log.Printf("Skipping ellipse fit for tag %d in %s: %v", t.ID, res.Desc.Filename, err)
			continue
		}
		ch, err := g.worker.FindEllipse(ctx, patch, t)
		if err != nil {
			return err
		}
		chans[i] = ch
	}

	for i, ch := range chans {
		if ch == nil {
			continue
		}
		tr := <-ch
		if tr.Err != nil {
			return fmt.Errorf("refine tag %d in %s: %w", tr.Tag.ID, res.Desc.Filename, tr.Err)
		}
		if tr.Tag.Ellipse != nil {
			tr.Tag.GuessIsTag(g.threshold)
		}
		res.Desc.Tags[i] = tr.Tag
	}
	return nil
}
