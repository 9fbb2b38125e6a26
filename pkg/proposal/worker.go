// Package proposal runs a tag localizer over images and stores its output
// as proposal side-files for later manual correction.
package proposal

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/menta2k/tag-trainset/pkg/imagedesc"
	"github.com/menta2k/tag-trainset/pkg/processing"
	"github.com/menta2k/tag-trainset/pkg/tag"
)

// ErrClosed is returned when work is submitted to a closed Worker.
var ErrClosed = errors.New("proposal worker closed")

// DefaultQueueSize bounds each of the worker queues.
const DefaultQueueSize = 16

// Proposer is a tag localizer.
type Proposer interface {
	// ProposeTags locates tag candidates in img.
	ProposeTags(ctx context.Context, img *processing.Image) ([]tag.Tag, error)
	// RefineEllipse fits the ellipse of t from patch, which covers t.Box.
	// The returned tag keeps the id and classification of t.
	RefineEllipse(ctx context.Context, patch *image.Gray, t tag.Tag) (tag.Tag, error)
}

// Result is the outcome of a proposal request. Desc holds the proposed tags
// and is saved with imagedesc.ProposalExt; Image is the decoded input.
type Result struct {
	Desc  *imagedesc.Desc
	Image *processing.Image
	Err   error
}

// TagResult is the outcome of an ellipse request.
type TagResult struct {
	Tag tag.Tag
	Err error
}

type proposalJob struct {
	ctx  context.Context
	desc *imagedesc.Desc
	out  chan Result
}

type ellipseJob struct {
	ctx   context.Context
	patch *image.Gray
	tag   tag.Tag
	out   chan TagResult
}

// Worker serializes localizer calls on a single goroutine. Proposal requests
// are served before pending ellipse requests.
type Worker struct {
	proposer  Proposer
	proposals chan proposalJob
	ellipses  chan ellipseJob

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewWorker starts a worker with queues of queueSize entries each.
func NewWorker(p Proposer, queueSize int) *Worker {
	if queueSize < 1 {
		queueSize = DefaultQueueSize
	}
	w := &Worker{
		proposer:  p,
		proposals: make(chan proposalJob, queueSize),
		ellipses:  make(chan ellipseJob, queueSize),
	}
	w.wg.Add(1)
	go w.run()
	return w
}

// Propose queues desc for localization. It blocks while the queue is full
// and returns ctx.Err() if ctx ends first.
func (w *Worker) Propose(ctx context.Context, desc *imagedesc.Desc) (<-chan Result, error) {
	job := proposalJob{ctx: ctx, desc: desc, out: make(chan Result, 1)}

	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return nil, ErrClosed
	}
	select {
	case w.proposals <- job:
		return job.out, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// FindEllipse queues an ellipse fit for t.
func (w *Worker) FindEllipse(ctx context.Context, patch *image.Gray, t tag.Tag) (<-chan TagResult, error) {
	job := ellipseJob{ctx: ctx, patch: patch, tag: t, out: make(chan TagResult, 1)}

	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return nil, ErrClosed
	}
	select {
	case w.ellipses <- job:
		return job.out, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops accepting work, finishes everything already queued and waits
// for the worker goroutine.
func (w *Worker) Close() {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.proposals)
		close(w.ellipses)
	}
	w.mu.Unlock()
	w.wg.Wait()
}

func (w *Worker) run() {
	defer w.wg.Done()
	proposals, ellipses := w.proposals, w.ellipses
	for proposals != nil || ellipses != nil {
		// Drain proposals first.
		if proposals != nil {
			select {
			case job, ok := <-proposals:
				if !ok {
					proposals = nil
				} else {
					job.out <- w.propose(job)
				}
				continue
			default:
			}
		}

		select {
		case job, ok := <-proposals:
			if !ok {
				proposals = nil
				continue
			}
			job.out <- w.propose(job)
		case job, ok := <-ellipses:
			if !ok {
				ellipses = nil
				continue
			}
			job.out <- w.findEllipse(job)
		}
	}
}

func (w *Worker) propose(job proposalJob) Result {
	if err := job.ctx.Err(); err != nil {
		return Result{Err: err}
	}
	img, err := processing.Load(job.desc.Filename)
	if err != nil {
		return Result{Err: err}
	}
	tags, err := w.proposer.ProposeTags(job.ctx, img)
	if err != nil {
		return Result{Image: img, Err: fmt.Errorf("propose %s: %w", job.desc.Filename, err)}
	}
	d := imagedesc.NewWithExt(job.desc.Filename, imagedesc.ProposalExt)
	d.Tags = tags
	return Result{Desc: d, Image: img}
}

func (w *Worker) findEllipse(job ellipseJob) TagResult {
	if err := job.ctx.Err(); err != nil {
		return TagResult{Tag: job.tag, Err: err}
	}
	t, err := w.proposer.RefineEllipse(job.ctx, job.patch, job.tag)
	if err != nil {
		return TagResult{Tag: job.tag, Err: err}
	}
	return TagResult{Tag: t}
}
