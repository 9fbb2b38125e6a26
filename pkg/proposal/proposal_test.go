package proposal

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/menta2k/tag-trainset/pkg/imagedesc"
	"github.com/menta2k/tag-trainset/pkg/processing"
	"github.com/menta2k/tag-trainset/pkg/tag"
)

type fakeProposer struct {
	mu      sync.Mutex
	calls   []string
	started chan struct{}
	gate    chan struct{}
	vote    int
	err     error
}

func (f *fakeProposer) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeProposer) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeProposer) ProposeTags(ctx context.Context, img *processing.Image) ([]tag.Tag, error) {
	f.record("propose " + filepath.Base(img.Filename))
	if f.started != nil {
		select {
		case f.started <- struct{}{}:
		default:
		}
	}
	if f.gate != nil {
		<-f.gate
	}
	if f.err != nil {
		return nil, f.err
	}
	t := tag.New(tag.BoxForCenter(image.Pt(50, 50)))
	t.SetType(tag.NoTag)
	return []tag.Tag{t}, nil
}

func (f *fakeProposer) RefineEllipse(ctx context.Context, patch *image.Gray, t tag.Tag) (tag.Tag, error) {
	f.record("ellipse")
	if patch.Rect.Size() != tag.Size {
		return t, errors.New("unexpected patch size")
	}
	t.Ellipse = &tag.Ellipse{Center: image.Pt(32, 32), Vote: f.vote}
	return t, nil
}

func createImageFile(t *testing.T, dir, name string) string {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 120, 100))); err != nil {
		t.Fatalf("encode: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestWorkerPropose(t *testing.T) {
	dir := t.TempDir()
	path := createImageFile(t, dir, "a.png")

	w := NewWorker(&fakeProposer{}, 4)
	defer w.Close()

	ch, err := w.Propose(context.Background(), imagedesc.New(path))
	if err != nil {
		t.Fatalf("Propose failed: %v", err)
	}
	res := <-ch
	if res.Err != nil {
		t.Fatalf("Proposal failed: %v", res.Err)
	}
	if len(res.Desc.Tags) != 1 || res.Desc.Filename != path {
		t.Errorf("Unexpected descriptor %+v", res.Desc)
	}
	if res.Desc.SaveExt() != imagedesc.ProposalExt {
		t.Errorf("Expected proposal extension, got %s", res.Desc.SaveExt())
	}
	if res.Image == nil || res.Image.Bounds().Dx() != 120 {
		t.Error("Expected decoded image in result")
	}
}

func TestWorkerProposalPriority(t *testing.T) {
	dir := t.TempDir()
	a := createImageFile(t, dir, "a.png")
	b := createImageFile(t, dir, "b.png")
	c := createImageFile(t, dir, "c.png")

	fp := &fakeProposer{started: make(chan struct{}, 1), gate: make(chan struct{})}
	w := NewWorker(fp, 4)
	ctx := context.Background()

	first, err := w.Propose(ctx, imagedesc.New(a))
	if err != nil {
		t.Fatalf("Propose failed: %v", err)
	}
	<-fp.started

	patch := image.NewGray(image.Rect(0, 0, tag.Width, tag.Height))
	var ellipses []<-chan TagResult
	for i := 0; i < 2; i++ {
		ch, err := w.FindEllipse(ctx, patch, tag.New(tag.BoxForCenter(image.Pt(40, 40))))
		if err != nil {
			t.Fatalf("FindEllipse failed: %v", err)
		}
		ellipses = append(ellipses, ch)
	}
	var proposals []<-chan Result
	for _, p := range []string{b, c} {
		ch, err := w.Propose(ctx, imagedesc.New(p))
		if err != nil {
			t.Fatalf("Propose failed: %v", err)
		}
		proposals = append(proposals, ch)
	}

	close(fp.gate)
	<-first
	for _, ch := range proposals {
		if res := <-ch; res.Err != nil {
			t.Errorf("Proposal failed: %v", res.Err)
		}
	}
	for _, ch := range ellipses {
		if res := <-ch; res.Err != nil {
			t.Errorf("Ellipse fit failed: %v", res.Err)
		}
	}
	w.Close()

	want := []string{"propose a.png", "propose b.png", "propose c.png", "ellipse", "ellipse"}
	if got := fp.Calls(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Expected call order %v, got %v", want, got)
	}
}

func TestWorkerCloseDrains(t *testing.T) {
	dir := t.TempDir()
	path := createImageFile(t, dir, "a.png")

	w := NewWorker(&fakeProposer{}, 8)
	var chans []<-chan Result
	for i := 0; i < 5; i++ {
		ch, err := w.Propose(context.Background(), imagedesc.New(path))
		if err != nil {
			t.Fatalf("Propose failed: %v", err)
		}
		chans = append(chans, ch)
	}
	w.Close()

	for i, ch := range chans {
		select {
		case res := <-ch:
			if res.Err != nil {
				t.Errorf("Job %d failed: %v", i, res.Err)
			}
		default:
			t.Errorf("Job %d not finished after Close", i)
		}
	}

	if _, err := w.Propose(context.Background(), imagedesc.New(path)); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
	if _, err := w.FindEllipse(context.Background(), nil, tag.Tag{}); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
	w.Close()
}

func TestWorkerFullQueueHonorsContext(t *testing.T) {
	dir := t.TempDir()
	path := createImageFile(t, dir, "a.png")

	fp := &fakeProposer{started: make(chan struct{}, 1), gate: make(chan struct{})}
	w := NewWorker(fp, 1)
	defer w.Close()
	defer close(fp.gate)

	if _, err := w.Propose(context.Background(), imagedesc.New(path)); err != nil {
		t.Fatalf("Propose failed: %v", err)
	}
	<-fp.started
	if _, err := w.Propose(context.Background(), imagedesc.New(path)); err != nil {
		t.Fatalf("Propose failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := w.Propose(ctx, imagedesc.New(path)); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline error on full queue, got %v", err)
	}
}

func TestWorkerMissingImage(t *testing.T) {
	w := NewWorker(&fakeProposer{}, 1)
	defer w.Close()

	ch, err := w.Propose(context.Background(), imagedesc.New(filepath.Join(t.TempDir(), "missing.png")))
	if err != nil {
		t.Fatalf("Propose failed: %v", err)
	}
	if res := <-ch; res.Err == nil {
		t.Error("Expected load error")
	}
}

func TestGeneratorRun(t *testing.T) {
	dir := t.TempDir()
	var descs []*imagedesc.Desc
	for _, name := range []string{"a.png", "b.png", "c.png"} {
		descs = append(descs, imagedesc.New(createImageFile(t, dir, name)))
	}

	w := NewWorker(&fakeProposer{}, 2)
	defer w.Close()
	var progress bytes.Buffer
	out, err := NewGenerator(w, WithProgress(&progress)).Run(context.Background(), descs)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(out) != len(descs) {
		t.Fatalf("Expected %d results, got %d", len(descs), len(out))
	}
	for i, d := range out {
		if d.Filename != descs[i].Filename {
			t.Errorf("Result %d out of order: %s", i, d.Filename)
		}
		loaded, err := imagedesc.Load(d.Filename + "." + imagedesc.ProposalExt)
		if err != nil {
			t.Fatalf("Proposal side-file missing: %v", err)
		}
		if !loaded.Equal(d) {
			t.Errorf("Saved proposal differs for %s", d.Filename)
		}
	}
}

func TestGeneratorRefine(t *testing.T) {
	dir := t.TempDir()
	descs := []*imagedesc.Desc{imagedesc.New(createImageFile(t, dir, "a.png"))}

	fp := &fakeProposer{vote: 2000}
	w := NewWorker(fp, 2)
	defer w.Close()
	out, err := NewGenerator(w, WithRefine(true)).Run(context.Background(), descs)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	got := out[0].Tags[0]
	if got.Ellipse == nil || got.Ellipse.Vote != 2000 {
		t.Fatalf("Expected refined ellipse, got %+v", got.Ellipse)
	}
	if !got.IsTag() {
		t.Error("Expected tag reclassified from ellipse vote")
	}

	fp.vote = 100
	out, err = NewGenerator(w, WithRefine(true)).Run(context.Background(), descs)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !out[0].Tags[0].IsNoTag() {
		t.Error("Expected low vote classified NoTag")
	}
}

func TestGeneratorError(t *testing.T) {
	dir := t.TempDir()
	descs := []*imagedesc.Desc{
		imagedesc.New(createImageFile(t, dir, "a.png")),
		imagedesc.New(createImageFile(t, dir, "b.png")),
	}
	w := NewWorker(&fakeProposer{err: errors.New("model offline")}, 2)
	defer w.Close()

	if _, err := NewGenerator(w).Run(context.Background(), descs); err == nil {
		t.Error("Expected proposer error")
	}
}
