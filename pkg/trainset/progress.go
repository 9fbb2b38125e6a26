package trainset

import (
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	progressWidth    = 40
	progressInterval = 100 * time.Millisecond
)

// Progress counts finished work items and renders a one-line progress bar
// with an ETA. Increment is safe for concurrent use.
type Progress struct {
	w     io.Writer
	total int64
	done  atomic.Int64
	start time.Time
	now   func() time.Time

	mu        sync.Mutex
	lastPrint time.Time
}

// NewProgress starts a progress bar for total items. A nil writer disables
// rendering.
func NewProgress(w io.Writer, total int) *Progress {
	return &Progress{w: w, total: int64(total), start: time.Now(), now: time.Now}
}

// Increment marks one item done and returns the completed fraction.
func (p *Progress) Increment() float64 {
	done := p.done.Add(1)
	ratio := 1.0
	if p.total > 0 {
		ratio = float64(done) / float64(p.total)
	}
	p.render(ratio)
	return ratio
}

// Done returns the number of finished items.
func (p *Progress) Done() int {
	return int(p.done.Load())
}

// Finish terminates the progress line.
func (p *Progress) Finish() {
	if p.w == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w)
}

func (p *Progress) render(ratio float64) {
	if p.w == nil {
		return
	}
	now := p.now()
	elapsed := now.Sub(p.start)
	if ratio <= 1e-5 || elapsed <= progressInterval {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if ratio < 1 && now.Sub(p.lastPrint) < progressInterval {
		return
	}
	p.lastPrint = now
	fmt.Fprint(p.w, FormatProgress(ratio, elapsed))
}

// FormatProgress renders `\r NN% [####    ] eta 1h 2m 3s`.
func FormatProgress(ratio float64, elapsed time.Duration) string {
	if ratio > 1 {
		ratio = 1
	}
	chars := int(math.Round(progressWidth * ratio))

	var b strings.Builder
	fmt.Fprintf(&b, "\r %d%% [%s%s] eta ", int(ratio*100),
		strings.Repeat("#", chars), strings.Repeat(" ", progressWidth-chars))

	var eta time.Duration
	if ratio > 0 {
		eta = time.Duration(float64(elapsed)/ratio) - elapsed
	}
	h := int(eta / time.Hour)
	m := int(eta/time.Minute) - 60*h
	s := int(eta/time.Second) - 60*m - 3600*h
	if h > 0 {
		fmt.Fprintf(&b, "%dh ", h)
	}
	if h > 0 || m > 0 {
		fmt.Fprintf(&b, "%dm ", m)
	}
	fmt.Fprintf(&b, "%ds", s)
	b.WriteString("          ")
	return b.String()
}
