package metrics

import (
	"context"
	"image"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/menta2k/tag-trainset/pkg/imagedesc"
	"github.com/menta2k/tag-trainset/pkg/tag"
	"github.com/menta2k/tag-trainset/pkg/trainset"
)

func batch() []trainset.TrainDatum {
	p := image.NewGray(image.Rect(0, 0, 4, 4))
	return []trainset.TrainDatum{
		trainset.NewTrainDatum("a.png", p, image.Pt(1, 1), 0, 1, tag.IsTag),
		trainset.NewTrainDatum("a.png", p, image.Pt(9, 9), 0, 0.1, tag.NoTag),
		trainset.NewTrainDatum("a.png", p, image.Pt(5, 5), 0, 0.9, tag.IsTag),
	}
}

// value reads a single-series metric from the recorder registry.
func value(t *testing.T, r *Recorder, name string) float64 {
	t.Helper()
	mfs, err := r.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name || len(mf.GetMetric()) == 0 {
			continue
		}
		m := mf.GetMetric()[0]
		if c := m.GetCounter(); c != nil {
			return c.GetValue()
		}
		return m.GetGauge().GetValue()
	}
	t.Fatalf("Metric %s not found", name)
	return 0
}

func TestRecorder(t *testing.T) {
	r := New("hdf5")
	desc := imagedesc.New("a.png")
	r.Processed(desc, batch())
	r.Processed(desc, batch()[:1])
	r.Progress(0.5)
	r.ShardFlushed("shard_0.hdf5")

	if got := value(t, r, "tagtrainset_descriptors_processed_total"); got != 2 {
		t.Errorf("Expected 2 descriptors, got %v", got)
	}
	if got := value(t, r, "tagtrainset_samples_written_total"); got != 4 {
		t.Errorf("Expected 4 samples, got %v", got)
	}
	if got := value(t, r, "tagtrainset_positive_samples_total"); got != 3 {
		t.Errorf("Expected 3 positives, got %v", got)
	}
	if got := value(t, r, "tagtrainset_shards_flushed_total"); got != 1 {
		t.Errorf("Expected 1 shard, got %v", got)
	}
	if got := value(t, r, "tagtrainset_progress_ratio"); got != 0.5 {
		t.Errorf("Expected progress 0.5, got %v", got)
	}
}

func TestHandler(t *testing.T) {
	r := New("kv")
	r.Processed(imagedesc.New("a.png"), batch())

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		`tagtrainset_samples_written_total{format="kv"} 3`,
		"tagtrainset_descriptors_processed_total 1",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("Expected %q in exposition:\n%s", want, body)
		}
	}
}

func TestServe(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	r := New("images")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "tagtrainset_progress_ratio") {
		t.Errorf("Expected progress gauge in exposition")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
