// Package metrics exposes run counters of the dataset tools to Prometheus.
package metrics

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/menta2k/tag-trainset/pkg/imagedesc"
	"github.com/menta2k/tag-trainset/pkg/trainset"
)

const namespace = "tagtrainset"

// Recorder collects run metrics on its own registry. It implements
// trainset.Observer.
type Recorder struct {
	registry    *prometheus.Registry
	format      string
	descriptors prometheus.Counter
	samples     *prometheus.CounterVec
	positives   prometheus.Counter
	shards      prometheus.Counter
	progress    prometheus.Gauge
}

var _ trainset.Observer = (*Recorder)(nil)

// New creates a recorder labelling written samples with format.
func New(format string) *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		format:   format,
		descriptors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "descriptors_processed_total",
			Help:      "Annotated images turned into samples.",
		}),
		samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_written_total",
			Help:      "Samples handed to the dataset writer.",
		}, []string{"format"}),
		positives: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "positive_samples_total",
			Help:      "Samples classified as tags.",
		}),
		shards: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shards_flushed_total",
			Help:      "HDF5 shard files written.",
		}),
		progress: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "progress_ratio",
			Help:      "Fraction of the input processed.",
		}),
	}
	r.registry.MustRegister(r.descriptors, r.samples, r.positives, r.shards, r.progress)
	return r
}

// Registry returns the registry holding the run metrics.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *Recorder) Processed(desc *imagedesc.Desc, batch []trainset.TrainDatum) {
	r.descriptors.Inc()
	r.samples.WithLabelValues(r.format).Add(float64(len(batch)))
	var pos int
	for _, d := range batch {
		if d.IsTag() {
			pos++
		}
	}
	r.positives.Add(float64(pos))
}

func (r *Recorder) Progress(ratio float64) {
	r.progress.Set(ratio)
}

// ShardFlushed counts a written shard. It matches writer.Options.OnShard.
func (r *Recorder) ShardFlushed(path string) {
	r.shards.Inc()
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (r *Recorder) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return r.serve(ctx, ln)
}

func (r *Recorder) serve(ctx context.Context, ln net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("metrics server shutdown: %v", err)
		}
	}()

	log.Printf("Serving metrics on http://%s/metrics", ln.Addr())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
