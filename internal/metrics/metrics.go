// Package metrics exports execution metrics to Prometheus.
package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mntdata"

// Recorder records execution metrics. A nil Recorder is a no-op.
type Recorder struct {
	executions *promclient.CounterVec
	duration   promclient.Histogram
	links      *promclient.CounterVec
	outputs    promclient.Counter
	gatherer   promclient.Gatherer
}

// New registers the collectors on reg, reusing collectors that are already
// registered. A nil reg uses a fresh registry.
func New(reg *promclient.Registry) (*Recorder, error) {
	if reg == nil {
		reg = promclient.NewRegistry()
	}

	executions, err := register(reg, promclient.NewCounterVec(promclient.CounterOpts{
		Namespace: namespace,
		Name:      "executions_total",
		Help:      "Executions by outcome (done, failed, timeout).",
	}, []string{"outcome"}))
	if err != nil {
		return nil, err
	}
	duration, err := register(reg, promclient.NewHistogram(promclient.HistogramOpts{
		Namespace: namespace,
		Name:      "execution_duration_seconds",
		Help:      "Wall time of executions including workspace preparation.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}))
	if err != nil {
		return nil, err
	}
	links, err := register(reg, promclient.NewCounterVec(promclient.CounterOpts{
		Namespace: namespace,
		Name:      "links_total",
		Help:      "Workspace attachment outcomes by kind (symlinked, copied, skipped, failed).",
	}, []string{"kind"}))
	if err != nil {
		return nil, err
	}
	outputs, err := register(reg, promclient.NewCounter(promclient.CounterOpts{
		Namespace: namespace,
		Name:      "outputs_registered_total",
		Help:      "Generated output files registered in the catalog.",
	}))
	if err != nil {
		return nil, err
	}

	return &Recorder{
		executions: executions,
		duration:   duration,
		links:      links,
		outputs:    outputs,
		gatherer:   reg,
	}, nil
}

func register[C promclient.Collector](reg promclient.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are promclient.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		var zero C
		return zero, fmt.Errorf("register metric: %w", err)
	}
	return c, nil
}

// Execution records one finished execution.
func (r *Recorder) Execution(outcome string, d time.Duration) {
	if r == nil {
		return
	}
	r.executions.WithLabelValues(outcome).Inc()
	r.duration.Observe(d.Seconds())
}

// Link records one attachment outcome.
func (r *Recorder) Link(kind string) {
	if r == nil {
		return
	}
	r.links.WithLabelValues(kind).Inc()
}

// OutputsRegistered adds n registered outputs.
func (r *Recorder) OutputsRegistered(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.outputs.Add(float64(n))
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}
