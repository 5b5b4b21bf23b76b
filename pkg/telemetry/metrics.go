// See:
//   https://godoc.org/github.com/prometheus/client_golang/prometheus/push#Pusher.Push
//   https://prometheus.io/docs/instrumenting/pushing/
package telemetry

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"k8s.io/klog/klogr"
)

// Metrics accumulates the outcome and duration of each deployment step
// over a single run and delivers them to a push gateway afterwards.
//
// Recommended usage is with https://github.com/weaveworks/prom-aggregation-gateway for aggregating counts and histograms
type Metrics struct {
	Logger logr.Logger

	gateway string
	job     string
	steps   *MetricSet

	histogramOpts []HistogramOption
}

type Option interface {
	SetOption(m *Metrics) error
}

func Logger(logger logr.Logger) Option {
	return &loggerOption{l: logger}
}

type loggerOption struct {
	l logr.Logger
}

func (o *loggerOption) SetOption(m *Metrics) error {
	m.Logger = o.l
	return nil
}

// Buckets overrides the default histogram buckets, which suit
// second-to-minute step durations poorly when deployments are fast.
func Buckets(buckets []float64) Option {
	return &bucketsOption{b: buckets}
}

type bucketsOption struct {
	b []float64
}

func (o *bucketsOption) SetOption(m *Metrics) error {
	m.histogramOpts = append(m.histogramOpts, WithHistogramBuckets(o.b))
	return nil
}

// New returns a Metrics pushing to the gateway under the given job name.
// gateway can be something like http://pushgateway:9091 (for pushgateway)
// or http://pushgateway:9091/api/ui (for weaveworks/prom-aggregation-gateway)
func New(gateway, job string, opts ...Option) (*Metrics, error) {
	m := &Metrics{
		gateway: gateway,
		job:     job,
		steps:   NewMetricSet("ship", []string{"step"}),
	}
	for i := range opts {
		if err := opts[i].SetOption(m); err != nil {
			return nil, err
		}
	}
	if m.Logger == nil {
		m.Logger = klogr.New()
	}
	m.steps.EnableHandlingTimeHistogram(m.histogramOpts...)
	return m, nil
}

// Observe records one completed deployment step.
func (m *Metrics) Observe(step, status string, start, end time.Time) {
	m.steps.Observe(start, end, status, []string{step})
}

// Push delivers everything recorded so far to the gateway.
func (m *Metrics) Push(ctx context.Context) error {
	m.Logger.V(1).Info("pushing metrics", "gateway", m.gateway, "job", m.job)
	return push.New(m.gateway, m.job).
		Collector(m).
		Push()
}

// Describe sends the super-set of all possible descriptors of metrics
// collected by this Collector to the provided channel and returns once
// the last descriptor has been sent.
func (m *Metrics) Describe(ch chan<- *prom.Desc) {
	m.steps.Describe(ch)
}

// Collect is called by the Prometheus registry when collecting
// metrics. The implementation sends each collected metric via the
// provided channel and returns once the last metric has been sent.
func (m *Metrics) Collect(ch chan<- prom.Metric) {
	m.steps.Collect(ch)
}
