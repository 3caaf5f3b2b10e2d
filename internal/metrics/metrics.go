package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Recorder holds the metrics of one run. Each run gets its own registry
// so a Pushgateway push carries only that run's values.
type Recorder struct {
	registry *prometheus.Registry

	fetched     prometheus.Gauge
	summaries   *prometheus.CounterVec
	pushes      *prometheus.CounterVec
	duration    prometheus.Gauge
	lastSuccess prometheus.Gauge
}

// New creates a Recorder with a fresh registry.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		fetched: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "maildigest_fetched_records",
			Help: "Number of records fetched in the last run",
		}),
		summaries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maildigest_summaries_total",
				Help: "Summaries produced, by status",
			},
			[]string{"status"}, // ok, empty, no_block, failed
		),
		pushes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maildigest_pushes_total",
				Help: "Push results, by channel and result",
			},
			[]string{"channel", "result"}, // result: success, failed
		),
		duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "maildigest_run_duration_seconds",
			Help: "Wall time of the last run in seconds",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "maildigest_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run",
		}),
	}
	r.registry.MustRegister(r.fetched, r.summaries, r.pushes, r.duration, r.lastSuccess)
	return r
}

// Registry exposes the underlying registry, mainly for tests.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

func (r *Recorder) RecordFetched(n int) {
	r.fetched.Set(float64(n))
}

func (r *Recorder) RecordSummary(status string) {
	r.summaries.WithLabelValues(status).Inc()
}

// RecordPush counts one push result. An empty channel is recorded as "none".
func (r *Recorder) RecordPush(channel string, success bool) {
	if channel == "" {
		channel = "none"
	}
	result := "failed"
	if success {
		result = "success"
	}
	r.pushes.WithLabelValues(channel, result).Inc()
}

// Finish records the run duration and, on success, the completion time.
func (r *Recorder) Finish(start, end time.Time, success bool) {
	r.duration.Set(end.Sub(start).Seconds())
	if success {
		r.lastSuccess.Set(float64(end.Unix()))
	}
}

// Push sends the registry to a Pushgateway, replacing the group for job
// and account.
func (r *Recorder) Push(ctx context.Context, url, job, account string) error {
	p := push.New(url, job).Gatherer(r.registry)
	if account != "" {
		p = p.Grouping("account", account)
	}
	if err := p.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
