package metrics

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	stageDuration     *prom.HistogramVec
	stageResults      *prom.CounterVec
	runOutcomes       *prom.CounterVec
	publishResults    *prom.CounterVec
	gitRetries        prom.Counter
	coursesConfigured prom.Gauge
}

// NewPrometheusRecorder constructs and registers Prometheus metrics on the
// given registry (a fresh registry when nil).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		stageDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "coursesync",
			Name:      "stage_duration_seconds",
			Help:      "Duration of individual pipeline stages",
			Buckets:   prom.DefBuckets,
		}, []string{"stage"}),
		stageResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "coursesync",
			Name:      "stage_results_total",
			Help:      "Stage result counts by outcome",
		}, []string{"stage", "result"}),
		runOutcomes: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "coursesync",
			Name:      "run_outcomes_total",
			Help:      "Course runs by final status",
		}, []string{"outcome"}),
		publishResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "coursesync",
			Name:      "publish_results_total",
			Help:      "Symlink publication outcomes",
		}, []string{"result"}),
		gitRetries: prom.NewCounter(prom.CounterOpts{
			Namespace: "coursesync",
			Name:      "git_retries_total",
			Help:      "Retried git operations (transient failures)",
		}),
		coursesConfigured: prom.NewGauge(prom.GaugeOpts{
			Namespace: "coursesync",
			Name:      "courses_configured",
			Help:      "Number of courses in the active configuration",
		}),
	}
	reg.MustRegister(pr.stageDuration, pr.stageResults, pr.runOutcomes, pr.publishResults, pr.gitRetries, pr.coursesConfigured)
	return pr
}

func (pr *PrometheusRecorder) ObserveStage(stage string, d time.Duration, success bool) {
	pr.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
	result := "success"
	if !success {
		result = "failure"
	}
	pr.stageResults.WithLabelValues(stage, result).Inc()
}

func (pr *PrometheusRecorder) RunOutcome(outcome string) {
	pr.runOutcomes.WithLabelValues(outcome).Inc()
}

func (pr *PrometheusRecorder) PublishResult(result string) {
	pr.publishResults.WithLabelValues(result).Inc()
}

func (pr *PrometheusRecorder) GitRetry() { pr.gitRetries.Inc() }

func (pr *PrometheusRecorder) SetCoursesConfigured(n int) { pr.coursesConfigured.Set(float64(n)) }
