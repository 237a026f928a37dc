// Package metrics provides the Prometheus collectors exposed on /metrics.
package metrics

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// Metrics holds all collectors of the service. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	WorkflowSteps     *prometheus.CounterVec
	Compensations     *prometheus.CounterVec
	ImageHostRequests *prometheus.CounterVec
	ImageHostDuration *prometheus.HistogramVec
	Ratings           *prometheus.CounterVec
	ViewCache         *prometheus.CounterVec
}

func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()
	m := &Metrics{registry: registry}

	m.WorkflowSteps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "treetrack_workflow_steps_total",
		Help: "Entry workflow steps by workflow, step and result.",
	}, []string{"workflow", "step", "result"})

	m.Compensations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "treetrack_workflow_compensations_total",
		Help: "Compensations run after a failed entry workflow step.",
	}, []string{"workflow", "step", "result"})

	m.ImageHostRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "treetrack_image_host_requests_total",
		Help: "Requests sent to the image host by operation and result.",
	}, []string{"operation", "result"})

	m.ImageHostDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "treetrack_image_host_request_duration_seconds",
		Help:    "Duration of image host requests in seconds.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	}, []string{"operation"})

	m.Ratings = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "treetrack_ratings_total",
		Help: "Rating submissions by outcome.",
	}, []string{"outcome"})

	m.ViewCache = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "treetrack_view_cache_lookups_total",
		Help: "View cache lookups by result.",
	}, []string{"result"})

	for _, c := range []prometheus.Collector{
		m.WorkflowSteps, m.Compensations, m.ImageHostRequests, m.ImageHostDuration, m.Ratings, m.ViewCache,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}
	return m, nil
}

func result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultSuccess
}

func (m *Metrics) ObserveWorkflowStep(workflow, step string, err error) {
	if m == nil {
		return
	}
	m.WorkflowSteps.WithLabelValues(workflow, step, result(err)).Inc()
}

func (m *Metrics) ObserveCompensation(workflow, step string, err error) {
	if m == nil {
		return
	}
	m.Compensations.WithLabelValues(workflow, step, result(err)).Inc()
}

func (m *Metrics) ObserveImageHostRequest(operation string, started time.Time, err error) {
	if m == nil {
		return
	}
	m.ImageHostRequests.WithLabelValues(operation, result(err)).Inc()
	m.ImageHostDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

// ObserveRating counts a submission outcome such as "accepted", "cooldown" or "invalid".
func (m *Metrics) ObserveRating(outcome string) {
	if m == nil {
		return
	}
	m.Ratings.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveViewCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.ViewCache.WithLabelValues("hit").Inc()
		return
	}
	m.ViewCache.WithLabelValues("miss").Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      log.New(os.Stderr, "metrics handler: ", log.LstdFlags),
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}
