package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	ChannelsScraped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scrape_channels_total",
		Help: "Scraped channels by outcome",
	}, []string{"status"})

	MessagesScraped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scrape_messages_total",
		Help: "Messages pulled from the source per channel",
	}, []string{"channel"})

	RateLimitWaits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scrape_rate_limit_waits_total",
		Help: "Rate-limit backoff pauses during ingestion",
	})

	ImagesProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "enrich_images_total",
		Help: "Enriched images by category",
	}, []string{"category"})

	RowsLoaded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "warehouse_rows_loaded_total",
		Help: "Rows bulk-loaded into the warehouse per table",
	}, []string{"table"})

	StageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pipeline_stage_duration_seconds",
		Help:    "Wall time per pipeline stage",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800, 3600},
	}, []string{"stage", "status"})

	RunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_runs_total",
		Help: "Completed pipeline runs by outcome",
	}, []string{"status"})

	AlertsSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "alerts_sent_total",
		Help: "Alert notifications by outcome",
	}, []string{"status"})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Duration of outbound network requests",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15, 30, 60, 120, 300},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Count of outbound network requests",
	}, []string{"component", "operation", "target", "status"})
)

// MustRegister registers all pipeline metrics.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		ChannelsScraped,
		MessagesScraped,
		RateLimitWaits,
		ImagesProcessed,
		RowsLoaded,
		StageDuration,
		RunsTotal,
		AlertsSent,
		NetworkRequestDuration,
		NetworkRequestTotal,
	)
}

// ObserveNetworkRequest records the duration and status of an outbound call.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// ObserveStage records one finished pipeline stage.
func ObserveStage(stage string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	StageDuration.WithLabelValues(stage, status).Observe(time.Since(start).Seconds())
}
