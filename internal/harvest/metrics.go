package harvest

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	harvestPagesTotal      *prometheus.CounterVec
	harvestRetriesTotal    prometheus.Counter
	harvestRunsTotal       *prometheus.CounterVec
	harvestActiveFetches   prometheus.Gauge
	harvestRunDuration     prometheus.Histogram
	harvestItemsPerRun     prometheus.Histogram
	harvestFirstPagePerRun prometheus.Gauge

	metricsOnce sync.Once
)

// InitMetrics registers the Prometheus collectors for the harvest
// subsystem. It is safe to call multiple times.
func InitMetrics() {
	metricsOnce.Do(func() {
		harvestPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hnwatch_harvest_pages_total",
				Help: "Listing pages processed, labeled by outcome (ok, skipped, failed).",
			},
			[]string{"outcome"},
		)

		harvestRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "hnwatch_harvest_page_retries_total",
				Help: "Total per-page fetch retries after transient failures.",
			},
		)

		harvestRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hnwatch_harvest_runs_total",
				Help: "Harvest runs, labeled by status (ok, failed, busy, canceled).",
			},
			[]string{"status"},
		)

		harvestActiveFetches = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "hnwatch_harvest_active_fetches",
				Help: "Page fetches currently in flight.",
			},
		)

		harvestRunDuration = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "hnwatch_harvest_run_duration_seconds",
				Help:    "Histogram of complete harvest run durations.",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		)

		harvestItemsPerRun = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "hnwatch_harvest_items_per_run",
				Help:    "Distinct items observed per run.",
				Buckets: []float64{30, 60, 120, 180, 240, 300},
			},
		)

		harvestFirstPagePerRun = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "hnwatch_harvest_first_page_members",
				Help: "First-page members recorded by the most recent run.",
			},
		)
	})
}

func observePage(outcome string) {
	if harvestPagesTotal != nil {
		harvestPagesTotal.WithLabelValues(outcome).Inc()
	}
}

func observeRetry() {
	if harvestRetriesTotal != nil {
		harvestRetriesTotal.Inc()
	}
}

// ObserveRun records the terminal status of a harvest run.
func ObserveRun(status string) {
	if harvestRunsTotal != nil {
		harvestRunsTotal.WithLabelValues(status).Inc()
	}
}

func incActiveFetches() {
	if harvestActiveFetches != nil {
		harvestActiveFetches.Inc()
	}
}

func decActiveFetches() {
	if harvestActiveFetches != nil {
		harvestActiveFetches.Dec()
	}
}

func observeRunResult(durationSeconds float64, items, firstPage int) {
	if harvestRunDuration != nil {
		harvestRunDuration.Observe(durationSeconds)
	}
	if harvestItemsPerRun != nil {
		harvestItemsPerRun.Observe(float64(items))
	}
	if harvestFirstPagePerRun != nil {
		harvestFirstPagePerRun.Set(float64(firstPage))
	}
}
