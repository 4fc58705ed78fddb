package telemetry

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/simonmoedinger/aitab/config"
)

var (
	metricsOnce sync.Once

	runsTotal    *prometheus.CounterVec
	pollsTotal   prometheus.Counter
	stepsTotal   *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	chatTurns    prometheus.Counter
	fileLookups  *prometheus.CounterVec
)

func initMetrics() {
	runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "aitab_runs_total",
		Help: "Assistant runs driven to a terminal status, by status.",
	}, []string{"status"})
	pollsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "aitab_run_polls_total",
		Help: "Run status fetches issued while polling.",
	})
	stepsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "aitab_pipeline_steps_total",
		Help: "Pipeline steps executed, by step and outcome.",
	}, []string{"step", "outcome"})
	stepDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "aitab_pipeline_step_seconds",
		Help:    "Wall-clock duration of pipeline steps.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	}, []string{"step"})
	chatTurns = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "aitab_chat_turns_total",
		Help: "Free-form chat turns processed.",
	})
	fileLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "aitab_file_lookups_total",
		Help: "File metadata lookups, by result.",
	}, []string{"result"})
	prometheus.MustRegister(runsTotal, pollsTotal, stepsTotal, stepDuration, chatTurns, fileLookups)
}

// Telemetry records run, poll and step metrics for the analysis pipeline.
// Collectors live on the default prometheus registry and are registered
// once per process regardless of how many instances are created.
type Telemetry struct {
	config config.TelemetryConfig
	logger *log.Logger
}

// NewTelemetry creates a telemetry instance. When telemetry is enabled
// with a metrics port, a dedicated scrape listener is started once per
// process, independent of the main API listener.
func NewTelemetry(cfg config.TelemetryConfig) *Telemetry {
	metricsOnce.Do(initMetrics)
	var w io.Writer = log.Writer()
	if cfg.LogFile != "" {
		if f, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644); err == nil {
			w = io.MultiWriter(log.Writer(), f)
		}
	}
	t := &Telemetry{
		config: cfg,
		logger: log.New(w, "[TELEMETRY] ", log.LstdFlags),
	}
	if cfg.Enabled && cfg.MetricsPort > 0 {
		metricsServerOnce.Do(func() {
			go func() {
				server := &http.Server{
					Addr:              fmt.Sprintf(":%d", cfg.MetricsPort),
					Handler:           metricsMux(),
					ReadHeaderTimeout: 5 * time.Second,
				}
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					t.logger.Printf("metrics server error: %v", err)
				}
			}()
		})
	}
	return t
}

var metricsServerOnce sync.Once

// metricsMux serves the prometheus scrape endpoint.
func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Logger returns the shared telemetry logger.
func (t *Telemetry) Logger() *log.Logger { return t.logger }

// RecordRun counts one terminal run by status.
func (t *Telemetry) RecordRun(status string) {
	if t == nil {
		return
	}
	runsTotal.WithLabelValues(status).Inc()
}

// RecordPoll counts one run status fetch.
func (t *Telemetry) RecordPoll() {
	if t == nil {
		return
	}
	pollsTotal.Inc()
}

// RecordStep counts a finished pipeline step and its duration.
func (t *Telemetry) RecordStep(step string, failed bool, d time.Duration) {
	if t == nil {
		return
	}
	outcome := "ok"
	if failed {
		outcome = "failed"
	}
	stepsTotal.WithLabelValues(step, outcome).Inc()
	stepDuration.WithLabelValues(step).Observe(d.Seconds())
	if t.config.Enabled {
		t.logger.Printf("step %s finished outcome=%s in %s", step, outcome, d)
	}
}

// RecordChatTurn counts one chat turn.
func (t *Telemetry) RecordChatTurn() {
	if t == nil {
		return
	}
	chatTurns.Inc()
}

// RecordFileLookup counts one metadata lookup result ("hit", "miss", "error").
func (t *Telemetry) RecordFileLookup(result string) {
	if t == nil {
		return
	}
	fileLookups.WithLabelValues(result).Inc()
}
