// Package metrics exposes the worker's Prometheus series and serves
// them over a background HTTP server entirely decoupled from the
// reactor goroutine: it only ever touches the atomic counters/gauges
// below, never CheckTable or KeepAlivePool directly.
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/alepersan/hckworker/internal/proto"
)

var (
	ChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hckworker_checks_total",
			Help: "Total checks completed, by verdict",
		},
		[]string{"verdict"},
	)

	DialsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hckworker_dials_total",
			Help: "Total outbound dials, by whether TFO was used",
		},
		[]string{"tfo"},
	)

	TFOFallbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hckworker_tfo_fallbacks_total",
			Help: "Total TFO dials that fell back to a classical connect",
		},
	)

	PoolSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hckworker_pool_size",
			Help: "Current number of idle pooled keep-alive connections",
		},
	)

	InflightChecks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hckworker_inflight_checks",
			Help: "Current number of checks not yet resolved to a verdict",
		},
	)

	SweepEvictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hckworker_sweep_evictions_total",
			Help: "Total entries evicted by the expiry sweeper, by reason",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(ChecksTotal)
	prometheus.MustRegister(DialsTotal)
	prometheus.MustRegister(TFOFallbacksTotal)
	prometheus.MustRegister(PoolSize)
	prometheus.MustRegister(InflightChecks)
	prometheus.MustRegister(SweepEvictionsTotal)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Recorder implements checkengine.MetricsRecorder against the package
// vars above.
type Recorder struct{}

func (Recorder) RecordCheck(v proto.Verdict) {
	ChecksTotal.WithLabelValues(verdictLabel(v)).Inc()
}

func (Recorder) RecordDial(tfo bool) {
	DialsTotal.WithLabelValues(boolLabel(tfo)).Inc()
}

func (Recorder) RecordTFOFallback() { TFOFallbacksTotal.Inc() }

func (Recorder) RecordSweepEviction(reason string) {
	SweepEvictionsTotal.WithLabelValues(reason).Inc()
}

func (Recorder) SetPoolSize(n int) { PoolSize.Set(float64(n)) }

func (Recorder) SetInflight(n int) { InflightChecks.Set(float64(n)) }

func verdictLabel(v proto.Verdict) string {
	switch v {
	case proto.VerdictOK:
		return "ok"
	case proto.VerdictRetry:
		return "retry"
	case proto.VerdictClientError:
		return "client_error"
	default:
		return "fail"
	}
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// ServeBackground starts the scrape endpoint on addr in a background
// goroutine. An empty addr is a no-op, matching config's "empty
// disables metrics" contract. Bind failures are logged, not fatal —
// the worker runs fine without a scrape target.
func ServeBackground(addr string, log zerolog.Logger) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn().Err(err).Str("addr", addr).Msg("metrics server stopped")
		}
	}()
}
