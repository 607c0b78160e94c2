package main

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rpgkernel/internal/config"
	"rpgkernel/internal/core"
	"rpgkernel/pkg/domain"
)

type metricsBackend struct {
	recorder core.MetricsRecorder
	handler  http.Handler
}

// newMetrics builds the configured recorder, hooks its per-rule counters
// into engine and returns the handler exposing it.
func newMetrics(cfg config.Config, engine *domain.RulesEngine) (metricsBackend, error) {
	switch cfg.Metrics {
	case config.MetricsPrometheus:
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		rec, err := core.NewPrometheusMetricsRecorder(reg)
		if err != nil {
			return metricsBackend{}, fmt.Errorf("prometheus metrics: %w", err)
		}
		engine.AddHook(rec.RuleHook())
		return metricsBackend{recorder: rec, handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})}, nil
	case config.MetricsExpvar:
		rec := core.NewExpvarMetricsRecorder("")
		engine.AddHook(rec.RuleHook())
		return metricsBackend{recorder: rec, handler: expvar.Handler()}, nil
	default:
		return metricsBackend{}, nil
	}
}

// serveMetrics serves handler on addr under /metrics and returns the bound
// address and a shutdown func.
func serveMetrics(addr string, handler http.Handler) (string, func(context.Context) error, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, fmt.Errorf("listen metrics: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			_ = ln.Close()
		}
	}()
	return ln.Addr().String(), srv.Shutdown, nil
}
