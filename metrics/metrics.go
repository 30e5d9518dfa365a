// Package metrics exposes knockbot counters to Prometheus.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"knockbot/logger"
)

const namespace = "knockbot"

type Metrics struct {
	EventsTotal           *prometheus.CounterVec
	UnauthorizedTotal     prometheus.Counter
	ResolutionsTotal      *prometheus.CounterVec
	RuleApplicationsTotal *prometheus.CounterVec
	KnockAlertsTotal      prometheus.Counter
}

// New creates the counters and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		EventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Inbound Telegram commands and button taps by kind.",
		}, []string{"kind"}),
		UnauthorizedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unauthorized_total",
			Help:      "Events rejected because the sender is not an allowed user.",
		}),
		ResolutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolutions_total",
			Help:      "Dynamic-DNS lookups by result.",
		}, []string{"result"}),
		RuleApplicationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_applications_total",
			Help:      "Firewall rule applications by result.",
		}, []string{"result"}),
		KnockAlertsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "knock_alerts_total",
			Help:      "TCP SYNs from unknown sources reported to the operator.",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.EventsTotal,
		m.UnauthorizedTotal,
		m.ResolutionsTotal,
		m.RuleApplicationsTotal,
		m.KnockAlertsTotal,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}
	return m, nil
}

// Result labels a boolean outcome.
func Result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// Serve runs the metrics endpoint until ctx is cancelled.
func Serve(ctx context.Context, addr, path string, gatherer prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.WithComponent("metrics").WithError(err).Warn("shutdown failed")
		}
	}()

	logger.WithComponent("metrics").Infof("Starting metrics server on %s%s", addr, path)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
