package metrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNew(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	m.EventsTotal.WithLabelValues("knock_door").Inc()
	m.RuleApplicationsTotal.WithLabelValues(Result(false)).Inc()
	m.UnauthorizedTotal.Inc()

	if got := testutil.ToFloat64(m.EventsTotal.WithLabelValues("knock_door")); got != 1 {
		t.Errorf("events_total{knock_door} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RuleApplicationsTotal.WithLabelValues("failure")); got != 1 {
		t.Errorf("rule_applications_total{failure} = %v, want 1", got)
	}

	if _, err := New(reg); err == nil {
		t.Error("registering twice should fail")
	}
}

func TestResult(t *testing.T) {
	if Result(true) != "success" || Result(false) != "failure" {
		t.Errorf("Result() labels = %q/%q", Result(true), Result(false))
	}
}

func TestServe(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	if err != nil {
		t.Fatal(err)
	}
	m.KnockAlertsTotal.Inc()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	l.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, addr, "/metrics", reg) }()

	var body string
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get("http://" + addr + "/metrics")
		if err != nil {
			time.Sleep(20 * time.Millisecond)
			continue
		}
		b, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		body = string(b)
		break
	}

	if !strings.Contains(body, "knockbot_knock_alerts_total 1") {
		t.Errorf("metrics body missing counter:\n%s", body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve() did not return after cancel")
	}
}
