package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestInitializeWriter(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		format  string
		wantErr bool
	}{
		{"text info", "info", "text", false},
		{"json debug", "debug", "json", false},
		{"empty format defaults to text", "warn", "", false},
		{"invalid level", "loud", "text", true},
		{"invalid format", "info", "xml", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := InitializeWriter(tt.level, tt.format, &buf)
			if (err != nil) != tt.wantErr {
				t.Fatalf("InitializeWriter() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestWithComponentJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := InitializeWriter("info", "json", &buf); err != nil {
		t.Fatalf("InitializeWriter: %v", err)
	}
	t.Cleanup(func() { _ = InitializeWriter("info", "text", &bytes.Buffer{}) })

	WithComponent("bot").WithField("ip", "203.0.113.5").Info("knock")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if entry["component"] != "bot" {
		t.Errorf("component = %v, want bot", entry["component"])
	}
	if entry["ip"] != "203.0.113.5" {
		t.Errorf("ip = %v, want 203.0.113.5", entry["ip"])
	}
}

func TestWithComponentError(t *testing.T) {
	var buf bytes.Buffer
	if err := InitializeWriter("info", "json", &buf); err != nil {
		t.Fatalf("InitializeWriter: %v", err)
	}
	t.Cleanup(func() { _ = InitializeWriter("info", "text", &bytes.Buffer{}) })

	WithComponent("main").WithError(errors.New("dns.share_url is required")).Error("failed to load configuration")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	want := map[string]interface{}{
		"component": "main",
		"error":     "dns.share_url is required",
		"level":     "error",
		"msg":       "failed to load configuration",
	}
	for k, v := range want {
		if entry[k] != v {
			t.Errorf("%s = %v, want %v", k, entry[k], v)
		}
	}
}

func TestLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	if err := InitializeWriter("warn", "text", &buf); err != nil {
		t.Fatalf("InitializeWriter: %v", err)
	}
	t.Cleanup(func() { _ = InitializeWriter("info", "text", &bytes.Buffer{}) })

	WithComponent("bot").Info("hidden")
	WithComponent("main").Warnf("shown %d", 1)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info message logged at warn level: %q", out)
	}
	if !strings.Contains(out, "shown 1") {
		t.Errorf("warn message missing: %q", out)
	}
}
