package logging

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{" WARN ", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"verbose", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestEnvOrDefault(t *testing.T) {
	t.Setenv("PRISM_TEST_VALUE", "")
	if got := EnvOrDefault("PRISM_TEST_VALUE", "fallback"); got != "fallback" {
		t.Errorf("got %q, want fallback", got)
	}
	t.Setenv("PRISM_TEST_VALUE", "set")
	if got := EnvOrDefault("PRISM_TEST_VALUE", "fallback"); got != "set" {
		t.Errorf("got %q, want set", got)
	}
}

func TestEnvDurationMs(t *testing.T) {
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"", time.Second},
		{"150", 150 * time.Millisecond},
		{"0", 0},
		{"-5", time.Second},
		{"soon", time.Second},
	}
	for _, tt := range tests {
		t.Setenv("PRISM_TEST_MS", tt.value)
		if got := EnvDurationMs("PRISM_TEST_MS", time.Second); got != tt.want {
			t.Errorf("EnvDurationMs(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestStartupLoggerLog(t *testing.T) {
	var buf bytes.Buffer
	t.Setenv(LevelEnv, "info")
	InitWithWriter(&buf)
	defer Init()

	NewStartupLogger("prism-web").
		Version("1.2.3").
		Endpoint("listen", ":8000").
		Bucket("archive", "prism-archives").
		Feature("gemini", false).
		Config("debounce", "300ms").
		InitDuration(42 * time.Millisecond).
		Log()

	var doc map[string]any
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	service, _ := doc["service"].(map[string]any)
	if service["name"] != "prism-web" || service["version"] != "1.2.3" {
		t.Errorf("service = %v", service)
	}
	if got := doc["endpoints"].(map[string]any)["listen"]; got != ":8000" {
		t.Errorf("listen = %v", got)
	}
	if got := doc["features"].(map[string]any)["gemini"]; got != false {
		t.Errorf("gemini feature = %v", got)
	}
	if doc["message"] != "Startup complete" {
		t.Errorf("message = %v", doc["message"])
	}
}
