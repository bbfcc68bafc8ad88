package observability_test

import (
	"Parimutuel/internal/observability"
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

// ============================================================================
// Test: logger fields
// ============================================================================

func TestLogger_StampsServiceAndComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := observability.NewLoggerWithOptions("engine", observability.LogOptions{Level: "info", Out: &buf})
	scoped := observability.ForMarket(logger, "TOKEN", "truthfulness")
	scoped.Info().Msg("applied")

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	want := map[string]string{
		"service":   observability.ServiceName,
		"component": "engine",
		"token":     "TOKEN",
		"facet":     "truthfulness",
		"message":   "applied",
	}
	for k, v := range want {
		if line[k] != v {
			t.Errorf("%s: got %v, want %s", k, line[k], v)
		}
	}
}

func TestLogger_WarnLevelDropsInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := observability.NewLoggerWithOptions("engine", observability.LogOptions{Level: "warn", Out: &buf})
	logger.Info().Msg("dropped")
	if buf.Len() != 0 {
		t.Errorf("info logged at warn level: %s", buf.String())
	}
	logger.Warn().Msg("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Errorf("warn line missing: %q", buf.String())
	}
}

func TestLogger_ConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := observability.NewLoggerWithOptions("migrate", observability.LogOptions{Format: "console", Out: &buf})
	logger.Info().Msg("all migrations applied")
	if json.Valid(buf.Bytes()) {
		t.Errorf("console format wrote JSON: %s", buf.String())
	}
	if !strings.Contains(buf.String(), "all migrations applied") {
		t.Errorf("message missing: %q", buf.String())
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{" WARN ", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"chatty", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := observability.ParseLogLevel(tt.in); got != tt.want {
			t.Errorf("ParseLogLevel(%q): got %s, want %s", tt.in, got, tt.want)
		}
	}
}
