package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

func newJSONLogger(buf *bytes.Buffer, level string) *Logger {
	return NewWithWriter(&Config{Level: level, Format: "json"}, "test", buf)
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	line := strings.TrimSpace(buf.String())
	var m map[string]any
	if err := json.Unmarshal([]byte(line), &m); err != nil {
		t.Fatalf("decode log line %q: %v", line, err)
	}
	return m
}

func TestServiceField(t *testing.T) {
	var buf bytes.Buffer
	newJSONLogger(&buf, "info").Info("hello")
	m := decodeLine(t, &buf)
	if m[FieldService] != "test" || m["message"] != "hello" {
		t.Errorf("entry = %v", m)
	}
}

func TestConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&Config{Level: "debug", Format: FormatConsole, NoColor: true}, "batchpredict", &buf)
	l.Warn("slow query", Fields("rows", 3))
	out := buf.String()
	for _, want := range []string{"WRN [bat]", "slow query", "rows:3"} {
		if !strings.Contains(out, want) {
			t.Errorf("console line %q lacks %q", out, want)
		}
	}
}

func TestNewInvalidLevel(t *testing.T) {
	var buf bytes.Buffer
	l := newJSONLogger(&buf, "invalid-level")
	l.Info("still logged")
	if !strings.Contains(buf.String(), "still logged") {
		t.Error("expected invalid level to fall back to info")
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := newJSONLogger(&buf, "warn")
	l.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected info to be filtered, got %q", buf.String())
	}
	l.Warn("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Error("expected warn to be written")
	}
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	l := newJSONLogger(&buf, "info").WithComponent("warehouse")
	l.Info("table written", Fields(FieldTable, "ingested_data_tf_prediction"))

	m := decodeLine(t, &buf)
	if m[FieldComponent] != "warehouse" {
		t.Errorf("expected component field, got %v", m[FieldComponent])
	}
	if m[FieldTable] != "ingested_data_tf_prediction" {
		t.Errorf("expected table field, got %v", m[FieldTable])
	}
}

func TestWithContext_RunAndStep(t *testing.T) {
	var buf bytes.Buffer
	ctx := ContextWithRun(context.Background(), "prediction", "run-1")
	ctx = ContextWithStep(ctx, "ingest-data")

	newJSONLogger(&buf, "info").WithContext(ctx).Info("running")

	m := decodeLine(t, &buf)
	if m[FieldPipeline] != "prediction" || m[FieldRunID] != "run-1" || m[FieldStep] != "ingest-data" {
		t.Errorf("unexpected context fields: %v", m)
	}
}

func TestWithContext_Empty(t *testing.T) {
	var buf bytes.Buffer
	newJSONLogger(&buf, "info").WithContext(context.Background()).Info("plain")
	m := decodeLine(t, &buf)
	if _, ok := m[FieldRunID]; ok {
		t.Error("expected no run id for empty context")
	}
}

func TestWithError(t *testing.T) {
	var buf bytes.Buffer
	newJSONLogger(&buf, "info").WithError(errors.New("boom")).Error("failed")
	m := decodeLine(t, &buf)
	if m["error"] != "boom" {
		t.Errorf("expected error field, got %v", m["error"])
	}
}

func TestNop(t *testing.T) {
	// must not panic
	Nop().Info("discarded", Fields("k", "v"))
}

func TestInit(t *testing.T) {
	prev := zlog.Logger
	t.Cleanup(func() { zlog.Logger = prev })

	Init(Config{Level: "error", Format: "json"})
	if got := zlog.Logger.GetLevel(); got != zerolog.ErrorLevel {
		t.Errorf("global level = %v", got)
	}
}

func TestWithContext_Trace(t *testing.T) {
	var buf bytes.Buffer
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: trace.TraceID{1}, SpanID: trace.SpanID{2}, TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)
	newJSONLogger(&buf, "info").WithContext(ctx).Info("traced")
	m := decodeLine(t, &buf)
	if m[FieldTraceID] != sc.TraceID().String() || m[FieldSpanID] != sc.SpanID().String() {
		t.Errorf("trace fields = %v", m)
	}
	if RunIDFromContext(ctx) != "" || StepFromContext(ContextWithStep(ctx, "s")) != "s" {
		t.Error("context accessors")
	}
}

func TestConfigApplyDefaults(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()

	if cfg.Level != "info" {
		t.Errorf("expected level 'info', got %q", cfg.Level)
	}
	if cfg.Format != FormatConsole {
		t.Errorf("expected format 'console', got %q", cfg.Format)
	}
	if cfg.Output != "stderr" {
		t.Errorf("expected output 'stderr', got %q", cfg.Output)
	}
	if !cfg.Timestamp {
		t.Error("expected Timestamp to be true")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", Config{Level: "info", Format: "json"}, false},
		{"valid console", Config{Level: "debug", Format: "console"}, false},
		{"invalid level", Config{Level: "bad", Format: "json"}, true},
		{"upper case level", Config{Level: "WARN", Format: "pretty"}, false},
		{"invalid format", Config{Level: "info", Format: "xml"}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestFieldsHelpers(t *testing.T) {
	f := Fields("a", 1, "b")
	if len(f) != 1 || f["a"] != 1 {
		t.Errorf("unexpected fields: %v", f)
	}

	sf := StepFields("batch-predict", 1500*time.Millisecond, errors.New("oom"))
	if sf[FieldStep] != "batch-predict" || sf[FieldDuration] != int64(1500) || sf[FieldError] != "oom" {
		t.Errorf("unexpected step fields: %v", sf)
	}
	if _, ok := StepFields("x", 0, nil)[FieldError]; ok {
		t.Error("expected no error field when err is nil")
	}

	ef := ErrorFields("extract", errors.New("denied"))
	if ef[FieldOperation] != "extract" || ef[FieldError] != "denied" {
		t.Errorf("unexpected error fields: %v", ef)
	}
}
