package schedule

import (
	"fmt"
	"testing"
	"time"
)

func TestParseCron(t *testing.T) {
	raw := `{"kind":"cron","cron_expr":"0 9 * * *"}`
	s, err := Parse(raw)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if s.Kind != "cron" {
		t.Errorf("expected kind 'cron', got '%s'", s.Kind)
	}
	if s.CronExpr != "0 9 * * *" {
		t.Errorf("expected cron expr '0 9 * * *', got '%s'", s.CronExpr)
	}
}

func TestParseInterval(t *testing.T) {
	raw := `{"kind":"interval","interval_ms":60000}`
	s, err := Parse(raw)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if s.Kind != "interval" {
		t.Errorf("expected kind 'interval', got '%s'", s.Kind)
	}
	if s.IntervalMs != 60000 {
		t.Errorf("expected interval_ms 60000, got %d", s.IntervalMs)
	}
}

func TestNextRunCron(t *testing.T) {
	raw := `{"kind":"cron","cron_expr":"* * * * *"}`
	next := NextRun(raw)
	if next == nil {
		t.Fatal("expected next run time, got nil")
	}
	if next.Before(time.Now()) {
		t.Error("expected next run in the future")
	}
}

func TestNextRunInterval(t *testing.T) {
	raw := `{"kind":"interval","interval_ms":60000}`
	next := NextRun(raw)
	if next == nil {
		t.Fatal("expected next run time, got nil")
	}
	expected := time.Now().Add(60 * time.Second)
	diff := next.Sub(expected)
	if diff > time.Second || diff < -time.Second {
		t.Errorf("expected next run ~60s from now, got diff %v", diff)
	}
}

func TestNextRunOnce(t *testing.T) {
	future := time.Now().Add(1 * time.Hour).UnixMilli()
	raw := fmt.Sprintf(`{"kind":"once","at_ms":%d}`, future)
	next := NextRun(raw)
	if next == nil {
		t.Fatal("expected next run time, got nil")
	}

	// Past time should return nil
	past := time.Now().Add(-1 * time.Hour).UnixMilli()
	raw = fmt.Sprintf(`{"kind":"once","at_ms":%d}`, past)
	next = NextRun(raw)
	if next != nil {
		t.Error("expected nil for past once schedule")
	}
}

func TestNextRunInvalid(t *testing.T) {
	next := NextRun(`invalid json`)
	if next != nil {
		t.Error("expected nil for invalid schedule")
	}

	next = NextRun(`{"kind":"unknown"}`)
	if next != nil {
		t.Error("expected nil for unknown kind")
	}
}

func TestNormalizePlainCron(t *testing.T) {
	result, err := Normalize("0 9 * * *")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s, err := Parse(result)
	if err != nil {
		t.Fatalf("result not valid JSON: %v", err)
	}
	if s.Kind != "cron" {
		t.Errorf("expected kind 'cron', got '%s'", s.Kind)
	}
	if s.CronExpr != "0 9 * * *" {
		t.Errorf("expected cron_expr '0 9 * * *', got '%s'", s.CronExpr)
	}
}

func TestNormalizeEveryMinute(t *testing.T) {
	result, err := Normalize("* * * * *")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s, err := Parse(result)
	if err != nil {
		t.Fatalf("result not valid JSON: %v", err)
	}
	if s.Kind != "cron" || s.CronExpr != "* * * * *" {
		t.Errorf("unexpected result: %+v", s)
	}
}

func TestNormalizePassthroughJSON(t *testing.T) {
	input := `{"kind":"cron","cron_expr":"0 9 * * *"}`
	result, err := Normalize(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != input {
		t.Errorf("expected passthrough, got '%s'", result)
	}
}

func TestNormalizeIntervalJSON(t *testing.T) {
	input := `{"kind":"interval","interval_ms":300000}`
	result, err := Normalize(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != input {
		t.Errorf("expected passthrough, got '%s'", result)
	}
}

func TestNormalizeInvalid(t *testing.T) {
	_, err := Normalize("not a cron")
	if err == nil {
		t.Error("expected error for invalid input")
	}
}

func TestNormalizeInvalidCronInJSON(t *testing.T) {
	_, err := Normalize(`{"kind":"cron","cron_expr":"bad"}`)
	if err == nil {
		t.Error("expected error for invalid cron in JSON")
	}
}

func TestNormalizeUnknownKind(t *testing.T) {
	_, err := Normalize(`{"kind":"bogus"}`)
	if err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestNormalizeWithWhitespace(t *testing.T) {
	result, err := Normalize("  */5 * * * *  ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s, err := Parse(result)
	if err != nil {
		t.Fatalf("result not valid JSON: %v", err)
	}
	if s.CronExpr != "*/5 * * * *" {
		t.Errorf("expected trimmed cron, got '%s'", s.CronExpr)
	}
}
