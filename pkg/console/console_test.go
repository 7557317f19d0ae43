package console

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, &Options{NoColor: true}))

	logger.Debug("hidden")
	logger.Info("extracting", "rows", 3)
	Success(logger.With("run", "abc"), "row extracted", "row", "Koala Habitat")
	logger.WithGroup("layer").Warn("slow service", "url", "https://h/0")
	logger.Error("row failed", "reason", `bad "value"`)

	got := strings.Split(strings.TrimSpace(buf.String()), "\n")
	want := []string{
		"extracting rows=3",
		`row extracted run=abc row="Koala Habitat"`,
		"warning: slow service layer.url=https://h/0",
		`error: row failed reason="bad \"value\""`,
	}
	if len(got) != len(want) {
		t.Fatalf("got %d lines:\n%s", len(got), buf.String())
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d = %q; want %q", i, got[i], want[i])
		}
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(&buf, LoggerOptions{Verbose: true, JSON: true}).Debug("visible", "k", "v")
	if !strings.Contains(buf.String(), `"msg":"visible"`) {
		t.Errorf("JSON output = %q", buf.String())
	}

	buf.Reset()
	NewLogger(&buf, LoggerOptions{NoColor: true}).Debug("hidden")
	if buf.Len() != 0 {
		t.Errorf("debug logged without verbose: %q", buf.String())
	}
}

func TestArea(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{850, "850 m²"},
		{12500, "1.25 ha"},
		{1234500, "123.45 ha"},
	}
	for _, tt := range tests {
		if got := Area(tt.in); got != tt.want {
			t.Errorf("Area(%v) = %q; want %q", tt.in, got, tt.want)
		}
	}
	if Count(12345) != "12,345" {
		t.Errorf("Count = %q", Count(12345))
	}
}
