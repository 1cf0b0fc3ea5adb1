package observability

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewLogger_WritesJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "mtalk.log")
	logger, err := NewLogger(LoggerOptions{File: path, Level: "debug"})
	if err != nil {
		t.Fatalf("creating logger: %v", err)
	}
	logger.Debug("polling job")
	logger.Info("job finished")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log: %v", err)
	}
	out := string(data)
	for _, want := range []string{`"level":"DEBUG"`, `"msg":"job finished"`, `"timestamp"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %s:\n%s", want, out)
		}
	}
}

func TestNewLogger_LevelFilters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mtalk.log")
	logger, err := NewLogger(LoggerOptions{File: path, Level: "warn"})
	if err != nil {
		t.Fatalf("creating logger: %v", err)
	}
	logger.Info("quiet")
	logger.Warn("loud")
	_ = logger.Sync()

	data, _ := os.ReadFile(path)
	if strings.Contains(string(data), "quiet") {
		t.Error("info line should be filtered at warn level")
	}
	if !strings.Contains(string(data), "loud") {
		t.Error("warn line missing")
	}
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	if _, err := NewLogger(LoggerOptions{Level: "chatty"}); err == nil {
		t.Fatal("expected error for invalid level")
	}
}

func TestNewLogger_NoSinks(t *testing.T) {
	logger, err := NewLogger(LoggerOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	logger.Info("dropped")
}
