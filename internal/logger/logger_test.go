package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/zulandar/tutorline/internal/config"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"INFO", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"warning", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"", zapcore.InfoLevel},
		{"bogus", zapcore.InfoLevel},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNew_WritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tutor.log")
	log, err := New(config.LogConfig{Level: "info", File: path, Format: "json"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.Named("gateway").Info("request complete")
	log.Debug("filtered out")
	_ = log.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, `"msg":"request complete"`) {
		t.Errorf("log output = %q, want json message", out)
	}
	if !strings.Contains(out, `"logger":"gateway"`) {
		t.Errorf("log output = %q, want logger name", out)
	}
	if strings.Contains(out, "filtered out") {
		t.Errorf("debug entry should be filtered at info level: %q", out)
	}
}

func TestNop(t *testing.T) {
	Nop().Info("nothing happens")
}
