package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/aussiegw/gateway/internal/config"
)

func TestNewLevels(t *testing.T) {
	tests := []struct {
		level   string
		wantLvl zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"", zapcore.InfoLevel},
		{"unknown", zapcore.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			l, closer, err := New(config.LoggingConfig{Level: tt.level})
			if err != nil {
				t.Fatalf("New(%q): %v", tt.level, err)
			}
			if l == nil {
				t.Fatalf("New(%q) returned nil logger", tt.level)
			}
			if closer != nil {
				t.Fatalf("New(%q) returned non-nil closer for stdout", tt.level)
			}
		})
	}
}

func TestNewFileOutputRotates(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "gateway.log")

	l, closer, err := New(config.LoggingConfig{
		Level:      "info",
		Output:     logFile,
		MaxSizeMB:  1,
		MaxBackups: 1,
		MaxAgeDays: 1,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if closer == nil {
		t.Fatal("expected a non-nil closer for file output")
	}
	defer closer.Close()

	l.WithOptions(zap.AddCallerSkip(-1)).Info("hello file")
	l.Sync()

	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), "hello file") {
		t.Fatalf("log file missing expected message, got: %s", data)
	}
}

func TestGlobalAndSetGlobal(t *testing.T) {
	original := Global()
	defer SetGlobal(original)

	core, obs := observer.New(zapcore.InfoLevel)
	SetGlobal(zap.New(core))

	Info("test message", zap.String("key", "value"))

	entries := obs.All()
	if len(entries) != 1 || entries[0].Message != "test message" {
		t.Fatalf("expected 1 entry with the logged message, got %+v", entries)
	}
}

func TestLevelFiltering(t *testing.T) {
	original := Global()
	defer SetGlobal(original)

	core, obs := observer.New(zapcore.WarnLevel)
	SetGlobal(zap.New(core))

	Debug("should not appear")
	Info("should not appear")
	Warn("should appear")
	Error("should appear")

	if got := len(obs.All()); got != 2 {
		t.Fatalf("expected 2 entries at warn level, got %d", got)
	}
}

func TestRegistryLoggerAdaptsWarnAndError(t *testing.T) {
	core, obs := observer.New(zapcore.DebugLevel)
	rl := RegistryLogger{L: zap.New(core)}

	rl.Warn("refresh degraded", "attempt", 2)
	rl.Error("refresh failed", "err", "timeout")

	entries := obs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Level != zapcore.WarnLevel || entries[1].Level != zapcore.ErrorLevel {
		t.Fatalf("unexpected levels: %v, %v", entries[0].Level, entries[1].Level)
	}
}
