package logger

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestLoggerAvailableBeforeInit(t *testing.T) {
	if Logger() == nil {
		t.Fatal("expected a usable logger before Init")
	}
}

func TestInitSetsLevel(t *testing.T) {
	if err := Init("debug"); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	if !Logger().Core().Enabled(zapcore.DebugLevel) {
		t.Fatal("expected debug level to be enabled")
	}
}

func TestInitFallsBackOnBadLevel(t *testing.T) {
	if err := Init("not-a-level"); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	if Logger().Core().Enabled(zapcore.DebugLevel) {
		t.Fatal("expected bad level to fall back to info")
	}
}
