package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	logger, err := New("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if logger == nil {
		t.Fatalf("expected logger instance")
	}
	if logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("expected debug to be disabled by default")
	}
	_ = logger.Sync()
}

func TestNewWithLevel(t *testing.T) {
	logger, err := New("debug")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("expected debug to be enabled")
	}

	if _, err := New("loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}
