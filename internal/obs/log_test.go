package obs

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestSetLoggerRestores(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	restore := SetLogger(zap.New(core))

	Logger().Info("hello", zap.String("k", "v"))
	if logs.Len() != 1 {
		t.Fatalf("expected one entry, got %d", logs.Len())
	}
	if got := logs.All()[0].ContextMap()["k"]; got != "v" {
		t.Fatalf("unexpected field value %v", got)
	}

	restore()
	Logger().Info("after restore")
	if logs.Len() != 1 {
		t.Fatalf("restored logger still writes to observer")
	}
}

func TestNewLoggerFallsBackToInfo(t *testing.T) {
	l, err := NewLogger("not-a-level")
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	if l.Core().Enabled(zap.DebugLevel) {
		t.Fatalf("expected debug disabled")
	}
	if !l.Core().Enabled(zap.InfoLevel) {
		t.Fatalf("expected info enabled")
	}
}
