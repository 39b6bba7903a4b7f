package logger

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew_Levels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		log, err := New(level)
		if err != nil {
			t.Fatalf("level %q: %v", level, err)
		}
		if !log.Core().Enabled(zapcore.ErrorLevel) {
			t.Fatalf("level %q must keep error logging enabled", level)
		}
	}
}

func TestNew_RejectsUnknownLevel(t *testing.T) {
	if _, err := New("eror"); err == nil {
		t.Fatal("misspelled level must be rejected, not silently downgraded")
	}
}
