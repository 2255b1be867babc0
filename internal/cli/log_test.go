package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
)

func TestNewLoggerLevels(t *testing.T) {
	tests := []struct {
		name    string
		level   log.Level
		logFunc func(*log.Logger)
		wantLog bool
	}{
		{"info at info", log.InfoLevel, func(l *log.Logger) { l.Info("saved lock") }, true},
		{"debug at info", log.InfoLevel, func(l *log.Logger) { l.Debug("probe") }, false},
		{"debug at debug", log.DebugLevel, func(l *log.Logger) { l.Debug("probe") }, true},
		{"info at warn", log.WarnLevel, func(l *log.Logger) { l.Info("saved lock") }, false},
		{"warn at warn", log.WarnLevel, func(l *log.Logger) { l.Warn("hash mismatch") }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.logFunc(newLogger(&buf, tt.level))

			if got := buf.Len() > 0; got != tt.wantLog {
				t.Errorf("got log output = %v, want %v", got, tt.wantLog)
			}
		})
	}
}

func TestProgressDone(t *testing.T) {
	var buf bytes.Buffer
	p := newProgress(newLogger(&buf, log.InfoLevel))

	p.done("added libxev", "files", 12)

	out := buf.String()
	for _, want := range []string{"added libxev", "files=12", "elapsed="} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q: %q", want, out)
		}
	}
}

func TestLoggerContext(t *testing.T) {
	if loggerFromContext(context.Background()) != log.Default() {
		t.Error("loggerFromContext without a logger should return log.Default()")
	}

	var buf bytes.Buffer
	l := newLogger(&buf, log.InfoLevel)
	ctx := withLogger(context.Background(), l)
	if loggerFromContext(ctx) != l {
		t.Fatal("loggerFromContext should return the attached logger")
	}
	loggerFromContext(ctx).Info("from context")
	if !strings.Contains(buf.String(), "from context") {
		t.Errorf("attached logger did not write: %q", buf.String())
	}
}

func TestQuietRestoresLevel(t *testing.T) {
	c := New(&bytes.Buffer{}, log.InfoLevel)

	restore := c.quiet()
	if got := c.Logger.GetLevel(); got != log.WarnLevel {
		t.Errorf("level while quiet = %v, want warn", got)
	}
	restore()
	if got := c.Logger.GetLevel(); got != log.InfoLevel {
		t.Errorf("level after restore = %v, want info", got)
	}
}
