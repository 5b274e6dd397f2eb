package console

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func fixedLogger(out, errOut *bytes.Buffer) *Logger {
	l := NewWriter(out, errOut)
	l.now = func() time.Time { return time.Date(2024, 1, 2, 15, 4, 5, 0, time.UTC) }
	return l
}

func TestLoggerLevels(t *testing.T) {
	var out, errOut bytes.Buffer
	l := fixedLogger(&out, &errOut)

	l.Info("Bundling %d assets", 3)
	l.Warn("slow")
	l.Success("done")
	l.Error("prerender failed: %s", "boom")

	wantOut := "[15:04:05] INFO Bundling 3 assets\n[15:04:05] WARN slow\n[15:04:05] OK done\n"
	if out.String() != wantOut {
		t.Errorf("stdout = %q, want %q", out.String(), wantOut)
	}
	if errOut.String() != "[15:04:05] ERROR prerender failed: boom\n" {
		t.Errorf("stderr = %q", errOut.String())
	}
}

func TestLoggerPrefix(t *testing.T) {
	var out, errOut bytes.Buffer
	l := fixedLogger(&out, &errOut).WithPrefix("watch")
	l.Info("content changed")
	if !strings.HasSuffix(out.String(), "INFO watch: content changed\n") {
		t.Errorf("stdout = %q", out.String())
	}
}

func TestLoggerColor(t *testing.T) {
	var out, errOut bytes.Buffer
	l := fixedLogger(&out, &errOut)
	l.color = true
	l.Error("x")
	if !strings.Contains(errOut.String(), colorRed+"ERROR"+colorReset) {
		t.Errorf("stderr = %q, want red level tag", errOut.String())
	}
}

func TestNilLogger(t *testing.T) {
	var l *Logger
	l.Info("ignored")
}
