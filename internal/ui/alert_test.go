package ui

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestTerminalAlerter_Warn(t *testing.T) {
	DisableColor()

	var buf bytes.Buffer
	a := NewTerminalAlerter(&buf)
	a.now = func() time.Time { return time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC) }

	a.Warn("cannot move a project")

	got := buf.String()
	if !strings.Contains(got, "09:30:00 cannot move a project") {
		t.Errorf("Warn() wrote %q", got)
	}
}

func TestRecordingAlerter(t *testing.T) {
	var r RecordingAlerter
	r.Warn("one")
	r.Warn("two")

	alerts := r.Alerts()
	if len(alerts) != 2 || alerts[0] != "one" || alerts[1] != "two" {
		t.Errorf("Alerts() = %v", alerts)
	}

	alerts[0] = "mutated"
	if r.Alerts()[0] != "one" {
		t.Error("Alerts() should return a copy")
	}
}
