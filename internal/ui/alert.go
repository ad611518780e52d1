package ui

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Alerter shows warnings to the user. Implementations must be safe for
// concurrent use.
type Alerter interface {
	Warn(msg string)
}

// TerminalAlerter writes styled warnings to a terminal stream.
type TerminalAlerter struct {
	mu  sync.Mutex
	out io.Writer
	now func() time.Time
}

// NewTerminalAlerter returns an Alerter writing to out.
func NewTerminalAlerter(out io.Writer) *TerminalAlerter {
	return &TerminalAlerter{out: out, now: time.Now}
}

// Warn implements Alerter.
func (a *TerminalAlerter) Warn(msg string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fmt.Fprintf(a.out, "%s %s %s\n", RenderWarn("⚠"), RenderMuted(a.now().Format("15:04:05")), msg)
}

// RecordingAlerter keeps every alert in memory. Used by tests and dry runs.
type RecordingAlerter struct {
	mu     sync.Mutex
	alerts []string
}

// Warn implements Alerter.
func (r *RecordingAlerter) Warn(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, msg)
}

// Alerts returns a copy of the recorded alerts.
func (r *RecordingAlerter) Alerts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.alerts...)
}
