package feed

import (
	"encoding/json"
	"time"

	"github.com/osfoffline/osfsync/internal/mirror/events"
)

// MessageType identifies a feed message.
type MessageType string

const (
	// TypeChange is sent for every notification the worker applied or dropped.
	TypeChange MessageType = "change"

	// TypeSweep is sent when a reconciliation sweep finishes.
	TypeSweep MessageType = "sweep"

	// TypeStats carries store record counts. The latest one is also sent to
	// each client on connect.
	TypeStats MessageType = "stats"
)

// Message is one feed frame.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ChangeData describes one processed notification.
type ChangeData struct {
	Seq       uint64 `json:"seq"`
	Kind      string `json:"kind"`
	Path      string `json:"path"`
	Dest      string `json:"dest,omitempty"`
	IsDir     bool   `json:"is_dir"`
	Synthetic bool   `json:"synthetic"`
	Result    string `json:"result"`
	Error     string `json:"error,omitempty"`
}

// SweepData summarizes a sweep.
type SweepData struct {
	Planned  int           `json:"planned"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// NewChange builds a change message. result is the dispatch classification
// of err.
func NewChange(n events.Notification, result string, err error) Message {
	d := ChangeData{
		Seq:       n.Seq,
		Kind:      n.Kind.String(),
		Path:      n.SrcPath,
		Dest:      n.DestPath,
		IsDir:     n.IsDir,
		Synthetic: n.Synthetic,
		Result:    result,
	}
	if err != nil {
		d.Error = err.Error()
	}
	return newMessage(TypeChange, d)
}

// NewSweep builds a sweep message.
func NewSweep(planned int, duration time.Duration, err error) Message {
	d := SweepData{Planned: planned, Duration: duration}
	if err != nil {
		d.Error = err.Error()
	}
	return newMessage(TypeSweep, d)
}

// NewStats builds a stats message from any JSON-encodable counts.
func NewStats(stats any) Message {
	return newMessage(TypeStats, stats)
}

func newMessage(t MessageType, v any) Message {
	data, _ := json.Marshal(v)
	return Message{Type: t, Timestamp: time.Now(), Data: data}
}
