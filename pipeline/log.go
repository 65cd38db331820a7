package pipeline

import (
	"fmt"
	"sync"
	"time"
)

// LogEvent is one timestamped line of the run log
type LogEvent struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Dataset string    `json:"dataset,omitempty"`
	Message string    `json:"message"`
}

// Recorder accumulates the run log. Consecutive duplicate messages are
// collapsed so retry loops do not flood the report.
type Recorder struct {
	mu       sync.Mutex
	events   []LogEvent
	last     string
	warnings int
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) add(level, dataset, format string, args ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg := fmt.Sprintf(format, args...)
	key := level + "|" + dataset + "|" + msg
	if key == r.last {
		return
	}
	r.last = key
	if level == "warning" {
		r.warnings++
	}
	r.events = append(r.events, LogEvent{
		Time:    time.Now(),
		Level:   level,
		Dataset: dataset,
		Message: msg,
	})
}

func (r *Recorder) Info(dataset, format string, args ...interface{}) {
	r.add("info", dataset, format, args...)
}

func (r *Recorder) Warn(dataset, format string, args ...interface{}) {
	r.add("warning", dataset, format, args...)
}

func (r *Recorder) Error(dataset, format string, args ...interface{}) {
	r.add("error", dataset, format, args...)
}

// Events returns a copy of the recorded events
func (r *Recorder) Events() []LogEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]LogEvent, len(r.events))
	copy(out, r.events)
	return out
}

// Warnings returns the number of warning events recorded
func (r *Recorder) Warnings() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.warnings
}
