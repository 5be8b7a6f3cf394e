package models

import "time"

// LogLine is one line emitted by a pipeline task.
type LogLine struct {
	Timestamp time.Time         `json:"timestamp"`
	Message   string            `json:"message"`
	Labels    map[string]string `json:"labels,omitempty"`
	Level     string            `json:"level,omitempty"`
	Task      string            `json:"task,omitempty"`
}
