package display

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"gopkg.in/yaml.v3"

	"sftp-deploy/internal/progress"
)

// ProgressEventName is the event name UI consumers subscribe to
const ProgressEventName = "deploy-progress"

type progressEvent struct {
	Event      string  `json:"event" yaml:"event"`
	Current    int     `json:"current" yaml:"current"`
	Total      int     `json:"total" yaml:"total"`
	Percentage float64 `json:"percentage" yaml:"percentage"`
}

type statusEvent struct {
	Event   string `json:"event" yaml:"event"`
	Level   string `json:"level" yaml:"level"`
	Message string `json:"message" yaml:"message"`
}

type resultEvent struct {
	Event   string      `json:"event" yaml:"event"`
	Summary string      `json:"summary" yaml:"summary"`
	Result  interface{} `json:"result,omitempty" yaml:"result,omitempty"`
}

// EventWriter writes one machine-readable record per event: a JSON line, or
// a YAML document
type EventWriter struct {
	writer io.Writer
	format OutputFormat
	mu     sync.Mutex
}

// NewEventWriter creates an event writer for a structured format
func NewEventWriter(w io.Writer, format OutputFormat) *EventWriter {
	if format != FormatYAML {
		format = FormatJSON
	}
	return &EventWriter{writer: w, format: format}
}

// OnProgress implements progress.Observer
func (ew *EventWriter) OnProgress(e progress.Event) {
	ew.write(progressEvent{
		Event:      ProgressEventName,
		Current:    e.Current,
		Total:      e.Total,
		Percentage: e.Percentage,
	})
}

// Status writes a status message record
func (ew *EventWriter) Status(level, message string) {
	ew.write(statusEvent{Event: "status", Level: level, Message: message})
}

// Result writes the final record of an operation
func (ew *EventWriter) Result(summary string, result interface{}) {
	ew.write(resultEvent{Event: "result", Summary: summary, Result: result})
}

func (ew *EventWriter) write(v interface{}) {
	ew.mu.Lock()
	defer ew.mu.Unlock()

	if ew.format == FormatYAML {
		data, err := yaml.Marshal(v)
		if err != nil {
			fmt.Fprintf(ew.writer, "# error formatting YAML: %v\n", err)
			return
		}
		fmt.Fprintf(ew.writer, "---\n%s", data)
		return
	}

	data, err := json.Marshal(v)
	if err != nil {
		fmt.Fprintf(ew.writer, "{\"event\":\"error\",\"message\":%q}\n", err.Error())
		return
	}
	fmt.Fprintf(ew.writer, "%s\n", data)
}
