package display

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"sftp-deploy/internal/progress"
)

// displayService implements the DisplayService interface
type displayService struct {
	config      *DisplayConfig
	colorSystem ColorSystem
	writer      io.Writer
	events      *EventWriter
	spinners    map[string]*spinner
	counter     int
	mu          sync.Mutex
}

// NewDisplayService creates a new display service with the given configuration
func NewDisplayService(config *DisplayConfig) DisplayService {
	if config == nil {
		config = DefaultDisplayConfig()
	}
	config.SetDefaults()

	ds := &displayService{
		config:   config,
		spinners: make(map[string]*spinner),
	}
	ds.SetOutput(config.Writer)
	return ds
}

// PrintHeader prints a formatted header
func (ds *displayService) PrintHeader(title string) {
	if ds.config.QuietMode || ds.config.Format().IsStructured() {
		return
	}

	separator := strings.Repeat("=", len(title)+4)
	header := fmt.Sprintf("%s\n  %s  \n%s", separator, title, separator)
	fmt.Fprintln(ds.writer, ds.colorSystem.Colorize(header, ds.config.GetColorTheme().Primary))
}

// PrintResult prints the terminal message of a successful operation. The
// result value is only included in structured output.
func (ds *displayService) PrintResult(summary string, result interface{}) {
	if ds.config.Format().IsStructured() {
		ds.events.Result(summary, result)
		return
	}
	ds.Success(summary)
}

// Success prints a success message
func (ds *displayService) Success(message string) {
	if ds.config.QuietMode {
		return
	}
	ds.printStatusMessage("SUCCESS", message, ds.config.GetColorTheme().Success)
}

// Warning prints a warning message
func (ds *displayService) Warning(message string) {
	if ds.config.QuietMode {
		return
	}
	ds.printStatusMessage("WARNING", message, ds.config.GetColorTheme().Warning)
}

// Error prints an error message
func (ds *displayService) Error(message string) {
	ds.printStatusMessage("ERROR", message, ds.config.GetColorTheme().Error)
}

// Info prints an info message
func (ds *displayService) Info(message string) {
	if ds.config.QuietMode {
		return
	}
	ds.printStatusMessage("INFO", message, ds.config.GetColorTheme().Info)
}

// StartSpinner starts a new spinner with the given message
func (ds *displayService) StartSpinner(message string) SpinnerHandle {
	if ds.config.QuietMode || ds.config.Format().IsStructured() || !ds.colorSystem.IsColorSupported() {
		return &noOpSpinner{}
	}

	ds.mu.Lock()
	ds.counter++
	s := &spinner{
		id:       fmt.Sprintf("spinner_%d", ds.counter),
		message:  message,
		style:    DefaultSpinnerStyles["dots"],
		writer:   ds.writer,
		colorSys: ds.colorSystem,
		theme:    ds.config.GetColorTheme(),
	}
	ds.spinners[s.id] = s
	ds.mu.Unlock()

	s.start()
	return s
}

// StopSpinner stops a spinner and optionally displays a final message
func (ds *displayService) StopSpinner(handle SpinnerHandle, finalMessage string) {
	ds.mu.Lock()
	s, ok := ds.spinners[handle.ID()]
	delete(ds.spinners, handle.ID())
	ds.mu.Unlock()

	if ok {
		s.stop(finalMessage)
		return
	}
	if finalMessage != "" {
		ds.Info(finalMessage)
	}
}

// ProgressObserver returns the sink for per-file progress events: a
// progress bar for text output, event records for structured output
func (ds *displayService) ProgressObserver(label string) progress.Observer {
	if ds.config.Format().IsStructured() {
		return ds.events
	}
	if !ds.config.IsProgressEnabled() {
		return nil
	}
	return NewProgressBar(label, ds.writer, ds.colorSystem, ds.config.GetColorTheme())
}

// SetOutput sets the output writer
func (ds *displayService) SetOutput(writer io.Writer) {
	if writer == nil {
		writer = os.Stdout
	}
	ds.writer = writer
	ds.config.Writer = writer
	ds.colorSystem = NewColorSystem(writer, ds.config.IsColorEnabled())
	ds.events = NewEventWriter(writer, ds.config.Format())
}

func (ds *displayService) printStatusMessage(level, message string, color Color) {
	if ds.config.Format().IsStructured() {
		ds.events.Status(strings.ToLower(level), message)
		return
	}

	prefix := ds.colorSystem.Colorize(fmt.Sprintf("[%s]", level), color)
	fmt.Fprintf(ds.writer, "%s %s\n", prefix, message)
}
