package display

import (
	"io"

	"sftp-deploy/internal/progress"
)

// DisplayService renders operator-facing output for CLI commands
type DisplayService interface {
	PrintHeader(title string)
	PrintResult(summary string, result interface{})

	// Progress indicators
	StartSpinner(message string) SpinnerHandle
	StopSpinner(handle SpinnerHandle, finalMessage string)
	ProgressObserver(label string) progress.Observer

	// Status messages
	Success(message string)
	Warning(message string)
	Error(message string)
	Info(message string)

	SetOutput(writer io.Writer)
}

// OutputFormat represents different output format options
type OutputFormat string

const (
	FormatText OutputFormat = "text"
	FormatJSON OutputFormat = "json"
	FormatYAML OutputFormat = "yaml"
)

// IsStructured reports whether output is machine-readable
func (f OutputFormat) IsStructured() bool {
	return f == FormatJSON || f == FormatYAML
}

// Color represents terminal color options
type Color int

const (
	ColorReset Color = iota
	ColorRed
	ColorGreen
	ColorYellow
	ColorBlue
	ColorCyan
	ColorWhite
	ColorBrightRed
	ColorBrightGreen
	ColorBrightYellow
	ColorBrightBlue
)

// ColorTheme defines color scheme for different message types
type ColorTheme struct {
	Primary Color
	Success Color
	Warning Color
	Error   Color
	Info    Color
	Muted   Color
}

// SpinnerHandle represents a handle to a running spinner
type SpinnerHandle interface {
	ID() string
	IsActive() bool
}

// SpinnerStyle defines the visual style of a spinner
type SpinnerStyle struct {
	Frames []string
	Delay  int // milliseconds between frames
}

// DefaultSpinnerStyles provides common spinner styles
var DefaultSpinnerStyles = map[string]SpinnerStyle{
	"dots": {
		Frames: []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"},
		Delay:  80,
	},
	"line": {
		Frames: []string{"-", "\\", "|", "/"},
		Delay:  100,
	},
}
