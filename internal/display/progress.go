package display

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"

	"sftp-deploy/internal/progress"
)

const (
	defaultBarWidth = 40
	minBarWidth     = 10
)

// spinner implements SpinnerHandle interface
type spinner struct {
	id       string
	message  string
	style    SpinnerStyle
	active   bool
	writer   io.Writer
	colorSys ColorSystem
	theme    ColorTheme
	stopCh   chan struct{}
	doneCh   chan struct{}
	mu       sync.RWMutex
}

// ID returns the spinner's unique identifier
func (s *spinner) ID() string {
	return s.id
}

// IsActive returns whether the spinner is currently running
func (s *spinner) IsActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

func (s *spinner) start() {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return
	}
	s.active = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	go s.animate()
}

func (s *spinner) stop(finalMessage string) {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.active = false
	close(s.stopCh)
	s.mu.Unlock()

	<-s.doneCh

	clearLine(s.writer)
	if finalMessage != "" {
		fmt.Fprintln(s.writer, finalMessage)
	}
}

func (s *spinner) animate() {
	defer close(s.doneCh)

	ticker := time.NewTicker(time.Duration(s.style.Delay) * time.Millisecond)
	defer ticker.Stop()

	frameIndex := 0
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			frame := s.style.Frames[frameIndex%len(s.style.Frames)]
			s.mu.RLock()
			message := s.message
			s.mu.RUnlock()

			clearLine(s.writer)
			fmt.Fprintf(s.writer, "\r%s %s", s.colorSys.Colorize(frame, s.theme.Primary), message)
			frameIndex++
		}
	}
}

// noOpSpinner is a no-operation spinner for quiet and structured output
type noOpSpinner struct{}

func (n *noOpSpinner) ID() string {
	return "noop"
}

func (n *noOpSpinner) IsActive() bool {
	return false
}

func clearLine(w io.Writer) {
	fmt.Fprint(w, "\r\033[K")
}

// ProgressBar draws file-count progress on a single terminal line
type ProgressBar struct {
	label    string
	width    int
	writer   io.Writer
	colorSys ColorSystem
	theme    ColorTheme
	mu       sync.Mutex
}

// NewProgressBar creates a progress bar sized to the terminal behind writer
func NewProgressBar(label string, writer io.Writer, colorSys ColorSystem, theme ColorTheme) *ProgressBar {
	return &ProgressBar{
		label:    label,
		width:    barWidth(writer),
		writer:   writer,
		colorSys: colorSys,
		theme:    theme,
	}
}

// barWidth leaves room for the label and counters on narrow terminals
func barWidth(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return defaultBarWidth
	}
	cols, _, err := term.GetSize(int(f.Fd()))
	if err != nil {
		return defaultBarWidth
	}
	width := cols - 40
	if width > defaultBarWidth {
		width = defaultBarWidth
	}
	if width < minBarWidth {
		width = minBarWidth
	}
	return width
}

// OnProgress implements progress.Observer
func (pb *ProgressBar) OnProgress(e progress.Event) {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	fmt.Fprint(pb.writer, pb.render(e))
	if e.Done() {
		fmt.Fprintln(pb.writer)
	}
}

func (pb *ProgressBar) render(e progress.Event) string {
	percentage := e.Percentage
	if percentage > 100 {
		percentage = 100
	}

	filledWidth := 0
	if e.Total > 0 {
		filledWidth = pb.width * e.Current / e.Total
	}
	if filledWidth > pb.width {
		filledWidth = pb.width
	}

	filled := pb.colorSys.Colorize(strings.Repeat("█", filledWidth), pb.theme.Success)
	empty := pb.colorSys.Colorize(strings.Repeat("░", pb.width-filledWidth), pb.theme.Muted)

	return fmt.Sprintf("\r%s [%s%s] %5.1f%% (%d/%d)", pb.label, filled, empty, percentage, e.Current, e.Total)
}
