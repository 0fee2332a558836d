package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// ProgressBar counts finished items out of a known total.
// Example: [==========>         ] 3/6 Probing repositories
//
// On a terminal the bar is redrawn in place; elsewhere a single line is
// written when the last item finishes. Methods are safe for concurrent use.
type ProgressBar struct {
	mu          sync.Mutex
	writer      io.Writer
	total       int
	current     int
	width       int
	description string
	finished    bool
}

// NewProgress creates a progress bar writing to stderr.
func NewProgress(total int, description string) *ProgressBar {
	return &ProgressBar{
		writer:      os.Stderr,
		total:       total,
		width:       30,
		description: description,
	}
}

// SetWriter sets the output writer (useful for testing).
func (p *ProgressBar) SetWriter(w io.Writer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writer = w
}

// Increment marks one more item finished.
func (p *ProgressBar) Increment() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current < p.total {
		p.current++
	}
	p.draw()
}

// Current returns the number of finished items.
func (p *ProgressBar) Current() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Finish fills the bar and ends the line. Later calls do nothing.
func (p *ProgressBar) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.finished {
		return
	}
	wasDone := p.current == p.total
	p.current = p.total

	if writerIsTTY(p.writer) {
		p.draw()
		fmt.Fprintln(p.writer)
	} else if !wasDone {
		p.draw()
	}
	p.finished = true
}

// draw must be called with the lock held.
func (p *ProgressBar) draw() {
	if p.finished {
		return
	}
	tty := writerIsTTY(p.writer)
	if !tty && p.current != p.total {
		return
	}

	line := fmt.Sprintf("%s %d/%d %s", p.bar(), p.current, p.total, p.description)
	if tty {
		fmt.Fprintf(p.writer, "\r%s", line)
		return
	}
	fmt.Fprintln(p.writer, line)
}

func (p *ProgressBar) bar() string {
	filled := p.width
	if p.total > 0 {
		filled = p.current * p.width / p.total
	}

	var sb strings.Builder
	sb.WriteByte('[')
	switch {
	case filled >= p.width:
		sb.WriteString(strings.Repeat("=", p.width))
	case filled > 0:
		sb.WriteString(strings.Repeat("=", filled-1))
		sb.WriteByte('>')
		sb.WriteString(strings.Repeat(" ", p.width-filled))
	default:
		sb.WriteString(strings.Repeat(" ", p.width))
	}
	sb.WriteByte(']')
	return sb.String()
}

// Spinner animates a message while work of unknown length runs.
// Example: /  Importing packagelist
//
// On a non-terminal writer the message is printed once and nothing animates.
type Spinner struct {
	mu      sync.Mutex
	writer  io.Writer
	message string
	frames  []string
	running bool
	done    chan struct{}
}

// NewSpinner creates a spinner writing to stderr. Call Start to show it.
func NewSpinner(message string) *Spinner {
	return &Spinner{
		writer:  os.Stderr,
		message: message,
		frames:  []string{"|", "/", "-", "\\"},
	}
}

// SetWriter sets the output writer (useful for testing).
func (s *Spinner) SetWriter(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writer = w
}

// Start shows the spinner. Starting a running spinner does nothing.
func (s *Spinner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true
	s.done = make(chan struct{})

	if !writerIsTTY(s.writer) {
		fmt.Fprintf(s.writer, "%s...\n", s.message)
		return
	}

	go s.animate(s.done)
}

func (s *Spinner) animate(done <-chan struct{}) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for i := 0; ; i = (i + 1) % len(s.frames) {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.mu.Lock()
			fmt.Fprintf(s.writer, "\r%s  %s", s.frames[i], s.message)
			s.mu.Unlock()
		}
	}
}

// UpdateMessage replaces the message shown next to the spinner.
func (s *Spinner) UpdateMessage(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.message = message
}

// Stop hides the spinner. Stopping a stopped spinner does nothing.
func (s *Spinner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false
	close(s.done)

	if writerIsTTY(s.writer) {
		fmt.Fprintf(s.writer, "\r%s\r", strings.Repeat(" ", len(s.message)+4))
	}
}

// StopWithMessage stops the spinner and prints message on its own line.
func (s *Spinner) StopWithMessage(message string) {
	s.Stop()
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.writer, message)
}
