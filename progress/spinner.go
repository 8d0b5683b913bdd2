package progress

import (
	"strings"
	"time"
)

type Spinner struct {
	message string
	parts   []string
	value   int

	started time.Time
	stopped time.Time
}

func NewSpinner(message string) *Spinner {
	return &Spinner{
		message: message,
		parts: []string{
			"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏",
		},
		started: time.Now(),
	}
}

func (s *Spinner) String() string {
	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(s.message))

	if s.stopped.IsZero() {
		sb.WriteString(" ")
		sb.WriteString(s.parts[s.value])
	}

	return sb.String()
}

func (s *Spinner) tick() {
	if s.stopped.IsZero() {
		s.value = (s.value + 1) % len(s.parts)
	}
}

func (s *Spinner) Stop() {
	if s.stopped.IsZero() {
		s.stopped = time.Now()
	}
}

func (s *Spinner) Elapsed() time.Duration {
	if s.stopped.IsZero() {
		return time.Since(s.started)
	}
	return s.stopped.Sub(s.started)
}

var _ State = (*Spinner)(nil)
