// Package progress renders a single updating status line on terminals.
// On non-terminal writers each state change is printed as a plain line
// instead, so piped output stays readable.
package progress

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/term"
)

type State interface {
	String() string
}

type Progress struct {
	mu sync.Mutex

	// buffer output to minimize flickering
	w     *bufio.Writer
	isTTY bool

	ticker *time.Ticker
	done   chan struct{}
	state  State
}

func NewProgress(w io.Writer) *Progress {
	p := &Progress{w: bufio.NewWriter(w), done: make(chan struct{})}
	if f, ok := w.(*os.File); ok {
		p.isTTY = term.IsTerminal(int(f.Fd()))
	}

	if p.isTTY {
		p.ticker = time.NewTicker(100 * time.Millisecond)
		go p.start()
	}
	return p
}

// Set replaces the current state. Each state owns one line of output.
func (p *Progress) Set(state State) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if prev := p.state; prev != nil && !p.isTTY {
		fmt.Fprintln(p.w, prev.String())
		p.w.Flush()
	}
	p.state = state
}

func (p *Progress) render() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == nil {
		return
	}

	if spinner, ok := p.state.(*Spinner); ok {
		spinner.tick()
	}

	// clear the line and rewrite it in place
	fmt.Fprint(p.w, "\033[2K\033[1G")
	fmt.Fprint(p.w, p.state.String())
	p.w.Flush()
}

func (p *Progress) Stop() {
	p.mu.Lock()
	if p.ticker != nil {
		p.ticker.Stop()
		p.ticker = nil
		close(p.done)
	}
	state := p.state
	p.state = nil
	p.mu.Unlock()

	if state != nil {
		if spinner, ok := state.(*Spinner); ok {
			spinner.Stop()
		}
		if p.isTTY {
			fmt.Fprint(p.w, "\033[2K\033[1G")
		}
		fmt.Fprintln(p.w, state.String())
	}
	p.w.Flush()
}

func (p *Progress) start() {
	ticker := p.ticker
	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.render()
		}
	}
}
