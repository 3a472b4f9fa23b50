// Package progress shows a terminal spinner while the CLI waits on the
// management server.
package progress

import (
	"fmt"
	"io"
	"sync"
	"time"
)

var frames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Spinner animates a label on one terminal line until stopped.
type Spinner struct {
	w       io.Writer
	label   string
	mu      sync.Mutex
	ticker  *time.Ticker
	done    chan struct{}
	stopped chan struct{}
	start   time.Time
}

// Start creates a spinner writing to w and starts it.
func Start(w io.Writer, label string) *Spinner {
	s := &Spinner{
		w:       w,
		label:   label,
		ticker:  time.NewTicker(100 * time.Millisecond),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		start:   time.Now(),
	}
	go s.animate()
	return s
}

func (s *Spinner) animate() {
	defer close(s.stopped)
	i := 0
	for {
		select {
		case <-s.ticker.C:
			s.mu.Lock()
			fmt.Fprintf(s.w, "\r%s %s", frames[i], s.label)
			s.mu.Unlock()
			i = (i + 1) % len(frames)
		case <-s.done:
			return
		}
	}
}

// Stop ends the animation and replaces the line with a summary. ok selects
// the check or cross mark.
func (s *Spinner) Stop(ok bool, summary string) {
	s.ticker.Stop()
	close(s.done)
	<-s.stopped

	mark := "✓"
	if !ok {
		mark = "✗"
	}
	s.mu.Lock()
	fmt.Fprintf(s.w, "\r%s %s in %.1fs\n", mark, summary, time.Since(s.start).Seconds())
	s.mu.Unlock()
}
